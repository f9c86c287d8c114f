package model

import (
	"time"

	"github.com/google/uuid"
)

// StatusEvent is the audit-trail entry emitted for every accepted record write.
type StatusEvent struct {
	ID           uuid.UUID        `json:"id"`
	EmergencyID  string           `json:"emergency_id"`
	OldStatus    *EmergencyStatus `json:"old_status"`
	NewStatus    EmergencyStatus  `json:"new_status"`
	UnitID       *uuid.UUID       `json:"unit_id,omitempty"`
	FacilityID   *uuid.UUID       `json:"facility_id,omitempty"`
	ChangedBy    *uuid.UUID       `json:"changed_by"`
	ChangedRole  UserRole         `json:"changed_role"`
	AutoAdvanced bool             `json:"auto_advanced"`
	Note         string           `json:"note"`
	CreatedAt    time.Time        `json:"created_at"`
}

// NewStatusEvent builds the event for the latest history entry of e.
func NewStatusEvent(e *Emergency) StatusEvent {
	ev := StatusEvent{
		ID:           uuid.New(),
		EmergencyID:  e.ID,
		NewStatus:    e.Status,
		UnitID:       e.UnitID,
		FacilityID:   e.FacilityID,
		AutoAdvanced: e.AutoAdvanced,
		CreatedAt:    e.UpdatedAt,
	}
	if n := len(e.History); n > 0 {
		last := e.History[n-1]
		ev.OldStatus = last.From
		ev.NewStatus = last.To
		ev.ChangedBy = last.ActorID
		ev.ChangedRole = last.ActorRole
		ev.Note = last.Note
		ev.CreatedAt = last.At
	}
	return ev
}
