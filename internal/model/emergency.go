package model

import (
	"time"

	"github.com/google/uuid"
)

type EmergencyStatus string

const (
	EmergencyStatusPending           EmergencyStatus = "pending"
	EmergencyStatusAssigned          EmergencyStatus = "assigned"
	EmergencyStatusEnroute           EmergencyStatus = "enroute"
	EmergencyStatusArrivedAtScene    EmergencyStatus = "arrived_at_scene"
	EmergencyStatusPatientLoaded     EmergencyStatus = "patient_loaded"
	EmergencyStatusEnrouteToHospital EmergencyStatus = "enroute_to_hospital"
	EmergencyStatusArrivedAtHospital EmergencyStatus = "arrived_at_hospital"
	EmergencyStatusCompleted         EmergencyStatus = "completed"
	EmergencyStatusCancelled         EmergencyStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s EmergencyStatus) Terminal() bool {
	return s == EmergencyStatusCompleted || s == EmergencyStatusCancelled
}

type ConfirmationSource string

const (
	ConfirmedByRequester ConfirmationSource = "requester"
	ConfirmedByFacility  ConfirmationSource = "facility"
	// ConfirmedByAdmin marks a proxy confirmation entered by an operator rather than
	// the receiving facility.
	ConfirmedByAdmin ConfirmationSource = "admin"
)

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type RequesterSnapshot struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

type FacilitySnapshot struct {
	Name    string  `json:"name"`
	Address string  `json:"address"`
	Phone   string  `json:"phone"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

type StatusChange struct {
	From      *EmergencyStatus `json:"from,omitempty"`
	To        EmergencyStatus  `json:"to"`
	ActorRole UserRole         `json:"actor_role"`
	ActorID   *uuid.UUID       `json:"actor_id,omitempty"`
	Note      string           `json:"note,omitempty"`
	At        time.Time        `json:"at"`
}

type Emergency struct {
	ID          string            `json:"id"`
	RequesterID uuid.UUID         `json:"requester_id"`
	Requester   RequesterSnapshot `json:"requester"`
	Location    GeoPoint          `json:"location"`
	Description string            `json:"description"`
	Status      EmergencyStatus   `json:"status"`

	UnitID     *uuid.UUID        `json:"unit_id"`
	FacilityID *uuid.UUID        `json:"facility_id"`
	Facility   *FacilitySnapshot `json:"facility,omitempty"`
	ETAMinutes *int              `json:"eta_minutes,omitempty"`

	CreatedAt           time.Time  `json:"created_at"`
	AssignedAt          *time.Time `json:"assigned_at,omitempty"`
	EnrouteAt           *time.Time `json:"enroute_at,omitempty"`
	ArrivedAtSceneAt    *time.Time `json:"arrived_at_scene_at,omitempty"`
	PatientLoadedAt     *time.Time `json:"patient_loaded_at,omitempty"`
	EnrouteToHospitalAt *time.Time `json:"enroute_to_hospital_at,omitempty"`
	ArrivedAtHospitalAt *time.Time `json:"arrived_at_hospital_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	CancelledAt         *time.Time `json:"cancelled_at,omitempty"`
	UpdatedAt           time.Time  `json:"updated_at"`

	ArrivalConfirmed      bool                `json:"arrival_confirmed"`
	ArrivalConfirmedBy    *ConfirmationSource `json:"arrival_confirmed_by,omitempty"`
	ArrivalConfirmedAt    *time.Time          `json:"arrival_confirmed_at,omitempty"`
	CompletionConfirmed   bool                `json:"completion_confirmed"`
	CompletionConfirmedBy *ConfirmationSource `json:"completion_confirmed_by,omitempty"`
	CompletionConfirmedAt *time.Time          `json:"completion_confirmed_at,omitempty"`

	AwaitingConfirmation bool   `json:"awaiting_confirmation"`
	AutoAdvanced         bool   `json:"auto_advanced"`
	AutoAdvanceReason    string `json:"auto_advance_reason,omitempty"`
	Notes                string `json:"notes,omitempty"`

	History []StatusChange `json:"history"`

	// Version is the store version the record was read at; it is not persisted in the value.
	Version int64 `json:"-"`
}

func (e *Emergency) IsTerminal() bool {
	return e.Status.Terminal()
}

func (e *Emergency) HasUnit(unitID uuid.UUID) bool {
	return e.UnitID != nil && *e.UnitID == unitID
}

func (e *Emergency) HasFacility(facilityID uuid.UUID) bool {
	return e.FacilityID != nil && *e.FacilityID == facilityID
}

// EnteredAt returns the timestamp stamped when the record entered status, if it did.
func (e *Emergency) EnteredAt(status EmergencyStatus) *time.Time {
	switch status {
	case EmergencyStatusPending:
		t := e.CreatedAt
		return &t
	case EmergencyStatusAssigned:
		return e.AssignedAt
	case EmergencyStatusEnroute:
		return e.EnrouteAt
	case EmergencyStatusArrivedAtScene:
		return e.ArrivedAtSceneAt
	case EmergencyStatusPatientLoaded:
		return e.PatientLoadedAt
	case EmergencyStatusEnrouteToHospital:
		return e.EnrouteToHospitalAt
	case EmergencyStatusArrivedAtHospital:
		return e.ArrivedAtHospitalAt
	case EmergencyStatusCompleted:
		return e.CompletedAt
	case EmergencyStatusCancelled:
		return e.CancelledAt
	default:
		return nil
	}
}

// StampEntered records at as the moment the record entered status.
func (e *Emergency) StampEntered(status EmergencyStatus, at time.Time) {
	switch status {
	case EmergencyStatusAssigned:
		e.AssignedAt = &at
	case EmergencyStatusEnroute:
		e.EnrouteAt = &at
	case EmergencyStatusArrivedAtScene:
		e.ArrivedAtSceneAt = &at
	case EmergencyStatusPatientLoaded:
		e.PatientLoadedAt = &at
	case EmergencyStatusEnrouteToHospital:
		e.EnrouteToHospitalAt = &at
	case EmergencyStatusArrivedAtHospital:
		e.ArrivedAtHospitalAt = &at
	case EmergencyStatusCompleted:
		e.CompletedAt = &at
	case EmergencyStatusCancelled:
		e.CancelledAt = &at
	}
}
