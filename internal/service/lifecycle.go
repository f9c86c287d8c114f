package service

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"dispatch-service/internal/model"
)

type Gate string

const (
	GateArrival    Gate = "arrival"
	GateCompletion Gate = "completion"
)

func ParseGate(raw string) (Gate, error) {
	switch Gate(strings.ToLower(strings.TrimSpace(raw))) {
	case GateArrival:
		return GateArrival, nil
	case GateCompletion:
		return GateCompletion, nil
	default:
		return "", ErrInvalidInput
	}
}

// Status is the status in which the gate holds the record.
func (g Gate) Status() model.EmergencyStatus {
	if g == GateCompletion {
		return model.EmergencyStatusArrivedAtHospital
	}
	return model.EmergencyStatusArrivedAtScene
}

// successor is the forward edge of the lifecycle; cancelled is handled separately.
var successor = map[model.EmergencyStatus]model.EmergencyStatus{
	model.EmergencyStatusPending:           model.EmergencyStatusAssigned,
	model.EmergencyStatusAssigned:          model.EmergencyStatusEnroute,
	model.EmergencyStatusEnroute:           model.EmergencyStatusArrivedAtScene,
	model.EmergencyStatusArrivedAtScene:    model.EmergencyStatusPatientLoaded,
	model.EmergencyStatusPatientLoaded:     model.EmergencyStatusEnrouteToHospital,
	model.EmergencyStatusEnrouteToHospital: model.EmergencyStatusArrivedAtHospital,
	model.EmergencyStatusArrivedAtHospital: model.EmergencyStatusCompleted,
}

// unitDriven are the statuses a unit may move a record into with AdvanceStatus.
var unitDriven = map[model.EmergencyStatus]bool{
	model.EmergencyStatusEnroute:           true,
	model.EmergencyStatusArrivedAtScene:    true,
	model.EmergencyStatusEnrouteToHospital: true,
	model.EmergencyStatusArrivedAtHospital: true,
}

func ParseStatus(raw string) (model.EmergencyStatus, error) {
	status := model.EmergencyStatus(strings.ToLower(strings.TrimSpace(raw)))
	if status == model.EmergencyStatusCancelled {
		return status, nil
	}
	if _, ok := successor[status]; ok || status == model.EmergencyStatusCompleted {
		return status, nil
	}
	return "", ErrInvalidInput
}

// NextStatus returns the single legal forward successor of status.
func NextStatus(status model.EmergencyStatus) (model.EmergencyStatus, bool) {
	next, ok := successor[status]
	return next, ok
}

func checkUnitTransition(from, to model.EmergencyStatus) error {
	next, ok := successor[from]
	if !ok || next != to || !unitDriven[to] {
		return ErrInvalidTransition
	}
	return nil
}

func gateFor(status model.EmergencyStatus) (Gate, bool) {
	switch status {
	case model.EmergencyStatusArrivedAtScene:
		return GateArrival, true
	case model.EmergencyStatusArrivedAtHospital:
		return GateCompletion, true
	default:
		return "", false
	}
}

func gateConfirmed(e *model.Emergency, g Gate) bool {
	if g == GateCompletion {
		return e.CompletionConfirmed
	}
	return e.ArrivalConfirmed
}

func setGateConfirmation(e *model.Emergency, g Gate, confirmed bool, by *model.ConfirmationSource, at *time.Time) {
	if g == GateCompletion {
		e.CompletionConfirmed = confirmed
		e.CompletionConfirmedBy = by
		e.CompletionConfirmedAt = at
		return
	}
	e.ArrivalConfirmed = confirmed
	e.ArrivalConfirmedBy = by
	e.ArrivalConfirmedAt = at
}

// awaitingGate reports whether the record is held at gate g right now.
func awaitingGate(e *model.Emergency, g Gate) bool {
	return e.Status == g.Status() && e.AwaitingConfirmation
}

// applyTransition moves e to status and keeps awaiting_confirmation consistent with it.
func applyTransition(e *model.Emergency, to model.EmergencyStatus, actor model.Principal, note string, now time.Time) {
	from := e.Status
	e.History = append(e.History, model.StatusChange{
		From:      &from,
		To:        to,
		ActorRole: actor.Role,
		ActorID:   actorID(actor),
		Note:      note,
		At:        now,
	})
	e.Status = to
	e.StampEntered(to, now)
	e.UpdatedAt = now
	if g, ok := gateFor(to); ok {
		e.AwaitingConfirmation = !gateConfirmed(e, g)
	} else {
		e.AwaitingConfirmation = false
	}
}

func actorID(p model.Principal) *uuid.UUID {
	var id uuid.UUID
	switch {
	case p.IsSystem():
		return nil
	case p.IsUnit():
		id = p.UnitRef()
	case p.IsFacility():
		id = p.FacilityRef()
	default:
		id = p.UserID
	}
	return &id
}

func appendNote(existing, note string) string {
	note = strings.TrimSpace(note)
	if note == "" {
		return existing
	}
	if existing == "" {
		return note
	}
	return existing + "\n" + note
}
