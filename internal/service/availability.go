package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dispatch-service/internal/model"
	"dispatch-service/internal/repository"
	"dispatch-service/internal/store"
)

const availabilityCASRounds = 5

// Availability keeps a unit's busy flag and current-assignment pointer in line with the
// record lifecycle. Both operations are idempotent and retried on version mismatch.
type Availability struct {
	units       *repository.UnitRepository
	emergencies *repository.EmergencyRepository
	log         zerolog.Logger
	now         func() time.Time
}

func NewAvailability(units *repository.UnitRepository, emergencies *repository.EmergencyRepository, log zerolog.Logger) *Availability {
	return &Availability{units: units, emergencies: emergencies, log: log, now: time.Now}
}

// Claim marks the unit busy with recordID. Returns store.ErrNotFound for unknown units and
// ErrUnitBusy when the unit is serving another live record that names it. A busy flag
// pointing at a finished or missing record is overwritten.
func (a *Availability) Claim(ctx context.Context, unitID uuid.UUID, recordID string) error {
	return a.update(ctx, unitID, func(u *model.TransportUnit) (bool, error) {
		if u.IsBusy() && u.AssignedTo(recordID) {
			return false, nil
		}
		if u.IsBusy() && u.CurrentAssignment != nil {
			serving, err := a.servingOther(ctx, u)
			if err != nil {
				return false, err
			}
			if serving {
				return false, ErrUnitBusy
			}
		}
		id := recordID
		u.Availability = model.UnitBusy
		u.CurrentAssignment = &id
		return true, nil
	})
}

// Release frees the unit if it is assigned to recordID or to nothing. A unit that has
// already moved on to another record is left alone.
func (a *Availability) Release(ctx context.Context, unitID uuid.UUID, recordID string) error {
	return a.update(ctx, unitID, func(u *model.TransportUnit) (bool, error) {
		if u.CurrentAssignment != nil && *u.CurrentAssignment != recordID {
			a.log.Debug().
				Str("unit_id", unitID.String()).
				Str("record_id", recordID).
				Str("current_assignment", *u.CurrentAssignment).
				Msg("unit reassigned, release skipped")
			return false, nil
		}
		if !u.IsBusy() && u.CurrentAssignment == nil {
			return false, nil
		}
		u.Availability = model.UnitAvailable
		u.CurrentAssignment = nil
		return true, nil
	})
}

// servingOther reports whether the unit's current assignment is a live record naming it.
// A record can only move towards terminal, so a negative answer stays valid for the
// duration of the unit's compare-and-swap.
func (a *Availability) servingOther(ctx context.Context, u *model.TransportUnit) (bool, error) {
	e, err := a.emergencies.GetByID(ctx, *u.CurrentAssignment)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !e.IsTerminal() && e.HasUnit(u.ID), nil
}

func (a *Availability) update(ctx context.Context, unitID uuid.UUID, fn func(*model.TransportUnit) (bool, error)) error {
	var err error
	for round := 0; round < availabilityCASRounds; round++ {
		var (
			unit    *model.TransportUnit
			changed bool
		)
		unit, err = a.units.GetByID(ctx, unitID)
		if err != nil {
			return err
		}
		changed, err = fn(unit)
		if err != nil || !changed {
			return err
		}
		unit.UpdatedAt = a.now().UTC()
		err = a.units.Save(ctx, unit)
		if !errors.Is(err, store.ErrVersionMismatch) {
			return err
		}
	}
	return err
}
