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

const unitLocationCASRounds = 5

type UnitService struct {
	units *repository.UnitRepository
	log   zerolog.Logger
	now   func() time.Time
}

func NewUnitService(units *repository.UnitRepository, log zerolog.Logger) *UnitService {
	return &UnitService{units: units, log: log, now: time.Now}
}

// UpdateLocation records the unit's position. The first call registers the unit as available.
func (s *UnitService) UpdateLocation(ctx context.Context, principal model.Principal, location model.GeoPoint) (*model.TransportUnit, error) {
	if !principal.IsUnit() {
		return nil, ErrPermissionDenied
	}
	if !validPoint(location) {
		return nil, ErrInvalidInput
	}
	unitID := principal.UnitRef()

	for round := 0; round < unitLocationCASRounds; round++ {
		now := s.now().UTC()
		unit, err := s.units.GetByID(ctx, unitID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			unit = &model.TransportUnit{ID: unitID, Availability: model.UnitAvailable}
			s.log.Info().Str("unit_id", unitID.String()).Msg("transport unit registered")
		case err != nil:
			return nil, translateStoreErr(err)
		}

		loc := location
		unit.Location = &loc
		unit.LocationUpdatedAt = &now
		unit.UpdatedAt = now

		err = s.units.Save(ctx, unit)
		if errors.Is(err, store.ErrVersionMismatch) {
			continue
		}
		if err != nil {
			return nil, translateStoreErr(err)
		}
		return unit, nil
	}
	return nil, ErrConflict
}

func (s *UnitService) GetUnit(ctx context.Context, principal model.Principal, unitID uuid.UUID) (*model.TransportUnit, error) {
	switch {
	case principal.IsUnit():
		if principal.UnitRef() != unitID {
			return nil, ErrPermissionDenied
		}
	case principal.IsFacility(), principal.Privileged():
	default:
		return nil, ErrPermissionDenied
	}
	unit, err := s.units.GetByID(ctx, unitID)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	return unit, nil
}
