package repository

import (
	"context"

	"github.com/google/uuid"

	"dispatch-service/internal/model"
	"dispatch-service/internal/store"
)

const unitKeyPrefix = "unit:"

type UnitRepository struct {
	store store.Store
}

func NewUnitRepository(s store.Store) *UnitRepository {
	return &UnitRepository{store: s}
}

func (r *UnitRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.TransportUnit, error) {
	u, version, err := load[model.TransportUnit](ctx, r.store, unitKeyPrefix+id.String())
	if err != nil {
		return nil, err
	}
	u.Version = version
	return u, nil
}

// Save creates the unit when u.Version is zero, otherwise compare-and-swaps it.
func (r *UnitRepository) Save(ctx context.Context, u *model.TransportUnit) error {
	version, err := save(ctx, r.store, unitKeyPrefix+u.ID.String(), u, u.Version)
	if err != nil {
		return err
	}
	u.Version = version
	return nil
}

func (r *UnitRepository) List(ctx context.Context) ([]model.TransportUnit, error) {
	items, versions, err := scanAll[model.TransportUnit](ctx, r.store, unitKeyPrefix)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Version = versions[i]
	}
	return items, nil
}
