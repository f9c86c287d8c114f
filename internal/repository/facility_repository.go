package repository

import (
	"context"

	"github.com/google/uuid"

	"dispatch-service/internal/model"
	"dispatch-service/internal/store"
)

const facilityKeyPrefix = "facility:"

type FacilityRepository struct {
	store store.Store
}

func NewFacilityRepository(s store.Store) *FacilityRepository {
	return &FacilityRepository{store: s}
}

func (r *FacilityRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Facility, error) {
	f, version, err := load[model.Facility](ctx, r.store, facilityKeyPrefix+id.String())
	if err != nil {
		return nil, err
	}
	f.Version = version
	return f, nil
}

func (r *FacilityRepository) Save(ctx context.Context, f *model.Facility) error {
	version, err := save(ctx, r.store, facilityKeyPrefix+f.ID.String(), f, f.Version)
	if err != nil {
		return err
	}
	f.Version = version
	return nil
}
