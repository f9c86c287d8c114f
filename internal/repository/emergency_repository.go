package repository

import (
	"context"

	"github.com/google/uuid"

	"dispatch-service/internal/model"
	"dispatch-service/internal/store"
)

const emergencyKeyPrefix = "emergency:"

type EmergencyRepository struct {
	store store.Store
}

func NewEmergencyRepository(s store.Store) *EmergencyRepository {
	return &EmergencyRepository{store: s}
}

type EmergencyFilter struct {
	RequesterID *uuid.UUID
}

func (r *EmergencyRepository) Create(ctx context.Context, e *model.Emergency) error {
	version, err := save(ctx, r.store, emergencyKey(e.ID), e, 0)
	if err != nil {
		return err
	}
	e.Version = version
	return nil
}

func (r *EmergencyRepository) GetByID(ctx context.Context, id string) (*model.Emergency, error) {
	e, version, err := load[model.Emergency](ctx, r.store, emergencyKey(id))
	if err != nil {
		return nil, err
	}
	e.Version = version
	return e, nil
}

// Update writes e only if nobody else wrote the record since it was read.
func (r *EmergencyRepository) Update(ctx context.Context, e *model.Emergency) error {
	version, err := save(ctx, r.store, emergencyKey(e.ID), e, e.Version)
	if err != nil {
		return err
	}
	e.Version = version
	return nil
}

// List scans every record, oldest first, keeping those matching filter.
func (r *EmergencyRepository) List(ctx context.Context, filter EmergencyFilter) ([]model.Emergency, error) {
	items, versions, err := scanAll[model.Emergency](ctx, r.store, emergencyKeyPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]model.Emergency, 0, len(items))
	for i, e := range items {
		if filter.RequesterID != nil && e.RequesterID != *filter.RequesterID {
			continue
		}
		e.Version = versions[i]
		out = append(out, e)
	}
	return out, nil
}

func emergencyKey(id string) string {
	return emergencyKeyPrefix + id
}
