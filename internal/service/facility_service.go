package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"dispatch-service/internal/model"
	"dispatch-service/internal/repository"
	"dispatch-service/internal/store"
)

type FacilityService struct {
	facilities *repository.FacilityRepository
	now        func() time.Time
}

func NewFacilityService(facilities *repository.FacilityRepository) *FacilityService {
	return &FacilityService{facilities: facilities, now: time.Now}
}

type FacilityProfileInput struct {
	Name    string
	Address string
	Phone   string
	Lat     *float64
	Lng     *float64
}

// Upsert writes the caller's own facility profile. Coordinates must be given together.
func (s *FacilityService) Upsert(ctx context.Context, principal model.Principal, input FacilityProfileInput) (*model.Facility, error) {
	if !principal.IsFacility() {
		return nil, ErrPermissionDenied
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, ErrInvalidInput
	}
	if (input.Lat == nil) != (input.Lng == nil) {
		return nil, ErrInvalidInput
	}
	if input.Lat != nil && !validPoint(model.GeoPoint{Lat: *input.Lat, Lng: *input.Lng}) {
		return nil, ErrInvalidInput
	}

	id := principal.FacilityRef()
	facility, err := s.facilities.GetByID(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		facility = &model.Facility{ID: id}
	case err != nil:
		return nil, translateStoreErr(err)
	}

	facility.Name = name
	facility.Address = strings.TrimSpace(input.Address)
	facility.Phone = strings.TrimSpace(input.Phone)
	facility.Lat = input.Lat
	facility.Lng = input.Lng
	facility.UpdatedAt = s.now().UTC()

	if err := s.facilities.Save(ctx, facility); err != nil {
		return nil, translateStoreErr(err)
	}
	return facility, nil
}
