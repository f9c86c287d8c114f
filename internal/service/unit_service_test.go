package service

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"dispatch-service/internal/model"
)

func TestUpdateLocationRegistersUnit(t *testing.T) {
	env := newTestEnv(t)

	unit, err := env.units.UpdateLocation(env.ctx(), env.unit, model.GeoPoint{Lat: 28.6, Lng: 77.2})
	if err != nil {
		t.Fatalf("first update: %v", err)
	}
	if unit.ID != env.unit.UnitRef() || unit.Availability != model.UnitAvailable {
		t.Fatalf("unit not registered as available: %+v", unit)
	}

	e := env.create()
	env.assign(e.ID)

	env.clock.Advance(time.Minute)
	unit, err = env.units.UpdateLocation(env.ctx(), env.unit, model.GeoPoint{Lat: 28.61, Lng: 77.21})
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	if !unit.IsBusy() || !unit.AssignedTo(e.ID) {
		t.Fatalf("location update must not touch availability: %+v", unit)
	}
	if unit.Location.Lat != 28.61 || !unit.LocationUpdatedAt.Equal(env.clock.Now()) {
		t.Fatalf("location not updated: %+v", unit.Location)
	}
}

func TestUpdateLocationRules(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.units.UpdateLocation(env.ctx(), env.facility, model.GeoPoint{}); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("facility: expected ErrPermissionDenied, got %v", err)
	}
	if _, err := env.units.UpdateLocation(env.ctx(), env.unit, model.GeoPoint{Lat: 10, Lng: 200}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestGetUnitVisibility(t *testing.T) {
	env := newTestEnv(t)
	env.registerUnit(env.unit)
	id := env.unit.UnitRef()

	for _, p := range []model.Principal{env.unit, env.facility, env.admin} {
		if _, err := env.units.GetUnit(env.ctx(), p, id); err != nil {
			t.Fatalf("%s get unit: %v", p.Role, err)
		}
	}
	other := model.Principal{UserID: uuid.New(), Role: model.UserRoleAmbulance}
	if _, err := env.units.GetUnit(env.ctx(), other, id); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("other unit: expected ErrPermissionDenied, got %v", err)
	}
	if _, err := env.units.GetUnit(env.ctx(), env.requester, id); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("requester: expected ErrPermissionDenied, got %v", err)
	}
	if _, err := env.units.GetUnit(env.ctx(), env.admin, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertFacility(t *testing.T) {
	env := newTestEnv(t)
	lat := 28.5

	if _, err := env.facilities.Upsert(env.ctx(), env.unit, FacilityProfileInput{Name: "x"}); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("unit: expected ErrPermissionDenied, got %v", err)
	}
	if _, err := env.facilities.Upsert(env.ctx(), env.facility, FacilityProfileInput{Name: " "}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank name: expected ErrInvalidInput, got %v", err)
	}
	if _, err := env.facilities.Upsert(env.ctx(), env.facility, FacilityProfileInput{Name: "City", Lat: &lat}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("half coordinates: expected ErrInvalidInput, got %v", err)
	}

	f, err := env.facilities.Upsert(env.ctx(), env.facility, FacilityProfileInput{Name: "City General"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if f.ID != env.facility.FacilityRef() || f.HasCoordinates() {
		t.Fatalf("unexpected facility %+v", f)
	}

	lng := 77.1
	f, err = env.facilities.Upsert(env.ctx(), env.facility, FacilityProfileInput{Name: "City General", Lat: &lat, Lng: &lng})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !f.HasCoordinates() || f.Version != 2 {
		t.Fatalf("expected coordinates at version 2, got %+v", f)
	}
}
