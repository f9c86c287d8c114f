package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dispatch-service/internal/model"
	"dispatch-service/internal/repository"
	"dispatch-service/internal/store"
)

var (
	defaultFacilityPoint = model.GeoPoint{Lat: 28.6139, Lng: 77.2090}
	sceneLocation        = model.GeoPoint{Lat: 28.55, Lng: 77.25}
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.StatusEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev model.StatusEvent) error {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) Events() []model.StatusEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.StatusEvent(nil), p.events...)
}

// hookStore runs a one-shot hook before the next record write, letting tests inject a
// competing writer between an operation's read and its compare-and-swap. The scan hook
// runs after the next record scan has been taken, so the caller works from a stale view.
type hookStore struct {
	store.Store
	mu       sync.Mutex
	hook     func()
	scanHook func()
	fail     error
}

func (h *hookStore) Put(ctx context.Context, key string, value []byte, expected int64) (int64, error) {
	h.mu.Lock()
	hook, fail := h.hook, h.fail
	if strings.HasPrefix(key, "emergency:") {
		h.hook = nil
	} else {
		hook = nil
	}
	h.mu.Unlock()
	if fail != nil {
		return 0, fail
	}
	if hook != nil {
		hook()
	}
	return h.Store.Put(ctx, key, value, expected)
}

func (h *hookStore) Scan(ctx context.Context, prefix string) ([]store.Entry, error) {
	entries, err := h.Store.Scan(ctx, prefix)
	h.mu.Lock()
	hook := h.scanHook
	if strings.HasPrefix(prefix, "emergency:") {
		h.scanHook = nil
	} else {
		hook = nil
	}
	h.mu.Unlock()
	if hook != nil {
		hook()
	}
	return entries, err
}

func (h *hookStore) afterNextRecordScan(fn func()) {
	h.mu.Lock()
	h.scanHook = fn
	h.mu.Unlock()
}

func (h *hookStore) beforeNextRecordWrite(fn func()) {
	h.mu.Lock()
	h.hook = fn
	h.mu.Unlock()
}

func (h *hookStore) failWrites(err error) {
	h.mu.Lock()
	h.fail = err
	h.mu.Unlock()
}

type testEnv struct {
	t          *testing.T
	kv         *hookStore
	clock      *fakeClock
	publisher  *recordingPublisher
	svc        *EmergencyService
	units      *UnitService
	facilities *FacilityService
	reconciler *Reconciler
	unitRepo   *repository.UnitRepository
	index      *repository.ActiveIndex

	requester model.Principal
	unit      model.Principal
	facility  model.Principal
	admin     model.Principal
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	kv := &hookStore{Store: store.NewMemoryStore()}
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	publisher := &recordingPublisher{}
	log := zerolog.Nop()

	emergencyRepo := repository.NewEmergencyRepository(kv)
	unitRepo := repository.NewUnitRepository(kv)
	facilityRepo := repository.NewFacilityRepository(kv)
	index := repository.NewActiveIndex(kv)
	availability := NewAvailability(unitRepo, emergencyRepo, log)

	svc := NewEmergencyService(emergencyRepo, unitRepo, facilityRepo, index, availability, publisher,
		Options{ConfirmationTimeout: 30 * time.Minute, DefaultFacilityLocation: defaultFacilityPoint}, log)
	svc.SetClock(clock.Now)

	units := NewUnitService(unitRepo, log)
	units.now = clock.Now
	facilities := NewFacilityService(facilityRepo)
	facilities.now = clock.Now

	unitID, facilityID := uuid.New(), uuid.New()
	return &testEnv{
		t:          t,
		kv:         kv,
		clock:      clock,
		publisher:  publisher,
		svc:        svc,
		units:      units,
		facilities: facilities,
		reconciler: NewReconciler(emergencyRepo, unitRepo, index, availability, log),
		unitRepo:   unitRepo,
		index:      index,
		requester:  model.Principal{UserID: uuid.New(), Role: model.UserRolePatient},
		unit:       model.Principal{UserID: uuid.New(), Role: model.UserRoleAmbulance, UnitID: &unitID},
		facility:   model.Principal{UserID: uuid.New(), Role: model.UserRoleHospital, FacilityID: &facilityID},
		admin:      model.Principal{UserID: uuid.New(), Role: model.UserRoleAdmin},
	}
}

func (env *testEnv) ctx() context.Context {
	return context.Background()
}

// registerUnit makes the unit known to the availability table.
func (env *testEnv) registerUnit(p model.Principal) {
	env.t.Helper()
	if _, err := env.units.UpdateLocation(env.ctx(), p, model.GeoPoint{Lat: 28.6, Lng: 77.2}); err != nil {
		env.t.Fatalf("register unit: %v", err)
	}
}

func (env *testEnv) create() *model.Emergency {
	env.t.Helper()
	e, err := env.svc.Create(env.ctx(), env.requester, CreateEmergencyInput{
		Location:    sceneLocation,
		Description: "chest pain",
		Requester:   model.RequesterSnapshot{Name: "Asha", Phone: "+91-555-0100"},
	})
	if err != nil {
		env.t.Fatalf("create: %v", err)
	}
	return e
}

func (env *testEnv) assign(id string) *model.Emergency {
	env.t.Helper()
	unitID := env.unit.UnitRef()
	e, err := env.svc.Assign(env.ctx(), env.facility, id, AssignInput{UnitID: &unitID})
	if err != nil {
		env.t.Fatalf("assign: %v", err)
	}
	return e
}

func (env *testEnv) advance(id string, to model.EmergencyStatus) *model.Emergency {
	env.t.Helper()
	e, err := env.svc.AdvanceStatus(env.ctx(), env.unit, id, to, "")
	if err != nil {
		env.t.Fatalf("advance to %s: %v", to, err)
	}
	return e
}

// toScene drives a fresh record to the arrival gate.
func (env *testEnv) toScene() *model.Emergency {
	env.t.Helper()
	e := env.create()
	env.assign(e.ID)
	env.advance(e.ID, model.EmergencyStatusEnroute)
	return env.advance(e.ID, model.EmergencyStatusArrivedAtScene)
}

func (env *testEnv) get(id string) *model.Emergency {
	env.t.Helper()
	e, err := env.svc.Get(env.ctx(), env.admin, id)
	if err != nil {
		env.t.Fatalf("get: %v", err)
	}
	return e
}

func (env *testEnv) activeIDs() map[string]bool {
	env.t.Helper()
	records, err := env.svc.ListActive(env.ctx(), env.admin)
	if err != nil {
		env.t.Fatalf("list active: %v", err)
	}
	out := make(map[string]bool, len(records))
	for _, r := range records {
		out[r.ID] = true
	}
	return out
}

func (env *testEnv) unitState(p model.Principal) *model.TransportUnit {
	env.t.Helper()
	u, err := env.unitRepo.GetByID(env.ctx(), p.UnitRef())
	if err != nil {
		env.t.Fatalf("load unit: %v", err)
	}
	return u
}

// checkInvariants asserts the record-level invariants that must hold after every operation.
func checkInvariants(t *testing.T, e *model.Emergency) {
	t.Helper()
	gated := (e.Status == model.EmergencyStatusArrivedAtScene && !e.ArrivalConfirmed) ||
		(e.Status == model.EmergencyStatusArrivedAtHospital && !e.CompletionConfirmed)
	if e.AwaitingConfirmation != gated {
		t.Fatalf("awaiting_confirmation=%v but status=%s arrival=%v completion=%v",
			e.AwaitingConfirmation, e.Status, e.ArrivalConfirmed, e.CompletionConfirmed)
	}
	if e.AutoAdvanced && e.AutoAdvanceReason == "" {
		t.Fatalf("auto-advanced record without a reason")
	}
	if e.Status != model.EmergencyStatusPending && e.Status != model.EmergencyStatusCancelled && e.UnitID == nil {
		t.Fatalf("status %s without an assigned unit", e.Status)
	}
}

func zerologNop() zerolog.Logger {
	return zerolog.Nop()
}

func stringsContainsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}
