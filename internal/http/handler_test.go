package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dispatch-service/internal/auth"
	"dispatch-service/internal/events"
	"dispatch-service/internal/http/middleware"
	"dispatch-service/internal/model"
	"dispatch-service/internal/repository"
	"dispatch-service/internal/service"
	"dispatch-service/internal/store"
)

const testSecret = "test-secret"

type testServer struct {
	t      *testing.T
	router *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zerolog.Nop()
	kv := store.NewMemoryStore()

	emergencyRepo := repository.NewEmergencyRepository(kv)
	unitRepo := repository.NewUnitRepository(kv)
	facilityRepo := repository.NewFacilityRepository(kv)
	index := repository.NewActiveIndex(kv)
	availability := service.NewAvailability(unitRepo, emergencyRepo, log)

	emergencies := service.NewEmergencyService(emergencyRepo, unitRepo, facilityRepo, index, availability,
		events.NopPublisher{}, service.Options{ConfirmationTimeout: 30 * time.Minute}, log)
	units := service.NewUnitService(unitRepo, log)
	facilities := service.NewFacilityService(facilityRepo)
	reconciler := service.NewReconciler(emergencyRepo, unitRepo, index, availability, log)

	handler := NewHandler(emergencies, units, facilities, reconciler, 5*time.Second, log)
	router := NewRouter(handler, middleware.Auth(auth.NewParser(testSecret)), kv, "test", log)
	return &testServer{t: t, router: router}
}

type actor struct {
	id    uuid.UUID
	role  model.UserRole
	token string
}

func newActor(t *testing.T, role model.UserRole) actor {
	t.Helper()
	id := uuid.New()
	claims := auth.Claims{
		UserID: id,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return actor{id: id, role: role, token: token}
}

type apiResponse struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
	Code  string          `json:"code"`
}

func (s *testServer) do(a *actor, method, path string, body interface{}) (int, apiResponse) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			s.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if a != nil {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var resp apiResponse
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			s.t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec.Code, resp
}

func decodeRecord(t *testing.T, resp apiResponse) model.Emergency {
	t.Helper()
	var e model.Emergency
	if err := json.Unmarshal(resp.Data, &e); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	return e
}

func TestEmergencyLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	patient := newActor(t, model.UserRolePatient)
	ambulance := newActor(t, model.UserRoleAmbulance)
	hospital := newActor(t, model.UserRoleHospital)

	code, resp := srv.do(&patient, http.MethodPost, "/api/v1/emergencies", gin.H{
		"location":    gin.H{"lat": 28.55, "lng": 77.25},
		"description": "fall injury",
		"requester":   gin.H{"name": "Ravi"},
	})
	if code != http.StatusCreated {
		t.Fatalf("create: %d %s", code, resp.Error)
	}
	record := decodeRecord(t, resp)
	base := "/api/v1/emergencies/" + record.ID

	code, resp = srv.do(&ambulance, http.MethodGet, "/api/v1/emergencies/active", nil)
	if code != http.StatusOK {
		t.Fatalf("list active: %d", code)
	}
	var list struct {
		Items          []model.Emergency `json:"items"`
		PollIntervalMS int64             `json:"poll_interval_ms"`
	}
	if err := json.Unmarshal(resp.Data, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Items) != 1 || list.PollIntervalMS != 5000 {
		t.Fatalf("unexpected list payload: %d items, poll %d", len(list.Items), list.PollIntervalMS)
	}

	code, resp = srv.do(&hospital, http.MethodPost, base+"/assign", gin.H{"unit_id": ambulance.id.String(), "eta_minutes": 9})
	if code != http.StatusOK {
		t.Fatalf("assign: %d %s", code, resp.Error)
	}

	for _, status := range []string{"enroute", "arrived_at_scene"} {
		code, resp = srv.do(&ambulance, http.MethodPost, base+"/status", gin.H{"status": status})
		if code != http.StatusOK {
			t.Fatalf("advance to %s: %d %s", status, code, resp.Error)
		}
	}
	if !decodeRecord(t, resp).AwaitingConfirmation {
		t.Fatalf("expected the arrival gate to be open")
	}

	code, resp = srv.do(&ambulance, http.MethodPost, base+"/timeout-advance", nil)
	if code != http.StatusTooEarly || resp.Code != "timeout_not_reached" {
		t.Fatalf("early timeout: expected 425, got %d %s", code, resp.Code)
	}

	code, resp = srv.do(&patient, http.MethodPost, base+"/confirm", gin.H{"gate": "arrival"})
	if code != http.StatusOK {
		t.Fatalf("confirm: %d %s", code, resp.Error)
	}
	if got := decodeRecord(t, resp); got.Status != model.EmergencyStatusPatientLoaded {
		t.Fatalf("expected patient_loaded, got %s", got.Status)
	}

	code, resp = srv.do(&hospital, http.MethodPost, base+"/proxy-confirm", gin.H{"gate": "arrival"})
	if code != http.StatusConflict || resp.Code != "wrong_state" {
		t.Fatalf("late proxy confirm: expected 409 wrong_state, got %d %s", code, resp.Code)
	}

	for _, status := range []string{"enroute_to_hospital", "arrived_at_hospital"} {
		if code, resp = srv.do(&ambulance, http.MethodPost, base+"/status", gin.H{"status": status}); code != http.StatusOK {
			t.Fatalf("advance to %s: %d %s", status, code, resp.Error)
		}
	}

	code, resp = srv.do(&hospital, http.MethodPost, base+"/proxy-confirm", gin.H{"gate": "completion"})
	if code != http.StatusOK {
		t.Fatalf("proxy confirm completion: %d %s", code, resp.Error)
	}
	if got := decodeRecord(t, resp); got.Status != model.EmergencyStatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}

	code, resp = srv.do(&patient, http.MethodGet, "/api/v1/emergencies/mine", nil)
	if code != http.StatusOK {
		t.Fatalf("list mine: %d", code)
	}
	if err := json.Unmarshal(resp.Data, &list); err != nil {
		t.Fatalf("decode mine: %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].Status != model.EmergencyStatusCompleted {
		t.Fatalf("unexpected own list %+v", list.Items)
	}
}

func TestErrorMapping(t *testing.T) {
	srv := newTestServer(t)
	patient := newActor(t, model.UserRolePatient)
	other := newActor(t, model.UserRolePatient)
	ambulance := newActor(t, model.UserRoleAmbulance)
	hospital := newActor(t, model.UserRoleHospital)

	_, resp := srv.do(&patient, http.MethodPost, "/api/v1/emergencies", gin.H{"location": gin.H{"lat": 1.0, "lng": 2.0}})
	record := decodeRecord(t, resp)
	base := "/api/v1/emergencies/" + record.ID

	cases := []struct {
		name   string
		actor  *actor
		method string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{"no token", nil, http.MethodGet, base, nil, http.StatusUnauthorized, "unauthorized"},
		{"not found", &patient, http.MethodGet, "/api/v1/emergencies/missing", nil, http.StatusNotFound, "not_found"},
		{"stranger", &other, http.MethodGet, base, nil, http.StatusForbidden, "forbidden"},
		{"bad body", &patient, http.MethodPost, "/api/v1/emergencies", gin.H{"description": "no location"}, http.StatusBadRequest, "invalid_input"},
		{"bad status", &ambulance, http.MethodPost, base + "/status", gin.H{"status": "flying"}, http.StatusBadRequest, "invalid_input"},
		{"bad gate", &patient, http.MethodPost, base + "/confirm", gin.H{"gate": "lunch"}, http.StatusBadRequest, "invalid_input"},
		{"not gated", &patient, http.MethodPost, base + "/confirm", gin.H{"gate": "arrival"}, http.StatusConflict, "wrong_state"},
		{"bad unit id", &hospital, http.MethodPost, base + "/assign", gin.H{"unit_id": "nope"}, http.StatusBadRequest, "invalid_input"},
		{"admin only", &hospital, http.MethodPost, "/api/v1/admin/reconcile", nil, http.StatusForbidden, "forbidden"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, resp := srv.do(tc.actor, tc.method, tc.path, tc.body)
			if code != tc.status || resp.Code != tc.code {
				t.Fatalf("expected %d %s, got %d %s (%s)", tc.status, tc.code, code, resp.Code, resp.Error)
			}
		})
	}

	if code, resp := srv.do(&hospital, http.MethodPost, base+"/assign", gin.H{"unit_id": ambulance.id.String()}); code != http.StatusOK {
		t.Fatalf("assign: %d %s", code, resp.Error)
	}
	code, resp := srv.do(&hospital, http.MethodPost, base+"/assign", gin.H{"unit_id": ambulance.id.String()})
	if code != http.StatusConflict || resp.Code != "already_assigned" {
		t.Fatalf("second assign: expected 409 already_assigned, got %d %s", code, resp.Code)
	}
	code, resp = srv.do(&ambulance, http.MethodPost, base+"/status", gin.H{"status": "arrived_at_scene"})
	if code != http.StatusConflict || resp.Code != "invalid_transition" {
		t.Fatalf("skip: expected 409 invalid_transition, got %d %s", code, resp.Code)
	}

	if code, _ := srv.do(&patient, http.MethodPost, base+"/cancel", nil); code != http.StatusOK {
		t.Fatalf("cancel without body: %d", code)
	}
}

func TestUnitsFacilitiesAndAdmin(t *testing.T) {
	srv := newTestServer(t)
	ambulance := newActor(t, model.UserRoleAmbulance)
	hospital := newActor(t, model.UserRoleHospital)
	admin := newActor(t, model.UserRoleAdmin)

	code, resp := srv.do(&ambulance, http.MethodPut, "/api/v1/units/me/location", gin.H{"lat": 28.6, "lng": 77.2})
	if code != http.StatusOK {
		t.Fatalf("update location: %d %s", code, resp.Error)
	}
	var unit model.TransportUnit
	if err := json.Unmarshal(resp.Data, &unit); err != nil {
		t.Fatalf("decode unit: %v", err)
	}
	if unit.ID != ambulance.id || unit.Availability != model.UnitAvailable {
		t.Fatalf("unexpected unit %+v", unit)
	}

	if code, _ := srv.do(&hospital, http.MethodGet, "/api/v1/units/"+ambulance.id.String(), nil); code != http.StatusOK {
		t.Fatalf("hospital get unit: %d", code)
	}
	if code, _ := srv.do(&hospital, http.MethodGet, "/api/v1/units/not-a-uuid", nil); code != http.StatusBadRequest {
		t.Fatalf("bad unit id: %d", code)
	}

	code, resp = srv.do(&hospital, http.MethodPut, "/api/v1/facilities/me", gin.H{"name": "City General", "lat": 28.5, "lng": 77.1})
	if code != http.StatusOK {
		t.Fatalf("upsert facility: %d %s", code, resp.Error)
	}

	code, resp = srv.do(&admin, http.MethodPost, "/api/v1/admin/reconcile", nil)
	if code != http.StatusOK {
		t.Fatalf("reconcile: %d %s", code, resp.Error)
	}
	var report service.ReconcileReport
	if err := json.Unmarshal(resp.Data, &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.UnitsUnchanged != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestProbes(t *testing.T) {
	srv := newTestServer(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		if code, _ := srv.do(nil, http.MethodGet, path, nil); code != http.StatusOK {
			t.Fatalf("%s: %d", path, code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte("dispatch_http_requests_total")) {
		t.Fatalf("metrics endpoint missing dispatch series: %d", rec.Code)
	}
}
