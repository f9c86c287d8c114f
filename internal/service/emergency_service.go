package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dispatch-service/internal/events"
	"dispatch-service/internal/metrics"
	"dispatch-service/internal/model"
	"dispatch-service/internal/repository"
	"dispatch-service/internal/store"
)

const DefaultConfirmationTimeout = 30 * time.Minute

type Options struct {
	ConfirmationTimeout time.Duration
	// DefaultFacilityLocation fills the facility snapshot when the facility has no coordinates.
	DefaultFacilityLocation model.GeoPoint
}

type EmergencyService struct {
	emergencies  *repository.EmergencyRepository
	units        *repository.UnitRepository
	facilities   *repository.FacilityRepository
	index        *repository.ActiveIndex
	availability *Availability
	publisher    events.Publisher
	opts         Options
	log          zerolog.Logger
	now          func() time.Time
}

func NewEmergencyService(
	emergencies *repository.EmergencyRepository,
	units *repository.UnitRepository,
	facilities *repository.FacilityRepository,
	index *repository.ActiveIndex,
	availability *Availability,
	publisher events.Publisher,
	opts Options,
	log zerolog.Logger,
) *EmergencyService {
	if opts.ConfirmationTimeout <= 0 {
		opts.ConfirmationTimeout = DefaultConfirmationTimeout
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &EmergencyService{
		emergencies:  emergencies,
		units:        units,
		facilities:   facilities,
		index:        index,
		availability: availability,
		publisher:    publisher,
		opts:         opts,
		log:          log,
		now:          time.Now,
	}
}

// SetClock replaces the time source; used by tests and the sweeper.
func (s *EmergencyService) SetClock(now func() time.Time) {
	s.now = now
	s.availability.now = now
}

type CreateEmergencyInput struct {
	Location    model.GeoPoint
	Description string
	Requester   model.RequesterSnapshot
	Notes       string
}

func (s *EmergencyService) Create(ctx context.Context, principal model.Principal, input CreateEmergencyInput) (*model.Emergency, error) {
	if !principal.IsPatient() {
		return nil, ErrPermissionDenied
	}
	if !validPoint(input.Location) {
		return nil, ErrInvalidInput
	}

	now := s.now().UTC()
	e := &model.Emergency{
		ID:          newEmergencyID(now, principal.UserID),
		RequesterID: principal.UserID,
		Requester: model.RequesterSnapshot{
			Name:  strings.TrimSpace(input.Requester.Name),
			Phone: strings.TrimSpace(input.Requester.Phone),
			Email: strings.TrimSpace(input.Requester.Email),
		},
		Location:    input.Location,
		Description: strings.TrimSpace(input.Description),
		Status:      model.EmergencyStatusPending,
		Notes:       strings.TrimSpace(input.Notes),
		CreatedAt:   now,
		UpdatedAt:   now,
		History: []model.StatusChange{{
			To:        model.EmergencyStatusPending,
			ActorRole: principal.Role,
			ActorID:   actorID(principal),
			Note:      "emergency reported",
			At:        now,
		}},
	}

	if err := s.emergencies.Create(ctx, e); err != nil {
		return nil, translateStoreErr(err)
	}

	if err := s.index.Add(ctx, e.ID); err != nil {
		metrics.SideEffectFailures.WithLabelValues("active_index").Inc()
		s.log.Error().Err(err).Str("record_id", e.ID).Msg("active index add failed")
	}
	metrics.StatusTransitions.WithLabelValues(string(e.Status)).Inc()
	s.publish(ctx, e)

	return e, nil
}

func (s *EmergencyService) Get(ctx context.Context, principal model.Principal, id string) (*model.Emergency, error) {
	e, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(principal, e) {
		return nil, ErrPermissionDenied
	}
	return e, nil
}

// ListActive returns non-terminal records, oldest first. The index may lag behind the
// records, so stale or missing entries are skipped.
func (s *EmergencyService) ListActive(ctx context.Context, principal model.Principal) ([]model.Emergency, error) {
	if !(principal.IsUnit() || principal.IsFacility() || principal.Privileged()) {
		return nil, ErrPermissionDenied
	}
	return s.activeRecords(ctx)
}

func (s *EmergencyService) ListOwn(ctx context.Context, principal model.Principal) ([]model.Emergency, error) {
	if !principal.IsPatient() {
		return nil, ErrPermissionDenied
	}
	requester := principal.UserID
	records, err := s.emergencies.List(ctx, repository.EmergencyFilter{RequesterID: &requester})
	if err != nil {
		return nil, translateStoreErr(err)
	}
	return records, nil
}

type AssignInput struct {
	UnitID     *uuid.UUID
	FacilityID *uuid.UUID
	ETAMinutes *int
}

func (s *EmergencyService) Assign(ctx context.Context, principal model.Principal, id string, input AssignInput) (*model.Emergency, error) {
	unitID, facilityID, err := resolveAssignees(principal, input)
	if err != nil {
		return nil, err
	}
	if input.ETAMinutes != nil && *input.ETAMinutes < 0 {
		return nil, ErrInvalidInput
	}

	e, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.IsTerminal() {
		return nil, ErrInvalidTransition
	}
	if e.UnitID != nil || e.Status != model.EmergencyStatusPending {
		return nil, ErrAlreadyAssigned
	}
	if err := s.ensureUnitFree(ctx, unitID, e.ID); err != nil {
		return nil, err
	}

	prev := *e
	now := s.now().UTC()
	e.UnitID = &unitID
	e.FacilityID = &facilityID
	e.Facility = s.facilitySnapshot(ctx, facilityID)
	e.ETAMinutes = input.ETAMinutes
	applyTransition(e, model.EmergencyStatusAssigned, principal,
		fmt.Sprintf("unit %s assigned, destination facility %s", unitID, facilityID), now)

	if err := s.emergencies.Update(ctx, e); err != nil {
		if errors.Is(err, store.ErrVersionMismatch) {
			return nil, s.assignConflict(ctx, id)
		}
		return nil, translateStoreErr(err)
	}

	// The assignment stands even when the unit cannot be marked busy; reconciliation repairs it.
	// Losing the unit to another live record is the one exception.
	if err := s.availability.Claim(ctx, unitID, e.ID); err != nil {
		if errors.Is(err, ErrUnitBusy) {
			return nil, s.undoAssign(ctx, &prev, e)
		}
		metrics.SideEffectFailures.WithLabelValues("unit_availability").Inc()
		s.log.Warn().Err(err).
			Str("record_id", e.ID).
			Str("unit_id", unitID.String()).
			Msg("unit not marked busy, assignment kept")
	}

	metrics.StatusTransitions.WithLabelValues(string(e.Status)).Inc()
	s.publish(ctx, e)
	return e, nil
}

func (s *EmergencyService) AdvanceStatus(ctx context.Context, principal model.Principal, id string, target model.EmergencyStatus, note string) (*model.Emergency, error) {
	if !(principal.IsUnit() || principal.Privileged()) {
		return nil, ErrPermissionDenied
	}
	e, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if principal.IsUnit() && !e.HasUnit(principal.UnitRef()) {
		return nil, ErrPermissionDenied
	}
	if err := checkUnitTransition(e.Status, target); err != nil {
		return nil, err
	}

	applyTransition(e, target, principal, note, s.now().UTC())
	e.Notes = appendNote(e.Notes, note)

	if err := s.emergencies.Update(ctx, e); err != nil {
		return nil, translateStoreErr(err)
	}
	s.afterTransition(ctx, e)
	return e, nil
}

func (s *EmergencyService) Cancel(ctx context.Context, principal model.Principal, id string, reason string) (*model.Emergency, error) {
	if !(principal.IsPatient() || principal.Privileged()) {
		return nil, ErrPermissionDenied
	}
	e, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if principal.IsPatient() && e.RequesterID != principal.UserID {
		return nil, ErrPermissionDenied
	}
	if e.IsTerminal() {
		return nil, ErrInvalidTransition
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "cancelled by " + strings.ToLower(string(principal.Role))
	}
	applyTransition(e, model.EmergencyStatusCancelled, principal, reason, s.now().UTC())
	e.Notes = appendNote(e.Notes, reason)

	if err := s.emergencies.Update(ctx, e); err != nil {
		return nil, translateStoreErr(err)
	}
	s.afterTransition(ctx, e)
	return e, nil
}

// ConfirmDirect resolves gate on behalf of the requester who owns the record.
func (s *EmergencyService) ConfirmDirect(ctx context.Context, principal model.Principal, id string, gate Gate) (*model.Emergency, error) {
	e, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !principal.IsPatient() || e.RequesterID != principal.UserID {
		return nil, ErrPermissionDenied
	}
	return s.confirm(ctx, principal, e, gate, model.ConfirmedByRequester)
}

// ConfirmProxy lets the receiving facility confirm on the requester's behalf.
func (s *EmergencyService) ConfirmProxy(ctx context.Context, principal model.Principal, id string, gate Gate) (*model.Emergency, error) {
	if !(principal.IsFacility() || principal.IsAdmin()) {
		return nil, ErrPermissionDenied
	}
	e, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	source := model.ConfirmedByFacility
	if principal.IsAdmin() {
		source = model.ConfirmedByAdmin
	} else if !e.HasFacility(principal.FacilityRef()) {
		return nil, ErrPermissionDenied
	}
	return s.confirm(ctx, principal, e, gate, source)
}

// TimeoutAdvance pushes a record past its current gate once the confirmation timeout has
// elapsed. The gate is recorded as unconfirmed and the record is flagged auto-advanced.
func (s *EmergencyService) TimeoutAdvance(ctx context.Context, principal model.Principal, id string) (*model.Emergency, error) {
	if !(principal.IsUnit() || principal.IsFacility() || principal.Privileged()) {
		return nil, ErrPermissionDenied
	}
	e, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if principal.IsUnit() && !e.HasUnit(principal.UnitRef()) {
		return nil, ErrPermissionDenied
	}
	if principal.IsFacility() && !e.HasFacility(principal.FacilityRef()) {
		return nil, ErrPermissionDenied
	}

	gate, ok := gateFor(e.Status)
	if !ok || !awaitingGate(e, gate) {
		return nil, ErrWrongState
	}
	now := s.now().UTC()
	if entered := e.EnteredAt(e.Status); entered != nil && now.Sub(*entered) < s.opts.ConfirmationTimeout {
		return nil, ErrTimeoutNotReached
	}

	reason := fmt.Sprintf("%s not confirmed within %s, advanced by %s",
		gate, s.opts.ConfirmationTimeout, strings.ToLower(string(principal.Role)))
	setGateConfirmation(e, gate, false, nil, nil)
	e.AutoAdvanced = true
	if e.AutoAdvanceReason == "" {
		e.AutoAdvanceReason = reason
	} else {
		e.AutoAdvanceReason += "; " + reason
	}
	next, _ := NextStatus(e.Status)
	applyTransition(e, next, principal, reason, now)

	if err := s.emergencies.Update(ctx, e); err != nil {
		if errors.Is(err, store.ErrVersionMismatch) {
			return nil, s.gateConflict(ctx, id, gate)
		}
		return nil, translateStoreErr(err)
	}
	metrics.GateResolutions.WithLabelValues(string(gate), "timeout").Inc()
	s.afterTransition(ctx, e)
	return e, nil
}

func (s *EmergencyService) confirm(ctx context.Context, principal model.Principal, e *model.Emergency, gate Gate, source model.ConfirmationSource) (*model.Emergency, error) {
	if !awaitingGate(e, gate) {
		return nil, ErrWrongState
	}
	now := s.now().UTC()
	by := source
	setGateConfirmation(e, gate, true, &by, &now)
	next, _ := NextStatus(e.Status)
	applyTransition(e, next, principal, fmt.Sprintf("%s confirmed by %s", gate, source), now)

	if err := s.emergencies.Update(ctx, e); err != nil {
		if errors.Is(err, store.ErrVersionMismatch) {
			return nil, s.gateConflict(ctx, e.ID, gate)
		}
		return nil, translateStoreErr(err)
	}
	metrics.GateResolutions.WithLabelValues(string(gate), string(source)).Inc()
	s.afterTransition(ctx, e)
	return e, nil
}

// afterTransition runs once the record write has landed: it retires terminal records from
// the side tables. Failures here are logged, never returned; the record is authoritative.
func (s *EmergencyService) afterTransition(ctx context.Context, e *model.Emergency) {
	metrics.StatusTransitions.WithLabelValues(string(e.Status)).Inc()
	if e.IsTerminal() {
		s.retire(ctx, e)
	}
	s.publish(ctx, e)
}

func (s *EmergencyService) retire(ctx context.Context, e *model.Emergency) {
	if err := s.index.Remove(ctx, e.ID); err != nil {
		metrics.SideEffectFailures.WithLabelValues("active_index").Inc()
		s.log.Error().Err(err).Str("record_id", e.ID).Msg("active index remove failed")
	}
	if e.UnitID == nil {
		return
	}
	if err := s.availability.Release(ctx, *e.UnitID, e.ID); err != nil {
		metrics.SideEffectFailures.WithLabelValues("unit_availability").Inc()
		s.log.Warn().Err(err).
			Str("record_id", e.ID).
			Str("unit_id", e.UnitID.String()).
			Msg("unit release failed")
	}
}

func (s *EmergencyService) publish(ctx context.Context, e *model.Emergency) {
	if err := s.publisher.Publish(ctx, model.NewStatusEvent(e)); err != nil {
		metrics.EventsPublished.WithLabelValues("error").Inc()
		s.log.Warn().Err(err).Str("record_id", e.ID).Msg("audit event not published")
		return
	}
	metrics.EventsPublished.WithLabelValues("ok").Inc()
}

func (s *EmergencyService) activeRecords(ctx context.Context) ([]model.Emergency, error) {
	ids, err := s.index.IDs(ctx)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	out := make([]model.Emergency, 0, len(ids))
	for _, id := range ids {
		e, err := s.emergencies.GetByID(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			s.log.Warn().Str("record_id", id).Msg("active index points at missing record")
			continue
		}
		if err != nil {
			return nil, translateStoreErr(err)
		}
		if e.IsTerminal() {
			continue
		}
		out = append(out, *e)
	}
	return out, nil
}

func (s *EmergencyService) load(ctx context.Context, id string) (*model.Emergency, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrInvalidInput
	}
	e, err := s.emergencies.GetByID(ctx, id)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	return e, nil
}

// ensureUnitFree rejects units already serving another live record. Lookup failures do
// not block the assignment.
func (s *EmergencyService) ensureUnitFree(ctx context.Context, unitID uuid.UUID, recordID string) error {
	unit, err := s.units.GetByID(ctx, unitID)
	if err != nil {
		s.log.Warn().Err(err).Str("unit_id", unitID.String()).Msg("unit lookup failed, assigning in degraded mode")
		return nil
	}
	if !unit.IsBusy() || unit.CurrentAssignment == nil || *unit.CurrentAssignment == recordID {
		return nil
	}
	other, err := s.emergencies.GetByID(ctx, *unit.CurrentAssignment)
	if err != nil {
		return nil
	}
	if !other.IsTerminal() && other.HasUnit(unitID) {
		return ErrUnitBusy
	}
	return nil
}

func (s *EmergencyService) facilitySnapshot(ctx context.Context, facilityID uuid.UUID) *model.FacilitySnapshot {
	snapshot := &model.FacilitySnapshot{
		Lat: s.opts.DefaultFacilityLocation.Lat,
		Lng: s.opts.DefaultFacilityLocation.Lng,
	}
	facility, err := s.facilities.GetByID(ctx, facilityID)
	if err != nil {
		s.log.Warn().Err(err).Str("facility_id", facilityID.String()).Msg("facility profile unavailable, using default location")
		return snapshot
	}
	snapshot.Name = facility.Name
	snapshot.Address = facility.Address
	snapshot.Phone = facility.Phone
	if facility.HasCoordinates() {
		snapshot.Lat = *facility.Lat
		snapshot.Lng = *facility.Lng
	} else {
		s.log.Info().Str("facility_id", facilityID.String()).Msg("facility has no coordinates, using default location")
	}
	return snapshot
}

// undoAssign puts a record back to its pre-assignment state after its unit was claimed by
// another record between the busy check and the claim.
func (s *EmergencyService) undoAssign(ctx context.Context, prev, assigned *model.Emergency) error {
	prev.Version = assigned.Version
	if err := s.emergencies.Update(ctx, prev); err != nil {
		metrics.SideEffectFailures.WithLabelValues("assign_rollback").Inc()
		s.log.Error().Err(err).
			Str("record_id", assigned.ID).
			Str("unit_id", assigned.UnitID.String()).
			Msg("unit taken by another record, assignment rollback failed")
		return translateStoreErr(err)
	}
	s.log.Warn().
		Str("record_id", assigned.ID).
		Str("unit_id", assigned.UnitID.String()).
		Msg("unit taken by another record, assignment rolled back")
	return ErrUnitBusy
}

func (s *EmergencyService) assignConflict(ctx context.Context, id string) error {
	current, err := s.emergencies.GetByID(ctx, id)
	if err != nil {
		return ErrConflict
	}
	if current.UnitID != nil || current.Status != model.EmergencyStatusPending {
		return ErrAlreadyAssigned
	}
	return ErrConflict
}

func (s *EmergencyService) gateConflict(ctx context.Context, id string, gate Gate) error {
	current, err := s.emergencies.GetByID(ctx, id)
	if err != nil {
		return ErrConflict
	}
	if !awaitingGate(current, gate) {
		return ErrWrongState
	}
	return ErrConflict
}

func resolveAssignees(principal model.Principal, input AssignInput) (uuid.UUID, uuid.UUID, error) {
	unitID, facilityID := input.UnitID, input.FacilityID
	switch {
	case principal.IsFacility():
		own := principal.FacilityRef()
		if facilityID != nil && *facilityID != own {
			return uuid.Nil, uuid.Nil, ErrPermissionDenied
		}
		facilityID = &own
	case principal.IsUnit():
		own := principal.UnitRef()
		if unitID != nil && *unitID != own {
			return uuid.Nil, uuid.Nil, ErrPermissionDenied
		}
		unitID = &own
	case principal.Privileged():
	default:
		return uuid.Nil, uuid.Nil, ErrPermissionDenied
	}
	if unitID == nil || facilityID == nil || *unitID == uuid.Nil || *facilityID == uuid.Nil {
		return uuid.Nil, uuid.Nil, ErrInvalidInput
	}
	return *unitID, *facilityID, nil
}

func canView(principal model.Principal, e *model.Emergency) bool {
	switch {
	case principal.Privileged():
		return true
	case principal.IsPatient():
		return e.RequesterID == principal.UserID
	case principal.IsUnit():
		return e.Status == model.EmergencyStatusPending || e.HasUnit(principal.UnitRef())
	case principal.IsFacility():
		return e.Status == model.EmergencyStatusPending || e.HasFacility(principal.FacilityRef())
	default:
		return false
	}
}

func validPoint(p model.GeoPoint) bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// newEmergencyID embeds creation time and requester so ids sort by creation.
func newEmergencyID(now time.Time, requester uuid.UUID) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%013d-%s-%s", now.UnixMilli(), requester, suffix)
}

func translateStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrVersionMismatch):
		return ErrConflict
	case errors.Is(err, store.ErrUnavailable):
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	default:
		return err
	}
}
