package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"dispatch-service/internal/metrics"
	"dispatch-service/internal/model"
	"dispatch-service/internal/repository"
	"dispatch-service/internal/store"
)

type ReconcileReport struct {
	Scanned        int `json:"scanned"`
	Active         int `json:"active"`
	IndexAdded     int `json:"index_added"`
	IndexRemoved   int `json:"index_removed"`
	UnitsReleased  int `json:"units_released"`
	UnitsClaimed   int `json:"units_claimed"`
	UnitsUnchanged int `json:"units_unchanged"`
}

// Reconciler repairs the side tables from the records, which are authoritative. It runs
// alongside normal traffic, so the record scan is only used to find candidates: every
// repair re-reads the record it acts on.
type Reconciler struct {
	emergencies  *repository.EmergencyRepository
	units        *repository.UnitRepository
	index        *repository.ActiveIndex
	availability *Availability
	log          zerolog.Logger
}

func NewReconciler(
	emergencies *repository.EmergencyRepository,
	units *repository.UnitRepository,
	index *repository.ActiveIndex,
	availability *Availability,
	log zerolog.Logger,
) *Reconciler {
	return &Reconciler{
		emergencies:  emergencies,
		units:        units,
		index:        index,
		availability: availability,
		log:          log,
	}
}

func (r *Reconciler) Run(ctx context.Context, principal model.Principal) (*ReconcileReport, error) {
	if !principal.Privileged() {
		return nil, ErrPermissionDenied
	}

	records, err := r.emergencies.List(ctx, repository.EmergencyFilter{})
	if err != nil {
		return nil, translateStoreErr(err)
	}

	report := &ReconcileReport{Scanned: len(records)}
	byID := make(map[string]*model.Emergency, len(records))
	activeIDs := make([]string, 0, len(records))
	for i := range records {
		e := &records[i]
		byID[e.ID] = e
		if !e.IsTerminal() {
			activeIDs = append(activeIDs, e.ID)
		}
	}
	report.Active = len(activeIDs)

	if err := r.reconcileIndex(ctx, activeIDs, report); err != nil {
		return nil, translateStoreErr(err)
	}

	units, err := r.units.List(ctx)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	for _, unit := range units {
		changed, err := r.reconcileUnit(ctx, unit, byID, activeIDs)
		if err != nil {
			r.log.Warn().Err(err).Str("unit_id", unit.ID.String()).Msg("unit reconcile failed")
			continue
		}
		switch changed {
		case "released":
			report.UnitsReleased++
		case "claimed":
			report.UnitsClaimed++
		default:
			report.UnitsUnchanged++
		}
	}

	r.log.Info().
		Int("scanned", report.Scanned).
		Int("active", report.Active).
		Int("index_added", report.IndexAdded).
		Int("index_removed", report.IndexRemoved).
		Int("units_released", report.UnitsReleased).
		Int("units_claimed", report.UnitsClaimed).
		Msg("reconcile finished")

	return report, nil
}

// reconcileIndex adds ids the scan saw as live and removes ids whose record, read again,
// is finished or gone. Ids written after the scan are never touched.
func (r *Reconciler) reconcileIndex(ctx context.Context, activeIDs []string, report *ReconcileReport) error {
	current, err := r.index.IDs(ctx)
	if err != nil {
		return err
	}
	indexed := make(map[string]struct{}, len(current))
	for _, id := range current {
		indexed[id] = struct{}{}
	}

	scanned := make(map[string]struct{}, len(activeIDs))
	for _, id := range activeIDs {
		scanned[id] = struct{}{}
		if _, ok := indexed[id]; ok {
			continue
		}
		if err := r.index.Add(ctx, id); err != nil {
			return err
		}
		// The record may have been retired, and its index entry removed, before the add landed.
		live, err := r.liveRecord(ctx, id)
		if err != nil {
			return err
		}
		if live == nil {
			if err := r.index.Remove(ctx, id); err != nil {
				return err
			}
			continue
		}
		report.IndexAdded++
		metrics.ReconcileRepairs.WithLabelValues("index_added").Inc()
	}

	for _, id := range current {
		if _, ok := scanned[id]; ok {
			continue
		}
		live, err := r.liveRecord(ctx, id)
		if err != nil {
			return err
		}
		if live != nil {
			continue
		}
		if err := r.index.Remove(ctx, id); err != nil {
			return err
		}
		report.IndexRemoved++
		metrics.ReconcileRepairs.WithLabelValues("index_removed").Inc()
	}
	return nil
}

// reconcileUnit frees a unit whose assignment no longer holds and then claims it for the
// oldest live record naming it, if any.
func (r *Reconciler) reconcileUnit(ctx context.Context, unit model.TransportUnit, byID map[string]*model.Emergency, activeIDs []string) (string, error) {
	released := false
	if unit.IsBusy() || unit.CurrentAssignment != nil {
		recordID := ""
		if unit.CurrentAssignment != nil {
			recordID = *unit.CurrentAssignment
			current, err := r.liveRecord(ctx, recordID)
			if err != nil {
				return "", err
			}
			if current != nil && current.HasUnit(unit.ID) {
				return "", nil
			}
		}
		// Release is a no-op if the unit was claimed by another record since it was listed.
		if err := r.availability.Release(ctx, unit.ID, recordID); err != nil {
			return "", err
		}
		released = true
	}

	for _, id := range activeIDs {
		if !byID[id].HasUnit(unit.ID) {
			continue
		}
		e, err := r.liveRecord(ctx, id)
		if err != nil {
			return "", err
		}
		if e == nil || !e.HasUnit(unit.ID) {
			continue
		}
		err = r.availability.Claim(ctx, unit.ID, id)
		switch {
		case errors.Is(err, ErrUnitBusy), errors.Is(err, store.ErrNotFound):
			return "", nil
		case err != nil:
			return "", err
		}
		// A record retired between the read and the claim would strand the unit.
		e, err = r.liveRecord(ctx, id)
		if err != nil {
			return "", err
		}
		if e == nil {
			if err := r.availability.Release(ctx, unit.ID, id); err != nil {
				return "", err
			}
			continue
		}
		metrics.ReconcileRepairs.WithLabelValues("unit_claimed").Inc()
		return "claimed", nil
	}

	if released {
		metrics.ReconcileRepairs.WithLabelValues("unit_released").Inc()
		return "released", nil
	}
	return "", nil
}

// liveRecord re-reads a record, returning nil when it is missing or terminal.
func (r *Reconciler) liveRecord(ctx context.Context, id string) (*model.Emergency, error) {
	e, err := r.emergencies.GetByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if e.IsTerminal() {
		return nil, nil
	}
	return e, nil
}
