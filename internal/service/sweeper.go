package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"dispatch-service/internal/model"
)

// SweepTimeouts advances every active record whose gate has been open longer than the
// confirmation timeout. It returns how many records were advanced.
func (s *EmergencyService) SweepTimeouts(ctx context.Context) (int, error) {
	records, err := s.activeRecords(ctx)
	if err != nil {
		return 0, err
	}
	system := model.SystemPrincipal()
	advanced := 0
	for _, e := range records {
		if !e.AwaitingConfirmation {
			continue
		}
		_, err := s.TimeoutAdvance(ctx, system, e.ID)
		switch {
		case err == nil:
			advanced++
		case errors.Is(err, ErrTimeoutNotReached), errors.Is(err, ErrWrongState), errors.Is(err, ErrConflict):
		default:
			s.log.Warn().Err(err).Str("record_id", e.ID).Msg("timeout sweep failed")
		}
	}
	return advanced, nil
}

// Sweeper drives the timeout sweep and reconciliation on fixed intervals. A zero interval
// disables that loop.
type Sweeper struct {
	emergencies       *EmergencyService
	reconciler        *Reconciler
	sweepInterval     time.Duration
	reconcileInterval time.Duration
	log               zerolog.Logger
}

func NewSweeper(emergencies *EmergencyService, reconciler *Reconciler, sweepInterval, reconcileInterval time.Duration, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		emergencies:       emergencies,
		reconciler:        reconciler,
		sweepInterval:     sweepInterval,
		reconcileInterval: reconcileInterval,
		log:               log.With().Str("component", "sweeper").Logger(),
	}
}

func (s *Sweeper) Enabled() bool {
	return s.sweepInterval > 0 || s.reconcileInterval > 0
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	sweepC := tickerChan(s.sweepInterval)
	reconcileC := tickerChan(s.reconcileInterval)
	defer sweepC.stop()
	defer reconcileC.stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweepC.c:
			n, err := s.emergencies.SweepTimeouts(ctx)
			if err != nil {
				s.log.Error().Err(err).Msg("timeout sweep failed")
				continue
			}
			if n > 0 {
				s.log.Info().Int("advanced", n).Msg("timeout sweep advanced records")
			}
		case <-reconcileC.c:
			if _, err := s.reconciler.Run(ctx, model.SystemPrincipal()); err != nil {
				s.log.Error().Err(err).Msg("reconcile failed")
			}
		}
	}
}

type ticker struct {
	c    <-chan time.Time
	stop func()
}

// tickerChan returns a nil channel for a non-positive interval, which never fires.
func tickerChan(interval time.Duration) ticker {
	if interval <= 0 {
		return ticker{stop: func() {}}
	}
	t := time.NewTicker(interval)
	return ticker{c: t.C, stop: t.Stop}
}
