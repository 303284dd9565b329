// Package scheduler implements the Scheduler (C5): a periodic fan-out of
// reconciliations over the enabled-device set with bounded concurrency, plus
// the on-demand pass the poll endpoint drives synchronously.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/jonboulle/clockwork"

	"github.com/xxrust/device-version-manager/internal/reconcile"
	"github.com/xxrust/device-version-manager/internal/store"
)

// Scheduler owns the periodic reconcile loop. A zero PollInterval disables
// the periodic trigger entirely; on-demand passes still work via RunOnce.
type Scheduler struct {
	store       *store.Store
	reconciler  *reconcile.Reconciler
	log         *slog.Logger
	clock       clockwork.Clock
	pool        pond.ResultPool[reconcile.Result]
	concurrency int
	interval    time.Duration
}

type Option func(*Scheduler)

func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

func WithConcurrency(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// New builds a Scheduler. interval <= 0 means "periodic triggering disabled".
func New(st *store.Store, rec *reconcile.Reconciler, log *slog.Logger, interval time.Duration, opts ...Option) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	s := &Scheduler{
		store: st, reconciler: rec, log: log, clock: clockwork.NewRealClock(),
		concurrency: 10, interval: interval,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.pool = pond.NewResultPool[reconcile.Result](s.concurrency)
	return s
}

// Run drives the periodic loop until ctx is cancelled. It is a no-op if the
// Scheduler was built with interval <= 0.
func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.log.Info("scheduler periodic trigger disabled (poll_interval_s <= 0)")
		<-ctx.Done()
		return
	}

	s.log.Info("scheduler starting periodic loop", "interval", s.interval, "concurrency", s.concurrency)
	for {
		start := s.clock.Now()
		results := s.RunOnce(ctx, nil, 0)
		s.log.Info("reconcile pass complete", "devices", len(results))

		elapsed := s.clock.Now().Sub(start)
		sleep := s.interval - elapsed
		if sleep < 0 {
			sleep = 0
		}

		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(sleep):
		}
	}
}

// RunOnce executes exactly one fan-out pass over the enabled devices
// (optionally filtered to deviceID, when non-nil), bounded to s.concurrency
// in-flight reconciles regardless of fleet size. perProbeTimeout of 0 uses
// the Reconciler's own default.
func (s *Scheduler) RunOnce(ctx context.Context, deviceID *int64, perProbeTimeout time.Duration) []reconcile.Result {
	devices, err := s.listTargets(ctx, deviceID)
	if err != nil {
		s.log.Error("failed to list devices for reconcile pass", "error", err)
		return nil
	}
	if len(devices) == 0 {
		return nil
	}

	group := s.pool.NewGroupContext(ctx)

	for _, d := range devices {
		device := d
		group.SubmitErr(func() (reconcile.Result, error) {
			return s.reconciler.Reconcile(ctx, device, perProbeTimeout), nil
		})
	}

	results, err := group.Wait()
	if err != nil {
		s.log.Error("reconcile fan-out returned an error", "error", err)
	}
	return results
}

func (s *Scheduler) listTargets(ctx context.Context, deviceID *int64) ([]*store.Device, error) {
	if deviceID != nil {
		d, err := s.store.GetDevice(ctx, *deviceID)
		if err != nil {
			return nil, err
		}
		if !d.Enabled {
			return nil, nil
		}
		return []*store.Device{d}, nil
	}
	return s.store.ListDevices(ctx, nil, true)
}
