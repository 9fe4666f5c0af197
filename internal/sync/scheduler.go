// Package sync runs the per-integration reconciliation loops.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	gosync "sync"
	"time"

	"github.com/palisade-gg/palisade/internal/metrics"
	"github.com/palisade-gg/palisade/internal/registry"
)

const (
	DefaultMinInterval = 12 * time.Hour
	DefaultMaxInterval = 24 * time.Hour
)

// Disabler turns an integration off after its validation fails. Satisfied by
// *registry.Registry; wired after construction to break the dependency cycle
// between the registry and the scheduler.
type Disabler interface {
	Disable(ctx context.Context, id int64, removeBans bool) error
}

// Scheduler owns one reconcile goroutine per enabled integration. It
// implements registry.LoopRunner.
type Scheduler struct {
	minInterval time.Duration
	maxInterval time.Duration
	communities registry.CommunityStore
	reporter    registry.Reporter

	mu       gosync.Mutex
	disabler Disabler
	loops    map[int64]*loop
}

type loop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(communities registry.CommunityStore, reporter registry.Reporter) *Scheduler {
	return &Scheduler{
		minInterval: DefaultMinInterval,
		maxInterval: DefaultMaxInterval,
		communities: communities,
		reporter:    reporter,
		loops:       make(map[int64]*loop),
	}
}

// SetIntervals overrides the jitter window. Reconcile sleeps a uniformly
// random duration in [min, max) between passes so a fleet of integrations
// never thunders against the same remote API.
func (s *Scheduler) SetIntervals(minInterval, maxInterval time.Duration) {
	if minInterval > 0 && maxInterval > minInterval {
		s.minInterval = minInterval
		s.maxInterval = maxInterval
	}
}

// SetDisabler wires the registry back in. Must be called before Start.
func (s *Scheduler) SetDisabler(d Disabler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disabler = d
}

// Start launches the integration's reconcile loop. Starting an id that
// already has a loop is a no-op.
func (s *Scheduler) Start(id int64, integ registry.Integration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.loops[id]; ok {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &loop{cancel: cancel, done: make(chan struct{})}
	s.loops[id] = l

	go s.run(ctx, id, integ, l.done)
	slog.Info("started reconcile loop", "integration_id", id, "kind", integ.Meta().Kind)
}

// Stop cancels the integration's loop and waits for the goroutine to exit.
// Stopping an id without a loop is a no-op.
func (s *Scheduler) Stop(ctx context.Context, id int64) error {
	s.mu.Lock()
	l, ok := s.loops[id]
	if ok {
		delete(s.loops, id)
	}
	s.mu.Unlock()

	if !ok {
		return nil
	}

	l.cancel()
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("await reconcile loop %d: %w", id, ctx.Err())
	}
}

// StopAll stops every loop; used at shutdown.
func (s *Scheduler) StopAll(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]int64, 0, len(s.loops))
	for id := range s.loops {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := s.Stop(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) run(ctx context.Context, id int64, integ registry.Integration, done chan struct{}) {
	defer close(done)

	for {
		if err := sleepWithContext(ctx, s.jitter()); err != nil {
			return
		}

		if disabled := s.reconcile(ctx, id, integ); disabled {
			return
		}
	}
}

// reconcile runs one validate-then-synchronize pass. It reports whether the
// integration was disabled, which ends the loop.
func (s *Scheduler) reconcile(ctx context.Context, id int64, integ registry.Integration) bool {
	cfg := integ.Config()
	kind := string(cfg.Kind)
	start := time.Now()

	community, err := s.communities.Community(ctx, cfg.CommunityID)
	if err != nil {
		slog.Error("reconcile could not resolve community", "integration_id", id, "err", err)
		metrics.SyncRunsTotal.WithLabelValues(kind, "failure").Inc()
		return false
	}

	if err := integ.Validate(ctx, community); err != nil {
		var validationErr *registry.ValidationError
		if errors.As(err, &validationErr) {
			s.disableAfterValidation(id, integ, validationErr)
			metrics.SyncRunsTotal.WithLabelValues(kind, "failure").Inc()
			return true
		}

		// Transient failure; try again next pass.
		slog.Warn("reconcile validation failed", "integration_id", id, "err", err)
		metrics.SyncRunsTotal.WithLabelValues(kind, "failure").Inc()
		return false
	}

	if err := integ.Synchronize(ctx); err != nil {
		slog.Error("reconcile synchronize failed", "integration_id", id, "err", err)
		metrics.SyncRunsTotal.WithLabelValues(kind, "failure").Inc()
		return false
	}

	metrics.SyncDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	metrics.SyncRunsTotal.WithLabelValues(kind, "success").Inc()
	metrics.SyncLastSuccessTimestamp.WithLabelValues(kind).Set(float64(time.Now().Unix()))
	slog.Info("reconcile pass complete", "integration_id", id, "kind", kind)
	return false
}

// disableAfterValidation notifies the community and turns the integration
// off. Disable is called from a fresh goroutine because it waits for this
// loop to exit.
func (s *Scheduler) disableAfterValidation(id int64, integ registry.Integration, validationErr *registry.ValidationError) {
	cfg := integ.Config()
	slog.Error("integration failed validation, disabling",
		"integration_id", id, "kind", cfg.Kind, "err", validationErr)
	metrics.IntegrationsDisabledTotal.WithLabelValues(string(cfg.Kind)).Inc()

	s.report(registry.Event{
		CommunityID:   cfg.CommunityID,
		IntegrationID: id,
		Kind:          cfg.Kind,
		Title:         "Integration disabled after failed validation",
		Message:       validationErr.Error(),
		Err:           validationErr,
		At:            time.Now(),
	})

	s.mu.Lock()
	disabler := s.disabler
	s.mu.Unlock()
	if disabler == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := disabler.Disable(ctx, id, false); err != nil {
			slog.Error("failed to disable integration after validation failure", "integration_id", id, "err", err)
		}
	}()
}

func (s *Scheduler) report(e registry.Event) {
	if s.reporter != nil {
		s.reporter.Report(e)
	}
}

func (s *Scheduler) jitter() time.Duration {
	return s.minInterval + rand.N(s.maxInterval-s.minInterval)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
