// Package dispatch fans community ban decisions out to every enabled
// integration and captures failed branches as replayable commands.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/palisade-gg/palisade/internal/metrics"
	"github.com/palisade-gg/palisade/internal/registry"
)

// DecisionStore persists the community's current verdict per player so
// reconciliation can flip it later.
type DecisionStore interface {
	SaveDecision(ctx context.Context, decision registry.Decision) error
}

type Dispatcher struct {
	registry  *registry.Registry
	bans      registry.BanStore
	decisions DecisionStore
	reporter  registry.Reporter
}

func New(reg *registry.Registry, bans registry.BanStore, decisions DecisionStore, reporter registry.Reporter) *Dispatcher {
	return &Dispatcher{
		registry:  reg,
		bans:      bans,
		decisions: decisions,
		reporter:  reporter,
	}
}

// HandleDecision applies one decision to every enabled integration of the
// community. Branches run concurrently and failures are isolated: one
// integration failing never prevents the others from being attempted. Each
// failed branch is reported as an event carrying a replayable command, and
// the failures come back wrapped in *BranchFailures so callers can tell a
// partial delivery apart from a dispatch that never ran.
func (d *Dispatcher) HandleDecision(ctx context.Context, decision registry.Decision) error {
	if err := d.decisions.SaveDecision(ctx, decision); err != nil {
		return fmt.Errorf("save decision: %w", err)
	}

	integs, err := d.registry.EnabledByCommunity(ctx, decision.CommunityID)
	if err != nil {
		return fmt.Errorf("resolve enabled integrations: %w", err)
	}
	if len(integs) == 0 {
		return nil
	}

	recs, err := d.bans.PlayerBansForCommunity(ctx, decision.PlayerID, decision.CommunityID)
	if err != nil {
		return fmt.Errorf("resolve current bans: %w", err)
	}
	banned := make(map[int64]bool, len(recs))
	for _, rec := range recs {
		banned[rec.IntegrationID] = true
	}

	var (
		g    errgroup.Group
		mu   gosync.Mutex
		errs []error
	)

	for _, integ := range integs {
		cfg := integ.Config()

		// Skip branches whose recorded state already matches the decision.
		if decision.Banned == banned[cfg.ID] {
			continue
		}

		op := registry.OpBan
		if !decision.Banned {
			op = registry.OpUnban
		}

		g.Go(func() error {
			if err := d.apply(ctx, integ, op, decision); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("integration %d: %w", cfg.ID, err))
				mu.Unlock()
			}
			return nil
		})
	}

	_ = g.Wait()
	if len(errs) > 0 {
		return &BranchFailures{Errs: errs}
	}
	return nil
}

// BranchFailures aggregates the captured branch errors of one dispatch. The
// failed branches were already reported with retry commands, so callers treat
// this as a partial success rather than a failed dispatch.
type BranchFailures struct {
	Errs []error
}

func (e *BranchFailures) Error() string { return errors.Join(e.Errs...).Error() }

func (e *BranchFailures) Unwrap() []error { return e.Errs }

// apply runs one branch. Precondition errors mean the desired state already
// holds and are swallowed; everything else is reported with a retry command.
func (d *Dispatcher) apply(ctx context.Context, integ registry.Integration, op registry.Op, decision registry.Decision) error {
	cfg := integ.Config()
	kind := string(cfg.Kind)
	start := time.Now()

	var err error
	switch op {
	case registry.OpBan:
		err = integ.BanPlayer(ctx, decision)
	case registry.OpUnban:
		err = integ.UnbanPlayer(ctx, decision.PlayerID)
	default:
		err = fmt.Errorf("unknown op %q", op)
	}

	metrics.DispatchDuration.WithLabelValues(kind, string(op)).Observe(time.Since(start).Seconds())

	if err == nil {
		metrics.DispatchTotal.WithLabelValues(kind, string(op), "success").Inc()
		return nil
	}
	if registry.IsPreconditionError(err) {
		metrics.DispatchTotal.WithLabelValues(kind, string(op), "noop").Inc()
		slog.Info("dispatch branch already satisfied",
			"integration_id", cfg.ID, "op", op, "player_id", decision.PlayerID, "reason", err)
		return nil
	}

	metrics.DispatchTotal.WithLabelValues(kind, string(op), "failure").Inc()
	slog.Error("dispatch branch failed",
		"integration_id", cfg.ID, "op", op, "player_id", decision.PlayerID, "err", err)

	cmd := registry.NewCommand(op, cfg.ID, decision)
	d.report(registry.Event{
		CommunityID:   decision.CommunityID,
		IntegrationID: cfg.ID,
		Kind:          cfg.Kind,
		PlayerID:      decision.PlayerID,
		Title:         fmt.Sprintf("Failed to %s player", op),
		Message:       err.Error(),
		Err:           err,
		Retry:         &cmd,
		At:            time.Now(),
	})
	return err
}

// Retry replays a captured command verbatim against its integration.
func (d *Dispatcher) Retry(ctx context.Context, cmd registry.Command) error {
	integ, ok := d.registry.Get(cmd.IntegrationID)
	if !ok {
		return fmt.Errorf("integration %d: %w", cmd.IntegrationID, registry.ErrNotFound)
	}

	cfg := integ.Config()
	kind := string(cfg.Kind)
	if !cfg.Enabled {
		return fmt.Errorf("integration %d: %w", cmd.IntegrationID, registry.ErrAlreadyDisabled)
	}

	err := d.apply(ctx, integ, cmd.Op, cmd.Decision())
	if err != nil {
		metrics.RetriesTotal.WithLabelValues(kind, string(cmd.Op), "failure").Inc()
		return err
	}
	metrics.RetriesTotal.WithLabelValues(kind, string(cmd.Op), "success").Inc()
	return nil
}

func (d *Dispatcher) report(e registry.Event) {
	if d.reporter != nil {
		d.reporter.Report(e)
	}
}
