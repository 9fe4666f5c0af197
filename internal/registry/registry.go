package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// DefaultMaxIntegrationsPerCommunity bounds how many integrations one
// community may attach.
const DefaultMaxIntegrationsPerCommunity = 3

// LoopRunner starts and stops per-integration reconciliation loops. Stop must
// cancel the loop and wait for it to exit before returning.
type LoopRunner interface {
	Start(id int64, integ Integration)
	Stop(ctx context.Context, id int64) error
}

// Registry is the single authoritative in-memory index of live Integration
// instances for the running process. It is an explicit object constructed at
// startup and passed by reference, never a package-level singleton.
type Registry struct {
	deps            Deps
	loops           LoopRunner
	maxPerCommunity int64

	mu        sync.Mutex
	defs      map[Kind]Definition
	instances map[int64]*instance
}

// instance wraps one live Integration. Its mutex serializes enable/disable so
// the persisted flag and the background loop can never diverge under
// concurrent transitions.
type instance struct {
	mu    sync.Mutex
	integ Integration
}

func New(deps Deps, loops LoopRunner) *Registry {
	return &Registry{
		deps:            deps,
		loops:           loops,
		maxPerCommunity: DefaultMaxIntegrationsPerCommunity,
		defs:            make(map[Kind]Definition),
		instances:       make(map[int64]*instance),
	}
}

// SetMaxIntegrationsPerCommunity overrides the per-community creation limit.
func (r *Registry) SetMaxIntegrationsPerCommunity(n int64) {
	if n > 0 {
		r.maxPerCommunity = n
	}
}

// RegisterKind adds a backend definition. Registering the same kind twice is
// a wiring bug.
func (r *Registry) RegisterKind(def Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kind := def.Kind()
	if _, ok := r.defs[kind]; ok {
		return fmt.Errorf("kind %q: %w", kind, ErrDuplicateID)
	}
	r.defs[kind] = def
	return nil
}

// Definition returns the registered definition for a kind.
func (r *Registry) Definition(kind Kind) (Definition, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	def, ok := r.defs[kind]
	return def, ok
}

// Load registers a persisted config as a live instance. If an instance with
// the same id already exists its config is replaced in place; a kind change
// on an existing id implies data corruption and fails hard.
func (r *Registry) Load(cfg Config) (Integration, error) {
	if cfg.ID == 0 {
		return nil, ErrNotSaved
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.loadLocked(cfg)
}

func (r *Registry) loadLocked(cfg Config) (Integration, error) {
	if inst, ok := r.instances[cfg.ID]; ok {
		registered := inst.integ.Meta().Kind
		if registered != cfg.Kind {
			return nil, &TypeMismatchError{ID: cfg.ID, Registered: registered, Requested: cfg.Kind}
		}
		if err := inst.integ.SetConfig(cfg); err != nil {
			return nil, err
		}
		return inst.integ, nil
	}

	def, ok := r.defs[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("kind %q: %w", cfg.Kind, ErrUnknownKind)
	}

	integ, err := def.New(cfg, r.deps)
	if err != nil {
		return nil, err
	}

	r.instances[cfg.ID] = &instance{integ: integ}
	return integ, nil
}

// Create persists a new config, assigns its identity and registers the live
// instance. The config must not have an id yet.
func (r *Registry) Create(ctx context.Context, cfg Config) (Integration, error) {
	if cfg.ID != 0 {
		return nil, ErrAlreadySaved
	}

	count, err := r.deps.Configs.CountIntegrationsByCommunity(ctx, cfg.CommunityID)
	if err != nil {
		return nil, err
	}
	if count >= r.maxPerCommunity {
		return nil, ErrTooManyIntegrations
	}

	if err := r.deps.Configs.CreateIntegration(ctx, &cfg); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.instances[cfg.ID]; ok {
		return nil, fmt.Errorf("integration %d: %w", cfg.ID, ErrDuplicateID)
	}
	return r.loadLocked(cfg)
}

// Get returns the live instance for an integration id.
func (r *Registry) Get(id int64) (Integration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instances[id]
	if !ok {
		return nil, false
	}
	return inst.integ, true
}

// EnabledByCommunity returns the community's enabled integrations, loading
// instances for any persisted configs not yet registered. Configs that fail
// to load are skipped and logged so one corrupt integration cannot block
// dispatch to its healthy siblings.
func (r *Registry) EnabledByCommunity(ctx context.Context, communityID int64) ([]Integration, error) {
	cfgs, err := r.deps.Configs.IntegrationsByCommunity(ctx, communityID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Integration, 0, len(cfgs))
	for _, cfg := range cfgs {
		if !cfg.Enabled {
			continue
		}
		integ, err := r.loadLocked(cfg)
		if err != nil {
			slog.Error("skipping unloadable integration",
				"integration_id", cfg.ID, "kind", cfg.Kind, "community_id", cfg.CommunityID, "err", err)
			continue
		}
		out = append(out, integ)
	}
	return out, nil
}

// LoadAll loads every persisted config and starts reconciliation loops for
// the enabled ones. Called once at process start.
func (r *Registry) LoadAll(ctx context.Context) error {
	cfgs, err := r.deps.Configs.Integrations(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, cfg := range cfgs {
		integ, err := r.Load(cfg)
		if err != nil {
			errs = append(errs, fmt.Errorf("load integration %d: %w", cfg.ID, err))
			continue
		}
		if cfg.Enabled {
			r.loops.Start(cfg.ID, integ)
		}
	}
	return errors.Join(errs...)
}

// Enable marks the integration enabled, persists the flag and starts its
// reconciliation loop. If persistence fails the in-memory flag is rolled back
// and no loop is started.
func (r *Registry) Enable(ctx context.Context, id int64) error {
	inst, ok := r.instance(id)
	if !ok {
		return fmt.Errorf("integration %d: %w", id, ErrNotFound)
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()

	cfg := inst.integ.Config()
	if cfg.ID == 0 {
		return ErrNotSaved
	}
	if cfg.Enabled {
		return ErrAlreadyEnabled
	}

	cfg.Enabled = true
	if err := inst.integ.SetConfig(cfg); err != nil {
		return err
	}

	if err := r.deps.Configs.UpdateIntegration(ctx, cfg); err != nil {
		cfg.Enabled = false
		_ = inst.integ.SetConfig(cfg)
		return fmt.Errorf("persist enable: %w", err)
	}

	r.loops.Start(id, inst.integ)
	slog.Info("enabled integration", "integration_id", id, "kind", cfg.Kind, "community_id", cfg.CommunityID)
	return nil
}

// Disable marks the integration disabled, persists the flag and stops its
// reconciliation loop, waiting for the loop to exit. With removeBans the
// integration's local BanRecords are discarded as well; bans already placed
// on the remote system are left alone since the remote relationship may be
// severed.
func (r *Registry) Disable(ctx context.Context, id int64, removeBans bool) error {
	inst, ok := r.instance(id)
	if !ok {
		return fmt.Errorf("integration %d: %w", id, ErrNotFound)
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()

	cfg := inst.integ.Config()
	if !cfg.Enabled {
		return ErrAlreadyDisabled
	}

	cfg.Enabled = false
	if err := inst.integ.SetConfig(cfg); err != nil {
		return err
	}

	if err := r.deps.Configs.UpdateIntegration(ctx, cfg); err != nil {
		cfg.Enabled = true
		_ = inst.integ.SetConfig(cfg)
		return fmt.Errorf("persist disable: %w", err)
	}

	var errs []error
	if err := r.loops.Stop(ctx, id); err != nil {
		errs = append(errs, fmt.Errorf("stop reconcile loop: %w", err))
	}

	if removeBans {
		n, err := r.deps.Bans.DeleteBansByIntegration(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("remove ban records: %w", err))
		} else {
			slog.Info("removed ban records", "integration_id", id, "count", n)
		}
	}

	slog.Info("disabled integration", "integration_id", id, "kind", cfg.Kind, "community_id", cfg.CommunityID)
	return errors.Join(errs...)
}

// Remove deletes the integration's config and all associated BanRecords
// (cascade), stopping its loop first. Disabling is a state; removal is final.
func (r *Registry) Remove(ctx context.Context, id int64) error {
	inst, ok := r.instance(id)
	if !ok {
		return fmt.Errorf("integration %d: %w", id, ErrNotFound)
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()

	if err := r.loops.Stop(ctx, id); err != nil {
		return fmt.Errorf("stop reconcile loop: %w", err)
	}
	if err := r.deps.Configs.DeleteIntegration(ctx, id); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.instances, id)
	r.mu.Unlock()

	slog.Info("removed integration", "integration_id", id)
	return nil
}

func (r *Registry) instance(id int64) (*instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instances[id]
	return inst, ok
}
