package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/palisade-gg/palisade/internal/registry"
)

type callLog struct {
	mu     sync.Mutex
	bans   []int64
	unbans []int64
}

func (l *callLog) recordBan(id int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bans = append(l.bans, id)
}

func (l *callLog) recordUnban(id int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unbans = append(l.unbans, id)
}

func (l *callLog) banCalls() []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int64(nil), l.bans...)
}

func (l *callLog) unbanCalls() []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int64(nil), l.unbans...)
}

type scriptedDefinition struct {
	banErrs   map[int64]error
	unbanErrs map[int64]error
	calls     *callLog
}

func (d *scriptedDefinition) Kind() registry.Kind                    { return registry.KindBattlemetrics }
func (d *scriptedDefinition) DisplayName() string                    { return "scripted" }
func (d *scriptedDefinition) DecodeSettings([]byte) (any, error)     { return nil, nil }
func (d *scriptedDefinition) ValidateSettings(any) error             { return nil }
func (d *scriptedDefinition) MergeSettings(existing, _ any) any      { return existing }
func (d *scriptedDefinition) New(cfg registry.Config, _ registry.Deps) (registry.Integration, error) {
	return &scriptedIntegration{cfg: cfg, def: d}, nil
}

type scriptedIntegration struct {
	mu  sync.Mutex
	cfg registry.Config
	def *scriptedDefinition
}

func (f *scriptedIntegration) Meta() registry.Metadata {
	return registry.Metadata{Kind: f.cfg.Kind}
}

func (f *scriptedIntegration) Config() registry.Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg
}

func (f *scriptedIntegration) SetConfig(cfg registry.Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg
	return nil
}

func (f *scriptedIntegration) InstanceName(context.Context) (string, error) { return "scripted", nil }
func (f *scriptedIntegration) InstanceURL() string                          { return "" }
func (f *scriptedIntegration) Validate(context.Context, registry.Community) error {
	return nil
}

func (f *scriptedIntegration) BanPlayer(_ context.Context, _ registry.Decision) error {
	f.def.calls.recordBan(f.Config().ID)
	return f.def.banErrs[f.Config().ID]
}

func (f *scriptedIntegration) UnbanPlayer(_ context.Context, _ string) error {
	f.def.calls.recordUnban(f.Config().ID)
	return f.def.unbanErrs[f.Config().ID]
}

func (f *scriptedIntegration) BulkBanPlayers(context.Context, []registry.Decision) error {
	return nil
}

func (f *scriptedIntegration) BulkUnbanPlayers(context.Context, []string) error {
	return nil
}

func (f *scriptedIntegration) Synchronize(context.Context) error { return nil }

type memConfigStore struct {
	mu      sync.Mutex
	nextID  int64
	configs map[int64]registry.Config
}

func newMemConfigStore() *memConfigStore {
	return &memConfigStore{configs: make(map[int64]registry.Config)}
}

func (s *memConfigStore) CreateIntegration(_ context.Context, cfg *registry.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	cfg.ID = s.nextID
	s.configs[cfg.ID] = *cfg
	return nil
}

func (s *memConfigStore) UpdateIntegration(_ context.Context, cfg registry.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[cfg.ID] = cfg
	return nil
}

func (s *memConfigStore) Integration(_ context.Context, id int64) (registry.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[id]
	if !ok {
		return registry.Config{}, registry.ErrNotFound
	}
	return cfg, nil
}

func (s *memConfigStore) Integrations(context.Context) ([]registry.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]registry.Config, 0, len(s.configs))
	for _, cfg := range s.configs {
		out = append(out, cfg)
	}
	return out, nil
}

func (s *memConfigStore) IntegrationsByCommunity(_ context.Context, communityID int64) ([]registry.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []registry.Config
	for _, cfg := range s.configs {
		if cfg.CommunityID == communityID {
			out = append(out, cfg)
		}
	}
	return out, nil
}

func (s *memConfigStore) DeleteIntegration(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.configs, id)
	return nil
}

func (s *memConfigStore) CountIntegrationsByCommunity(_ context.Context, communityID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, cfg := range s.configs {
		if cfg.CommunityID == communityID {
			n++
		}
	}
	return n, nil
}

type memBanStore struct {
	mu        sync.Mutex
	records   map[string]registry.BanRecord
	decisions []registry.Decision
}

func newMemBanStore() *memBanStore {
	return &memBanStore{records: make(map[string]registry.BanRecord)}
}

func banKey(playerID string, integrationID int64) string {
	return fmt.Sprintf("%s/%d", playerID, integrationID)
}

func (s *memBanStore) Ban(_ context.Context, playerID string, integrationID int64) (registry.BanRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[banKey(playerID, integrationID)]
	if !ok {
		return registry.BanRecord{}, registry.ErrNotFound
	}
	return rec, nil
}

func (s *memBanStore) CreateBan(_ context.Context, rec registry.BanRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := banKey(rec.PlayerID, rec.IntegrationID)
	if _, ok := s.records[key]; ok {
		return registry.ErrAlreadyExists
	}
	s.records[key] = rec
	return nil
}

func (s *memBanStore) CreateBans(_ context.Context, recs []registry.BanRecord) error {
	for _, rec := range recs {
		_ = s.CreateBan(context.Background(), rec)
	}
	return nil
}

func (s *memBanStore) DeleteBan(_ context.Context, playerID string, integrationID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, banKey(playerID, integrationID))
	return nil
}

func (s *memBanStore) DeleteBans(_ context.Context, integrationID int64, playerIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, playerID := range playerIDs {
		delete(s.records, banKey(playerID, integrationID))
	}
	return nil
}

func (s *memBanStore) DeleteBansByIntegration(_ context.Context, integrationID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, rec := range s.records {
		if rec.IntegrationID == integrationID {
			delete(s.records, key)
			n++
		}
	}
	return n, nil
}

func (s *memBanStore) BansByIntegration(_ context.Context, integrationID int64) ([]registry.BanRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []registry.BanRecord
	for _, rec := range s.records {
		if rec.IntegrationID == integrationID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *memBanStore) PlayerBansForCommunity(_ context.Context, playerID string, _ int64) ([]registry.BanRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []registry.BanRecord
	for _, rec := range s.records {
		if rec.PlayerID == playerID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *memBanStore) ExpireBansOfPlayer(context.Context, string, int64) error { return nil }

func (s *memBanStore) SaveDecision(_ context.Context, decision registry.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, decision)
	return nil
}

type memCommunityStore struct{}

func (memCommunityStore) Community(_ context.Context, id int64) (registry.Community, error) {
	return registry.Community{ID: id, Name: "Test", Tag: "TST"}, nil
}

type captureReporter struct {
	mu     sync.Mutex
	events []registry.Event
}

func (r *captureReporter) Report(e registry.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *captureReporter) all() []registry.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]registry.Event(nil), r.events...)
}

type nopLoops struct{}

func (nopLoops) Start(int64, registry.Integration) {}

func (nopLoops) Stop(context.Context, int64) error { return nil }

type harness struct {
	dispatcher *Dispatcher
	registry   *registry.Registry
	bans       *memBanStore
	configs    *memConfigStore
	reporter   *captureReporter
	def        *scriptedDefinition
}

func newHarness(t *testing.T, enabledIntegrations int) *harness {
	t.Helper()

	configs := newMemConfigStore()
	bans := newMemBanStore()
	reporter := &captureReporter{}
	def := &scriptedDefinition{
		banErrs:   make(map[int64]error),
		unbanErrs: make(map[int64]error),
		calls:     &callLog{},
	}

	deps := registry.Deps{
		Bans:        bans,
		Configs:     configs,
		Communities: memCommunityStore{},
		Report:      reporter.Report,
	}
	reg := registry.New(deps, nopLoops{})
	reg.SetMaxIntegrationsPerCommunity(10)
	if err := reg.RegisterKind(def); err != nil {
		t.Fatalf("RegisterKind() error = %v", err)
	}

	ctx := context.Background()
	for i := 0; i < enabledIntegrations; i++ {
		cfg := registry.Config{CommunityID: 1, Kind: registry.KindBattlemetrics, Enabled: true}
		if err := configs.CreateIntegration(ctx, &cfg); err != nil {
			t.Fatalf("CreateIntegration() error = %v", err)
		}
	}

	return &harness{
		dispatcher: New(reg, bans, bans, reporter),
		registry:   reg,
		bans:       bans,
		configs:    configs,
		reporter:   reporter,
		def:        def,
	}
}

func TestHandleDecision_FansOutToAllEnabled(t *testing.T) {
	h := newHarness(t, 2)

	decision := registry.Decision{PlayerID: "76561198000000001", CommunityID: 1, Banned: true, Reasons: []string{"cheating"}}
	if err := h.dispatcher.HandleDecision(context.Background(), decision); err != nil {
		t.Fatalf("HandleDecision() error = %v", err)
	}

	if got := h.def.calls.banCalls(); len(got) != 2 {
		t.Fatalf("ban calls = %v, want 2 branches", got)
	}
	if len(h.bans.decisions) != 1 || !h.bans.decisions[0].Banned {
		t.Fatalf("decisions = %+v, want one banned decision", h.bans.decisions)
	}
}

func TestHandleDecision_SkipsSatisfiedBranches(t *testing.T) {
	h := newHarness(t, 2)
	ctx := context.Background()

	// Integration 1 already holds a ban for this player.
	if err := h.bans.CreateBan(ctx, registry.BanRecord{PlayerID: "76561198000000001", IntegrationID: 1, RemoteID: "r1"}); err != nil {
		t.Fatalf("CreateBan() error = %v", err)
	}

	decision := registry.Decision{PlayerID: "76561198000000001", CommunityID: 1, Banned: true}
	if err := h.dispatcher.HandleDecision(ctx, decision); err != nil {
		t.Fatalf("HandleDecision() error = %v", err)
	}

	got := h.def.calls.banCalls()
	if len(got) != 1 || got[0] != 2 {
		t.Fatalf("ban calls = %v, want only integration 2", got)
	}
}

func TestHandleDecision_UnbanOnlyWhereBanned(t *testing.T) {
	h := newHarness(t, 2)
	ctx := context.Background()

	if err := h.bans.CreateBan(ctx, registry.BanRecord{PlayerID: "76561198000000001", IntegrationID: 2, RemoteID: "r2"}); err != nil {
		t.Fatalf("CreateBan() error = %v", err)
	}

	decision := registry.Decision{PlayerID: "76561198000000001", CommunityID: 1, Banned: false}
	if err := h.dispatcher.HandleDecision(ctx, decision); err != nil {
		t.Fatalf("HandleDecision() error = %v", err)
	}

	if got := h.def.calls.banCalls(); len(got) != 0 {
		t.Fatalf("unexpected ban calls: %v", got)
	}
	got := h.def.calls.unbanCalls()
	if len(got) != 1 || got[0] != 2 {
		t.Fatalf("unban calls = %v, want only integration 2", got)
	}
}

func TestHandleDecision_IsolatesBranchFailures(t *testing.T) {
	h := newHarness(t, 2)
	h.def.banErrs[1] = errors.New("remote exploded")

	decision := registry.Decision{PlayerID: "76561198000000001", CommunityID: 1, Banned: true}
	err := h.dispatcher.HandleDecision(context.Background(), decision)
	var branches *BranchFailures
	if !errors.As(err, &branches) {
		t.Fatalf("HandleDecision() error = %v, want *BranchFailures", err)
	}
	if len(branches.Errs) != 1 || !strings.Contains(err.Error(), "integration 1") {
		t.Fatalf("error = %v, want one failure naming integration 1", err)
	}

	// The healthy branch still ran.
	if got := h.def.calls.banCalls(); len(got) != 2 {
		t.Fatalf("ban calls = %v, want both branches attempted", got)
	}

	events := h.reporter.all()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.Retry == nil {
		t.Fatal("failed branch event carries no retry command")
	}
	if ev.Retry.Op != registry.OpBan || ev.Retry.IntegrationID != 1 || ev.Retry.PlayerID != decision.PlayerID {
		t.Fatalf("retry command = %+v", ev.Retry)
	}
}

func TestHandleDecision_SwallowsPreconditionErrors(t *testing.T) {
	h := newHarness(t, 1)
	h.def.banErrs[1] = &registry.AlreadyBannedError{PlayerID: "76561198000000001"}

	decision := registry.Decision{PlayerID: "76561198000000001", CommunityID: 1, Banned: true}
	if err := h.dispatcher.HandleDecision(context.Background(), decision); err != nil {
		t.Fatalf("HandleDecision() error = %v, want nil for precondition failure", err)
	}
	if events := h.reporter.all(); len(events) != 0 {
		t.Fatalf("events = %d, want none for precondition failure", len(events))
	}
}

func TestRetry_ReplaysCommand(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	if err := h.registry.LoadAll(ctx); err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}

	cmd := registry.NewCommand(registry.OpBan, 1, registry.Decision{
		PlayerID:    "76561198000000001",
		CommunityID: 1,
		Banned:      true,
	})
	if err := h.dispatcher.Retry(ctx, cmd); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if got := h.def.calls.banCalls(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("ban calls = %v, want integration 1", got)
	}
}

func TestRetry_RejectsDisabledIntegration(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	cfg, err := h.configs.Integration(ctx, 1)
	if err != nil {
		t.Fatalf("Integration() error = %v", err)
	}
	cfg.Enabled = false
	if err := h.configs.UpdateIntegration(ctx, cfg); err != nil {
		t.Fatalf("UpdateIntegration() error = %v", err)
	}
	if err := h.registry.LoadAll(ctx); err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}

	cmd := registry.NewCommand(registry.OpBan, 1, registry.Decision{PlayerID: "76561198000000001", CommunityID: 1, Banned: true})
	if err := h.dispatcher.Retry(ctx, cmd); !errors.Is(err, registry.ErrAlreadyDisabled) {
		t.Fatalf("Retry() error = %v, want ErrAlreadyDisabled", err)
	}
}

func TestRetry_UnknownIntegration(t *testing.T) {
	h := newHarness(t, 0)

	cmd := registry.NewCommand(registry.OpBan, 99, registry.Decision{PlayerID: "76561198000000001", CommunityID: 1, Banned: true})
	if err := h.dispatcher.Retry(context.Background(), cmd); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("Retry() error = %v, want ErrNotFound", err)
	}
}
