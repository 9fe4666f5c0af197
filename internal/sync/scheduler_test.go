package sync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/palisade-gg/palisade/internal/registry"
)

type stubIntegration struct {
	mu          sync.Mutex
	cfg         registry.Config
	validateErr error
	syncErr     error
	validations int
	syncs       int
}

func (f *stubIntegration) Meta() registry.Metadata {
	return registry.Metadata{Kind: f.cfg.Kind}
}

func (f *stubIntegration) Config() registry.Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg
}

func (f *stubIntegration) SetConfig(cfg registry.Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg
	return nil
}

func (f *stubIntegration) InstanceName(context.Context) (string, error) { return "stub", nil }
func (f *stubIntegration) InstanceURL() string                          { return "" }

func (f *stubIntegration) Validate(context.Context, registry.Community) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validations++
	return f.validateErr
}

func (f *stubIntegration) BanPlayer(context.Context, registry.Decision) error { return nil }
func (f *stubIntegration) UnbanPlayer(context.Context, string) error          { return nil }
func (f *stubIntegration) BulkBanPlayers(context.Context, []registry.Decision) error {
	return nil
}
func (f *stubIntegration) BulkUnbanPlayers(context.Context, []string) error { return nil }

func (f *stubIntegration) Synchronize(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs++
	return f.syncErr
}

func (f *stubIntegration) counts() (validations, syncs int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.validations, f.syncs
}

type stubCommunities struct {
	err error
}

func (s stubCommunities) Community(_ context.Context, id int64) (registry.Community, error) {
	if s.err != nil {
		return registry.Community{}, s.err
	}
	return registry.Community{ID: id, Name: "Test", Tag: "TST"}, nil
}

type recordingDisabler struct {
	mu    sync.Mutex
	calls []int64
	done  chan struct{}
}

func newRecordingDisabler() *recordingDisabler {
	return &recordingDisabler{done: make(chan struct{}, 1)}
}

func (d *recordingDisabler) Disable(_ context.Context, id int64, _ bool) error {
	d.mu.Lock()
	d.calls = append(d.calls, id)
	d.mu.Unlock()
	select {
	case d.done <- struct{}{}:
	default:
	}
	return nil
}

type recordingReporter struct {
	mu     sync.Mutex
	events []registry.Event
}

func (r *recordingReporter) Report(e registry.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingReporter) all() []registry.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]registry.Event(nil), r.events...)
}

func TestScheduler_JitterStaysInWindow(t *testing.T) {
	t.Parallel()

	s := NewScheduler(stubCommunities{}, nil)
	s.SetIntervals(10*time.Millisecond, 20*time.Millisecond)

	for i := 0; i < 100; i++ {
		d := s.jitter()
		if d < 10*time.Millisecond || d >= 20*time.Millisecond {
			t.Fatalf("jitter() = %v, want in [10ms, 20ms)", d)
		}
	}
}

func TestScheduler_SetIntervalsRejectsInvalidWindow(t *testing.T) {
	t.Parallel()

	s := NewScheduler(stubCommunities{}, nil)
	s.SetIntervals(2*time.Hour, time.Hour)

	if s.minInterval != DefaultMinInterval || s.maxInterval != DefaultMaxInterval {
		t.Fatalf("intervals = %v/%v, want defaults kept", s.minInterval, s.maxInterval)
	}
}

func TestScheduler_RunsReconcilePasses(t *testing.T) {
	t.Parallel()

	s := NewScheduler(stubCommunities{}, nil)
	s.SetIntervals(time.Millisecond, 2*time.Millisecond)

	integ := &stubIntegration{cfg: registry.Config{ID: 1, CommunityID: 1, Kind: registry.KindCRCON, Enabled: true}}
	s.Start(1, integ)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.StopAll(ctx)
	}()

	deadline := time.After(2 * time.Second)
	for {
		if _, syncs := integ.counts(); syncs >= 2 {
			return
		}
		select {
		case <-deadline:
			_, syncs := integ.counts()
			t.Fatalf("synchronize ran %d times, want at least 2", syncs)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestScheduler_StopCancelsLoop(t *testing.T) {
	t.Parallel()

	s := NewScheduler(stubCommunities{}, nil)
	s.SetIntervals(time.Hour, 2*time.Hour)

	integ := &stubIntegration{cfg: registry.Config{ID: 1, CommunityID: 1, Kind: registry.KindCRCON}}
	s.Start(1, integ)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx, 1); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	// Stopping again is a no-op.
	if err := s.Stop(ctx, 1); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
}

func TestScheduler_StartIsIdempotent(t *testing.T) {
	t.Parallel()

	s := NewScheduler(stubCommunities{}, nil)
	s.SetIntervals(time.Hour, 2*time.Hour)

	integ := &stubIntegration{cfg: registry.Config{ID: 1, Kind: registry.KindCRCON}}
	s.Start(1, integ)
	s.Start(1, integ)

	s.mu.Lock()
	n := len(s.loops)
	s.mu.Unlock()
	if n != 1 {
		t.Fatalf("loops = %d, want 1", n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.StopAll(ctx)
}

func TestScheduler_ValidationFailureDisablesIntegration(t *testing.T) {
	t.Parallel()

	disabler := newRecordingDisabler()
	reporter := &recordingReporter{}

	s := NewScheduler(stubCommunities{}, reporter)
	s.SetDisabler(disabler)

	integ := &stubIntegration{
		cfg:         registry.Config{ID: 7, CommunityID: 3, Kind: registry.KindBattlemetrics, Enabled: true},
		validateErr: &registry.ValidationError{Reason: "token revoked"},
	}

	if disabled := s.reconcile(context.Background(), 7, integ); !disabled {
		t.Fatal("reconcile() = false, want loop-ending disable")
	}

	select {
	case <-disabler.done:
	case <-time.After(2 * time.Second):
		t.Fatal("Disable was never called")
	}
	disabler.mu.Lock()
	calls := append([]int64(nil), disabler.calls...)
	disabler.mu.Unlock()
	if len(calls) != 1 || calls[0] != 7 {
		t.Fatalf("Disable calls = %v, want [7]", calls)
	}

	events := reporter.all()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].IntegrationID != 7 || events[0].CommunityID != 3 {
		t.Fatalf("event = %+v", events[0])
	}
}

func TestScheduler_TransientValidationFailureKeepsLoop(t *testing.T) {
	t.Parallel()

	s := NewScheduler(stubCommunities{}, nil)
	integ := &stubIntegration{
		cfg:         registry.Config{ID: 1, CommunityID: 1, Kind: registry.KindBattlemetrics},
		validateErr: errors.New("connection refused"),
	}

	if disabled := s.reconcile(context.Background(), 1, integ); disabled {
		t.Fatal("reconcile() = true for transient failure, want loop kept")
	}
	if _, syncs := integ.counts(); syncs != 0 {
		t.Fatalf("synchronize ran %d times after failed validation, want 0", syncs)
	}
}

func TestScheduler_CommunityLookupFailureKeepsLoop(t *testing.T) {
	t.Parallel()

	s := NewScheduler(stubCommunities{err: errors.New("db down")}, nil)
	integ := &stubIntegration{cfg: registry.Config{ID: 1, CommunityID: 1, Kind: registry.KindCRCON}}

	if disabled := s.reconcile(context.Background(), 1, integ); disabled {
		t.Fatal("reconcile() = true for community lookup failure, want loop kept")
	}
	if validations, _ := integ.counts(); validations != 0 {
		t.Fatalf("validate ran %d times without a community, want 0", validations)
	}
}

func TestSleepWithContext(t *testing.T) {
	t.Parallel()

	if err := sleepWithContext(context.Background(), 0); err != nil {
		t.Fatalf("sleepWithContext(0) error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepWithContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("sleepWithContext() error = %v, want context.Canceled", err)
	}
}
