package syncer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"reactionmap/progress/internal/api"
	"reactionmap/progress/internal/localstore"
)

var base = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type staticToken string

func (t staticToken) Token() string { return string(t) }

type switchable struct{ online atomic.Bool }

func (s *switchable) Online(context.Context) bool { return s.online.Load() }

type fakeAPI struct {
	mu      sync.Mutex
	saves   [][]api.ProgressUpdate
	loads   []*time.Time
	saveAt  time.Time
	remote  []api.ProgressRecord
	saveErr error
	loadErr error
	gate    chan struct{}
}

func (f *fakeAPI) Save(ctx context.Context, token string, updates []api.ProgressUpdate) (api.SaveResponse, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves = append(f.saves, updates)
	if f.saveErr != nil {
		return api.SaveResponse{}, f.saveErr
	}
	resp := api.SaveResponse{UpdatedAt: f.saveAt}
	for _, u := range updates {
		resp.Progress = append(resp.Progress, api.SaveAck{ActivityID: u.ActivityID, UpdatedAt: f.saveAt})
	}
	return resp, nil
}

func (f *fakeAPI) Load(ctx context.Context, token string, since *time.Time) (api.LoadResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads = append(f.loads, since)
	if f.loadErr != nil {
		return api.LoadResponse{}, f.loadErr
	}
	return api.LoadResponse{Progress: f.remote}, nil
}

func (f *fakeAPI) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saves), len(f.loads)
}

func newEngine(t *testing.T, fake *fakeAPI, token string) (*Engine, *localstore.ProgressStore, *switchable) {
	t.Helper()
	store := localstore.NewProgressStore(localstore.NewMemoryStorage())
	online := &switchable{}
	online.online.Store(true)
	return NewEngine(fake, store, staticToken(token), online), store, online
}

func TestSyncOfflineMakesNoCalls(t *testing.T) {
	fake := &fakeAPI{}
	engine, _, online := newEngine(t, fake, "tok")
	online.online.Store(false)

	result := engine.Sync(context.Background(), "startup")
	if result.Status != StatusOffline || result.Reason != "startup" {
		t.Fatalf("unexpected result %+v", result)
	}
	if saves, loads := fake.calls(); saves+loads != 0 {
		t.Fatalf("expected no network calls, got %d/%d", saves, loads)
	}
}

func TestSyncSkippedWithoutToken(t *testing.T) {
	fake := &fakeAPI{}
	engine, _, _ := newEngine(t, fake, "")
	if result := engine.Sync(context.Background(), ""); result.Status != StatusSkipped || result.Reason != "manual" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestSyncPushesThenPulls(t *testing.T) {
	fake := &fakeAPI{
		saveAt: base.Add(time.Minute),
		remote: []api.ProgressRecord{
			{ActivityID: "remote-1", State: map[string]any{"progress": 1.0}, UpdatedAt: base.Add(2 * time.Minute)},
		},
	}
	engine, store, _ := newEngine(t, fake, "tok")
	cursor := base
	if err := store.SetLastSyncAt(&cursor); err != nil {
		t.Fatalf("cursor: %v", err)
	}
	if _, err := store.QueueUpdate("energetics-1", map[string]any{"progress": 0.5}); err != nil {
		t.Fatalf("queue: %v", err)
	}

	result := engine.Sync(context.Background(), "manual")
	if result.Status != StatusSynced || result.Saved != 1 || result.Loaded != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.LastSyncAt == nil || !result.LastSyncAt.Equal(base.Add(2*time.Minute)) {
		t.Fatalf("cursor should advance to the latest pulled record, got %v", result.LastSyncAt)
	}
	if got := store.LastSyncAt(); got == nil || !got.Equal(*result.LastSyncAt) {
		t.Fatalf("cursor not persisted: %v", got)
	}
	if fake.loads[0] == nil || !fake.loads[0].Equal(base) {
		t.Fatalf("pull should use the prior cursor, got %v", fake.loads[0])
	}
	if len(store.PendingUpdates().Updates) != 0 {
		t.Fatalf("pushed records should be clean")
	}
	if _, ok := store.Get("remote-1"); !ok {
		t.Fatalf("pulled record should be merged")
	}
}

func TestSyncCursorUsesPushTime(t *testing.T) {
	fake := &fakeAPI{saveAt: base.Add(time.Hour)}
	engine, store, _ := newEngine(t, fake, "tok")
	if _, err := store.QueueUpdate("a", map[string]any{}); err != nil {
		t.Fatalf("queue: %v", err)
	}
	result := engine.Sync(context.Background(), "manual")
	if result.LastSyncAt == nil || !result.LastSyncAt.Equal(base.Add(time.Hour)) {
		t.Fatalf("unexpected cursor %v", result.LastSyncAt)
	}
	if fake.loads[0] != nil {
		t.Fatalf("first pull should be unfiltered")
	}
}

func TestSyncNothingToDoKeepsCursorUnset(t *testing.T) {
	fake := &fakeAPI{}
	engine, store, _ := newEngine(t, fake, "tok")
	result := engine.Sync(context.Background(), "manual")
	if result.Status != StatusSynced || result.LastSyncAt != nil || store.LastSyncAt() != nil {
		t.Fatalf("unexpected result %+v", result)
	}
	if saves, _ := fake.calls(); saves != 0 {
		t.Fatalf("nothing pending, expected no push")
	}
}

func TestSyncPullFailureKeepsPush(t *testing.T) {
	fake := &fakeAPI{saveAt: base.Add(time.Minute), loadErr: errors.New("Request failed (502).")}
	engine, store, _ := newEngine(t, fake, "tok")
	if _, err := store.QueueUpdate("a", map[string]any{}); err != nil {
		t.Fatalf("queue: %v", err)
	}

	result := engine.Sync(context.Background(), "manual")
	if result.Status != StatusError || result.Error != "Request failed (502)." || result.Saved != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(store.PendingUpdates().Updates) != 0 {
		t.Fatalf("acknowledged push should be kept")
	}
	if store.LastSyncAt() != nil {
		t.Fatalf("cursor must not advance on failure")
	}

	fake.loadErr = nil
	engine.Sync(context.Background(), "retry")
	if saves, loads := fake.calls(); saves != 1 || loads != 2 {
		t.Fatalf("retry should only pull again, got %d saves %d loads", saves, loads)
	}
}

func TestSyncPushFailure(t *testing.T) {
	fake := &fakeAPI{saveErr: errors.New("Session token expired.")}
	engine, store, _ := newEngine(t, fake, "tok")
	if _, err := store.QueueUpdate("a", map[string]any{}); err != nil {
		t.Fatalf("queue: %v", err)
	}
	result := engine.Sync(context.Background(), "manual")
	if result.Status != StatusError || result.Error != "Session token expired." {
		t.Fatalf("unexpected result %+v", result)
	}
	if _, loads := fake.calls(); loads != 0 {
		t.Fatalf("pull should not run after a failed push")
	}
	if len(store.PendingUpdates().Updates) != 1 {
		t.Fatalf("record should stay dirty")
	}
}

func TestSyncSingleFlight(t *testing.T) {
	fake := &fakeAPI{saveAt: base, gate: make(chan struct{})}
	engine, store, _ := newEngine(t, fake, "tok")
	if _, err := store.QueueUpdate("a", map[string]any{}); err != nil {
		t.Fatalf("queue: %v", err)
	}

	const callers = 5
	results := make(chan Result, callers)
	first := make(chan struct{})
	go func() {
		close(first)
		results <- engine.Sync(context.Background(), "startup")
	}()
	<-first
	for !engine.Running() {
		time.Sleep(time.Millisecond)
	}
	for i := 1; i < callers; i++ {
		go func() { results <- engine.Sync(context.Background(), "manual") }()
	}
	time.Sleep(20 * time.Millisecond)
	close(fake.gate)

	for i := 0; i < callers; i++ {
		r := <-results
		if r.Status != StatusSynced || r.Reason != "startup" {
			t.Fatalf("callers should share the running result, got %+v", r)
		}
	}
	if saves, loads := fake.calls(); saves != 1 || loads != 1 {
		t.Fatalf("expected one round-trip, got %d saves %d loads", saves, loads)
	}
	if engine.Running() {
		t.Fatalf("operation should be cleared after completion")
	}
}

func TestSyncOutlivesCanceledCaller(t *testing.T) {
	fake := &fakeAPI{saveAt: base, gate: make(chan struct{})}
	engine, store, _ := newEngine(t, fake, "tok")
	if _, err := store.QueueUpdate("a", map[string]any{}); err != nil {
		t.Fatalf("queue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Result, 1)
	go func() { done <- engine.Sync(ctx, "manual") }()
	for !engine.Running() {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if r := <-done; r.Status != StatusError {
		t.Fatalf("canceled caller should get an error result, got %+v", r)
	}

	close(fake.gate)
	for engine.Running() {
		time.Sleep(time.Millisecond)
	}
	if len(store.PendingUpdates().Updates) != 0 {
		t.Fatalf("detached sync should still apply the ack")
	}
}

func TestWatchTriggers(t *testing.T) {
	fake := &fakeAPI{}
	engine, _, online := newEngine(t, fake, "tok")
	online.online.Store(false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	triggers := make(chan string)
	results := make(chan Result, 8)
	go engine.Watch(ctx, WatchOptions{
		ConnectivityPoll: 5 * time.Millisecond,
		Triggers:         triggers,
		OnResult:         func(r Result) { results <- r },
	})

	if r := <-results; r.Reason != "startup" || r.Status != StatusOffline {
		t.Fatalf("unexpected startup result %+v", r)
	}
	online.online.Store(true)
	if r := <-results; r.Reason != "online" || r.Status != StatusSynced {
		t.Fatalf("unexpected reconnect result %+v", r)
	}
	triggers <- "visible"
	if r := <-results; r.Reason != "visible" {
		t.Fatalf("unexpected trigger result %+v", r)
	}
}

type fakePinger struct{ err error }

func (p fakePinger) Health(context.Context) error { return p.err }

func TestProbeConnectivity(t *testing.T) {
	if !ProbeConnectivity(fakePinger{}, time.Second).Online(context.Background()) {
		t.Fatalf("healthy server should be online")
	}
	if ProbeConnectivity(fakePinger{err: errors.New("down")}, time.Second).Online(context.Background()) {
		t.Fatalf("failing health check should be offline")
	}
}
