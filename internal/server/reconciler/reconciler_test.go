package reconciler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fatalmerlin/dnssync/internal/server/db"
	"github.com/fatalmerlin/dnssync/internal/server/db/sqlite"
	"github.com/fatalmerlin/dnssync/internal/server/nsupdate"
	"github.com/fatalmerlin/dnssync/internal/server/traefik"
)

type fakeFetcher struct {
	mu      sync.Mutex
	routers []traefik.Router
	err     error
	calls   int
}

func (f *fakeFetcher) FetchRouters(context.Context) ([]traefik.Router, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.routers, nil
}

type mutation struct {
	hostname string
	mode     nsupdate.Mode
}

type fakeMutator struct {
	mu        sync.Mutex
	mutations []mutation
	failing   map[string]bool
}

func (f *fakeMutator) Apply(_ context.Context, hostname string, mode nsupdate.Mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing[hostname] {
		return &nsupdate.MutationError{Hostname: hostname, Mode: mode, Output: "SERVFAIL", Err: errors.New("exit status 2")}
	}
	f.mutations = append(f.mutations, mutation{hostname: hostname, mode: mode})
	return nil
}

func (f *fakeMutator) applied() []mutation {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]mutation, len(f.mutations))
	copy(out, f.mutations)
	return out
}

func TestTickPublishesAndPersists(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	t.Cleanup(func() { _ = store.Close(ctx) })

	fetcher := &fakeFetcher{routers: []traefik.Router{
		{Name: "r1", EntryPoints: []string{"web"}, Rule: "Host(`svc.local`)"},
	}}
	mutator := &fakeMutator{}

	eng := newTestEngine(t, store, fetcher, mutator, []string{"web"})
	eng.runTick(ctx)

	applied := mutator.applied()
	if len(applied) != 1 {
		t.Fatalf("expected 1 mutation, got %d: %+v", len(applied), applied)
	}
	if applied[0].hostname != "svc.local" || applied[0].mode != nsupdate.ModeAdd {
		t.Fatalf("unexpected mutation: %+v", applied[0])
	}

	rec, err := store.Queries().Records().Get(ctx, "svc.local")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if rec.Router != "r1" {
		t.Fatalf("unexpected owner: %s", rec.Router)
	}

	status := eng.Status()
	if status.Added != 1 || status.Removed != 0 || status.Errors != 0 {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestTickRetiresStaleFromStore(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	t.Cleanup(func() { _ = store.Close(ctx) })

	records := store.Queries().Records()
	for _, h := range []string{"a.local", "b.local", "c.local"} {
		if err := records.Upsert(ctx, h, "old@docker"); err != nil {
			t.Fatalf("seed store: %v", err)
		}
	}

	fetcher := &fakeFetcher{routers: []traefik.Router{
		{Name: "a@docker", EntryPoints: []string{"web"}, Rule: "Host(`a.local`)"},
		{Name: "c@docker", EntryPoints: []string{"web"}, Rule: "Host(`c.local`)"},
	}}
	mutator := &fakeMutator{}

	eng := newTestEngine(t, store, fetcher, mutator, []string{"web"})
	eng.runTick(ctx)

	var deletes []string
	for _, m := range mutator.applied() {
		if m.mode == nsupdate.ModeDelete {
			deletes = append(deletes, m.hostname)
		}
	}
	if len(deletes) != 1 || deletes[0] != "b.local" {
		t.Fatalf("expected exactly b.local retired, got %v", deletes)
	}

	hostnames, err := records.ListHostnames(ctx)
	if err != nil {
		t.Fatalf("list hostnames: %v", err)
	}
	if len(hostnames) != 2 || hostnames[0] != "a.local" || hostnames[1] != "c.local" {
		t.Fatalf("unexpected persisted set: %v", hostnames)
	}
}

func TestTickConvergesStoreToDesiredSet(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	t.Cleanup(func() { _ = store.Close(ctx) })

	fetcher := &fakeFetcher{routers: []traefik.Router{
		{Name: "multi@docker", EntryPoints: []string{"websecure"}, Rule: "Host(`a.local`) || Host(`b.local`)"},
		{Name: "dup@docker", EntryPoints: []string{"web"}, Rule: "Host(`a.local`)"},
	}}
	mutator := &fakeMutator{}

	eng := newTestEngine(t, store, fetcher, mutator, []string{"web", "websecure"})
	eng.runTick(ctx)

	hostnames, err := store.Queries().Records().ListHostnames(ctx)
	if err != nil {
		t.Fatalf("list hostnames: %v", err)
	}
	if len(hostnames) != 2 || hostnames[0] != "a.local" || hostnames[1] != "b.local" {
		t.Fatalf("store did not converge to distinct desired set: %v", hostnames)
	}

	// Duplicate extraction means two adds for a.local; the last writer's
	// router name wins in the store.
	rec, err := store.Queries().Records().Get(ctx, "a.local")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if rec.Router != "dup@docker" {
		t.Fatalf("expected last writer to own a.local, got %s", rec.Router)
	}
}

func TestPartialFailureIsolation(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	t.Cleanup(func() { _ = store.Close(ctx) })

	fetcher := &fakeFetcher{routers: []traefik.Router{
		{Name: "x@docker", EntryPoints: []string{"web"}, Rule: "Host(`x.local`)"},
		{Name: "y@docker", EntryPoints: []string{"web"}, Rule: "Host(`y.local`)"},
		{Name: "z@docker", EntryPoints: []string{"web"}, Rule: "Host(`z.local`)"},
	}}
	mutator := &fakeMutator{failing: map[string]bool{"x.local": true}}

	eng := newTestEngine(t, store, fetcher, mutator, []string{"web"})
	eng.runTick(ctx)

	hostnames, err := store.Queries().Records().ListHostnames(ctx)
	if err != nil {
		t.Fatalf("list hostnames: %v", err)
	}
	if len(hostnames) != 2 || hostnames[0] != "y.local" || hostnames[1] != "z.local" {
		t.Fatalf("expected y and z persisted despite x failing, got %v", hostnames)
	}

	status := eng.Status()
	if status.Errors != 1 || status.Added != 2 {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestFetchErrorAbortsTick(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	t.Cleanup(func() { _ = store.Close(ctx) })

	if err := store.Queries().Records().Upsert(ctx, "keep.local", "keep@docker"); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	fetcher := &fakeFetcher{err: errors.New("connection refused")}
	mutator := &fakeMutator{}

	eng := newTestEngine(t, store, fetcher, mutator, []string{"web"})
	eng.runTick(ctx)

	if applied := mutator.applied(); len(applied) != 0 {
		t.Fatalf("expected no mutations on fetch error, got %+v", applied)
	}
	hostnames, err := store.Queries().Records().ListHostnames(ctx)
	if err != nil {
		t.Fatalf("list hostnames: %v", err)
	}
	if len(hostnames) != 1 {
		t.Fatalf("store mutated despite fetch error: %v", hostnames)
	}
	if eng.Status().LastError == "" {
		t.Fatal("fetch error not recorded in status")
	}
}

func TestStaleComputationSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "dns.db")

	store, err := sqlite.Open(ctx, path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	fetcher := &fakeFetcher{routers: []traefik.Router{
		{Name: "a@docker", EntryPoints: []string{"web"}, Rule: "Host(`a.local`)"},
		{Name: "b@docker", EntryPoints: []string{"web"}, Rule: "Host(`b.local`)"},
	}}
	eng := newTestEngine(t, store, fetcher, &fakeMutator{}, []string{"web"})
	eng.runTick(ctx)
	if err := store.Close(ctx); err != nil {
		t.Fatalf("close store: %v", err)
	}

	// New process: fresh engine, same database, b.local no longer routed.
	reopened, err := sqlite.Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	t.Cleanup(func() { _ = reopened.Close(ctx) })

	fetcher = &fakeFetcher{routers: []traefik.Router{
		{Name: "a@docker", EntryPoints: []string{"web"}, Rule: "Host(`a.local`)"},
	}}
	mutator := &fakeMutator{}
	eng = newTestEngine(t, reopened, fetcher, mutator, []string{"web"})
	eng.runTick(ctx)

	var deletes []string
	for _, m := range mutator.applied() {
		if m.mode == nsupdate.ModeDelete {
			deletes = append(deletes, m.hostname)
		}
	}
	if len(deletes) != 1 || deletes[0] != "b.local" {
		t.Fatalf("stale computation did not use on-disk state: %v", deletes)
	}
}

func TestRetireRecord(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	t.Cleanup(func() { _ = store.Close(ctx) })

	if err := store.Queries().Records().Upsert(ctx, "gone.local", "gone@docker"); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	mutator := &fakeMutator{}
	eng := newTestEngine(t, store, &fakeFetcher{}, mutator, []string{"web"})

	if err := eng.RetireRecord(ctx, "gone.local"); err != nil {
		t.Fatalf("retire: %v", err)
	}
	applied := mutator.applied()
	if len(applied) != 1 || applied[0].mode != nsupdate.ModeDelete {
		t.Fatalf("expected one delete, got %+v", applied)
	}
	if _, err := store.Queries().Records().Get(ctx, "gone.local"); !errors.Is(err, db.ErrRecordNotFound) {
		t.Fatalf("record not removed: %v", err)
	}

	if err := eng.RetireRecord(ctx, "absent.local"); !errors.Is(err, db.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound for absent hostname, got %v", err)
	}
}

func TestRunStopsOnCancelAndWakesOnTrigger(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := openTestStore(t)
	t.Cleanup(func() { _ = store.Close(context.Background()) })

	fetcher := &fakeFetcher{}
	eng := newTestEngineWithInterval(t, store, fetcher, &fakeMutator{}, []string{"web"}, time.Hour)

	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	waitForCalls(t, fetcher, 1)
	eng.TriggerSync()
	waitForCalls(t, fetcher, 2)

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancellation")
	}
}

func waitForCalls(t *testing.T, fetcher *fakeFetcher, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		fetcher.mu.Lock()
		calls := fetcher.calls
		fetcher.mu.Unlock()
		if calls >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("fetcher never reached %d calls", want)
}

func newTestEngine(t *testing.T, store db.Store, fetcher RouterFetcher, mutator Mutator, entryPoints []string) *engine {
	t.Helper()
	return newTestEngineWithInterval(t, store, fetcher, mutator, entryPoints, time.Minute)
}

func newTestEngineWithInterval(t *testing.T, store db.Store, fetcher RouterFetcher, mutator Mutator, entryPoints []string, interval time.Duration) *engine {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng, err := New(Params{
		Store:       store,
		Routers:     fetcher,
		DNS:         mutator,
		Logger:      logger,
		EntryPoints: entryPoints,
		Interval:    interval,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return eng.(*engine)
}

func openTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dns.db")
	store, err := sqlite.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	return store
}
