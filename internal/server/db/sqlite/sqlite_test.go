package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/fatalmerlin/dnssync/internal/server/db"
)

func TestRecordRepositoryUpsertListDelete(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	t.Cleanup(func() { _ = store.Close(ctx) })

	records := store.Queries().Records()

	if err := records.Upsert(ctx, "svc.fritz.box", "svc@docker"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := records.Upsert(ctx, "web.fritz.box", "web@file"); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	rec, err := records.Get(ctx, "svc.fritz.box")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Router != "svc@docker" {
		t.Fatalf("unexpected router: %s", rec.Router)
	}

	all, err := records.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 records, got %d", len(all))
	}
	if all[0].Hostname != "svc.fritz.box" || all[1].Hostname != "web.fritz.box" {
		t.Fatalf("unexpected ordering: %+v", all)
	}

	hostnames, err := records.ListHostnames(ctx)
	if err != nil {
		t.Fatalf("list hostnames: %v", err)
	}
	if len(hostnames) != 2 || hostnames[0] != "svc.fritz.box" {
		t.Fatalf("unexpected hostnames: %v", hostnames)
	}

	if err := records.Delete(ctx, "svc.fritz.box"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := records.Get(ctx, "svc.fritz.box"); err != db.ErrRecordNotFound {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}

	// Deleting an absent hostname is a no-op.
	if err := records.Delete(ctx, "svc.fritz.box"); err != nil {
		t.Fatalf("delete absent: %v", err)
	}
}

func TestRecordRepositoryUpsertOverwritesOwner(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	t.Cleanup(func() { _ = store.Close(ctx) })

	records := store.Queries().Records()

	if err := records.Upsert(ctx, "svc.fritz.box", "first@docker"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := records.Upsert(ctx, "svc.fritz.box", "second@docker"); err != nil {
		t.Fatalf("upsert again: %v", err)
	}

	rec, err := records.Get(ctx, "svc.fritz.box")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Router != "second@docker" {
		t.Fatalf("expected last writer to win, got %s", rec.Router)
	}

	all, err := records.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 record, got %d", len(all))
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "dns.db")

	store, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Queries().Records().Upsert(ctx, "persist.fritz.box", "persist@docker"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = reopened.Close(ctx) })

	hostnames, err := reopened.Queries().Records().ListHostnames(ctx)
	if err != nil {
		t.Fatalf("list hostnames: %v", err)
	}
	if len(hostnames) != 1 || hostnames[0] != "persist.fritz.box" {
		t.Fatalf("state did not survive reopen: %v", hostnames)
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dns.db")
	store, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	return store
}
