// Copyright (c) 2025 FatalMerlin
//
// BSD 3-Clause License
// See LICENSE file in the project root for details.

// Package reconciler converges the authoritative DNS zone toward the set of
// hostnames currently advertised by the proxy's routing table.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/fatalmerlin/dnssync/internal/server/db"
	"github.com/fatalmerlin/dnssync/internal/server/eventbus"
	"github.com/fatalmerlin/dnssync/internal/server/hostnames"
	"github.com/fatalmerlin/dnssync/internal/server/nsupdate"
	"github.com/fatalmerlin/dnssync/internal/server/reconciler/events"
	"github.com/fatalmerlin/dnssync/internal/server/traefik"
)

// RouterFetcher reads the proxy's current routing table.
type RouterFetcher interface {
	FetchRouters(ctx context.Context) ([]traefik.Router, error)
}

// Mutator applies a DNS change for a single hostname.
type Mutator interface {
	Apply(ctx context.Context, hostname string, mode nsupdate.Mode) error
}

// Status summarizes the most recent reconciliation tick.
type Status struct {
	LastSyncAt time.Time `json:"last_sync_at"`
	Desired    int       `json:"desired"`
	Added      int       `json:"added"`
	Removed    int       `json:"removed"`
	Errors     int       `json:"errors"`
	LastError  string    `json:"last_error,omitempty"`
	Ticks      uint64    `json:"ticks"`
}

// Engine drives the reconciliation loop and exposes its persisted state.
type Engine interface {
	// Run executes ticks at the configured interval until ctx is
	// cancelled. The first tick runs immediately.
	Run(ctx context.Context) error
	// TriggerSync requests an immediate tick. Requests arriving while a
	// tick is pending coalesce into one.
	TriggerSync()
	ListRecords(ctx context.Context) ([]db.Record, error)
	GetRecord(ctx context.Context, hostname string) (*db.Record, error)
	// RetireRecord deletes the hostname's address record and removes it
	// from the store. The next tick re-adds it if still routed.
	RetireRecord(ctx context.Context, hostname string) error
	Status() Status
}

// Params collects the reconciler's dependencies.
type Params struct {
	Store       db.Store
	Routers     RouterFetcher
	DNS         Mutator
	Bus         eventbus.Bus
	Logger      *slog.Logger
	EntryPoints []string
	Interval    time.Duration
}

type engine struct {
	store       db.Store
	routers     RouterFetcher
	dns         Mutator
	bus         eventbus.Bus
	logger      *slog.Logger
	entryPoints []string
	interval    time.Duration

	trigger chan struct{}

	// mu serializes all store and zone mutation: ticks run sequentially,
	// and admin retires wait for an in-flight tick.
	mu sync.Mutex

	statusMu sync.RWMutex
	status   Status
}

// New constructs the reconciliation engine.
func New(params Params) (Engine, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("reconciler: store required")
	}
	if params.Routers == nil {
		return nil, fmt.Errorf("reconciler: router fetcher required")
	}
	if params.DNS == nil {
		return nil, fmt.Errorf("reconciler: dns mutator required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("reconciler: logger required")
	}
	if len(params.EntryPoints) == 0 {
		return nil, fmt.Errorf("reconciler: at least one entry point required")
	}
	if params.Interval <= 0 {
		return nil, fmt.Errorf("reconciler: positive interval required")
	}

	return &engine{
		store:       params.Store,
		routers:     params.Routers,
		dns:         params.DNS,
		bus:         params.Bus,
		logger:      params.Logger,
		entryPoints: params.EntryPoints,
		interval:    params.Interval,
		trigger:     make(chan struct{}, 1),
	}, nil
}

func (e *engine) Run(ctx context.Context) error {
	e.logger.Info("starting reconciliation loop", "interval", e.interval.String(), "entry_points", e.entryPoints)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.runTick(ctx)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("reconciliation loop stopped")
			return ctx.Err()
		case <-ticker.C:
			e.runTick(ctx)
		case <-e.trigger:
			e.runTick(ctx)
		}
	}
}

func (e *engine) TriggerSync() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// runTick contains a single tick's failures, including panics; the loop must
// survive any single cycle.
func (e *engine) runTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic during reconciliation tick", "panic", r, "stack", string(debug.Stack()))
			e.recordFailure(fmt.Sprintf("panic: %v", r))
		}
	}()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.tick(ctx)
}

func (e *engine) tick(ctx context.Context) {
	e.logger.Info("starting update loop")

	routers, err := e.routers.FetchRouters(ctx)
	if err != nil {
		e.logger.Error("fetch routers", "error", err)
		e.recordFailure(err.Error())
		return
	}

	filtered := hostnames.Filter(routers, e.entryPoints)
	desired := hostnames.Extract(filtered)
	e.logger.Debug("derived desired set", "routers", len(routers), "filtered", len(filtered), "hostnames", len(desired))

	var added, tickErrors int
	for _, record := range desired {
		if err := e.dns.Apply(ctx, record.Hostname, nsupdate.ModeAdd); err != nil {
			e.logger.Error("add dns entry", "hostname", record.Hostname, "router", record.Router, "error", err)
			tickErrors++
			continue
		}
		added++
		if err := e.store.Queries().Records().Upsert(ctx, record.Hostname, record.Router); err != nil {
			e.logger.Error("persist record", "hostname", record.Hostname, "error", err)
			tickErrors++
			continue
		}
		e.publishEvent(ctx, events.RecordEvent{
			Type:     events.TypeRecordAdded,
			Hostname: record.Hostname,
			Router:   record.Router,
			Message:  "address record published",
		})
	}

	removed, removeErrors := e.retireStale(ctx, hostnames.Distinct(desired))
	tickErrors += removeErrors

	e.statusMu.Lock()
	e.status = Status{
		LastSyncAt: time.Now().UTC(),
		Desired:    len(desired),
		Added:      added,
		Removed:    removed,
		Errors:     tickErrors,
		Ticks:      e.status.Ticks + 1,
	}
	e.statusMu.Unlock()

	e.publishEvent(ctx, events.RecordEvent{
		Type:    events.TypeSyncCompleted,
		Added:   added,
		Removed: removed,
		Errors:  tickErrors,
	})
	e.logger.Info("update loop finished", "desired", len(desired), "added", added, "removed", removed, "errors", tickErrors)
}

// retireStale deletes every persisted hostname absent from the desired set.
// Staleness is computed from the store so progress survives restarts.
func (e *engine) retireStale(ctx context.Context, desired []string) (removed, failures int) {
	persisted, err := e.store.Queries().Records().ListHostnames(ctx)
	if err != nil {
		e.logger.Error("list persisted hostnames", "error", err)
		return 0, 1
	}

	desiredSet := make(map[string]struct{}, len(desired))
	for _, h := range desired {
		desiredSet[h] = struct{}{}
	}

	for _, hostname := range persisted {
		if _, ok := desiredSet[hostname]; ok {
			continue
		}
		if err := e.dns.Apply(ctx, hostname, nsupdate.ModeDelete); err != nil {
			e.logger.Error("delete stale dns entry", "hostname", hostname, "error", err)
			failures++
			continue
		}
		if err := e.store.Queries().Records().Delete(ctx, hostname); err != nil {
			e.logger.Error("remove persisted record", "hostname", hostname, "error", err)
			failures++
			continue
		}
		removed++
		e.publishEvent(ctx, events.RecordEvent{
			Type:     events.TypeRecordRemoved,
			Hostname: hostname,
			Message:  "stale address record retired",
		})
		e.logger.Info("cleaned up stale dns entry", "hostname", hostname)
	}
	return removed, failures
}

func (e *engine) ListRecords(ctx context.Context) ([]db.Record, error) {
	return e.store.Queries().Records().List(ctx)
}

func (e *engine) GetRecord(ctx context.Context, hostname string) (*db.Record, error) {
	return e.store.Queries().Records().Get(ctx, hostname)
}

func (e *engine) RetireRecord(ctx context.Context, hostname string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.store.Queries().Records().Get(ctx, hostname); err != nil {
		return err
	}
	if err := e.dns.Apply(ctx, hostname, nsupdate.ModeDelete); err != nil {
		return err
	}
	if err := e.store.Queries().Records().Delete(ctx, hostname); err != nil {
		return err
	}
	e.publishEvent(ctx, events.RecordEvent{
		Type:     events.TypeRecordRemoved,
		Hostname: hostname,
		Message:  "address record retired on request",
	})
	return nil
}

func (e *engine) Status() Status {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.status
}

func (e *engine) recordFailure(msg string) {
	e.statusMu.Lock()
	e.status.LastError = msg
	e.status.Ticks++
	e.statusMu.Unlock()

	e.publishEvent(context.Background(), events.RecordEvent{
		Type:    events.TypeSyncFailed,
		Errors:  1,
		Message: msg,
	})
}

func (e *engine) publishEvent(ctx context.Context, event events.RecordEvent) {
	if e.bus == nil {
		return
	}
	event.Timestamp = time.Now().UTC()
	if err := e.bus.Publish(ctx, events.TopicRecordEvents, event); err != nil {
		e.logger.Debug("publish event", "type", event.Type, "error", err)
	}
}
