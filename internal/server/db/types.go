// Copyright (c) 2025 FatalMerlin
//
// BSD 3-Clause License
// See LICENSE file in the project root for details.

package db

import (
	"context"
	"errors"
)

// Record models the database representation of a published hostname.
type Record struct {
	Hostname string
	Router   string
}

// ErrRecordNotFound is returned when a hostname has no persisted record.
var ErrRecordNotFound = errors.New("db: record not found")

// Store describes the persistence surface consumed by the reconciler.
type Store interface {
	Close(ctx context.Context) error
	Queries() Queries
	WithTx(ctx context.Context, fn func(Queries) error) error
}

// Queries exposes repository accessors bound to a specific connection scope
// (either the root connection or a transaction).
type Queries interface {
	Records() RecordRepository
}

// RecordRepository manages the durable hostname → router mapping. Each call
// commits independently; a crash mid-update must not corrupt the table.
type RecordRepository interface {
	// Upsert idempotently records that hostname is published and owned by
	// router, overwriting any previous owner.
	Upsert(ctx context.Context, hostname, router string) error
	// Get returns the record for hostname, or ErrRecordNotFound.
	Get(ctx context.Context, hostname string) (*Record, error)
	// List returns every persisted record ordered by hostname.
	List(ctx context.Context) ([]Record, error)
	// ListHostnames returns every persisted hostname ordered by hostname.
	ListHostnames(ctx context.Context) ([]string, error)
	// Delete removes the record for hostname; deleting an absent hostname
	// is not an error.
	Delete(ctx context.Context, hostname string) error
}
