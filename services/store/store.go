// Package store persists the fingerprints of records that were already
// announced, one table per source.
package store

import (
	"context"

	"sjsage522/bcfinder/internal/record"
)

// Store is the dedup store used by the worker
type Store interface {
	// EnsureTable creates the source table if needed and adds any missing columns
	EnsureTable(ctx context.Context, table string, columns []string) error

	// Exists reports whether a fingerprint was already persisted
	Exists(ctx context.Context, table, fingerprint string) (bool, error)

	// Insert persists a record. A stored fingerprint yields a constraint violation.
	Insert(ctx context.Context, table string, rec record.Record) error

	// Close closes the underlying database
	Close() error
}
