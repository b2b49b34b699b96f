// Package adapter turns raw source documents into ordered rows of fields.
package adapter

import (
	"context"

	"sjsage522/bcfinder/internal/record"
)

// Batch is the result of one extraction: the page schema and the rows in
// document order. Rows are not fingerprinted yet.
type Batch struct {
	Schema *record.Schema
	Rows   [][]record.Field
}

// Adapter is the extraction strategy of one source
type Adapter interface {
	// Fetch retrieves the source's entry point
	Fetch(ctx context.Context) ([]byte, error)

	// Extract parses the raw entry point into rows. It may fetch further
	// pages (detail pages) through the same base.
	Extract(ctx context.Context, raw []byte) (*Batch, error)

	// Normalizer returns the canonicalization rules for this source's fields
	Normalizer() record.Normalizer
}
