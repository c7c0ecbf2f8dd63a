package storage

import (
	"errors"

	"github.com/timegraph/timegraph/pkg/types"
)

var (
	// ErrNotFound indicates that the requested entity, relation or job was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrConflict indicates a create on a natural key that already has a current version.
	ErrConflict = errors.New("resource already exists")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAlreadyProcessing indicates that a batch-processing run is already in flight.
	ErrAlreadyProcessing = errors.New("batch processing already in progress")
)

// SearchOptions controls semantic search.
type SearchOptions struct {
	// Limit is the maximum number of results to return (default: 10, max: 100).
	Limit int

	// MinSimilarity is the minimum similarity score in [0.0, 1.0].
	MinSimilarity float64
}

// Normalize applies defaults and clamps the options.
func (o *SearchOptions) Normalize() {
	if o.Limit < 1 {
		o.Limit = 10
	}
	if o.Limit > 100 {
		o.Limit = 100
	}
	if o.MinSimilarity < 0.0 {
		o.MinSimilarity = 0.0
	}
	if o.MinSimilarity > 1.0 {
		o.MinSimilarity = 1.0
	}
}

// ScoredEntity is a semantic search hit: an entity plus its similarity score
// against the query vector, scaled to [0.0, 1.0].
type ScoredEntity struct {
	Entity     types.Entity `json:"entity"`
	Similarity float64      `json:"similarity"`
}
