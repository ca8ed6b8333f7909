package index

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	// ErrNotFound is returned by Get and Delete for an id with no entry.
	ErrNotFound = errors.New("index entry not found")

	// ErrDimensionMismatch is returned when a vector's length differs from
	// the dimension the index recorded on its first write.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrInvalidArgument covers empty ids, empty vectors and non-positive k.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Index stores one vector and payload per profile id and answers cosine
// nearest-neighbor queries over them.
//
// Search never filters by id; callers that want to exclude the query's own
// entry must do so themselves. Results are ordered by score descending with
// ties broken by id ascending.
type Index interface {
	// Upsert inserts or fully replaces the entry for e.ID. It is atomic per id.
	Upsert(ctx context.Context, e Entry) error

	// Search returns up to k entries whose cosine similarity to query is at
	// least threshold.
	Search(ctx context.Context, query []float32, k int, threshold float32) ([]Scored, error)

	// Get returns the stored entry for id.
	Get(ctx context.Context, id string) (Entry, error)

	// Delete removes the entry for id.
	Delete(ctx context.Context, id string) error

	// Count returns the number of stored entries.
	Count(ctx context.Context) (int, error)

	// Dimension returns the recorded vector length, or 0 for a fresh index.
	Dimension(ctx context.Context) (int, error)

	// Reset removes every entry and forgets the recorded dimension.
	Reset(ctx context.Context) error
}

// Entry is one indexed profile.
type Entry struct {
	ID        string
	Vector    []float32
	Payload   map[string]any
	UpdatedAt time.Time
}

// Scored is a search hit. Vector is left empty.
type Scored struct {
	Entry
	Score float32
}

func validateEntry(e Entry) error {
	if e.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidArgument)
	}
	if len(e.Vector) == 0 {
		return fmt.Errorf("%w: empty vector for %s", ErrInvalidArgument, e.ID)
	}
	return nil
}

func validateQuery(query []float32, k int) error {
	if k <= 0 {
		return fmt.Errorf("%w: k must be positive, got %d", ErrInvalidArgument, k)
	}
	if len(query) == 0 {
		return fmt.Errorf("%w: empty query vector", ErrInvalidArgument)
	}
	return nil
}

func checkDimension(stored, got int) error {
	if stored != 0 && stored != got {
		return fmt.Errorf("%w: index has %d, got %d", ErrDimensionMismatch, stored, got)
	}
	return nil
}

// sortScored orders hits by score descending, then id ascending.
func sortScored(results []Scored) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
}
