// Package index defines the vector index contract used by the matching core.
//
// The shipped implementation (index/flat) performs exact brute-force search.
// Any replacement (for example an approximate structure at larger scale) must
// preserve the contract: normalized vectors, cosine via inner product, top-k
// in descending score order, monotonic slot assignment.
package index

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/cardexio/cardex/model"
)

var (
	// ErrEmptyVector is returned when an empty vector is supplied.
	ErrEmptyVector = errors.New("index: empty vector")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("index: k must be positive")
)

// ErrDimensionMismatch is returned when a vector does not match the index's
// fixed dimensionality.
type ErrDimensionMismatch struct {
	Expected int // Expected dimensions
	Actual   int // Actual dimensions
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// ErrInvalidDimension is returned when an index is created with a
// non-positive dimension.
type ErrInvalidDimension struct {
	Dimension int
}

func (e *ErrInvalidDimension) Error() string {
	return fmt.Sprintf("invalid dimension: %d", e.Dimension)
}

// ErrSlotOutOfRange is returned when a slot does not exist in the index.
type ErrSlotOutOfRange struct {
	Slot model.Slot
	Size int
}

func (e *ErrSlotOutOfRange) Error() string {
	return fmt.Sprintf("slot %d out of range (index size %d)", e.Slot, e.Size)
}

// Candidate is one search result: a slot and its cosine similarity to the
// query, in [-1, 1].
type Candidate struct {
	Slot  model.Slot
	Score float32
}

// Index is an append-only collection of L2-normalized embedding vectors.
//
// Vectors must be normalized by the caller before Append, ReplaceAt and
// Search; the index does not re-normalize.
type Index interface {
	// Append stores a vector and returns its newly assigned slot.
	// Slots increase monotonically from 0 and are never reused.
	Append(ctx context.Context, v []float32) (model.Slot, error)

	// ReplaceAt overwrites the vector at an existing slot.
	// It never assigns slots.
	ReplaceAt(ctx context.Context, slot model.Slot, v []float32) error

	// Search returns up to k candidates ordered by descending score.
	// A non-nil allow bitmap restricts the scanned slots.
	// An empty index yields an empty result, not an error.
	Search(ctx context.Context, query []float32, k int, allow *roaring.Bitmap) ([]Candidate, error)

	// Len returns the number of stored vectors (the next slot to assign).
	Len() int

	// Dimension returns the fixed vector dimensionality.
	Dimension() int

	// Save serializes the full index state.
	Save(w io.Writer) error
}
