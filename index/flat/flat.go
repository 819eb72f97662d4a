// Package flat provides the brute-force flat implementation of the vector
// index: an in-memory array of normalized vectors searched by exact inner
// product.
package flat

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/cardexio/cardex/distance"
	"github.com/cardexio/cardex/index"
	"github.com/cardexio/cardex/model"
	"github.com/cardexio/cardex/queue"
)

// Compile-time check to ensure Index satisfies the index contract.
var _ index.Index = (*Index)(nil)

// indexState holds the immutable state of the index for lock-free reads.
// Rows are never mutated in place: ReplaceAt installs a fresh row slice.
type indexState struct {
	vectors [][]float32
}

// Index is a flat vector index using a copy-on-write pattern: searches read
// an immutable snapshot and never block writers.
type Index struct {
	state     atomic.Value // holds *indexState
	writeMu   sync.Mutex   // serializes writes only
	dimension int          // immutable after construction
}

// New creates an empty flat index with the given fixed dimensionality.
func New(dimension int) (*Index, error) {
	if dimension <= 0 {
		return nil, &index.ErrInvalidDimension{Dimension: dimension}
	}

	idx := &Index{dimension: dimension}
	idx.state.Store(&indexState{vectors: make([][]float32, 0)})

	return idx, nil
}

// getState returns the current immutable state (lock-free read).
func (idx *Index) getState() *indexState {
	return idx.state.Load().(*indexState)
}

// cloneState copies the row pointer slice for copy-on-write.
func (idx *Index) cloneState(st *indexState) *indexState {
	vectors := make([][]float32, len(st.vectors))
	copy(vectors, st.vectors)
	return &indexState{vectors: vectors}
}

func (idx *Index) checkVector(v []float32) error {
	if len(v) == 0 {
		return index.ErrEmptyVector
	}
	if len(v) != idx.dimension {
		return &index.ErrDimensionMismatch{Expected: idx.dimension, Actual: len(v)}
	}
	return nil
}

// Append stores a copy of v and returns its newly assigned slot.
// The caller must supply an L2-normalized vector.
func (idx *Index) Append(ctx context.Context, v []float32) (model.Slot, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := idx.checkVector(v); err != nil {
		return 0, err
	}

	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	row := make([]float32, len(v))
	copy(row, v)

	newState := idx.cloneState(idx.getState())
	slot := model.Slot(len(newState.vectors))
	newState.vectors = append(newState.vectors, row)

	idx.state.Store(newState)

	return slot, nil
}

// ReplaceAt overwrites the vector stored at slot with a copy of v.
func (idx *Index) ReplaceAt(ctx context.Context, slot model.Slot, v []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := idx.checkVector(v); err != nil {
		return err
	}

	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	oldState := idx.getState()
	if int(slot) >= len(oldState.vectors) {
		return &index.ErrSlotOutOfRange{Slot: slot, Size: len(oldState.vectors)}
	}

	row := make([]float32, len(v))
	copy(row, v)

	newState := idx.cloneState(oldState)
	newState.vectors[slot] = row

	idx.state.Store(newState)

	return nil
}

// Search performs an exact brute-force scan over the snapshot taken at call
// time and returns up to k candidates by descending inner-product score.
func (idx *Index) Search(ctx context.Context, query []float32, k int, allow *roaring.Bitmap) ([]index.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, index.ErrInvalidK
	}

	st := idx.getState()
	if len(st.vectors) == 0 {
		return nil, nil
	}
	if len(query) != idx.dimension {
		return nil, &index.ErrDimensionMismatch{Expected: idx.dimension, Actual: len(query)}
	}

	actualK := k
	if actualK > len(st.vectors) {
		actualK = len(st.vectors)
	}

	// Bounded min-heap: the worst retained score sits on top and is evicted
	// whenever a better candidate arrives.
	top := queue.NewMin(actualK)

	for slot, vec := range st.vectors {
		if allow != nil && !allow.Contains(uint32(slot)) {
			continue
		}

		score := distance.Dot(query, vec)

		if top.Len() < actualK {
			top.Push(queue.Item{Slot: uint32(slot), Score: score})
			continue
		}
		if worst, _ := top.Top(); score > worst.Score {
			top.Pop()
			top.Push(queue.Item{Slot: uint32(slot), Score: score})
		}
	}

	results := make([]index.Candidate, top.Len())
	for i := top.Len() - 1; i >= 0; i-- {
		it, _ := top.Pop()
		results[i] = index.Candidate{Slot: model.Slot(it.Slot), Score: it.Score}
	}

	return results, nil
}

// Len returns the number of stored vectors, which equals the next slot to
// be assigned.
func (idx *Index) Len() int {
	return len(idx.getState().vectors)
}

// Dimension returns the fixed vector dimensionality.
func (idx *Index) Dimension() int {
	return idx.dimension
}

// VectorAt returns the vector stored at slot. The returned slice is shared
// with the index snapshot and must be treated as read-only.
func (idx *Index) VectorAt(slot model.Slot) ([]float32, bool) {
	st := idx.getState()
	if int(slot) >= len(st.vectors) {
		return nil, false
	}
	return st.vectors[slot], true
}
