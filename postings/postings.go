// Package postings maintains per-category posting lists of index slots,
// used to restrict an embedding search to a single card category.
package postings

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/cardexio/cardex/model"
)

// Set maps each category to the roaring bitmap of slots whose cards belong
// to it. It is rebuilt from the metadata store at startup and kept current
// on every insert; it is not persisted.
type Set struct {
	mu         sync.RWMutex
	byCategory map[string]*roaring.Bitmap
}

// New creates an empty posting set.
func New() *Set {
	return &Set{byCategory: make(map[string]*roaring.Bitmap)}
}

// Add records that slot belongs to category.
func (s *Set) Add(category string, slot model.Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bm, ok := s.byCategory[category]
	if !ok {
		bm = roaring.New()
		s.byCategory[category] = bm
	}
	bm.Add(uint32(slot))
}

// Bitmap returns a copy of the posting list for category, safe to hand to a
// concurrent search. The second return is false when the category has no
// indexed slots.
func (s *Set) Bitmap(category string) (*roaring.Bitmap, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bm, ok := s.byCategory[category]
	if !ok {
		return nil, false
	}
	return bm.Clone(), true
}

// Cardinality returns the number of indexed slots in category.
func (s *Set) Cardinality(category string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bm, ok := s.byCategory[category]
	if !ok {
		return 0
	}
	return bm.GetCardinality()
}
