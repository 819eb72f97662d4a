// Package mapping maintains the bijection between durable card identifiers
// and their slots in the vector index.
//
// The mapping is persisted separately from the index; the persistence
// coordinator always saves and loads the two together so a restart never
// observes one ahead of the other.
package mapping

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/cardexio/cardex/model"
)

// ErrConflict is returned when a bind would violate the bijection: the card
// is already bound to a different slot, or the slot to a different card.
// It indicates corruption, not a user error.
type ErrConflict struct {
	CardID       string
	Slot         model.Slot
	ExistingID   string
	ExistingSlot model.Slot
}

func (e *ErrConflict) Error() string {
	return fmt.Sprintf("mapping conflict: bind %q->%d collides with existing %q->%d",
		e.CardID, e.Slot, e.ExistingID, e.ExistingSlot)
}

// Table is an in-memory card_id <-> slot bijection backed by two maps.
// Bound entries are immutable; the table only grows.
type Table struct {
	mu       sync.RWMutex
	idToSlot map[string]model.Slot
	slotToID map[model.Slot]string
}

// New creates an empty mapping table.
func New() *Table {
	return &Table{
		idToSlot: make(map[string]model.Slot),
		slotToID: make(map[model.Slot]string),
	}
}

// Bind records cardID <-> slot. Binding an identical pair again is a no-op;
// any other collision fails with ErrConflict.
func (t *Table) Bind(cardID string, slot model.Slot) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	existingSlot, idBound := t.idToSlot[cardID]
	existingID, slotBound := t.slotToID[slot]

	if idBound && existingSlot == slot && slotBound && existingID == cardID {
		return nil
	}
	if idBound && existingSlot != slot {
		return &ErrConflict{CardID: cardID, Slot: slot, ExistingID: cardID, ExistingSlot: existingSlot}
	}
	if slotBound && existingID != cardID {
		return &ErrConflict{CardID: cardID, Slot: slot, ExistingID: existingID, ExistingSlot: slot}
	}

	t.idToSlot[cardID] = slot
	t.slotToID[slot] = cardID

	return nil
}

// SlotOf returns the slot bound to cardID.
func (t *Table) SlotOf(cardID string) (model.Slot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	slot, ok := t.idToSlot[cardID]
	return slot, ok
}

// CardOf returns the card bound to slot.
func (t *Table) CardOf(slot model.Slot) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.slotToID[slot]
	return id, ok
}

// Len returns the number of bound pairs.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.idToSlot)
}

// Range calls fn for every bound pair until fn returns false.
// Iteration order is unspecified.
func (t *Table) Range(fn func(cardID string, slot model.Slot) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for id, slot := range t.idToSlot {
		if !fn(id, slot) {
			return
		}
	}
}

// Save persists the table to w.
// Format: [Count: 8 bytes] [Entry...]
// Entry: [IDLen: 4 bytes] [ID bytes] [Slot: 4 bytes]
func (t *Table) Save(w io.Writer) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	bw := bufio.NewWriter(w)

	if err := binary.Write(bw, binary.LittleEndian, uint64(len(t.idToSlot))); err != nil {
		return err
	}

	for id, slot := range t.idToSlot {
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(id))); err != nil {
			return err
		}
		if _, err := bw.WriteString(id); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, uint32(slot)); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// Load populates the table from r, replacing any existing contents.
// A stream that violates the bijection fails with ErrConflict.
func (t *Table) Load(r io.Reader) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	br := bufio.NewReader(r)

	var count uint64
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return err
	}

	idToSlot := make(map[string]model.Slot, count)
	slotToID := make(map[model.Slot]string, count)

	for i := uint64(0); i < count; i++ {
		var idLen uint32
		if err := binary.Read(br, binary.LittleEndian, &idLen); err != nil {
			return err
		}
		idBytes := make([]byte, idLen)
		if _, err := io.ReadFull(br, idBytes); err != nil {
			return err
		}
		var slot uint32
		if err := binary.Read(br, binary.LittleEndian, &slot); err != nil {
			return err
		}

		id := string(idBytes)
		if existing, ok := idToSlot[id]; ok {
			return &ErrConflict{CardID: id, Slot: model.Slot(slot), ExistingID: id, ExistingSlot: existing}
		}
		if existing, ok := slotToID[model.Slot(slot)]; ok {
			return &ErrConflict{CardID: id, Slot: model.Slot(slot), ExistingID: existing, ExistingSlot: model.Slot(slot)}
		}
		idToSlot[id] = model.Slot(slot)
		slotToID[model.Slot(slot)] = id
	}

	t.idToSlot = idToSlot
	t.slotToID = slotToID

	return nil
}
