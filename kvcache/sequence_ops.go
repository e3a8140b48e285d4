// Package kvcache - Slot-Operationen
//
// Dieses Modul verwaltet die Belegung der Slots:
// - Bind: Weist einen Slot einem Request zu (Tiefe 0)
// - Release: Gibt einen Slot frei ohne die Zellen zu loeschen
// - Advance: Erhoeht die aufgezeichnete Tiefe (monoton)
// - Truncate: Setzt die Tiefe explizit zurueck
// - Depth/Owner: Abfragen
package kvcache

import (
	"fmt"

	"github.com/google/uuid"
)

func (c *Cache) slot(slot int) (*slotState, error) {
	if slot < 0 || slot >= len(c.slots) {
		return nil, fmt.Errorf("%w: %d (slots: %d)", ErrInvalidSlot, slot, len(c.slots))
	}
	return &c.slots[slot], nil
}

// Bind weist den Slot owner zu. Der neue Besitzer sieht keine alten Daten.
func (c *Cache) Bind(slot int, owner uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.slot(slot)
	if err != nil {
		return err
	}
	if s.inUse && s.owner != owner {
		return fmt.Errorf("%w: slot %d owned by %s", ErrSlotInUse, slot, s.owner)
	}

	*s = slotState{owner: owner, inUse: true}
	return nil
}

// Release gibt den Slot frei. Die Zellen bleiben bis zum naechsten Write stehen.
func (c *Cache) Release(slot int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, err := c.slot(slot); err == nil {
		*s = slotState{}
	}
}

// Advance setzt die aufgezeichnete Tiefe auf max(aktuell, depth)
func (c *Cache) Advance(slot, depth int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.slot(slot)
	if err != nil {
		return err
	}
	if !s.inUse {
		return fmt.Errorf("%w: %d", ErrSlotNotBound, slot)
	}
	if depth > c.capacity {
		return fmt.Errorf("%w: depth %d (capacity: %d)", ErrCapacityExceeded, depth, c.capacity)
	}

	s.depth = max(s.depth, depth)
	return nil
}

// Truncate setzt die Tiefe zurueck; Zellen dahinter sind danach nicht mehr lesbar
func (c *Cache) Truncate(slot, depth int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.slot(slot)
	if err != nil {
		return err
	}
	if !s.inUse {
		return fmt.Errorf("%w: %d", ErrSlotNotBound, slot)
	}

	s.depth = max(0, min(s.depth, depth))
	return nil
}

// Depth gibt die aufgezeichnete Tiefe zurueck; 0 fuer freie Slots
func (c *Cache) Depth(slot int) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, err := c.slot(slot)
	if err != nil {
		return 0
	}
	return s.depth
}

// Owner gibt den Besitzer des Slots zurueck
func (c *Cache) Owner(slot int) (uuid.UUID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, err := c.slot(slot)
	if err != nil || !s.inUse {
		return uuid.Nil, false
	}
	return s.owner, true
}

// Capacity gibt die Zellen pro Slot zurueck
func (c *Cache) Capacity() int {
	return c.capacity
}

// NumSlots gibt die Anzahl der Slots zurueck
func (c *Cache) NumSlots() int {
	return len(c.slots)
}
