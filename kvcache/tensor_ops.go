// Package kvcache - Lese- und Schreiboperationen
//
// Dieses Modul enthaelt:
// - Write: Ueberschreibt die Zelle (Slot, Tiefe)
// - ReadRange: Liest committete Zellen eines Slots
// - Stats: Zugriffszaehler
package kvcache

import "fmt"

// Write ueberschreibt die Zelle (slot, depth) ohne Bedingung. Ein spaeterer
// Write mit dem committeten Token an derselben Tiefe ersetzt alte Daten.
func (c *Cache) Write(slot, depth int, key, value []float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.slot(slot)
	if err != nil {
		return err
	}
	if !s.inUse {
		return fmt.Errorf("%w: %d", ErrSlotNotBound, slot)
	}
	if depth < 0 || depth >= c.capacity {
		return fmt.Errorf("%w: depth %d (capacity: %d)", ErrCapacityExceeded, depth, c.capacity)
	}
	if len(key) != c.hiddenSize || len(value) != c.hiddenSize {
		return fmt.Errorf("%w: key %d value %d (hidden: %d)", ErrInconsistentVector, len(key), len(value), c.hiddenSize)
	}

	c.storage.Put(slot*c.capacity+depth, key, value)
	c.stats.Writes++
	return nil
}

// ReadRange liest die Zellen [from, to) des Slots. to darf die aufgezeichnete
// Tiefe nicht ueberschreiten.
func (c *Cache) ReadRange(slot, from, to int) ([][]float32, [][]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.slot(slot)
	if err != nil {
		return nil, nil, err
	}
	if !s.inUse {
		return nil, nil, fmt.Errorf("%w: %d", ErrSlotNotBound, slot)
	}
	if from < 0 || from > to {
		return nil, nil, fmt.Errorf("invalid range [%d, %d)", from, to)
	}
	if to > s.depth {
		return nil, nil, fmt.Errorf("%w: [%d, %d) depth %d", ErrBeyondDepth, from, to, s.depth)
	}

	keys := make([][]float32, 0, to-from)
	values := make([][]float32, 0, to-from)
	for d := from; d < to; d++ {
		k, v := c.storage.Get(slot*c.capacity + d)
		keys = append(keys, k)
		values = append(values, v)
	}

	c.stats.Reads += int64(to - from)
	return keys, values, nil
}

// Stats gibt die Zugriffszaehler zurueck
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}
