// Package kvcache - Typen und Datenstrukturen
//
// Dieses Modul enthaelt:
// - Cache: Tiefen-indizierter K/V-Speicher pro Batch-Slot
// - Reader: Lesezugriff fuer den Evaluator
// - Fehler-Definitionen
package kvcache

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrCapacityExceeded: Schreiben jenseits der Slot-Kapazitaet
	ErrCapacityExceeded = errors.New("kv cache capacity exceeded")

	// ErrBeyondDepth: Lesen jenseits der aufgezeichneten Tiefe des Slots
	ErrBeyondDepth = errors.New("read beyond recorded depth")

	// ErrSlotInUse: Slot ist bereits belegt
	ErrSlotInUse = errors.New("slot already in use")

	// ErrSlotNotBound: Slot hat keinen Besitzer
	ErrSlotNotBound = errors.New("slot not bound")

	// ErrInvalidSlot: Slot-Index ausserhalb des Caches
	ErrInvalidSlot = errors.New("invalid slot")

	// ErrInconsistentVector: Key/Value-Laenge passt nicht zur Hidden Size
	ErrInconsistentVector = errors.New("inconsistent vector size")
)

// Reader ist der Lesezugriff den der Evaluator auf die Historie bekommt
type Reader interface {
	ReadRange(slot, from, to int) (keys, values [][]float32, err error)
	Depth(slot int) int
}

// Cache speichert Key/Value-Vektoren pro (Slot, Tiefe).
//
// Die Zellen eines Slots werden beim Freigeben nicht geloescht. Ein neuer
// Besitzer beginnt mit Tiefe 0 und kann nur lesen was er selbst
// committed hat.
type Cache struct {
	DType DType

	// capacity ist die Anzahl der Zellen pro Slot (= max sequence length)
	capacity int

	// hiddenSize ist die Laenge eines Key- bzw. Value-Vektors
	hiddenSize int

	mu      sync.RWMutex
	slots   []slotState
	storage Storage
	stats   Stats
}

type slotState struct {
	owner uuid.UUID
	inUse bool

	// depth ist die aufgezeichnete (committete) Tiefe
	depth int
}

// Stats zaehlt Zugriffe auf den Cache
type Stats struct {
	Writes int64
	Reads  int64
}
