// Package kvcache - Konstruktoren und Speicher-Backends
//
// Dieses Modul enthaelt:
// - DType: Speichertyp der Zellen (f32, f16)
// - NewCache: Erstellt einen Cache fuer eine feste Anzahl Slots
// - Storage: Zell-Speicher hinter dem (Slot, Tiefe)-Zugriff
package kvcache

import (
	"fmt"
	"strings"

	"github.com/x448/float16"
)

// DType ist der Speichertyp der Zellen
type DType int

const (
	DTypeF16 DType = iota
	DTypeF32
)

func (d DType) String() string {
	switch d {
	case DTypeF32:
		return "f32"
	default:
		return "f16"
	}
}

// ParseDType liest einen Speichertyp; leer bedeutet f16
func ParseDType(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "f16":
		return DTypeF16, nil
	case "f32":
		return DTypeF32, nil
	default:
		return DTypeF16, fmt.Errorf("unsupported kv cache type %q", s)
	}
}

// NewCache erstellt einen Cache mit numSlots Slots zu je capacity Zellen
func NewCache(dtype DType, numSlots, capacity, hiddenSize int) *Cache {
	if numSlots <= 0 || capacity <= 0 || hiddenSize <= 0 {
		panic(fmt.Errorf("invalid cache dimensions (slots: %v capacity: %v hidden: %v)", numSlots, capacity, hiddenSize))
	}

	cells := numSlots * capacity

	var storage Storage
	switch dtype {
	case DTypeF32:
		storage = newF32Storage(cells, hiddenSize)
	default:
		storage = newF16Storage(cells, hiddenSize)
	}

	return &Cache{
		DType:      dtype,
		capacity:   capacity,
		hiddenSize: hiddenSize,
		slots:      make([]slotState, numSlots),
		storage:    storage,
	}
}

// Storage haelt die Zellen. Eine Zelle ist ueber cell = slot*capacity+depth adressiert.
type Storage interface {
	Put(cell int, key, value []float32)
	Get(cell int) (key, value []float32)
}

type f32Storage struct {
	hidden int
	keys   []float32
	values []float32
}

func newF32Storage(cells, hidden int) *f32Storage {
	return &f32Storage{
		hidden: hidden,
		keys:   make([]float32, cells*hidden),
		values: make([]float32, cells*hidden),
	}
}

func (s *f32Storage) Put(cell int, key, value []float32) {
	off := cell * s.hidden
	copy(s.keys[off:off+s.hidden], key)
	copy(s.values[off:off+s.hidden], value)
}

func (s *f32Storage) Get(cell int) ([]float32, []float32) {
	off := cell * s.hidden
	key := make([]float32, s.hidden)
	value := make([]float32, s.hidden)
	copy(key, s.keys[off:off+s.hidden])
	copy(value, s.values[off:off+s.hidden])
	return key, value
}

type f16Storage struct {
	hidden int
	keys   []float16.Float16
	values []float16.Float16
}

func newF16Storage(cells, hidden int) *f16Storage {
	return &f16Storage{
		hidden: hidden,
		keys:   make([]float16.Float16, cells*hidden),
		values: make([]float16.Float16, cells*hidden),
	}
}

func (s *f16Storage) Put(cell int, key, value []float32) {
	off := cell * s.hidden
	for i := range s.hidden {
		s.keys[off+i] = float16.Fromfloat32(key[i])
		s.values[off+i] = float16.Fromfloat32(value[i])
	}
}

func (s *f16Storage) Get(cell int) ([]float32, []float32) {
	off := cell * s.hidden
	key := make([]float32, s.hidden)
	value := make([]float32, s.hidden)
	for i := range s.hidden {
		key[i] = s.keys[off+i].Float32()
		value[i] = s.values[off+i].Float32()
	}
	return key, value
}
