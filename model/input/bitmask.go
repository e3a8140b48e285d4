package input

import (
	"errors"
	"fmt"
	"math/bits"
)

var (
	ErrInconsistentMask  = errors.New("inconsistent attention mask")
	ErrInconsistentBatch = errors.New("inconsistent batch")
)

// Bits is a growable bit vector.
type Bits []uint64

func (b Bits) Has(j int) bool {
	w := j / 64
	return j >= 0 && w < len(b) && b[w]&(1<<(j%64)) != 0
}

func (b *Bits) Set(j int) {
	w := j / 64
	for len(*b) <= w {
		*b = append(*b, 0)
	}
	(*b)[w] |= 1 << (j % 64)
}

// Last returns the highest set bit, or -1.
func (b Bits) Last() int {
	for w := len(b) - 1; w >= 0; w-- {
		if b[w] != 0 {
			return w*64 + 63 - bits.LeadingZeros64(b[w])
		}
	}
	return -1
}

func (b Bits) Count() int {
	n := 0
	for _, w := range b {
		n += bits.OnesCount64(w)
	}
	return n
}

// BitMask is the visibility mask of one request in a batch. Row i belongs to
// the i-th token of the request in the batch. Depths below NonTreeCacheSize
// are committed history and visible to every row; depth d at or above the
// boundary is visible to row i iff bit d-NonTreeCacheSize of row i is set.
type BitMask struct {
	NonTreeCacheSize int
	Rows             []Bits
}

func (m BitMask) Len() int {
	return len(m.Rows)
}

// Visible reports whether row i may attend to the token at depth.
func (m BitMask) Visible(i, depth int) bool {
	if depth < 0 || i < 0 || i >= len(m.Rows) {
		return false
	}
	if depth < m.NonTreeCacheSize {
		return true
	}
	return m.Rows[i].Has(depth - m.NonTreeCacheSize)
}

// Validate checks that each row sees itself and nothing after itself, and
// that ancestry is transitive. Row i without bit i must equal the row of its
// nearest visible predecessor, so each row is compared against one other row.
func (m BitMask) Validate() error {
	if m.NonTreeCacheSize < 0 {
		return fmt.Errorf("%w: negative boundary %d", ErrInconsistentMask, m.NonTreeCacheSize)
	}

	for i, row := range m.Rows {
		if !row.Has(i) {
			return fmt.Errorf("%w: row %d does not see itself", ErrInconsistentMask, i)
		}
		if last := row.Last(); last != i {
			return fmt.Errorf("%w: row %d sees later row %d", ErrInconsistentMask, i, last)
		}

		p := row.lastBelow(i)
		var parent Bits
		if p >= 0 {
			parent = m.Rows[p]
		}

		for w := range max(len(row), len(parent)) {
			got := row.word(w)
			if w == i/64 {
				got &^= 1 << (i % 64)
			}
			if diff := got ^ parent.word(w); diff != 0 {
				k := w*64 + bits.TrailingZeros64(diff)
				return fmt.Errorf("%w: row %d disagrees with parent row %d at bit %d", ErrInconsistentMask, i, p, k)
			}
		}
	}
	return nil
}

func (b Bits) word(w int) uint64 {
	if w < len(b) {
		return b[w]
	}
	return 0
}

// lastBelow returns the highest set bit below j, or -1.
func (b Bits) lastBelow(j int) int {
	for w := min(j/64, len(b)-1); w >= 0; w-- {
		word := b[w]
		if w == j/64 {
			word &= 1<<(j%64) - 1
		}
		if word != 0 {
			return w*64 + 63 - bits.LeadingZeros64(word)
		}
	}
	return -1
}
