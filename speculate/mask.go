package speculate

import "github.com/ollama/treeserve/model/input"

// TreeMask erzeugt die Maske fuer einen Baum. Zeile i enthaelt die Bits aller
// Vorfahren von i und i selbst.
func TreeMask(t *Tree, nonTreeCacheSize int) input.BitMask {
	m := input.BitMask{NonTreeCacheSize: nonTreeCacheSize, Rows: make([]input.Bits, t.Len())}
	for i, n := range t.Nodes {
		if n.Parent >= 0 {
			m.Rows[i] = append(input.Bits{}, m.Rows[n.Parent]...)
		}
		m.Rows[i].Set(i)
	}
	return m
}

// CausalMask erzeugt die untere Dreiecksmaske fuer n aufeinanderfolgende
// Tokens ab Tiefe first
func CausalMask(first, n int) input.BitMask {
	return TreeMask(Chain(make([]int32, n)), first)
}
