// Package speculate - Spekulationsbaum, Masken und Verifikation
//
// Dieses Modul enthaelt:
// - Node: Ein Knoten im Spekulationsbaum
// - Tree: Knoten-Arena, Index = Bit-Position in der Maske
// - Chain: Linearer Baum fuer Prefill und normalen Decode
//
// Weitere Funktionen sind ausgelagert:
// - builder.go: Breitensuche ueber das Draft-Model
// - mask.go: Kausale Bitmasken
// - verify.go: Akzeptanz und Commit-Plan
package speculate

// Node ist ein Knoten im Spekulationsbaum
type Node struct {
	Token int32

	// Parent ist der Index des Elternknotens, -1 fuer die Wurzel
	Parent int

	// Depth ist die Tiefe relativ zur Wurzel
	Depth int
}

// Tree speichert die Knoten in Erzeugungsreihenfolge. Eltern stehen immer
// vor ihren Kindern.
type Tree struct {
	Nodes []Node
}

// NewTree erstellt einen Baum mit nur der Wurzel
func NewTree(root int32) *Tree {
	return &Tree{Nodes: []Node{{Token: root, Parent: -1}}}
}

// Chain erstellt einen linearen Baum, jeder Token ist Kind des vorherigen
func Chain(tokens []int32) *Tree {
	t := &Tree{Nodes: make([]Node, len(tokens))}
	for i, tok := range tokens {
		t.Nodes[i] = Node{Token: tok, Parent: i - 1, Depth: i}
	}
	return t
}

// Add haengt einen Knoten an parent und gibt seinen Index zurueck
func (t *Tree) Add(parent int, token int32) int {
	t.Nodes = append(t.Nodes, Node{Token: token, Parent: parent, Depth: t.Nodes[parent].Depth + 1})
	return len(t.Nodes) - 1
}

func (t *Tree) Len() int {
	return len(t.Nodes)
}

// Tokens gibt die Tokens in Erzeugungsreihenfolge zurueck
func (t *Tree) Tokens() []int32 {
	out := make([]int32, len(t.Nodes))
	for i, n := range t.Nodes {
		out[i] = n.Token
	}
	return out
}

// Path gibt die Indizes von der Wurzel bis einschliesslich i zurueck
func (t *Tree) Path(i int) []int {
	path := make([]int, t.Nodes[i].Depth+1)
	for ; i >= 0; i = t.Nodes[i].Parent {
		path[t.Nodes[i].Depth] = i
	}
	return path
}

// PathTokens gibt die Tokens auf dem Pfad zu i zurueck
func (t *Tree) PathTokens(i int) []int32 {
	path := t.Path(i)
	out := make([]int32, len(path))
	for k, idx := range path {
		out[k] = t.Nodes[idx].Token
	}
	return out
}
