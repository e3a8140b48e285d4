// speculate_test.go - Unit Tests fuer Baum, Masken und Verifikation
package speculate

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/ollama/treeserve/model/input"
)

// fakeDraft schlaegt fuer jeden Elternknoten parent*10+1, parent*10+2, ... vor
type fakeDraft struct {
	calls   int
	seen    [][]input.Frontier
	failing bool
}

func (d *fakeDraft) Propose(ctx context.Context, frontier []input.Frontier, branching int) ([][]int32, error) {
	d.calls++
	d.seen = append(d.seen, frontier)
	if d.failing {
		return nil, errors.New("draft down")
	}

	out := make([][]int32, len(frontier))
	for i, f := range frontier {
		for k := range branching {
			out[i] = append(out[i], f.ParentToken*10+int32(k+1))
		}
	}
	return out, nil
}

// binaryTree baut Wurzel 1 mit zwei Ebenen und Verzweigung 2:
//
//	0:1 -> 1:11, 2:12
//	1:11 -> 3:111, 4:112
//	2:12 -> 5:121, 6:122
func binaryTree() *Tree {
	t := NewTree(1)
	a := t.Add(0, 11)
	b := t.Add(0, 12)
	t.Add(a, 111)
	t.Add(a, 112)
	t.Add(b, 121)
	t.Add(b, 122)
	return t
}

// TestTreeMask prueft Vorfahren-Bits und Transitivitaet
func TestTreeMask(t *testing.T) {
	tree := binaryTree()
	m := TreeMask(tree, 5)

	if err := m.Validate(); err != nil {
		t.Fatalf("Validate() Fehler: %v", err)
	}

	cases := []struct {
		row   int
		depth int
		want  bool
	}{
		{0, 4, true},  // committete Historie
		{0, 5, true},  // Wurzel sieht sich selbst
		{0, 6, false}, // Wurzel sieht keine Kinder
		{3, 5, true},  // Enkel sieht Wurzel
		{3, 6, true},  // Enkel sieht Elternknoten
		{3, 7, false}, // aber nicht den Onkel
		{6, 7, true},
		{6, 6, false},
		{6, 10, false}, // Geschwister
		{6, 11, true},
	}
	for _, tt := range cases {
		if got := m.Visible(tt.row, tt.depth); got != tt.want {
			t.Errorf("Visible(%d, %d) = %v, erwartet %v", tt.row, tt.depth, got, tt.want)
		}
	}

	for i := range tree.Nodes {
		if got, want := m.Rows[i].Count(), tree.Nodes[i].Depth+1; got != want {
			t.Errorf("Zeile %d: %d Bits, erwartet %d", i, got, want)
		}
	}
}

// TestCausalMask prueft die untere Dreiecksmaske
func TestCausalMask(t *testing.T) {
	m := CausalMask(3, 4)
	if err := m.Validate(); err != nil {
		t.Fatal(err)
	}

	for i := range 4 {
		for j := range 4 {
			if got, want := m.Visible(i, 3+j), j <= i; got != want {
				t.Errorf("Visible(%d, %d) = %v, erwartet %v", i, 3+j, got, want)
			}
		}
	}
}

// TestMaskValidateRejects prueft dass inkonsistente Masken erkannt werden
func TestMaskValidateRejects(t *testing.T) {
	m := TreeMask(binaryTree(), 0)

	// Enkel 3 sieht den Elternknoten 1, aber nicht mehr die Wurzel
	m.Rows[3] = input.Bits{}
	m.Rows[3].Set(1)
	m.Rows[3].Set(3)

	if err := m.Validate(); !errors.Is(err, input.ErrInconsistentMask) {
		t.Errorf("Validate() = %v, erwartet ErrInconsistentMask", err)
	}
}

// TestVerify prueft Akzeptanz, Bonus und Tie-Break
func TestVerify(t *testing.T) {
	tree := binaryTree()

	cases := map[string]struct {
		predictions []int32
		path        []int
		bonus       int32
	}{
		"nothing accepted": {
			predictions: []int32{99, 0, 0, 0, 0, 0, 0},
			path:        []int{0},
			bonus:       99,
		},
		"first child only": {
			predictions: []int32{11, 7, 0, 0, 0, 0, 0},
			path:        []int{0, 1},
			bonus:       7,
		},
		"second branch full depth": {
			predictions: []int32{12, 0, 122, 0, 0, 0, 5},
			path:        []int{0, 2, 6},
			bonus:       5,
		},
		"unreachable grandchild": {
			// 112 waere korrekt nach 11, aber 11 wurde nicht bestaetigt
			predictions: []int32{12, 112, 0, 0, 0, 0, 0},
			path:        []int{0, 2},
			bonus:       0,
		},
		"first branch full depth": {
			predictions: []int32{11, 111, 0, 8, 0, 0, 0},
			path:        []int{0, 1, 3},
			bonus:       8,
		},
	}

	for name, tt := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := Verify(tree, tt.predictions)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.path, got.Path); diff != "" {
				t.Errorf("Path (-want +got):\n%s", diff)
			}
			if got.Bonus != tt.bonus {
				t.Errorf("Bonus = %d, erwartet %d", got.Bonus, tt.bonus)
			}
		})
	}
}

// TestVerifyDuplicateSiblings prueft dass bei doppelten Geschwistern der
// frueher erzeugte Knoten gewinnt
func TestVerifyDuplicateSiblings(t *testing.T) {
	tree := NewTree(1)
	tree.Add(0, 5)
	tree.Add(0, 5)

	got, err := Verify(tree, []int32{5, 9, 8})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Acceptance{Path: []int{0, 1}, Bonus: 9}, got); diff != "" {
		t.Errorf("Acceptance (-want +got):\n%s", diff)
	}
}

// TestVerifyPredictionCount prueft die Laengenpruefung
func TestVerifyPredictionCount(t *testing.T) {
	if _, err := Verify(binaryTree(), []int32{1, 2}); !errors.Is(err, ErrPredictionCount) {
		t.Errorf("Verify() = %v, erwartet ErrPredictionCount", err)
	}
}

// TestPlanOnlyAccepted prueft dass nur akzeptierte Knoten geschrieben werden
func TestPlanOnlyAccepted(t *testing.T) {
	tree := binaryTree()
	id := uuid.New()

	acc, err := Verify(tree, []int32{11, 7, 0, 0, 0, 0, 0})
	if err != nil {
		t.Fatal(err)
	}

	got := Plan(tree, acc, Placement{RequestID: id, Slot: 2, Offset: 10, Depth: 40})
	want := []input.CommittedToken{
		{RequestID: id, Slot: 2, SourceIndex: 10, Depth: 40, Token: 1},
		{RequestID: id, Slot: 2, SourceIndex: 11, Depth: 41, Token: 11},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Plan (-want +got):\n%s", diff)
	}
	if acc.Speculative() != 1 {
		t.Errorf("Speculative() = %d, erwartet 1", acc.Speculative())
	}
}

// TestAcceptChain prueft die Akzeptanz von Prompt-Tokens
func TestAcceptChain(t *testing.T) {
	chain := Chain([]int32{4, 5, 6})
	acc, err := Accept(chain, []int32{9, 9, 3})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Acceptance{Path: []int{0, 1, 2}, Bonus: 3}, acc); diff != "" {
		t.Errorf("Acceptance (-want +got):\n%s", diff)
	}
}

// TestBuild prueft Breitensuche, Batching und Historie
func TestBuild(t *testing.T) {
	d := &fakeDraft{}
	b := &Builder{Draft: d}

	roots := []Root{
		{RequestID: uuid.New(), History: []int32{7, 1}, Branching: 2, MaxDepth: 2, MaxNodes: 20},
		{RequestID: uuid.New(), History: []int32{2}, Branching: 1, MaxDepth: 3, MaxNodes: 20},
	}

	trees, err := b.Build(context.Background(), roots, 100)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(binaryTree().Nodes, trees[0].Nodes); diff != "" {
		t.Errorf("Baum 0 (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int32{2, 21, 211, 2111}, trees[1].Tokens()); diff != "" {
		t.Errorf("Baum 1 (-want +got):\n%s", diff)
	}

	// Eine Draft-Anfrage pro Ebene ueber alle Requests
	if d.calls != 3 {
		t.Errorf("Propose aufgerufen: %d, erwartet 3", d.calls)
	}

	// Die Historie enthaelt die committeten Tokens und den Pfad
	if diff := cmp.Diff([]int32{7, 1, 12}, d.seen[1][1].History); diff != "" {
		t.Errorf("History (-want +got):\n%s", diff)
	}
}

// TestBuildBudget prueft dass spaetere Vorschlaege zuerst verworfen werden
func TestBuildBudget(t *testing.T) {
	cases := map[string]struct {
		budget   int
		maxNodes int
		want     []int32
	}{
		"batch budget":    {budget: 3, maxNodes: 20, want: []int32{1, 11, 12, 111}},
		"tree limit":      {budget: 100, maxNodes: 5, want: []int32{1, 11, 12, 111, 112}},
		"no budget":       {budget: 0, maxNodes: 20, want: []int32{1}},
		"root only limit": {budget: 100, maxNodes: 1, want: []int32{1}},
	}

	for name, tt := range cases {
		t.Run(name, func(t *testing.T) {
			b := &Builder{Draft: &fakeDraft{}}
			trees, err := b.Build(context.Background(), []Root{{History: []int32{1}, Branching: 2, MaxDepth: 2, MaxNodes: tt.maxNodes}}, tt.budget)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, trees[0].Tokens()); diff != "" {
				t.Errorf("Tokens (-want +got):\n%s", diff)
			}
		})
	}
}

// TestBuildDraftFailure prueft den Rueckfall auf Baeume ohne Kinder
func TestBuildDraftFailure(t *testing.T) {
	b := &Builder{Draft: &fakeDraft{failing: true}}
	trees, err := b.Build(context.Background(), []Root{{History: []int32{3, 4}, Branching: 2, MaxDepth: 2, MaxNodes: 20}}, 10)
	if err != nil {
		t.Fatalf("Build() Fehler: %v", err)
	}
	if diff := cmp.Diff([]int32{4}, trees[0].Tokens()); diff != "" {
		t.Errorf("Tokens (-want +got):\n%s", diff)
	}
}

// TestBuildCanceled prueft den Abbruch ueber den Context
func TestBuildCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := &Builder{Draft: &fakeDraft{}}
	if _, err := b.Build(ctx, []Root{{History: []int32{1}, Branching: 2, MaxDepth: 2, MaxNodes: 20}}, 10); !errors.Is(err, context.Canceled) {
		t.Errorf("Build() = %v, erwartet context.Canceled", err)
	}
}
