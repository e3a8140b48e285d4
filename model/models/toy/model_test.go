// model_test.go - Unit Tests fuer das Referenz-Model
package toy

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/ollama/treeserve/kvcache"
	"github.com/ollama/treeserve/model"
	"github.com/ollama/treeserve/model/input"
)

func newToy(t *testing.T, every int) (*Evaluator, *Draft) {
	t.Helper()
	m, err := model.New("toy", model.Config{VocabSize: 100, HiddenSize: 4, DraftAccuracy: every})
	if err != nil {
		t.Fatalf("model.New Fehler: %v", err)
	}
	return m.Evaluator.(*Evaluator), m.Draft.(*Draft)
}

func causal(first, n int) input.BitMask {
	m := input.BitMask{NonTreeCacheSize: first, Rows: make([]input.Bits, n)}
	for i := range n {
		for j := range i + 1 {
			m.Rows[i].Set(j)
		}
	}
	return m
}

// TestKeyRoundTrip prueft dass Token-IDs auch in f16 erhalten bleiben
func TestKeyRoundTrip(t *testing.T) {
	e := &Evaluator{VocabSize: 32000, HiddenSize: 4}
	c := kvcache.NewCache(kvcache.DTypeF16, 1, 4, 4)
	if err := c.Bind(0, uuid.New()); err != nil {
		t.Fatal(err)
	}

	want := []int32{0, 1023, 1024, 31999}
	for d, tok := range want {
		if err := c.Write(0, d, e.EncodeKey(tok, d), e.encodeValue(tok, d)); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.Advance(0, len(want)); err != nil {
		t.Fatal(err)
	}

	keys, _, err := c.ReadRange(0, 0, len(want))
	if err != nil {
		t.Fatal(err)
	}

	got := make([]int32, len(keys))
	for i, k := range keys {
		got[i] = DecodeKey(k)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Token-IDs (-want +got):\n%s", diff)
	}
}

// TestForwardUsesHistory prueft dass Prefill in einem Stueck und in zwei
// Stuecken (mit Cache) dieselben Vorhersagen liefert
func TestForwardUsesHistory(t *testing.T) {
	e, _ := newToy(t, 0)
	prompt := []int32{5, 9, 13, 2}
	ctx := context.Background()

	whole := kvcache.NewCache(kvcache.DTypeF32, 1, 16, 4)
	id := uuid.New()
	if err := whole.Bind(0, id); err != nil {
		t.Fatal(err)
	}

	batch := &input.BatchConfig{Requests: []input.RequestInfo{{
		RequestID: id, NumTokensInBatch: len(prompt), PromptPhase: true, Mask: causal(0, len(prompt)),
	}}}
	for i, tok := range prompt {
		batch.Tokens = append(batch.Tokens, input.Token{ID: tok, Depth: i, Bit: i})
	}

	out, err := e.Forward(ctx, batch, whole)
	if err != nil {
		t.Fatalf("Forward Fehler: %v", err)
	}
	for i := range prompt {
		if want := Next(prompt[:i+1], 100); out.Predictions[i] != want {
			t.Errorf("Vorhersage %d: erwartet %d, bekommen %d", i, want, out.Predictions[i])
		}
	}

	// Zweite Haelfte mit den ersten zwei Tokens im Cache
	split := kvcache.NewCache(kvcache.DTypeF32, 1, 16, 4)
	if err := split.Bind(0, id); err != nil {
		t.Fatal(err)
	}
	for d := range 2 {
		if err := split.Write(0, d, out.Keys[d], out.Values[d]); err != nil {
			t.Fatal(err)
		}
	}
	if err := split.Advance(0, 2); err != nil {
		t.Fatal(err)
	}

	second := &input.BatchConfig{
		Requests: []input.RequestInfo{{
			RequestID: id, FirstTokenDepthInRequest: 2, NumTokensInBatch: 2, PromptPhase: true, Mask: causal(2, 2),
		}},
		Tokens: []input.Token{{ID: prompt[2], Depth: 2, Bit: 0}, {ID: prompt[3], Depth: 3, Bit: 1}},
	}
	out2, err := e.Forward(ctx, second, split)
	if err != nil {
		t.Fatalf("Forward Fehler: %v", err)
	}
	if diff := cmp.Diff(out.Predictions[2:], out2.Predictions); diff != "" {
		t.Errorf("Vorhersagen mit Cache (-want +got):\n%s", diff)
	}
}

// TestForwardRejectsReadBeyondDepth prueft dass die Historie nicht ueber die
// committete Tiefe hinaus gelesen werden kann
func TestForwardRejectsReadBeyondDepth(t *testing.T) {
	e, _ := newToy(t, 0)
	c := kvcache.NewCache(kvcache.DTypeF32, 1, 16, 4)
	if err := c.Bind(0, uuid.New()); err != nil {
		t.Fatal(err)
	}

	batch := &input.BatchConfig{
		Requests: []input.RequestInfo{{NumTokensInBatch: 1, Mask: causal(3, 1), FirstTokenDepthInRequest: 3}},
		Tokens:   []input.Token{{ID: 1, Depth: 3}},
	}
	if _, err := e.Forward(context.Background(), batch, c); err == nil {
		t.Error("Forward sollte bei fehlender Historie fehlschlagen")
	}
}

// TestDraftAccuracy prueft dass jeder n-te Vorschlag abweicht
func TestDraftAccuracy(t *testing.T) {
	_, d := newToy(t, 3)
	history := []int32{4, 8}
	want := Next(history, 100)

	for i := 1; i <= 6; i++ {
		out, err := d.Propose(context.Background(), []input.Frontier{{History: history, ParentToken: 8}}, 2)
		if err != nil {
			t.Fatal(err)
		}
		if len(out) != 1 || len(out[0]) != 2 {
			t.Fatalf("Propose: erwartet 1x2 Kandidaten, bekommen %v", out)
		}

		correct := out[0][0] == want
		if correct == (i%3 == 0) {
			t.Errorf("Aufruf %d: erster Kandidat %d, richtig waere %d", i, out[0][0], want)
		}
	}
}

// TestNewRejectsInvalidConfig prueft die Konstruktor-Validierung
func TestNewRejectsInvalidConfig(t *testing.T) {
	for _, c := range []model.Config{{VocabSize: 1, HiddenSize: 4}, {VocabSize: 100, HiddenSize: 1}} {
		if _, err := New(c); err == nil {
			t.Errorf("New(%+v) sollte fehlschlagen", c)
		}
	}
}
