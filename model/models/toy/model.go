// Package toy - Deterministisches Referenz-Model
//
// Enthaelt:
// - Evaluator: Bewertet Batches anhand der sichtbaren Tokens (Cache + Maske)
// - Draft: Schlaegt Kandidaten vor, der erste ist meist richtig
// - Next: Die Folgefunktion die beide teilen
//
// Das Model rechnet keine Attention, sondern rekonstruiert die sichtbare
// Sequenz aus den Keys im Cache und der Maske. Damit sind Fehler in Maske
// oder Cache direkt an falschen Vorhersagen sichtbar.
package toy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/ollama/treeserve/kvcache"
	"github.com/ollama/treeserve/model"
	"github.com/ollama/treeserve/model/input"
)

func init() {
	model.Register("toy", New)
}

// New erstellt Evaluator und Draft
func New(c model.Config) (model.Model, error) {
	if c.VocabSize <= 1 {
		return model.Model{}, fmt.Errorf("toy: invalid vocab size %d", c.VocabSize)
	}
	if c.HiddenSize < 2 {
		return model.Model{}, fmt.Errorf("toy: hidden size must be at least 2, got %d", c.HiddenSize)
	}

	e := &Evaluator{VocabSize: c.VocabSize, HiddenSize: c.HiddenSize}
	return model.Model{
		Evaluator: e,
		Draft:     &Draft{VocabSize: c.VocabSize, Every: c.DraftAccuracy},
	}, nil
}

// Next ist die Folgefunktion des Models
func Next(seq []int32, vocab int) int32 {
	n := len(seq)
	if n == 0 {
		return 0
	}

	h := 31*int64(seq[n-1]) + int64(n)
	if n > 1 {
		h += 7 * int64(seq[n-2])
	}
	return int32(h % int64(vocab))
}

// Evaluator ist das Ziel-Model
type Evaluator struct {
	VocabSize  int
	HiddenSize int
}

// Forward bewertet jeden Token des Batches
func (e *Evaluator) Forward(ctx context.Context, batch *input.BatchConfig, history kvcache.Reader) (*input.Outputs, error) {
	if err := batch.Validate(); err != nil {
		return nil, err
	}

	out := &input.Outputs{
		Predictions: make([]int32, batch.NumTokens()),
		Keys:        make([][]float32, batch.NumTokens()),
		Values:      make([][]float32, batch.NumTokens()),
	}

	for _, r := range batch.Requests {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		keys, _, err := history.ReadRange(r.Slot, 0, r.Mask.NonTreeCacheSize)
		if err != nil {
			return nil, err
		}

		committed := make([]int32, len(keys))
		for d, k := range keys {
			committed[d] = DecodeKey(k)
		}

		tokens := batch.Tokens[r.FirstTokenOffsetInBatch : r.FirstTokenOffsetInBatch+r.NumTokensInBatch]
		for i, t := range tokens {
			seq := append([]int32{}, committed...)
			for _, other := range tokens {
				if r.Mask.Visible(i, r.Mask.NonTreeCacheSize+other.Bit) {
					seq = append(seq, other.ID)
				}
			}

			idx := r.FirstTokenOffsetInBatch + i
			out.Predictions[idx] = Next(seq, e.VocabSize)
			out.Keys[idx] = e.EncodeKey(t.ID, t.Depth)
			out.Values[idx] = e.encodeValue(t.ID, t.Depth)
		}
	}

	return out, nil
}

// EncodeKey legt die Token-ID verlustfrei (auch in f16) in den ersten zwei Komponenten ab
func (e *Evaluator) EncodeKey(token int32, depth int) []float32 {
	k := make([]float32, e.HiddenSize)
	k[0] = float32(token / 1024)
	k[1] = float32(token % 1024)
	for i := 2; i < len(k); i++ {
		k[i] = float32(math.Sin(float64(depth*i) + float64(token)))
	}
	return k
}

func (e *Evaluator) encodeValue(token int32, depth int) []float32 {
	v := make([]float32, e.HiddenSize)
	for i := range v {
		v[i] = float32(math.Cos(float64(depth+i) * float64(token%97+1)))
	}
	return v
}

// DecodeKey liest die Token-ID aus einem Key
func DecodeKey(k []float32) int32 {
	return int32(k[0])*1024 + int32(k[1])
}

// Draft schlaegt Kandidaten vor. Jeder Every-te Aufruf liefert als ersten
// Kandidaten einen falschen Token.
type Draft struct {
	VocabSize int
	Every     int

	mu    sync.Mutex
	calls int
}

var errEmptyHistory = errors.New("toy: frontier without history")

// Propose liefert branching Kandidaten pro Frontier-Eintrag
func (d *Draft) Propose(ctx context.Context, frontier []input.Frontier, branching int) ([][]int32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([][]int32, len(frontier))
	for i, f := range frontier {
		if len(f.History) == 0 {
			return nil, errEmptyHistory
		}

		d.mu.Lock()
		d.calls++
		wrong := d.Every > 0 && d.calls%d.Every == 0
		d.mu.Unlock()

		want := Next(f.History, d.VocabSize)
		if wrong {
			want = (want + 1) % int32(d.VocabSize)
		}

		candidates := make([]int32, branching)
		for k := range candidates {
			candidates[k] = (want + int32(k)*17) % int32(d.VocabSize)
		}
		out[i] = candidates
	}

	return out, nil
}
