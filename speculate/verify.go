package speculate

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ollama/treeserve/model/input"
)

var ErrPredictionCount = errors.New("prediction count does not match tree")

// Acceptance ist das Ergebnis der Verifikation eines Baums
type Acceptance struct {
	// Path enthaelt die akzeptierten Knoten ab der Wurzel
	Path []int

	// Bonus ist die Vorhersage am letzten akzeptierten Knoten
	Bonus int32
}

// Speculative gibt die Anzahl der akzeptierten Draft-Tokens zurueck
func (a Acceptance) Speculative() int {
	return max(0, len(a.Path)-1)
}

// Verify bestimmt den laengsten Pfad, den das Ziel-Model bestaetigt. Ein
// Knoten ist erreichbar wenn sein Elternknoten erreichbar ist und die
// Vorhersage am Elternknoten seinem Token entspricht. Bei gleicher Tiefe
// gewinnt der frueher erzeugte Knoten.
func Verify(t *Tree, predictions []int32) (Acceptance, error) {
	if len(predictions) != t.Len() {
		return Acceptance{}, fmt.Errorf("%w: %d nodes, %d predictions", ErrPredictionCount, t.Len(), len(predictions))
	}

	reachable := make([]bool, t.Len())
	best := 0
	for i, n := range t.Nodes {
		if n.Parent < 0 {
			reachable[i] = true
			continue
		}

		reachable[i] = reachable[n.Parent] && predictions[n.Parent] == n.Token
		if reachable[i] && n.Depth > t.Nodes[best].Depth {
			best = i
		}
	}

	return Acceptance{Path: t.Path(best), Bonus: predictions[best]}, nil
}

// Accept akzeptiert den ganzen Pfad bis zum letzten Knoten, fuer Prompt-Tokens
// die nicht verifiziert werden
func Accept(t *Tree, predictions []int32) (Acceptance, error) {
	if len(predictions) != t.Len() {
		return Acceptance{}, fmt.Errorf("%w: %d nodes, %d predictions", ErrPredictionCount, t.Len(), len(predictions))
	}

	last := t.Len() - 1
	return Acceptance{Path: t.Path(last), Bonus: predictions[last]}, nil
}

// Placement beschreibt wo die Tokens eines Baums im Batch und im Cache liegen
type Placement struct {
	RequestID uuid.UUID
	Slot      int

	// Offset ist der Index der Wurzel im Token-Puffer des Batches
	Offset int

	// Depth ist die committete Tiefe, an der die Wurzel landet
	Depth int
}

// Plan erzeugt die Cache-Writes fuer einen akzeptierten Pfad. Nicht
// akzeptierte Knoten tauchen nicht auf.
func Plan(t *Tree, a Acceptance, p Placement) []input.CommittedToken {
	out := make([]input.CommittedToken, len(a.Path))
	for k, i := range a.Path {
		out[k] = input.CommittedToken{
			RequestID:   p.RequestID,
			Slot:        p.Slot,
			SourceIndex: p.Offset + i,
			Depth:       p.Depth + t.Nodes[i].Depth,
			Token:       t.Nodes[i].Token,
		}
	}
	return out
}
