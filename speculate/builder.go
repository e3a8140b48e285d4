package speculate

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ollama/treeserve/logutil"
	"github.com/ollama/treeserve/model"
	"github.com/ollama/treeserve/model/input"
)

// Root ist der Ausgangspunkt eines Baums fuer einen Request
type Root struct {
	RequestID uuid.UUID

	// History enthaelt alle Tokens des Requests, der letzte ist die Wurzel
	History []int32

	Branching int

	// MaxDepth begrenzt die Baumtiefe (0 = nur Wurzel)
	MaxDepth int

	// MaxNodes begrenzt die Knoten inklusive Wurzel
	MaxNodes int
}

// Builder erweitert Wurzeln in Breitensuche ueber das Draft-Model
type Builder struct {
	Draft model.Draft
}

// Build erzeugt einen Baum pro Wurzel. budget begrenzt die Anzahl der
// spekulativen Knoten ueber alle Baeume; die Wurzeln zaehlen nicht dazu.
// Ueberzaehlige Vorschlaege werden in Erzeugungsreihenfolge von hinten
// verworfen. Fehler des Draft-Models fuehren zu Baeumen ohne Kinder.
func (b *Builder) Build(ctx context.Context, roots []Root, budget int) ([]*Tree, error) {
	trees := make([]*Tree, len(roots))
	for i, r := range roots {
		trees[i] = NewTree(r.History[len(r.History)-1])
	}

	if b.Draft == nil {
		return trees, nil
	}

	type frontierNode struct {
		tree, node int
	}

	var frontier []frontierNode
	for i, r := range roots {
		if r.Branching > 0 && r.MaxDepth > 0 && r.MaxNodes > 1 {
			frontier = append(frontier, frontierNode{tree: i})
		}
	}

	for level := 0; len(frontier) > 0 && budget > 0; level++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		entries := make([]input.Frontier, len(frontier))
		branching := 0
		for k, f := range frontier {
			r := roots[f.tree]
			history := append(append([]int32{}, r.History[:len(r.History)-1]...), trees[f.tree].PathTokens(f.node)...)
			entries[k] = input.Frontier{
				RequestID:   r.RequestID,
				ParentToken: trees[f.tree].Nodes[f.node].Token,
				History:     history,
			}
			branching = max(branching, r.Branching)
		}

		proposals, err := b.Draft.Propose(ctx, entries, branching)
		if err == nil && len(proposals) != len(entries) {
			err = errors.New("draft returned wrong number of proposals")
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Warn("draft model failed, continuing without speculation", "level", level, "error", err)
			for i, r := range roots {
				trees[i] = NewTree(r.History[len(r.History)-1])
			}
			return trees, nil
		}

		var next []frontierNode
		for k, f := range frontier {
			r := roots[f.tree]
			t := trees[f.tree]
			candidates := proposals[k]
			if len(candidates) > r.Branching {
				candidates = candidates[:r.Branching]
			}

			for _, tok := range candidates {
				if budget == 0 || t.Len() >= r.MaxNodes {
					break
				}

				child := t.Add(f.node, tok)
				budget--
				if t.Nodes[child].Depth < r.MaxDepth {
					next = append(next, frontierNode{tree: f.tree, node: child})
				}
			}
		}

		logutil.Trace("speculate: expanded level", "level", level, "frontier", len(frontier), "next", len(next), "budget", budget)
		frontier = next
	}

	return trees, nil
}
