// runner_commit.go - Verifikation und Commit nach dem Evaluator-Aufruf
//
// Enthaelt:
// - Commit: Verifiziert jeden Baum und schreibt akzeptierte Tokens
// - applyCommits: K/V-Writes in den Cache (idempotent)
// - finish, removeRequest: Beendet Requests und gibt Slots frei
package specrunner

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/ollama/treeserve/kvcache"
	"github.com/ollama/treeserve/model/input"
	"github.com/ollama/treeserve/speculate"
)

// Commit verifiziert die Vorhersagen und uebernimmt akzeptierte Tokens.
// Ein Batch wird pro Request hoechstens einmal angewendet. Aufrufer haelt s.mu.
func (s *Server) Commit(b *Batch, out *input.Outputs) {
	for _, e := range b.entries {
		req := e.req
		if req.lastBatch == b.Config.ID || req.status != StatusRunning || req.committed != e.base {
			continue
		}
		req.lastBatch = b.Config.ID
		req.iterations++

		predictions := out.Predictions[e.offset : e.offset+e.tree.Len()]

		var acc speculate.Acceptance
		var err error
		if e.prompt {
			acc, err = speculate.Accept(e.tree, predictions)
		} else {
			acc, err = speculate.Verify(e.tree, predictions)
		}
		if err != nil {
			s.removeRequest(req.slot, StatusFailed, DoneReasonError, fmt.Errorf("%w: %w", ErrConsistency, err))
			continue
		}

		// Knoten vor fed stehen schon in req.tokens
		fed := 1
		if e.prompt {
			fed = e.tree.Len()
		} else {
			req.numProposed += e.tree.Len() - 1
			req.numAccepted += acc.Speculative()
			s.metrics.proposedTokens.Add(float64(e.tree.Len() - 1))
			s.metrics.acceptedTokens.Add(float64(acc.Speculative()))
		}

		path := acc.Path
		stopped := false
		for k := fed; k < len(path); k++ {
			if slices.Contains(req.stop, e.tree.Nodes[path[k]].Token) {
				path, stopped = path[:k], true
				break
			}
		}

		truncated := false
		if room := req.maxLength - e.base; len(path) > room {
			path, truncated = path[:room], true
		}

		plan := speculate.Plan(e.tree, speculate.Acceptance{Path: path}, speculate.Placement{
			RequestID: req.ID,
			Slot:      req.slot,
			Offset:    e.offset,
			Depth:     e.base,
		})

		written, err := s.applyCommits(plan, out)
		if err != nil && !errors.Is(err, kvcache.ErrCapacityExceeded) {
			s.removeRequest(req.slot, StatusFailed, DoneReasonError, fmt.Errorf("%w: %w", ErrConsistency, err))
			continue
		}
		if err != nil {
			slog.Debug("kv cache capacity reached, truncating", "id", req.ID, "depth", e.base+written)
			truncated = true
		}

		for _, c := range plan[:written] {
			if c.Depth >= len(req.tokens) {
				req.tokens = append(req.tokens, c.Token)
			}
		}
		req.committed = e.base + written
		s.metrics.committedTokens.Add(float64(written))

		switch {
		case stopped:
			s.removeRequest(req.slot, StatusFinished, DoneReasonStop, nil)
		case truncated || req.committed >= req.maxLength:
			s.removeRequest(req.slot, StatusFinished, DoneReasonLength, nil)
		case req.prefilling():
		case slices.Contains(req.stop, acc.Bonus):
			s.removeRequest(req.slot, StatusFinished, DoneReasonStop, nil)
		default:
			req.tokens = append(req.tokens, acc.Bonus)
		}
	}
}

// applyCommits schreibt K/V fuer jeden Eintrag und setzt die Tiefe des Slots
// auf max(aktuell, letzter Eintrag + 1). Erneutes Anwenden aendert nichts.
// Gibt die Anzahl der geschriebenen Eintraege zurueck.
func (s *Server) applyCommits(plan []input.CommittedToken, out *input.Outputs) (int, error) {
	written := 0
	var err error
	for _, c := range plan {
		if err = s.cache.Write(c.Slot, c.Depth, out.Keys[c.SourceIndex], out.Values[c.SourceIndex]); err != nil {
			break
		}
		written++
	}

	if written > 0 {
		last := plan[written-1]
		if advErr := s.cache.Advance(last.Slot, last.Depth+1); advErr != nil {
			return written, advErr
		}
	}
	return written, err
}

// finish setzt einen Endzustand. Aufrufer haelt s.mu.
func (s *Server) finish(req *Request, status Status, reason DoneReason, err error) {
	req.status = status
	req.doneReason = reason
	req.err = err
	req.finishedAt = time.Now()
	s.finished.Set(req.ID, req)
	s.metrics.requests.WithLabelValues(status.String()).Inc()

	slog.Debug("request finished", "id", req.ID, "status", status, "reason", reason, "depth", req.committed, "generated", len(req.generated()), "error", err)
}

// removeRequest gibt den Slot frei und beendet den Request. Aufrufer haelt s.mu.
func (s *Server) removeRequest(slot int, status Status, reason DoneReason, err error) {
	req := s.slots[slot]
	s.slots[slot] = nil
	s.cache.Release(slot)
	req.slot = -1
	s.finish(req, status, reason, err)
}
