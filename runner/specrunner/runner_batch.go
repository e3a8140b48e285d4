// runner_batch.go - Batch-Zusammenstellung fuer den Spekulations-Runner
//
// Enthaelt:
// - Batch: BatchConfig plus Baeume fuer die Verifikation
// - ScheduleNextBatch: Waehlt Requests aus und baut den Batch
// - selectRequests: Laufende zuerst (Round-Robin), dann wartende
// - buildTrees: Spekulationsbaeume fuer Decode-Requests
// - assemble: Schreibt Token-Puffer und Masken
package specrunner

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/ollama/treeserve/logutil"
	"github.com/ollama/treeserve/model/input"
	"github.com/ollama/treeserve/speculate"
)

// Batch ist eine Iteration: die BatchConfig fuer den Evaluator und pro
// Request der Baum aus dem die Tokens stammen
type Batch struct {
	Config  *input.BatchConfig
	entries []batchEntry
}

type batchEntry struct {
	req  *Request
	tree *speculate.Tree

	// base ist die committete Tiefe beim Zusammenstellen
	base int

	// offset ist die Position der Wurzel im Token-Puffer
	offset int

	// prompt ist true fuer Prefill-Chunks; alle Knoten sind dann Prompt-Tokens
	prompt bool
}

// selection ist ein ausgewaehlter Request mit seiner Token-Anzahl
type selection struct {
	req    *Request
	tokens int
}

// ScheduleNextBatch uebernimmt die Mailbox, raeumt abgebrochene Requests ab
// und baut den naechsten Batch. Ohne lauffaehige Requests ist das Ergebnis nil.
func (s *Server) ScheduleNextBatch(ctx context.Context) (*Batch, error) {
	s.mu.Lock()
	s.drain()
	s.reap()
	s.expire(time.Now())
	selected, budget := s.selectRequests()
	s.mu.Unlock()

	if len(selected) == 0 {
		return nil, nil
	}

	trees, err := s.buildTrees(ctx, selected, budget)
	if err != nil {
		return nil, err
	}

	s.batchID++
	b := s.assemble(selected, trees)
	if err := b.Config.Validate(); err != nil {
		s.mu.Lock()
		s.failBatch(b, fmt.Errorf("%w: %w", ErrConsistency, err))
		s.mu.Unlock()
		return nil, err
	}

	logutil.Trace("scheduled batch", "batchID", b.Config.ID, "requests", len(b.entries), "tokens", b.Config.NumTokens())
	return b, nil
}

// selectRequests waehlt Requests und Token-Anzahlen innerhalb des Budgets.
// Laufende Requests kommen zuerst, beginnend bei nextSeq, danach wartende
// in Ankunftsreihenfolge. Gibt das fuer Spekulation verbleibende Budget
// zurueck. Aufrufer haelt s.mu.
func (s *Server) selectRequests() ([]selection, int) {
	budget := s.cfg.MaxTokensPerBatch
	var selected []selection

	resumeSeq := -1
	seqIdx := s.nextSeq - 1
	for range s.slots {
		seqIdx = (seqIdx + 1) % len(s.slots)
		req := s.slots[seqIdx]
		if req == nil {
			continue
		}

		n := s.tokensFor(req, budget)
		if n == 0 {
			if resumeSeq == -1 {
				resumeSeq = seqIdx
			}
			continue
		}

		budget -= n
		selected = append(selected, selection{req: req, tokens: n})
	}

	if resumeSeq != -1 {
		s.nextSeq = resumeSeq
	}

	startedAt := time.Now()
	for pair := s.pending.Oldest(); pair != nil && budget > 0; {
		req := pair.Value
		pair = pair.Next()

		slot := slices.Index(s.slots, nil)
		if slot < 0 {
			break
		}

		if err := s.cache.Bind(slot, req.ID); err != nil {
			s.pending.Delete(req.ID)
			s.queueSem.Release(1)
			s.finish(req, StatusFailed, DoneReasonError, fmt.Errorf("%w: %w", ErrConsistency, err))
			continue
		}

		s.pending.Delete(req.ID)
		s.queueSem.Release(1)
		s.slots[slot] = req
		req.slot = slot
		req.status = StatusRunning
		req.startedAt = startedAt
		slog.Debug("request admitted", "id", req.ID, "slot", slot)

		n := s.tokensFor(req, budget)
		budget -= n
		selected = append(selected, selection{req: req, tokens: n})
	}

	s.metrics.queueDepth.Set(float64(s.pending.Len()))
	s.metrics.runningRequests.Set(float64(len(s.slots) - s.freeSlots()))
	return selected, budget
}

// tokensFor gibt die Anzahl der Tokens ohne Spekulation zurueck: den
// naechsten Prompt-Chunk oder den einen ausstehenden Token
func (s *Server) tokensFor(req *Request, budget int) int {
	if budget <= 0 {
		return 0
	}

	if !req.prefilling() {
		return 1
	}

	n := min(req.numPrompt-req.committed, budget)
	if s.cfg.PrefillChunk > 0 {
		n = min(n, s.cfg.PrefillChunk)
	}
	return n
}

func (s *Server) freeSlots() int {
	n := 0
	for _, req := range s.slots {
		if req == nil {
			n++
		}
	}
	return n
}

// speculating ist true wenn fuer req ein Baum gebaut werden soll
func (s *Server) speculating(req *Request) bool {
	return req.spec.Enabled && !s.cfg.NoSpeculation && s.model.Draft != nil && !req.prefilling()
}

// buildTrees erzeugt einen Baum pro ausgewaehltem Request. Prefill-Chunks
// sind Ketten, Decode ohne Spekulation ein einzelner Knoten.
func (s *Server) buildTrees(ctx context.Context, selected []selection, budget int) ([]*speculate.Tree, error) {
	trees := make([]*speculate.Tree, len(selected))

	var roots []speculate.Root
	var rootIdx []int
	for i, sel := range selected {
		req := sel.req
		switch {
		case req.prefilling():
			trees[i] = speculate.Chain(req.tokens[req.committed : req.committed+sel.tokens])
		case s.speculating(req):
			roots = append(roots, speculate.Root{
				RequestID: req.ID,
				History:   slices.Clone(req.tokens[:req.committed+1]),
				Branching: req.spec.BranchingFactor,
				MaxDepth:  min(req.spec.Depth, req.maxLength-1-req.committed),
				MaxNodes:  s.cfg.MaxSpecTreeTokens,
			})
			rootIdx = append(rootIdx, i)
		default:
			trees[i] = speculate.NewTree(req.tokens[req.committed])
		}
	}

	if len(roots) == 0 {
		return trees, nil
	}

	built, err := s.builder.Build(ctx, roots, budget)
	if err != nil {
		return nil, err
	}
	for k, i := range rootIdx {
		trees[i] = built[k]
	}
	return trees, nil
}

// assemble schreibt den flachen Token-Puffer und eine Maske pro Request
func (s *Server) assemble(selected []selection, trees []*speculate.Tree) *Batch {
	b := &Batch{Config: &input.BatchConfig{ID: s.batchID}}
	for i, sel := range selected {
		req, tree := sel.req, trees[i]
		entry := batchEntry{
			req:    req,
			tree:   tree,
			base:   req.committed,
			offset: len(b.Config.Tokens),
			prompt: req.prefilling(),
		}

		for bit, node := range tree.Nodes {
			b.Config.Tokens = append(b.Config.Tokens, input.Token{
				ID:          node.Token,
				Depth:       entry.base + node.Depth,
				Slot:        req.slot,
				Speculative: !entry.prompt && node.Parent >= 0,
				Bit:         bit,
			})
		}

		b.Config.Requests = append(b.Config.Requests, input.RequestInfo{
			RequestID:                req.ID,
			Slot:                     req.slot,
			FirstTokenDepthInRequest: entry.base,
			FirstTokenOffsetInBatch:  entry.offset,
			NumTokensInBatch:         tree.Len(),
			PromptPhase:              entry.prompt,
			Mask:                     speculate.TreeMask(tree, entry.base),
		})
		b.entries = append(b.entries, entry)
	}
	return b
}
