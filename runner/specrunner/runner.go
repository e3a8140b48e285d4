// runner.go - Einstiegspunkt fuer den Spekulations-Runner
//
// Enthaelt:
// - New: Erstellt Server mit Cache, Slots und Metriken
// - Submit: Nimmt einen neuen Request an
// - Abort: Bricht einen Request an der naechsten Iterationsgrenze ab
// - Poll: Liefert neue Tokens und Status eines Requests
// - Snapshot: Uebersicht ueber alle Requests
// - expire: Entfernt beendete Requests nach der Aufbewahrungszeit
// - Run: Iterationsschleife
package specrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/sync/semaphore"

	"github.com/ollama/treeserve/kvcache"
	"github.com/ollama/treeserve/model"
	"github.com/ollama/treeserve/speculate"
)

// New erstellt einen Server. Metriken werden an reg registriert (nil = keine
// Registrierung).
func New(cfg Config, m model.Model, reg prometheus.Registerer) (*Server, error) {
	if m.Evaluator == nil {
		return nil, errors.New("specrunner: missing evaluator")
	}
	if cfg.MaxRequestsPerBatch <= 0 || cfg.MaxTokensPerBatch <= 0 || cfg.MaxSequenceLength <= 0 || cfg.HiddenSize <= 0 {
		return nil, fmt.Errorf("specrunner: invalid limits %+v", cfg)
	}
	if cfg.MaxSpecTreeTokens <= 0 {
		cfg.MaxSpecTreeTokens = 1
	}

	if cfg.KeepFinished == 0 {
		cfg.KeepFinished = 5 * time.Minute
	}

	queue := int64(cfg.MaxQueue)
	if queue <= 0 {
		queue = math.MaxInt32
	}

	s := &Server{
		cfg:      cfg,
		model:    m,
		cache:    kvcache.NewCache(cfg.KvCacheType, cfg.MaxRequestsPerBatch, cfg.MaxSequenceLength, cfg.HiddenSize),
		builder:  &speculate.Builder{Draft: m.Draft},
		metrics:  newMetrics(reg),
		mailbox:  newMailbox(),
		queueSem: semaphore.NewWeighted(queue),
		requests: make(map[uuid.UUID]*Request),
		pending:  orderedmap.New[uuid.UUID, *Request](),
		finished: orderedmap.New[uuid.UUID, *Request](),
		slots:    make([]*Request, cfg.MaxRequestsPerBatch),
	}

	slog.Info("speculative runner ready",
		"slots", cfg.MaxRequestsPerBatch,
		"tokens_per_batch", cfg.MaxTokensPerBatch,
		"max_seq_length", cfg.MaxSequenceLength,
		"spec_tree_tokens", cfg.MaxSpecTreeTokens,
		"kv_cache_type", cfg.KvCacheType,
		"draft", m.Draft != nil && !cfg.NoSpeculation)
	return s, nil
}

// validate prueft die Parameter und gibt die effektive Maximallaenge zurueck
func (s *Server) validate(p SubmitParams) (int, error) {
	if len(p.Prompt) == 0 {
		return 0, fmt.Errorf("%w: empty prompt", ErrInvalidRequest)
	}
	if slices.ContainsFunc(p.Prompt, func(t int32) bool { return t < 0 }) {
		return 0, fmt.Errorf("%w: negative prompt token", ErrInvalidRequest)
	}
	if slices.ContainsFunc(p.Stop, func(t int32) bool { return t < 0 }) {
		return 0, fmt.Errorf("%w: negative stop token", ErrInvalidRequest)
	}
	if p.MaxNewTokens < 0 || p.MaxLength < 0 {
		return 0, fmt.Errorf("%w: negative length", ErrInvalidRequest)
	}

	maxLength := s.cfg.MaxSequenceLength
	switch {
	case p.MaxNewTokens > 0:
		maxLength = len(p.Prompt) + p.MaxNewTokens
		if maxLength > s.cfg.MaxSequenceLength {
			return 0, fmt.Errorf("%w: prompt (%d) plus max new tokens (%d) exceeds max sequence length %d", ErrInvalidRequest, len(p.Prompt), p.MaxNewTokens, s.cfg.MaxSequenceLength)
		}
	case p.MaxLength > 0:
		maxLength = p.MaxLength
		if maxLength > s.cfg.MaxSequenceLength {
			return 0, fmt.Errorf("%w: max length %d exceeds max sequence length %d", ErrInvalidRequest, maxLength, s.cfg.MaxSequenceLength)
		}
	}

	if maxLength <= len(p.Prompt) {
		return 0, fmt.Errorf("%w: prompt of %d tokens leaves no room within max length %d", ErrInvalidRequest, len(p.Prompt), maxLength)
	}

	if p.Spec.Enabled {
		if p.Spec.BranchingFactor < 1 || p.Spec.BranchingFactor > s.cfg.MaxSpecTreeTokens {
			return 0, fmt.Errorf("%w: branching factor must be between 1 and %d", ErrInvalidRequest, s.cfg.MaxSpecTreeTokens)
		}
		if p.Spec.Depth < 1 || p.Spec.Depth > s.cfg.MaxSpecTreeTokens {
			return 0, fmt.Errorf("%w: speculation depth must be between 1 and %d", ErrInvalidRequest, s.cfg.MaxSpecTreeTokens)
		}
	}

	return maxLength, nil
}

// Submit nimmt einen Request an. Er wird an der naechsten Iterationsgrenze
// als PENDING uebernommen.
func (s *Server) Submit(p SubmitParams) (uuid.UUID, error) {
	maxLength, err := s.validate(p)
	if err != nil {
		return uuid.Nil, err
	}

	if !s.queueSem.TryAcquire(1) {
		return uuid.Nil, ErrMaxQueue
	}

	id, err := uuid.NewV7()
	if err != nil {
		s.queueSem.Release(1)
		return uuid.Nil, err
	}

	req := &Request{
		ID:        id,
		numPrompt: len(p.Prompt),
		tokens:    slices.Clone(p.Prompt),
		maxLength: maxLength,
		spec:      p.Spec,
		stop:      slices.Clone(p.Stop),
		status:    StatusPending,
		slot:      -1,
		createdAt: time.Now(),
	}

	s.mu.Lock()
	s.requests[id] = req
	s.mu.Unlock()

	s.mailbox.push(&message{kind: messageSubmit, req: req})
	slog.Debug("request submitted", "id", id, "prompt", len(p.Prompt), "max_length", maxLength, "speculative", p.Spec.Enabled)
	return id, nil
}

// Abort markiert einen Request zum Abbruch. Fuer beendete Requests ist das
// ein No-op.
func (s *Server) Abort(id uuid.UUID) error {
	s.mu.Lock()
	req, ok := s.requests[id]
	terminal := ok && req.status.Terminal()
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if terminal {
		return nil
	}

	s.mailbox.push(&message{kind: messageAbort, id: id})
	return nil
}

// Poll liefert die seit dem letzten Poll generierten Tokens
func (s *Server) Poll(id uuid.UUID) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	generated := req.generated()
	tokens := slices.Clone(generated[req.polled:])
	req.polled = len(generated)

	end := req.finishedAt
	if end.IsZero() {
		end = time.Now()
	}

	return Result{
		ID:              req.ID,
		Status:          req.status,
		DoneReason:      req.doneReason,
		Err:             req.err,
		Tokens:          tokens,
		PromptEvalCount: min(req.committed, req.numPrompt),
		EvalCount:       len(generated),
		CommittedDepth:  req.committed,
		Iterations:      req.iterations,
		ProposedTokens:  req.numProposed,
		AcceptedTokens:  req.numAccepted,
		TotalDuration:   end.Sub(req.createdAt),
		CreatedAt:       req.createdAt,
	}, nil
}

// Snapshot gibt eine Uebersicht ueber alle bekannten Requests zurueck
func (s *Server) Snapshot() []Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Summary, 0, len(s.requests))
	for _, req := range s.requests {
		var rate float64
		if req.numProposed > 0 {
			rate = float64(req.numAccepted) / float64(req.numProposed)
		}

		out = append(out, Summary{
			ID:             req.ID,
			Status:         req.status,
			DoneReason:     req.doneReason,
			Slot:           req.slot,
			PromptTokens:   req.numPrompt,
			Generated:      len(req.generated()),
			CommittedDepth: req.committed,
			MaxLength:      req.maxLength,
			AcceptanceRate: rate,
			CreatedAt:      req.createdAt,
		})
	}

	slices.SortFunc(out, func(a, b Summary) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
	return out
}

// expire entfernt beendete Requests deren Aufbewahrungszeit abgelaufen ist.
// Aufrufer haelt s.mu.
func (s *Server) expire(now time.Time) {
	for pair := s.finished.Oldest(); pair != nil; {
		req := pair.Value
		if now.Sub(req.finishedAt) < s.cfg.KeepFinished {
			return
		}
		pair = pair.Next()

		s.finished.Delete(req.ID)
		delete(s.requests, req.ID)
		slog.Debug("request expired", "id", req.ID, "status", req.status)
	}
}

// Run fuehrt Iterationen aus bis ctx beendet wird. Ohne Arbeit wartet die
// Schleife auf die Mailbox oder den naechsten Aufraeum-Tick.
func (s *Server) Run(ctx context.Context) error {
	ticker := time.NewTicker(min(max(s.cfg.KeepFinished, time.Second), time.Minute))
	defer ticker.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ran, err := s.Step(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("iteration failed", "error", err)
		}

		if !ran {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.mailbox.notify:
			case <-ticker.C:
			}
		}
	}
}
