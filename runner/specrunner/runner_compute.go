// runner_compute.go - Evaluator-Aufruf fuer den Spekulations-Runner
//
// Enthaelt:
// - Step: Eine Iteration (Schedule, Evaluate, Commit)
// - evaluate: Ruft den Evaluator ohne Lock auf
// - failBatch: Setzt alle Requests eines Batches auf FAILED
package specrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ollama/treeserve/kvcache"
	"github.com/ollama/treeserve/logutil"
	"github.com/ollama/treeserve/model"
	"github.com/ollama/treeserve/model/input"
)

// Step fuehrt eine Iteration aus. Gibt false zurueck wenn kein Request
// lauffaehig war.
func (s *Server) Step(ctx context.Context) (bool, error) {
	b, err := s.ScheduleNextBatch(ctx)
	if err != nil {
		return true, err
	}
	if b == nil {
		return false, nil
	}

	out, err := s.evaluate(ctx, b)
	if err != nil {
		if ctx.Err() != nil {
			return true, err
		}

		s.mu.Lock()
		s.failBatch(b, err)
		s.mu.Unlock()
		return true, err
	}

	s.mu.Lock()
	s.Commit(b, out)
	s.mu.Unlock()
	return true, nil
}

// evaluate ruft den Evaluator auf. Fehler werden als EvaluatorFailure oder
// ConsistencyViolation klassifiziert.
func (s *Server) evaluate(ctx context.Context, b *Batch) (*input.Outputs, error) {
	logutil.Trace("evaluate: forward", "batchID", b.Config.ID, "tokens", b.Config.NumTokens())

	started := time.Now()
	out, err := model.Forward(ctx, s.model.Evaluator, b.Config, s.cache)
	s.metrics.evaluateDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		if errors.Is(err, model.ErrOutputMismatch) || errors.Is(err, kvcache.ErrBeyondDepth) || errors.Is(err, input.ErrInconsistentMask) {
			return nil, fmt.Errorf("%w: %w", ErrConsistency, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrEvaluatorFailure, err)
	}

	s.metrics.iterations.Inc()
	s.metrics.batchTokens.Observe(float64(b.Config.NumTokens()))
	return out, nil
}

// failBatch beendet alle Requests des Batches mit FAILED. Nichts wird
// committed. Aufrufer haelt s.mu.
func (s *Server) failBatch(b *Batch, err error) {
	slog.Error("batch failed", "batchID", b.Config.ID, "requests", len(b.entries), "error", err)
	for _, e := range b.entries {
		if e.req.status.Terminal() || e.req.slot < 0 {
			continue
		}
		s.removeRequest(e.req.slot, StatusFailed, DoneReasonError, err)
	}
}
