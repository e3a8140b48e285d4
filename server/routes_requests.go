// routes_requests.go - Handler fuer Requests
// Enthaelt: SubmitHandler, PollHandler, AbortHandler, PsHandler, HealthHandler
// und die Abbildung von Scheduler-Fehlern auf HTTP-Statuscodes

package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ollama/treeserve/api"
	"github.com/ollama/treeserve/runner/specrunner"
)

// statusFor bildet Scheduler-Fehler auf HTTP-Statuscodes ab
func statusFor(err error) int {
	switch {
	case errors.Is(err, specrunner.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, specrunner.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, specrunner.ErrMaxQueue):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func requestID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request id"})
		return uuid.Nil, false
	}
	return id, true
}

// SubmitHandler nimmt einen neuen Request an
func (s *Server) SubmitHandler(c *gin.Context) {
	var req api.SubmitRequest
	if err := c.ShouldBindJSON(&req); errors.Is(err, io.EOF) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing request body"})
		return
	} else if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	params := specrunner.SubmitParams{
		Prompt:       req.Prompt,
		MaxNewTokens: req.MaxNewTokens,
		MaxLength:    req.MaxLength,
		Stop:         req.Stop,
	}
	if req.Speculation != nil {
		params.Spec = specrunner.SpecConfig{
			Enabled:         req.Speculation.Enabled,
			BranchingFactor: req.Speculation.BranchingFactor,
			Depth:           req.Speculation.Depth,
		}
	}

	id, err := s.runner.Submit(params)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, api.SubmitResponse{ID: id.String()})
}

// PollHandler liefert die seit dem letzten Poll generierten Tokens
func (s *Server) PollHandler(c *gin.Context) {
	id, ok := requestID(c)
	if !ok {
		return
	}

	res, err := s.runner.Poll(id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	resp := api.PollResponse{
		ID:         res.ID.String(),
		Status:     res.Status.String(),
		Done:       res.Status.Terminal(),
		DoneReason: res.DoneReason.String(),
		Tokens:     res.Tokens,
		CreatedAt:  res.CreatedAt,
		Metrics: api.Metrics{
			TotalDuration:   res.TotalDuration,
			PromptEvalCount: res.PromptEvalCount,
			EvalCount:       res.EvalCount,
			CommittedDepth:  res.CommittedDepth,
			Iterations:      res.Iterations,
			ProposedTokens:  res.ProposedTokens,
			AcceptedTokens:  res.AcceptedTokens,
		},
	}
	if resp.Tokens == nil {
		resp.Tokens = []int32{}
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}

	c.JSON(http.StatusOK, resp)
}

// AbortHandler bricht einen Request ab
func (s *Server) AbortHandler(c *gin.Context) {
	id, ok := requestID(c)
	if !ok {
		return
	}

	if err := s.runner.Abort(id); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{})
}

// PsHandler listet alle bekannten Requests
func (s *Server) PsHandler(c *gin.Context) {
	now := time.Now()
	snapshot := s.runner.Snapshot()

	resp := api.ListResponse{Requests: make([]api.RequestSummary, 0, len(snapshot))}
	for _, r := range snapshot {
		resp.Requests = append(resp.Requests, api.RequestSummary{
			ID:             r.ID.String(),
			Status:         r.Status.String(),
			DoneReason:     r.DoneReason.String(),
			Slot:           r.Slot,
			PromptTokens:   r.PromptTokens,
			Generated:      r.Generated,
			CommittedDepth: r.CommittedDepth,
			MaxLength:      r.MaxLength,
			AcceptanceRate: r.AcceptanceRate,
			CreatedAt:      r.CreatedAt,
			Age:            api.Duration{Duration: now.Sub(r.CreatedAt)},
		})
	}

	c.JSON(http.StatusOK, resp)
}

// HealthHandler meldet Zustand und Auslastung
func (s *Server) HealthHandler(c *gin.Context) {
	resp := api.HealthResponse{Status: "ok", Version: api.Version, Model: s.modelName}
	for _, r := range s.runner.Snapshot() {
		switch r.Status {
		case specrunner.StatusRunning:
			resp.Running++
		case specrunner.StatusPending:
			resp.Pending++
		}
	}

	c.JSON(http.StatusOK, resp)
}
