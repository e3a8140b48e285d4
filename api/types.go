// Package api - Typ-Definitionen fuer die treeserve API
// Enthaelt: StatusError, SubmitRequest, SpecOptions, PollResponse, Metrics, ListResponse, Duration
package api

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// StatusError is an error with an HTTP status code and message.
type StatusError struct {
	StatusCode   int
	Status       string
	ErrorMessage string `json:"error"`
}

func (e StatusError) Error() string {
	switch {
	case e.Status != "" && e.ErrorMessage != "":
		return fmt.Sprintf("%s: %s", e.Status, e.ErrorMessage)
	case e.Status != "":
		return e.Status
	case e.ErrorMessage != "":
		return e.ErrorMessage
	default:
		// this should not happen
		return "something went wrong, please see the treeserve server logs for details"
	}
}

// SpecOptions configures speculative decoding for a request.
type SpecOptions struct {
	Enabled         bool `json:"enabled"`
	BranchingFactor int  `json:"branching_factor,omitempty"`
	Depth           int  `json:"depth,omitempty"`
}

// SubmitRequest describes a request to generate tokens.
type SubmitRequest struct {
	// Prompt is the list of prompt token ids.
	Prompt []int32 `json:"prompt"`

	// MaxNewTokens limits the number of generated tokens. It takes
	// precedence over MaxLength.
	MaxNewTokens int `json:"max_new_tokens,omitempty"`

	// MaxLength limits the total number of tokens, prompt included.
	MaxLength int `json:"max_length,omitempty"`

	// Stop lists token ids that end generation. They are not returned.
	Stop []int32 `json:"stop,omitempty"`

	Speculation *SpecOptions `json:"speculation,omitempty"`
}

// SubmitResponse is the response of [Client.Submit].
type SubmitResponse struct {
	ID string `json:"id"`
}

// Metrics contains statistics of a request.
type Metrics struct {
	TotalDuration   time.Duration `json:"total_duration,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
	CommittedDepth  int           `json:"committed_depth"`
	Iterations      int           `json:"iterations,omitempty"`
	ProposedTokens  int           `json:"proposed_tokens,omitempty"`
	AcceptedTokens  int           `json:"accepted_tokens,omitempty"`
}

// AcceptanceRate returns the share of proposed draft tokens that were accepted.
func (m *Metrics) AcceptanceRate() float64 {
	if m.ProposedTokens == 0 {
		return 0
	}
	return float64(m.AcceptedTokens) / float64(m.ProposedTokens)
}

// PollResponse is the response of [Client.Poll].
type PollResponse struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	Done       bool      `json:"done"`
	DoneReason string    `json:"done_reason,omitempty"`
	Error      string    `json:"error,omitempty"`
	Tokens     []int32   `json:"tokens"`
	CreatedAt  time.Time `json:"created_at"`

	Metrics
}

// RequestSummary describes one request in a [ListResponse].
type RequestSummary struct {
	ID             string    `json:"id"`
	Status         string    `json:"status"`
	DoneReason     string    `json:"done_reason,omitempty"`
	Slot           int       `json:"slot"`
	PromptTokens   int       `json:"prompt_tokens"`
	Generated      int       `json:"generated"`
	CommittedDepth int       `json:"committed_depth"`
	MaxLength      int       `json:"max_length"`
	AcceptanceRate float64   `json:"acceptance_rate"`
	CreatedAt      time.Time `json:"created_at"`
	Age            Duration  `json:"age"`
}

// ListResponse is the response of [Client.List].
type ListResponse struct {
	Requests []RequestSummary `json:"requests"`
}

// HealthResponse is the response of [Client.Health].
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Model   string `json:"model"`
	Running int    `json:"running"`
	Pending int    `json:"pending"`
}

// Duration marshals as seconds and accepts seconds or Go duration strings.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	if d.Duration < 0 {
		return []byte("-1"), nil
	}
	return []byte(fmt.Sprintf("%g", d.Seconds())), nil
}

func (d *Duration) UnmarshalJSON(b []byte) (err error) {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	d.Duration = 0

	switch t := v.(type) {
	case float64:
		if t < 0 {
			d.Duration = time.Duration(math.MaxInt64)
		} else {
			d.Duration = time.Duration(t * float64(time.Second))
		}
	case string:
		d.Duration, err = time.ParseDuration(t)
		if err != nil {
			return err
		}
		if d.Duration < 0 {
			d.Duration = time.Duration(math.MaxInt64)
		}
	default:
		return fmt.Errorf("Unsupported type: '%T'", v)
	}

	return nil
}
