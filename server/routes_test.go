// routes_test.go - Tests fuer die HTTP-Routen und den API-Client
package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/ollama/treeserve/api"
	"github.com/ollama/treeserve/kvcache"
	"github.com/ollama/treeserve/model"
	"github.com/ollama/treeserve/model/models/toy"
	"github.com/ollama/treeserve/runner/specrunner"
)

func testRunnerConfig() specrunner.Config {
	return specrunner.Config{
		MaxRequestsPerBatch: 2,
		MaxTokensPerBatch:   16,
		MaxSequenceLength:   32,
		MaxSpecTreeTokens:   8,
		MaxQueue:            4,
		KvCacheType:         kvcache.DTypeF32,
		HiddenSize:          4,
	}
}

// setup erstellt Server und Client. Mit run=true laeuft die Iterationsschleife.
func setup(t *testing.T, cfg specrunner.Config, run bool) (*Server, *api.Client) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m, err := model.New("toy", model.Config{VocabSize: 500, HiddenSize: cfg.HiddenSize, DraftAccuracy: 3})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	runner, err := specrunner.New(cfg, m, reg)
	require.NoError(t, err)

	if run {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			runner.Run(ctx)
		}()
		t.Cleanup(func() {
			cancel()
			<-done
		})
	}

	s := &Server{runner: runner, gatherer: reg, modelName: "toy"}
	ts := httptest.NewServer(s.GenerateRoutes())
	t.Cleanup(ts.Close)

	base, err := url.Parse(ts.URL)
	require.NoError(t, err)
	return s, api.NewClient(base, ts.Client())
}

func statusCode(t *testing.T, err error) int {
	t.Helper()
	var serr api.StatusError
	require.True(t, errors.As(err, &serr), "erwartet StatusError, bekommen %v", err)
	return serr.StatusCode
}

// TestSubmitAndPoll prueft den kompletten Ablauf ueber HTTP
func TestSubmitAndPoll(t *testing.T) {
	_, client := setup(t, testRunnerConfig(), true)
	ctx := context.Background()

	prompt := []int32{3, 4, 5}
	resp, err := client.Submit(ctx, &api.SubmitRequest{
		Prompt:       prompt,
		MaxNewTokens: 6,
		Speculation:  &api.SpecOptions{Enabled: true, BranchingFactor: 2, Depth: 2},
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.ID)

	var tokens []int32
	var last *api.PollResponse
	require.Eventually(t, func() bool {
		p, err := client.Poll(ctx, resp.ID)
		if err != nil {
			return false
		}
		tokens = append(tokens, p.Tokens...)
		last = p
		return p.Done
	}, 5*time.Second, 5*time.Millisecond)

	want := append([]int32{}, prompt...)
	for range 6 {
		want = append(want, toy.Next(want, 500))
	}
	require.Equal(t, want[len(prompt):], tokens)
	require.Equal(t, "finished", last.Status)
	require.Equal(t, "length", last.DoneReason)
	require.Equal(t, 9, last.CommittedDepth)
	require.Equal(t, 6, last.EvalCount)

	list, err := client.List(ctx)
	require.NoError(t, err)
	require.Len(t, list.Requests, 1)
	require.Equal(t, resp.ID, list.Requests[0].ID)
}

// TestErrorStatus prueft die Abbildung der Fehler auf Statuscodes
func TestErrorStatus(t *testing.T) {
	cfg := testRunnerConfig()
	cfg.MaxQueue = 1
	_, client := setup(t, cfg, false)
	ctx := context.Background()

	_, err := client.Submit(ctx, &api.SubmitRequest{})
	require.Equal(t, http.StatusBadRequest, statusCode(t, err))

	_, err = client.Submit(ctx, &api.SubmitRequest{Prompt: []int32{1}, MaxLength: 64})
	require.Equal(t, http.StatusBadRequest, statusCode(t, err))

	_, err = client.Poll(ctx, uuid.NewString())
	require.Equal(t, http.StatusNotFound, statusCode(t, err))

	_, err = client.Poll(ctx, "not-a-uuid")
	require.Equal(t, http.StatusBadRequest, statusCode(t, err))

	err = client.Abort(ctx, uuid.NewString())
	require.Equal(t, http.StatusNotFound, statusCode(t, err))

	// Ohne Iterationsschleife bleibt der erste Request in der Queue
	_, err = client.Submit(ctx, &api.SubmitRequest{Prompt: []int32{1}})
	require.NoError(t, err)
	_, err = client.Submit(ctx, &api.SubmitRequest{Prompt: []int32{1}})
	require.Equal(t, http.StatusServiceUnavailable, statusCode(t, err))
}

// TestMissingBody prueft leere und kaputte Request-Bodies
func TestMissingBody(t *testing.T) {
	s, _ := setup(t, testRunnerConfig(), false)
	h := s.GenerateRoutes()

	for _, body := range []string{"", "{"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/requests", strings.NewReader(body))
		h.ServeHTTP(w, req)
		require.Equal(t, http.StatusBadRequest, w.Code, "Body %q", body)
	}
}

// TestAbortHTTP prueft den Abbruch ueber HTTP
func TestAbortHTTP(t *testing.T) {
	s, client := setup(t, testRunnerConfig(), false)
	ctx := context.Background()

	resp, err := client.Submit(ctx, &api.SubmitRequest{Prompt: []int32{1, 2}, MaxNewTokens: 4})
	require.NoError(t, err)
	require.NoError(t, client.Abort(ctx, resp.ID))

	// Der Abbruch wird an der naechsten Iterationsgrenze wirksam
	_, err = s.runner.Step(ctx)
	require.NoError(t, err)

	p, err := client.Poll(ctx, resp.ID)
	require.NoError(t, err)
	require.Equal(t, "aborted", p.Status)
	require.True(t, p.Done)
	require.Empty(t, p.Tokens)

	// Abbruch eines beendeten Requests ist ein No-op
	require.NoError(t, client.Abort(ctx, resp.ID))
}

// TestHealthAndRoot prueft Health, Root und Metriken
func TestHealthAndRoot(t *testing.T) {
	s, client := setup(t, testRunnerConfig(), false)
	ctx := context.Background()

	_, err := client.Submit(ctx, &api.SubmitRequest{Prompt: []int32{1}})
	require.NoError(t, err)

	h, err := client.Health(ctx)
	require.NoError(t, err)
	require.Equal(t, "ok", h.Status)
	require.Equal(t, "toy", h.Model)
	require.Equal(t, 1, h.Pending)
	require.Equal(t, 0, h.Running)

	routes := s.GenerateRoutes()

	w := httptest.NewRecorder()
	routes.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "treeserve is running", w.Body.String())

	_, err = s.runner.Step(ctx)
	require.NoError(t, err)

	w = httptest.NewRecorder()
	routes.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "treeserve_iterations_total 1")
	require.Contains(t, string(body), "treeserve_committed_tokens_total 1")
}

// TestAllowedHosts prueft die Host-Pruefung fuer Loopback-Server
func TestAllowedHosts(t *testing.T) {
	cases := map[string]bool{
		"localhost":       true,
		"127.0.0.1":       true,
		"10.0.0.3":        true,
		"myhost.local":    true,
		"example.com":     false,
		"evil.example.io": false,
	}

	s, _ := setup(t, testRunnerConfig(), false)
	s.addr = &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 11500}
	routes := s.GenerateRoutes()

	for host, allowed := range cases {
		t.Run(host, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Host = host
			routes.ServeHTTP(w, req)

			if allowed {
				require.Equal(t, http.StatusOK, w.Code)
			} else {
				require.Equal(t, http.StatusForbidden, w.Code)
			}
		})
	}
}
