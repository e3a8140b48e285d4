// routes_serve.go - Server-Start und Lifecycle-Management
// Enthaelt: Serve() - Startet Iterationsschleife und HTTP-Server,
// RunnerConfig() - Scheduler-Limits aus der Konfiguration

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/ollama/treeserve/api"
	"github.com/ollama/treeserve/envconfig"
	"github.com/ollama/treeserve/kvcache"
	"github.com/ollama/treeserve/logutil"
	"github.com/ollama/treeserve/model"
	"github.com/ollama/treeserve/runner/specrunner"

	_ "github.com/ollama/treeserve/model/models"
)

// RunnerConfig liest die Scheduler-Limits aus der Konfiguration
func RunnerConfig() (specrunner.Config, error) {
	dtype, err := kvcache.ParseDType(envconfig.KvCacheType())
	if err != nil {
		return specrunner.Config{}, err
	}

	return specrunner.Config{
		MaxRequestsPerBatch: int(envconfig.MaxRequestsPerBatch()),
		MaxTokensPerBatch:   int(envconfig.MaxTokensPerBatch()),
		MaxSequenceLength:   int(envconfig.MaxSequenceLength()),
		MaxSpecTreeTokens:   int(envconfig.MaxSpecTreeTokens()),
		PrefillChunk:        int(envconfig.PrefillChunk()),
		MaxQueue:            int(envconfig.MaxQueue()),
		NoSpeculation:       envconfig.NoSpeculation(),
		KvCacheType:         dtype,
		HiddenSize:          int(envconfig.HiddenSize()),
		KeepFinished:        envconfig.KeepFinished(),
	}, nil
}

// modelName gibt das konfigurierte Model zurueck (Default: toy)
func modelName() string {
	if name := envconfig.Model(); name != "" {
		return name
	}
	return "toy"
}

// Serve startet Iterationsschleife und HTTP-Server. Beide laufen bis SIGINT
// oder SIGTERM.
func Serve(ln net.Listener) error {
	slog.SetDefault(logutil.NewLogger(os.Stderr, envconfig.LogLevel()))

	if path := envconfig.ConfigFile(); path != "" {
		if err := envconfig.LoadFile(path); err != nil {
			return err
		}
		slog.SetDefault(logutil.NewLogger(os.Stderr, envconfig.LogLevel()))
	}
	slog.Info("server config", "env", envconfig.Values())

	cfg, err := RunnerConfig()
	if err != nil {
		return err
	}

	name := modelName()
	m, err := model.New(name, model.Config{
		VocabSize:     int(envconfig.VocabSize()),
		HiddenSize:    cfg.HiddenSize,
		DraftAccuracy: int(envconfig.DraftAccuracy()),
	})
	if err != nil {
		return fmt.Errorf("load model %s: %w (available: %v)", name, err, model.Names())
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	runner, err := specrunner.New(cfg, m, reg)
	if err != nil {
		return err
	}

	s := &Server{addr: ln.Addr(), runner: runner, gatherer: reg, modelName: name}
	srvr := &http.Server{Handler: s.GenerateRoutes()}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runner.Run(ctx)
	})
	g.Go(func() error {
		slog.Info(fmt.Sprintf("Listening on %s (version %s)", ln.Addr(), api.Version))
		return srvr.Serve(ln)
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down")
		return srvr.Shutdown(context.Background())
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
