package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odvcencio/scrivener/pkg/audit"
	"github.com/odvcencio/scrivener/pkg/checkpoint"
	"github.com/odvcencio/scrivener/pkg/config"
	"github.com/odvcencio/scrivener/pkg/gemini"
	"github.com/odvcencio/scrivener/pkg/logging"
	"github.com/odvcencio/scrivener/pkg/orchestrator"
	"github.com/odvcencio/scrivener/pkg/refine"
	"github.com/odvcencio/scrivener/pkg/retro"
	"github.com/odvcencio/scrivener/pkg/story"
	"github.com/odvcencio/scrivener/pkg/vcs"
)

func main() {
	configPath := flag.String("config", "scrivener.yaml", "path to the YAML config")
	metricsAddr := flag.String("metrics-addr", "", "listen address for /metrics (empty disables)")
	runs := flag.Int("runs", 0, "override pipeline.total_runs for this invocation")
	flag.Parse()

	if err := run(*configPath, *metricsAddr, *runs); err != nil {
		fmt.Fprintf(os.Stderr, "scrivener: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, metricsAddr string, runsOverride int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	totalRuns := cfg.Pipeline.TotalRuns
	if runsOverride > 0 {
		totalRuns = runsOverride
	}

	runID := uuid.NewString()
	logger, err := logging.NewLogger(cfg.Paths.LogDir, runID)
	if err != nil {
		return err
	}
	defer logger.Close()

	auditStore, err := audit.Open(cfg.Paths.AuditDB)
	if err != nil {
		return err
	}
	defer auditStore.Close()

	client := gemini.NewClient(cfg.Gemini, gemini.ClientOptions{
		AuditStore: auditStore,
		Logger:     logger,
		RunID:      runID,
	})
	invoker := gemini.NewStructuredInvoker(client, cfg.Pipeline.MaxRetries, cfg.Pipeline.RetryDelay, logger)

	store := story.NewStore(cfg.Paths.ArcStateFile, cfg.Paths.NovelFile, cfg.Paths.DossierDir, logger)
	checkpoints := checkpoint.NewStore(cfg.Paths.CheckpointDir, logger)
	loop := refine.NewLoop(checkpoints, cfg.Pipeline.RewriteCycles, logger)

	git, err := vcs.NewClient(cfg.Git, logger)
	if err != nil {
		return err
	}

	coordinator := retro.NewCoordinator(invoker, checkpoints, cfg.Paths.MinutesDir,
		cfg.Pipeline.RetroMinParticipants, retro.DefaultRoster(store, 3), logger)

	registry := prometheus.NewRegistry()
	metrics := orchestrator.NewMetrics(registry)
	if metricsAddr != "" {
		go serveMetrics(metricsAddr, registry)
	}

	orch := orchestrator.New(cfg, invoker, store, checkpoints, loop, git, coordinator, logger, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for i := 0; i < totalRuns; i++ {
		if ctx.Err() != nil {
			break
		}

		if err := orch.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			// A failed run is not fatal for the session: state on disk
			// is intact and the next run resumes from the checkpoints.
			fmt.Fprintf(os.Stderr, "scrivener: run %d/%d failed: %v\n", i+1, totalRuns, err)
		}

		if i == totalRuns-1 {
			break
		}
		if err := sleepCtx(ctx, cfg.Pipeline.RunInterval); err != nil {
			break
		}
	}

	return nil
}

func serveMetrics(addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		fmt.Fprintf(os.Stderr, "scrivener: metrics listener: %v\n", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
