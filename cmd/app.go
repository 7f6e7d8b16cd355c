package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/tkuosman/partsmirror/internal/assets"
	"github.com/tkuosman/partsmirror/internal/clock/system"
	"github.com/tkuosman/partsmirror/internal/config"
	"github.com/tkuosman/partsmirror/internal/extract"
	collyfetcher "github.com/tkuosman/partsmirror/internal/fetcher/colly"
	"github.com/tkuosman/partsmirror/internal/metricsserver"
	"github.com/tkuosman/partsmirror/internal/orchestrator"
	"github.com/tkuosman/partsmirror/internal/progress"
	progresssinks "github.com/tkuosman/partsmirror/internal/progress/sinks"
	"github.com/tkuosman/partsmirror/internal/scrape"
	"github.com/tkuosman/partsmirror/internal/storage/memory"
	"github.com/tkuosman/partsmirror/internal/storage/postgres"
)

// app holds the assembled service graph for one command invocation.
type app struct {
	orch    *orchestrator.Orchestrator
	store   scrape.Store
	hub     *progress.Hub
	metrics *metricsserver.Server
	logger  *zap.Logger
}

// buildApp wires the fetcher, extractor, store, synchronizer, progress
// hub, and orchestrator from configuration. An empty db.dsn selects the
// in-memory store, which is useful for one-off inspection runs.
func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.Timeout(),
	})

	extractor := extract.New(extract.Markers{
		Block:       cfg.Extract.BlockMarker,
		PartNumber:  cfg.Extract.PartNumberMarker,
		Description: cfg.Extract.DescriptionMarker,
	}, logger)

	var store scrape.Store
	if cfg.DB.DSN == "" {
		logger.Warn("db.dsn not set, using in-memory store; nothing will persist")
		store = memory.New()
	} else {
		pgStore, err := postgres.New(ctx, postgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
			MinConns: cfg.DB.MinConns,
		})
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		store = pgStore
	}

	clk := system.New()
	synchronizer := assets.New(assets.Config{
		BaseDir:    cfg.Assets.BaseDir,
		BackupDir:  cfg.Assets.BackupDir,
		RootMarker: cfg.Assets.RootMarker,
	}, fetcher, clk, logger)

	sinks := []progress.Sink{progresssinks.NewLogSink(logger)}
	var metrics *metricsserver.Server
	if cfg.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		promSink, err := progresssinks.NewPrometheusSink(registry)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("init metrics: %w", err)
		}
		sinks = append(sinks, promSink)
		metrics = metricsserver.New(cfg.Metrics.Port, registry, logger)
	}
	hub := progress.NewHub(logger, sinks...)

	orch := orchestrator.New(
		orchestrator.Config{
			Categories: cfg.Site.Categories,
			Delay:      cfg.Delay(),
		},
		fetcher,
		extractor,
		store,
		synchronizer,
		clk,
		hub,
		logger,
	)

	return &app{
		orch:    orch,
		store:   store,
		hub:     hub,
		metrics: metrics,
		logger:  logger,
	}, nil
}

// run executes fn with the metrics endpoint live, then tears everything
// down in dependency order.
func (a *app) run(ctx context.Context, fn func(context.Context) error) error {
	metricsCtx, stopMetrics := context.WithCancel(ctx)
	metricsDone := make(chan error, 1)
	if a.metrics != nil {
		go func() {
			metricsDone <- a.metrics.Run(metricsCtx)
		}()
	} else {
		close(metricsDone)
	}

	runErr := fn(ctx)

	stopMetrics()
	if err := <-metricsDone; err != nil {
		a.logger.Warn("metrics server stopped with error", zap.Error(err))
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.hub.Close(closeCtx); err != nil {
		a.logger.Warn("progress hub close failed", zap.Error(err))
	}
	a.store.Close()

	return runErr
}
