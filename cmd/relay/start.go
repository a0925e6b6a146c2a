package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"fedifeed/relay/internal/activity"
	"fedifeed/relay/internal/delivery"
	"fedifeed/relay/internal/directory"
	"fedifeed/relay/internal/fetch"
	importer "fedifeed/relay/internal/import"
	"fedifeed/relay/internal/ingest"
	"fedifeed/relay/internal/metrics"
	"fedifeed/relay/internal/process"
	"fedifeed/relay/internal/registry"
	"fedifeed/relay/internal/scheduler"
	"fedifeed/relay/internal/server"
	"fedifeed/relay/internal/signing"
	"fedifeed/relay/internal/storage"
)

const purgeInterval = 24 * time.Hour

func startCmd() *cli.Command {
	return &cli.Command{
		Name:  "start",
		Usage: "Run the scheduler and the ops server until interrupted",
		Description: `Seeds owners, sources and recipients from the config file, then
polls every active source on its schedule. On SIGINT or SIGTERM timers
stop and in-flight runs are allowed to finish.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "listen",
				Usage:   "Address of the ops HTTP server, empty to disable",
				EnvVars: []string{"RELAY_LISTEN"},
			},
			&cli.IntFlag{
				Name:    "workers",
				Usage:   "Maximum concurrent source runs, 0 for CPU count",
				EnvVars: []string{"RELAY_WORKER_COUNT"},
			},
		},
		Action: runStart,
	}
}

func runStart(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("listen") {
		cfg.Listen = c.String("listen")
	}
	if c.IsSet("workers") {
		cfg.WorkerCount = c.Int("workers")
	}

	db, err := openDB(cfg, false)
	if err != nil {
		return err
	}
	defer db.Close()
	store := storage.NewStore(db)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := importer.NewImporter(store).ApplyConfig(ctx, cfg); err != nil {
		return fmt.Errorf("seed from config: %w", err)
	}

	builder, err := activity.NewBuilder(cfg.BaseURL)
	if err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promReg)

	sources := registry.New(store)
	dispatcher := delivery.NewDispatcher(delivery.Deps{
		Recipients:  directory.New(store),
		Posts:       store,
		Attempts:    store,
		Builder:     builder,
		Credentials: signing.KeyCheck{},
		Transport:   delivery.NewHTTPTransport(cfg.Delivery.UserAgent, cfg.Delivery.Timeout),
		Metrics:     m,
	})
	fetcher := fetch.New(fetch.Options{
		UserAgent:    cfg.Fetch.UserAgent,
		Timeout:      cfg.Fetch.Timeout,
		Retries:      cfg.Fetch.Retries,
		MaxItems:     cfg.Fetch.MaxItems,
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
	})
	processor := process.NewSourceProcessor(fetcher, ingest.New(store), dispatcher, store, store, m)

	sched, err := scheduler.New(processor, sources, sources, scheduler.Options{
		DefaultSchedule: cfg.DefaultSchedule,
		ResyncInterval:  cfg.ResyncInterval,
		Workers:         cfg.WorkerCount,
		Metrics:         m,
	})
	if err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Listen != "" {
		router := server.NewRouter(server.Deps{
			Store:    store,
			Gatherer: promReg,
			Attempts: store,
			Sources:  sources,
			Runs:     sched,
			Owners:   store,
			Identity: builder,
		}, log.Logger)
		g.Go(func() error { return server.RunServer(gctx, cfg.Listen, router, log.Logger) })
	}
	g.Go(func() error { return purgeLoop(gctx, store, cfg.RetentionDays) })

	<-gctx.Done()
	log.Info().Msg("Shutting down, waiting for in-flight runs")
	sched.Stop()
	err = g.Wait()

	stats := processor.Stats()
	log.Info().
		Int64("runs", stats.Runs).
		Int64("failures", stats.Failures).
		Int64("created", stats.Created).
		Int64("published", stats.Published).
		Int64("failed", stats.Failed).
		Msg("Processing stats")
	return err
}

// purgeLoop trims the delivery attempt log once at startup and then daily.
func purgeLoop(ctx context.Context, repo storage.AttemptRepository, retentionDays int) error {
	if retentionDays <= 0 {
		log.Info().Msg("Delivery attempt retention disabled")
		return nil
	}

	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		if _, err := process.PurgeOldAttempts(ctx, repo, retentionDays); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Failed to purge old delivery attempts")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
