package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/usagekit/copilot-usage-tracker/internal/analytics"
	"github.com/usagekit/copilot-usage-tracker/internal/config"
	"github.com/usagekit/copilot-usage-tracker/internal/domain"
	"github.com/usagekit/copilot-usage-tracker/internal/observability"
	"github.com/usagekit/copilot-usage-tracker/internal/service"
	"github.com/usagekit/copilot-usage-tracker/internal/storage"
)

const version = "0.1.0"

// summaryInterval is how often the running totals are logged at debug
// level.
const summaryInterval = time.Minute

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	observability.InitLogger(cfg.LogLevel, cfg.LogFile)

	log.Info().
		Str("version", version).
		Msg("Starting Copilot usage tracker")

	// Initialize tracer (no-op provider when disabled)
	shutdown, err := observability.InitTracer(observability.TracerConfig{
		ServiceName:    "copilot-usage-tracker",
		ServiceVersion: version,
		Endpoint:       cfg.TracingEndpoint,
		Protocol:       cfg.TracingProtocol,
		Enabled:        cfg.TracingEnabled,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize tracer")
	} else {
		defer shutdown(context.Background())
	}

	metrics := observability.NewMetrics()

	// Pick the event store: persistent when a DB path is configured,
	// in-memory otherwise.
	var store analytics.EventStore
	if cfg.EventDBPath != "" {
		boltStore, err := storage.NewBoltStore(cfg.EventDBPath, &metrics.Store)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open event store")
		}
		store = boltStore
	} else {
		store = analytics.NewMemoryStore(&metrics.Store)
	}
	defer store.Close()

	tracker, err := service.NewTracker(cfg, store, metrics)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create tracker")
	}

	tracker.Subscribe(func(events []domain.UsageEvent) {
		log.Debug().Int("events", len(events)).Msg("Usage events recorded")
	})

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if err := tracker.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start tracker")
	}

	log.Info().Msg("Tracker started successfully")

	go logSummaries(ctx, tracker)

	// Wait for shutdown signal
	<-sigChan
	log.Info().Msg("Received shutdown signal")

	// Graceful shutdown
	log.Info().Msg("Shutting down gracefully...")
	cancel()
	tracker.Stop()

	log.Info().Msg("Tracker stopped")
}

// logSummaries periodically logs the aggregate usage counts.
func logSummaries(ctx context.Context, tracker *service.Tracker) {
	ticker := time.NewTicker(summaryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summary, err := tracker.Summary()
			if err != nil {
				log.Warn().Err(err).Msg("Failed to compute summary")
				continue
			}
			log.Debug().
				Int("total", summary.TotalEvents).
				Int("today", summary.EventsToday).
				Int("week", summary.EventsThisWeek).
				Int("month", summary.EventsThisMonth).
				Msg("Usage summary")
		}
	}
}
