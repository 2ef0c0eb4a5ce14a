// Command engine launches the oddstream ingestion runtime.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachpo/oddstream/config"
	"github.com/coachpo/oddstream/internal/engine"
	"github.com/coachpo/oddstream/internal/fixtures"
	"github.com/coachpo/oddstream/internal/observability"
	pgstore "github.com/coachpo/oddstream/internal/persistence/postgres"
	"github.com/coachpo/oddstream/internal/telemetry"
)

const (
	engineLoggerPrefix       = "oddstream "
	telemetryShutdownTimeout = 5 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := flag.String("config", "", "Path to configuration file (default: config/oddstream.yaml)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(os.Stdout, engineLoggerPrefix, log.LstdFlags|log.Lmicroseconds)
	observability.SetLogger(observability.NewStdLogger(logger, *debug))

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Printf("configuration initialised: env=%s, venue=%s", cfg.Environment, cfg.Venue.RESTBaseURL)

	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return fmt.Errorf("database DSN required (set ODDSTREAM_DATABASE_DSN or database.dsn)")
	}

	_, telemetryShutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer shutdownCancel()
		if err := telemetryShutdown(shutdownCtx); err != nil {
			logger.Printf("telemetry shutdown: %v", err)
		}
	}()

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open database pool: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	store := pgstore.NewOddsStore(pool, cfg.Bookmaker)
	resolver := fixtures.NewResolver(pool, cfg.Catalog.KickoffWindow)

	eng := engine.New(cfg, store, resolver, metrics)
	if err := eng.Start(ctx); err != nil {
		return err
	}
	logger.Print("engine started; awaiting shutdown signal")

	if err := eng.Run(ctx); err != nil {
		return err
	}
	logger.Print("shutdown completed")
	return nil
}
