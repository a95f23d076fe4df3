package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/watzon/vine/internal/bookings"
	"github.com/watzon/vine/internal/config"
	"github.com/watzon/vine/internal/database"
	"github.com/watzon/vine/internal/engine"
	"github.com/watzon/vine/internal/events"
	"github.com/watzon/vine/internal/executions"
	"github.com/watzon/vine/internal/metrics"
	"github.com/watzon/vine/internal/scheduler"
	"github.com/watzon/vine/internal/server"
	"github.com/watzon/vine/internal/storage"
)

const (
	shutdownTimeout = 30 * time.Second
	eventBufferSize = 64
)

var (
	servePort int
	serveHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and admin API",
	Long: `Run the booking export scheduler together with its admin API.

On startup the schedule is left stopped unless scheduler.resume_on_startup
is set, runs interrupted by the previous process are closed, and the
stale-run sweeper begins. SIGINT or SIGTERM stops the API and waits for
running exports to finish.

Changes to logging.level in the config file are applied without a restart.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", config.DefaultPort, "Port to listen on")
	serveCmd.Flags().StringVar(&serveHost, "host", config.DefaultHost, "Host to bind to")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Watch(config.LoadOptions{ConfigFile: cfgFile}, func(updated *config.Config) {
		applyLogLevel(updated.Logging.Level)
		log.Info().Str("level", updated.Logging.Level).Msg("Log level updated")
	})
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serveHost
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return errors.Wrap(err, "opening database")
	}
	defer db.Close()

	backend, err := storage.NewBackend(ctx, cfg.Processor.Storage, cfg.Processor.Compression)
	if err != nil {
		return errors.Wrap(err, "creating storage backend")
	}

	proc, err := bookings.NewProcessor(db, backend, bookings.Options{
		SourceTable: cfg.Processor.SourceTable,
		Bucket:      cfg.Processor.Bucket,
		Compression: cfg.Processor.Compression,
	})
	if err != nil {
		return errors.Wrap(err, "creating processor")
	}

	bus := events.NewEventBus(eventBufferSize)
	bus.RecordMetrics()
	eng := engine.New(db, engine.Options{Workers: cfg.Scheduler.WorkerCount})

	orch := scheduler.New(
		scheduler.NewConfigStore(db),
		executions.NewStore(db),
		eng,
		proc,
		bus,
		scheduler.OptionsFromConfig(&cfg.Scheduler),
	)
	if err := orch.Initialize(ctx); err != nil {
		return errors.Wrap(err, "initializing scheduler")
	}

	sweeper := scheduler.NewSweeper(orch, cfg.Scheduler.SweepInterval, cfg.Scheduler.StaleThreshold)
	sweeper.Start()
	defer sweeper.Stop()

	srv := server.New(cfg, db, orch,
		server.WithVersion(version),
		server.WithEventBus(bus),
		server.WithDBStats(func() {
			stats := db.Stats()
			metrics.UpdateDBStats(stats.OpenConnections, stats.InUse, stats.Idle)
		}),
	)

	log.Info().
		Str("addr", cfg.Server.Address()).
		Str("database", cfg.Database.Path).
		Str("storage", storageDescription(cfg.Processor.Storage)).
		Str("bucket", cfg.Processor.Bucket).
		Str("compression", cfg.Processor.Compression).
		Msg("Starting vine")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		if stopErr := eng.Stop(shutdownCtx); stopErr != nil {
			log.Error().Err(stopErr).Msg("Engine did not stop cleanly")
			if err == nil {
				err = stopErr
			}
		}
		return err
	})

	return g.Wait()
}

func storageDescription(cfg config.StorageConfig) string {
	if cfg.Type == "s3" && cfg.S3 != nil {
		if cfg.S3.Endpoint != "" {
			return "s3 " + cfg.S3.Endpoint
		}
		return "s3 " + cfg.S3.Region
	}
	return "filesystem " + cfg.Path
}
