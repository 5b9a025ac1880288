package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"example.com/fitquest/services/progression/config"
	"example.com/fitquest/services/progression/internal/messaging"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the worker that consumes domain events from the intake queue and reconciles stalled reversals`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return err
	}

	// Configure logging
	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	engine, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	defer engine.close()

	g, ctx := errgroup.WithContext(ctx)

	// Start the intake queue consumer
	consumer, err := messaging.NewConsumer(cfg.Azure, engine.coordinator, engine.enricher)
	if err != nil {
		return err
	}
	g.Go(func() error {
		log.Info().Str("queue", cfg.Azure.EventsQueueName).Msg("Starting event intake consumer")
		if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	})

	// Start the reconciliation cron jobs
	g.Go(func() error {
		log.Info().Msg("Starting reversal reconciliation scheduler")

		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.Progression.ReconcileInterval),
			gocron.NewTask(func() {
				if err := engine.reconciler.ReconcileReversals(ctx); err != nil {
					log.Error().Err(err).Msg("Failed to reconcile stalled reversals")
				}
				if err := engine.reconciler.ReportUnrewarded(ctx); err != nil {
					log.Error().Err(err).Msg("Failed to report unrewarded entries")
				}
			}),
		)
		if err != nil {
			return err
		}

		scheduler.Start()

		// Wait for context cancellation
		<-ctx.Done()

		return scheduler.Shutdown()
	})

	// Wait for any goroutine to exit
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}
