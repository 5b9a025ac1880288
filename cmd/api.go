package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"example.com/fitquest/services/progression/config"
	"example.com/fitquest/services/progression/internal/api"
	"example.com/fitquest/services/progression/internal/cache"
	"example.com/fitquest/services/progression/internal/coordinator"
	"example.com/fitquest/services/progression/internal/domains"
	"example.com/fitquest/services/progression/internal/eventlog"
	"example.com/fitquest/services/progression/internal/ledger"
	"example.com/fitquest/services/progression/internal/messaging"
	"example.com/fitquest/services/progression/internal/metrics"
	"example.com/fitquest/services/progression/internal/models"
	"example.com/fitquest/services/progression/internal/repositories"
	"example.com/fitquest/services/progression/internal/search"
	"example.com/fitquest/services/progression/internal/taskbridge"
	"example.com/fitquest/services/progression/internal/tracing"
	"example.com/fitquest/services/progression/internal/tracker"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long:  `Start the HTTP API server to handle incoming domain events, reversals and progress queries`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
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

	server := api.NewServer(cfg, api.Deps{
		Coordinator: engine.coordinator,
		Reversal:    engine.reversal,
		Enricher:    engine.enricher,
		EventLog:    engine.eventLog,
		Ledger:      engine.ledger,
		Operations:  engine.operations,
		Metrics:     engine.metrics,
		Tracer:      engine.tracer,
	})

	// Start the server in a goroutine
	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("Server error")
		}
	}()

	// Wait for termination signal
	<-ctx.Done()

	// Shutdown the server
	if err := server.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	log.Info().Msg("Shutting down API server")
	return nil
}

// engine bundles every wired component so the api and worker commands share
// one construction path
type engine struct {
	db          *gorm.DB
	readOnlyDB  *gorm.DB
	cache       *cache.RedisCache
	tracer      tracing.Tracer
	elastic     *search.ElasticClient
	metrics     *metrics.Metrics
	operations  *tracker.Tracker
	eventLog    *eventlog.Repository
	ledger      *ledger.Service
	registry    *domains.Registry
	enricher    *coordinator.Enricher
	bridge      *taskbridge.Bridge
	outbound    messaging.ServiceBusClient
	coordinator *coordinator.Coordinator
	reversal    *coordinator.ReversalService
	reconciler  *coordinator.Reconciler
}

func buildEngine(cfg config.Config) (*engine, error) {
	db, readOnlyDB, err := initDatabases(cfg)
	if err != nil {
		return nil, err
	}

	// Initialize cache
	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
	}

	// Initialize tracer
	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
	}

	// Initialize Elasticsearch client
	elasticClient, err := search.NewElasticClient(cfg.Elastic)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without search functionality")
	}

	metricsCollector := metrics.NewMetrics()
	operations := tracker.New(cfg.Progression.TrackerTTL)

	eventLog := eventlog.NewRepository(db, readOnlyDB)
	ledgerService := ledger.NewService(db, readOnlyDB, redisCache)
	registry := domains.NewDefaultRegistry(cfg.Progression.DailyMealCap)

	taskRepo := repositories.NewTaskRepository(db, readOnlyDB)
	mealRepo := repositories.NewMealRepository(db, readOnlyDB)
	weightRepo := repositories.NewWeightRepository(db, readOnlyDB)
	enricher := coordinator.NewEnricher(mealRepo, weightRepo)
	bridge := taskbridge.NewBridge(taskRepo)

	// The outbound queue is optional; without it notifications are skipped
	var notifier coordinator.Notifier
	var outbound messaging.ServiceBusClient
	if cfg.Azure.QueueConnStr != "" && cfg.Azure.OutboundQueueName != "" {
		outbound, err = messaging.NewServiceBusClient(cfg.Azure, cfg.Azure.OutboundQueueName, "progression")
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize outbound queue, continuing without notifications")
		} else {
			notifier = messaging.NewPublisher(outbound)
		}
	}

	var indexer coordinator.Indexer
	if elasticClient != nil {
		indexer = elasticClient
	}

	coord := coordinator.NewCoordinator(
		registry, eventLog, ledgerService, bridge,
		operations, notifier, indexer, metricsCollector, tracer,
	)
	reversal := coordinator.NewReversalService(
		registry, eventLog, ledgerService, bridge,
		operations, notifier, indexer, metricsCollector, tracer,
	)
	reconciler := coordinator.NewReconciler(
		registry, eventLog, ledgerService, metricsCollector,
		cfg.Progression.ReversalStallAfter,
	)

	return &engine{
		db:          db,
		readOnlyDB:  readOnlyDB,
		cache:       redisCache,
		tracer:      tracer,
		elastic:     elasticClient,
		metrics:     metricsCollector,
		operations:  operations,
		eventLog:    eventLog,
		ledger:      ledgerService,
		registry:    registry,
		enricher:    enricher,
		bridge:      bridge,
		outbound:    outbound,
		coordinator: coord,
		reversal:    reversal,
		reconciler:  reconciler,
	}, nil
}

func (e *engine) close() {
	if e.outbound != nil {
		if err := e.outbound.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing outbound queue client")
		}
	}
	if e.cache != nil {
		if err := e.cache.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing Redis cache")
		}
	}
	if e.tracer != nil {
		e.tracer.Close()
	}
}

func initDatabases(cfg config.Config) (*gorm.DB, *gorm.DB, error) {
	// TranslateError maps unique-index violations to gorm.ErrDuplicatedKey,
	// which the ledger and event log rely on to detect racing writers

	// Initialize write database
	db, err := gorm.Open(postgres.Open(cfg.DB.DSN), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to connect to write database")
	}

	// Initialize read-only database
	readOnlyDB, err := gorm.Open(postgres.Open(cfg.DB.ReadOnlyDSN), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to connect to read-only database")
	}

	// Auto-migrate only the write database
	if err := models.SetupModels(db); err != nil {
		return nil, nil, errors.Wrap(err, "failed to run migrations")
	}

	if err := configurePool(db, cfg.DB.MaxOpenConns, cfg.DB.MaxIdleConns, cfg.DB.ConnMaxLifetime); err != nil {
		return nil, nil, err
	}
	// Higher limits for the read-only pool
	if err := configurePool(readOnlyDB, cfg.DB.MaxOpenConns*2, cfg.DB.MaxIdleConns*2, cfg.DB.ConnMaxLifetime); err != nil {
		return nil, nil, err
	}

	return db, readOnlyDB, nil
}

func configurePool(db *gorm.DB, maxOpen, maxIdle int, maxLifetime time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return errors.Wrap(err, "failed to get underlying DB connection")
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(maxLifetime)
	return nil
}
