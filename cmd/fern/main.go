package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectologger"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/fern/config"
	bookrepo "github.com/Ramsey-B/fern/internal/repositories/book"
	snapshotrepo "github.com/Ramsey-B/fern/internal/repositories/snapshot"
	"github.com/Ramsey-B/fern/internal/services/catalog"
	"github.com/Ramsey-B/fern/internal/services/ingestion"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/ingest"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/logging"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/redis"
	booksroute "github.com/Ramsey-B/fern/pkg/routes/books"
	healthroute "github.com/Ramsey-B/fern/pkg/routes/health"
	historyroute "github.com/Ramsey-B/fern/pkg/routes/history"
	ingestroute "github.com/Ramsey-B/fern/pkg/routes/ingest"
	statsroute "github.com/Ramsey-B/fern/pkg/routes/stats"
	"github.com/Ramsey-B/fern/pkg/startup"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "fern",
		Short: "Book catalog change tracker",
	}
	root.AddCommand(serveCmd(), migrateCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and the record-feed consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := logging.New(cfg.AppName, cfg.LogLevel, cfg.PrettyLogs)

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			db, err := connectDatabase(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			return runMigrations(cfg, logger, db)
		},
	}
}

func serve() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.AppName, cfg.LogLevel, cfg.PrettyLogs)

	shutdownTracing, err := tracing.Setup(cfg.AppName)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		db          database.DB
		redisClient *redis.Client
		consumer    *kafka.Consumer
		checker     *healthroute.Checker
		e           *echo.Echo
	)

	boot := startup.NewStartup(logger, cfg.StartupMaxAttempts)

	boot.AddDependency(&startup.Func{
		Name: "database",
		StartFn: func(ctx context.Context) error {
			db, err = connectDatabase(ctx, cfg, logger)
			if err != nil {
				return err
			}
			return runMigrations(cfg, logger, db)
		},
		StopFn: func(ctx context.Context) error {
			return db.Close()
		},
	})

	boot.AddDependency(&startup.Func{
		Name: "redis",
		StartFn: func(ctx context.Context) error {
			if cfg.RedisHost == "" {
				logger.Info("Redis not configured, stats cache disabled")
				return nil
			}
			redisClient, err = redis.NewClient(redis.Config{
				Host:     cfg.RedisHost,
				Port:     cfg.RedisPort,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			}, logger)
			return err
		},
		StopFn: func(ctx context.Context) error {
			if redisClient == nil {
				return nil
			}
			return redisClient.Close()
		},
	})

	boot.AddDependency(&startup.Func{
		Name:    "http",
		Parents: []string{"database", "redis"},
		StartFn: func(ctx context.Context) error {
			e = buildServer(cfg, logger, db, redisClient)
			checker = healthroute.NewChecker(db, redisClient, version)
			checker.Register(e)

			go func() {
				addr := fmt.Sprintf(":%d", cfg.Port)
				if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
					logger.WithError(err).Error("HTTP server stopped unexpectedly")
					stop()
				}
			}()
			checker.SetReady(true)
			return nil
		},
		StopFn: func(ctx context.Context) error {
			if checker != nil {
				checker.SetReady(false)
			}
			return e.Shutdown(ctx)
		},
	})

	boot.AddDependency(&startup.Func{
		Name:    "kafka-consumer",
		Parents: []string{"database"},
		StartFn: func(ctx context.Context) error {
			if !cfg.KafkaConsumerEnabled {
				logger.Info("Kafka consumer disabled")
				return nil
			}

			consumerCfg := kafka.DefaultConsumerConfig()
			consumerCfg.Brokers = cfg.KafkaBrokers
			consumerCfg.Topic = cfg.KafkaRecordsTopic
			consumerCfg.GroupID = cfg.KafkaConsumerGroup

			consumer, err = kafka.NewConsumer(consumerCfg, logger)
			if err != nil {
				return err
			}

			ingestSvc := buildIngestion(cfg, logger, db)
			return consumer.Start(ctx, func(ctx context.Context, msg *kafka.RecordsMessage) error {
				_, err := ingestSvc.IngestBatch(ctx, msg.Records)
				return err
			})
		},
		StopFn: func(ctx context.Context) error {
			if consumer == nil {
				return nil
			}
			return consumer.Stop()
		},
	})

	if err := boot.Start(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = boot.Stop(stopCtx)
		return err
	}
	logger.WithField("port", cfg.Port).Info("fern is up")

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := boot.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Shutdown finished with errors")
	}
	return shutdownTracing(shutdownCtx)
}

func connectDatabase(ctx context.Context, cfg *config.Config, logger ectologger.Logger) (database.DB, error) {
	return database.Connect(ctx, database.ConnectionConfig{
		Host:            cfg.DatabaseHost,
		Port:            cfg.DatabasePort,
		UserName:        cfg.DatabaseUserName,
		Password:        cfg.DatabasePassword,
		Name:            cfg.DatabaseName,
		SSLMode:         cfg.DatabaseSSLMode,
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	}, logger)
}

func runMigrations(cfg *config.Config, logger ectologger.Logger, db database.DB) error {
	instance, ok := db.(*database.DatabaseInstance)
	if !ok {
		return fmt.Errorf("database handle does not support migrations")
	}

	driver, err := migratepg.WithInstance(instance.DB.DB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	svc := database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})
	return svc.Migrate(cfg.DatabaseName, driver)
}

func buildIngestion(cfg *config.Config, logger ectologger.Logger, db database.DB) *ingestion.Service {
	books := bookrepo.NewRepository(db, logger)
	snapshots := snapshotrepo.NewRepository(db, logger)
	normalizer := normalizers.New(cfg.SourceBaseURL, logger)
	processor := ingest.NewProcessor(db, books, snapshots, normalizer, logger, cfg.IngestConflictRetries)
	return ingestion.NewService(processor, cfg.IngestWorkerCount, logger)
}

func buildServer(cfg *config.Config, logger ectologger.Logger, db database.DB, redisClient *redis.Client) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second

	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))
	e.HTTPErrorHandler = middleware.Error(logger)

	books := bookrepo.NewRepository(db, logger)
	snapshots := snapshotrepo.NewRepository(db, logger)

	cache := redis.NewCache(redisClient, cfg.StatsCacheTTL, logger)
	catalogSvc := catalog.NewService(books, snapshots, cache, catalog.Config{
		MaxPageSize:     cfg.MaxPageSize,
		MaxRandomSample: cfg.MaxRandomSample,
		PriceBuckets:    cfg.PriceBuckets,
	}, logger)
	ingestSvc := buildIngestion(cfg, logger, db)

	booksroute.NewHandler(catalogSvc).Register(e.Group("/books"))
	statsroute.NewHandler(catalogSvc).Register(e.Group("/stats"))
	historyroute.NewHandler(catalogSvc).Register(e.Group("/history"))
	ingestroute.NewHandler(ingestSvc).Register(e.Group("/ingest"))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return e
}
