package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/posprint/bridge/internal/api/handler"
	"github.com/posprint/bridge/internal/api/router"
	"github.com/posprint/bridge/internal/config"
	"github.com/posprint/bridge/internal/device"
	"github.com/posprint/bridge/internal/dispatch"
	"github.com/posprint/bridge/internal/heartbeat"
	"github.com/posprint/bridge/internal/ingress"
	"github.com/posprint/bridge/internal/maintenance"
	"github.com/posprint/bridge/internal/report"
	"github.com/posprint/bridge/internal/spool"
	"github.com/posprint/bridge/shared/logger"
	"github.com/posprint/bridge/shared/postgresql"
	"github.com/posprint/bridge/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("BRIDGE_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/bridge-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting bridge service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("printer", cfg.App.PrinterName),
	)

	// Initialize the spool store
	var jobSpool spool.Spool
	var dbClient *postgresql.Client

	switch cfg.Bridge.SpoolBackend {
	case "postgres":
		dbClient, err = initPostgreSQL(&cfg.Database, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer dbClient.Close()

		pgSpool := spool.NewPostgres(dbClient.GetDB(), appLogger.Logger)
		schemaCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = pgSpool.EnsureSchema(schemaCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to ensure spool schema: %w", err)
		}
		jobSpool = pgSpool
		appLogger.Info("Database connection established")

	case "memory":
		jobSpool = spool.NewMemory()
		appLogger.Warn("Using in-memory spool, queued jobs will not survive restarts")
	}

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	// Status egress
	reporter := report.NewAMQPPublisher(rabbitClient, cfg.RabbitMQ.StatusRoutingKey, appLogger.Logger)

	// Printer driver behind the access gate
	drv, err := initDriver(cfg.Bridge.Driver)
	if err != nil {
		return err
	}
	gate := device.NewGate(drv)
	statusCache := &device.StatusCache{}

	// Dispatch engine: the spool's single consumer
	engine := dispatch.New(jobSpool, gate, reporter, statusCache, dispatch.Config{
		PollInterval:    cfg.Bridge.PollInterval,
		PrintTimeout:    cfg.Bridge.PrintTimeout,
		StoreRetryDelay: cfg.Bridge.StoreRetryDelay,
	}, appLogger.Logger)

	// Intake adapter shared by the queue consumer and the admin API
	intake := ingress.New(jobSpool, reporter, statusCache, engine.Wake, ingress.Config{
		StoreRetries:    cfg.Bridge.StoreRetries,
		StoreRetryDelay: cfg.Bridge.StoreRetryDelay,
	}, appLogger.Logger)

	consumer := ingress.NewConsumer(rabbitClient, intake,
		cfg.App.Name+"-ingress", cfg.RabbitMQ.Consumer.PrefetchCount, appLogger.Logger)

	// Heartbeat publisher
	hb := heartbeat.New(jobSpool, gate, reporter, statusCache, engine.Degraded, heartbeat.Config{
		Interval:     cfg.Bridge.HeartbeatInterval,
		ProbeTimeout: cfg.Bridge.ProbeTimeout,
	}, appLogger.Logger)

	// Scheduled expiry sweep
	sweeper := maintenance.New(jobSpool, reporter, cfg.Bridge.PruneSchedule, appLogger.Logger)

	// Admin HTTP server
	r := router.SetupRouter(&handler.Dependencies{
		Logger:   appLogger.Logger,
		Intake:   intake,
		Spool:    jobSpool,
		Status:   statusCache,
		Degraded: engine.Degraded,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sweeper.Start(ctx); err != nil {
		return fmt.Errorf("failed to start expiry sweeper: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return engine.Run(gctx)
	})
	g.Go(func() error {
		return consumer.Run(gctx)
	})
	g.Go(func() error {
		return hb.Run(gctx)
	})
	g.Go(func() error {
		appLogger.Info("Admin API listening",
			slog.Int("port", cfg.Server.Port),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	appLogger.Info("Bridge service started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- g.Wait()
	}()

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		if err != nil {
			appLogger.Error("Bridge component failed",
				slog.Any("error", err),
			)
			return err
		}
	}

	cancel()
	sweeper.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Warn("Admin API shutdown timeout exceeded",
			slog.Any("error", err),
		)
	}

	if err := g.Wait(); err != nil {
		appLogger.Error("Shutdown finished with error",
			slog.Any("error", err),
		)
	}

	appLogger.Info("Bridge service shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		ConsumeRoutingKey:  cfg.JobRoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initDriver selects the printer driver.
func initDriver(name string) (device.Driver, error) {
	switch name {
	case "terminal", "":
		return device.NewTerminal(os.Stdout), nil
	default:
		return nil, fmt.Errorf("unknown printer driver: %q", name)
	}
}
