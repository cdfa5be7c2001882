package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"lending-engine/internal/batch"
	"lending-engine/internal/config"
	"lending-engine/internal/domain/loan"
	"lending-engine/internal/event"
	"lending-engine/internal/infrastructure/database/postgres"
	"lending-engine/internal/infrastructure/locking"
	"lending-engine/internal/infrastructure/logging"
)

func main() {
	cfg, logger := initializeApp()

	dbPool := initializeDatabase(cfg, logger)
	defer closeDatabase(dbPool, logger)

	publisher, amqpConn := initializePublisher(cfg, logger)
	if amqpConn != nil {
		defer amqpConn.Close()
	}

	locker, redisClient := initializeRunLock(cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	accrualJob := initializeServices(dbPool, publisher, locker, logger)

	cronScheduler := startAccrualScheduler(cfg, logger, accrualJob)

	srv, serverErrors, shutdownChan := startMetricsServer(cfg, logger)
	handleShutdown(srv, cronScheduler, shutdownChan, serverErrors, logger)
}

func initializeApp() (*config.Config, *slog.Logger) {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.Logger)
	slog.SetDefault(logger)
	logger.Info("Application starting...", "config_source", viper.ConfigFileUsed())

	return cfg, logger
}

func initializeDatabase(cfg *config.Config, logger *slog.Logger) *pgxpool.Pool {
	logger.Info("Initializing database connection pool...")
	dbPool, err := postgres.NewConnectionPool(context.Background(), cfg.Database, logger)
	if err != nil {
		logger.Error("Failed to initialize database connection pool", "error", err)
		os.Exit(1)
	}
	return dbPool
}

func closeDatabase(dbPool *pgxpool.Pool, logger *slog.Logger) {
	logger.Info("Closing database connection pool...")
	dbPool.Close()
}

func initializePublisher(cfg *config.Config, logger *slog.Logger) (event.Publisher, *amqp.Connection) {
	if !cfg.RabbitMQ.Enabled {
		logger.Info("RabbitMQ publishing disabled, loan events will not be emitted.")
		return event.NopPublisher{}, nil
	}

	url := fmt.Sprintf("amqp://%s:%s@%s:%d/",
		cfg.RabbitMQ.Username, cfg.RabbitMQ.Password, cfg.RabbitMQ.Host, cfg.RabbitMQ.Port)
	conn, err := amqp.Dial(url)
	if err != nil {
		logger.Error("Failed to connect to RabbitMQ, continuing without event publishing", "error", err)
		return event.NopPublisher{}, nil
	}

	publisher, err := event.NewRabbitMQPublisher(conn, cfg.RabbitMQ.ExchangeName, logger)
	if err != nil {
		logger.Error("Failed to initialize RabbitMQ publisher, continuing without event publishing", "error", err)
		conn.Close()
		return event.NopPublisher{}, nil
	}
	return publisher, conn
}

func initializeRunLock(cfg *config.Config, logger *slog.Logger) (batch.RunLocker, *redis.Client) {
	if !cfg.Redis.Enabled {
		logger.Info("Redis run lock disabled, accrual runs rely on the per-loan idempotency marker only.")
		return nil, nil
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return locking.NewRedisRunLock(redisClient, cfg.Arrears.LockTTL, logger), redisClient
}

func initializeServices(
	dbPool *pgxpool.Pool,
	publisher event.Publisher,
	locker batch.RunLocker,
	logger *slog.Logger,
) *batch.ArrearsAccrualJob {
	logger.Info("Initializing application components...")
	loanRepo := postgres.NewLoanRepository(dbPool, logger)
	paymentRepo := postgres.NewPaymentRepository(dbPool, logger)

	return batch.NewArrearsAccrualJob(loanRepo, paymentRepo, publisher, locker, logger)
}

func startAccrualScheduler(cfg *config.Config, logger *slog.Logger, job *batch.ArrearsAccrualJob) *cron.Cron {
	logger.Info("Initializing accrual scheduler...")
	c := cron.New()

	runTimeout := cfg.Arrears.RunTimeout
	if runTimeout <= 0 {
		runTimeout = 1 * time.Hour
	}

	engineCfg := loan.AccrualConfig{
		Enabled:         cfg.Arrears.Enabled,
		GracePeriodDays: cfg.Arrears.GracePeriodDays,
	}

	runFunc := cron.FuncJob(func() {
		jobLogger := logger.With("job_name", "ArrearsAccrual")
		jobLogger.Info("Cron triggered: running arrears accrual.")

		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()

		job.RunScheduled(ctx, engineCfg)
	})

	for _, spec := range []string{cfg.Arrears.HourlySchedule, cfg.Arrears.EndOfDaySchedule} {
		if spec == "" {
			continue
		}
		jobID, err := c.AddJob(spec, runFunc)
		if err != nil {
			logger.Error("Failed to schedule accrual job", "schedule", spec, slog.Any("error", err))
			continue
		}
		logger.Info("Scheduled arrears accrual job", "schedule", spec, "job_id", jobID)
	}

	c.Start()
	logger.Info("Cron scheduler started.")
	return c
}

func startMetricsServer(cfg *config.Config, logger *slog.Logger) (*http.Server, <-chan error, <-chan os.Signal) {
	metricsPath := cfg.Metrics.Path
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(metricsPath, promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	logger.Info("Setting up metrics server...", "port", cfg.Metrics.Port, "path", metricsPath)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info(fmt.Sprintf("Metrics server listening on port %d", cfg.Metrics.Port))
		err := srv.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server error", "error", err)
			serverErrors <- err
		} else {
			logger.Info("Metrics server closed gracefully.")
			serverErrors <- nil
		}
	}()
	return srv, serverErrors, shutdownChan
}

func handleShutdown(srv *http.Server, cronScheduler *cron.Cron, shutdownChan <-chan os.Signal, serverErrors <-chan error, logger *slog.Logger) {
	logger.Info("Shutdown handler started. Waiting for signal or server error...")

	var triggerReason string
	select {
	case sig := <-shutdownChan:
		triggerReason = "signal: " + sig.String()
		logger.Info("Shutdown signal received.", "signal", sig.String())
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server exited unexpectedly before signal", "error", err)
			os.Exit(1)
		}
		triggerReason = "server exited"
		logger.Info("Metrics server goroutine finished before signal.", "error", err)
	}

	logger.Info("Starting graceful shutdown...", "trigger", triggerReason)

	logger.Info("Stopping cron scheduler...")
	cronCtx := cronScheduler.Stop()
	select {
	case <-cronCtx.Done():
		logger.Info("Cron scheduler stopped gracefully.")
	case <-time.After(15 * time.Second):
		logger.Warn("Cron scheduler shutdown timed out.")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	logger.Info("Shutting down metrics server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server graceful shutdown failed", "error", err)
		}
		if err := srv.Close(); err != nil {
			logger.Error("Metrics server forced close failed", "error", err)
		}
	} else {
		logger.Info("Metrics server gracefully stopped.")
	}

	logger.Info("Application shutdown process complete.")
}
