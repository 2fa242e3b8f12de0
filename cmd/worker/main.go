package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"uploadhook/client"
	"uploadhook/internal/api"
	"uploadhook/internal/config"
	"uploadhook/internal/delivery"
	"uploadhook/internal/metrics"
	"uploadhook/internal/model"
	"uploadhook/internal/queue"
	"uploadhook/internal/repository"
	"uploadhook/internal/service"
	"uploadhook/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	logger.InitLogger(cfg.Server.Environment)
	defer logger.Sync()

	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		os.Exit(healthcheck(cfg))
	}

	if err := run(cfg); err != nil {
		logger.Error("webhook worker exited with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

// healthcheck queries a running worker for container HEALTHCHECK use.
func healthcheck(cfg *config.Config) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	report, err := client.New("127.0.0.1" + cfg.HTTP.Addr()).Health(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "unhealthy:", err)
		return 1
	}
	fmt.Println(report.Status)
	return 0
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Infrastructure
	rdb, err := initRedis(cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	db, err := initDB(cfg.MySQL)
	if err != nil {
		return err
	}

	// Repositories and adapters
	records := repository.NewWebhookRepository(db)
	jobs := queue.NewRedisQueue(rdb, cfg.Redis.QueueKey)
	processor := delivery.NewProcessor(records, jobs, delivery.Config{
		Timeout:          cfg.Delivery.Timeout,
		MaxAttempts:      cfg.Delivery.MaxAttempts,
		InitialBackoff:   cfg.Delivery.InitialBackoff,
		MaxTotalAttempts: cfg.Delivery.MaxTotalAttempts,
		SigningSecret:    cfg.Delivery.SigningSecret,
		CleanupEnabled:   cfg.Delivery.CleanupEnabled,
		ClaimTimeout:     cfg.Delivery.ClaimTimeout,
	})

	worker, err := service.NewCoordinator(service.Dependencies{
		Queue:     jobs,
		Store:     records,
		Processor: processor,
		Cleaner:   processor,
		Reclaimer: processor,
		Enqueuer:  jobs,
		Observer:  metrics.NewPrometheusObserver(),
	}, coordinatorOptions(cfg))
	if err != nil {
		return err
	}

	// Optional HTTP surface
	var srv *http.Server
	if cfg.HTTP.Enabled {
		srv = &http.Server{
			Addr: cfg.HTTP.Addr(),
			Handler: api.RegisterRoutes(worker, rdb, api.RouterConfig{
				Origins:           cfg.HTTP.Origins,
				JWTSecret:         cfg.Auth.JWTSecret,
				RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("http server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Server.Environment))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				worker.Fail(fmt.Errorf("http server: %w", err))
			}
		}()
	}

	runErr := worker.Run(ctx)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http server forced to shutdown", zap.Error(err))
		}
	}

	if runErr != nil {
		return runErr
	}
	logger.Info("webhook worker exited properly")
	return nil
}

func coordinatorOptions(cfg *config.Config) service.Options {
	w, s := cfg.Worker, cfg.Schedule
	return service.Options{
		Hostname:               w.Hostname,
		BatchSize:              w.BatchSize,
		BacklogWarnThreshold:   w.BacklogWarnThreshold,
		AutoTriggerLimit:       w.AutoTriggerLimit,
		DeadLetterLimit:        w.DeadLetterLimit,
		DeadLetterMinInterval:  w.DeadLetterMinInterval,
		MaxConsecutiveFailures: w.MaxConsecutiveFailures,
		StartupJitter:          w.StartupJitter,
		OperationTimeout:       w.OperationTimeout,
		ShutdownTimeout:        w.ShutdownTimeout,
		HealthTimeout:          w.HealthTimeout,
		RunHistorySize:         w.RunHistorySize,
		Schedule: service.Schedule{
			Batch:         s.BatchInterval,
			Maintenance:   s.MaintenanceInterval,
			Cleanup:       s.CleanupInterval,
			MetricsReport: s.MetricsReportInterval,
		},
	}
}

// -- Infrastructure Initializers --

func initRedis(cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, &service.StartupError{Err: fmt.Errorf("connect to redis: %w", err)}
	}
	return rdb, nil
}

func initDB(cfg config.MySQLConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{})
	if err != nil {
		return nil, &service.StartupError{Err: fmt.Errorf("connect to mysql: %w", err)}
	}
	if !cfg.AutoMigrate {
		return db, nil
	}
	if err := db.AutoMigrate(&model.WebhookRecord{}); err != nil {
		return nil, &service.StartupError{Err: fmt.Errorf("migrate webhook records: %w", err)}
	}
	return db, nil
}
