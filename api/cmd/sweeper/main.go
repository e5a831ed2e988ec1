package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"gather-events-backend/api/internal/repos"
	"gather-events-backend/api/internal/sweep"
	"gather-events-backend/shared/config"
	"gather-events-backend/shared/dbx"
	"gather-events-backend/shared/logx"
	"gather-events-backend/shared/metricsx"
	"gather-events-backend/shared/observability"
)

const (
	taskSweepFinish   = "sweep.finish"
	taskSweepRemind   = "sweep.remind"
	taskSweepBirthday = "sweep.birthday"
)

func main() {
	cfg, problems := config.Load("sweeper", 8084)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)

	if cfg.DatabaseURL == "" {
		problems = append(problems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
	}
	if cfg.AsynqRedisAddr == "" {
		problems = append(problems, config.Problem{Field: "ASYNQ_REDIS_ADDR", Message: "ASYNQ_REDIS_ADDR is required"})
	}
	if len(problems) > 0 {
		logger.Error(context.Background(), "config_invalid", "invalid config",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.Any("problems", problems),
		)
		os.Exit(1)
	}

	if cfg.OtelEnabled {
		if shutdown, err := observability.InitTracer(context.Background(), observability.TracerConfig{
			ServiceName: cfg.ServiceName,
			Env:         cfg.Env,
			Endpoint:    cfg.OtelEndpoint,
			Insecure:    cfg.OtelInsecure,
			SampleRatio: cfg.OtelSampleRatio,
		}); err == nil {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}
	metricsx.Register()

	dbPool, err := dbx.NewPool(cfg)
	if err != nil {
		logger.Error(context.Background(), "db_init_failed", "db init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer dbPool.Close()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
	} else {
		logger.Warn(context.Background(), "sweep_lock_off", "REDIS_ADDR not set, sweeps run without a distributed lock")
	}

	sweeper := sweep.New(
		repos.NewSweepStore(dbPool),
		redisClient,
		time.Duration(cfg.SweepLockTTLSec)*time.Second,
		logger,
	)

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.AsynqRedisAddr,
		Password: cfg.AsynqRedisPass,
		DB:       cfg.AsynqRedisDB,
	}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 1,
		Queues: map[string]int{
			cfg.AsynqQueue: 1,
		},
	})
	defer server.Shutdown()

	mux := asynq.NewServeMux()
	mux.HandleFunc(taskSweepFinish, func(ctx context.Context, t *asynq.Task) error {
		return sweeper.RunFinish(ctx)
	})
	mux.HandleFunc(taskSweepRemind, func(ctx context.Context, t *asynq.Task) error {
		return sweeper.RunRemind(ctx)
	})
	mux.HandleFunc(taskSweepBirthday, func(ctx context.Context, t *asynq.Task) error {
		return sweeper.RunBirthday(ctx)
	})

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Location: time.UTC,
	})
	defer scheduler.Shutdown()

	entries := []struct {
		spec string
		task string
	}{
		{cfg.SweepFinishSpec, taskSweepFinish},
		{cfg.SweepRemindSpec, taskSweepRemind},
		{cfg.SweepBirthdaySpec, taskSweepBirthday},
	}
	for _, entry := range entries {
		if _, err := scheduler.Register(entry.spec, asynq.NewTask(entry.task, nil, asynq.Queue(cfg.AsynqQueue))); err != nil {
			logger.Error(context.Background(), "scheduler_init_failed", "scheduler init failed",
				slog.String("error_code", "FAILED_PRECONDITION"),
				slog.String("task", entry.task),
				slog.String("spec", entry.spec),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}
	if err := scheduler.Start(); err != nil {
		logger.Error(context.Background(), "scheduler_start_failed", "scheduler start failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "sweeper_start", "sweeper started",
			slog.String("finish_spec", cfg.SweepFinishSpec),
			slog.String("remind_spec", cfg.SweepRemindSpec),
			slog.String("birthday_spec", cfg.SweepBirthdaySpec),
		)
		errCh <- server.Run(mux)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if !errors.Is(err, asynq.ErrServerClosed) {
			logger.Error(context.Background(), "sweeper_failed", "sweeper failed",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	logger.Info(context.Background(), "sweeper_stop", "sweeper stopped")
}
