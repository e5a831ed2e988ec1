package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"gather-events-backend/api/internal/notify"
	"gather-events-backend/api/internal/repos"
	"gather-events-backend/shared/config"
	"gather-events-backend/shared/dbx"
	"gather-events-backend/shared/influxx"
	"gather-events-backend/shared/logx"
	"gather-events-backend/shared/mailx"
	"gather-events-backend/shared/metricsx"
	"gather-events-backend/shared/mqx"
	"gather-events-backend/shared/observability"
	"gather-events-backend/shared/pushx"
)

const (
	taskFanoutScan     = "fanout.scan"
	taskFanoutDispatch = "fanout.dispatch"
)

type dispatchPayload struct {
	JobID string `json:"job_id"`
}

func main() {
	cfg, problems := config.Load("fanout-worker", 8083)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)

	if cfg.DatabaseURL == "" {
		problems = append(problems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
	}
	if cfg.AsynqRedisAddr == "" {
		problems = append(problems, config.Problem{Field: "ASYNQ_REDIS_ADDR", Message: "ASYNQ_REDIS_ADDR is required"})
	}
	if cfg.PushEnabled && cfg.PushAPIURL == "" {
		problems = append(problems, config.Problem{Field: "PUSH_API_URL", Message: "PUSH_API_URL is required when push is enabled"})
	}
	if cfg.MailEnabled && cfg.MailAPIURL == "" {
		problems = append(problems, config.Problem{Field: "MAIL_API_URL", Message: "MAIL_API_URL is required when mail is enabled"})
	}
	if cfg.ChatBridgeOn && len(cfg.KafkaBrokers) == 0 {
		problems = append(problems, config.Problem{Field: "KAFKA_BROKERS", Message: "KAFKA_BROKERS is required when the chat bridge is enabled"})
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

	outboxRepo := repos.NewFanoutOutboxRepo(dbPool)

	var pusher notify.Pusher = notify.NopPusher{}
	if cfg.PushEnabled {
		client, err := pushx.New(cfg)
		if err != nil {
			logger.Error(context.Background(), "push_init_failed", "push client init failed",
				slog.String("error_code", "FAILED_PRECONDITION"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
		pusher = client
	}

	var mailer notify.Mailer = notify.NopMailer{}
	if cfg.MailEnabled {
		client, err := mailx.New(cfg)
		if err != nil {
			logger.Error(context.Background(), "mail_init_failed", "mail client init failed",
				slog.String("error_code", "FAILED_PRECONDITION"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
		mailer = client
	}

	var producer notify.Producer
	if cfg.ChatBridgeOn {
		p, err := mqx.NewProducer(cfg)
		if err != nil {
			logger.Error(context.Background(), "kafka_init_failed", "kafka producer init failed",
				slog.String("error_code", "FAILED_PRECONDITION"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
		defer p.Close()
		producer = p
	}

	var recorder notify.DeliveryRecorder
	if cfg.InfluxEnabled {
		client, err := influxx.New(cfg)
		if err != nil {
			logger.Warn(context.Background(), "influx_init_failed", "influx client init failed, delivery analytics off",
				slog.String("error", err.Error()),
			)
		} else {
			defer client.Close()
			recorder = client
		}
	}

	engine := notify.NewEngine(repos.NewDirectory(dbPool), pusher, mailer, producer, recorder, logger, notify.EngineOptions{
		PushBatchSize:  cfg.PushBatchSize,
		TextTemplateID: cfg.MailTextTemplateID,
		ChatBridgeOn:   cfg.ChatBridgeOn,
	})

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.AsynqRedisAddr,
		Password: cfg.AsynqRedisPass,
		DB:       cfg.AsynqRedisDB,
	}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.AsynqConcurrency,
		Queues: map[string]int{
			cfg.AsynqQueue: 1,
		},
	})
	defer server.Shutdown()

	mux := asynq.NewServeMux()
	mux.HandleFunc(taskFanoutScan, func(ctx context.Context, t *asynq.Task) error {
		jobs, err := outboxRepo.ClaimPending(ctx, cfg.ServiceName, cfg.FanoutBatchSize)
		if err != nil {
			return err
		}
		client := asynq.NewClient(redisOpt)
		defer client.Close()
		for _, job := range jobs {
			payload, _ := json.Marshal(dispatchPayload{JobID: job.JobID.String()})
			task := asynq.NewTask(taskFanoutDispatch, payload, asynq.Queue(cfg.AsynqQueue))
			if _, err := client.Enqueue(task); err != nil {
				logger.Error(ctx, "enqueue_failed", "failed to enqueue fanout dispatch",
					slog.String("error_code", "INTERNAL_ERROR"),
					slog.String("error", err.Error()),
				)
				_ = outboxRepo.EnsurePending(ctx, job.JobID)
			}
		}
		return nil
	})
	mux.HandleFunc(taskFanoutDispatch, func(ctx context.Context, t *asynq.Task) error {
		ctx, span := otel.Tracer("asynq").Start(ctx, "fanout.dispatch")
		span.SetAttributes(attribute.String("queue", cfg.AsynqQueue))
		defer span.End()
		var payload dispatchPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return err
		}
		jobID, err := uuid.Parse(strings.TrimSpace(payload.JobID))
		if err != nil {
			return err
		}
		job, err := outboxRepo.GetByID(ctx, jobID)
		if err != nil {
			return err
		}
		if job.Status == repos.OutboxStatusDelivered || job.Status == repos.OutboxStatusDead {
			return nil
		}

		start := time.Now()
		execErr := engine.Execute(ctx, job)
		metricsx.ObserveFanoutJobDuration(time.Since(start))
		if execErr != nil {
			attempts := job.Attempts + 1
			nextRetry := time.Now().UTC().Add(retryDelay(attempts))
			dead := attempts >= cfg.FanoutMaxAttempts
			_ = outboxRepo.MarkFailed(ctx, job.JobID, attempts, &nextRetry, execErr.Error(), dead)
			if dead {
				metricsx.IncFanoutJob("dead")
				logger.Warn(ctx, "fanout_dead", "fanout job moved to dead-letter",
					slog.String("job_id", job.JobID.String()),
					slog.String("job_type", job.JobType),
					slog.Int("attempts", attempts),
				)
				return nil
			}
			metricsx.IncFanoutJob("retried")
			return execErr
		}
		if err := outboxRepo.MarkDelivered(ctx, job.JobID); err != nil {
			return err
		}
		metricsx.IncFanoutJob("delivered")
		return nil
	})

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Location: time.UTC,
	})
	defer scheduler.Shutdown()
	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()
	if _, err := scheduler.Register("@every "+strconv.Itoa(cfg.FanoutScanSec)+"s", asynq.NewTask(taskFanoutScan, nil, asynq.Queue(cfg.AsynqQueue))); err != nil {
		logger.Error(context.Background(), "scheduler_init_failed", "scheduler init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if err := scheduler.Start(); err != nil {
		logger.Error(context.Background(), "scheduler_start_failed", "scheduler start failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			info, err := inspector.GetQueueInfo(cfg.AsynqQueue)
			if err != nil {
				continue
			}
			metricsx.SetAsynqQueueDepth(cfg.AsynqQueue, info.Size)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "worker_start", "fanout worker started",
			slog.String("queue", cfg.AsynqQueue),
			slog.Int("concurrency", cfg.AsynqConcurrency),
			slog.Int("push_batch_size", cfg.PushBatchSize),
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
			logger.Error(context.Background(), "worker_failed", "worker failed",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	logger.Info(context.Background(), "worker_stop", "fanout worker stopped")
}

func retryDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 5 * time.Second
	}
	delay := time.Duration(attempt*attempt) * 5 * time.Second
	if delay > 5*time.Minute {
		return 5 * time.Minute
	}
	return delay
}
