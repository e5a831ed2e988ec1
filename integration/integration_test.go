//go:build integration

package integration

import (
	"context"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

// TestDependencies pings every backing service of the stack; each check
// skips when its env var is unset so a partial environment still runs.
func TestDependencies(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	t.Run("postgres", func(t *testing.T) {
		dbURL := os.Getenv("DATABASE_URL")
		if dbURL == "" {
			t.Skip("DATABASE_URL not set")
		}
		pool, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			t.Fatalf("db connect failed: %v", err)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			t.Fatalf("db ping failed: %v", err)
		}
		var pending int
		if err := pool.QueryRow(ctx, "SELECT count(*) FROM fanout_outbox WHERE status = 'pending'").Scan(&pending); err != nil {
			t.Fatalf("fanout_outbox query failed: %v", err)
		}
	})

	t.Run("redis", func(t *testing.T) {
		redisAddr := os.Getenv("REDIS_ADDR")
		if redisAddr == "" {
			t.Skip("REDIS_ADDR not set")
		}
		client := redis.NewClient(&redis.Options{Addr: redisAddr})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			t.Fatalf("redis ping failed: %v", err)
		}
	})

	t.Run("asynq", func(t *testing.T) {
		asynqRedis := os.Getenv("ASYNQ_REDIS_ADDR")
		if asynqRedis == "" {
			t.Skip("ASYNQ_REDIS_ADDR not set")
		}
		inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: asynqRedis})
		defer inspector.Close()
		queue := os.Getenv("ASYNQ_QUEUE")
		if queue == "" {
			queue = "default"
		}
		if _, err := inspector.GetQueueInfo(queue); err != nil {
			t.Fatalf("asynq inspector failed: %v", err)
		}
	})

	t.Run("kafka", func(t *testing.T) {
		brokers := strings.Split(os.Getenv("KAFKA_BROKERS"), ",")
		if len(brokers) == 0 || strings.TrimSpace(brokers[0]) == "" {
			t.Skip("KAFKA_BROKERS not set")
		}
		conn, err := kafka.Dial("tcp", strings.TrimSpace(brokers[0]))
		if err != nil {
			t.Fatalf("kafka dial failed: %v", err)
		}
		_ = conn.Close()
	})

	t.Run("influx", func(t *testing.T) {
		influxURL := os.Getenv("INFLUX_URL")
		if influxURL == "" {
			t.Skip("INFLUX_URL not set")
		}
		checkHealth(ctx, t, influxURL+"/health")
	})

	t.Run("push-api", func(t *testing.T) {
		pushURL := os.Getenv("PUSH_API_URL")
		if pushURL == "" {
			t.Skip("PUSH_API_URL not set")
		}
		checkHealth(ctx, t, strings.TrimRight(pushURL, "/")+"/healthz")
	})

	t.Run("mail-api", func(t *testing.T) {
		mailURL := os.Getenv("MAIL_API_URL")
		if mailURL == "" {
			t.Skip("MAIL_API_URL not set")
		}
		checkHealth(ctx, t, strings.TrimRight(mailURL, "/")+"/healthz")
	})
}

func checkHealth(ctx context.Context, t *testing.T, url string) {
	t.Helper()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		t.Fatalf("health status: %d", resp.StatusCode)
	}
}
