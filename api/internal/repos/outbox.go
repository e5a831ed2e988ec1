package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"gather-events-backend/api/internal/models"
)

const (
	OutboxStatusPending   = "pending"
	OutboxStatusSending   = "sending"
	OutboxStatusDelivered = "delivered"
	OutboxStatusDead      = "dead"
)

type FanoutOutboxRepo struct {
	pool *pgxpool.Pool
}

func NewFanoutOutboxRepo(pool *pgxpool.Pool) *FanoutOutboxRepo {
	return &FanoutOutboxRepo{pool: pool}
}

func (r *FanoutOutboxRepo) Pool() *pgxpool.Pool { return r.pool }

// Insert writes the job through db so call sites can pass the
// transaction that carries the triggering state change.
func (r *FanoutOutboxRepo) Insert(ctx context.Context, db DBTX, job models.FanoutJob) (models.FanoutJob, error) {
	if job.JobID == uuid.Nil {
		job.JobID = uuid.New()
	}
	if job.Status == "" {
		job.Status = OutboxStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}

	err := db.QueryRow(ctx, `
		INSERT INTO fanout_outbox (
			job_id, job_type, payload, status, attempts, next_retry_at, locked_at, locked_by, last_error, created_at, updated_at, delivered_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
		RETURNING job_id, job_type, payload, status, attempts, next_retry_at, locked_at, locked_by, last_error, created_at, updated_at, delivered_at
	`, job.JobID, job.JobType, job.Payload, job.Status, job.Attempts, job.NextRetryAt, job.LockedAt, job.LockedBy, job.LastError, job.CreatedAt, job.UpdatedAt, job.DeliveredAt).
		Scan(&job.JobID, &job.JobType, &job.Payload, &job.Status, &job.Attempts, &job.NextRetryAt, &job.LockedAt, &job.LockedBy, &job.LastError, &job.CreatedAt, &job.UpdatedAt, &job.DeliveredAt)
	return job, err
}

func (r *FanoutOutboxRepo) ClaimPending(ctx context.Context, owner string, limit int) ([]models.FanoutJob, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		WITH candidates AS (
			SELECT job_id
			FROM fanout_outbox
			WHERE status = $1 AND (next_retry_at IS NULL OR next_retry_at <= now())
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $2
		)
		UPDATE fanout_outbox o
		SET status = $3, locked_at = now(), locked_by = $4, updated_at = now()
		FROM candidates c
		WHERE o.job_id = c.job_id
		RETURNING o.job_id, o.job_type, o.payload, o.status, o.attempts, o.next_retry_at, o.locked_at, o.locked_by, o.last_error, o.created_at, o.updated_at, o.delivered_at
	`, OutboxStatusPending, limit, OutboxStatusSending, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := make([]models.FanoutJob, 0, limit)
	for rows.Next() {
		var job models.FanoutJob
		if err := rows.Scan(
			&job.JobID, &job.JobType, &job.Payload, &job.Status, &job.Attempts, &job.NextRetryAt,
			&job.LockedAt, &job.LockedBy, &job.LastError, &job.CreatedAt, &job.UpdatedAt, &job.DeliveredAt,
		); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *FanoutOutboxRepo) GetByID(ctx context.Context, jobID uuid.UUID) (models.FanoutJob, error) {
	var job models.FanoutJob
	err := r.pool.QueryRow(ctx, `
		SELECT job_id, job_type, payload, status, attempts, next_retry_at, locked_at, locked_by, last_error, created_at, updated_at, delivered_at
		FROM fanout_outbox
		WHERE job_id = $1
	`, jobID).Scan(
		&job.JobID, &job.JobType, &job.Payload, &job.Status, &job.Attempts, &job.NextRetryAt,
		&job.LockedAt, &job.LockedBy, &job.LastError, &job.CreatedAt, &job.UpdatedAt, &job.DeliveredAt,
	)
	return job, err
}

func (r *FanoutOutboxRepo) MarkDelivered(ctx context.Context, jobID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE fanout_outbox
		SET status = $2, delivered_at = now(), updated_at = now()
		WHERE job_id = $1
	`, jobID, OutboxStatusDelivered)
	return err
}

func (r *FanoutOutboxRepo) MarkFailed(ctx context.Context, jobID uuid.UUID, attempts int, nextRetryAt *time.Time, lastErr string, dead bool) error {
	status := OutboxStatusPending
	if dead {
		status = OutboxStatusDead
		nextRetryAt = nil
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE fanout_outbox
		SET status = $2, attempts = $3, next_retry_at = $4, last_error = $5, updated_at = now()
		WHERE job_id = $1
	`, jobID, status, attempts, nextRetryAt, lastErr)
	return err
}

// EnsurePending releases a claim that never completed, for example when
// the worker died between claiming and dispatching.
func (r *FanoutOutboxRepo) EnsurePending(ctx context.Context, jobID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE fanout_outbox
		SET status = $2, updated_at = now()
		WHERE job_id = $1 AND status = $3
	`, jobID, OutboxStatusPending, OutboxStatusSending)
	return err
}

func (r *FanoutOutboxRepo) CountByStatus(ctx context.Context, status string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM fanout_outbox WHERE status = $1
	`, status).Scan(&n)
	return n, err
}
