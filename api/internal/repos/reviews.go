package repos

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"gather-events-backend/api/internal/models"
)

type ReviewsRepo struct {
	pool *pgxpool.Pool
}

func NewReviewsRepo(pool *pgxpool.Pool) *ReviewsRepo {
	return &ReviewsRepo{pool: pool}
}

func (r *ReviewsRepo) Insert(ctx context.Context, db DBTX, rev models.EventReview) (models.EventReview, error) {
	err := db.QueryRow(ctx, `
		INSERT INTO event_reviews (event_id, user_id, rate, text, created_at)
		VALUES ($1, $2, $3, $4, now())
		RETURNING id, event_id, user_id, rate, text, created_at
	`, rev.EventID, rev.UserID, rev.Rate, rev.Text).
		Scan(&rev.ID, &rev.EventID, &rev.UserID, &rev.Rate, &rev.Text, &rev.CreatedAt)
	return rev, err
}

func (r *ReviewsRepo) Exists(ctx context.Context, db DBTX, eventID int64, userID int64) (bool, error) {
	var exists bool
	err := db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM event_reviews WHERE event_id = $1 AND user_id = $2)
	`, eventID, userID).Scan(&exists)
	return exists, err
}

func (r *ReviewsRepo) ListByEvent(ctx context.Context, eventID int64, limit int, offset int) ([]models.EventReview, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, event_id, user_id, rate, text, created_at
		FROM event_reviews
		WHERE event_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, eventID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.EventReview
	for rows.Next() {
		var rev models.EventReview
		if err := rows.Scan(&rev.ID, &rev.EventID, &rev.UserID, &rev.Rate, &rev.Text, &rev.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rev)
	}
	return out, rows.Err()
}

func (r *ReviewsRepo) DeleteByEvent(ctx context.Context, db DBTX, eventID int64) error {
	_, err := db.Exec(ctx, `DELETE FROM event_reviews WHERE event_id = $1`, eventID)
	return err
}
