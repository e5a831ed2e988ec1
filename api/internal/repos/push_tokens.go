package repos

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"gather-events-backend/api/internal/models"
)

type PushTokensRepo struct {
	pool *pgxpool.Pool
}

func NewPushTokensRepo(pool *pgxpool.Pool) *PushTokensRepo {
	return &PushTokensRepo{pool: pool}
}

func (r *PushTokensRepo) Add(ctx context.Context, userID int64, token string) (models.PushToken, error) {
	var t models.PushToken
	err := r.pool.QueryRow(ctx, `
		INSERT INTO push_tokens (user_id, token, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT (token) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING id, user_id, token, created_at
	`, userID, token).Scan(&t.ID, &t.UserID, &t.Token, &t.CreatedAt)
	return t, err
}

func (r *PushTokensRepo) Remove(ctx context.Context, userID int64, token string) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM push_tokens WHERE user_id = $1 AND token = $2
	`, userID, token)
	return err
}

// DeleteTokens prunes tokens the provider reported as invalid,
// regardless of owner.
func (r *PushTokensRepo) DeleteTokens(ctx context.Context, tokens []string) (int, error) {
	if len(tokens) == 0 {
		return 0, nil
	}
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM push_tokens WHERE token = ANY($1)
	`, tokens)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *PushTokensRepo) ListByUser(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT token FROM push_tokens WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, err
		}
		out = append(out, token)
	}
	return out, rows.Err()
}

// ListByUsers gathers every token of the given users in one query; the
// caller slices the result into provider batches.
func (r *PushTokensRepo) ListByUsers(ctx context.Context, userIDs []int64) ([]string, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT token FROM push_tokens WHERE user_id = ANY($1)
	`, userIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, err
		}
		out = append(out, token)
	}
	return out, rows.Err()
}
