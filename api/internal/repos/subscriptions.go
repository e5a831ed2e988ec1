package repos

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type SubscriptionsRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionsRepo(pool *pgxpool.Pool) *SubscriptionsRepo {
	return &SubscriptionsRepo{pool: pool}
}

func (r *SubscriptionsRepo) Subscribe(ctx context.Context, userID int64, managerID int64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_subscriptions (user_id, manager_id, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id, manager_id) DO NOTHING
	`, userID, managerID)
	return err
}

func (r *SubscriptionsRepo) Unsubscribe(ctx context.Context, userID int64, managerID int64) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM user_subscriptions WHERE user_id = $1 AND manager_id = $2
	`, userID, managerID)
	return err
}

// ListFollowerIDs returns the followers of a manager, the recipient set
// of manager topic fan-out.
func (r *SubscriptionsRepo) ListFollowerIDs(ctx context.Context, managerID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id FROM user_subscriptions WHERE manager_id = $1
	`, managerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ListFollowedManagerIDs returns the managers the user follows, used to
// rebuild topic subscriptions when a token is registered.
func (r *SubscriptionsRepo) ListFollowedManagerIDs(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT manager_id FROM user_subscriptions WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
