package repos

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type SettingsRepo struct {
	pool *pgxpool.Pool
}

func NewSettingsRepo(pool *pgxpool.Pool) *SettingsRepo {
	return &SettingsRepo{pool: pool}
}

// FilterEnabled keeps the users that have the named flag enabled. A user
// without a row counts as enabled, matching the provisioning default.
func (r *SettingsRepo) FilterEnabled(ctx context.Context, userIDs []int64, settingName string) ([]int64, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT u.id
		FROM unnest($1::bigint[]) AS u(id)
		LEFT JOIN settings s ON s.user_id = u.id AND s.name = $2
		WHERE s.value IS NULL OR s.value = true
	`, userIDs, settingName)
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

func (r *SettingsRepo) Set(ctx context.Context, userID int64, name string, value bool) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO settings (user_id, name, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, name) DO UPDATE SET value = EXCLUDED.value
	`, userID, name, value)
	return err
}

func (r *SettingsRepo) Get(ctx context.Context, userID int64, name string) (bool, error) {
	var value bool
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(
			(SELECT value FROM settings WHERE user_id = $1 AND name = $2), true
		)
	`, userID, name).Scan(&value)
	return value, err
}
