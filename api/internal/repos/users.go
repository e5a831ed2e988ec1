package repos

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"gather-events-backend/api/internal/models"
)

type UsersRepo struct {
	pool *pgxpool.Pool
}

func NewUsersRepo(pool *pgxpool.Pool) *UsersRepo {
	return &UsersRepo{pool: pool}
}

func (r *UsersRepo) GetByID(ctx context.Context, userID int64) (models.User, error) {
	var u models.User
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, name, surname, birth, created_at
		FROM users
		WHERE id = $1
	`, userID).Scan(&u.ID, &u.Email, &u.Name, &u.Surname, &u.Birth, &u.CreatedAt)
	return u, err
}

func (r *UsersRepo) Exists(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)
	`, userID).Scan(&exists)
	return exists, err
}

// Age computes whole years from the birth date; nil when unknown.
func (r *UsersRepo) Age(ctx context.Context, userID int64, now time.Time) (*int, error) {
	var birth *time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT birth FROM users WHERE id = $1
	`, userID).Scan(&birth)
	if err != nil {
		return nil, err
	}
	if birth == nil {
		return nil, nil
	}
	years := now.Year() - birth.Year()
	anniversary := birth.AddDate(years, 0, 0)
	if anniversary.After(now) {
		years--
	}
	return &years, nil
}

// ListEmails resolves recipient addresses for templated email sends.
func (r *UsersRepo) ListEmails(ctx context.Context, userIDs []int64) ([]string, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT email FROM users WHERE id = ANY($1) AND email <> ''
	`, userIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		out = append(out, email)
	}
	return out, rows.Err()
}

// ListBirthdaysOn returns users whose birth date falls on the given
// calendar day, any year.
func (r *UsersRepo) ListBirthdaysOn(ctx context.Context, day time.Time) ([]models.User, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, email, name, surname, birth, created_at
		FROM users
		WHERE birth IS NOT NULL
			AND EXTRACT(MONTH FROM birth) = $1
			AND EXTRACT(DAY FROM birth) = $2
	`, int(day.Month()), day.Day())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.Surname, &u.Birth, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
