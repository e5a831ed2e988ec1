package repos

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"gather-events-backend/api/internal/models"
)

type NotificationsRepo struct {
	pool *pgxpool.Pool
}

func NewNotificationsRepo(pool *pgxpool.Pool) *NotificationsRepo {
	return &NotificationsRepo{pool: pool}
}

func (r *NotificationsRepo) Insert(ctx context.Context, db DBTX, n models.Notification) (models.Notification, error) {
	err := db.QueryRow(ctx, `
		INSERT INTO notifications (user_id, type, text, event_id, target_user_id, action_text, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, false, now())
		RETURNING id, user_id, type, text, event_id, target_user_id, action_text, is_read, created_at
	`, n.UserID, n.Type, n.Text, n.EventID, n.TargetUserID, n.ActionText).
		Scan(&n.ID, &n.UserID, &n.Type, &n.Text, &n.EventID, &n.TargetUserID, &n.ActionText, &n.IsRead, &n.CreatedAt)
	return n, err
}

// InsertForUsers writes one row per recipient. Rows are not deduplicated;
// a retried job writes the set again.
func (r *NotificationsRepo) InsertForUsers(ctx context.Context, db DBTX, userIDs []int64, template models.Notification) error {
	for _, userID := range userIDs {
		n := template
		n.UserID = userID
		if _, err := r.Insert(ctx, db, n); err != nil {
			return err
		}
	}
	return nil
}

func (r *NotificationsRepo) ListByUser(ctx context.Context, userID int64, limit int, offset int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, type, text, event_id, target_user_id, action_text, is_read, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Text, &n.EventID, &n.TargetUserID, &n.ActionText, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *NotificationsRepo) MarkRead(ctx context.Context, userID int64, notificationID int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notifications SET is_read = true WHERE id = $1 AND user_id = $2
	`, notificationID, userID)
	return err
}

// Resolve stamps the action text on an actionable notification, for
// example the creator's close-request row once it is accepted or
// declined.
func (r *NotificationsRepo) Resolve(ctx context.Context, db DBTX, userID int64, eventID int64, targetUserID int64, notifType string, actionText string) error {
	_, err := db.Exec(ctx, `
		UPDATE notifications
		SET action_text = $5
		WHERE user_id = $1 AND event_id = $2 AND target_user_id = $3 AND type = $4 AND action_text IS NULL
	`, userID, eventID, targetUserID, notifType, actionText)
	return err
}

// ResolveForUserEvent stamps the action text on the user's own pending
// notification of the given type, used when a review closes the prompt.
func (r *NotificationsRepo) ResolveForUserEvent(ctx context.Context, db DBTX, userID int64, eventID int64, notifType string, actionText string) error {
	_, err := db.Exec(ctx, `
		UPDATE notifications
		SET action_text = $4
		WHERE user_id = $1 AND event_id = $2 AND type = $3 AND action_text IS NULL
	`, userID, eventID, notifType, actionText)
	return err
}

func (r *NotificationsRepo) DeleteByEvent(ctx context.Context, db DBTX, eventID int64) error {
	_, err := db.Exec(ctx, `DELETE FROM notifications WHERE event_id = $1`, eventID)
	return err
}
