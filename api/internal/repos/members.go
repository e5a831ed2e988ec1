package repos

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"gather-events-backend/api/internal/models"
)

type MembersRepo struct {
	pool *pgxpool.Pool
}

func NewMembersRepo(pool *pgxpool.Pool) *MembersRepo {
	return &MembersRepo{pool: pool}
}

func (r *MembersRepo) Get(ctx context.Context, db DBTX, eventID int64, userID int64) (models.EventMember, error) {
	var m models.EventMember
	err := db.QueryRow(ctx, `
		SELECT event_id, user_id, state, is_blocked, created_at
		FROM event_members
		WHERE event_id = $1 AND user_id = $2
	`, eventID, userID).Scan(&m.EventID, &m.UserID, &m.State, &m.IsBlocked, &m.CreatedAt)
	return m, err
}

func (r *MembersRepo) Insert(ctx context.Context, db DBTX, m models.EventMember) error {
	_, err := db.Exec(ctx, `
		INSERT INTO event_members (event_id, user_id, state, is_blocked, created_at)
		VALUES ($1, $2, $3, $4, now())
	`, m.EventID, m.UserID, m.State, m.IsBlocked)
	return err
}

func (r *MembersRepo) SetState(ctx context.Context, db DBTX, eventID int64, userID int64, state string) error {
	_, err := db.Exec(ctx, `
		UPDATE event_members SET state = $3 WHERE event_id = $1 AND user_id = $2
	`, eventID, userID, state)
	return err
}

func (r *MembersRepo) SetBlocked(ctx context.Context, db DBTX, eventID int64, userID int64, blocked bool) error {
	_, err := db.Exec(ctx, `
		UPDATE event_members SET is_blocked = $3 WHERE event_id = $1 AND user_id = $2
	`, eventID, userID, blocked)
	return err
}

func (r *MembersRepo) Delete(ctx context.Context, db DBTX, eventID int64, userID int64) error {
	_, err := db.Exec(ctx, `
		DELETE FROM event_members WHERE event_id = $1 AND user_id = $2
	`, eventID, userID)
	return err
}

func (r *MembersRepo) DeleteByEvent(ctx context.Context, db DBTX, eventID int64) error {
	_, err := db.Exec(ctx, `DELETE FROM event_members WHERE event_id = $1`, eventID)
	return err
}

// List returns the member rows of an event filtered by state; blocked
// rows are included only when withBlocked is set.
func (r *MembersRepo) List(ctx context.Context, eventID int64, state string, withBlocked bool) ([]models.EventMember, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT event_id, user_id, state, is_blocked, created_at
		FROM event_members
		WHERE event_id = $1
			AND ($2 = '' OR state = $2)
			AND ($3 OR is_blocked = false)
		ORDER BY created_at ASC
	`, eventID, state, withBlocked)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMembers(rows)
}

// ListJoinedUserIDs returns joined, non-blocked member user ids, the
// default recipient set for event fan-out.
func (r *MembersRepo) ListJoinedUserIDs(ctx context.Context, eventID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id
		FROM event_members
		WHERE event_id = $1 AND state = $2 AND is_blocked = false
	`, eventID, models.MemberStateJoined)
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

// ListJoinedEventIDs returns the ids of events the user is a joined,
// non-blocked member of, used to rebuild topic subscriptions.
func (r *MembersRepo) ListJoinedEventIDs(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT event_id
		FROM event_members
		WHERE user_id = $1 AND state = $2 AND is_blocked = false
	`, userID, models.MemberStateJoined)
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

func collectMembers(rows pgx.Rows) ([]models.EventMember, error) {
	var out []models.EventMember
	for rows.Next() {
		var m models.EventMember
		if err := rows.Scan(&m.EventID, &m.UserID, &m.State, &m.IsBlocked, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
