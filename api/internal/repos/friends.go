package repos

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type FriendsRepo struct {
	pool *pgxpool.Pool
}

func NewFriendsRepo(pool *pgxpool.Pool) *FriendsRepo {
	return &FriendsRepo{pool: pool}
}

// AreFriends reports an accepted, non-blocked friendship in either
// direction.
func (r *FriendsRepo) AreFriends(ctx context.Context, userID int64, otherID int64) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM user_friends
			WHERE ((user_id = $1 AND friend_id = $2) OR (user_id = $2 AND friend_id = $1))
				AND is_accepted = true
				AND is_blocked IS NOT TRUE
		)
	`, userID, otherID).Scan(&ok)
	return ok, err
}

// ListFriendIDs returns the accepted, non-blocked friends of a user.
func (r *FriendsRepo) ListFriendIDs(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT CASE WHEN user_id = $1 THEN friend_id ELSE user_id END
		FROM user_friends
		WHERE (user_id = $1 OR friend_id = $1)
			AND is_accepted = true
			AND is_blocked IS NOT TRUE
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

// FilterFriendsOf keeps the candidates that are accepted friends of the
// viewer, used to tag member listings.
func (r *FriendsRepo) FilterFriendsOf(ctx context.Context, viewerID int64, candidates []int64) (map[int64]bool, error) {
	if len(candidates) == 0 {
		return map[int64]bool{}, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT CASE WHEN user_id = $1 THEN friend_id ELSE user_id END
		FROM user_friends
		WHERE ((user_id = $1 AND friend_id = ANY($2)) OR (friend_id = $1 AND user_id = ANY($2)))
			AND is_accepted = true
			AND is_blocked IS NOT TRUE
	`, viewerID, candidates)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}
