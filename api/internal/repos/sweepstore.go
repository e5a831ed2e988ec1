package repos

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"gather-events-backend/api/internal/models"
)

// SweepStore backs the scheduled sweeps.
type SweepStore struct {
	pool    *pgxpool.Pool
	events  *EventsRepo
	users   *UsersRepo
	friends *FriendsRepo
	outbox  *FanoutOutboxRepo
}

func NewSweepStore(pool *pgxpool.Pool) *SweepStore {
	return &SweepStore{
		pool:    pool,
		events:  NewEventsRepo(pool),
		users:   NewUsersRepo(pool),
		friends: NewFriendsRepo(pool),
		outbox:  NewFanoutOutboxRepo(pool),
	}
}

func (s *SweepStore) ListFinishable(ctx context.Context, now time.Time) ([]models.Event, error) {
	return s.events.ListFinishable(ctx, now)
}

func (s *SweepStore) ListStartingOn(ctx context.Context, day time.Time) ([]models.Event, error) {
	return s.events.ListStartingOn(ctx, day)
}

func (s *SweepStore) ListBirthdaysOn(ctx context.Context, day time.Time) ([]models.User, error) {
	return s.users.ListBirthdaysOn(ctx, day)
}

func (s *SweepStore) ListFriendIDs(ctx context.Context, userID int64) ([]int64, error) {
	return s.friends.ListFriendIDs(ctx, userID)
}

// FinishEvent flips the event and writes the review-prompt jobs in one
// transaction, so a crash can not finish an event silently.
func (s *SweepStore) FinishEvent(ctx context.Context, eventID int64, jobs []models.FanoutJob) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := s.events.SetState(ctx, tx, eventID, models.EventStateFinished); err != nil {
		return err
	}
	for _, job := range jobs {
		if _, err := s.outbox.Insert(ctx, tx, job); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *SweepStore) Enqueue(ctx context.Context, jobs ...models.FanoutJob) error {
	for _, job := range jobs {
		if _, err := s.outbox.Insert(ctx, s.pool, job); err != nil {
			return err
		}
	}
	return nil
}
