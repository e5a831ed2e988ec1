package repos

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"gather-events-backend/api/internal/events"
	"gather-events-backend/api/internal/models"
)

// Store adapts the pgx repos to the events.Store port. Every transition
// runs inside one transaction together with its outbox inserts.
type Store struct {
	pool          *pgxpool.Pool
	events        *EventsRepo
	members       *MembersRepo
	notifications *NotificationsRepo
	reviews       *ReviewsRepo
	users         *UsersRepo
	friends       *FriendsRepo
	outbox        *FanoutOutboxRepo
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:          pool,
		events:        NewEventsRepo(pool),
		members:       NewMembersRepo(pool),
		notifications: NewNotificationsRepo(pool),
		reviews:       NewReviewsRepo(pool),
		users:         NewUsersRepo(pool),
		friends:       NewFriendsRepo(pool),
		outbox:        NewFanoutOutboxRepo(pool),
	}
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx events.Tx) error) error {
	pgxTx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer pgxTx.Rollback(ctx)

	if err := fn(ctx, &storeTx{store: s, tx: pgxTx}); err != nil {
		return err
	}
	return pgxTx.Commit(ctx)
}

func (s *Store) GetEvent(ctx context.Context, eventID int64) (models.Event, bool, error) {
	ev, err := s.events.GetByID(ctx, s.pool, eventID)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Event{}, false, nil
	}
	return ev, err == nil, err
}

func (s *Store) ListEventDates(ctx context.Context, eventID int64) ([]models.EventDate, error) {
	return s.events.ListDates(ctx, s.pool, eventID)
}

func (s *Store) GetMember(ctx context.Context, eventID int64, userID int64) (models.EventMember, bool, error) {
	m, err := s.members.Get(ctx, s.pool, eventID, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.EventMember{}, false, nil
	}
	return m, err == nil, err
}

func (s *Store) ListMembers(ctx context.Context, eventID int64, state string, withBlocked bool) ([]models.EventMember, error) {
	return s.members.List(ctx, eventID, state, withBlocked)
}

func (s *Store) AreFriends(ctx context.Context, userID int64, otherID int64) (bool, error) {
	return s.friends.AreFriends(ctx, userID, otherID)
}

func (s *Store) FriendsOf(ctx context.Context, viewerID int64, candidates []int64) (map[int64]bool, error) {
	return s.friends.FilterFriendsOf(ctx, viewerID, candidates)
}

func (s *Store) ListFriendIDs(ctx context.Context, userID int64) ([]int64, error) {
	return s.friends.ListFriendIDs(ctx, userID)
}

func (s *Store) UserExists(ctx context.Context, userID int64) (bool, error) {
	return s.users.Exists(ctx, userID)
}

func (s *Store) UserAge(ctx context.Context, userID int64, now time.Time) (*int, error) {
	return s.users.Age(ctx, userID, now)
}

func (s *Store) ReviewExists(ctx context.Context, eventID int64, userID int64) (bool, error) {
	return s.reviews.Exists(ctx, s.pool, eventID, userID)
}

func (s *Store) ListReviews(ctx context.Context, eventID int64, limit int, offset int) ([]models.EventReview, error) {
	return s.reviews.ListByEvent(ctx, eventID, limit, offset)
}

type storeTx struct {
	store *Store
	tx    pgx.Tx
}

func (t *storeTx) GetEventForUpdate(ctx context.Context, eventID int64) (models.Event, bool, error) {
	ev, err := t.store.events.GetByIDForUpdate(ctx, t.tx, eventID)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Event{}, false, nil
	}
	return ev, err == nil, err
}

func (t *storeTx) InsertEvent(ctx context.Context, ev models.Event) (models.Event, error) {
	return t.store.events.Insert(ctx, t.tx, ev)
}

func (t *storeTx) UpdateEvent(ctx context.Context, ev models.Event) (models.Event, error) {
	return t.store.events.Update(ctx, t.tx, ev)
}

func (t *storeTx) DeleteEvent(ctx context.Context, eventID int64) error {
	return t.store.events.Delete(ctx, t.tx, eventID)
}

func (t *storeTx) ReplaceEventDates(ctx context.Context, eventID int64, dates []models.EventDate) error {
	if err := t.store.events.DeleteDates(ctx, t.tx, eventID); err != nil {
		return err
	}
	return t.store.events.InsertDates(ctx, t.tx, eventID, dates)
}

func (t *storeTx) ReplaceEventSchedules(ctx context.Context, eventID int64, schedules []models.EventSchedule) error {
	if err := t.store.events.DeleteSchedules(ctx, t.tx, eventID); err != nil {
		return err
	}
	return t.store.events.InsertSchedules(ctx, t.tx, eventID, schedules)
}

func (t *storeTx) GetMember(ctx context.Context, eventID int64, userID int64) (models.EventMember, bool, error) {
	m, err := t.store.members.Get(ctx, t.tx, eventID, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.EventMember{}, false, nil
	}
	return m, err == nil, err
}

func (t *storeTx) InsertMember(ctx context.Context, m models.EventMember) error {
	return t.store.members.Insert(ctx, t.tx, m)
}

func (t *storeTx) SetMemberState(ctx context.Context, eventID int64, userID int64, state string) error {
	return t.store.members.SetState(ctx, t.tx, eventID, userID, state)
}

func (t *storeTx) SetMemberBlocked(ctx context.Context, eventID int64, userID int64, blocked bool) error {
	return t.store.members.SetBlocked(ctx, t.tx, eventID, userID, blocked)
}

func (t *storeTx) DeleteMember(ctx context.Context, eventID int64, userID int64) error {
	return t.store.members.Delete(ctx, t.tx, eventID, userID)
}

func (t *storeTx) DeleteMembersByEvent(ctx context.Context, eventID int64) error {
	return t.store.members.DeleteByEvent(ctx, t.tx, eventID)
}

func (t *storeTx) DeleteNotificationsByEvent(ctx context.Context, eventID int64) error {
	return t.store.notifications.DeleteByEvent(ctx, t.tx, eventID)
}

func (t *storeTx) DeleteReviewsByEvent(ctx context.Context, eventID int64) error {
	return t.store.reviews.DeleteByEvent(ctx, t.tx, eventID)
}

func (t *storeTx) InsertReview(ctx context.Context, rev models.EventReview) (models.EventReview, error) {
	return t.store.reviews.Insert(ctx, t.tx, rev)
}

func (t *storeTx) ResolveNotification(ctx context.Context, userID int64, eventID int64, targetUserID int64, notifType string, actionText string) error {
	return t.store.notifications.Resolve(ctx, t.tx, userID, eventID, targetUserID, notifType, actionText)
}

func (t *storeTx) ResolveReviewPrompt(ctx context.Context, userID int64, eventID int64, notifType string, actionText string) error {
	return t.store.notifications.ResolveForUserEvent(ctx, t.tx, userID, eventID, notifType, actionText)
}

func (t *storeTx) Enqueue(ctx context.Context, job models.FanoutJob) error {
	_, err := t.store.outbox.Insert(ctx, t.tx, job)
	return err
}
