package events

import (
	"context"
	"time"

	"gather-events-backend/api/internal/models"
)

// PermissionGate is the capability predicate the state machine checks;
// it never inspects roles directly.
type PermissionGate interface {
	HasAny(caps ...string) bool
}

// Principal is the acting user plus their capability gate. Anonymous
// callers have UserID zero and a gate that always answers false.
type Principal struct {
	UserID int64
	Gate   PermissionGate
}

func (p Principal) hasAny(caps ...string) bool {
	return p.Gate != nil && p.Gate.HasAny(caps...)
}

// Tx is the transactional slice of the store: every mutation of a
// transition, plus the outbox insert, goes through one Tx.
type Tx interface {
	GetEventForUpdate(ctx context.Context, eventID int64) (models.Event, bool, error)
	InsertEvent(ctx context.Context, ev models.Event) (models.Event, error)
	UpdateEvent(ctx context.Context, ev models.Event) (models.Event, error)
	DeleteEvent(ctx context.Context, eventID int64) error
	ReplaceEventDates(ctx context.Context, eventID int64, dates []models.EventDate) error
	ReplaceEventSchedules(ctx context.Context, eventID int64, schedules []models.EventSchedule) error

	GetMember(ctx context.Context, eventID int64, userID int64) (models.EventMember, bool, error)
	InsertMember(ctx context.Context, m models.EventMember) error
	SetMemberState(ctx context.Context, eventID int64, userID int64, state string) error
	SetMemberBlocked(ctx context.Context, eventID int64, userID int64, blocked bool) error
	DeleteMember(ctx context.Context, eventID int64, userID int64) error
	DeleteMembersByEvent(ctx context.Context, eventID int64) error
	DeleteNotificationsByEvent(ctx context.Context, eventID int64) error
	DeleteReviewsByEvent(ctx context.Context, eventID int64) error

	InsertReview(ctx context.Context, rev models.EventReview) (models.EventReview, error)
	ResolveNotification(ctx context.Context, userID int64, eventID int64, targetUserID int64, notifType string, actionText string) error
	ResolveReviewPrompt(ctx context.Context, userID int64, eventID int64, notifType string, actionText string) error

	Enqueue(ctx context.Context, job models.FanoutJob) error
}

// Store is the persistence port of the state machine.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetEvent(ctx context.Context, eventID int64) (models.Event, bool, error)
	ListEventDates(ctx context.Context, eventID int64) ([]models.EventDate, error)
	GetMember(ctx context.Context, eventID int64, userID int64) (models.EventMember, bool, error)
	ListMembers(ctx context.Context, eventID int64, state string, withBlocked bool) ([]models.EventMember, error)
	AreFriends(ctx context.Context, userID int64, otherID int64) (bool, error)
	FriendsOf(ctx context.Context, viewerID int64, candidates []int64) (map[int64]bool, error)
	ListFriendIDs(ctx context.Context, userID int64) ([]int64, error)
	UserExists(ctx context.Context, userID int64) (bool, error)
	UserAge(ctx context.Context, userID int64, now time.Time) (*int, error)
	ReviewExists(ctx context.Context, eventID int64, userID int64) (bool, error)
	ListReviews(ctx context.Context, eventID int64, limit int, offset int) ([]models.EventReview, error)
}
