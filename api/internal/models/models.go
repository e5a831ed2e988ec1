package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventStateActual      = "actual"
	EventStateFinished    = "finished"
	EventStateCancelled   = "cancelled"
	EventStateUnpublished = "unpublished"
)

const (
	EventTypeOpen         = 1
	EventTypeClosed       = 2
	EventTypeAnnouncement = 3
	EventTypeFriends      = 4
	EventTypeTravel       = 5
)

const (
	MemberStatePending = "pending"
	MemberStateJoined  = "joined"
)

const (
	NotificationEventText           = "eventText"
	NotificationFriendRequest       = "friendRequest"
	NotificationFriendAccepted      = "friendAccepted"
	NotificationEventCloseRequest   = "eventCloseRequest"
	NotificationEventForFriends     = "eventForFriends"
	NotificationBirthday            = "birthday"
	NotificationEventFromManager    = "eventFromManager"
	NotificationEventReview         = "eventReview"
	NotificationEventReviewWithText = "eventReviewWithText"
)

const (
	ActionAccepted = "accepted"
	ActionDeclined = "declined"
)

// Boolean notification preference flags, one row per user per flag.
const (
	SettingPushRemindThreeDays  = "pushRemindTreeDays"
	SettingPushRemindOneDay     = "pushRemindOneDay"
	SettingPushRemindOnFinish   = "pushRemindOnFinish"
	SettingPushRemindOnFriends  = "pushRemindOnFriends"
	SettingEmailRemindThreeDays = "emailRemindTreeDays"
	SettingEmailRemindOneDay    = "emailRemindOneDay"
	SettingEmailRemindOnFinish  = "emailRemindOnFinish"
)

type Event struct {
	ID               int64
	CreatorID        int64
	TypeID           int
	Name             string
	Description      string
	Address          *string
	State            string
	MaxMembers       *int
	MemberCount      int
	CumulativeAge    int
	AverageAge       int
	Rate             float64
	RateCount        int
	IsFree           *bool
	Regulations      *string
	Site             *string
	RegistrationLink *string
	UnpublishReason  *string
	StartFrom        time.Time
	FinishTo         time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// EventDate is one of the date ranges an event runs over. Announcements
// may carry several; every other type exactly one.
type EventDate struct {
	ID      int64
	EventID int64
	From    time.Time
	To      time.Time
}

type EventSchedule struct {
	ID      int64
	EventID int64
	Day     time.Time
	Text    string
}

type EventMember struct {
	EventID   int64
	UserID    int64
	State     string
	IsBlocked bool
	CreatedAt time.Time
}

type EventReview struct {
	ID        int64
	EventID   int64
	UserID    int64
	Rate      int
	Text      *string
	CreatedAt time.Time
}

type User struct {
	ID        int64
	Email     string
	Name      string
	Surname   string
	Birth     *time.Time
	CreatedAt time.Time
}

type UserFriend struct {
	UserID     int64
	FriendID   int64
	IsAccepted bool
	IsBlocked  *bool
}

// UserSubscription follows an event manager; followers receive the
// manager topic broadcasts.
type UserSubscription struct {
	UserID    int64
	ManagerID int64
	CreatedAt time.Time
}

type PushToken struct {
	ID        int64
	UserID    int64
	Token     string
	CreatedAt time.Time
}

type Setting struct {
	UserID int64
	Name   string
	Value  bool
}

type Notification struct {
	ID           int64
	UserID       int64
	Type         string
	Text         *string
	EventID      *int64
	TargetUserID *int64
	ActionText   *string
	IsRead       bool
	CreatedAt    time.Time
}

// FanoutJob is one persisted fan-out intent, written in the same
// transaction as the state change that triggered it.
type FanoutJob struct {
	JobID       uuid.UUID
	JobType     string
	Payload     []byte
	Status      string
	Attempts    int
	NextRetryAt *time.Time
	LockedAt    *time.Time
	LockedBy    *string
	LastError   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeliveredAt *time.Time
}

type AuditLog struct {
	AuditID      uuid.UUID
	OccurredAt   time.Time
	ActorUserID  *int64
	Subject      string
	Action       string
	ResourceType *string
	ResourceID   *string
	RequestID    string
	Method       string
	Path         string
	StatusCode   int
	DurationMS   int64
	ClientIP     string
	UserAgent    string
	Details      []byte
}
