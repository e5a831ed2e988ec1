// Package notify implements the notification fan-out engine. A fan-out
// intent is persisted as a fanout_outbox job in the same transaction as
// the state change that triggered it; the worker claims and executes
// jobs later, so delivery can never roll a transition back.
package notify

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"gather-events-backend/api/internal/models"
)

const (
	JobNotify              = "notify.fanout"
	JobTopicSubscribe      = "topic.subscribe"
	JobTopicUnsubscribe    = "topic.unsubscribe"
	JobTopicDropMembers    = "topic.drop-members"
	JobChatCreateByEvent   = "chat.create-by-event"
	JobChatAddEventMember  = "chat.add-event-member"
	JobChatKickEventMember = "chat.kick-event-member"
)

// Recipients resolves to a user id set: exactly one of the fields is
// expected to be populated.
type Recipients struct {
	UserID    int64   `json:"user_id,omitempty"`
	UserIDs   []int64 `json:"user_ids,omitempty"`
	EventID   int64   `json:"event_id,omitempty"`
	ManagerID int64   `json:"manager_id,omitempty"`
}

type PushPart struct {
	Title string            `json:"title,omitempty"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
	// Topic switches delivery from token multicast to a topic send.
	Topic string `json:"topic,omitempty"`
}

type EmailPart struct {
	Subject    string            `json:"subject"`
	TemplateID int               `json:"template_id,omitempty"`
	Variables  map[string]string `json:"variables,omitempty"`
	// SettingName filters email recipients independently of the push
	// preference flag.
	SettingName string `json:"setting_name,omitempty"`
}

type InAppPart struct {
	Type         string  `json:"type"`
	Text         *string `json:"text,omitempty"`
	EventID      *int64  `json:"event_id,omitempty"`
	TargetUserID *int64  `json:"target_user_id,omitempty"`
	// Filtered writes rows only for recipients that passed the
	// preference filter; otherwise the unfiltered set gets rows.
	Filtered bool `json:"filtered,omitempty"`
}

// Fanout is the JobNotify payload. Channels are independent: any subset
// may be present and each failure is isolated.
type Fanout struct {
	Recipients  Recipients `json:"recipients"`
	SettingName string     `json:"setting_name,omitempty"`
	Push        *PushPart  `json:"push,omitempty"`
	Email       *EmailPart `json:"email,omitempty"`
	InApp       *InAppPart `json:"in_app,omitempty"`
}

type TopicMembership struct {
	UserID int64  `json:"user_id"`
	Topic  string `json:"topic"`
}

type TopicDropMembers struct {
	EventID int64 `json:"event_id"`
	// UserIDs snapshots the member set when the triggering transaction
	// also deletes the member rows; empty means resolve at execution.
	UserIDs []int64 `json:"user_ids,omitempty"`
}

type ChatEvent struct {
	EventID int64 `json:"event_id"`
	UserID  int64 `json:"user_id,omitempty"`
}

func EventTopic(eventID int64) string { return fmt.Sprintf("event_%d", eventID) }

func ManagerTopic(managerID int64) string { return fmt.Sprintf("manager_%d", managerID) }

// NewJob wraps a payload as a pending outbox job.
func NewJob(jobType string, payload any) (models.FanoutJob, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return models.FanoutJob{}, err
	}
	return models.FanoutJob{
		JobID:   uuid.New(),
		JobType: jobType,
		Payload: raw,
	}, nil
}
