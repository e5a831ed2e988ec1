// Package events holds the cross-service message contract shared by the
// api service and the chat service.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Envelope struct {
	MessageID   uuid.UUID       `json:"message_id"`
	OccurredAt  time.Time       `json:"occurred_at"`
	MessageType string          `json:"message_type"`
	Payload     json.RawMessage `json:"payload"`
}

const (
	TopicChatCreateByEvent   = "chat.create-by-event"
	TopicChatAddEventMember  = "chat.add-event-member"
	TopicChatKickEventMember = "chat.kick-event-member"
)

type ChatCreateByEvent struct {
	EventID   int64 `json:"event_id"`
	CreatorID int64 `json:"creator_id"`
}

type ChatEventMember struct {
	EventID int64 `json:"event_id"`
	UserID  int64 `json:"user_id"`
}
