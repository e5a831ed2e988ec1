package events

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gather-events-backend/api/internal/models"
	"gather-events-backend/api/internal/notify"
)

// Capability strings checked through the PermissionGate.
const (
	CapAdmin               = "admin"
	CapEventCancel         = "event.cancel"
	CapEventMembersBlock   = "event.members.block"
	CapEventMembersRequest = "event.members.request"
	CapEventChangeOwner    = "event.change-owner"
	CapEventPublish        = "event.publish"
	CapEventMembersGet     = "event.members.get"
	CapEventReviewsAdd     = "event.reviews.add"
	CapEventEdit           = "event.edit"
	CapEventDelete         = "event.delete"
)

// Participation states computed for a viewer.
const (
	ParticipationUnavailable = "unavailable"
	ParticipationAvailable   = "available"
	ParticipationPending     = "pending"
	ParticipationJoined      = "joined"
	ParticipationBlocked     = "blocked"
)

type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Action dispatches a named membership action. Target is required for
// the member-directed actions and ignored otherwise.
func (s *Service) Action(ctx context.Context, p Principal, eventID int64, action string, targetID int64, reason string) error {
	switch action {
	case "enter":
		return s.Enter(ctx, p, eventID)
	case "leave":
		return s.Leave(ctx, p, eventID)
	case "cancel":
		return s.Cancel(ctx, p, eventID)
	case "block":
		return s.Block(ctx, p, eventID, targetID)
	case "unblock":
		return s.Unblock(ctx, p, eventID, targetID)
	case "accept":
		return s.Accept(ctx, p, eventID, targetID)
	case "decline":
		return s.Decline(ctx, p, eventID, targetID)
	case "change-owner":
		return s.ChangeOwner(ctx, p, eventID, targetID)
	case "publish":
		return s.Publish(ctx, p, eventID)
	case "unpublish":
		return s.Unpublish(ctx, p, eventID, reason)
	default:
		return ValidationError("wrong_action", "unknown action %q", action)
	}
}

func (s *Service) Enter(ctx context.Context, p Principal, eventID int64) error {
	age, err := s.store.UserAge(ctx, p.UserID, s.now())
	if err != nil {
		return err
	}

	return s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		ev, ok, err := tx.GetEventForUpdate(ctx, eventID)
		if err != nil {
			return err
		}
		if !ok {
			return NotFoundError("event_not_found", "event %d not found", eventID)
		}

		if ev.MaxMembers != nil && ev.MemberCount+1 > *ev.MaxMembers {
			return StateError("event_full", "event %d is at capacity", eventID)
		}
		switch ev.State {
		case models.EventStateCancelled:
			return StateError("event_cancelled", "event %d is cancelled", eventID)
		case models.EventStateFinished:
			return StateError("event_finished", "event %d is finished", eventID)
		case models.EventStateActual:
		default:
			return StateError("event_not_actual", "event %d is not actual", eventID)
		}

		if member, ok, err := tx.GetMember(ctx, eventID, p.UserID); err != nil {
			return err
		} else if ok {
			if member.State == models.MemberStatePending {
				return StateError("request_pending", "join request for event %d is pending", eventID)
			}
			if member.IsBlocked {
				return StateError("member_blocked", "user is blocked in event %d", eventID)
			}
			return StateError("already_member", "user is already a member of event %d", eventID)
		}

		if ev.TypeID == models.EventTypeClosed {
			if err := tx.InsertMember(ctx, models.EventMember{
				EventID: eventID,
				UserID:  p.UserID,
				State:   models.MemberStatePending,
			}); err != nil {
				return err
			}
			return enqueueFanout(ctx, tx, notify.Fanout{
				Recipients: notify.Recipients{UserID: ev.CreatorID},
				Push: &notify.PushPart{
					Body: fmt.Sprintf("New join request for %s", ev.Name),
					Data: pushData(models.NotificationEventCloseRequest, eventID, p.UserID),
				},
				InApp: &notify.InAppPart{
					Type:         models.NotificationEventCloseRequest,
					EventID:      &eventID,
					TargetUserID: &p.UserID,
				},
			})
		}

		if ev.TypeID == models.EventTypeFriends {
			isFriend, err := s.store.AreFriends(ctx, ev.CreatorID, p.UserID)
			if err != nil {
				return err
			}
			if !isFriend {
				return StateError("not_friend", "user is not a friend of the creator")
			}
		}

		if err := tx.InsertMember(ctx, models.EventMember{
			EventID: eventID,
			UserID:  p.UserID,
			State:   models.MemberStateJoined,
		}); err != nil {
			return err
		}
		ApplyMemberAdded(&ev, age)
		if _, err := tx.UpdateEvent(ctx, ev); err != nil {
			return err
		}
		if err := enqueueJob(ctx, tx, notify.JobChatAddEventMember, notify.ChatEvent{EventID: eventID, UserID: p.UserID}); err != nil {
			return err
		}
		return enqueueJob(ctx, tx, notify.JobTopicSubscribe, notify.TopicMembership{UserID: p.UserID, Topic: notify.EventTopic(eventID)})
	})
}

func (s *Service) Leave(ctx context.Context, p Principal, eventID int64) error {
	age, err := s.store.UserAge(ctx, p.UserID, s.now())
	if err != nil {
		return err
	}

	return s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		ev, ok, err := tx.GetEventForUpdate(ctx, eventID)
		if err != nil {
			return err
		}
		if !ok {
			return NotFoundError("event_not_found", "event %d not found", eventID)
		}

		member, ok, err := tx.GetMember(ctx, eventID, p.UserID)
		if err != nil {
			return err
		}
		if !ok {
			return NotFoundError("not_member", "user is not a member of event %d", eventID)
		}

		if err := tx.DeleteMember(ctx, eventID, p.UserID); err != nil {
			return err
		}
		if member.State == models.MemberStatePending {
			return nil
		}
		if !member.IsBlocked {
			ApplyMemberRemoved(&ev, age)
			if _, err := tx.UpdateEvent(ctx, ev); err != nil {
				return err
			}
		}
		if err := enqueueJob(ctx, tx, notify.JobChatKickEventMember, notify.ChatEvent{EventID: eventID, UserID: p.UserID}); err != nil {
			return err
		}
		return enqueueJob(ctx, tx, notify.JobTopicUnsubscribe, notify.TopicMembership{UserID: p.UserID, Topic: notify.EventTopic(eventID)})
	})
}

func (s *Service) Cancel(ctx context.Context, p Principal, eventID int64) error {
	return s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		ev, ok, err := tx.GetEventForUpdate(ctx, eventID)
		if err != nil {
			return err
		}
		if !ok {
			return NotFoundError("event_not_found", "event %d not found", eventID)
		}
		if ev.CreatorID != p.UserID && !p.hasAny(CapAdmin, CapEventCancel) {
			return PermissionError("cancel_forbidden", "not allowed to cancel event %d", eventID)
		}
		if ev.State == models.EventStateCancelled {
			return StateError("already_cancelled", "event %d is already cancelled", eventID)
		}

		ev.State = models.EventStateCancelled
		if _, err := tx.UpdateEvent(ctx, ev); err != nil {
			return err
		}

		text := fmt.Sprintf("Event %s was cancelled by the organizer", ev.Name)
		if err := enqueueFanout(ctx, tx, notify.Fanout{
			Recipients: notify.Recipients{EventID: eventID},
			Push: &notify.PushPart{
				Title: "Event cancelled",
				Body:  text,
				Data:  pushData(models.NotificationEventText, eventID, 0),
				Topic: notify.EventTopic(eventID),
			},
			InApp: &notify.InAppPart{
				Type:    models.NotificationEventText,
				Text:    &text,
				EventID: &eventID,
			},
		}); err != nil {
			return err
		}
		return enqueueJob(ctx, tx, notify.JobTopicDropMembers, notify.TopicDropMembers{EventID: eventID})
	})
}

func (s *Service) Block(ctx context.Context, p Principal, eventID int64, targetID int64) error {
	if targetID == 0 {
		return ValidationError("target_required", "target user id is required")
	}
	age, err := s.store.UserAge(ctx, targetID, s.now())
	if err != nil {
		return err
	}

	return s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		ev, ok, err := tx.GetEventForUpdate(ctx, eventID)
		if err != nil {
			return err
		}
		if !ok {
			return NotFoundError("event_not_found", "event %d not found", eventID)
		}
		if ev.CreatorID != p.UserID && !p.hasAny(CapAdmin, CapEventMembersBlock) {
			return PermissionError("block_forbidden", "not allowed to block members of event %d", eventID)
		}

		member, ok, err := tx.GetMember(ctx, eventID, targetID)
		if err != nil {
			return err
		}
		if !ok {
			return NotFoundError("not_member", "user %d is not a member of event %d", targetID, eventID)
		}
		if member.IsBlocked {
			return StateError("already_blocked", "user %d is already blocked", targetID)
		}

		if err := tx.SetMemberBlocked(ctx, eventID, targetID, true); err != nil {
			return err
		}
		// The aggregate counts joined, non-blocked rows only; a pending
		// row never contributed.
		if member.State == models.MemberStateJoined {
			ApplyMemberRemoved(&ev, age)
			if _, err := tx.UpdateEvent(ctx, ev); err != nil {
				return err
			}
		}

		if err := enqueueJob(ctx, tx, notify.JobChatKickEventMember, notify.ChatEvent{EventID: eventID, UserID: targetID}); err != nil {
			return err
		}
		if err := enqueueJob(ctx, tx, notify.JobTopicUnsubscribe, notify.TopicMembership{UserID: targetID, Topic: notify.EventTopic(eventID)}); err != nil {
			return err
		}
		text := fmt.Sprintf("The organizer removed you from event %s", ev.Name)
		return enqueueFanout(ctx, tx, notify.Fanout{
			Recipients: notify.Recipients{UserID: targetID},
			Push: &notify.PushPart{
				Body: text,
				Data: pushData(models.NotificationEventText, eventID, 0),
			},
			InApp: &notify.InAppPart{
				Type:    models.NotificationEventText,
				Text:    &text,
				EventID: &eventID,
			},
		})
	})
}

func (s *Service) Unblock(ctx context.Context, p Principal, eventID int64, targetID int64) error {
	if targetID == 0 {
		return ValidationError("target_required", "target user id is required")
	}
	age, err := s.store.UserAge(ctx, targetID, s.now())
	if err != nil {
		return err
	}

	return s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		ev, ok, err := tx.GetEventForUpdate(ctx, eventID)
		if err != nil {
			return err
		}
		if !ok {
			return NotFoundError("event_not_found", "event %d not found", eventID)
		}
		if ev.CreatorID != p.UserID && !p.hasAny(CapAdmin, CapEventMembersBlock) {
			return PermissionError("unblock_forbidden", "not allowed to unblock members of event %d", eventID)
		}

		member, ok, err := tx.GetMember(ctx, eventID, targetID)
		if err != nil {
			return err
		}
		if !ok {
			return NotFoundError("not_member", "user %d is not a member of event %d", targetID, eventID)
		}
		if !member.IsBlocked {
			return StateError("not_blocked", "user %d is not blocked", targetID)
		}

		if err := tx.SetMemberBlocked(ctx, eventID, targetID, false); err != nil {
			return err
		}
		if member.State == models.MemberStateJoined {
			ApplyMemberAdded(&ev, age)
			if _, err := tx.UpdateEvent(ctx, ev); err != nil {
				return err
			}
		}
		return enqueueJob(ctx, tx, notify.JobTopicSubscribe, notify.TopicMembership{UserID: targetID, Topic: notify.EventTopic(eventID)})
	})
}

func (s *Service) Accept(ctx context.Context, p Principal, eventID int64, targetID int64) error {
	if targetID == 0 {
		return ValidationError("target_required", "target user id is required")
	}
	age, err := s.store.UserAge(ctx, targetID, s.now())
	if err != nil {
		return err
	}

	return s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		ev, ok, err := tx.GetEventForUpdate(ctx, eventID)
		if err != nil {
			return err
		}
		if !ok {
			return NotFoundError("event_not_found", "event %d not found", eventID)
		}
		if ev.CreatorID != p.UserID && !p.hasAny(CapAdmin, CapEventMembersRequest) {
			return PermissionError("accept_forbidden", "not allowed to accept requests for event %d", eventID)
		}

		member, ok, err := tx.GetMember(ctx, eventID, targetID)
		if err != nil {
			return err
		}
		if !ok {
			return NotFoundError("request_not_found", "no join request from user %d", targetID)
		}
		if member.State != models.MemberStatePending {
			return StateError("not_pending", "user %d is already a member", targetID)
		}

		if err := tx.SetMemberState(ctx, eventID, targetID, models.MemberStateJoined); err != nil {
			return err
		}
		ApplyMemberAdded(&ev, age)
		if _, err := tx.UpdateEvent(ctx, ev); err != nil {
			return err
		}

		if err := tx.ResolveNotification(ctx, ev.CreatorID, eventID, targetID, models.NotificationEventCloseRequest, models.ActionAccepted); err != nil {
			return err
		}
		if err := enqueueJob(ctx, tx, notify.JobChatAddEventMember, notify.ChatEvent{EventID: eventID, UserID: targetID}); err != nil {
			return err
		}
		if err := enqueueJob(ctx, tx, notify.JobTopicSubscribe, notify.TopicMembership{UserID: targetID, Topic: notify.EventTopic(eventID)}); err != nil {
			return err
		}
		text := fmt.Sprintf("You are now a member of event %s", ev.Name)
		return enqueueFanout(ctx, tx, notify.Fanout{
			Recipients: notify.Recipients{UserID: targetID},
			Push: &notify.PushPart{
				Title: "Request accepted",
				Body:  text,
				Data:  pushData(models.NotificationEventText, eventID, 0),
			},
			InApp: &notify.InAppPart{
				Type:    models.NotificationEventText,
				Text:    &text,
				EventID: &eventID,
			},
		})
	})
}

func (s *Service) Decline(ctx context.Context, p Principal, eventID int64, targetID int64) error {
	if targetID == 0 {
		return ValidationError("target_required", "target user id is required")
	}

	return s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		ev, ok, err := tx.GetEventForUpdate(ctx, eventID)
		if err != nil {
			return err
		}
		if !ok {
			return NotFoundError("event_not_found", "event %d not found", eventID)
		}
		if ev.CreatorID != p.UserID && !p.hasAny(CapAdmin, CapEventMembersRequest) {
			return PermissionError("decline_forbidden", "not allowed to decline requests for event %d", eventID)
		}

		member, ok, err := tx.GetMember(ctx, eventID, targetID)
		if err != nil {
			return err
		}
		if !ok {
			return NotFoundError("request_not_found", "no join request from user %d", targetID)
		}
		if member.State != models.MemberStatePending {
			return StateError("not_pending", "user %d is already a member", targetID)
		}

		if err := tx.DeleteMember(ctx, eventID, targetID); err != nil {
			return err
		}
		if err := tx.ResolveNotification(ctx, ev.CreatorID, eventID, targetID, models.NotificationEventCloseRequest, models.ActionDeclined); err != nil {
			return err
		}
		text := fmt.Sprintf("Join request for %s was declined", ev.Name)
		return enqueueFanout(ctx, tx, notify.Fanout{
			Recipients: notify.Recipients{UserID: targetID},
			Push: &notify.PushPart{
				Body: text,
				Data: pushData(models.NotificationEventText, eventID, 0),
			},
			InApp: &notify.InAppPart{
				Type:    models.NotificationEventText,
				Text:    &text,
				EventID: &eventID,
			},
		})
	})
}

// ChangeOwner always requires the admin-level capability; being the
// creator is not enough.
func (s *Service) ChangeOwner(ctx context.Context, p Principal, eventID int64, targetID int64) error {
	if !p.hasAny(CapAdmin, CapEventChangeOwner) {
		return PermissionError("change_owner_forbidden", "not allowed to change the event owner")
	}
	if targetID == 0 {
		return ValidationError("target_required", "new owner id is required")
	}

	return s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		ev, ok, err := tx.GetEventForUpdate(ctx, eventID)
		if err != nil {
			return err
		}
		if !ok {
			return NotFoundError("event_not_found", "event %d not found", eventID)
		}
		if targetID == ev.CreatorID {
			return ValidationError("same_owner", "user %d already owns event %d", targetID, eventID)
		}
		exists, err := s.store.UserExists(ctx, targetID)
		if err != nil {
			return err
		}
		if !exists {
			return NotFoundError("user_not_found", "user %d not found", targetID)
		}

		ev.CreatorID = targetID
		_, err = tx.UpdateEvent(ctx, ev)
		return err
	})
}

func (s *Service) Publish(ctx context.Context, p Principal, eventID int64) error {
	return s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		ev, ok, err := tx.GetEventForUpdate(ctx, eventID)
		if err != nil {
			return err
		}
		if !ok {
			return NotFoundError("event_not_found", "event %d not found", eventID)
		}
		if ev.CreatorID != p.UserID && !p.hasAny(CapAdmin, CapEventPublish) {
			return PermissionError("publish_forbidden", "not allowed to publish event %d", eventID)
		}
		if ev.State != models.EventStateUnpublished {
			return StateError("not_unpublished", "event %d is not unpublished", eventID)
		}
		if ev.TypeID != models.EventTypeAnnouncement {
			return StateError("not_announcement", "only announcements can be published")
		}

		ev.State = models.EventStateActual
		ev.UnpublishReason = nil
		if _, err := tx.UpdateEvent(ctx, ev); err != nil {
			return err
		}

		text := fmt.Sprintf("Event %s was published", ev.Name)
		return enqueueFanout(ctx, tx, notify.Fanout{
			Recipients: notify.Recipients{EventID: eventID},
			Push: &notify.PushPart{
				Body:  text,
				Data:  pushData(models.NotificationEventText, eventID, 0),
				Topic: notify.EventTopic(eventID),
			},
			InApp: &notify.InAppPart{
				Type:    models.NotificationEventText,
				Text:    &text,
				EventID: &eventID,
			},
		})
	})
}

func (s *Service) Unpublish(ctx context.Context, p Principal, eventID int64, reason string) error {
	return s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		ev, ok, err := tx.GetEventForUpdate(ctx, eventID)
		if err != nil {
			return err
		}
		if !ok {
			return NotFoundError("event_not_found", "event %d not found", eventID)
		}
		if ev.CreatorID != p.UserID && !p.hasAny(CapAdmin, CapEventPublish) {
			return PermissionError("unpublish_forbidden", "not allowed to unpublish event %d", eventID)
		}
		if ev.State != models.EventStateActual {
			return StateError("not_actual", "event %d is not actual", eventID)
		}
		if ev.TypeID != models.EventTypeAnnouncement {
			return StateError("not_announcement", "only announcements can be unpublished")
		}

		ev.State = models.EventStateUnpublished
		ev.UnpublishReason = &reason
		if _, err := tx.UpdateEvent(ctx, ev); err != nil {
			return err
		}

		text := fmt.Sprintf("Event %s was unpublished", ev.Name)
		return enqueueFanout(ctx, tx, notify.Fanout{
			Recipients: notify.Recipients{EventID: eventID},
			Push: &notify.PushPart{
				Body:  text,
				Data:  pushData(models.NotificationEventText, eventID, 0),
				Topic: notify.EventTopic(eventID),
			},
			InApp: &notify.InAppPart{
				Type:    models.NotificationEventText,
				Text:    &text,
				EventID: &eventID,
			},
		})
	})
}

func pushData(notifType string, eventID int64, targetUserID int64) map[string]string {
	data := map[string]string{"type": notifType}
	if eventID != 0 {
		data["event_id"] = fmt.Sprintf("%d", eventID)
	}
	if targetUserID != 0 {
		data["target_user_id"] = fmt.Sprintf("%d", targetUserID)
	}
	return data
}

func enqueueFanout(ctx context.Context, tx Tx, fanout notify.Fanout) error {
	return enqueueJob(ctx, tx, notify.JobNotify, fanout)
}

func enqueueJob(ctx context.Context, tx Tx, jobType string, payload any) error {
	job, err := notify.NewJob(jobType, payload)
	if err != nil {
		return err
	}
	return tx.Enqueue(ctx, job)
}

// MemberView is one row of a member listing.
type MemberView struct {
	UserID    int64  `json:"user_id"`
	State     string `json:"state"`
	IsBlocked bool   `json:"is_blocked"`
	Role      string `json:"role"`
}

// EventView is an event plus the computed participation state for the
// requesting viewer.
type EventView struct {
	Event         models.Event       `json:"event"`
	Dates         []models.EventDate `json:"dates"`
	Participation string             `json:"participation"`
}

func (s *Service) Get(ctx context.Context, p Principal, eventID int64) (EventView, error) {
	ev, ok, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return EventView{}, err
	}
	if !ok {
		return EventView{}, NotFoundError("event_not_found", "event %d not found", eventID)
	}
	dates, err := s.store.ListEventDates(ctx, eventID)
	if err != nil {
		return EventView{}, err
	}

	view := EventView{Event: ev, Dates: dates, Participation: ParticipationUnavailable}
	if p.UserID == 0 || p.UserID == ev.CreatorID {
		return view, nil
	}

	member, ok, err := s.store.GetMember(ctx, eventID, p.UserID)
	if err != nil {
		return EventView{}, err
	}
	switch {
	case !ok:
		view.Participation = ParticipationAvailable
	case member.IsBlocked:
		view.Participation = ParticipationBlocked
	case member.State == models.MemberStatePending:
		view.Participation = ParticipationPending
	default:
		view.Participation = ParticipationJoined
	}
	return view, nil
}

// ListMembers returns the member rows with the creator prepended.
// Closed events hide the list from outsiders.
func (s *Service) ListMembers(ctx context.Context, p Principal, eventID int64, stateFilter string, withBlocked bool) ([]MemberView, error) {
	ev, ok, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, NotFoundError("event_not_found", "event %d not found", eventID)
	}

	if ev.TypeID == models.EventTypeClosed && ev.CreatorID != p.UserID && !p.hasAny(CapAdmin, CapEventMembersGet) {
		member, ok, err := s.store.GetMember(ctx, eventID, p.UserID)
		if err != nil {
			return nil, err
		}
		if !ok || member.State != models.MemberStateJoined || member.IsBlocked {
			return nil, PermissionError("members_hidden", "member list of event %d is hidden", eventID)
		}
	}

	rows, err := s.store.ListMembers(ctx, eventID, stateFilter, withBlocked)
	if err != nil {
		return nil, err
	}

	candidates := make([]int64, 0, len(rows))
	for _, m := range rows {
		if m.UserID != ev.CreatorID {
			candidates = append(candidates, m.UserID)
		}
	}
	friends := map[int64]bool{}
	if p.UserID != 0 {
		friends, err = s.store.FriendsOf(ctx, p.UserID, candidates)
		if err != nil {
			return nil, err
		}
	}

	out := make([]MemberView, 0, len(rows)+1)
	out = append(out, MemberView{UserID: ev.CreatorID, State: models.MemberStateJoined, Role: "creator"})
	for _, m := range rows {
		if m.UserID == ev.CreatorID {
			continue
		}
		role := "member"
		if friends[m.UserID] {
			role = "friend"
		}
		out = append(out, MemberView{UserID: m.UserID, State: m.State, IsBlocked: m.IsBlocked, Role: role})
	}
	// Creator first, then the viewer's friends, insertion order within
	// each group.
	sort.SliceStable(out, func(i, j int) bool {
		return rankRole(out[i].Role) < rankRole(out[j].Role)
	})
	return out, nil
}

func rankRole(role string) int {
	switch role {
	case "creator":
		return 0
	case "friend":
		return 1
	default:
		return 2
	}
}
