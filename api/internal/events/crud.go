package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gather-events-backend/api/internal/models"
	"gather-events-backend/api/internal/notify"
)

type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

type ScheduleItem struct {
	Day  time.Time `json:"day"`
	Text string    `json:"text"`
}

type EventInput struct {
	TypeID      int         `json:"type_id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Address     *string     `json:"address,omitempty"`
	MaxMembers  *int        `json:"max_members,omitempty"`
	Dates       []DateRange `json:"dates"`

	// Announcement-only fields, nulled for every other type.
	IsFree           *bool          `json:"is_free,omitempty"`
	Regulations      *string        `json:"regulations,omitempty"`
	Site             *string        `json:"site,omitempty"`
	RegistrationLink *string        `json:"registration_link,omitempty"`
	Schedules        []ScheduleItem `json:"schedules,omitempty"`
}

func validateInput(in EventInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return ValidationError("name_required", "event name is required")
	}
	switch in.TypeID {
	case models.EventTypeOpen, models.EventTypeClosed, models.EventTypeAnnouncement, models.EventTypeFriends, models.EventTypeTravel:
	default:
		return ValidationError("type_unknown", "unknown event type %d", in.TypeID)
	}
	if len(in.Dates) == 0 {
		return ValidationError("dates_required", "at least one date range is required")
	}
	for _, d := range in.Dates {
		if !d.From.Before(d.To) {
			return ValidationError("dates_pair", "date range start must precede end")
		}
	}
	if len(in.Dates) > 1 && in.TypeID != models.EventTypeAnnouncement {
		return ValidationError("dates_limit", "only announcements may have several date ranges")
	}
	if in.MaxMembers != nil && *in.MaxMembers <= 0 {
		return ValidationError("max_members", "capacity must be positive")
	}
	return nil
}

func dateBounds(dates []DateRange) (time.Time, time.Time) {
	startFrom, finishTo := dates[0].From, dates[0].To
	for _, d := range dates[1:] {
		if d.From.Before(startFrom) {
			startFrom = d.From
		}
		if d.To.After(finishTo) {
			finishTo = d.To
		}
	}
	return startFrom, finishTo
}

func applyInput(ev *models.Event, in EventInput) {
	ev.TypeID = in.TypeID
	ev.Name = strings.TrimSpace(in.Name)
	ev.Description = in.Description
	ev.Address = in.Address
	ev.MaxMembers = in.MaxMembers
	ev.StartFrom, ev.FinishTo = dateBounds(in.Dates)
	if in.TypeID == models.EventTypeAnnouncement {
		ev.IsFree = in.IsFree
		ev.Regulations = in.Regulations
		ev.Site = in.Site
		ev.RegistrationLink = in.RegistrationLink
	} else {
		ev.IsFree = nil
		ev.Regulations = nil
		ev.Site = nil
		ev.RegistrationLink = nil
	}
}

func toModelDates(eventID int64, dates []DateRange) []models.EventDate {
	out := make([]models.EventDate, 0, len(dates))
	for _, d := range dates {
		out = append(out, models.EventDate{EventID: eventID, From: d.From, To: d.To})
	}
	return out
}

func toModelSchedules(eventID int64, items []ScheduleItem) []models.EventSchedule {
	out := make([]models.EventSchedule, 0, len(items))
	for _, s := range items {
		out = append(out, models.EventSchedule{EventID: eventID, Day: s.Day, Text: s.Text})
	}
	return out
}

func (s *Service) Create(ctx context.Context, p Principal, in EventInput) (models.Event, error) {
	if p.UserID == 0 {
		return models.Event{}, PermissionError("auth_required", "authentication required")
	}
	if err := validateInput(in); err != nil {
		return models.Event{}, err
	}

	var created models.Event
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		ev := models.Event{CreatorID: p.UserID, State: models.EventStateActual}
		applyInput(&ev, in)

		var err error
		created, err = tx.InsertEvent(ctx, ev)
		if err != nil {
			return err
		}
		if err := tx.ReplaceEventDates(ctx, created.ID, toModelDates(created.ID, in.Dates)); err != nil {
			return err
		}
		if in.TypeID == models.EventTypeAnnouncement && len(in.Schedules) > 0 {
			if err := tx.ReplaceEventSchedules(ctx, created.ID, toModelSchedules(created.ID, in.Schedules)); err != nil {
				return err
			}
		}

		if err := enqueueJob(ctx, tx, notify.JobChatCreateByEvent, notify.ChatEvent{EventID: created.ID, UserID: p.UserID}); err != nil {
			return err
		}

		if in.TypeID == models.EventTypeFriends {
			friendIDs, err := s.store.ListFriendIDs(ctx, p.UserID)
			if err != nil {
				return err
			}
			if len(friendIDs) > 0 {
				text := fmt.Sprintf("Your friend created event %s", created.Name)
				if err := enqueueFanout(ctx, tx, notify.Fanout{
					Recipients:  notify.Recipients{UserIDs: friendIDs},
					SettingName: models.SettingPushRemindOnFriends,
					Push: &notify.PushPart{
						Body: text,
						Data: pushData(models.NotificationEventForFriends, created.ID, p.UserID),
					},
					InApp: &notify.InAppPart{
						Type:         models.NotificationEventForFriends,
						Text:         &text,
						EventID:      &created.ID,
						TargetUserID: &p.UserID,
					},
				}); err != nil {
					return err
				}
			}
		}
		return nil
	})
	return created, err
}

func (s *Service) Edit(ctx context.Context, p Principal, eventID int64, in EventInput) (models.Event, error) {
	if err := validateInput(in); err != nil {
		return models.Event{}, err
	}

	var updated models.Event
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		ev, ok, err := tx.GetEventForUpdate(ctx, eventID)
		if err != nil {
			return err
		}
		if !ok {
			return NotFoundError("event_not_found", "event %d not found", eventID)
		}
		if ev.CreatorID != p.UserID && !p.hasAny(CapAdmin, CapEventEdit) {
			return PermissionError("edit_forbidden", "not allowed to edit event %d", eventID)
		}
		if ev.State != models.EventStateActual {
			return StateError("not_actual", "only actual events can be edited")
		}
		if in.TypeID != ev.TypeID {
			return ValidationError("type_immutable", "event type cannot change")
		}

		applyInput(&ev, in)
		updated, err = tx.UpdateEvent(ctx, ev)
		if err != nil {
			return err
		}
		if err := tx.ReplaceEventDates(ctx, eventID, toModelDates(eventID, in.Dates)); err != nil {
			return err
		}
		if ev.TypeID == models.EventTypeAnnouncement {
			return tx.ReplaceEventSchedules(ctx, eventID, toModelSchedules(eventID, in.Schedules))
		}
		return nil
	})
	return updated, err
}

func (s *Service) Delete(ctx context.Context, p Principal, eventID int64) error {
	// Snapshot members before the cascade so the topic cleanup job still
	// knows whose tokens to unsubscribe.
	members, err := s.store.ListMembers(ctx, eventID, models.MemberStateJoined, true)
	if err != nil {
		return err
	}
	memberIDs := make([]int64, 0, len(members))
	for _, m := range members {
		memberIDs = append(memberIDs, m.UserID)
	}

	return s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		ev, ok, err := tx.GetEventForUpdate(ctx, eventID)
		if err != nil {
			return err
		}
		if !ok {
			return NotFoundError("event_not_found", "event %d not found", eventID)
		}
		if ev.CreatorID != p.UserID && !p.hasAny(CapAdmin, CapEventDelete) {
			return PermissionError("delete_forbidden", "not allowed to delete event %d", eventID)
		}

		if err := tx.DeleteMembersByEvent(ctx, eventID); err != nil {
			return err
		}
		if err := tx.DeleteNotificationsByEvent(ctx, eventID); err != nil {
			return err
		}
		if err := tx.DeleteReviewsByEvent(ctx, eventID); err != nil {
			return err
		}
		if err := tx.ReplaceEventDates(ctx, eventID, nil); err != nil {
			return err
		}
		if err := tx.ReplaceEventSchedules(ctx, eventID, nil); err != nil {
			return err
		}
		if err := tx.DeleteEvent(ctx, eventID); err != nil {
			return err
		}
		return enqueueJob(ctx, tx, notify.JobTopicDropMembers, notify.TopicDropMembers{EventID: eventID, UserIDs: memberIDs})
	})
}
