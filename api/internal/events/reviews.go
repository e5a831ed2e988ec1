package events

import (
	"context"
	"strings"

	"gather-events-backend/api/internal/models"
)

type ReviewInput struct {
	Rate int     `json:"rate"`
	Text *string `json:"text,omitempty"`
}

// AddReview records a member's review of a finished event and folds the
// rate into the event's running average.
func (s *Service) AddReview(ctx context.Context, p Principal, eventID int64, in ReviewInput) (models.EventReview, error) {
	if in.Rate < 1 || in.Rate > 5 {
		return models.EventReview{}, ValidationError("rate_range", "rate must be between 1 and 5")
	}

	var created models.EventReview
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		ev, ok, err := tx.GetEventForUpdate(ctx, eventID)
		if err != nil {
			return err
		}
		if !ok {
			return NotFoundError("event_not_found", "event %d not found", eventID)
		}
		if ev.State != models.EventStateFinished {
			return StateError("not_finished", "reviews open once the event is finished")
		}

		member, found, err := tx.GetMember(ctx, eventID, p.UserID)
		if err != nil {
			return err
		}
		wasMember := found && member.State == models.MemberStateJoined && !member.IsBlocked
		if !wasMember && !p.hasAny(CapAdmin, CapEventReviewsAdd) {
			return PermissionError("review_forbidden", "only event members may review")
		}

		exists, err := s.store.ReviewExists(ctx, eventID, p.UserID)
		if err != nil {
			return err
		}
		if exists {
			return StateError("review_exists", "event already reviewed")
		}

		rev := models.EventReview{EventID: eventID, UserID: p.UserID, Rate: in.Rate}
		// Review text is an announcement-only feature.
		if ev.TypeID == models.EventTypeAnnouncement && in.Text != nil && strings.TrimSpace(*in.Text) != "" {
			text := strings.TrimSpace(*in.Text)
			rev.Text = &text
		}
		created, err = tx.InsertReview(ctx, rev)
		if err != nil {
			return err
		}

		ev.Rate = (ev.Rate*float64(ev.RateCount) + float64(in.Rate)) / float64(ev.RateCount+1)
		ev.RateCount++
		if _, err := tx.UpdateEvent(ctx, ev); err != nil {
			return err
		}

		promptType := models.NotificationEventReview
		if ev.TypeID == models.EventTypeAnnouncement {
			promptType = models.NotificationEventReviewWithText
		}
		return tx.ResolveReviewPrompt(ctx, p.UserID, eventID, promptType, models.ActionAccepted)
	})
	return created, err
}

// ListReviews returns reviews of a finished event, newest first.
func (s *Service) ListReviews(ctx context.Context, eventID int64, limit int, offset int) ([]models.EventReview, error) {
	ev, ok, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, NotFoundError("event_not_found", "event %d not found", eventID)
	}
	if ev.State != models.EventStateFinished {
		return nil, StateError("not_finished", "reviews open once the event is finished")
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListReviews(ctx, eventID, limit, offset)
}
