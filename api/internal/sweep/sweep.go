// Package sweep holds the scheduled passes over events and users: the
// finish sweep, the start reminders and the birthday greetings. Every
// sweep runs under a redis lock so only one instance ticks at a time.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"gather-events-backend/api/internal/models"
	"gather-events-backend/api/internal/notify"
	"gather-events-backend/shared/lockx"
	"gather-events-backend/shared/logx"
	"gather-events-backend/shared/metricsx"
)

// Store is the persistence slice the sweeps need.
type Store interface {
	ListFinishable(ctx context.Context, now time.Time) ([]models.Event, error)
	ListStartingOn(ctx context.Context, day time.Time) ([]models.Event, error)
	ListBirthdaysOn(ctx context.Context, day time.Time) ([]models.User, error)
	ListFriendIDs(ctx context.Context, userID int64) ([]int64, error)
	// FinishEvent flips the event to finished and enqueues the given jobs
	// in one transaction.
	FinishEvent(ctx context.Context, eventID int64, jobs []models.FanoutJob) error
	Enqueue(ctx context.Context, jobs ...models.FanoutJob) error
}

type Sweeper struct {
	store   Store
	redis   *redis.Client
	lockTTL time.Duration
	log     logx.Logger
	now     func() time.Time
}

func New(store Store, redisClient *redis.Client, lockTTL time.Duration, log logx.Logger) *Sweeper {
	if lockTTL <= 0 {
		lockTTL = 50 * time.Second
	}
	return &Sweeper{
		store:   store,
		redis:   redisClient,
		lockTTL: lockTTL,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock fixes the sweeper's clock, used by tests.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

func (s *Sweeper) RunFinish(ctx context.Context) error {
	return s.locked(ctx, "finish", s.finish)
}

func (s *Sweeper) RunRemind(ctx context.Context) error {
	return s.locked(ctx, "remind", s.remind)
}

func (s *Sweeper) RunBirthday(ctx context.Context) error {
	return s.locked(ctx, "birthday", s.birthday)
}

func (s *Sweeper) locked(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	run := func(ctx context.Context) error { return fn(ctx) }
	if s.redis != nil {
		ok, err := lockx.WithLock(ctx, s.redis, "sweep:"+name, s.lockTTL, run)
		if err == nil && !ok {
			metricsx.IncSweepRun(name, "skipped")
			return nil
		}
		s.report(ctx, name, err)
		return err
	}
	err := run(ctx)
	s.report(ctx, name, err)
	return err
}

func (s *Sweeper) report(ctx context.Context, name string, err error) {
	if err != nil {
		metricsx.IncSweepRun(name, "error")
		s.log.Error(ctx, "sweep.failed", "sweep tick failed", slog.String("sweep", name), logx.Err(err))
		return
	}
	metricsx.IncSweepRun(name, "ok")
}

// finish closes every actual event whose last date range has passed and
// asks its members for a review. Failures on one event never stop the
// rest of the pass.
func (s *Sweeper) finish(ctx context.Context) error {
	now := s.now()
	evs, err := s.store.ListFinishable(ctx, now)
	if err != nil {
		return err
	}

	var firstErr error
	for _, ev := range evs {
		job, err := reviewPromptJob(ev)
		if err == nil {
			err = s.store.FinishEvent(ctx, ev.ID, []models.FanoutJob{job})
		}
		if err != nil {
			s.log.Error(ctx, "sweep.finish_event_failed", "could not finish event",
				slog.Int64("event_id", ev.ID), logx.Err(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func reviewPromptJob(ev models.Event) (models.FanoutJob, error) {
	promptType := models.NotificationEventReview
	if ev.TypeID == models.EventTypeAnnouncement {
		promptType = models.NotificationEventReviewWithText
	}
	text := fmt.Sprintf("How was %s? Leave a review", ev.Name)
	return notify.NewJob(notify.JobNotify, notify.Fanout{
		Recipients:  notify.Recipients{EventID: ev.ID},
		SettingName: models.SettingPushRemindOnFinish,
		Push: &notify.PushPart{
			Body: text,
			Data: map[string]string{"type": promptType, "event_id": fmt.Sprintf("%d", ev.ID)},
		},
		Email: &notify.EmailPart{
			Subject:     fmt.Sprintf("%s has finished", ev.Name),
			SettingName: models.SettingEmailRemindOnFinish,
			Variables:   map[string]string{"event_name": ev.Name, "text": text},
		},
		InApp: &notify.InAppPart{
			Type:    promptType,
			Text:    &text,
			EventID: &ev.ID,
		},
	})
}

// remind notifies members of events that start in one day and in three
// days, each horizon gated by its own preference flags.
func (s *Sweeper) remind(ctx context.Context) error {
	now := s.now()
	horizons := []struct {
		days         int
		pushSetting  string
		emailSetting string
	}{
		{1, models.SettingPushRemindOneDay, models.SettingEmailRemindOneDay},
		{3, models.SettingPushRemindThreeDays, models.SettingEmailRemindThreeDays},
	}

	var firstErr error
	for _, h := range horizons {
		day := now.AddDate(0, 0, h.days)
		evs, err := s.store.ListStartingOn(ctx, day)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, ev := range evs {
			job, err := remindJob(ev, h.days, h.pushSetting, h.emailSetting)
			if err == nil {
				err = s.store.Enqueue(ctx, job)
			}
			if err != nil {
				s.log.Error(ctx, "sweep.remind_event_failed", "could not enqueue reminder",
					slog.Int64("event_id", ev.ID), logx.Err(err))
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	return firstErr
}

func remindJob(ev models.Event, days int, pushSetting string, emailSetting string) (models.FanoutJob, error) {
	var text string
	if days == 1 {
		text = fmt.Sprintf("%s starts tomorrow", ev.Name)
	} else {
		text = fmt.Sprintf("%s starts in %d days", ev.Name, days)
	}
	return notify.NewJob(notify.JobNotify, notify.Fanout{
		Recipients:  notify.Recipients{EventID: ev.ID},
		SettingName: pushSetting,
		Push: &notify.PushPart{
			Body: text,
			Data: map[string]string{"type": models.NotificationEventText, "event_id": fmt.Sprintf("%d", ev.ID)},
		},
		Email: &notify.EmailPart{
			Subject:     text,
			SettingName: emailSetting,
			Variables:   map[string]string{"event_name": ev.Name, "text": text},
		},
		InApp: &notify.InAppPart{
			Type:     models.NotificationEventText,
			Text:     &text,
			EventID:  &ev.ID,
			Filtered: true,
		},
	})
}

// birthday greets each user's friends on the user's birthday.
func (s *Sweeper) birthday(ctx context.Context) error {
	now := s.now()
	users, err := s.store.ListBirthdaysOn(ctx, now)
	if err != nil {
		return err
	}

	var firstErr error
	for _, u := range users {
		friendIDs, err := s.store.ListFriendIDs(ctx, u.ID)
		if err == nil && len(friendIDs) == 0 {
			continue
		}
		var job models.FanoutJob
		if err == nil {
			job, err = birthdayJob(u, friendIDs)
		}
		if err == nil {
			err = s.store.Enqueue(ctx, job)
		}
		if err != nil {
			s.log.Error(ctx, "sweep.birthday_user_failed", "could not enqueue birthday greeting",
				slog.Int64("user_id", u.ID), logx.Err(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func birthdayJob(u models.User, friendIDs []int64) (models.FanoutJob, error) {
	text := fmt.Sprintf("Today is %s %s's birthday", u.Name, u.Surname)
	targetID := u.ID
	return notify.NewJob(notify.JobNotify, notify.Fanout{
		Recipients: notify.Recipients{UserIDs: friendIDs},
		Push: &notify.PushPart{
			Body: text,
			Data: map[string]string{"type": models.NotificationBirthday, "target_user_id": fmt.Sprintf("%d", targetID)},
		},
		InApp: &notify.InAppPart{
			Type:         models.NotificationBirthday,
			Text:         &text,
			TargetUserID: &targetID,
		},
	})
}
