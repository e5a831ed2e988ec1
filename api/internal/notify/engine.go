package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"gather-events-backend/api/internal/models"
	contract "gather-events-backend/shared/events"
	"gather-events-backend/shared/logx"
	"gather-events-backend/shared/metricsx"
	"gather-events-backend/shared/pushx"
)

// Directory is the engine's read/write slice of the store: recipient
// resolution, token bookkeeping and in-app rows.
type Directory interface {
	ListJoinedUserIDs(ctx context.Context, eventID int64) ([]int64, error)
	ListFollowerIDs(ctx context.Context, managerID int64) ([]int64, error)
	FilterEnabled(ctx context.Context, userIDs []int64, settingName string) ([]int64, error)
	TokensByUser(ctx context.Context, userID int64) ([]string, error)
	TokensByUsers(ctx context.Context, userIDs []int64) ([]string, error)
	DeleteTokens(ctx context.Context, tokens []string) (int, error)
	ListEmails(ctx context.Context, userIDs []int64) ([]string, error)
	InsertNotifications(ctx context.Context, userIDs []int64, template models.Notification) error
}

type Pusher interface {
	SendMulticast(ctx context.Context, tokens []string, note pushx.Note, data map[string]string) (pushx.MulticastResult, error)
	SendToTopic(ctx context.Context, topic string, note pushx.Note, data map[string]string) error
	SubscribeToTopic(ctx context.Context, topic string, tokens []string) ([]pushx.TokenResult, error)
	UnsubscribeFromTopic(ctx context.Context, topic string, tokens []string) ([]pushx.TokenResult, error)
}

type Mailer interface {
	SendTemplated(ctx context.Context, recipients []string, subject string, templateID int, variables map[string]string) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error
}

// DeliveryRecorder ships per-channel delivery counts to the analytics
// store; failures are counted, never propagated.
type DeliveryRecorder interface {
	WriteDelivery(ctx context.Context, channel string, jobType string, sent int, failed int, pruned int) error
}

type Engine struct {
	dir      Directory
	pusher   Pusher
	mailer   Mailer
	producer Producer
	recorder DeliveryRecorder
	log      logx.Logger

	batchSize      int
	textTemplateID int
	chatBridgeOn   bool
}

type EngineOptions struct {
	PushBatchSize  int
	TextTemplateID int
	ChatBridgeOn   bool
}

func NewEngine(dir Directory, pusher Pusher, mailer Mailer, producer Producer, recorder DeliveryRecorder, log logx.Logger, opts EngineOptions) *Engine {
	if opts.PushBatchSize <= 0 {
		opts.PushBatchSize = 1000
	}
	return &Engine{
		dir:            dir,
		pusher:         pusher,
		mailer:         mailer,
		producer:       producer,
		recorder:       recorder,
		log:            log,
		batchSize:      opts.PushBatchSize,
		textTemplateID: opts.TextTemplateID,
		chatBridgeOn:   opts.ChatBridgeOn,
	}
}

// Execute runs one claimed outbox job. A returned error means the job
// should be retried; nil means it is delivered.
func (e *Engine) Execute(ctx context.Context, job models.FanoutJob) error {
	switch job.JobType {
	case JobNotify:
		var fanout Fanout
		if err := json.Unmarshal(job.Payload, &fanout); err != nil {
			return fmt.Errorf("decode fanout payload: %w", err)
		}
		return e.executeFanout(ctx, job.JobType, fanout)
	case JobTopicSubscribe, JobTopicUnsubscribe:
		var m TopicMembership
		if err := json.Unmarshal(job.Payload, &m); err != nil {
			return fmt.Errorf("decode topic payload: %w", err)
		}
		return e.executeTopicMembership(ctx, job.JobType, m)
	case JobTopicDropMembers:
		var drop TopicDropMembers
		if err := json.Unmarshal(job.Payload, &drop); err != nil {
			return fmt.Errorf("decode drop payload: %w", err)
		}
		return e.executeTopicDrop(ctx, drop)
	case JobChatCreateByEvent, JobChatAddEventMember, JobChatKickEventMember:
		var ev ChatEvent
		if err := json.Unmarshal(job.Payload, &ev); err != nil {
			return fmt.Errorf("decode chat payload: %w", err)
		}
		return e.executeChat(ctx, job.JobType, ev)
	default:
		return fmt.Errorf("unknown job type %q", job.JobType)
	}
}

func (e *Engine) resolveRecipients(ctx context.Context, r Recipients) ([]int64, error) {
	switch {
	case r.UserID != 0:
		return []int64{r.UserID}, nil
	case len(r.UserIDs) > 0:
		return r.UserIDs, nil
	case r.EventID != 0:
		return e.dir.ListJoinedUserIDs(ctx, r.EventID)
	case r.ManagerID != 0:
		return e.dir.ListFollowerIDs(ctx, r.ManagerID)
	default:
		return nil, nil
	}
}

// executeFanout delivers each requested channel independently; one
// failing channel never blocks the others, and the job is retried only
// when at least one channel errored.
func (e *Engine) executeFanout(ctx context.Context, jobType string, fanout Fanout) error {
	recipients, err := e.resolveRecipients(ctx, fanout.Recipients)
	if err != nil {
		return fmt.Errorf("resolve recipients: %w", err)
	}

	filtered := recipients
	if fanout.SettingName != "" && len(recipients) > 0 {
		filtered, err = e.dir.FilterEnabled(ctx, recipients, fanout.SettingName)
		if err != nil {
			return fmt.Errorf("filter recipients: %w", err)
		}
	}

	var channelErrs []error
	if fanout.Push != nil {
		if err := e.deliverPush(ctx, jobType, *fanout.Push, filtered); err != nil {
			e.log.Error(ctx, "fanout.push_failed", "push channel failed", logx.Err(err))
			channelErrs = append(channelErrs, err)
		}
	}
	if fanout.Email != nil {
		if err := e.deliverEmail(ctx, jobType, *fanout.Email, recipients); err != nil {
			e.log.Error(ctx, "fanout.email_failed", "email channel failed", logx.Err(err))
			channelErrs = append(channelErrs, err)
		}
	}
	if fanout.InApp != nil {
		set := recipients
		if fanout.InApp.Filtered {
			set = filtered
		}
		if err := e.deliverInApp(ctx, *fanout.InApp, set); err != nil {
			e.log.Error(ctx, "fanout.inapp_failed", "in-app channel failed", logx.Err(err))
			channelErrs = append(channelErrs, err)
		}
	}
	return errors.Join(channelErrs...)
}

func (e *Engine) deliverPush(ctx context.Context, jobType string, part PushPart, userIDs []int64) error {
	note := pushx.Note{Title: part.Title, Body: part.Body}

	if part.Topic != "" {
		if err := e.pusher.SendToTopic(ctx, part.Topic, note, part.Data); err != nil {
			e.recordDelivery(ctx, "push", jobType, 0, 1, 0)
			return err
		}
		e.recordDelivery(ctx, "push", jobType, 1, 0, 0)
		return nil
	}

	if len(userIDs) == 0 {
		return nil
	}
	tokens, err := e.dir.TokensByUsers(ctx, userIDs)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return nil
	}

	var sent, failed int
	var invalid []string
	var sendErr error
	for start := 0; start < len(tokens); start += e.batchSize {
		end := start + e.batchSize
		if end > len(tokens) {
			end = len(tokens)
		}
		batch := tokens[start:end]
		res, err := e.pusher.SendMulticast(ctx, batch, note, part.Data)
		if err != nil {
			failed += len(batch)
			sendErr = err
			continue
		}
		sent += res.Sent
		failed += res.Failed
		for _, tr := range res.Results {
			if tr.Invalid {
				invalid = append(invalid, tr.Token)
			}
		}
	}

	pruned := e.pruneTokens(ctx, invalid)
	e.recordDelivery(ctx, "push", jobType, sent, failed, pruned)
	return sendErr
}

func (e *Engine) deliverEmail(ctx context.Context, jobType string, part EmailPart, recipients []int64) error {
	set := recipients
	if part.SettingName != "" && len(recipients) > 0 {
		var err error
		set, err = e.dir.FilterEnabled(ctx, recipients, part.SettingName)
		if err != nil {
			return err
		}
	}
	if len(set) == 0 {
		return nil
	}
	emails, err := e.dir.ListEmails(ctx, set)
	if err != nil {
		return err
	}
	if len(emails) == 0 {
		return nil
	}

	templateID := part.TemplateID
	if templateID == 0 {
		templateID = e.textTemplateID
	}
	if err := e.mailer.SendTemplated(ctx, emails, part.Subject, templateID, part.Variables); err != nil {
		e.recordDelivery(ctx, "email", jobType, 0, len(emails), 0)
		return err
	}
	e.recordDelivery(ctx, "email", jobType, len(emails), 0, 0)
	return nil
}

func (e *Engine) deliverInApp(ctx context.Context, part InAppPart, userIDs []int64) error {
	if len(userIDs) == 0 {
		return nil
	}
	return e.dir.InsertNotifications(ctx, userIDs, models.Notification{
		Type:         part.Type,
		Text:         part.Text,
		EventID:      part.EventID,
		TargetUserID: part.TargetUserID,
	})
}

// executeTopicMembership keeps topic membership in sync with the user's
// current token set. Provider errors are logged, not retried: the next
// membership change rebuilds the topic anyway.
func (e *Engine) executeTopicMembership(ctx context.Context, jobType string, m TopicMembership) error {
	tokens, err := e.dir.TokensByUser(ctx, m.UserID)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return nil
	}

	var results []pushx.TokenResult
	if jobType == JobTopicSubscribe {
		results, err = e.pusher.SubscribeToTopic(ctx, m.Topic, tokens)
	} else {
		results, err = e.pusher.UnsubscribeFromTopic(ctx, m.Topic, tokens)
	}
	if err != nil {
		e.log.Warn(ctx, "topic.membership_failed", "topic membership change failed",
			slog.String("topic", m.Topic), slog.Int64("user_id", m.UserID), logx.Err(err))
		return nil
	}

	var invalid []string
	for _, tr := range results {
		if tr.Invalid {
			invalid = append(invalid, tr.Token)
		}
	}
	e.pruneTokens(ctx, invalid)
	return nil
}

func (e *Engine) executeTopicDrop(ctx context.Context, drop TopicDropMembers) error {
	userIDs := drop.UserIDs
	if len(userIDs) == 0 {
		var err error
		userIDs, err = e.dir.ListJoinedUserIDs(ctx, drop.EventID)
		if err != nil {
			return err
		}
	}
	if len(userIDs) == 0 {
		return nil
	}
	tokens, err := e.dir.TokensByUsers(ctx, userIDs)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return nil
	}

	topic := EventTopic(drop.EventID)
	results, err := e.pusher.UnsubscribeFromTopic(ctx, topic, tokens)
	if err != nil {
		e.log.Warn(ctx, "topic.drop_failed", "topic teardown failed",
			slog.String("topic", topic), logx.Err(err))
		return nil
	}
	var invalid []string
	for _, tr := range results {
		if tr.Invalid {
			invalid = append(invalid, tr.Token)
		}
	}
	e.pruneTokens(ctx, invalid)
	return nil
}

// executeChat bridges membership changes to the chat service over Kafka.
func (e *Engine) executeChat(ctx context.Context, jobType string, ev ChatEvent) error {
	if !e.chatBridgeOn || e.producer == nil {
		e.log.Debug(ctx, "chat.bridge_off", "chat bridge disabled, dropping job",
			slog.String("job_type", jobType), slog.Int64("event_id", ev.EventID))
		return nil
	}

	var topic string
	var payload any
	switch jobType {
	case JobChatCreateByEvent:
		topic = contract.TopicChatCreateByEvent
		payload = contract.ChatCreateByEvent{EventID: ev.EventID, CreatorID: ev.UserID}
	case JobChatAddEventMember:
		topic = contract.TopicChatAddEventMember
		payload = contract.ChatEventMember{EventID: ev.EventID, UserID: ev.UserID}
	case JobChatKickEventMember:
		topic = contract.TopicChatKickEventMember
		payload = contract.ChatEventMember{EventID: ev.EventID, UserID: ev.UserID}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	envelope, err := json.Marshal(contract.Envelope{
		MessageID:   uuid.New(),
		OccurredAt:  time.Now().UTC(),
		MessageType: topic,
		Payload:     raw,
	})
	if err != nil {
		return err
	}
	key := []byte(fmt.Sprintf("%d", ev.EventID))
	return e.producer.Publish(ctx, topic, key, envelope, nil)
}

func (e *Engine) pruneTokens(ctx context.Context, invalid []string) int {
	if len(invalid) == 0 {
		return 0
	}
	pruned, err := e.dir.DeleteTokens(ctx, invalid)
	if err != nil {
		e.log.Warn(ctx, "push.prune_failed", "invalid token prune failed", logx.Err(err))
		return 0
	}
	metricsx.AddPushTokensPruned(pruned)
	return pruned
}

func (e *Engine) recordDelivery(ctx context.Context, channel string, jobType string, sent int, failed int, pruned int) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.WriteDelivery(ctx, channel, jobType, sent, failed, pruned); err != nil {
		metricsx.IncInfluxWriteFailure()
		e.log.Warn(ctx, "influx.write_failed", "delivery point write failed", logx.Err(err))
	}
}
