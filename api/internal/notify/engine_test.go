package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"gather-events-backend/api/internal/models"
	contract "gather-events-backend/shared/events"
	"gather-events-backend/shared/logx"
	"gather-events-backend/shared/pushx"
)

type inAppInsert struct {
	userIDs  []int64
	template models.Notification
}

type fakeDir struct {
	joined    map[int64][]int64
	followers map[int64][]int64
	enabled   map[string][]int64
	tokens    map[int64][]string
	emails    map[int64]string
	deleted   [][]string
	inserts   []inAppInsert
}

func newFakeDir() *fakeDir {
	return &fakeDir{
		joined:    map[int64][]int64{},
		followers: map[int64][]int64{},
		enabled:   map[string][]int64{},
		tokens:    map[int64][]string{},
		emails:    map[int64]string{},
	}
}

func (d *fakeDir) ListJoinedUserIDs(ctx context.Context, eventID int64) ([]int64, error) {
	return d.joined[eventID], nil
}

func (d *fakeDir) ListFollowerIDs(ctx context.Context, managerID int64) ([]int64, error) {
	return d.followers[managerID], nil
}

func (d *fakeDir) FilterEnabled(ctx context.Context, userIDs []int64, settingName string) ([]int64, error) {
	allowed := map[int64]bool{}
	for _, id := range d.enabled[settingName] {
		allowed[id] = true
	}
	var out []int64
	for _, id := range userIDs {
		if allowed[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func (d *fakeDir) TokensByUser(ctx context.Context, userID int64) ([]string, error) {
	return d.tokens[userID], nil
}

func (d *fakeDir) TokensByUsers(ctx context.Context, userIDs []int64) ([]string, error) {
	var out []string
	for _, id := range userIDs {
		out = append(out, d.tokens[id]...)
	}
	return out, nil
}

func (d *fakeDir) DeleteTokens(ctx context.Context, tokens []string) (int, error) {
	d.deleted = append(d.deleted, tokens)
	return len(tokens), nil
}

func (d *fakeDir) ListEmails(ctx context.Context, userIDs []int64) ([]string, error) {
	var out []string
	for _, id := range userIDs {
		if e, ok := d.emails[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (d *fakeDir) InsertNotifications(ctx context.Context, userIDs []int64, template models.Notification) error {
	d.inserts = append(d.inserts, inAppInsert{userIDs: userIDs, template: template})
	return nil
}

type fakePusher struct {
	batches    [][]string
	topicSends []string
	subscribes []string
	invalid    map[string]bool
	sendErr    error
	topicErr   error
}

func (p *fakePusher) SendMulticast(ctx context.Context, tokens []string, note pushx.Note, data map[string]string) (pushx.MulticastResult, error) {
	p.batches = append(p.batches, tokens)
	if p.sendErr != nil {
		return pushx.MulticastResult{}, p.sendErr
	}
	res := pushx.MulticastResult{}
	for _, tok := range tokens {
		if p.invalid[tok] {
			res.Failed++
			res.Results = append(res.Results, pushx.TokenResult{Token: tok, Invalid: true})
			continue
		}
		res.Sent++
		res.Results = append(res.Results, pushx.TokenResult{Token: tok, OK: true})
	}
	return res, nil
}

func (p *fakePusher) SendToTopic(ctx context.Context, topic string, note pushx.Note, data map[string]string) error {
	p.topicSends = append(p.topicSends, topic)
	return p.topicErr
}

func (p *fakePusher) SubscribeToTopic(ctx context.Context, topic string, tokens []string) ([]pushx.TokenResult, error) {
	p.subscribes = append(p.subscribes, topic)
	if p.topicErr != nil {
		return nil, p.topicErr
	}
	var out []pushx.TokenResult
	for _, tok := range tokens {
		out = append(out, pushx.TokenResult{Token: tok, OK: !p.invalid[tok], Invalid: p.invalid[tok]})
	}
	return out, nil
}

func (p *fakePusher) UnsubscribeFromTopic(ctx context.Context, topic string, tokens []string) ([]pushx.TokenResult, error) {
	return p.SubscribeToTopic(ctx, topic, tokens)
}

type fakeMailer struct {
	recipients []string
	subject    string
	templateID int
	err        error
}

func (m *fakeMailer) SendTemplated(ctx context.Context, recipients []string, subject string, templateID int, variables map[string]string) error {
	m.recipients = recipients
	m.subject = subject
	m.templateID = templateID
	return m.err
}

type published struct {
	topic string
	key   string
	value []byte
}

type fakeProducer struct {
	messages []published
}

func (p *fakeProducer) Publish(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error {
	p.messages = append(p.messages, published{topic: topic, key: string(key), value: value})
	return nil
}

func testLogger() logx.Logger { return logx.New("engine-test", "test", "", "error") }

func mkJob(t *testing.T, jobType string, payload any) models.FanoutJob {
	t.Helper()
	job, err := NewJob(jobType, payload)
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	return job
}

func TestPushBatching(t *testing.T) {
	dir := newFakeDir()
	var tokens []string
	for i := 0; i < 2500; i++ {
		tokens = append(tokens, fmt.Sprintf("tok-%d", i))
	}
	dir.tokens[1] = tokens
	pusher := &fakePusher{invalid: map[string]bool{"tok-7": true, "tok-1900": true}}

	engine := NewEngine(dir, pusher, &fakeMailer{}, nil, nil, testLogger(), EngineOptions{PushBatchSize: 1000})
	job := mkJob(t, JobNotify, Fanout{
		Recipients: Recipients{UserID: 1},
		Push:       &PushPart{Body: "hello"},
	})

	if err := engine.Execute(context.Background(), job); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(pusher.batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(pusher.batches))
	}
	if len(pusher.batches[0]) != 1000 || len(pusher.batches[1]) != 1000 || len(pusher.batches[2]) != 500 {
		t.Fatalf("batch sizes: %d %d %d", len(pusher.batches[0]), len(pusher.batches[1]), len(pusher.batches[2]))
	}
	if len(dir.deleted) != 1 || len(dir.deleted[0]) != 2 {
		t.Fatalf("expected both invalid tokens pruned, got %v", dir.deleted)
	}
}

func TestPushTopicSend(t *testing.T) {
	dir := newFakeDir()
	pusher := &fakePusher{}
	engine := NewEngine(dir, pusher, &fakeMailer{}, nil, nil, testLogger(), EngineOptions{})

	job := mkJob(t, JobNotify, Fanout{
		Recipients: Recipients{EventID: 5},
		Push:       &PushPart{Body: "cancelled", Topic: EventTopic(5)},
	})
	if err := engine.Execute(context.Background(), job); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(pusher.topicSends) != 1 || pusher.topicSends[0] != "event_5" {
		t.Fatalf("expected one topic send to event_5, got %v", pusher.topicSends)
	}
	if len(pusher.batches) != 0 {
		t.Fatalf("topic send must not multicast, got %d batches", len(pusher.batches))
	}
}

func TestFanoutSettingFilters(t *testing.T) {
	dir := newFakeDir()
	dir.joined[7] = []int64{1, 2, 3}
	dir.enabled["pushRemindOnFinish"] = []int64{1, 2}
	dir.enabled["emailRemindOnFinish"] = []int64{3}
	dir.tokens[1] = []string{"t1"}
	dir.tokens[2] = []string{"t2"}
	dir.tokens[3] = []string{"t3"}
	for id, addr := range map[int64]string{1: "a@x", 2: "b@x", 3: "c@x"} {
		dir.emails[id] = addr
	}
	pusher := &fakePusher{}
	mailer := &fakeMailer{}
	engine := NewEngine(dir, pusher, mailer, nil, nil, testLogger(), EngineOptions{TextTemplateID: 9})

	job := mkJob(t, JobNotify, Fanout{
		Recipients:  Recipients{EventID: 7},
		SettingName: "pushRemindOnFinish",
		Push:        &PushPart{Body: "finished"},
		Email:       &EmailPart{Subject: "finished", SettingName: "emailRemindOnFinish"},
		InApp:       &InAppPart{Type: models.NotificationEventReview},
	})
	if err := engine.Execute(context.Background(), job); err != nil {
		t.Fatalf("execute: %v", err)
	}

	// Push goes to the users with the push flag only.
	if len(pusher.batches) != 1 || len(pusher.batches[0]) != 2 {
		t.Fatalf("expected push tokens of users 1 and 2, got %v", pusher.batches)
	}
	// Email uses its own flag, independent of the push filter.
	if len(mailer.recipients) != 1 || mailer.recipients[0] != "c@x" {
		t.Fatalf("expected email to c@x only, got %v", mailer.recipients)
	}
	if mailer.templateID != 9 {
		t.Fatalf("expected fallback template 9, got %d", mailer.templateID)
	}
	// Unfiltered in-app rows for every member.
	if len(dir.inserts) != 1 || len(dir.inserts[0].userIDs) != 3 {
		t.Fatalf("expected in-app rows for all members, got %v", dir.inserts)
	}
}

func TestFanoutInAppFiltered(t *testing.T) {
	dir := newFakeDir()
	dir.joined[7] = []int64{1, 2, 3}
	dir.enabled["pushRemindOneDay"] = []int64{2}
	engine := NewEngine(dir, &fakePusher{}, &fakeMailer{}, nil, nil, testLogger(), EngineOptions{})

	job := mkJob(t, JobNotify, Fanout{
		Recipients:  Recipients{EventID: 7},
		SettingName: "pushRemindOneDay",
		InApp:       &InAppPart{Type: models.NotificationEventText, Filtered: true},
	})
	if err := engine.Execute(context.Background(), job); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(dir.inserts) != 1 || len(dir.inserts[0].userIDs) != 1 || dir.inserts[0].userIDs[0] != 2 {
		t.Fatalf("expected in-app row for user 2 only, got %v", dir.inserts)
	}
}

func TestFanoutChannelIsolation(t *testing.T) {
	dir := newFakeDir()
	dir.tokens[1] = []string{"t1"}
	dir.emails[1] = "a@x"
	pusher := &fakePusher{}
	mailer := &fakeMailer{err: errors.New("smtp down")}
	engine := NewEngine(dir, pusher, mailer, nil, nil, testLogger(), EngineOptions{})

	text := "hi"
	job := mkJob(t, JobNotify, Fanout{
		Recipients: Recipients{UserID: 1},
		Push:       &PushPart{Body: text},
		Email:      &EmailPart{Subject: "hi"},
		InApp:      &InAppPart{Type: models.NotificationEventText, Text: &text},
	})
	err := engine.Execute(context.Background(), job)
	if err == nil {
		t.Fatalf("expected error from the email channel")
	}
	if len(pusher.batches) != 1 {
		t.Fatalf("push must run despite the email failure, got %d batches", len(pusher.batches))
	}
	if len(dir.inserts) != 1 {
		t.Fatalf("in-app must run despite the email failure, got %d inserts", len(dir.inserts))
	}
}

func TestTopicMembershipProviderErrorNotRetried(t *testing.T) {
	dir := newFakeDir()
	dir.tokens[1] = []string{"t1"}
	pusher := &fakePusher{topicErr: errors.New("provider down")}
	engine := NewEngine(dir, pusher, &fakeMailer{}, nil, nil, testLogger(), EngineOptions{})

	job := mkJob(t, JobTopicSubscribe, TopicMembership{UserID: 1, Topic: EventTopic(3)})
	if err := engine.Execute(context.Background(), job); err != nil {
		t.Fatalf("provider errors must not retry the job, got %v", err)
	}
	if len(pusher.subscribes) != 1 || pusher.subscribes[0] != "event_3" {
		t.Fatalf("expected one subscribe attempt, got %v", pusher.subscribes)
	}
}

func TestTopicMembershipPrunesInvalidTokens(t *testing.T) {
	dir := newFakeDir()
	dir.tokens[1] = []string{"good", "stale"}
	pusher := &fakePusher{invalid: map[string]bool{"stale": true}}
	engine := NewEngine(dir, pusher, &fakeMailer{}, nil, nil, testLogger(), EngineOptions{})

	job := mkJob(t, JobTopicUnsubscribe, TopicMembership{UserID: 1, Topic: EventTopic(3)})
	if err := engine.Execute(context.Background(), job); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(dir.deleted) != 1 || dir.deleted[0][0] != "stale" {
		t.Fatalf("expected stale token pruned, got %v", dir.deleted)
	}
}

func TestTopicDropUsesSnapshot(t *testing.T) {
	dir := newFakeDir()
	// No joined rows remain: the event was already deleted.
	dir.tokens[20] = []string{"t20"}
	dir.tokens[30] = []string{"t30"}
	pusher := &fakePusher{}
	engine := NewEngine(dir, pusher, &fakeMailer{}, nil, nil, testLogger(), EngineOptions{})

	job := mkJob(t, JobTopicDropMembers, TopicDropMembers{EventID: 8, UserIDs: []int64{20, 30}})
	if err := engine.Execute(context.Background(), job); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(pusher.subscribes) != 1 || pusher.subscribes[0] != "event_8" {
		t.Fatalf("expected teardown of event_8, got %v", pusher.subscribes)
	}
}

func TestChatBridgeOffDropsJob(t *testing.T) {
	producer := &fakeProducer{}
	engine := NewEngine(newFakeDir(), &fakePusher{}, &fakeMailer{}, producer, nil, testLogger(), EngineOptions{ChatBridgeOn: false})

	job := mkJob(t, JobChatAddEventMember, ChatEvent{EventID: 1, UserID: 2})
	if err := engine.Execute(context.Background(), job); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(producer.messages) != 0 {
		t.Fatalf("bridge off must not publish, got %d messages", len(producer.messages))
	}
}

func TestChatBridgePublishesEnvelope(t *testing.T) {
	producer := &fakeProducer{}
	engine := NewEngine(newFakeDir(), &fakePusher{}, &fakeMailer{}, producer, nil, testLogger(), EngineOptions{ChatBridgeOn: true})

	job := mkJob(t, JobChatCreateByEvent, ChatEvent{EventID: 42, UserID: 10})
	if err := engine.Execute(context.Background(), job); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(producer.messages) != 1 {
		t.Fatalf("expected one published message, got %d", len(producer.messages))
	}
	msg := producer.messages[0]
	if msg.topic != contract.TopicChatCreateByEvent || msg.key != "42" {
		t.Fatalf("published to %q key %q", msg.topic, msg.key)
	}
	var env contract.Envelope
	if err := json.Unmarshal(msg.value, &env); err != nil {
		t.Fatalf("bad envelope: %v", err)
	}
	if env.MessageType != contract.TopicChatCreateByEvent || env.OccurredAt.IsZero() {
		t.Fatalf("envelope: %+v", env)
	}
	var payload contract.ChatCreateByEvent
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if payload.EventID != 42 || payload.CreatorID != 10 {
		t.Fatalf("payload: %+v", payload)
	}
}

func TestExecuteUnknownJobType(t *testing.T) {
	engine := NewEngine(newFakeDir(), &fakePusher{}, &fakeMailer{}, nil, nil, testLogger(), EngineOptions{})
	err := engine.Execute(context.Background(), models.FanoutJob{JobType: "no.such.job"})
	if err == nil {
		t.Fatalf("expected error for unknown job type")
	}
}
