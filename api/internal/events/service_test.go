package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"gather-events-backend/api/internal/models"
	"gather-events-backend/api/internal/notify"
)

type memberKey struct {
	eventID int64
	userID  int64
}

// fakeStore is an in-memory Store and Tx; InTx runs the callback against
// the store itself, so there is no rollback on error.
type fakeStore struct {
	events    map[int64]models.Event
	members   map[memberKey]models.EventMember
	users     map[int64]*int
	friends   map[int64][]int64
	reviews   []models.EventReview
	jobs      []models.FanoutJob
	resolved  []string
	prompts   []string
	nextID    int64
	nextRevID int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		events:  map[int64]models.Event{},
		members: map[memberKey]models.EventMember{},
		users:   map[int64]*int{},
		friends: map[int64][]int64{},
		nextID:  100,
	}
}

func (f *fakeStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return fn(ctx, f)
}

func (f *fakeStore) GetEvent(ctx context.Context, eventID int64) (models.Event, bool, error) {
	ev, ok := f.events[eventID]
	return ev, ok, nil
}

func (f *fakeStore) GetEventForUpdate(ctx context.Context, eventID int64) (models.Event, bool, error) {
	return f.GetEvent(ctx, eventID)
}

func (f *fakeStore) InsertEvent(ctx context.Context, ev models.Event) (models.Event, error) {
	f.nextID++
	ev.ID = f.nextID
	f.events[ev.ID] = ev
	return ev, nil
}

func (f *fakeStore) UpdateEvent(ctx context.Context, ev models.Event) (models.Event, error) {
	f.events[ev.ID] = ev
	return ev, nil
}

func (f *fakeStore) DeleteEvent(ctx context.Context, eventID int64) error {
	delete(f.events, eventID)
	return nil
}

func (f *fakeStore) ReplaceEventDates(ctx context.Context, eventID int64, dates []models.EventDate) error {
	return nil
}

func (f *fakeStore) ReplaceEventSchedules(ctx context.Context, eventID int64, schedules []models.EventSchedule) error {
	return nil
}

func (f *fakeStore) ListEventDates(ctx context.Context, eventID int64) ([]models.EventDate, error) {
	return nil, nil
}

func (f *fakeStore) GetMember(ctx context.Context, eventID int64, userID int64) (models.EventMember, bool, error) {
	m, ok := f.members[memberKey{eventID, userID}]
	return m, ok, nil
}

func (f *fakeStore) InsertMember(ctx context.Context, m models.EventMember) error {
	f.members[memberKey{m.EventID, m.UserID}] = m
	return nil
}

func (f *fakeStore) SetMemberState(ctx context.Context, eventID int64, userID int64, state string) error {
	m := f.members[memberKey{eventID, userID}]
	m.State = state
	f.members[memberKey{eventID, userID}] = m
	return nil
}

func (f *fakeStore) SetMemberBlocked(ctx context.Context, eventID int64, userID int64, blocked bool) error {
	m := f.members[memberKey{eventID, userID}]
	m.IsBlocked = blocked
	f.members[memberKey{eventID, userID}] = m
	return nil
}

func (f *fakeStore) DeleteMember(ctx context.Context, eventID int64, userID int64) error {
	delete(f.members, memberKey{eventID, userID})
	return nil
}

func (f *fakeStore) DeleteMembersByEvent(ctx context.Context, eventID int64) error {
	for k := range f.members {
		if k.eventID == eventID {
			delete(f.members, k)
		}
	}
	return nil
}

func (f *fakeStore) DeleteNotificationsByEvent(ctx context.Context, eventID int64) error { return nil }

func (f *fakeStore) DeleteReviewsByEvent(ctx context.Context, eventID int64) error { return nil }

func (f *fakeStore) ListMembers(ctx context.Context, eventID int64, state string, withBlocked bool) ([]models.EventMember, error) {
	var out []models.EventMember
	for k, m := range f.members {
		if k.eventID != eventID {
			continue
		}
		if state != "" && m.State != state {
			continue
		}
		if !withBlocked && m.IsBlocked {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeStore) AreFriends(ctx context.Context, userID int64, otherID int64) (bool, error) {
	for _, id := range f.friends[userID] {
		if id == otherID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) FriendsOf(ctx context.Context, viewerID int64, candidates []int64) (map[int64]bool, error) {
	out := map[int64]bool{}
	for _, c := range candidates {
		ok, _ := f.AreFriends(ctx, viewerID, c)
		out[c] = ok
	}
	return out, nil
}

func (f *fakeStore) ListFriendIDs(ctx context.Context, userID int64) ([]int64, error) {
	return f.friends[userID], nil
}

func (f *fakeStore) UserExists(ctx context.Context, userID int64) (bool, error) {
	_, ok := f.users[userID]
	return ok, nil
}

func (f *fakeStore) UserAge(ctx context.Context, userID int64, now time.Time) (*int, error) {
	return f.users[userID], nil
}

func (f *fakeStore) InsertReview(ctx context.Context, rev models.EventReview) (models.EventReview, error) {
	f.nextRevID++
	rev.ID = f.nextRevID
	f.reviews = append(f.reviews, rev)
	return rev, nil
}

func (f *fakeStore) ReviewExists(ctx context.Context, eventID int64, userID int64) (bool, error) {
	for _, r := range f.reviews {
		if r.EventID == eventID && r.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) ListReviews(ctx context.Context, eventID int64, limit int, offset int) ([]models.EventReview, error) {
	return f.reviews, nil
}

func (f *fakeStore) ResolveNotification(ctx context.Context, userID int64, eventID int64, targetUserID int64, notifType string, actionText string) error {
	f.resolved = append(f.resolved, notifType+":"+actionText)
	return nil
}

func (f *fakeStore) ResolveReviewPrompt(ctx context.Context, userID int64, eventID int64, notifType string, actionText string) error {
	f.prompts = append(f.prompts, notifType)
	return nil
}

func (f *fakeStore) Enqueue(ctx context.Context, job models.FanoutJob) error {
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakeStore) jobTypes() []string {
	out := make([]string, 0, len(f.jobs))
	for _, j := range f.jobs {
		out = append(out, j.JobType)
	}
	return out
}

func (f *fakeStore) fanouts(t *testing.T) []notify.Fanout {
	t.Helper()
	var out []notify.Fanout
	for _, j := range f.jobs {
		if j.JobType != notify.JobNotify {
			continue
		}
		var fo notify.Fanout
		if err := json.Unmarshal(j.Payload, &fo); err != nil {
			t.Fatalf("bad fanout payload: %v", err)
		}
		out = append(out, fo)
	}
	return out
}

type gate []string

func (g gate) HasAny(caps ...string) bool {
	for _, c := range caps {
		for _, have := range g {
			if c == have {
				return true
			}
		}
	}
	return false
}

func principal(userID int64, caps ...string) Principal {
	return Principal{UserID: userID, Gate: gate(caps)}
}

func wantKind(t *testing.T, err error, kind Kind, code string) {
	t.Helper()
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected domain error %q, got %v", code, err)
	}
	if e.Kind != kind || e.Code != code {
		t.Fatalf("expected kind=%d code=%q, got kind=%d code=%q", kind, code, e.Kind, e.Code)
	}
}

func hasJob(types []string, want string) bool {
	for _, tp := range types {
		if tp == want {
			return true
		}
	}
	return false
}

func TestEnterOpenEvent(t *testing.T) {
	f := newFakeStore()
	f.events[1] = models.Event{ID: 1, CreatorID: 10, TypeID: models.EventTypeOpen, Name: "Hike", State: models.EventStateActual}
	f.users[20] = intp(30)
	svc := NewService(f)

	if err := svc.Enter(context.Background(), principal(20), 1); err != nil {
		t.Fatalf("enter: %v", err)
	}
	m, ok, _ := f.GetMember(context.Background(), 1, 20)
	if !ok || m.State != models.MemberStateJoined {
		t.Fatalf("expected joined member, got ok=%v state=%q", ok, m.State)
	}
	ev := f.events[1]
	if ev.MemberCount != 1 || ev.CumulativeAge != 30 || ev.AverageAge != 30 {
		t.Fatalf("aggregate: count=%d cum=%d avg=%d", ev.MemberCount, ev.CumulativeAge, ev.AverageAge)
	}
	types := f.jobTypes()
	if !hasJob(types, notify.JobChatAddEventMember) || !hasJob(types, notify.JobTopicSubscribe) {
		t.Fatalf("expected chat and topic jobs, got %v", types)
	}
}

func TestEnterFullEvent(t *testing.T) {
	f := newFakeStore()
	limit := 1
	f.events[1] = models.Event{ID: 1, CreatorID: 10, TypeID: models.EventTypeOpen, State: models.EventStateActual, MaxMembers: &limit, MemberCount: 1}
	f.users[20] = intp(25)
	svc := NewService(f)

	err := svc.Enter(context.Background(), principal(20), 1)
	wantKind(t, err, KindState, "event_full")
}

func TestEnterCancelledEvent(t *testing.T) {
	f := newFakeStore()
	f.events[1] = models.Event{ID: 1, CreatorID: 10, TypeID: models.EventTypeOpen, State: models.EventStateCancelled}
	f.users[20] = intp(25)
	svc := NewService(f)

	err := svc.Enter(context.Background(), principal(20), 1)
	wantKind(t, err, KindState, "event_cancelled")
}

func TestEnterClosedEventCreatesRequest(t *testing.T) {
	f := newFakeStore()
	f.events[1] = models.Event{ID: 1, CreatorID: 10, TypeID: models.EventTypeClosed, Name: "Dinner", State: models.EventStateActual}
	f.users[20] = intp(25)
	svc := NewService(f)

	if err := svc.Enter(context.Background(), principal(20), 1); err != nil {
		t.Fatalf("enter: %v", err)
	}
	m, ok, _ := f.GetMember(context.Background(), 1, 20)
	if !ok || m.State != models.MemberStatePending {
		t.Fatalf("expected pending request, got ok=%v state=%q", ok, m.State)
	}
	if f.events[1].MemberCount != 0 {
		t.Fatalf("pending request must not change the member count")
	}
	fanouts := f.fanouts(t)
	if len(fanouts) != 1 || fanouts[0].Recipients.UserID != 10 {
		t.Fatalf("expected close-request fanout to the creator, got %+v", fanouts)
	}
	if fanouts[0].InApp == nil || fanouts[0].InApp.Type != models.NotificationEventCloseRequest {
		t.Fatalf("expected close-request in-app row, got %+v", fanouts[0].InApp)
	}

	// A second enter while pending is rejected.
	err := svc.Enter(context.Background(), principal(20), 1)
	wantKind(t, err, KindState, "request_pending")
}

func TestEnterFriendsEventRequiresFriendship(t *testing.T) {
	f := newFakeStore()
	f.events[1] = models.Event{ID: 1, CreatorID: 10, TypeID: models.EventTypeFriends, State: models.EventStateActual}
	f.users[20] = intp(25)
	f.users[30] = intp(25)
	f.friends[10] = []int64{30}
	svc := NewService(f)

	err := svc.Enter(context.Background(), principal(20), 1)
	wantKind(t, err, KindState, "not_friend")

	if err := svc.Enter(context.Background(), principal(30), 1); err != nil {
		t.Fatalf("friend enter: %v", err)
	}
}

func TestAcceptJoinRequest(t *testing.T) {
	f := newFakeStore()
	f.events[1] = models.Event{ID: 1, CreatorID: 10, TypeID: models.EventTypeClosed, Name: "Dinner", State: models.EventStateActual}
	f.members[memberKey{1, 20}] = models.EventMember{EventID: 1, UserID: 20, State: models.MemberStatePending}
	f.users[20] = intp(40)
	svc := NewService(f)

	if err := svc.Accept(context.Background(), principal(10), 1, 20); err != nil {
		t.Fatalf("accept: %v", err)
	}
	m, _, _ := f.GetMember(context.Background(), 1, 20)
	if m.State != models.MemberStateJoined {
		t.Fatalf("expected joined after accept, got %q", m.State)
	}
	ev := f.events[1]
	if ev.MemberCount != 1 || ev.CumulativeAge != 40 {
		t.Fatalf("aggregate after accept: count=%d cum=%d", ev.MemberCount, ev.CumulativeAge)
	}
	if len(f.resolved) != 1 || f.resolved[0] != models.NotificationEventCloseRequest+":"+models.ActionAccepted {
		t.Fatalf("expected resolved close-request notification, got %v", f.resolved)
	}
	fanouts := f.fanouts(t)
	if len(fanouts) != 1 || fanouts[0].Recipients.UserID != 20 {
		t.Fatalf("expected acceptance fanout to the requester, got %+v", fanouts)
	}
}

func TestAcceptRequiresCreatorOrCapability(t *testing.T) {
	f := newFakeStore()
	f.events[1] = models.Event{ID: 1, CreatorID: 10, TypeID: models.EventTypeClosed, State: models.EventStateActual}
	f.members[memberKey{1, 20}] = models.EventMember{EventID: 1, UserID: 20, State: models.MemberStatePending}
	f.users[20] = intp(40)
	svc := NewService(f)

	err := svc.Accept(context.Background(), principal(99), 1, 20)
	wantKind(t, err, KindPermission, "accept_forbidden")

	if err := svc.Accept(context.Background(), principal(99, CapEventMembersRequest), 1, 20); err != nil {
		t.Fatalf("accept with capability: %v", err)
	}
}

func TestDeclineJoinRequest(t *testing.T) {
	f := newFakeStore()
	f.events[1] = models.Event{ID: 1, CreatorID: 10, TypeID: models.EventTypeClosed, Name: "Dinner", State: models.EventStateActual}
	f.members[memberKey{1, 20}] = models.EventMember{EventID: 1, UserID: 20, State: models.MemberStatePending}
	svc := NewService(f)

	if err := svc.Decline(context.Background(), principal(10), 1, 20); err != nil {
		t.Fatalf("decline: %v", err)
	}
	if _, ok, _ := f.GetMember(context.Background(), 1, 20); ok {
		t.Fatalf("declined request row must be removed")
	}
	if len(f.resolved) != 1 || f.resolved[0] != models.NotificationEventCloseRequest+":"+models.ActionDeclined {
		t.Fatalf("expected resolved notification with declined action, got %v", f.resolved)
	}
}

func TestLeave(t *testing.T) {
	f := newFakeStore()
	f.events[1] = models.Event{ID: 1, CreatorID: 10, TypeID: models.EventTypeOpen, State: models.EventStateActual, MemberCount: 1, CumulativeAge: 30, AverageAge: 30}
	f.members[memberKey{1, 20}] = models.EventMember{EventID: 1, UserID: 20, State: models.MemberStateJoined}
	f.users[20] = intp(30)
	svc := NewService(f)

	if err := svc.Leave(context.Background(), principal(20), 1); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if _, ok, _ := f.GetMember(context.Background(), 1, 20); ok {
		t.Fatalf("member row must be removed")
	}
	ev := f.events[1]
	if ev.MemberCount != 0 || ev.CumulativeAge != 0 || ev.AverageAge != 0 {
		t.Fatalf("aggregate after leave: count=%d cum=%d avg=%d", ev.MemberCount, ev.CumulativeAge, ev.AverageAge)
	}
	if !hasJob(f.jobTypes(), notify.JobTopicUnsubscribe) {
		t.Fatalf("expected topic unsubscribe job, got %v", f.jobTypes())
	}
}

func TestLeaveNotMember(t *testing.T) {
	f := newFakeStore()
	f.events[1] = models.Event{ID: 1, CreatorID: 10, TypeID: models.EventTypeOpen, State: models.EventStateActual}
	f.users[20] = intp(30)
	svc := NewService(f)

	err := svc.Leave(context.Background(), principal(20), 1)
	wantKind(t, err, KindNotFound, "not_member")
}

func TestLeaveBlockedMemberKeepsAggregate(t *testing.T) {
	f := newFakeStore()
	f.events[1] = models.Event{ID: 1, CreatorID: 10, TypeID: models.EventTypeOpen, State: models.EventStateActual, MemberCount: 2, CumulativeAge: 50, AverageAge: 25}
	f.members[memberKey{1, 20}] = models.EventMember{EventID: 1, UserID: 20, State: models.MemberStateJoined, IsBlocked: true}
	f.users[20] = intp(30)
	svc := NewService(f)

	if err := svc.Leave(context.Background(), principal(20), 1); err != nil {
		t.Fatalf("leave: %v", err)
	}
	// Blocking already removed this member from the aggregate.
	ev := f.events[1]
	if ev.MemberCount != 2 || ev.CumulativeAge != 50 {
		t.Fatalf("aggregate must not double-decrement: count=%d cum=%d", ev.MemberCount, ev.CumulativeAge)
	}
}

func TestCancel(t *testing.T) {
	f := newFakeStore()
	f.events[1] = models.Event{ID: 1, CreatorID: 10, TypeID: models.EventTypeOpen, Name: "Hike", State: models.EventStateActual}
	svc := NewService(f)

	if err := svc.Cancel(context.Background(), principal(10), 1); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if f.events[1].State != models.EventStateCancelled {
		t.Fatalf("expected cancelled state, got %q", f.events[1].State)
	}
	types := f.jobTypes()
	if !hasJob(types, notify.JobNotify) || !hasJob(types, notify.JobTopicDropMembers) {
		t.Fatalf("expected fanout and topic drop jobs, got %v", types)
	}

	err := svc.Cancel(context.Background(), principal(10), 1)
	wantKind(t, err, KindState, "already_cancelled")
}

func TestCancelRequiresCreatorOrCapability(t *testing.T) {
	f := newFakeStore()
	f.events[1] = models.Event{ID: 1, CreatorID: 10, TypeID: models.EventTypeOpen, State: models.EventStateActual}
	svc := NewService(f)

	err := svc.Cancel(context.Background(), principal(20), 1)
	wantKind(t, err, KindPermission, "cancel_forbidden")

	if err := svc.Cancel(context.Background(), principal(20, CapAdmin), 1); err != nil {
		t.Fatalf("cancel as admin: %v", err)
	}
}

func TestBlockJoinedMember(t *testing.T) {
	f := newFakeStore()
	f.events[1] = models.Event{ID: 1, CreatorID: 10, TypeID: models.EventTypeOpen, Name: "Hike", State: models.EventStateActual, MemberCount: 1, CumulativeAge: 30, AverageAge: 30}
	f.members[memberKey{1, 20}] = models.EventMember{EventID: 1, UserID: 20, State: models.MemberStateJoined}
	f.users[20] = intp(30)
	svc := NewService(f)

	if err := svc.Block(context.Background(), principal(10), 1, 20); err != nil {
		t.Fatalf("block: %v", err)
	}
	m, _, _ := f.GetMember(context.Background(), 1, 20)
	if !m.IsBlocked {
		t.Fatalf("expected blocked member")
	}
	ev := f.events[1]
	if ev.MemberCount != 0 || ev.CumulativeAge != 0 {
		t.Fatalf("aggregate after block: count=%d cum=%d", ev.MemberCount, ev.CumulativeAge)
	}

	err := svc.Block(context.Background(), principal(10), 1, 20)
	wantKind(t, err, KindState, "already_blocked")
}

func TestBlockPendingMemberKeepsAggregate(t *testing.T) {
	f := newFakeStore()
	f.events[1] = models.Event{ID: 1, CreatorID: 10, TypeID: models.EventTypeClosed, State: models.EventStateActual, MemberCount: 3, CumulativeAge: 90, AverageAge: 30}
	f.members[memberKey{1, 20}] = models.EventMember{EventID: 1, UserID: 20, State: models.MemberStatePending}
	f.users[20] = intp(30)
	svc := NewService(f)

	if err := svc.Block(context.Background(), principal(10), 1, 20); err != nil {
		t.Fatalf("block: %v", err)
	}
	ev := f.events[1]
	if ev.MemberCount != 3 || ev.CumulativeAge != 90 {
		t.Fatalf("pending row never contributed: count=%d cum=%d", ev.MemberCount, ev.CumulativeAge)
	}
}

func TestUnblock(t *testing.T) {
	f := newFakeStore()
	f.events[1] = models.Event{ID: 1, CreatorID: 10, TypeID: models.EventTypeOpen, State: models.EventStateActual}
	f.members[memberKey{1, 20}] = models.EventMember{EventID: 1, UserID: 20, State: models.MemberStateJoined, IsBlocked: true}
	f.users[20] = intp(30)
	svc := NewService(f)

	if err := svc.Unblock(context.Background(), principal(10), 1, 20); err != nil {
		t.Fatalf("unblock: %v", err)
	}
	m, _, _ := f.GetMember(context.Background(), 1, 20)
	if m.IsBlocked {
		t.Fatalf("expected unblocked member")
	}
	ev := f.events[1]
	if ev.MemberCount != 1 || ev.CumulativeAge != 30 {
		t.Fatalf("aggregate after unblock: count=%d cum=%d", ev.MemberCount, ev.CumulativeAge)
	}

	err := svc.Unblock(context.Background(), principal(10), 1, 20)
	wantKind(t, err, KindState, "not_blocked")
}

func TestChangeOwner(t *testing.T) {
	f := newFakeStore()
	f.events[1] = models.Event{ID: 1, CreatorID: 10, TypeID: models.EventTypeOpen, State: models.EventStateActual}
	f.users[30] = intp(40)
	svc := NewService(f)

	// Being the creator is not enough.
	err := svc.ChangeOwner(context.Background(), principal(10), 1, 30)
	wantKind(t, err, KindPermission, "change_owner_forbidden")

	if err := svc.ChangeOwner(context.Background(), principal(10, CapEventChangeOwner), 1, 30); err != nil {
		t.Fatalf("change owner: %v", err)
	}
	if f.events[1].CreatorID != 30 {
		t.Fatalf("expected new owner 30, got %d", f.events[1].CreatorID)
	}

	err = svc.ChangeOwner(context.Background(), principal(10, CapAdmin), 1, 30)
	wantKind(t, err, KindValidation, "same_owner")

	err = svc.ChangeOwner(context.Background(), principal(10, CapAdmin), 1, 777)
	wantKind(t, err, KindNotFound, "user_not_found")
}

func TestPublish(t *testing.T) {
	f := newFakeStore()
	reason := "typo in address"
	f.events[1] = models.Event{ID: 1, CreatorID: 10, TypeID: models.EventTypeAnnouncement, Name: "Expo", State: models.EventStateUnpublished, UnpublishReason: &reason}
	f.events[2] = models.Event{ID: 2, CreatorID: 10, TypeID: models.EventTypeOpen, State: models.EventStateUnpublished}
	svc := NewService(f)

	if err := svc.Publish(context.Background(), principal(10), 1); err != nil {
		t.Fatalf("publish: %v", err)
	}
	ev := f.events[1]
	if ev.State != models.EventStateActual || ev.UnpublishReason != nil {
		t.Fatalf("expected actual state and cleared reason, got %q %v", ev.State, ev.UnpublishReason)
	}
	fanouts := f.fanouts(t)
	if len(fanouts) != 1 || fanouts[0].Recipients.EventID != 1 {
		t.Fatalf("expected member-wide fanout, got %+v", fanouts)
	}
	if fanouts[0].Push == nil || fanouts[0].Push.Topic != notify.EventTopic(1) {
		t.Fatalf("expected topic push, got %+v", fanouts[0].Push)
	}

	err := svc.Publish(context.Background(), principal(10), 2)
	wantKind(t, err, KindState, "not_announcement")
}

func TestUnpublish(t *testing.T) {
	f := newFakeStore()
	f.events[1] = models.Event{ID: 1, CreatorID: 10, TypeID: models.EventTypeAnnouncement, Name: "Expo", State: models.EventStateActual}
	svc := NewService(f)

	if err := svc.Unpublish(context.Background(), principal(10), 1, "venue closed"); err != nil {
		t.Fatalf("unpublish: %v", err)
	}
	ev := f.events[1]
	if ev.State != models.EventStateUnpublished || ev.UnpublishReason == nil || *ev.UnpublishReason != "venue closed" {
		t.Fatalf("expected unpublished with reason, got %q %v", ev.State, ev.UnpublishReason)
	}

	err := svc.Unpublish(context.Background(), principal(10), 1, "again")
	wantKind(t, err, KindState, "not_actual")
}

func TestActionUnknown(t *testing.T) {
	svc := NewService(newFakeStore())
	err := svc.Action(context.Background(), principal(10), 1, "explode", 0, "")
	wantKind(t, err, KindValidation, "wrong_action")
}

func TestCreateValidation(t *testing.T) {
	svc := NewService(newFakeStore())
	now := time.Now()
	dates := []DateRange{{From: now, To: now.Add(time.Hour)}}

	_, err := svc.Create(context.Background(), principal(0), EventInput{TypeID: models.EventTypeOpen, Name: "X", Dates: dates})
	wantKind(t, err, KindPermission, "auth_required")

	_, err = svc.Create(context.Background(), principal(10), EventInput{TypeID: models.EventTypeOpen, Name: "  ", Dates: dates})
	wantKind(t, err, KindValidation, "name_required")

	_, err = svc.Create(context.Background(), principal(10), EventInput{TypeID: 9, Name: "X", Dates: dates})
	wantKind(t, err, KindValidation, "type_unknown")

	_, err = svc.Create(context.Background(), principal(10), EventInput{TypeID: models.EventTypeOpen, Name: "X"})
	wantKind(t, err, KindValidation, "dates_required")

	_, err = svc.Create(context.Background(), principal(10), EventInput{
		TypeID: models.EventTypeOpen,
		Name:   "X",
		Dates:  append(dates, DateRange{From: now.Add(2 * time.Hour), To: now.Add(3 * time.Hour)}),
	})
	wantKind(t, err, KindValidation, "dates_limit")

	zero := 0
	_, err = svc.Create(context.Background(), principal(10), EventInput{TypeID: models.EventTypeOpen, Name: "X", Dates: dates, MaxMembers: &zero})
	wantKind(t, err, KindValidation, "max_members")
}

func TestCreateFriendsEventNotifiesFriends(t *testing.T) {
	f := newFakeStore()
	f.users[10] = intp(30)
	f.friends[10] = []int64{20, 30}
	svc := NewService(f)

	now := time.Now()
	created, err := svc.Create(context.Background(), principal(10), EventInput{
		TypeID: models.EventTypeFriends,
		Name:   "BBQ",
		Dates:  []DateRange{{From: now, To: now.Add(2 * time.Hour)}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == 0 || created.State != models.EventStateActual || created.CreatorID != 10 {
		t.Fatalf("created event: %+v", created)
	}
	if !hasJob(f.jobTypes(), notify.JobChatCreateByEvent) {
		t.Fatalf("expected chat creation job, got %v", f.jobTypes())
	}
	fanouts := f.fanouts(t)
	if len(fanouts) != 1 {
		t.Fatalf("expected one friends fanout, got %d", len(fanouts))
	}
	fo := fanouts[0]
	if fo.SettingName != models.SettingPushRemindOnFriends {
		t.Fatalf("expected friends preference filter, got %q", fo.SettingName)
	}
	if len(fo.Recipients.UserIDs) != 2 {
		t.Fatalf("expected both friends as recipients, got %v", fo.Recipients.UserIDs)
	}
}

func TestCreateNullsAnnouncementFieldsForOtherTypes(t *testing.T) {
	f := newFakeStore()
	f.users[10] = intp(30)
	svc := NewService(f)

	now := time.Now()
	free := true
	site := "https://example.com"
	created, err := svc.Create(context.Background(), principal(10), EventInput{
		TypeID: models.EventTypeOpen,
		Name:   "Run",
		Dates:  []DateRange{{From: now, To: now.Add(time.Hour)}},
		IsFree: &free,
		Site:   &site,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.IsFree != nil || created.Site != nil {
		t.Fatalf("announcement-only fields must be nulled, got %+v", created)
	}
}

func TestEditKeepsTypeAndState(t *testing.T) {
	f := newFakeStore()
	now := time.Now()
	f.events[1] = models.Event{ID: 1, CreatorID: 10, TypeID: models.EventTypeOpen, Name: "Run", State: models.EventStateActual}
	f.events[2] = models.Event{ID: 2, CreatorID: 10, TypeID: models.EventTypeOpen, Name: "Done", State: models.EventStateFinished}
	svc := NewService(f)
	dates := []DateRange{{From: now, To: now.Add(time.Hour)}}

	_, err := svc.Edit(context.Background(), principal(10), 1, EventInput{TypeID: models.EventTypeClosed, Name: "Run", Dates: dates})
	wantKind(t, err, KindValidation, "type_immutable")

	_, err = svc.Edit(context.Background(), principal(10), 2, EventInput{TypeID: models.EventTypeOpen, Name: "Done", Dates: dates})
	wantKind(t, err, KindState, "not_actual")

	_, err = svc.Edit(context.Background(), principal(99), 1, EventInput{TypeID: models.EventTypeOpen, Name: "Run", Dates: dates})
	wantKind(t, err, KindPermission, "edit_forbidden")

	updated, err := svc.Edit(context.Background(), principal(10), 1, EventInput{TypeID: models.EventTypeOpen, Name: "Morning run", Dates: dates})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if updated.Name != "Morning run" {
		t.Fatalf("expected renamed event, got %q", updated.Name)
	}
}

func TestDeleteSnapshotsMembersForTopicCleanup(t *testing.T) {
	f := newFakeStore()
	f.events[1] = models.Event{ID: 1, CreatorID: 10, TypeID: models.EventTypeOpen, State: models.EventStateActual, MemberCount: 2}
	f.members[memberKey{1, 20}] = models.EventMember{EventID: 1, UserID: 20, State: models.MemberStateJoined}
	f.members[memberKey{1, 30}] = models.EventMember{EventID: 1, UserID: 30, State: models.MemberStateJoined}
	svc := NewService(f)

	if err := svc.Delete(context.Background(), principal(10), 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := f.events[1]; ok {
		t.Fatalf("event must be removed")
	}
	var drop notify.TopicDropMembers
	found := false
	for _, j := range f.jobs {
		if j.JobType == notify.JobTopicDropMembers {
			if err := json.Unmarshal(j.Payload, &drop); err != nil {
				t.Fatalf("bad drop payload: %v", err)
			}
			found = true
		}
	}
	if !found {
		t.Fatalf("expected topic drop job, got %v", f.jobTypes())
	}
	if len(drop.UserIDs) != 2 {
		t.Fatalf("drop job must carry the member snapshot, got %v", drop.UserIDs)
	}
}

func TestAddReview(t *testing.T) {
	f := newFakeStore()
	f.events[1] = models.Event{ID: 1, CreatorID: 10, TypeID: models.EventTypeOpen, State: models.EventStateFinished, Rate: 4, RateCount: 1}
	f.members[memberKey{1, 20}] = models.EventMember{EventID: 1, UserID: 20, State: models.MemberStateJoined}
	svc := NewService(f)

	_, err := svc.AddReview(context.Background(), principal(20), 1, ReviewInput{Rate: 0})
	wantKind(t, err, KindValidation, "rate_range")

	rev, err := svc.AddReview(context.Background(), principal(20), 1, ReviewInput{Rate: 2})
	if err != nil {
		t.Fatalf("add review: %v", err)
	}
	if rev.Rate != 2 || rev.Text != nil {
		t.Fatalf("review: %+v", rev)
	}
	ev := f.events[1]
	if ev.Rate != 3 || ev.RateCount != 2 {
		t.Fatalf("expected running average 3 over 2 reviews, got %v over %d", ev.Rate, ev.RateCount)
	}
	if len(f.prompts) != 1 || f.prompts[0] != models.NotificationEventReview {
		t.Fatalf("expected resolved review prompt, got %v", f.prompts)
	}

	_, err = svc.AddReview(context.Background(), principal(20), 1, ReviewInput{Rate: 5})
	wantKind(t, err, KindState, "review_exists")
}

func TestAddReviewGuards(t *testing.T) {
	f := newFakeStore()
	f.events[1] = models.Event{ID: 1, CreatorID: 10, TypeID: models.EventTypeOpen, State: models.EventStateActual}
	f.events[2] = models.Event{ID: 2, CreatorID: 10, TypeID: models.EventTypeOpen, State: models.EventStateFinished}
	svc := NewService(f)

	_, err := svc.AddReview(context.Background(), principal(20), 1, ReviewInput{Rate: 4})
	wantKind(t, err, KindState, "not_finished")

	_, err = svc.AddReview(context.Background(), principal(20), 2, ReviewInput{Rate: 4})
	wantKind(t, err, KindPermission, "review_forbidden")

	if _, err := svc.AddReview(context.Background(), principal(20, CapEventReviewsAdd), 2, ReviewInput{Rate: 4}); err != nil {
		t.Fatalf("review with capability: %v", err)
	}
}

func TestAddReviewTextOnlyForAnnouncements(t *testing.T) {
	f := newFakeStore()
	f.events[1] = models.Event{ID: 1, CreatorID: 10, TypeID: models.EventTypeAnnouncement, State: models.EventStateFinished}
	f.events[2] = models.Event{ID: 2, CreatorID: 10, TypeID: models.EventTypeOpen, State: models.EventStateFinished}
	f.members[memberKey{1, 20}] = models.EventMember{EventID: 1, UserID: 20, State: models.MemberStateJoined}
	f.members[memberKey{2, 20}] = models.EventMember{EventID: 2, UserID: 20, State: models.MemberStateJoined}
	svc := NewService(f)

	text := "  great venue  "
	rev, err := svc.AddReview(context.Background(), principal(20), 1, ReviewInput{Rate: 5, Text: &text})
	if err != nil {
		t.Fatalf("add review: %v", err)
	}
	if rev.Text == nil || *rev.Text != "great venue" {
		t.Fatalf("expected trimmed text, got %v", rev.Text)
	}
	if len(f.prompts) != 1 || f.prompts[0] != models.NotificationEventReviewWithText {
		t.Fatalf("expected text-review prompt type, got %v", f.prompts)
	}

	rev, err = svc.AddReview(context.Background(), principal(20), 2, ReviewInput{Rate: 5, Text: &text})
	if err != nil {
		t.Fatalf("add review: %v", err)
	}
	if rev.Text != nil {
		t.Fatalf("text must be dropped for non-announcement events, got %v", rev.Text)
	}
}

func TestGetParticipation(t *testing.T) {
	f := newFakeStore()
	f.events[1] = models.Event{ID: 1, CreatorID: 10, TypeID: models.EventTypeOpen, State: models.EventStateActual}
	f.members[memberKey{1, 20}] = models.EventMember{EventID: 1, UserID: 20, State: models.MemberStateJoined}
	f.members[memberKey{1, 30}] = models.EventMember{EventID: 1, UserID: 30, State: models.MemberStatePending}
	f.members[memberKey{1, 40}] = models.EventMember{EventID: 1, UserID: 40, State: models.MemberStateJoined, IsBlocked: true}
	svc := NewService(f)

	cases := []struct {
		userID int64
		want   string
	}{
		{0, ParticipationUnavailable},
		{10, ParticipationUnavailable},
		{20, ParticipationJoined},
		{30, ParticipationPending},
		{40, ParticipationBlocked},
		{99, ParticipationAvailable},
	}
	for _, tc := range cases {
		view, err := svc.Get(context.Background(), principal(tc.userID), 1)
		if err != nil {
			t.Fatalf("get as %d: %v", tc.userID, err)
		}
		if view.Participation != tc.want {
			t.Fatalf("participation for %d: got %q, want %q", tc.userID, view.Participation, tc.want)
		}
	}
}

func TestListMembersClosedEventHidden(t *testing.T) {
	f := newFakeStore()
	f.events[1] = models.Event{ID: 1, CreatorID: 10, TypeID: models.EventTypeClosed, State: models.EventStateActual}
	f.members[memberKey{1, 20}] = models.EventMember{EventID: 1, UserID: 20, State: models.MemberStateJoined}
	svc := NewService(f)

	_, err := svc.ListMembers(context.Background(), principal(99), 1, "", false)
	wantKind(t, err, KindPermission, "members_hidden")

	rows, err := svc.ListMembers(context.Background(), principal(20), 1, "", false)
	if err != nil {
		t.Fatalf("list as member: %v", err)
	}
	if len(rows) != 2 || rows[0].Role != "creator" {
		t.Fatalf("expected creator-first listing, got %+v", rows)
	}
}
