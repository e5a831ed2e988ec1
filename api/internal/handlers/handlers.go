// Package handlers exposes the HTTP surface of the api service.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gather-events-backend/api/internal/events"
	"gather-events-backend/api/internal/models"
	"gather-events-backend/api/internal/notify"
	"gather-events-backend/api/internal/repos"
	"gather-events-backend/shared/authx"
	"gather-events-backend/shared/cachex"
	"gather-events-backend/shared/httpx"
	"gather-events-backend/shared/logx"
)

type Handlers struct {
	Service       *events.Service
	Notifications *repos.NotificationsRepo
	PushTokens    *repos.PushTokensRepo
	Settings      *repos.SettingsRepo
	Subscriptions *repos.SubscriptionsRepo
	Members       *repos.MembersRepo
	Outbox        *repos.FanoutOutboxRepo
	Cache         *cachex.Client
	CacheTTL      time.Duration
	Logger        logx.Logger
}

func eventCacheKey(eventID int64) string {
	return fmt.Sprintf("event:%d", eventID)
}

// invalidateEvent drops the cached anonymous view after any mutation.
func (h *Handlers) invalidateEvent(r *http.Request, eventID int64) {
	if h.Cache == nil {
		return
	}
	if err := h.Cache.Delete(r.Context(), eventCacheKey(eventID)); err != nil {
		h.Logger.Warn(r.Context(), "event_cache_invalidate_failed", "cache invalidation failed",
			slog.Int64("event_id", eventID), logx.Err(err))
	}
}

func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/events", h.createEvent)
	mux.HandleFunc("GET /api/v1/events/{id}", h.getEvent)
	mux.HandleFunc("PUT /api/v1/events/{id}", h.editEvent)
	mux.HandleFunc("DELETE /api/v1/events/{id}", h.deleteEvent)
	mux.HandleFunc("POST /api/v1/events/{id}/actions", h.eventAction)
	mux.HandleFunc("GET /api/v1/events/{id}/members", h.listMembers)
	mux.HandleFunc("POST /api/v1/events/{id}/reviews", h.addReview)
	mux.HandleFunc("GET /api/v1/events/{id}/reviews", h.listReviews)
	mux.HandleFunc("GET /api/v1/notifications", h.listNotifications)
	mux.HandleFunc("POST /api/v1/notifications/{id}/read", h.markNotificationRead)
	mux.HandleFunc("POST /api/v1/push-tokens", h.addPushToken)
	mux.HandleFunc("DELETE /api/v1/push-tokens", h.removePushToken)
	mux.HandleFunc("GET /api/v1/settings/{name}", h.getSetting)
	mux.HandleFunc("PUT /api/v1/settings/{name}", h.setSetting)
	mux.HandleFunc("POST /api/v1/managers/{id}/subscription", h.subscribe)
	mux.HandleFunc("DELETE /api/v1/managers/{id}/subscription", h.unsubscribe)
}

func principal(r *http.Request) events.Principal {
	auth, ok := authx.FromContext(r.Context())
	if !ok {
		return events.Principal{}
	}
	return events.Principal{UserID: auth.UserID, Gate: auth}
}

// writeDomainError maps the service error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var domainErr *events.Error
	if !errors.As(err, &domainErr) {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}
	switch domainErr.Kind {
	case events.KindValidation:
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", domainErr.Message, map[string]any{"reason": domainErr.Code})
	case events.KindNotFound:
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", domainErr.Message, map[string]any{"reason": domainErr.Code})
	case events.KindState:
		httpx.WriteError(w, r, http.StatusConflict, "FAILED_PRECONDITION", domainErr.Message, map[string]any{"reason": domainErr.Code})
	case events.KindPermission:
		httpx.WriteError(w, r, http.StatusForbidden, "PERMISSION_DENIED", domainErr.Message, map[string]any{"reason": domainErr.Code})
	case events.KindExternal:
		httpx.WriteError(w, r, http.StatusBadGateway, "UNAVAILABLE", domainErr.Message, map[string]any{"reason": domainErr.Code})
	default:
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", domainErr.Message, nil)
	}
}

func pathID(r *http.Request, name string) (int64, bool) {
	raw := strings.TrimSpace(r.PathValue(name))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid JSON body", nil)
		return false
	}
	return true
}

func (h *Handlers) createEvent(w http.ResponseWriter, r *http.Request) {
	var in events.EventInput
	if !decodeJSON(w, r, &in) {
		return
	}
	ev, err := h.Service.Create(r.Context(), principal(r), in)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, ev)
}

func (h *Handlers) getEvent(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathID(r, "id")
	if !ok {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid event id", nil)
		return
	}
	p := principal(r)

	// The anonymous view is identical for every caller, so it is the only
	// one worth caching.
	cacheable := p.UserID == 0 && h.Cache != nil
	if cacheable {
		var cached events.EventView
		if hit, err := h.Cache.GetJSON(r.Context(), eventCacheKey(eventID), &cached); err == nil && hit {
			httpx.WriteJSON(w, http.StatusOK, cached)
			return
		}
	}

	view, err := h.Service.Get(r.Context(), p, eventID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if cacheable {
		if err := h.Cache.SetJSON(r.Context(), eventCacheKey(eventID), view, h.CacheTTL); err != nil {
			h.Logger.Warn(r.Context(), "event_cache_set_failed", "cache write failed",
				slog.Int64("event_id", eventID), logx.Err(err))
		}
	}
	httpx.WriteJSON(w, http.StatusOK, view)
}

func (h *Handlers) editEvent(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathID(r, "id")
	if !ok {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid event id", nil)
		return
	}
	var in events.EventInput
	if !decodeJSON(w, r, &in) {
		return
	}
	ev, err := h.Service.Edit(r.Context(), principal(r), eventID, in)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	h.invalidateEvent(r, eventID)
	httpx.WriteJSON(w, http.StatusOK, ev)
}

func (h *Handlers) deleteEvent(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathID(r, "id")
	if !ok {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid event id", nil)
		return
	}
	if err := h.Service.Delete(r.Context(), principal(r), eventID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	h.invalidateEvent(r, eventID)
	w.WriteHeader(http.StatusNoContent)
}

type actionRequest struct {
	Action       string `json:"action"`
	TargetUserID int64  `json:"target_user_id,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

func (h *Handlers) eventAction(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathID(r, "id")
	if !ok {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid event id", nil)
		return
	}
	var req actionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.Service.Action(r.Context(), principal(r), eventID, req.Action, req.TargetUserID, req.Reason); err != nil {
		writeDomainError(w, r, err)
		return
	}
	h.invalidateEvent(r, eventID)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handlers) listMembers(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathID(r, "id")
	if !ok {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid event id", nil)
		return
	}
	state := strings.TrimSpace(r.URL.Query().Get("state"))
	withBlocked := r.URL.Query().Get("with_blocked") == "true"
	members, err := h.Service.ListMembers(r.Context(), principal(r), eventID, state, withBlocked)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"members": members})
}

func (h *Handlers) addReview(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathID(r, "id")
	if !ok {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid event id", nil)
		return
	}
	var in events.ReviewInput
	if !decodeJSON(w, r, &in) {
		return
	}
	rev, err := h.Service.AddReview(r.Context(), principal(r), eventID, in)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, rev)
}

func (h *Handlers) listReviews(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathID(r, "id")
	if !ok {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid event id", nil)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	reviews, err := h.Service.ListReviews(r.Context(), eventID, limit, offset)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"reviews": reviews})
}

func (h *Handlers) listNotifications(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if p.UserID == 0 {
		httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "missing auth context", nil)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	items, err := h.Notifications.ListByUser(r.Context(), p.UserID, limit, offset)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "could not list notifications", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"notifications": items})
}

func (h *Handlers) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if p.UserID == 0 {
		httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "missing auth context", nil)
		return
	}
	notifID, ok := pathID(r, "id")
	if !ok {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid notification id", nil)
		return
	}
	if err := h.Notifications.MarkRead(r.Context(), p.UserID, notifID); err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "could not mark notification", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type pushTokenRequest struct {
	Token string `json:"token"`
}

// addPushToken registers the device token and rebuilds its topic
// subscriptions asynchronously: one job per joined event plus one per
// followed manager.
func (h *Handlers) addPushToken(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if p.UserID == 0 {
		httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "missing auth context", nil)
		return
	}
	var req pushTokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "token is required", nil)
		return
	}
	if _, err := h.PushTokens.Add(r.Context(), p.UserID, token); err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "could not save token", nil)
		return
	}

	eventIDs, err := h.Members.ListJoinedEventIDs(r.Context(), p.UserID)
	if err == nil {
		for _, eventID := range eventIDs {
			h.enqueueTopicJob(r, p.UserID, notify.EventTopic(eventID))
		}
	}
	managerIDs, err := h.Subscriptions.ListFollowedManagerIDs(r.Context(), p.UserID)
	if err == nil {
		for _, managerID := range managerIDs {
			h.enqueueTopicJob(r, p.UserID, notify.ManagerTopic(managerID))
		}
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"status": "ok"})
}

func (h *Handlers) enqueueTopicJob(r *http.Request, userID int64, topic string) {
	job, err := notify.NewJob(notify.JobTopicSubscribe, notify.TopicMembership{UserID: userID, Topic: topic})
	if err == nil {
		_, err = h.Outbox.Insert(r.Context(), h.Outbox.Pool(), job)
	}
	if err != nil {
		h.Logger.Warn(r.Context(), "topic_job_enqueue_failed", "could not enqueue topic subscribe",
			slog.String("topic", topic), logx.Err(err))
	}
}

func (h *Handlers) removePushToken(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if p.UserID == 0 {
		httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "missing auth context", nil)
		return
	}
	var req pushTokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.PushTokens.Remove(r.Context(), p.UserID, strings.TrimSpace(req.Token)); err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "could not remove token", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var knownSettings = map[string]bool{
	models.SettingPushRemindThreeDays:  true,
	models.SettingPushRemindOneDay:     true,
	models.SettingPushRemindOnFinish:   true,
	models.SettingPushRemindOnFriends:  true,
	models.SettingEmailRemindThreeDays: true,
	models.SettingEmailRemindOneDay:    true,
	models.SettingEmailRemindOnFinish:  true,
}

func (h *Handlers) getSetting(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if p.UserID == 0 {
		httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "missing auth context", nil)
		return
	}
	name := strings.TrimSpace(r.PathValue("name"))
	if !knownSettings[name] {
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "unknown setting", nil)
		return
	}
	value, err := h.Settings.Get(r.Context(), p.UserID, name)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "could not read setting", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"name": name, "value": value})
}

type settingRequest struct {
	Value bool `json:"value"`
}

func (h *Handlers) setSetting(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if p.UserID == 0 {
		httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "missing auth context", nil)
		return
	}
	name := strings.TrimSpace(r.PathValue("name"))
	if !knownSettings[name] {
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "unknown setting", nil)
		return
	}
	var req settingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.Settings.Set(r.Context(), p.UserID, name, req.Value); err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "could not save setting", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"name": name, "value": req.Value})
}

func (h *Handlers) subscribe(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if p.UserID == 0 {
		httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "missing auth context", nil)
		return
	}
	managerID, ok := pathID(r, "id")
	if !ok {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid manager id", nil)
		return
	}
	if err := h.Subscriptions.Subscribe(r.Context(), p.UserID, managerID); err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "could not subscribe", nil)
		return
	}
	h.enqueueTopicJob(r, p.UserID, notify.ManagerTopic(managerID))
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"status": "ok"})
}

func (h *Handlers) unsubscribe(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if p.UserID == 0 {
		httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "missing auth context", nil)
		return
	}
	managerID, ok := pathID(r, "id")
	if !ok {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid manager id", nil)
		return
	}
	if err := h.Subscriptions.Unsubscribe(r.Context(), p.UserID, managerID); err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "could not unsubscribe", nil)
		return
	}
	job, err := notify.NewJob(notify.JobTopicUnsubscribe, notify.TopicMembership{UserID: p.UserID, Topic: notify.ManagerTopic(managerID)})
	if err == nil {
		_, err = h.Outbox.Insert(r.Context(), h.Outbox.Pool(), job)
	}
	if err != nil {
		h.Logger.Warn(r.Context(), "topic_job_enqueue_failed", "could not enqueue topic unsubscribe", logx.Err(err))
	}
	w.WriteHeader(http.StatusNoContent)
}
