// Package pushx is the HTTP client for the push delivery provider. All
// multicast and topic operations report per-token errors so callers can
// prune device tokens the provider no longer accepts.
package pushx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"gather-events-backend/shared/config"
	"gather-events-backend/shared/metricsx"
)

type Client struct {
	baseURL  string
	apiKey   string
	retryMax int
	http     *http.Client
	breaker  *circuitBreaker
}

// Note is the user-visible part of a push message.
type Note struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body"`
}

type multicastRequest struct {
	Tokens []string          `json:"tokens"`
	Note   Note              `json:"notification"`
	Data   map[string]string `json:"data,omitempty"`
}

type topicSendRequest struct {
	Topic string            `json:"topic"`
	Note  Note              `json:"notification"`
	Data  map[string]string `json:"data,omitempty"`
}

type topicMembershipRequest struct {
	Topic  string   `json:"topic"`
	Tokens []string `json:"tokens"`
}

// TokenResult mirrors the provider's per-token delivery report. Invalid
// means the token is dead and should be deleted, not retried.
type TokenResult struct {
	Token   string `json:"token"`
	OK      bool   `json:"ok"`
	Invalid bool   `json:"invalid"`
	Error   string `json:"error,omitempty"`
}

type MulticastResult struct {
	Sent    int           `json:"sent"`
	Failed  int           `json:"failed"`
	Results []TokenResult `json:"results"`
}

type topicMembershipResponse struct {
	Results []TokenResult `json:"results"`
}

func New(cfg config.Config) (*Client, error) {
	if cfg.PushAPIURL == "" {
		return nil, errors.New("PUSH_API_URL is required")
	}
	timeout := time.Duration(cfg.PushTimeoutMS) * time.Millisecond
	return &Client{
		baseURL:  cfg.PushAPIURL,
		apiKey:   cfg.PushAPIKey,
		retryMax: cfg.PushRetryMax,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: newCircuitBreaker(5, 30*time.Second),
	}, nil
}

// SendMulticast delivers one message to every token in a single provider
// call. Callers slice the token set into batches before calling.
func (c *Client) SendMulticast(ctx context.Context, tokens []string, note Note, data map[string]string) (MulticastResult, error) {
	if len(tokens) == 0 {
		return MulticastResult{}, nil
	}
	var out MulticastResult
	start := time.Now()
	err := c.post(ctx, "/v1/messages/multicast", multicastRequest{Tokens: tokens, Note: note, Data: data}, &out)
	if err != nil {
		metricsx.AddPushFailed(len(tokens))
		return MulticastResult{}, err
	}
	metricsx.IncPushBatch()
	metricsx.AddPushSent(out.Sent)
	metricsx.AddPushFailed(out.Failed)
	metricsx.ObservePushLatency(time.Since(start))
	return out, nil
}

func (c *Client) SendToTopic(ctx context.Context, topic string, note Note, data map[string]string) error {
	return c.post(ctx, "/v1/messages/topic", topicSendRequest{Topic: topic, Note: note, Data: data}, nil)
}

// SubscribeToTopic returns per-token results; tokens flagged Invalid
// should be pruned by the caller.
func (c *Client) SubscribeToTopic(ctx context.Context, topic string, tokens []string) ([]TokenResult, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	var out topicMembershipResponse
	if err := c.post(ctx, "/v1/topics/subscribe", topicMembershipRequest{Topic: topic, Tokens: tokens}, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func (c *Client) UnsubscribeFromTopic(ctx context.Context, topic string, tokens []string) ([]TokenResult, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	var out topicMembershipResponse
	if err := c.post(ctx, "/v1/topics/unsubscribe", topicMembershipRequest{Topic: topic, Tokens: tokens}, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, dest any) error {
	if c == nil || c.http == nil {
		return errors.New("push client not initialized")
	}
	if c.breaker.Open() {
		return errors.New("push circuit open")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= c.retryMax; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			c.breaker.Fail()
			continue
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = errors.New("push provider error")
			c.breaker.Fail()
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return errors.New("push request rejected")
		}
		if dest != nil {
			if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
				resp.Body.Close()
				c.breaker.Fail()
				return err
			}
		}
		resp.Body.Close()
		c.breaker.Success()
		return nil
	}
	if lastErr == nil {
		lastErr = errors.New("push request failed")
	}
	return lastErr
}

type circuitBreaker struct {
	mu            sync.Mutex
	failures      int
	openUntil     time.Time
	threshold     int
	resetDuration time.Duration
}

func newCircuitBreaker(threshold int, reset time.Duration) *circuitBreaker {
	return &circuitBreaker{threshold: threshold, resetDuration: reset}
}

func (b *circuitBreaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openUntil.IsZero() {
		return false
	}
	if time.Now().After(b.openUntil) {
		b.openUntil = time.Time{}
		b.failures = 0
		return false
	}
	return true
}

func (b *circuitBreaker) Fail() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.threshold {
		b.openUntil = time.Now().Add(b.resetDuration)
	}
}

func (b *circuitBreaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openUntil = time.Time{}
}
