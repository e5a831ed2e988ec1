// Package mailx is the HTTP client for the templated mail provider.
package mailx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
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
}

type templatedSendRequest struct {
	Recipients []string          `json:"recipients"`
	Subject    string            `json:"subject"`
	TemplateID int               `json:"template_id"`
	Variables  map[string]string `json:"variables,omitempty"`
}

func New(cfg config.Config) (*Client, error) {
	if cfg.MailAPIURL == "" {
		return nil, errors.New("MAIL_API_URL is required")
	}
	timeout := time.Duration(cfg.MailTimeoutMS) * time.Millisecond
	return &Client{
		baseURL:  cfg.MailAPIURL,
		apiKey:   cfg.MailAPIKey,
		retryMax: 1,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

// SendTemplated sends one template-rendered email to every recipient
// address. The provider renders the template server-side from the
// variable bag.
func (c *Client) SendTemplated(ctx context.Context, recipients []string, subject string, templateID int, variables map[string]string) error {
	if c == nil || c.http == nil {
		return errors.New("mail client not initialized")
	}
	if len(recipients) == 0 {
		return nil
	}
	body, err := json.Marshal(templatedSendRequest{
		Recipients: recipients,
		Subject:    subject,
		TemplateID: templateID,
		Variables:  variables,
	})
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= c.retryMax; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/mail/templated", bytes.NewReader(body))
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
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 500 {
			lastErr = errors.New("mail provider error")
			continue
		}
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
			metricsx.IncEmailFailed()
			return errors.New("mail request rejected")
		}
		metricsx.IncEmailSent()
		return nil
	}
	metricsx.IncEmailFailed()
	if lastErr == nil {
		lastErr = errors.New("mail request failed")
	}
	return lastErr
}
