package notify

import (
	"context"

	"gather-events-backend/shared/pushx"
)

// NopPusher drops pushes, used when the push provider is disabled.
type NopPusher struct{}

func (NopPusher) SendMulticast(ctx context.Context, tokens []string, note pushx.Note, data map[string]string) (pushx.MulticastResult, error) {
	return pushx.MulticastResult{Sent: len(tokens)}, nil
}

func (NopPusher) SendToTopic(ctx context.Context, topic string, note pushx.Note, data map[string]string) error {
	return nil
}

func (NopPusher) SubscribeToTopic(ctx context.Context, topic string, tokens []string) ([]pushx.TokenResult, error) {
	return nil, nil
}

func (NopPusher) UnsubscribeFromTopic(ctx context.Context, topic string, tokens []string) ([]pushx.TokenResult, error) {
	return nil, nil
}

// NopMailer drops emails, used when the mail provider is disabled.
type NopMailer struct{}

func (NopMailer) SendTemplated(ctx context.Context, recipients []string, subject string, templateID int, variables map[string]string) error {
	return nil
}
