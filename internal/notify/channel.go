// Package notify delivers report chunks through the platform's chat-bot
// webhook, pacing sends against the channel's shared rate limit.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Channel is the external notification channel consumed by the dispatcher.
// Implementations must be safe for concurrent use; the dispatcher funnels
// all sends through a single rate limiter but may be called from worker
// goroutines.
type Channel interface {
	Send(ctx context.Context, text string) error
}

// Webhook posts messages to a chat-bot webhook URL as JSON.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a webhook channel. The URL (including any auth token
// embedded in it) comes from external configuration.
func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type webhookPayload struct {
	Content string `json:"content"`
}

// Send posts one message. Any non-2xx response is an error; the response
// body is drained so the connection can be reused.
func (w *Webhook) Send(ctx context.Context, text string) error {
	body, err := json.Marshal(webhookPayload{Content: text})
	if err != nil {
		return fmt.Errorf("webhook send: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook send: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook send: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook send: unexpected status %d", resp.StatusCode)
	}
	return nil
}
