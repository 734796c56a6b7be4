package recorder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/selfheal/autoheal/locator"
)

// Webhook POSTs each record as JSON to a URL with retry and exponential
// backoff.
type Webhook struct {
	url        string
	client     *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

// WebhookOption configures a Webhook sink.
type WebhookOption func(*Webhook)

// WithWebhookRetries sets the maximum number of retries. Default: 3.
func WithWebhookRetries(n int) WebhookOption {
	return func(w *Webhook) { w.maxRetries = n }
}

// WithWebhookBackoff sets the first retry delay; it doubles per retry.
// Default: 1s.
func WithWebhookBackoff(d time.Duration) WebhookOption {
	return func(w *Webhook) { w.backoff = d }
}

// WithWebhookClient replaces the HTTP client.
func WithWebhookClient(c *http.Client) WebhookOption {
	return func(w *Webhook) { w.client = c }
}

// WithWebhookLogger sets a custom logger.
func WithWebhookLogger(l *slog.Logger) WebhookOption {
	return func(w *Webhook) { w.logger = l }
}

// NewWebhook creates a Webhook sink targeting url.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
		backoff:    time.Second,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Event types carried in the envelope and the X-Autoheal-Event header.
const (
	EventHealed = "healing.healed"
	EventFailed = "healing.failed"
)

func eventType(rec locator.HealingRecord) string {
	if rec.Success {
		return EventHealed
	}
	return EventFailed
}

// Send delivers rec. Receivers can deduplicate retried deliveries on the
// X-Autoheal-Record header. A 4xx other than 429 is not retried.
func (w *Webhook) Send(ctx context.Context, rec locator.HealingRecord) error {
	typ := eventType(rec)
	body, err := json.Marshal(envelope{Type: typ, Data: rec})
	if err != nil {
		return fmt.Errorf("webhook: marshal %s: %w", rec.ID, err)
	}

	var lastErr error
	for attempt := range w.maxRetries + 1 {
		if attempt > 0 {
			select {
			case <-time.After(w.backoff << (attempt - 1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		retry, err := w.deliver(ctx, typ, rec.ID, body)
		if err == nil {
			return nil
		}
		lastErr = err
		w.logger.Warn("webhook: delivery failed",
			"record", rec.ID, "event", typ, "attempt", attempt+1, "error", err)
		if !retry {
			return err
		}
	}
	return fmt.Errorf("webhook: %s: retries exhausted: %w", rec.ID, lastErr)
}

// deliver makes one POST and reports whether a failure is worth retrying.
func (w *Webhook) deliver(ctx context.Context, typ, id string, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("webhook: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Autoheal-Event", typ)
	req.Header.Set("X-Autoheal-Record", id)

	resp, err := w.client.Do(req)
	if err != nil {
		return ctx.Err() == nil, err
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return true, fmt.Errorf("webhook: status %d", resp.StatusCode)
	default:
		return false, fmt.Errorf("webhook: status %d", resp.StatusCode)
	}
}

func (w *Webhook) Close() error { return nil }
