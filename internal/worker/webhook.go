package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cuongbtq/turnover-dispatch/internal/domain"
	"github.com/cuongbtq/turnover-dispatch/internal/notify"
)

// WebhookDeliverer posts envelopes to the notification gateway, which owns the
// push, email and SMS channels
type WebhookDeliverer struct {
	url    string
	client *http.Client
}

// NewWebhookDeliverer creates a WebhookDeliverer
func NewWebhookDeliverer(url string, timeout time.Duration) *WebhookDeliverer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookDeliverer{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Deliver posts env as JSON. Network failures, 429 and 5xx are retryable;
// any other non-2xx status is a permanent rejection.
func (d *WebhookDeliverer) Deliver(ctx context.Context, env *notify.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", env.ID)

	resp, err := d.client.Do(req)
	if err != nil {
		return domain.NewRetryableError(fmt.Errorf("webhook call to %s: %w", d.url, err))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode < http.StatusMultipleChoices:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return domain.NewRetryableError(fmt.Errorf("webhook %s returned status %d", d.url, resp.StatusCode))
	default:
		return fmt.Errorf("%w: webhook %s returned status %d", ErrDeliveryRejected, d.url, resp.StatusCode)
	}
}
