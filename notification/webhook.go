package notification

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// Headers set on every webhook delivery. The delivery id is stable across
// retries of one event so receivers can drop duplicates.
const (
	HeaderEvent     = "X-Saccoguard-Event"
	HeaderDelivery  = "X-Saccoguard-Delivery"
	HeaderSignature = "X-Saccoguard-Signature"
)

const (
	defaultWebhookTimeout    = 10 * time.Second
	defaultWebhookRetries    = 3
	defaultWebhookRetryDelay = time.Second
)

// WebhookConfig configures a WebhookNotifier. Zero durations and counts
// take the defaults.
type WebhookConfig struct {
	URL string

	// Secret, when set, signs each body with HMAC-SHA256. The signature is
	// sent as "sha256=<hex>" in X-Saccoguard-Signature.
	Secret []byte

	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration // doubled after each failed attempt
}

// WebhookNotifier POSTs events as JSON to an HTTP endpoint, retrying
// server errors and 429 responses with exponential backoff.
type WebhookNotifier struct {
	url        string
	secret     []byte
	client     *http.Client
	maxRetries int
	retryDelay time.Duration
}

// NewWebhookNotifier validates the endpoint and applies defaults.
func NewWebhookNotifier(cfg WebhookConfig) (*WebhookNotifier, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook URL is required")
	}
	u, err := url.ParseRequestURI(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid webhook URL %q: scheme must be http or https", cfg.URL)
	}

	n := &WebhookNotifier{
		url:        cfg.URL,
		secret:     append([]byte(nil), cfg.Secret...),
		client:     &http.Client{Timeout: cfg.Timeout},
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}
	if n.client.Timeout == 0 {
		n.client.Timeout = defaultWebhookTimeout
	}
	if n.maxRetries == 0 {
		n.maxRetries = defaultWebhookRetries
	}
	if n.retryDelay == 0 {
		n.retryDelay = defaultWebhookRetryDelay
	}
	return n, nil
}

// Sign returns the signature header value for body under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Notify delivers event, retrying until maxRetries is exhausted or the
// endpoint answers with a non-retryable status.
func (w *WebhookNotifier) Notify(ctx context.Context, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	delivery := uuid.NewString()

	delay := w.retryDelay
	var lastErr error
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		retry, err := w.post(ctx, body, event.Type, delivery)
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("webhook delivery failed after %d retries (delivery %s): %w", w.maxRetries, delivery, lastErr)
}

func (w *WebhookNotifier) post(ctx context.Context, body []byte, eventType EventType, delivery string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, eventType.String())
	req.Header.Set(HeaderDelivery, delivery)
	if len(w.secret) > 0 {
		req.Header.Set(HeaderSignature, Sign(w.secret, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return ctx.Err() == nil, fmt.Errorf("post %s: %w", eventType, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return true, fmt.Errorf("endpoint answered status %d", resp.StatusCode)
	}
	return false, fmt.Errorf("webhook rejected %s: status %d", eventType, resp.StatusCode)
}
