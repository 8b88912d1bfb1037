package server

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
	"time"
)

// WebhookEvent names a session lifecycle event sent to the webhook URL.
type WebhookEvent string

const (
	WebhookSessionCreated WebhookEvent = "session.created"
	WebhookSessionDeleted WebhookEvent = "session.deleted"
	WebhookSessionReaped  WebhookEvent = "session.reaped"
)

// WebhookPayload is the JSON body of a delivery.
type WebhookPayload struct {
	Event     WebhookEvent   `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// Notifier posts lifecycle events to one endpoint. Deliveries never carry
// owner tokens.
type Notifier struct {
	url     string
	secret  string
	client  *http.Client
	breaker *CircuitBreaker

	// Retries is the number of extra attempts after a failed delivery.
	Retries int
	// Backoff is multiplied by attempt squared between attempts.
	Backoff time.Duration
}

// NewNotifier delivers to url. A non-empty secret signs each body.
func NewNotifier(url, secret string, breaker *CircuitBreaker) *Notifier {
	return &Notifier{
		url:     url,
		secret:  secret,
		client:  &http.Client{Timeout: 10 * time.Second},
		breaker: breaker,
		Retries: 3,
		Backoff: time.Second,
	}
}

// Send delivers p, retrying until a 2xx answer, ctx is done or the
// attempts run out.
func (n *Notifier) Send(ctx context.Context, p WebhookPayload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= n.Retries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(attempt*attempt) * n.Backoff
			select {
			case <-ctx.Done():
				return fmt.Errorf("webhook %s: %w (last error: %v)", p.Event, ctx.Err(), lastErr)
			case <-time.After(wait):
			}
		}

		lastErr = n.breaker.Execute(func() error {
			return n.post(ctx, p, body)
		})
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("webhook %s: %d attempts: %w", p.Event, n.Retries+1, lastErr)
}

func (n *Notifier) post(ctx context.Context, p WebhookPayload, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ephemeral-drop-webhook/1.0")
	req.Header.Set("X-Webhook-Event", string(p.Event))
	req.Header.Set("X-Webhook-Timestamp", p.Timestamp.Format(time.RFC3339))
	if n.secret != "" {
		req.Header.Set("X-Webhook-Signature", signPayload(body, n.secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// signPayload returns "sha256=" followed by the hex HMAC of body.
func signPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// notify delivers event in the background when a webhook is configured.
func (s *Server) notify(parent context.Context, event WebhookEvent, id string, data map[string]any) {
	if s.notifier == nil {
		return
	}
	p := WebhookPayload{
		Event:     event,
		Timestamp: time.Now().UTC(),
		SessionID: id,
		Data:      data,
	}
	s.background(parent, func(ctx context.Context) {
		if err := s.notifier.Send(ctx, p); err != nil {
			GetMetrics().RecordWebhookFailure()
			Error("webhook_failed", map[string]any{
				"request_id": RequestIDFromContext(ctx),
				"event":      string(event),
				"session":    id,
			}, err)
			return
		}
		Debug("webhook_sent", map[string]any{"event": string(event), "session": id})
	})
}
