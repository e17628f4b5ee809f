package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// WebhookConfig describes the webhook target.
type WebhookConfig struct {
	URL       string
	Headers   map[string]string
	UserAgent string
	// SkipInternal drops internal events instead of posting them.
	SkipInternal bool
}

// Webhook posts notifications as JSON to an HTTP endpoint.
type Webhook struct {
	cfg    WebhookConfig
	client *http.Client
}

// NewWebhook constructs a webhook emitter with the provided client.
func NewWebhook(cfg WebhookConfig, client *http.Client) *Webhook {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Webhook{cfg: cfg, client: client}
}

type webhookBody struct {
	TargetUserID    string    `json:"target_user_id"`
	Type            Type      `json:"type"`
	JobID           uuid.UUID `json:"job_id,omitempty"`
	Data            any       `json:"data"`
	IsInternalEvent bool      `json:"is_internal_event"`
	SentAt          time.Time `json:"sent_at"`
}

// Send issues a POST request containing the notification.
func (w *Webhook) Send(ctx context.Context, n Notification) error {
	if n.IsInternalEvent && w.cfg.SkipInternal {
		return nil
	}

	target := strings.TrimSpace(w.cfg.URL)
	if target == "" {
		return errors.New("webhook requires url")
	}

	body := webhookBody{
		TargetUserID:    n.TargetUserID,
		Type:            n.Type,
		Data:            n.Data,
		IsInternalEvent: n.IsInternalEvent,
		SentAt:          time.Now().UTC(),
	}
	if id, ok := jobIDOf(n.Data); ok {
		body.JobID = id
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if ua := strings.TrimSpace(w.cfg.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	for k, v := range w.cfg.Headers {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("webhook responded %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return nil
}

func jobIDOf(data any) (uuid.UUID, bool) {
	switch d := data.(type) {
	case FailureData:
		return d.JobID, true
	case StartedData:
		return d.JobID, true
	case RetryingData:
		return d.JobID, true
	case JobEventData:
		return d.JobID, true
	}
	return uuid.Nil, false
}
