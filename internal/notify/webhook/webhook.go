// Package webhook sends notify.Notifications as plain JSON POSTs to a
// configured URL, the generic outbound collaborator for notifications.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/jarvis/internal/notify"
)

const httpTimeout = 10 * time.Second

// Notifier posts notifications to a webhook URL. If url is empty or enabled
// is false, Send is a no-op — callers need not branch on configuration.
type Notifier struct {
	url     string
	enabled bool
	client  *http.Client
}

// New creates a webhook Notifier.
func New(url string, enabled bool) *Notifier {
	return &Notifier{url: url, enabled: enabled, client: &http.Client{Timeout: httpTimeout}}
}

// wirePayload is the JSON shape posted to the webhook.
type wirePayload struct {
	Kind        notify.Kind `json:"kind"`
	AlertName   string      `json:"alert_name"`
	InstanceKey string      `json:"instance_key"`
	Severity    string      `json:"severity"`
	AttemptN    int         `json:"attempt_n"`
	MaxAttempts int         `json:"max_attempts"`
	DurationS   float64     `json:"duration_s"`
	Commands    []string    `json:"commands"`
	Analysis    string      `json:"analysis"`
	Reasoning   string      `json:"reasoning"`
	Error       string      `json:"error,omitempty"`
}

// Send posts n to the webhook. No-op if not configured.
func (w *Notifier) Send(ctx context.Context, n notify.Notification) error {
	if !w.enabled || w.url == "" {
		return nil
	}

	payload := wirePayload{
		Kind:        n.Kind,
		AlertName:   n.AlertName,
		InstanceKey: n.InstanceKey,
		Severity:    n.Severity,
		AttemptN:    n.AttemptN,
		MaxAttempts: n.MaxAttempts,
		DurationS:   n.DurationS,
		Commands:    n.Commands,
		Analysis:    n.Analysis,
		Reasoning:   n.Reasoning,
		Error:       n.Error,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notify: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
