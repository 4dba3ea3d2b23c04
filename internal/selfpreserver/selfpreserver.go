// Package selfpreserver is the SelfPreserver: it hands off control of
// a restart that would otherwise kill the process performing it (restarting
// its own service, the database it depends on, the container runtime, or the
// host it runs on) to an external orchestrator, and resumes once that
// orchestrator reports back.
package selfpreserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/jarvis/internal/jerr"
	"github.com/linnemanlabs/jarvis/internal/log"
	"github.com/linnemanlabs/jarvis/internal/notify"
	"github.com/linnemanlabs/jarvis/internal/store"
)

// defaultTimeout bounds how long a handoff may stay pending or in_progress
// before SweepTimedOut marks it timed out.
const defaultTimeout = 10 * time.Minute

const httpTimeout = 10 * time.Second

// SelfPreserver hands restart requests that would kill the calling process
// off to an external orchestrator over a webhook, and tracks their lifecycle
// in Store.
type SelfPreserver struct {
	store          store.Store
	notifier       notify.Notifier
	logger         log.Logger
	client         *http.Client
	orchestratorURL string
	callbackURL    string
	healthURL      string
	timeout        time.Duration
}

// New creates a SelfPreserver. callbackURL and healthURL are this process's
// own /resume and /health endpoints, handed to the orchestrator so it knows
// where to report back and how to confirm the process is alive again.
func New(st store.Store, n notify.Notifier, logger log.Logger, orchestratorURL, callbackURL, healthURL string) *SelfPreserver {
	return &SelfPreserver{
		store:           st,
		notifier:        n,
		logger:          logger,
		client:          &http.Client{Timeout: httpTimeout},
		orchestratorURL: orchestratorURL,
		callbackURL:     callbackURL,
		healthURL:       healthURL,
		timeout:         defaultTimeout,
	}
}

// handoffRequest is the payload POSTed to the orchestrator webhook.
type handoffRequest struct {
	HandoffID string          `json:"handoff_id"`
	Target    string          `json:"target"`
	Reason    string          `json:"reason"`
	Context   json.RawMessage `json:"context,omitempty"`
	CallbackURL string        `json:"callback_url"`
	HealthURL   string        `json:"health_url"`
	TimeoutS    int           `json:"timeout_s"`
}

// Initiate records a new handoff and synchronously notifies the
// orchestrator. It returns jerr.HandoffConflict if another handoff is
// already pending or in_progress.
func (s *SelfPreserver) Initiate(ctx context.Context, target store.RestartTarget, reason string, reqContext json.RawMessage) (string, error) {
	if s.orchestratorURL == "" {
		return "", fmt.Errorf("%w: no orchestrator webhook configured", jerr.HandoffConflict)
	}

	id := ulid.Make().String()
	h := &store.SelfRestartHandoff{
		HandoffID:   id,
		Target:      target,
		Reason:      reason,
		Context:     reqContext,
		Status:      store.HandoffPending,
		CallbackURL: s.callbackURL,
	}
	if err := s.store.CreateHandoff(ctx, h); err != nil {
		return "", err
	}

	if err := s.notifyOrchestrator(ctx, h); err != nil {
		_ = s.store.TransitionHandoff(ctx, id, store.HandoffFailed, err.Error())
		return "", fmt.Errorf("notify orchestrator: %w", err)
	}

	if err := s.store.TransitionHandoff(ctx, id, store.HandoffInProgress, ""); err != nil {
		s.logger.Error(ctx, err, "transition handoff to in_progress failed", "handoff_id", id)
	}
	return id, nil
}

func (s *SelfPreserver) notifyOrchestrator(ctx context.Context, h *store.SelfRestartHandoff) error {
	payload := handoffRequest{
		HandoffID:   h.HandoffID,
		Target:      string(h.Target),
		Reason:      h.Reason,
		Context:     h.Context,
		CallbackURL: s.callbackURL,
		HealthURL:   s.healthURL,
		TimeoutS:    int(s.timeout.Seconds()),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal handoff request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.orchestratorURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post orchestrator webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("orchestrator webhook returned %d", resp.StatusCode)
	}
	return nil
}

// Resume transitions a handoff to a terminal state on callback from the
// orchestrator. status must be one of completed, failed, or timeout.
func (s *SelfPreserver) Resume(ctx context.Context, handoffID string, status store.HandoffStatus, errMsg string) error {
	switch status {
	case store.HandoffCompleted, store.HandoffFailed, store.HandoffTimeout:
	default:
		return fmt.Errorf("resume: invalid terminal status %q", status)
	}
	return s.store.TransitionHandoff(ctx, handoffID, status, errMsg)
}

// Cancel transitions a pending handoff to cancelled. Used when an operator
// aborts a self-restart before the orchestrator has acted on it.
func (s *SelfPreserver) Cancel(ctx context.Context, handoffID, reason string) error {
	return s.store.TransitionHandoff(ctx, handoffID, store.HandoffCancelled, reason)
}

// Current returns the currently pending or in_progress handoff, if any.
func (s *SelfPreserver) Current(ctx context.Context) (*store.SelfRestartHandoff, error) {
	return s.store.GetActiveHandoff(ctx)
}

// SweepTimedOut marks handoffs that have exceeded the timeout as timed out
// and notifies the operator for each. Intended to be called on a ticker by
// RunSweep.
func (s *SelfPreserver) SweepTimedOut(ctx context.Context) error {
	swept, err := s.store.SweepTimedOutHandoffs(ctx, s.timeout)
	if err != nil {
		return fmt.Errorf("sweep timed out handoffs: %w", err)
	}
	for _, h := range swept {
		s.logger.Warn(ctx, "self-restart handoff timed out", "handoff_id", h.HandoffID, "target", h.Target)
		if s.notifier == nil {
			continue
		}
		_ = s.notifier.Send(ctx, notify.Notification{
			Kind:      notify.KindEscalation,
			AlertName: "self_restart_timeout",
			Error:     fmt.Sprintf("handoff %s (%s) timed out waiting for orchestrator", h.HandoffID, h.Target),
		})
	}
	return nil
}

// RunSweep periodically sweeps timed-out handoffs until ctx is cancelled,
// mirroring the ticker-loop idiom used by queue.Run and hostmonitor.RunProbe.
func RunSweep(ctx context.Context, s *SelfPreserver) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SweepTimedOut(ctx); err != nil {
				s.logger.Error(ctx, err, "sweep timed out handoffs failed")
			}
		}
	}
}
