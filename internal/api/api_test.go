package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/jarvis/internal/alert"
	"github.com/linnemanlabs/jarvis/internal/log"
	"github.com/linnemanlabs/jarvis/internal/notify"
	"github.com/linnemanlabs/jarvis/internal/queue"
	"github.com/linnemanlabs/jarvis/internal/selfpreserver"
	"github.com/linnemanlabs/jarvis/internal/store"
	"github.com/linnemanlabs/jarvis/internal/store/memstore"
)

func testLogger(t *testing.T) log.Logger {
	t.Helper()
	l, err := log.New(log.Config{Level: "error", Format: "text"})
	if err != nil {
		t.Fatalf("log.New: %v", err)
	}
	return l
}

type stubPipeline struct {
	processed []alert.Alert
	err       error
}

func (s *stubPipeline) Process(_ context.Context, a alert.Alert) error {
	s.processed = append(s.processed, a)
	return s.err
}

func newTestRouter(t *testing.T, st store.Store, pl Pipeline, sp *selfpreserver.SelfPreserver) chi.Router {
	t.Helper()
	q := queue.New(testLogger(t), nil)
	a := New(testLogger(t), st, q, pl, sp, "admin", "secret")
	r := chi.NewRouter()
	a.RegisterRoutes(r)
	return r
}

func TestHandleWebhookRejectsMissingAuth(t *testing.T) {
	r := newTestRouter(t, memstore.New(), &stubPipeline{}, nil)
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestHandleWebhookAcceptsAndReturnsQuickly(t *testing.T) {
	pl := &stubPipeline{}
	r := newTestRouter(t, memstore.New(), pl, nil)

	body, _ := json.Marshal(alert.Webhook{
		Status: "firing",
		Alerts: []alert.Alert{{Status: alert.StatusFiring, Labels: map[string]string{"alertname": "ContainerDown"}}},
	})
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()

	start := time.Now()
	r.ServeHTTP(rec, req)
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("handler took %v, want well under 100ms", elapsed)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var got map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got["status"] != "ok" {
		t.Errorf("status = %v, want ok", got["status"])
	}
}

func TestHandleHealthReportsHealthyWhenStoreUp(t *testing.T) {
	r := newTestRouter(t, memstore.New(), &stubPipeline{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["status"] != "healthy" {
		t.Errorf("status = %v, want healthy for a working memstore", got["status"])
	}
	if got["db"] != true {
		t.Errorf("db = %v, want true", got["db"])
	}
}

func TestHandleListPatternsFiltersByMinConfidence(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	if _, err := st.UpsertPattern(ctx, &store.RemediationPattern{AlertName: "X", SymptomFingerprint: "a", Confidence: 0.9, SolutionCommands: []string{"echo hi"}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := st.UpsertPattern(ctx, &store.RemediationPattern{AlertName: "X", SymptomFingerprint: "b", Confidence: 0.2, SolutionCommands: []string{"echo lo"}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	r := newTestRouter(t, st, &stubPipeline{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/patterns?min_confidence=0.5", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var got []store.RemediationPattern
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 pattern above threshold, got %d", len(got))
	}
}

func TestHandleMaintenanceStartAndStatus(t *testing.T) {
	r := newTestRouter(t, memstore.New(), &stubPipeline{}, nil)

	body, _ := json.Marshal(map[string]any{"reason": "patching", "duration_minutes": 30})
	req := httptest.NewRequest(http.MethodPost, "/maintenance/start", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d", rec.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/maintenance/status", nil)
	rec2 := httptest.NewRecorder()
	r.ServeHTTP(rec2, req2)
	var status map[string]any
	if err := json.Unmarshal(rec2.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status["active"] != true {
		t.Errorf("expected active maintenance window, got %v", status["active"])
	}
}

func TestHandleSelfRestartRequiresAuth(t *testing.T) {
	st := memstore.New()
	sp := selfpreserver.New(st, nil, testLogger(t), "", "cb", "hc")
	r := newTestRouter(t, st, &stubPipeline{}, sp)

	body, _ := json.Marshal(map[string]string{"target": "service", "reason": "deploy"})
	req := httptest.NewRequest(http.MethodPost, "/self-restart", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestHandleResumeTransitionsHandoff(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	if err := st.CreateHandoff(ctx, &store.SelfRestartHandoff{HandoffID: "h1", Target: store.RestartService, Status: store.HandoffInProgress}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	sp := selfpreserver.New(st, notifyNoop{}, testLogger(t), "", "cb", "hc")
	r := newTestRouter(t, st, &stubPipeline{}, sp)

	req := httptest.NewRequest(http.MethodPost, "/resume?handoff_id=h1&status=completed", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	h, err := st.GetHandoff(ctx, "h1")
	if err != nil {
		t.Fatalf("GetHandoff: %v", err)
	}
	if h.Status != store.HandoffCompleted {
		t.Errorf("status = %v, want completed", h.Status)
	}
}

type notifyNoop struct{}

func (notifyNoop) Send(context.Context, notify.Notification) error { return nil }
