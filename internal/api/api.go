// Package api is the HTTP surface: the webhook ingress plus the
// read/operational endpoints. Handlers hold no business
// logic beyond request decoding, auth, and response shaping — Pipeline,
// Store, and SelfPreserver own everything else.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/jarvis/internal/alert"
	"github.com/linnemanlabs/jarvis/internal/authmw"
	"github.com/linnemanlabs/jarvis/internal/log"
	"github.com/linnemanlabs/jarvis/internal/queue"
	"github.com/linnemanlabs/jarvis/internal/selfpreserver"
	"github.com/linnemanlabs/jarvis/internal/store"
	"github.com/linnemanlabs/jarvis/internal/version"
)

// Pipeline is the subset of pipeline.Pipeline the API needs.
type Pipeline interface {
	Process(ctx context.Context, a alert.Alert) error
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger   log.Logger
	store    store.Store
	queue    *queue.Queue
	pipeline Pipeline
	self     *selfpreserver.SelfPreserver

	webhookUser string
	webhookPass string
}

// New creates an API handler.
func New(logger log.Logger, st store.Store, q *queue.Queue, pl Pipeline, sp *selfpreserver.SelfPreserver, webhookUser, webhookPass string) *API {
	return &API{
		logger:      logger,
		store:       st,
		queue:       q,
		pipeline:    pl,
		self:        sp,
		webhookUser: webhookUser,
		webhookPass: webhookPass,
	}
}

// RegisterRoutes attaches every endpoint to r.
func (a *API) RegisterRoutes(r chi.Router) {
	auth := authmw.BasicAuth(a.webhookUser, a.webhookPass)
	r.With(auth).Post("/webhook", a.handleWebhook)
	r.Get("/health", a.handleHealth)
	r.Get("/version", a.handleVersion)
	r.Get("/patterns", a.handleListPatterns)
	r.Get("/patterns/{id}", a.handleGetPattern)
	r.Get("/analytics", a.handleAnalytics)
	r.Post("/maintenance/start", a.handleMaintenanceStart)
	r.Post("/maintenance/end", a.handleMaintenanceEnd)
	r.Get("/maintenance/status", a.handleMaintenanceStatus)
	r.With(auth).Post("/self-restart", a.handleSelfRestart)
	r.Get("/self-restart/status", a.handleSelfRestartStatus)
	r.Post("/self-restart/cancel", a.handleSelfRestartCancel)
	r.Post("/resume", a.handleResume)
}

// handleVersion reports build identification, mirroring the -V CLI flag.
func (a *API) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, version.Get())
}

// handleWebhook decodes the alert-router payload, hands each alert to its own
// background goroutine (which queues it for retry only if processing fails),
// and returns 200 immediately — the router must not be held hostage by a slow
// LLM call.
func (a *API) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var payload alert.Webhook
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed payload")
		return
	}

	for _, al := range payload.Alerts {
		go a.processAsync(al)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// processAsync runs one alert through Pipeline on its own goroutine, with a
// context detached from the request (the handler already returned).
func (a *API) processAsync(al alert.Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := a.pipeline.Process(ctx, al); err != nil {
		a.logger.Error(ctx, err, "pipeline processing failed, enqueueing for retry", "alert_name", al.Name())
		a.queue.Enqueue(al)
	}
}

// handleHealth reports store reachability and queue depth.
func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	dbOK := true
	if _, err := a.store.Analytics(r.Context(), time.Now().Add(-time.Minute)); err != nil {
		dbOK = false
		status = "degraded"
	}
	depth := 0
	if a.queue != nil {
		depth = a.queue.Depth()
		if !dbOK && depth == 0 {
			status = "unhealthy"
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      status,
		"db":          dbOK,
		"queue_depth": depth,
		"version":     version.Get().Version,
	})
}

func (a *API) handleListPatterns(w http.ResponseWriter, r *http.Request) {
	minConfidence := 0.0
	if v := r.URL.Query().Get("min_confidence"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			minConfidence = f
		}
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	patterns, err := a.store.ListPatterns(r.Context(), minConfidence, limit)
	if err != nil {
		a.logger.Error(r.Context(), err, "list patterns failed")
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, patterns)
}

func (a *API) handleGetPattern(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid pattern id")
		return
	}
	p, err := a.store.GetPattern(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "get pattern failed", "id", id)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if p == nil {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	summary, err := a.store.Analytics(r.Context(), time.Now().Add(-30*24*time.Hour))
	if err != nil {
		a.logger.Error(r.Context(), err, "analytics failed")
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleMaintenanceStart(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason          string `json:"reason"`
		DurationMinutes int    `json:"duration_minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed payload")
		return
	}
	if body.DurationMinutes <= 0 {
		body.DurationMinutes = 60
	}
	start := time.Now()
	id, err := a.store.CreateMaintenanceWindow(r.Context(), &store.MaintenanceWindow{
		Start:  start,
		End:    start.Add(time.Duration(body.DurationMinutes) * time.Minute),
		Reason: body.Reason,
	})
	if err != nil {
		a.logger.Error(r.Context(), err, "create maintenance window failed")
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"window_id": id})
}

func (a *API) handleMaintenanceEnd(w http.ResponseWriter, r *http.Request) {
	var body struct {
		WindowID int64 `json:"window_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed payload")
		return
	}
	if err := a.store.EndMaintenanceWindow(r.Context(), body.WindowID); err != nil {
		a.logger.Error(r.Context(), err, "end maintenance window failed", "window_id", body.WindowID)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *API) handleMaintenanceStatus(w http.ResponseWriter, r *http.Request) {
	windows, err := a.store.ActiveMaintenanceWindows(r.Context(), time.Now())
	if err != nil {
		a.logger.Error(r.Context(), err, "maintenance status failed")
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active":  len(windows) > 0,
		"windows": windows,
	})
}

func (a *API) handleSelfRestart(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Target  store.RestartTarget `json:"target"`
		Reason  string              `json:"reason"`
		Context json.RawMessage     `json:"context"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed payload")
		return
	}
	id, err := a.self.Initiate(r.Context(), body.Target, body.Reason, body.Context)
	if err != nil {
		writeJSONError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"handoff_id": id})
}

func (a *API) handleSelfRestartStatus(w http.ResponseWriter, r *http.Request) {
	h, err := a.self.Current(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "self-restart status failed")
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"current_handoff": h})
}

func (a *API) handleSelfRestartCancel(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("handoff_id")
	reason := r.URL.Query().Get("reason")
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "handoff_id required")
		return
	}
	if err := a.self.Cancel(r.Context(), id, reason); err != nil {
		a.logger.Error(r.Context(), err, "self-restart cancel failed", "handoff_id", id)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleResume is called by the external orchestrator once it has completed
// (or given up on) a restart it was handed off.
func (a *API) handleResume(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("handoff_id")
	status := r.URL.Query().Get("status")
	errMsg := r.URL.Query().Get("error")
	if id == "" || status == "" {
		writeJSONError(w, http.StatusBadRequest, "handoff_id and status required")
		return
	}
	if err := a.self.Resume(r.Context(), id, store.HandoffStatus(status), errMsg); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
