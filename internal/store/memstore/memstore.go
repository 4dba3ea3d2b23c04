// Package memstore provides an in-memory implementation of store.Store,
// suitable for development and tests.
package memstore

import (
	"sort"
	"strings"
	"sync"
	"time"

	"context"

	"github.com/linnemanlabs/jarvis/internal/jerr"
	"github.com/linnemanlabs/jarvis/internal/store"
)

// Store holds every Jarvis entity in memory, guarded by a single mutex.
type Store struct {
	mu sync.RWMutex

	nextAttemptID int64
	attempts      []store.RemediationAttempt

	nextPatternID int64
	patterns      map[int64]*store.RemediationPattern

	hostStatus map[string]*store.HostStatus

	nextSuppressionID int64
	suppressions      map[int64]*store.Suppression

	nextWindowID int64
	windows      map[int64]*store.MaintenanceWindow

	handoffs map[string]*store.SelfRestartHandoff

	nextToolCallID int64
	toolCalls      []store.ToolCall
}

// New initializes an empty Store.
func New() *Store {
	return &Store{
		patterns:     make(map[int64]*store.RemediationPattern),
		hostStatus:   make(map[string]*store.HostStatus),
		suppressions: make(map[int64]*store.Suppression),
		windows:      make(map[int64]*store.MaintenanceWindow),
		handoffs:     make(map[string]*store.SelfRestartHandoff),
	}
}

// Close is a no-op; memstore owns no external resources.
func (s *Store) Close() {}

func (s *Store) CountAttempts(_ context.Context, alertName, instanceKey string, windowHours int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := time.Now().Add(-time.Duration(windowHours) * time.Hour)
	n := 0
	for _, a := range s.attempts {
		if a.AlertName == alertName && a.InstanceKey == instanceKey && !a.TS.Before(cutoff) {
			n++
		}
	}
	return n, nil
}

func (s *Store) RecordAttempt(_ context.Context, a *store.RemediationAttempt) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextAttemptID++
	cp := *a
	cp.ID = s.nextAttemptID
	if cp.TS.IsZero() {
		cp.TS = time.Now()
	}
	s.attempts = append(s.attempts, cp)
	return cp.ID, nil
}

func (s *Store) ClearAttempts(_ context.Context, alertName, instanceKey string, windowHours int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-time.Duration(windowHours) * time.Hour)
	kept := s.attempts[:0]
	n := 0
	for _, a := range s.attempts {
		if a.AlertName == alertName && a.InstanceKey == instanceKey && !a.TS.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, a)
	}
	s.attempts = kept
	return n, nil
}

func (s *Store) GetPreviousAttempts(_ context.Context, alertName, instanceKey string, limit int) ([]store.RemediationAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []store.RemediationAttempt
	for _, a := range s.attempts {
		if a.AlertName == alertName && a.InstanceKey == instanceKey {
			matched = append(matched, a)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].TS.After(matched[j].TS) })
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *Store) FindPatterns(_ context.Context, alertName string) ([]store.RemediationPattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.RemediationPattern
	for _, p := range s.patterns {
		if p.AlertName == alertName && p.Enabled {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UsageCount > out[j].UsageCount })
	return out, nil
}

func (s *Store) GetPattern(_ context.Context, id int64) (*store.RemediationPattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patterns[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *Store) ListPatterns(_ context.Context, minConfidence float64, limit int) ([]store.RemediationPattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.RemediationPattern
	for _, p := range s.patterns {
		if p.Enabled && p.Confidence >= minConfidence {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpsertPattern(_ context.Context, p *store.RemediationPattern) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.patterns {
		if existing.AlertName == p.AlertName && existing.SymptomFingerprint == p.SymptomFingerprint {
			cp := *p
			cp.ID = id
			cp.SuccessCount = existing.SuccessCount + p.SuccessCount
			cp.FailureCount = existing.FailureCount + p.FailureCount
			if total := cp.SuccessCount + cp.FailureCount; total > 0 {
				cp.Confidence = float64(cp.SuccessCount) / float64(total)
			}
			cp.UsageCount = existing.UsageCount
			cp.AvgExecutionTimeS = existing.AvgExecutionTimeS
			cp.CreatedAt = existing.CreatedAt
			cp.LastUsedAt = existing.LastUsedAt
			cp.UpdatedAt = time.Now()
			s.patterns[id] = &cp
			return id, nil
		}
	}
	s.nextPatternID++
	cp := *p
	cp.ID = s.nextPatternID
	now := time.Now()
	cp.CreatedAt, cp.UpdatedAt = now, now
	s.patterns[cp.ID] = &cp
	return cp.ID, nil
}

func (s *Store) UpdatePatternOutcome(_ context.Context, id int64, success bool, executionTimeS float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patterns[id]
	if !ok {
		return nil
	}
	p.AvgExecutionTimeS = (p.AvgExecutionTimeS*float64(p.UsageCount) + executionTimeS) / float64(p.UsageCount+1)
	p.UsageCount++
	if success {
		p.SuccessCount++
	} else {
		p.FailureCount++
	}
	p.Confidence = float64(p.SuccessCount) / float64(p.SuccessCount+p.FailureCount)
	p.LastUsedAt = time.Now()
	p.UpdatedAt = p.LastUsedAt
	return nil
}

func (s *Store) GetHostStatus(_ context.Context, host string) (*store.HostStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hs, ok := s.hostStatus[host]
	if !ok {
		return nil, nil
	}
	cp := *hs
	return &cp, nil
}

func (s *Store) PutHostStatus(_ context.Context, hs *store.HostStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *hs
	s.hostStatus[hs.HostName] = &cp
	return nil
}

func (s *Store) ListHostStatuses(_ context.Context) ([]store.HostStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.HostStatus
	for _, hs := range s.hostStatus {
		out = append(out, *hs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HostName < out[j].HostName })
	return out, nil
}

func (s *Store) GetActiveSuppression(_ context.Context, rootCauseAlert, rootCauseInstance string) (*store.Suppression, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now()
	var best *store.Suppression
	for _, sp := range s.suppressions {
		if sp.RootCauseAlert == rootCauseAlert && sp.RootCauseInstance == rootCauseInstance && sp.SuppressedUntil.After(now) {
			if best == nil || sp.SuppressedUntil.After(best.SuppressedUntil) {
				cp := *sp
				best = &cp
			}
		}
	}
	return best, nil
}

func (s *Store) PutSuppression(_ context.Context, sp *store.Suppression) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSuppressionID++
	cp := *sp
	cp.ID = s.nextSuppressionID
	s.suppressions[cp.ID] = &cp
	return cp.ID, nil
}

func (s *Store) ClearSuppressionsForHost(_ context.Context, host string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	now := time.Now()
	for _, sp := range s.suppressions {
		if strings.HasPrefix(sp.RootCauseInstance, host+":") && sp.SuppressedUntil.After(now) {
			sp.SuppressedUntil = now
			n++
		}
	}
	return n, nil
}

func (s *Store) ListActiveSuppressions(_ context.Context) ([]store.Suppression, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now()
	var out []store.Suppression
	for _, sp := range s.suppressions {
		if sp.SuppressedUntil.After(now) {
			out = append(out, *sp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SuppressedUntil.Before(out[j].SuppressedUntil) })
	return out, nil
}

func (s *Store) CreateMaintenanceWindow(_ context.Context, w *store.MaintenanceWindow) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextWindowID++
	cp := *w
	cp.ID = s.nextWindowID
	s.windows[cp.ID] = &cp
	return cp.ID, nil
}

func (s *Store) EndMaintenanceWindow(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[id]
	if !ok {
		return nil
	}
	w.End = time.Now()
	return nil
}

func (s *Store) ActiveMaintenanceWindows(_ context.Context, at time.Time) ([]store.MaintenanceWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.MaintenanceWindow
	for _, w := range s.windows {
		if !at.Before(w.Start) && at.Before(w.End) {
			out = append(out, *w)
		}
	}
	return out, nil
}

func (s *Store) CreateHandoff(_ context.Context, h *store.SelfRestartHandoff) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.handoffs {
		if existing.Status == store.HandoffPending || existing.Status == store.HandoffInProgress {
			return jerr.HandoffConflict
		}
	}
	cp := *h
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.handoffs[cp.HandoffID] = &cp
	return nil
}

func (s *Store) GetHandoff(_ context.Context, id string) (*store.SelfRestartHandoff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handoffs[id]
	if !ok {
		return nil, nil
	}
	cp := *h
	return &cp, nil
}

func (s *Store) GetActiveHandoff(_ context.Context) (*store.SelfRestartHandoff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, h := range s.handoffs {
		if h.Status == store.HandoffPending || h.Status == store.HandoffInProgress {
			cp := *h
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Store) TransitionHandoff(_ context.Context, id string, status store.HandoffStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handoffs[id]
	if !ok {
		return nil
	}
	h.Status = status
	h.Error = errMsg
	if status == store.HandoffCompleted || status == store.HandoffFailed ||
		status == store.HandoffTimeout || status == store.HandoffCancelled {
		h.CompletedAt = time.Now()
	}
	return nil
}

func (s *Store) SweepTimedOutHandoffs(_ context.Context, olderThan time.Duration) ([]store.SelfRestartHandoff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var out []store.SelfRestartHandoff
	for _, h := range s.handoffs {
		if (h.Status == store.HandoffPending || h.Status == store.HandoffInProgress) && h.CreatedAt.Before(cutoff) {
			h.Status = store.HandoffTimeout
			h.Error = "handoff timed out"
			h.CompletedAt = time.Now()
			out = append(out, *h)
		}
	}
	return out, nil
}

func (s *Store) RecordToolCall(_ context.Context, tc *store.ToolCall) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextToolCallID++
	cp := *tc
	cp.ID = s.nextToolCallID
	if cp.TS.IsZero() {
		cp.TS = time.Now()
	}
	s.toolCalls = append(s.toolCalls, cp)
	return cp.ID, nil
}

func (s *Store) ListToolCalls(_ context.Context, alertName, instanceKey string, limit int) ([]store.ToolCall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []store.ToolCall
	for _, tc := range s.toolCalls {
		if tc.AlertName == alertName && tc.InstanceKey == instanceKey {
			matched = append(matched, tc)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].TS.After(matched[j].TS) })
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *Store) Analytics(_ context.Context, since time.Time) (*store.AnalyticsSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := &store.AnalyticsSummary{WindowStart: since, ByAlertName: map[string]store.AlertNameStats{}}
	for _, a := range s.attempts {
		if a.TS.Before(since) {
			continue
		}
		sum.TotalAttempts++
		st := sum.ByAlertName[a.AlertName]
		st.Attempts++
		if a.Success {
			sum.SuccessfulCount++
			st.Successes++
		} else {
			sum.FailedCount++
			st.Failures++
		}
		if a.Escalated {
			sum.EscalationCount++
		}
		sum.ByAlertName[a.AlertName] = st
	}
	for _, sp := range s.suppressions {
		if sp.SuppressedUntil.After(since) {
			sum.SuppressedCount++
		}
	}
	if sum.TotalAttempts > 0 {
		sum.SuccessRate = float64(sum.SuccessfulCount) / float64(sum.TotalAttempts)
	}
	sum.EstimatedSavings = float64(sum.SuccessfulCount) * 0.25
	return sum, nil
}

var _ store.Store = (*Store)(nil)
