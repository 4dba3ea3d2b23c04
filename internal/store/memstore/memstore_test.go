package memstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/jarvis/internal/jerr"
	"github.com/linnemanlabs/jarvis/internal/store"
)

func TestRecordAndCountAttempts(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	id, err := s.RecordAttempt(ctx, &store.RemediationAttempt{AlertName: "DiskFull", InstanceKey: "h1:d", AttemptNumber: 1})
	if err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}
	if id == 0 {
		t.Fatal("RecordAttempt returned id 0")
	}

	n, err := s.CountAttempts(ctx, "DiskFull", "h1:d", 24)
	if err != nil {
		t.Fatalf("CountAttempts: %v", err)
	}
	if n != 1 {
		t.Errorf("CountAttempts = %d, want 1", n)
	}
}

func TestClearAttempts(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	_, _ = s.RecordAttempt(ctx, &store.RemediationAttempt{AlertName: "A", InstanceKey: "h1"})
	_, _ = s.RecordAttempt(ctx, &store.RemediationAttempt{AlertName: "A", InstanceKey: "h1"})
	_, _ = s.RecordAttempt(ctx, &store.RemediationAttempt{AlertName: "B", InstanceKey: "h1"})

	n, err := s.ClearAttempts(ctx, "A", "h1", 24)
	if err != nil {
		t.Fatalf("ClearAttempts: %v", err)
	}
	if n != 2 {
		t.Errorf("ClearAttempts removed %d, want 2", n)
	}

	remaining, err := s.GetPreviousAttempts(ctx, "A", "h1", 10)
	if err != nil {
		t.Fatalf("GetPreviousAttempts: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("remaining = %d, want 0", len(remaining))
	}
}

func TestClearAttemptsRetainsRowsOutsideWindow(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	_, _ = s.RecordAttempt(ctx, &store.RemediationAttempt{AlertName: "A", InstanceKey: "h1", TS: time.Now().Add(-48 * time.Hour)})
	_, _ = s.RecordAttempt(ctx, &store.RemediationAttempt{AlertName: "A", InstanceKey: "h1", TS: time.Now()})

	n, err := s.ClearAttempts(ctx, "A", "h1", 2)
	if err != nil {
		t.Fatalf("ClearAttempts: %v", err)
	}
	if n != 1 {
		t.Errorf("ClearAttempts removed %d, want 1", n)
	}

	remaining, err := s.GetPreviousAttempts(ctx, "A", "h1", 10)
	if err != nil {
		t.Fatalf("GetPreviousAttempts: %v", err)
	}
	if len(remaining) != 1 {
		t.Fatalf("remaining = %d, want 1 (older row retained for analytics)", len(remaining))
	}
}

func TestUpsertPatternConflict(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	id1, err := s.UpsertPattern(ctx, &store.RemediationPattern{AlertName: "A", SymptomFingerprint: "fp1", Confidence: 0.5})
	if err != nil {
		t.Fatalf("UpsertPattern: %v", err)
	}

	id2, err := s.UpsertPattern(ctx, &store.RemediationPattern{AlertName: "A", SymptomFingerprint: "fp1", Confidence: 0.9})
	if err != nil {
		t.Fatalf("UpsertPattern update: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected conflict to update same row: id1=%d id2=%d", id1, id2)
	}

	got, err := s.GetPattern(ctx, id1)
	if err != nil || got == nil {
		t.Fatalf("GetPattern: %v, %v", got, err)
	}
	if got.Confidence != 0.9 {
		t.Errorf("Confidence = %v, want 0.9", got.Confidence)
	}
}

func TestUpsertPatternAccumulatesCounts(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	id, err := s.UpsertPattern(ctx, &store.RemediationPattern{
		AlertName: "A", SymptomFingerprint: "fp1",
		SuccessCount: 1, FailureCount: 3, Confidence: 0.25,
	})
	if err != nil {
		t.Fatalf("UpsertPattern: %v", err)
	}
	if err := s.UpdatePatternOutcome(ctx, id, true, 1.0); err != nil {
		t.Fatalf("UpdatePatternOutcome: %v", err)
	}

	if _, err := s.UpsertPattern(ctx, &store.RemediationPattern{
		AlertName: "A", SymptomFingerprint: "fp1",
		SuccessCount: 1, FailureCount: 0, Confidence: 0.8,
	}); err != nil {
		t.Fatalf("UpsertPattern re-extract: %v", err)
	}

	got, err := s.GetPattern(ctx, id)
	if err != nil || got == nil {
		t.Fatalf("GetPattern: %v, %v", got, err)
	}
	if got.SuccessCount != 3 || got.FailureCount != 3 {
		t.Errorf("SuccessCount=%d FailureCount=%d, want 3 and 3 (accumulated, not reset)", got.SuccessCount, got.FailureCount)
	}
	if got.UsageCount != 1 {
		t.Errorf("UsageCount = %d, want 1 (preserved from UpdatePatternOutcome, not wiped by Upsert)", got.UsageCount)
	}
}

func TestHandoffSingleActive(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	if err := s.CreateHandoff(ctx, &store.SelfRestartHandoff{HandoffID: "h1", Status: store.HandoffPending}); err != nil {
		t.Fatalf("CreateHandoff: %v", err)
	}

	err := s.CreateHandoff(ctx, &store.SelfRestartHandoff{HandoffID: "h2", Status: store.HandoffPending})
	if err == nil {
		t.Fatal("expected conflict creating second active handoff")
	}
	if err != jerr.HandoffConflict {
		t.Errorf("err = %v, want jerr.HandoffConflict", err)
	}

	if err := s.TransitionHandoff(ctx, "h1", store.HandoffCompleted, ""); err != nil {
		t.Fatalf("TransitionHandoff: %v", err)
	}
	if err := s.CreateHandoff(ctx, &store.SelfRestartHandoff{HandoffID: "h2", Status: store.HandoffPending}); err != nil {
		t.Fatalf("CreateHandoff after completion: %v", err)
	}
}

func TestSweepTimedOutHandoffs(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	_ = s.CreateHandoff(ctx, &store.SelfRestartHandoff{HandoffID: "stale", Status: store.HandoffInProgress, CreatedAt: time.Now().Add(-time.Hour)})

	out, err := s.SweepTimedOutHandoffs(ctx, 10*time.Minute)
	if err != nil {
		t.Fatalf("SweepTimedOutHandoffs: %v", err)
	}
	if len(out) != 1 || out[0].Status != store.HandoffTimeout {
		t.Fatalf("swept = %+v", out)
	}
}

func TestActiveSuppressionAndClear(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	_, err := s.PutSuppression(ctx, &store.Suppression{
		RootCauseAlert:    "HostDown",
		RootCauseInstance: "h1:svc",
		SuppressedUntil:   time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("PutSuppression: %v", err)
	}

	got, err := s.GetActiveSuppression(ctx, "HostDown", "h1:svc")
	if err != nil || got == nil {
		t.Fatalf("GetActiveSuppression: %v, %v", got, err)
	}

	n, err := s.ClearSuppressionsForHost(ctx, "h1")
	if err != nil {
		t.Fatalf("ClearSuppressionsForHost: %v", err)
	}
	if n != 1 {
		t.Errorf("cleared = %d, want 1", n)
	}

	got, err = s.GetActiveSuppression(ctx, "HostDown", "h1:svc")
	if err != nil {
		t.Fatalf("GetActiveSuppression: %v", err)
	}
	if got != nil {
		t.Errorf("expected suppression cleared, got %+v", got)
	}
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	const n = 100

	var wg sync.WaitGroup
	wg.Add(n * 2)
	for i := range n {
		alertName := fmt.Sprintf("alert-%d", i)
		go func() {
			defer wg.Done()
			_, _ = s.RecordAttempt(ctx, &store.RemediationAttempt{AlertName: alertName, InstanceKey: "h"})
		}()
		go func() {
			defer wg.Done()
			_, _ = s.CountAttempts(ctx, alertName, "h", 1)
		}()
	}
	wg.Wait()
}
