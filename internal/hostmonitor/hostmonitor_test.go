package hostmonitor

import (
	"context"
	"errors"
	"testing"

	"github.com/linnemanlabs/jarvis/internal/log"
	"github.com/linnemanlabs/jarvis/internal/store"
	"github.com/linnemanlabs/jarvis/internal/store/memstore"
)

func newTestMonitor(t *testing.T) *Monitor {
	t.Helper()
	l, err := log.New(log.Config{Level: "error", Format: "text"})
	if err != nil {
		t.Fatalf("log.New: %v", err)
	}
	return New(memstore.New(), l, nil)
}

func TestRecordTransitionsOfflineAfterThreshold(t *testing.T) {
	m := newTestMonitor(t)
	ctx := context.Background()

	for i := 0; i < defaultThreshold-1; i++ {
		m.Record(ctx, "host-a", false, "connect refused")
		if !m.IsOnline("host-a") {
			t.Fatalf("host marked offline after only %d failures", i+1)
		}
	}
	m.Record(ctx, "host-a", false, "connect refused")
	if m.IsOnline("host-a") {
		t.Fatal("expected host offline after threshold consecutive failures")
	}
}

func TestUnknownHostIsOnline(t *testing.T) {
	m := newTestMonitor(t)
	if !m.IsOnline("never-seen") {
		t.Error("unknown host should be treated as online")
	}
}

func TestRecoverySignalFiresOnce(t *testing.T) {
	m := newTestMonitor(t)
	ctx := context.Background()

	calls := 0
	m.OnRecovery(func(_ context.Context, host string) { calls++ })

	for i := 0; i < defaultThreshold; i++ {
		m.Record(ctx, "host-b", false, "timeout")
	}
	if m.IsOnline("host-b") {
		t.Fatal("expected host-b offline")
	}

	m.Record(ctx, "host-b", true, "")
	if !m.IsOnline("host-b") {
		t.Fatal("expected host-b online after recovery")
	}
	if calls != 1 {
		t.Errorf("recovery handler called %d times, want 1", calls)
	}

	// a second success while already online must not re-fire recovery
	m.Record(ctx, "host-b", true, "")
	if calls != 1 {
		t.Errorf("recovery handler called %d times after steady-state success, want 1", calls)
	}
}

func TestOfflineHostsReflectsState(t *testing.T) {
	m := newTestMonitor(t)
	ctx := context.Background()

	for i := 0; i < defaultThreshold; i++ {
		m.Record(ctx, "host-c", false, "down")
	}

	offline := m.offlineHosts()
	if len(offline) != 1 || offline[0] != "host-c" {
		t.Fatalf("offlineHosts() = %v, want [host-c]", offline)
	}

	if err := probeAndRecord(ctx, m, "host-c", func(context.Context, string) error { return errors.New("still down") }); err == nil {
		t.Fatal("expected probe error to keep host offline")
	}
	if m.IsOnline("host-c") {
		t.Fatal("host should remain offline after a failed probe")
	}

	if err := probeAndRecord(ctx, m, "host-c", func(context.Context, string) error { return nil }); err != nil {
		t.Fatalf("probeAndRecord: %v", err)
	}
	if !m.IsOnline("host-c") {
		t.Fatal("host should be online after a successful probe")
	}
}

// probeAndRecord mirrors one iteration of RunProbe's loop body, for tests
// that don't want to wait on its 5-minute ticker.
func probeAndRecord(ctx context.Context, m *Monitor, host string, prober Prober) error {
	err := prober(ctx, host)
	if err != nil {
		m.Record(ctx, host, false, err.Error())
		return err
	}
	m.Record(ctx, host, true, "")
	return nil
}

func TestRehydrate(t *testing.T) {
	ms := memstore.New()
	ctx := context.Background()
	if err := ms.PutHostStatus(ctx, &store.HostStatus{HostName: "host-d", Status: store.HostOffline, ConsecutiveFailures: 5}); err != nil {
		t.Fatalf("PutHostStatus: %v", err)
	}

	l, err := log.New(log.Config{Level: "error", Format: "text"})
	if err != nil {
		t.Fatalf("log.New: %v", err)
	}
	m := New(ms, l, nil)
	if err := m.Rehydrate(ctx); err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}
	if m.IsOnline("host-d") {
		t.Error("expected host-d to be rehydrated as offline")
	}
}
