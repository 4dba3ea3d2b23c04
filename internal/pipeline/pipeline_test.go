package pipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/linnemanlabs/jarvis/internal/alert"
	"github.com/linnemanlabs/jarvis/internal/analyzer"
	"github.com/linnemanlabs/jarvis/internal/hostmonitor"
	"github.com/linnemanlabs/jarvis/internal/learner"
	"github.com/linnemanlabs/jarvis/internal/llm"
	"github.com/linnemanlabs/jarvis/internal/log"
	"github.com/linnemanlabs/jarvis/internal/notify"
	"github.com/linnemanlabs/jarvis/internal/sshexec"
	"github.com/linnemanlabs/jarvis/internal/store"
	"github.com/linnemanlabs/jarvis/internal/store/memstore"
	"github.com/linnemanlabs/jarvis/internal/suppressor"
)

func testLogger(t *testing.T) log.Logger {
	t.Helper()
	l, err := log.New(log.Config{Level: "error", Format: "text"})
	if err != nil {
		t.Fatalf("log.New: %v", err)
	}
	return l
}

// fixedPlanProvider always proposes the same plan on its first turn.
type fixedPlanProvider struct {
	commands []string
	host     string
}

func (f fixedPlanProvider) Send(_ context.Context, _ *llm.Request) (*llm.Response, error) {
	input, _ := json.Marshal(map[string]any{
		"commands":      f.commands,
		"reasoning":     "restart the unhealthy container",
		"expected_host": f.host,
		"analysis":      "container omada is unhealthy",
	})
	return &llm.Response{
		StopReason: llm.StopToolUse,
		Content: []llm.ContentBlock{
			{Type: "tool_use", ID: "t1", Name: "propose_plan", Input: input},
		},
	}, nil
}

func newTestExecutor(t *testing.T) *sshexec.Executor {
	t.Helper()
	ex, err := sshexec.New(nil, "", "", testLogger(t), nil)
	if err != nil {
		t.Fatalf("sshexec.New: %v", err)
	}
	return ex
}

func newPipeline(t *testing.T, st store.Store, provider llm.Provider, n notify.Notifier) *Pipeline {
	t.Helper()
	logger := testLogger(t)
	hosts := hostmonitor.New(st, logger, nil)
	sup := suppressor.New(st, n, logger)
	lrn := learner.New(st, 0.75, 0.50)
	an := analyzer.New(provider, newTestExecutor(t), logger, st)
	return New(st, hosts, sup, lrn, an, newTestExecutor(t), n, logger, Config{
		MaxAttemptsPerAlert: 20,
		AttemptWindowHours:  2,
		CommandTimeoutSec:   5,
	})
}

func mkAlert(name, host, container string) alert.Alert {
	return alert.Alert{
		Status: alert.StatusFiring,
		Labels: map[string]string{
			"alertname": name,
			"severity":  "critical",
			"host":      host,
			"container": container,
			"instance":  host + ":" + container,
		},
		StartsAt: time.Now(),
	}
}

type recordingNotifier struct {
	kinds []notify.Kind
}

func (r *recordingNotifier) Send(_ context.Context, n notify.Notification) error {
	r.kinds = append(r.kinds, n.Kind)
	return nil
}

func TestProcessResolvedClearsAttempts(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	if _, err := st.RecordAttempt(ctx, &store.RemediationAttempt{AlertName: "ContainerDown", InstanceKey: "nexus:omada", TS: time.Now()}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	p := newPipeline(t, st, fixedPlanProvider{}, nil)
	a := mkAlert("ContainerDown", "nexus", "omada")
	a.Status = alert.StatusResolved

	if err := p.Process(ctx, a); err != nil {
		t.Fatalf("Process: %v", err)
	}

	count, err := st.CountAttempts(ctx, "ContainerDown", "nexus:omada", 2)
	if err != nil {
		t.Fatalf("CountAttempts: %v", err)
	}
	if count != 0 {
		t.Errorf("expected attempts cleared, got %d", count)
	}
}

func TestProcessSkipsDuringMaintenanceWindow(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	if _, err := st.CreateMaintenanceWindow(ctx, &store.MaintenanceWindow{
		Start: time.Now().Add(-time.Minute),
		End:   time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("seed maintenance window: %v", err)
	}

	n := &recordingNotifier{}
	p := newPipeline(t, st, fixedPlanProvider{}, n)
	a := mkAlert("ContainerDown", "nexus", "omada")

	if err := p.Process(ctx, a); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(n.kinds) != 0 {
		t.Errorf("expected no notification during maintenance, got %v", n.kinds)
	}
}

func TestProcessExecutesActionablePlanAndRecordsSuccess(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	n := &recordingNotifier{}
	provider := fixedPlanProvider{commands: []string{"docker restart omada"}, host: sshexec.SelfHost}
	p := newPipeline(t, st, provider, n)

	a := mkAlert("ContainerDown", sshexec.SelfHost, "omada")
	if err := p.Process(ctx, a); err != nil {
		t.Fatalf("Process: %v", err)
	}

	attempts, err := st.GetPreviousAttempts(ctx, "ContainerDown", a.InstanceKey(), 10)
	if err != nil {
		t.Fatalf("GetPreviousAttempts: %v", err)
	}
	if len(attempts) != 1 {
		t.Fatalf("expected one recorded attempt, got %d", len(attempts))
	}
	if len(n.kinds) != 1 || (n.kinds[0] != notify.KindSuccess && n.kinds[0] != notify.KindFailure) {
		t.Errorf("expected a success or failure notification, got %v", n.kinds)
	}
}

func TestProcessStopsWithNoActionableCommands(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	n := &recordingNotifier{}
	provider := fixedPlanProvider{commands: []string{"docker logs omada"}, host: sshexec.SelfHost}
	p := newPipeline(t, st, provider, n)

	a := mkAlert("ContainerDown", sshexec.SelfHost, "omada")
	if err := p.Process(ctx, a); err != nil {
		t.Fatalf("Process: %v", err)
	}

	attempts, err := st.GetPreviousAttempts(ctx, "ContainerDown", a.InstanceKey(), 10)
	if err != nil {
		t.Fatalf("GetPreviousAttempts: %v", err)
	}
	if len(attempts) != 0 {
		t.Errorf("expected no recorded attempt for diagnostic-only plan, got %d", len(attempts))
	}
	if len(n.kinds) != 0 {
		t.Errorf("expected no notification for diagnostic-only plan, got %v", n.kinds)
	}
}

func TestProcessReportsSSHOutcomesToHostMonitor(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	provider := fixedPlanProvider{commands: []string{"false"}, host: sshexec.SelfHost}
	p := newPipeline(t, st, provider, nil)

	for i := 0; i < 3; i++ {
		a := mkAlert("ContainerDown", sshexec.SelfHost, "omada")
		if err := p.Process(ctx, a); err != nil {
			t.Fatalf("Process[%d]: %v", i, err)
		}
	}

	if p.hosts.IsOnline(sshexec.SelfHost) {
		t.Error("expected host to be marked offline after 3 consecutive actionable failures")
	}
}

func TestProcessActivatesSuppressionForOfflineRootCauseHost(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	provider := fixedPlanProvider{commands: []string{"docker restart web-agent"}, host: "down-host"}
	p := newPipeline(t, st, provider, nil)

	for i := 0; i < 3; i++ {
		p.hosts.Record(ctx, "down-host", false, "dial timeout")
	}
	if p.hosts.IsOnline("down-host") {
		t.Fatal("test setup: expected down-host to be offline")
	}

	a := mkAlert("HostDown", "down-host", "")
	if err := p.Process(ctx, a); err != nil {
		t.Fatalf("Process: %v", err)
	}

	sups, err := st.ListActiveSuppressions(ctx)
	if err != nil {
		t.Fatalf("ListActiveSuppressions: %v", err)
	}
	if len(sups) != 1 || sups[0].RootCauseAlert != "HostDown" {
		t.Fatalf("expected one HostDown suppression, got %+v", sups)
	}
}

func TestProcessEscalatesAtAttemptLimit(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	n := &recordingNotifier{}
	p := newPipeline(t, st, fixedPlanProvider{}, n)
	p.maxAttempts = 1

	for i := 0; i < 1; i++ {
		if _, err := st.RecordAttempt(ctx, &store.RemediationAttempt{
			AlertName: "ContainerDown", InstanceKey: "nexus:omada", TS: time.Now(), AttemptNumber: i + 1,
		}); err != nil {
			t.Fatalf("seed attempt: %v", err)
		}
	}

	a := mkAlert("ContainerDown", "nexus", "omada")
	if err := p.Process(ctx, a); err != nil {
		t.Fatalf("Process: %v", err)
	}

	found := false
	for _, k := range n.kinds {
		if k == notify.KindEscalation {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an escalation notification, got %v", n.kinds)
	}
}
