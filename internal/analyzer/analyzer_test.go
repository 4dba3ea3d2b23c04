package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/linnemanlabs/jarvis/internal/alert"
	"github.com/linnemanlabs/jarvis/internal/jerr"
	"github.com/linnemanlabs/jarvis/internal/llm"
	"github.com/linnemanlabs/jarvis/internal/log"
	"github.com/linnemanlabs/jarvis/internal/sshexec"
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

func testExecutor(t *testing.T) *sshexec.Executor {
	t.Helper()
	e, err := sshexec.New(nil, "", "", testLogger(t), nil)
	if err != nil {
		t.Fatalf("sshexec.New: %v", err)
	}
	return e
}

// scriptedProvider returns a fixed sequence of responses, one per Send call.
type scriptedProvider struct {
	responses []*llm.Response
	calls     int
}

func (p *scriptedProvider) Send(_ context.Context, _ *llm.Request) (*llm.Response, error) {
	if p.calls >= len(p.responses) {
		return &llm.Response{StopReason: llm.StopEnd}, nil
	}
	r := p.responses[p.calls]
	p.calls++
	return r, nil
}

// failingProvider always returns err, to exercise the one-retry-then-give-up
// path.
type failingProvider struct {
	err   error
	calls int
}

func (p *failingProvider) Send(_ context.Context, _ *llm.Request) (*llm.Response, error) {
	p.calls++
	return nil, p.err
}

// flakyProvider fails its first call, then answers scriptedly, to exercise
// the single retry recovering from a transient error.
type flakyProvider struct {
	err       error
	failed    bool
	responses []*llm.Response
	calls     int
}

func (p *flakyProvider) Send(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if !p.failed {
		p.failed = true
		return nil, p.err
	}
	if p.calls >= len(p.responses) {
		return &llm.Response{StopReason: llm.StopEnd}, nil
	}
	r := p.responses[p.calls]
	p.calls++
	return r, nil
}

func toolUseResponse(id, name string, input string) *llm.Response {
	return &llm.Response{
		StopReason: llm.StopToolUse,
		Content: []llm.ContentBlock{
			{Type: "tool_use", ID: id, Name: name, Input: json.RawMessage(input)},
		},
	}
}

func mkAlert() alert.Alert {
	return alert.Alert{
		Labels: map[string]string{"alertname": "ContainerRestarting", "severity": "warning", "host": "db-01", "container": "api"},
	}
}

func TestAnalyzeProposesPlanDirectly(t *testing.T) {
	provider := &scriptedProvider{
		responses: []*llm.Response{
			toolUseResponse("tu-1", "propose_plan", `{"commands":["docker restart api"],"reasoning":"container is unhealthy","analysis":"crash loop"}`),
		},
	}
	a := New(provider, testExecutor(t), testLogger(t), nil)

	plan, err := a.Analyze(context.Background(), Request{Alert: mkAlert(), Inventory: []string{"db-01"}})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(plan.Commands) != 1 || plan.Commands[0] != "docker restart api" {
		t.Errorf("Commands = %v", plan.Commands)
	}
}

func TestAnalyzeRunsDiagnosticBeforeProposing(t *testing.T) {
	provider := &scriptedProvider{
		responses: []*llm.Response{
			toolUseResponse("tu-1", "get_system_state", `{"host":"self"}`),
			toolUseResponse("tu-2", "propose_plan", `{"commands":["systemctl restart api"],"reasoning":"disk pressure resolved"}`),
		},
	}
	a := New(provider, testExecutor(t), testLogger(t), nil)

	plan, err := a.Analyze(context.Background(), Request{Alert: mkAlert(), Inventory: []string{"self"}})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if provider.calls != 2 {
		t.Errorf("calls = %d, want 2", provider.calls)
	}
	if plan.Reasoning != "disk pressure resolved" {
		t.Errorf("Reasoning = %q", plan.Reasoning)
	}
}

func TestAnalyzeRejectsMutatingDiagnosticCommand(t *testing.T) {
	provider := &scriptedProvider{
		responses: []*llm.Response{
			toolUseResponse("tu-1", "run_diagnostic_command", `{"host":"self","command":"rm -rf /tmp/x"}`),
			toolUseResponse("tu-2", "propose_plan", `{"commands":["echo ok"],"reasoning":"fallback"}`),
		},
	}
	a := New(provider, testExecutor(t), testLogger(t), nil)

	_, err := a.Analyze(context.Background(), Request{Alert: mkAlert()})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
}

func TestAnalyzeExhaustsLoopWithoutPlan(t *testing.T) {
	responses := make([]*llm.Response, 0, kMax)
	for i := 0; i < kMax; i++ {
		responses = append(responses, toolUseResponse("tu", "get_system_state", `{"host":"self"}`))
	}
	provider := &scriptedProvider{responses: responses}
	a := New(provider, testExecutor(t), testLogger(t), nil)

	_, err := a.Analyze(context.Background(), Request{Alert: mkAlert()})
	if !errors.Is(err, jerr.NoSafePlan) {
		t.Fatalf("err = %v, want jerr.NoSafePlan", err)
	}
}

func TestAnalyzeIncludesHintAndRecentAttempts(t *testing.T) {
	provider := &scriptedProvider{
		responses: []*llm.Response{
			toolUseResponse("tu-1", "propose_plan", `{"commands":["docker restart api"],"reasoning":"matches known pattern"}`),
		},
	}
	a := New(provider, testExecutor(t), testLogger(t), nil)

	_, err := a.Analyze(context.Background(), Request{
		Alert: mkAlert(),
		RecentAttempts: []store.RemediationAttempt{
			{AttemptNumber: 1, Success: false, Commands: []string{"docker restart api"}, Error: "timed out"},
		},
	})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
}

func TestAnalyzeRetriesOnceThenReportsNoSafePlan(t *testing.T) {
	provider := &failingProvider{err: errors.New("connection reset")}
	a := New(provider, testExecutor(t), testLogger(t), nil)

	_, err := a.Analyze(context.Background(), Request{Alert: mkAlert()})
	if !errors.Is(err, jerr.NoSafePlan) {
		t.Fatalf("err = %v, want jerr.NoSafePlan", err)
	}
	if provider.calls != 2 {
		t.Errorf("calls = %d, want 2 (one retry)", provider.calls)
	}
}

func TestAnalyzeRecoversAfterOneRetry(t *testing.T) {
	provider := &flakyProvider{
		err: errors.New("timeout"),
		responses: []*llm.Response{
			toolUseResponse("tu-1", "propose_plan", `{"commands":["docker restart api"],"reasoning":"recovered after retry"}`),
		},
	}
	a := New(provider, testExecutor(t), testLogger(t), nil)

	plan, err := a.Analyze(context.Background(), Request{Alert: mkAlert()})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if plan.Reasoning != "recovered after retry" {
		t.Errorf("Reasoning = %q", plan.Reasoning)
	}
}

func TestAnalyzeAuditsToolCalls(t *testing.T) {
	provider := &scriptedProvider{
		responses: []*llm.Response{
			toolUseResponse("tu-1", "get_system_state", `{"host":"self"}`),
			toolUseResponse("tu-2", "propose_plan", `{"commands":["echo ok"],"reasoning":"disk is fine"}`),
		},
	}
	st := memstore.New()
	a := New(provider, testExecutor(t), testLogger(t), st)
	al := mkAlert()

	if _, err := a.Analyze(context.Background(), Request{Alert: al}); err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	calls, err := st.ListToolCalls(context.Background(), al.Name(), al.InstanceKey(), 10)
	if err != nil {
		t.Fatalf("ListToolCalls: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("recorded %d tool calls, want 1", len(calls))
	}
	if calls[0].ToolName != "get_system_state" {
		t.Errorf("ToolName = %q, want get_system_state", calls[0].ToolName)
	}
}
