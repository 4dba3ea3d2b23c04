// Package analyzer is the Analyzer: a bounded, tool-calling agent loop
// that turns a firing alert into a RemediationPlan, or reports that none
// could be produced safely.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/jarvis/internal/alert"
	"github.com/linnemanlabs/jarvis/internal/jerr"
	"github.com/linnemanlabs/jarvis/internal/llm"
	"github.com/linnemanlabs/jarvis/internal/log"
	"github.com/linnemanlabs/jarvis/internal/sshexec"
	"github.com/linnemanlabs/jarvis/internal/store"
	"github.com/linnemanlabs/jarvis/internal/validator"
)

// kMax is the default bound on agent-loop iterations before giving up.
const kMax = 5

const diagnosticTimeout = 20 * time.Second

// Plan is the Analyzer's output: a proposed remediation.
type Plan struct {
	Analysis        string
	Reasoning       string
	Commands        []string
	ExpectedHost    string
	ExpectedOutcome string
}

// Request bundles everything the Analyzer needs to reason about one alert.
type Request struct {
	Alert          alert.Alert
	RecentAttempts []store.RemediationAttempt
	Hint           *store.RemediationPattern // non-nil only at medium confidence
	Inventory      []string                  // known host names
}

// Analyzer runs the bounded tool-calling loop against an LLM provider,
// executing read-only diagnostics over sshexec and never running a
// mutating command itself — that is Pipeline's job, after Validate.
type Analyzer struct {
	provider llm.Provider
	executor *sshexec.Executor
	logger   log.Logger
	store    store.Store
	kMax     int
}

// New creates an Analyzer. st may be nil, in which case tool invocations
// are not audit-logged (used in tests that don't exercise that path).
func New(provider llm.Provider, executor *sshexec.Executor, logger log.Logger, st store.Store) *Analyzer {
	return &Analyzer{provider: provider, executor: executor, logger: logger, store: st, kMax: kMax}
}

// Analyze runs the agent loop and returns a Plan, or an error wrapping
// jerr.NoSafePlan if the loop exhausts kMax iterations without a proposal.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (*Plan, error) {
	messages := []llm.Message{
		{Role: "user", Content: []llm.ContentBlock{{Type: "text", Text: buildInitialPrompt(req)}}},
	}

	for iter := 0; iter < a.kMax; iter++ {
		resp, err := a.sendWithRetry(ctx, &llm.Request{
			MaxTokens: 4096,
			System:    buildSystemPrompt(req),
			Messages:  messages,
			Tools:     toolDefs,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", jerr.NoSafePlan, err)
		}

		messages = append(messages, llm.Message{Role: "assistant", Content: resp.Content})

		if resp.StopReason != llm.StopToolUse {
			// Model ended the turn without proposing a plan.
			continue
		}

		var toolResults []llm.ContentBlock
		for _, block := range resp.Content {
			if block.Type != "tool_use" {
				continue
			}

			if block.Name == "propose_plan" {
				plan, err := parsePlan(block.Input)
				if err != nil {
					toolResults = append(toolResults, errorResult(block.ID, err))
					continue
				}
				return plan, nil
			}

			start := time.Now()
			output, err := a.runTool(ctx, block.Name, block.Input)
			a.auditToolCall(ctx, req.Alert.Name(), req.Alert.InstanceKey(), block.Name, block.Input, output, err, time.Since(start))
			if err != nil {
				toolResults = append(toolResults, errorResult(block.ID, err))
				continue
			}
			toolResults = append(toolResults, llm.ContentBlock{
				Type:      "tool_result",
				ToolUseID: block.ID,
				Content:   output,
			})
		}
		messages = append(messages, llm.Message{Role: "user", Content: toolResults})
	}

	return nil, fmt.Errorf("%w: exhausted %d iterations", jerr.NoSafePlan, a.kMax)
}

// sendWithRetry calls the provider once, and on error retries exactly once
// before giving up; the caller wraps a persistent failure as jerr.NoSafePlan
// rather than surfacing jerr.LLMError to the pipeline.
func (a *Analyzer) sendWithRetry(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	resp, err := a.provider.Send(ctx, req)
	if err == nil {
		return resp, nil
	}
	a.logger.Warn(ctx, "llm request failed, retrying once", "error", err.Error())
	resp, err = a.provider.Send(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", jerr.LLMError, err)
	}
	return resp, nil
}

func errorResult(toolUseID string, err error) llm.ContentBlock {
	return llm.ContentBlock{Type: "tool_result", ToolUseID: toolUseID, Content: err.Error(), IsError: true}
}

// auditToolCall records a diagnostic tool invocation for later inspection,
// distinct from RemediationAttempt rows, which cover only actionable
// commands. Best-effort: a logging failure never fails the agent loop.
func (a *Analyzer) auditToolCall(ctx context.Context, alertName, instanceKey, toolName string, input json.RawMessage, output string, toolErr error, dur time.Duration) {
	if a.store == nil {
		return
	}
	tc := &store.ToolCall{
		AlertName:   alertName,
		InstanceKey: instanceKey,
		ToolName:    toolName,
		Input:       input,
		Output:      output,
		DurationMS:  dur.Milliseconds(),
	}
	if toolErr != nil {
		tc.Error = toolErr.Error()
	}
	if _, err := a.store.RecordToolCall(ctx, tc); err != nil {
		a.logger.Error(ctx, err, "tool call audit log write failed", "tool", toolName)
	}
}

// runTool dispatches a diagnostic tool call. The fixed tools build their own
// read-only commands; only run_diagnostic_command's free-form command is
// checked with validator.ValidateReadOnly. No tool call is recorded as a
// remediation attempt.
func (a *Analyzer) runTool(ctx context.Context, name string, input json.RawMessage) (string, error) {
	switch name {
	case "gather_logs":
		var p struct {
			Host      string `json:"host"`
			Service   string `json:"service"`
			Kind      string `json:"kind"`
			TailLines int    `json:"tail_lines"`
		}
		if err := json.Unmarshal(input, &p); err != nil {
			return "", fmt.Errorf("invalid gather_logs params: %w", err)
		}
		if p.TailLines <= 0 {
			p.TailLines = 100
		}
		var cmd string
		switch p.Kind {
		case "docker":
			cmd = fmt.Sprintf("docker logs --tail %d %s 2>&1", p.TailLines, shellQuote(p.Service))
		default:
			cmd = fmt.Sprintf("journalctl -u %s -n %d --no-pager", shellQuote(p.Service), p.TailLines)
		}
		return a.execReadOnly(ctx, p.Host, cmd)

	case "check_service_status":
		var p struct {
			Host    string `json:"host"`
			Service string `json:"service"`
		}
		if err := json.Unmarshal(input, &p); err != nil {
			return "", fmt.Errorf("invalid check_service_status params: %w", err)
		}
		cmd := fmt.Sprintf("systemctl status %s --no-pager || docker ps -a --filter name=%s", shellQuote(p.Service), shellQuote(p.Service))
		return a.execReadOnly(ctx, p.Host, cmd)

	case "get_container_diagnostics":
		var p struct {
			Host      string `json:"host"`
			Container string `json:"container"`
		}
		if err := json.Unmarshal(input, &p); err != nil {
			return "", fmt.Errorf("invalid get_container_diagnostics params: %w", err)
		}
		cmd := fmt.Sprintf(
			"docker inspect --format '{{.State.Status}} health={{.State.Health.Status}} restarts={{.RestartCount}}' %s; docker logs --tail 50 %s 2>&1",
			shellQuote(p.Container), shellQuote(p.Container))
		return a.execReadOnly(ctx, p.Host, cmd)

	case "get_system_state":
		var p struct {
			Host string `json:"host"`
		}
		if err := json.Unmarshal(input, &p); err != nil {
			return "", fmt.Errorf("invalid get_system_state params: %w", err)
		}
		cmd := "df -h; echo ---; free -m; echo ---; uptime; echo ---; (docker info 2>/dev/null || true)"
		return a.execReadOnly(ctx, p.Host, cmd)

	case "run_diagnostic_command":
		var p struct {
			Host    string `json:"host"`
			Command string `json:"command"`
		}
		if err := json.Unmarshal(input, &p); err != nil {
			return "", fmt.Errorf("invalid run_diagnostic_command params: %w", err)
		}
		v := validator.ValidateReadOnly(p.Command)
		if !v.OK {
			return "", fmt.Errorf("%w: %s", jerr.CommandRejected, v.Reason)
		}
		return a.execReadOnly(ctx, p.Host, p.Command)

	default:
		return "", fmt.Errorf("unknown tool: %s", name)
	}
}

func (a *Analyzer) execReadOnly(ctx context.Context, host, cmd string) (string, error) {
	res, err := a.executor.Execute(ctx, host, cmd, diagnosticTimeout)
	if err != nil {
		return "", err
	}
	out := res.Stdout
	if res.Stderr != "" {
		out += "\n[stderr]\n" + res.Stderr
	}
	if res.TimedOut {
		out += "\n[diagnostic timed out]"
	}
	return out, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func parsePlan(input json.RawMessage) (*Plan, error) {
	var p struct {
		Commands        []string `json:"commands"`
		Reasoning       string   `json:"reasoning"`
		ExpectedHost    string   `json:"expected_host"`
		ExpectedOutcome string   `json:"expected_outcome"`
		Analysis        string   `json:"analysis"`
	}
	if err := json.Unmarshal(input, &p); err != nil {
		return nil, fmt.Errorf("invalid propose_plan params: %w", err)
	}
	if len(p.Commands) == 0 {
		return nil, fmt.Errorf("propose_plan requires at least one command")
	}
	return &Plan{
		Analysis:        p.Analysis,
		Reasoning:       p.Reasoning,
		Commands:        p.Commands,
		ExpectedHost:    p.ExpectedHost,
		ExpectedOutcome: p.ExpectedOutcome,
	}, nil
}

func buildSystemPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("You are Jarvis, an autonomous infrastructure remediation agent. ")
	b.WriteString("You investigate firing alerts using read-only diagnostic tools, then propose a remediation plan via propose_plan.\n\n")
	b.WriteString("Known hosts: " + strings.Join(req.Inventory, ", ") + "\n")
	b.WriteString("You are remediating on behalf of the service itself; never propose a command that stops, restarts, or removes jarvis, jarvis-db, jarvis-postgres, the container runtime, or the host.\n")
	b.WriteString("Investigate before proposing. If no safe remediation exists, call propose_plan with your best read-only fallback commented as expected_outcome, or simply stop without calling any tool.\n")
	return b.String()
}

func buildInitialPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Alert firing: %s\nSeverity: %s\nInstance: %s\n\n", req.Alert.Name(), req.Alert.Severity(), req.Alert.InstanceKey())

	labels, _ := json.MarshalIndent(req.Alert.Labels, "", "  ")
	fmt.Fprintf(&b, "Labels:\n%s\n\n", string(labels))

	if len(req.RecentAttempts) > 0 {
		b.WriteString("Recent attempts for this alert and instance (most recent first):\n")
		n := len(req.RecentAttempts)
		if n > 3 {
			n = 3
		}
		for _, att := range req.RecentAttempts[:n] {
			fmt.Fprintf(&b, "- attempt #%d: success=%v commands=%v error=%q\n",
				att.AttemptNumber, att.Success, att.Commands, redact(att.Error))
		}
		b.WriteString("\n")
	}

	if req.Hint != nil {
		fmt.Fprintf(&b, "A previously learned pattern with medium confidence (%.2f) matches this symptom:\n", req.Hint.Confidence)
		fmt.Fprintf(&b, "Root cause: %s\nSuggested commands: %v\nTreat this as a hint, not a directive; verify before using it.\n\n",
			req.Hint.RootCause, req.Hint.SolutionCommands)
	}

	b.WriteString("Investigate using the available tools, then call propose_plan.")
	return b.String()
}

// redact truncates attempt error text to 300 characters before it is folded
// into a prompt. It does not remove credentials or tokens from the text.
func redact(s string) string {
	if len(s) > 300 {
		s = s[:300] + "...(truncated)"
	}
	return s
}
