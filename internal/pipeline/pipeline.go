// Package pipeline is the orchestration core: given one inbound
// alert, it runs the full decide-plan-validate-execute-learn-notify
// sequence, wiring every other component together.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/jarvis/internal/alert"
	"github.com/linnemanlabs/jarvis/internal/analyzer"
	"github.com/linnemanlabs/jarvis/internal/hostmonitor"
	"github.com/linnemanlabs/jarvis/internal/learner"
	"github.com/linnemanlabs/jarvis/internal/log"
	"github.com/linnemanlabs/jarvis/internal/notify"
	"github.com/linnemanlabs/jarvis/internal/sshexec"
	"github.com/linnemanlabs/jarvis/internal/store"
	"github.com/linnemanlabs/jarvis/internal/suppressor"
	"github.com/linnemanlabs/jarvis/internal/validator"
)

// diagnosticTimeout bounds each diagnostic command within a plan;
// CommandTimeoutSec from config governs the actionable phase.
const diagnosticTimeout = 20 * time.Second

// Pipeline wires Store, HostMonitor, Suppressor, Learner, Analyzer,
// SSHExecutor, Validator, and Notifier together to process one alert at a
// time. A single Pipeline is safe for concurrent use from multiple
// goroutines (Process holds no lock across suspension points).
type Pipeline struct {
	store      store.Store
	hosts      *hostmonitor.Monitor
	suppressor *suppressor.Suppressor
	learner    *learner.Learner
	analyzer   *analyzer.Analyzer
	executor   *sshexec.Executor
	notifier   notify.Notifier
	logger     log.Logger

	maxAttempts       int
	attemptWindowHours int
	commandTimeout    time.Duration
}

// Config bundles the tunables Pipeline needs beyond its collaborators.
type Config struct {
	MaxAttemptsPerAlert int
	AttemptWindowHours  int
	CommandTimeoutSec   int
}

// New creates a Pipeline.
func New(
	st store.Store,
	hosts *hostmonitor.Monitor,
	sup *suppressor.Suppressor,
	lrn *learner.Learner,
	an *analyzer.Analyzer,
	executor *sshexec.Executor,
	notifier notify.Notifier,
	logger log.Logger,
	cfg Config,
) *Pipeline {
	return &Pipeline{
		store:              st,
		hosts:              hosts,
		suppressor:         sup,
		learner:            lrn,
		analyzer:           an,
		executor:           executor,
		notifier:           notifier,
		logger:             logger,
		maxAttempts:        cfg.MaxAttemptsPerAlert,
		attemptWindowHours: cfg.AttemptWindowHours,
		commandTimeout:     time.Duration(cfg.CommandTimeoutSec) * time.Second,
	}
}

// Process runs the full pipeline for one alert. It never returns an error
// for business outcomes (skipped, suppressed, escalated) — only for
// unexpected failures that the caller (Queue drainer or webhook handler)
// should log and, for a degraded Store, requeue.
func (p *Pipeline) Process(ctx context.Context, a alert.Alert) error {
	instanceKey := a.InstanceKey()
	alertName := a.Name()

	if a.Status == alert.StatusResolved {
		if _, err := p.store.ClearAttempts(ctx, alertName, instanceKey, p.attemptWindowHours); err != nil {
			return fmt.Errorf("clear attempts: %w", err)
		}
		if suppressor.IsRootCause(alertName) {
			p.suppressor.Clear(ctx, a.Host())
		}
		p.logger.Info(ctx, "alert resolved, attempts cleared", "alert_name", alertName, "instance_key", instanceKey)
		return nil
	}

	windows, err := p.store.ActiveMaintenanceWindows(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("check maintenance windows: %w", err)
	}
	if len(windows) > 0 {
		p.logger.Info(ctx, "alert skipped, maintenance window active", "alert_name", alertName, "instance_key", instanceKey)
		return nil
	}

	if p.suppressor.ShouldSuppress(ctx, a) {
		p.logger.Info(ctx, "alert suppressed", "alert_name", alertName, "instance_key", instanceKey)
		return nil
	}

	n, err := p.store.CountAttempts(ctx, alertName, instanceKey, p.attemptWindowHours)
	if err != nil {
		return fmt.Errorf("count attempts: %w", err)
	}
	if n >= p.maxAttempts {
		p.escalate(ctx, a, n, nil, "attempt limit reached")
		return nil
	}

	decision, pattern, err := p.learner.Match(ctx, a)
	if err != nil {
		p.logger.Error(ctx, err, "learner match failed, treating as miss", "alert_name", alertName)
		decision, pattern = learner.Miss, nil
	}

	plan, err := p.acquirePlan(ctx, a, decision, pattern, n)
	if err != nil {
		p.recordFailure(ctx, a, n, nil, err.Error(), 0, nil)
		return nil
	}

	for _, cmd := range plan.Commands {
		v := validator.Validate(cmd)
		if !v.OK {
			p.escalateRejection(ctx, a, plan, cmd, v.Reason)
			return nil
		}
	}

	diagnostic, actionable := classify(plan.Commands)
	if len(actionable) == 0 {
		p.logger.Info(ctx, "diagnostic only, no actionable commands", "alert_name", alertName, "instance_key", instanceKey)
		return nil
	}

	host := selectHost(plan, pattern, decision, a)
	if host == "" {
		p.recordFailure(ctx, a, n, plan, "no host could be determined", 0, nil)
		return nil
	}
	if !p.hosts.IsOnline(host) {
		if suppressor.IsRootCause(alertName) {
			if err := p.suppressor.Activate(ctx, alertName, host); err != nil {
				p.logger.Error(ctx, err, "activate suppression failed", "alert_name", alertName, "host", host)
			}
		}
		p.recordFailure(ctx, a, n, plan, "target host offline", 0, &host)
		return nil
	}

	start := time.Now()
	success, execErr := p.execute(ctx, host, diagnostic, actionable)
	duration := time.Since(start).Seconds()

	patternID := p.applyLearnerOutcome(ctx, a, decision, pattern, plan, host, success, duration)

	attempt := &store.RemediationAttempt{
		TS:            start,
		AlertName:     alertName,
		InstanceKey:   instanceKey,
		Severity:      a.Severity(),
		AttemptNumber: n + 1,
		Analysis:      plan.Analysis,
		Reasoning:     plan.Reasoning,
		Plan:          plan.Analysis,
		Commands:      plan.Commands,
		Success:       success,
		DurationS:     duration,
		SSHHost:       host,
		PatternID:     patternID,
	}
	if execErr != nil {
		attempt.Error = execErr.Error()
	}
	if _, err := p.store.RecordAttempt(ctx, attempt); err != nil {
		p.logger.Error(ctx, err, "record attempt failed", "alert_name", alertName)
	}

	kind := notify.KindSuccess
	if !success {
		kind = notify.KindFailure
	}
	p.notify(ctx, kind, a, n+1, plan.Commands, plan.Analysis, plan.Reasoning, attempt.Error, duration)

	if !success && n+1 >= p.maxAttempts {
		p.escalate(ctx, a, n+1, plan, "attempt limit reached after failure")
	}
	return nil
}

// acquirePlan builds a plan from a matched pattern on bypass, or calls the
// Analyzer for hint/miss decisions.
func (p *Pipeline) acquirePlan(ctx context.Context, a alert.Alert, decision learner.Decision, pattern *store.RemediationPattern, n int) (*analyzer.Plan, error) {
	if decision == learner.Bypass && pattern != nil {
		return &analyzer.Plan{
			Analysis:        fmt.Sprintf("matched known pattern: %s", pattern.RootCause),
			Reasoning:       "bypassing analysis, high-confidence pattern match",
			Commands:        pattern.SolutionCommands,
			ExpectedHost:    pattern.TargetHost,
			ExpectedOutcome: pattern.RootCause,
		}, nil
	}

	recent, err := p.store.GetPreviousAttempts(ctx, a.Name(), a.InstanceKey(), 3)
	if err != nil {
		return nil, fmt.Errorf("get previous attempts: %w", err)
	}
	return p.analyzer.Analyze(ctx, analyzer.Request{
		Alert:          a,
		RecentAttempts: recent,
		Hint:           hintOrNil(decision, pattern),
	})
}

func hintOrNil(decision learner.Decision, pattern *store.RemediationPattern) *store.RemediationPattern {
	if decision == learner.Hint {
		return pattern
	}
	return nil
}

// classify partitions plan commands into diagnostic (read-only) and
// actionable (state-changing), preserving relative order within each group.
func classify(commands []string) (diagnostic, actionable []string) {
	for _, cmd := range commands {
		if validator.ValidateReadOnly(cmd).OK {
			diagnostic = append(diagnostic, cmd)
		} else {
			actionable = append(actionable, cmd)
		}
	}
	return diagnostic, actionable
}

// selectHost resolves the execution target using the fallback chain:
// plan-provided host, then pattern target host on a bypass, then the
// alert's host label, then the instance label's leading host segment.
func selectHost(plan *analyzer.Plan, pattern *store.RemediationPattern, decision learner.Decision, a alert.Alert) string {
	if plan.ExpectedHost != "" {
		return plan.ExpectedHost
	}
	if decision == learner.Bypass && pattern != nil && pattern.TargetHost != "" {
		return pattern.TargetHost
	}
	if host := a.Host(); host != "" {
		return host
	}
	instance := a.Instance()
	if i := strings.IndexByte(instance, ':'); i > 0 {
		return instance[:i]
	}
	return instance
}

// execute runs diagnostics best-effort, then actionable commands in order,
// short-circuiting on the first non-zero exit.
func (p *Pipeline) execute(ctx context.Context, host string, diagnostic, actionable []string) (bool, error) {
	for _, cmd := range diagnostic {
		if _, err := p.executor.Execute(ctx, host, cmd, diagnosticTimeout); err != nil {
			p.logger.Warn(ctx, "diagnostic command failed, continuing", "host", host, "error", err.Error())
		}
	}

	for _, cmd := range actionable {
		res, err := p.executor.Execute(ctx, host, cmd, p.commandTimeout)
		if err != nil {
			p.hosts.Record(ctx, host, false, err.Error())
			return false, err
		}
		if res.ExitCode != 0 {
			p.hosts.Record(ctx, host, false, res.Stderr)
			return false, fmt.Errorf("command %q exited %d: %s", cmd, res.ExitCode, res.Stderr)
		}
		p.hosts.Record(ctx, host, true, "")
	}
	return true, nil
}

// applyLearnerOutcome updates pattern confidence for bypass/hint decisions,
// or extracts a new pattern on a successful miss. Returns the pattern ID to
// attribute the attempt to, if any.
func (p *Pipeline) applyLearnerOutcome(ctx context.Context, a alert.Alert, decision learner.Decision, pattern *store.RemediationPattern, plan *analyzer.Plan, host string, success bool, duration float64) *int64 {
	switch decision {
	case learner.Bypass, learner.Hint:
		if pattern == nil {
			return nil
		}
		if err := p.learner.RecordOutcome(ctx, pattern.ID, success, duration); err != nil {
			p.logger.Error(ctx, err, "record pattern outcome failed", "pattern_id", pattern.ID)
		}
		id := pattern.ID
		return &id
	case learner.Miss:
		if !success {
			return nil
		}
		if err := p.learner.Extract(ctx, a, plan.Commands, host); err != nil {
			p.logger.Error(ctx, err, "extract pattern failed", "alert_name", a.Name())
		}
		return nil
	}
	return nil
}

func (p *Pipeline) recordFailure(ctx context.Context, a alert.Alert, n int, plan *analyzer.Plan, reason string, duration float64, host *string) {
	attempt := &store.RemediationAttempt{
		TS:            time.Now(),
		AlertName:     a.Name(),
		InstanceKey:   a.InstanceKey(),
		Severity:      a.Severity(),
		AttemptNumber: n + 1,
		Success:       false,
		Error:         reason,
		DurationS:     duration,
	}
	if plan != nil {
		attempt.Analysis = plan.Analysis
		attempt.Reasoning = plan.Reasoning
		attempt.Commands = plan.Commands
	}
	if host != nil {
		attempt.SSHHost = *host
	}
	if _, err := p.store.RecordAttempt(ctx, attempt); err != nil {
		p.logger.Error(ctx, err, "record failure attempt failed", "alert_name", a.Name())
	}
	p.notify(ctx, notify.KindFailure, a, n+1, attempt.Commands, attempt.Analysis, attempt.Reasoning, reason, duration)

	if n+1 >= p.maxAttempts {
		p.escalate(ctx, a, n+1, plan, reason)
	}
}

func (p *Pipeline) escalateRejection(ctx context.Context, a alert.Alert, plan *analyzer.Plan, rejectedCmd, reason string) {
	if _, err := p.store.RecordAttempt(ctx, &store.RemediationAttempt{
		TS:          time.Now(),
		AlertName:   a.Name(),
		InstanceKey: a.InstanceKey(),
		Severity:    a.Severity(),
		Analysis:    plan.Analysis,
		Reasoning:   plan.Reasoning,
		Commands:    plan.Commands,
		Success:     false,
		Escalated:   true,
		Error:       fmt.Sprintf("dangerous_command: %s (%s)", rejectedCmd, reason),
	}); err != nil {
		p.logger.Error(ctx, err, "record rejection attempt failed", "alert_name", a.Name())
	}
	p.notify(ctx, notify.KindRejection, a, 0, plan.Commands, plan.Analysis, reason, "dangerous_command", 0)
}

// escalate marks the (alert_name, instance_key) pair as human-required and
// notifies with the last 3 attempts' summaries.
func (p *Pipeline) escalate(ctx context.Context, a alert.Alert, n int, plan *analyzer.Plan, reason string) {
	recent, err := p.store.GetPreviousAttempts(ctx, a.Name(), a.InstanceKey(), 3)
	if err != nil {
		p.logger.Error(ctx, err, "get previous attempts for escalation failed", "alert_name", a.Name())
	}
	var summary strings.Builder
	for _, r := range recent {
		fmt.Fprintf(&summary, "[attempt %d, success=%v] %s; ", r.AttemptNumber, r.Success, r.Analysis)
	}
	analysis := summary.String()
	if plan != nil {
		analysis = plan.Analysis + " | " + analysis
	}

	if _, err := p.store.RecordAttempt(ctx, &store.RemediationAttempt{
		TS:            time.Now(),
		AlertName:     a.Name(),
		InstanceKey:   a.InstanceKey(),
		Severity:      a.Severity(),
		AttemptNumber: n,
		Success:       false,
		Escalated:     true,
		Error:         reason,
		Analysis:      analysis,
	}); err != nil {
		p.logger.Error(ctx, err, "record escalation attempt failed", "alert_name", a.Name())
	}
	p.notify(ctx, notify.KindEscalation, a, n, nil, analysis, "human required", reason, 0)
}

func (p *Pipeline) notify(ctx context.Context, kind notify.Kind, a alert.Alert, attemptN int, commands []string, analysis, reasoning, errMsg string, duration float64) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.Send(ctx, notify.Notification{
		Kind:        kind,
		AlertName:   a.Name(),
		InstanceKey: a.InstanceKey(),
		Severity:    a.Severity(),
		AttemptN:    attemptN,
		MaxAttempts: p.maxAttempts,
		DurationS:   duration,
		Commands:    commands,
		Analysis:    analysis,
		Reasoning:   reasoning,
		Error:       errMsg,
	}); err != nil {
		p.logger.Error(ctx, err, "notify failed", "alert_name", a.Name(), "kind", string(kind))
	}
}
