// Package store defines the durable persistence contract for Jarvis:
// remediation attempts, learned patterns, host status, suppressions,
// maintenance windows, and self-restart handoffs. Implementations live in
// store/pgstore (PostgreSQL) and must fail every method with
// jerr.StoreUnavailable when the backend is unreachable.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// RemediationAttempt is a single actionable execution, persisted and never
// mutated after creation.
type RemediationAttempt struct {
	ID            int64
	TS            time.Time
	AlertName     string
	InstanceKey   string
	Severity      string
	Labels        json.RawMessage
	Annotations   json.RawMessage
	AttemptNumber int
	Analysis      string
	Reasoning     string
	Plan          string
	Commands      []string
	Success       bool
	Escalated     bool
	Error         string
	DurationS     float64
	SSHHost       string
	PatternID     *int64
}

// ToolCall is a single diagnostic-only Analyzer tool invocation, recorded
// for audit purposes distinct from RemediationAttempt rows (which cover
// only actionable, mutating commands).
type ToolCall struct {
	ID          int64
	TS          time.Time
	AlertName   string
	InstanceKey string
	ToolName    string
	Input       json.RawMessage
	Output      string
	Error       string
	DurationMS  int64
}

// RemediationPattern is a stored (fingerprint, commands) pair used to
// accelerate future remediations of the same symptom.
type RemediationPattern struct {
	ID                int64
	AlertName         string
	Category          string
	SymptomFingerprint string
	RootCause         string
	SolutionCommands  []string
	TargetHost        string
	RiskLevel         string
	Confidence        float64
	SuccessCount      int
	FailureCount      int
	UsageCount        int
	AvgExecutionTimeS float64
	Enabled           bool
	CreatedBy         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	LastUsedAt        time.Time
	Metadata          json.RawMessage
}

// HostStatusValue is the reachability state of a host.
type HostStatusValue string

const (
	HostOnline   HostStatusValue = "online"
	HostOffline  HostStatusValue = "offline"
	HostChecking HostStatusValue = "checking"
)

// HostStatus is the durable reachability record for one host.
type HostStatus struct {
	HostName           string
	Status             HostStatusValue
	ConsecutiveFailures int
	LastSuccess        time.Time
	LastAttempt        time.Time
	LastError          string
}

// Suppression marks a symptomatic alert family as silently absorbed while a
// root-cause alert is active on the same host.
type Suppression struct {
	ID                int64
	RootCauseAlert    string
	RootCauseInstance string
	SuppressedUntil   time.Time
	Reason            string
}

// HandoffStatus is the lifecycle state of a self-restart handoff.
type HandoffStatus string

const (
	HandoffPending    HandoffStatus = "pending"
	HandoffInProgress HandoffStatus = "in_progress"
	HandoffCompleted  HandoffStatus = "completed"
	HandoffFailed     HandoffStatus = "failed"
	HandoffTimeout    HandoffStatus = "timeout"
	HandoffCancelled  HandoffStatus = "cancelled"
)

// RestartTarget names what a self-restart handoff requests be restarted.
type RestartTarget string

const (
	RestartService           RestartTarget = "service"
	RestartDatabase          RestartTarget = "database"
	RestartContainerRuntime  RestartTarget = "container-runtime"
	RestartHost              RestartTarget = "host"
)

// SelfRestartHandoff is the durable record of a requested self-restart. At
// most one row may be pending or in_progress at a time (enforced by the
// store's partial unique index).
type SelfRestartHandoff struct {
	HandoffID    string
	Target       RestartTarget
	Reason       string
	Context      json.RawMessage
	Status       HandoffStatus
	CallbackURL  string
	ExecutorID   string
	Error        string
	CreatedAt    time.Time
	CompletedAt  time.Time
}

// MaintenanceWindow suppresses all pipeline processing while current time
// falls within [Start, End).
type MaintenanceWindow struct {
	ID        int64
	Start     time.Time
	End       time.Time
	Reason    string
	CreatedBy string
}

// Store is the full persistence contract. Every method returns an
// error wrapping jerr.StoreUnavailable when the backend cannot be reached;
// callers (Pipeline) interpret that as degraded mode and defer to Queue.
type Store interface {
	// Attempts
	CountAttempts(ctx context.Context, alertName, instanceKey string, windowHours int) (int, error)
	RecordAttempt(ctx context.Context, a *RemediationAttempt) (int64, error)
	ClearAttempts(ctx context.Context, alertName, instanceKey string, windowHours int) (int, error)
	GetPreviousAttempts(ctx context.Context, alertName, instanceKey string, limit int) ([]RemediationAttempt, error)

	// Patterns
	FindPatterns(ctx context.Context, alertName string) ([]RemediationPattern, error)
	GetPattern(ctx context.Context, id int64) (*RemediationPattern, error)
	ListPatterns(ctx context.Context, minConfidence float64, limit int) ([]RemediationPattern, error)
	UpsertPattern(ctx context.Context, p *RemediationPattern) (int64, error)
	UpdatePatternOutcome(ctx context.Context, id int64, success bool, executionTimeS float64) error

	// Host status
	GetHostStatus(ctx context.Context, host string) (*HostStatus, error)
	PutHostStatus(ctx context.Context, hs *HostStatus) error
	ListHostStatuses(ctx context.Context) ([]HostStatus, error)

	// Suppressions
	GetActiveSuppression(ctx context.Context, rootCauseAlert, rootCauseInstance string) (*Suppression, error)
	PutSuppression(ctx context.Context, s *Suppression) (int64, error)
	ClearSuppressionsForHost(ctx context.Context, host string) (int, error)
	ListActiveSuppressions(ctx context.Context) ([]Suppression, error)

	// Maintenance windows
	CreateMaintenanceWindow(ctx context.Context, w *MaintenanceWindow) (int64, error)
	EndMaintenanceWindow(ctx context.Context, id int64) error
	ActiveMaintenanceWindows(ctx context.Context, at time.Time) ([]MaintenanceWindow, error)

	// Handoffs
	CreateHandoff(ctx context.Context, h *SelfRestartHandoff) error
	GetHandoff(ctx context.Context, id string) (*SelfRestartHandoff, error)
	GetActiveHandoff(ctx context.Context) (*SelfRestartHandoff, error)
	TransitionHandoff(ctx context.Context, id string, status HandoffStatus, errMsg string) error
	SweepTimedOutHandoffs(ctx context.Context, olderThan time.Duration) ([]SelfRestartHandoff, error)

	// Tool call audit log
	RecordToolCall(ctx context.Context, tc *ToolCall) (int64, error)
	ListToolCalls(ctx context.Context, alertName, instanceKey string, limit int) ([]ToolCall, error)

	// Analytics
	Analytics(ctx context.Context, since time.Time) (*AnalyticsSummary, error)

	Close()
}

// AnalyticsSummary backs GET /analytics: aggregate counts, success rate, and
// a per-alert-name breakdown (supplemented beyond the distilled spec).
type AnalyticsSummary struct {
	WindowStart      time.Time
	TotalAttempts    int
	SuccessfulCount  int
	FailedCount      int
	EscalationCount  int
	SuppressedCount  int
	SuccessRate      float64
	EstimatedSavings float64 // hours of human time saved, extrapolated from successful bypasses/automations
	ByAlertName      map[string]AlertNameStats
}

// AlertNameStats is the per-alert_name breakdown within AnalyticsSummary.
type AlertNameStats struct {
	Attempts   int
	Successes  int
	Failures   int
}
