// Package notify defines the outbound notification contract: Pipeline
// and Suppressor report outcomes through it without depending on how the
// notification is ultimately delivered.
package notify

import "context"

// Kind is the category of an outbound notification.
type Kind string

const (
	KindSuccess            Kind = "success"
	KindFailure             Kind = "failure"
	KindEscalation          Kind = "escalation"
	KindRejection           Kind = "rejection"
	KindRecovery            Kind = "recovery"
	KindSuppressionSummary  Kind = "suppression_summary"
)

// Notification is one outbound event.
type Notification struct {
	Kind         Kind
	AlertName    string
	InstanceKey  string
	Severity     string
	AttemptN     int
	MaxAttempts  int
	DurationS    float64
	Commands     []string
	Analysis     string
	Reasoning    string
	Error        string
}

// Notifier delivers Notifications to whatever external channel is configured.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}
