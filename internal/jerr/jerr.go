// Package jerr defines the error taxonomy shared across Jarvis components.
// Kinds are sentinel values usable with errors.Is; component-level errors
// wrap them with %w so call sites can branch on kind without string matching.
package jerr

import "errors"

// Kind is a sentinel error identifying a class of failure. Components wrap
// a Kind with additional context via fmt.Errorf("...: %w", Kind).
type Kind error

var (
	// StoreUnavailable means the backing store could not be reached. Pipeline
	// falls back to the Queue and /health reports degraded.
	StoreUnavailable Kind = errors.New("store unavailable")

	// SSHConnectError means the SSH connection layer failed (dial, handshake,
	// auth). Distinct from a non-zero command exit, which is not an error.
	SSHConnectError Kind = errors.New("ssh connect error")

	// CommandTimeout means a command exceeded its wall-clock deadline.
	CommandTimeout Kind = errors.New("command timeout")

	// CommandRejected means the Validator refused a proposed command.
	CommandRejected Kind = errors.New("command rejected")

	// NoSafePlan means the Analyzer's agent loop exhausted its iteration
	// budget without producing a plan.
	NoSafePlan Kind = errors.New("no safe plan")

	// LLMError means the LLM provider call failed.
	LLMError Kind = errors.New("llm error")

	// HostOffline means Pipeline short-circuited because HostMonitor reports
	// the target host unreachable.
	HostOffline Kind = errors.New("host offline")

	// HandoffConflict means a self-restart was requested while another
	// handoff is already pending or in progress.
	HandoffConflict Kind = errors.New("handoff conflict")

	// Auth means inbound request credentials did not match configuration.
	Auth Kind = errors.New("unauthorized")

	// MalformedPayload means the inbound request body could not be parsed
	// into the expected shape.
	MalformedPayload Kind = errors.New("malformed payload")
)
