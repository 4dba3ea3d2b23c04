// Package cfg assembles Jarvis's validated runtime configuration from flags
// and environment variables.
package cfg

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// HostCreds are the SSH credentials for a single named host.
type HostCreds struct {
	Host     string
	User     string
	Port     int
	KeyPath  string
	Password string
}

// Config holds every recognized option, plus the ambient fields
// (drain/shutdown budgets, HTTP port, log settings) a complete service needs.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int

	DatabaseURL string

	LLMAPIKey string
	LLMModel  string

	SSHKeyPath   string
	SSHHostsFile string
	sshHostsEnv  map[string]HostCreds // populated by FillFromEnv from SSH_<HOST>_* vars

	NotifierWebhookURL string
	NotifierEnabled    bool

	OrchestratorWebhookURL string

	WebhookAuthUsername string
	WebhookAuthPassword string

	MaxAttemptsPerAlert int
	AttemptWindowHours  int
	CommandTimeoutSec   int

	LearnerHighConfidence   float64
	LearnerMediumConfidence float64
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 30, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 60, "total shutdown budget in seconds, including the drain phase (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")

	fs.StringVar(&c.DatabaseURL, "database-url", "", "backend connection string")

	fs.StringVar(&c.LLMAPIKey, "llm-api-key", "", "LLM provider API key")
	fs.StringVar(&c.LLMModel, "llm-model", "claude-sonnet-4-20250514", "LLM model identifier")

	fs.StringVar(&c.SSHKeyPath, "ssh-key-path", "", "default private key path used for all hosts unless overridden per-host")
	fs.StringVar(&c.SSHHostsFile, "ssh-hosts-file", "", "optional YAML file of per-host SSH credentials, alternative to SSH_<HOST>_* env vars")

	fs.StringVar(&c.NotifierWebhookURL, "notifier-webhook-url", "", "outbound notification webhook URL")
	fs.BoolVar(&c.NotifierEnabled, "notifier-enabled", true, "enable outbound notifications")

	fs.StringVar(&c.OrchestratorWebhookURL, "orchestrator-webhook-url", "", "self-restart orchestrator webhook URL")

	fs.StringVar(&c.WebhookAuthUsername, "webhook-auth-username", "", "HTTP basic auth username for inbound webhook paths")
	fs.StringVar(&c.WebhookAuthPassword, "webhook-auth-password", "", "HTTP basic auth password for inbound webhook paths")

	fs.IntVar(&c.MaxAttemptsPerAlert, "max-attempts-per-alert", 20, "N_max: attempts within the window before escalation")
	fs.IntVar(&c.AttemptWindowHours, "attempt-window-hours", 2, "W: rolling window in hours for attempt accounting")
	fs.IntVar(&c.CommandTimeoutSec, "command-execution-timeout", 60, "per-command wall-clock deadline in seconds")

	fs.Float64Var(&c.LearnerHighConfidence, "learner-high-confidence", 0.75, "effective confidence at or above which Learner bypasses the LLM")
	fs.Float64Var(&c.LearnerMediumConfidence, "learner-medium-confidence", 0.50, "effective confidence at or above which Learner passes a hint to the LLM")
}

// Validate checks all configuration fields for correctness.
func (c *Config) Validate() error {
	var errs []error

	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}
	if c.LLMAPIKey == "" {
		errs = append(errs, errors.New("LLM_API_KEY is required"))
	}
	if c.LLMModel == "" {
		errs = append(errs, errors.New("LLM_MODEL is required"))
	}
	if c.WebhookAuthUsername == "" || c.WebhookAuthPassword == "" {
		errs = append(errs, errors.New("WEBHOOK_AUTH_USERNAME and WEBHOOK_AUTH_PASSWORD are required"))
	}
	if c.MaxAttemptsPerAlert <= 0 {
		errs = append(errs, fmt.Errorf("invalid MAX_ATTEMPTS_PER_ALERT %d (must be > 0)", c.MaxAttemptsPerAlert))
	}
	if c.AttemptWindowHours <= 0 {
		errs = append(errs, fmt.Errorf("invalid ATTEMPT_WINDOW_HOURS %d (must be > 0)", c.AttemptWindowHours))
	}
	if c.CommandTimeoutSec <= 0 {
		errs = append(errs, fmt.Errorf("invalid COMMAND_EXECUTION_TIMEOUT %d (must be > 0)", c.CommandTimeoutSec))
	}
	if c.LearnerMediumConfidence <= 0 || c.LearnerMediumConfidence > c.LearnerHighConfidence {
		errs = append(errs, fmt.Errorf("LEARNER_MEDIUM_CONFIDENCE (%.2f) must be in (0, LEARNER_HIGH_CONFIDENCE=%.2f]", c.LearnerMediumConfidence, c.LearnerHighConfidence))
	}
	if c.LearnerHighConfidence > 1 {
		errs = append(errs, fmt.Errorf("invalid LEARNER_HIGH_CONFIDENCE %.2f (must be <= 1)", c.LearnerHighConfidence))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// FillFromEnv reads the bare (unprefixed) environment variable names named
// directly. Any variable that is set overrides the current field value,
// including one given explicitly on the command line. Per-host SSH_<HOST>_* triples are collected
// separately and retrieved via HostCredentials.
func (c *Config) FillFromEnv() {
	strVar := func(dst *string, name string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	intVar := func(dst *int, name string) {
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	floatVar := func(dst *float64, name string) {
		if v := os.Getenv(name); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}
	boolVar := func(dst *bool, name string) {
		if v := os.Getenv(name); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	strVar(&c.DatabaseURL, "DATABASE_URL")
	strVar(&c.LLMAPIKey, "LLM_API_KEY")
	strVar(&c.LLMModel, "LLM_MODEL")
	strVar(&c.SSHKeyPath, "SSH_KEY_PATH")
	strVar(&c.SSHHostsFile, "SSH_HOSTS_FILE")
	strVar(&c.NotifierWebhookURL, "NOTIFIER_WEBHOOK_URL")
	boolVar(&c.NotifierEnabled, "NOTIFIER_ENABLED")
	strVar(&c.OrchestratorWebhookURL, "ORCHESTRATOR_WEBHOOK_URL")
	strVar(&c.WebhookAuthUsername, "WEBHOOK_AUTH_USERNAME")
	strVar(&c.WebhookAuthPassword, "WEBHOOK_AUTH_PASSWORD")
	intVar(&c.MaxAttemptsPerAlert, "MAX_ATTEMPTS_PER_ALERT")
	intVar(&c.AttemptWindowHours, "ATTEMPT_WINDOW_HOURS")
	intVar(&c.CommandTimeoutSec, "COMMAND_EXECUTION_TIMEOUT")
	floatVar(&c.LearnerHighConfidence, "LEARNER_HIGH_CONFIDENCE")
	floatVar(&c.LearnerMediumConfidence, "LEARNER_MEDIUM_CONFIDENCE")

	c.sshHostsEnv = parseHostEnv(os.Environ())
}

// HostCredentials returns the per-host SSH credential map collected by
// FillFromEnv from SSH_<HOST>_HOST / _USER / _PORT triples. Hosts not
// present here may still resolve via the SSH_HOSTS_FILE loaded separately.
func (c *Config) HostCredentials() map[string]HostCreds {
	return c.sshHostsEnv
}

// parseHostEnv scans environment lines of the form SSH_<HOST>_{HOST,USER,PORT}
// and assembles one HostCreds entry per distinct <HOST> token.
func parseHostEnv(environ []string) map[string]HostCreds {
	out := make(map[string]HostCreds)
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, "SSH_") {
			continue
		}
		rest := strings.TrimPrefix(k, "SSH_")
		var host, field string
		switch {
		case strings.HasSuffix(rest, "_HOST"):
			host, field = strings.TrimSuffix(rest, "_HOST"), "HOST"
		case strings.HasSuffix(rest, "_USER"):
			host, field = strings.TrimSuffix(rest, "_USER"), "USER"
		case strings.HasSuffix(rest, "_PORT"):
			host, field = strings.TrimSuffix(rest, "_PORT"), "PORT"
		default:
			continue
		}
		if host == "KEY_PATH" || host == "" {
			continue
		}
		name := strings.ToLower(host)
		entry := out[name]
		entry.Host = name
		switch field {
		case "HOST":
			entry.Host = v
		case "USER":
			entry.User = v
		case "PORT":
			if p, err := strconv.Atoi(v); err == nil {
				entry.Port = p
			}
		}
		out[name] = entry
	}
	return out
}
