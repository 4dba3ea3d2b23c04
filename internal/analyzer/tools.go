package analyzer

import (
	"encoding/json"

	"github.com/linnemanlabs/jarvis/internal/llm"
)

var toolDefs = []llm.ToolDef{
	{
		Name:        "gather_logs",
		Description: "Fetch recent logs for a service or container on a host.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"host": {"type": "string"},
				"service": {"type": "string"},
				"kind": {"type": "string", "enum": ["docker", "systemd"]},
				"tail_lines": {"type": "integer"}
			},
			"required": ["host", "service", "kind"]
		}`),
	},
	{
		Name:        "check_service_status",
		Description: "Check whether a service or container is running on a host.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"host": {"type": "string"},
				"service": {"type": "string"}
			},
			"required": ["host", "service"]
		}`),
	},
	{
		Name:        "get_container_diagnostics",
		Description: "Get container state, health, restart count, and recent logs.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"host": {"type": "string"},
				"container": {"type": "string"}
			},
			"required": ["host", "container"]
		}`),
	},
	{
		Name:        "get_system_state",
		Description: "Get disk, memory, CPU load, and container runtime state for a host.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"host": {"type": "string"}
			},
			"required": ["host"]
		}`),
	},
	{
		Name:        "run_diagnostic_command",
		Description: "Run a read-only diagnostic command (docker ps/logs/inspect, systemctl status, curl -I, journalctl, ps, df, free, ls, cat). Mutating commands are rejected.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"host": {"type": "string"},
				"command": {"type": "string"}
			},
			"required": ["host", "command"]
		}`),
	},
	{
		Name:        "propose_plan",
		Description: "Terminate the investigation and propose a remediation plan.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"commands": {"type": "array", "items": {"type": "string"}},
				"reasoning": {"type": "string"},
				"analysis": {"type": "string"},
				"expected_host": {"type": "string"},
				"expected_outcome": {"type": "string"}
			},
			"required": ["commands", "reasoning"]
		}`),
	},
}
