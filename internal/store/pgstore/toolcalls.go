package pgstore

import (
	"context"

	"github.com/linnemanlabs/jarvis/internal/store"
)

// RecordToolCall persists one diagnostic-only Analyzer tool invocation and
// returns its ID.
func (s *Store) RecordToolCall(ctx context.Context, tc *store.ToolCall) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO tool_calls
			(alert_name, instance_key, tool_name, input, output, error, duration_ms)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id`,
		tc.AlertName, tc.InstanceKey, tc.ToolName, tc.Input, tc.Output, tc.Error, tc.DurationMS,
	).Scan(&id)
	if err != nil {
		return 0, wrapErr("RecordToolCall", err)
	}
	return id, nil
}

// ListToolCalls returns up to limit most recent tool calls for (alertName,
// instanceKey), newest first.
func (s *Store) ListToolCalls(ctx context.Context, alertName, instanceKey string, limit int) ([]store.ToolCall, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, ts, alert_name, instance_key, tool_name, input, output, error, duration_ms
		FROM tool_calls
		WHERE alert_name = $1 AND instance_key = $2
		ORDER BY ts DESC
		LIMIT $3`,
		alertName, instanceKey, limit)
	if err != nil {
		return nil, wrapErr("ListToolCalls", err)
	}
	defer rows.Close()

	var out []store.ToolCall
	for rows.Next() {
		var tc store.ToolCall
		if err := rows.Scan(&tc.ID, &tc.TS, &tc.AlertName, &tc.InstanceKey, &tc.ToolName,
			&tc.Input, &tc.Output, &tc.Error, &tc.DurationMS); err != nil {
			return nil, wrapErr("ListToolCalls", err)
		}
		out = append(out, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("ListToolCalls", err)
	}
	return out, nil
}
