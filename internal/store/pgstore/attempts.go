package pgstore

import (
	"context"

	"github.com/linnemanlabs/jarvis/internal/store"
)

// CountAttempts returns the number of attempts recorded for (alertName,
// instanceKey) within the trailing windowHours.
func (s *Store) CountAttempts(ctx context.Context, alertName, instanceKey string, windowHours int) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM remediation_log
		WHERE alert_name = $1 AND instance_key = $2
		  AND ts >= now() - make_interval(hours => $3)`,
		alertName, instanceKey, windowHours,
	).Scan(&n)
	if err != nil {
		return 0, wrapErr("CountAttempts", err)
	}
	return n, nil
}

// RecordAttempt persists one remediation attempt and returns its ID.
func (s *Store) RecordAttempt(ctx context.Context, a *store.RemediationAttempt) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO remediation_log
			(alert_name, instance_key, severity, labels, annotations, attempt_number,
			 analysis, reasoning, plan, commands, success, escalated, error, duration_s, ssh_host, pattern_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		RETURNING id`,
		a.AlertName, a.InstanceKey, a.Severity, a.Labels, a.Annotations, a.AttemptNumber,
		a.Analysis, a.Reasoning, a.Plan, a.Commands, a.Success, a.Escalated, a.Error, a.DurationS, a.SSHHost, a.PatternID,
	).Scan(&id)
	if err != nil {
		return 0, wrapErr("RecordAttempt", err)
	}
	return id, nil
}

// ClearAttempts removes attempts for (alertName, instanceKey) recorded within
// the trailing windowHours, called when the alert resolves so the attempt
// counter resets. Rows older than the window are left in place,
// retained for analytics.
func (s *Store) ClearAttempts(ctx context.Context, alertName, instanceKey string, windowHours int) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM remediation_log
		WHERE alert_name = $1 AND instance_key = $2
		  AND ts >= now() - make_interval(hours => $3)`,
		alertName, instanceKey, windowHours)
	if err != nil {
		return 0, wrapErr("ClearAttempts", err)
	}
	return int(tag.RowsAffected()), nil
}

// GetPreviousAttempts returns up to limit most recent attempts for
// (alertName, instanceKey), newest first.
func (s *Store) GetPreviousAttempts(ctx context.Context, alertName, instanceKey string, limit int) ([]store.RemediationAttempt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, ts, alert_name, instance_key, severity, labels, annotations, attempt_number,
		       analysis, reasoning, plan, commands, success, escalated, error, duration_s, ssh_host, pattern_id
		FROM remediation_log
		WHERE alert_name = $1 AND instance_key = $2
		ORDER BY ts DESC
		LIMIT $3`,
		alertName, instanceKey, limit)
	if err != nil {
		return nil, wrapErr("GetPreviousAttempts", err)
	}
	defer rows.Close()

	var out []store.RemediationAttempt
	for rows.Next() {
		var a store.RemediationAttempt
		if err := rows.Scan(&a.ID, &a.TS, &a.AlertName, &a.InstanceKey, &a.Severity, &a.Labels,
			&a.Annotations, &a.AttemptNumber, &a.Analysis, &a.Reasoning, &a.Plan, &a.Commands,
			&a.Success, &a.Escalated, &a.Error, &a.DurationS, &a.SSHHost, &a.PatternID); err != nil {
			return nil, wrapErr("GetPreviousAttempts", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("GetPreviousAttempts", err)
	}
	return out, nil
}
