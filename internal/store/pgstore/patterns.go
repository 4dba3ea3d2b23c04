package pgstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/linnemanlabs/jarvis/internal/store"
)

const patternColumns = `id, alert_name, category, symptom_fingerprint, root_cause, solution_commands,
	target_host, risk_level, confidence, success_count, failure_count, usage_count,
	avg_execution_time_s, enabled, created_by, created_at, updated_at, last_used_at, metadata`

func scanPattern(row pgx.Row) (*store.RemediationPattern, error) {
	var p store.RemediationPattern
	var lastUsed *time.Time
	err := row.Scan(&p.ID, &p.AlertName, &p.Category, &p.SymptomFingerprint, &p.RootCause,
		&p.SolutionCommands, &p.TargetHost, &p.RiskLevel, &p.Confidence, &p.SuccessCount,
		&p.FailureCount, &p.UsageCount, &p.AvgExecutionTimeS, &p.Enabled, &p.CreatedBy,
		&p.CreatedAt, &p.UpdatedAt, &lastUsed, &p.Metadata)
	if err != nil {
		return nil, err
	}
	if lastUsed != nil {
		p.LastUsedAt = *lastUsed
	}
	return &p, nil
}

// FindPatterns returns every enabled pattern for alertName, most used first
// with ties broken by most recent use, as learner match candidates.
func (s *Store) FindPatterns(ctx context.Context, alertName string) ([]store.RemediationPattern, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+patternColumns+` FROM remediation_patterns
		WHERE alert_name = $1 AND enabled
		ORDER BY usage_count DESC, last_used_at DESC NULLS LAST`, alertName)
	if err != nil {
		return nil, wrapErr("FindPatterns", err)
	}
	defer rows.Close()

	var out []store.RemediationPattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, wrapErr("FindPatterns", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("FindPatterns", err)
	}
	return out, nil
}

// GetPattern fetches a single pattern by ID, returning (nil, nil) if absent.
func (s *Store) GetPattern(ctx context.Context, id int64) (*store.RemediationPattern, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+patternColumns+` FROM remediation_patterns WHERE id = $1`, id)
	p, err := scanPattern(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, wrapErr("GetPattern", err)
	}
	return p, nil
}

// ListPatterns returns enabled patterns with confidence >= minConfidence, for
// the /patterns listing endpoint.
func (s *Store) ListPatterns(ctx context.Context, minConfidence float64, limit int) ([]store.RemediationPattern, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+patternColumns+` FROM remediation_patterns
		WHERE enabled AND confidence >= $1
		ORDER BY confidence DESC
		LIMIT $2`, minConfidence, limit)
	if err != nil {
		return nil, wrapErr("ListPatterns", err)
	}
	defer rows.Close()

	var out []store.RemediationPattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, wrapErr("ListPatterns", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("ListPatterns", err)
	}
	return out, nil
}

// UpsertPattern inserts or, on (alert_name, symptom_fingerprint) conflict,
// updates a pattern's solution, accumulating success_count/failure_count
// onto the existing row and recomputing confidence from the combined totals
// rather than discarding prior outcome history.
func (s *Store) UpsertPattern(ctx context.Context, p *store.RemediationPattern) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO remediation_patterns
			(alert_name, category, symptom_fingerprint, root_cause, solution_commands,
			 target_host, risk_level, confidence, success_count, failure_count, usage_count,
			 avg_execution_time_s, enabled, created_by, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (alert_name, symptom_fingerprint) DO UPDATE SET
			root_cause = EXCLUDED.root_cause,
			solution_commands = EXCLUDED.solution_commands,
			target_host = EXCLUDED.target_host,
			risk_level = EXCLUDED.risk_level,
			success_count = remediation_patterns.success_count + EXCLUDED.success_count,
			failure_count = remediation_patterns.failure_count + EXCLUDED.failure_count,
			confidence = (remediation_patterns.success_count + EXCLUDED.success_count)::float8 /
				GREATEST(remediation_patterns.success_count + EXCLUDED.success_count +
					remediation_patterns.failure_count + EXCLUDED.failure_count, 1),
			enabled = EXCLUDED.enabled,
			metadata = EXCLUDED.metadata,
			updated_at = now()
		RETURNING id`,
		p.AlertName, p.Category, p.SymptomFingerprint, p.RootCause, p.SolutionCommands,
		p.TargetHost, p.RiskLevel, p.Confidence, p.SuccessCount, p.FailureCount, p.UsageCount,
		p.AvgExecutionTimeS, p.Enabled, p.CreatedBy, p.Metadata,
	).Scan(&id)
	if err != nil {
		return 0, wrapErr("UpsertPattern", err)
	}
	return id, nil
}

// UpdatePatternOutcome applies the Bayesian confidence update: on success,
// confidence becomes (success_count+1)/(success_count+failure_count+1) and
// success_count is incremented; on failure, confidence becomes
// success_count/(success_count+failure_count+1) and failure_count is
// incremented. usage_count and the rolling execution-time average always
// advance.
func (s *Store) UpdatePatternOutcome(ctx context.Context, id int64, success bool, executionTimeS float64) error {
	var successInc, failureInc int
	if success {
		successInc = 1
	} else {
		failureInc = 1
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE remediation_patterns SET
			usage_count = usage_count + 1,
			success_count = success_count + $2,
			failure_count = failure_count + $3,
			confidence = (success_count + $2)::float8 / (success_count + failure_count + 1),
			avg_execution_time_s = (avg_execution_time_s * usage_count + $4) / (usage_count + 1),
			last_used_at = now(),
			updated_at = now()
		WHERE id = $1`,
		id, successInc, failureInc, executionTimeS)
	if err != nil {
		return wrapErr("UpdatePatternOutcome", err)
	}
	return nil
}
