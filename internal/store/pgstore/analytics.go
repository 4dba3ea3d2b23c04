package pgstore

import (
	"context"
	"time"

	"github.com/linnemanlabs/jarvis/internal/store"
)

// Analytics aggregates remediation outcomes since the given instant for the
// /analytics endpoint, including a per-alert-name breakdown.
func (s *Store) Analytics(ctx context.Context, since time.Time) (*store.AnalyticsSummary, error) {
	sum := &store.AnalyticsSummary{
		WindowStart: since,
		ByAlertName: map[string]store.AlertNameStats{},
	}

	err := s.pool.QueryRow(ctx, `
		SELECT count(*), count(*) FILTER (WHERE success), count(*) FILTER (WHERE NOT success),
		       count(*) FILTER (WHERE escalated)
		FROM remediation_log WHERE ts >= $1`, since,
	).Scan(&sum.TotalAttempts, &sum.SuccessfulCount, &sum.FailedCount, &sum.EscalationCount)
	if err != nil {
		return nil, wrapErr("Analytics", err)
	}

	if err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM suppressions WHERE suppressed_until >= $1`, since,
	).Scan(&sum.SuppressedCount); err != nil {
		return nil, wrapErr("Analytics", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT alert_name, count(*), count(*) FILTER (WHERE success), count(*) FILTER (WHERE NOT success)
		FROM remediation_log WHERE ts >= $1
		GROUP BY alert_name`, since)
	if err != nil {
		return nil, wrapErr("Analytics", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var st store.AlertNameStats
		if err := rows.Scan(&name, &st.Attempts, &st.Successes, &st.Failures); err != nil {
			return nil, wrapErr("Analytics", err)
		}
		sum.ByAlertName[name] = st
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("Analytics", err)
	}

	if sum.TotalAttempts > 0 {
		sum.SuccessRate = float64(sum.SuccessfulCount) / float64(sum.TotalAttempts)
	}
	// crude estimate: every automated success stands in for ~15 minutes of
	// on-call time that would otherwise have been spent on the same page.
	sum.EstimatedSavings = float64(sum.SuccessfulCount) * 0.25

	return sum, nil
}
