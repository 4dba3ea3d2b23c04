package pgstore

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/linnemanlabs/jarvis/internal/store"
)

// GetActiveSuppression returns the live suppression row for a (root cause
// alert, root cause instance) pair, or (nil, nil) if none is active.
func (s *Store) GetActiveSuppression(ctx context.Context, rootCauseAlert, rootCauseInstance string) (*store.Suppression, error) {
	var sup store.Suppression
	err := s.pool.QueryRow(ctx, `
		SELECT id, root_cause_alert, root_cause_instance, suppressed_until, reason
		FROM suppressions
		WHERE root_cause_alert = $1 AND root_cause_instance = $2 AND suppressed_until > now()
		ORDER BY suppressed_until DESC LIMIT 1`,
		rootCauseAlert, rootCauseInstance,
	).Scan(&sup.ID, &sup.RootCauseAlert, &sup.RootCauseInstance, &sup.SuppressedUntil, &sup.Reason)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, wrapErr("GetActiveSuppression", err)
	}
	return &sup, nil
}

// PutSuppression records a new cascading suppression window.
func (s *Store) PutSuppression(ctx context.Context, sp *store.Suppression) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO suppressions (root_cause_alert, root_cause_instance, suppressed_until, reason)
		VALUES ($1,$2,$3,$4)
		RETURNING id`,
		sp.RootCauseAlert, sp.RootCauseInstance, sp.SuppressedUntil, sp.Reason,
	).Scan(&id)
	if err != nil {
		return 0, wrapErr("PutSuppression", err)
	}
	return id, nil
}

// ClearSuppressionsForHost ends every active suppression rooted on host,
// called when the host recovers.
func (s *Store) ClearSuppressionsForHost(ctx context.Context, host string) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE suppressions SET suppressed_until = now()
		WHERE root_cause_instance LIKE $1 AND suppressed_until > now()`,
		host+":%")
	if err != nil {
		return 0, wrapErr("ClearSuppressionsForHost", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListActiveSuppressions returns every currently-active suppression.
func (s *Store) ListActiveSuppressions(ctx context.Context) ([]store.Suppression, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, root_cause_alert, root_cause_instance, suppressed_until, reason
		FROM suppressions WHERE suppressed_until > now()
		ORDER BY suppressed_until`)
	if err != nil {
		return nil, wrapErr("ListActiveSuppressions", err)
	}
	defer rows.Close()

	var out []store.Suppression
	for rows.Next() {
		var sp store.Suppression
		if err := rows.Scan(&sp.ID, &sp.RootCauseAlert, &sp.RootCauseInstance, &sp.SuppressedUntil, &sp.Reason); err != nil {
			return nil, wrapErr("ListActiveSuppressions", err)
		}
		out = append(out, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("ListActiveSuppressions", err)
	}
	return out, nil
}
