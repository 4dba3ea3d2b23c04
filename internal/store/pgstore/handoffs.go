package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/linnemanlabs/jarvis/internal/jerr"
	"github.com/linnemanlabs/jarvis/internal/store"
)

const pgUniqueViolation = "23505"

// CreateHandoff inserts a new self-restart handoff. The schema's partial
// unique index rejects a second pending/in_progress row with a unique
// violation, which is translated to jerr.HandoffConflict.
func (s *Store) CreateHandoff(ctx context.Context, h *store.SelfRestartHandoff) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO self_preservation_handoffs
			(handoff_id, target, reason, context, status, callback_url, executor_id, error)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		h.HandoffID, h.Target, h.Reason, h.Context, h.Status, h.CallbackURL, h.ExecutorID, h.Error)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("CreateHandoff: %w", jerr.HandoffConflict)
		}
		return wrapErr("CreateHandoff", err)
	}
	return nil
}

func scanHandoff(row pgx.Row) (*store.SelfRestartHandoff, error) {
	var h store.SelfRestartHandoff
	var completedAt *time.Time
	err := row.Scan(&h.HandoffID, &h.Target, &h.Reason, &h.Context, &h.Status, &h.CallbackURL,
		&h.ExecutorID, &h.Error, &h.CreatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if completedAt != nil {
		h.CompletedAt = *completedAt
	}
	return &h, nil
}

const handoffColumns = `handoff_id, target, reason, context, status, callback_url, executor_id, error, created_at, completed_at`

// GetHandoff fetches a handoff by ID, returning (nil, nil) if absent.
func (s *Store) GetHandoff(ctx context.Context, id string) (*store.SelfRestartHandoff, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+handoffColumns+` FROM self_preservation_handoffs WHERE handoff_id = $1`, id)
	h, err := scanHandoff(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, wrapErr("GetHandoff", err)
	}
	return h, nil
}

// GetActiveHandoff returns the single pending or in_progress handoff, if any.
func (s *Store) GetActiveHandoff(ctx context.Context) (*store.SelfRestartHandoff, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+handoffColumns+` FROM self_preservation_handoffs
		WHERE status IN ('pending','in_progress')
		ORDER BY created_at DESC LIMIT 1`)
	h, err := scanHandoff(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, wrapErr("GetActiveHandoff", err)
	}
	return h, nil
}

// TransitionHandoff moves a handoff to a new status, stamping completed_at
// when the status is terminal.
func (s *Store) TransitionHandoff(ctx context.Context, id string, status store.HandoffStatus, errMsg string) error {
	terminal := status == store.HandoffCompleted || status == store.HandoffFailed ||
		status == store.HandoffTimeout || status == store.HandoffCancelled

	_, err := s.pool.Exec(ctx, `
		UPDATE self_preservation_handoffs SET
			status = $2,
			error = $3,
			completed_at = CASE WHEN $4 THEN now() ELSE completed_at END
		WHERE handoff_id = $1`,
		id, status, errMsg, terminal)
	if err != nil {
		return wrapErr("TransitionHandoff", err)
	}
	return nil
}

// SweepTimedOutHandoffs transitions any pending/in_progress handoff older
// than olderThan to timeout and returns the rows it changed.
func (s *Store) SweepTimedOutHandoffs(ctx context.Context, olderThan time.Duration) ([]store.SelfRestartHandoff, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE self_preservation_handoffs SET
			status = 'timeout',
			error = 'handoff timed out',
			completed_at = now()
		WHERE status IN ('pending','in_progress') AND created_at < now() - $1::interval
		RETURNING `+handoffColumns,
		fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return nil, wrapErr("SweepTimedOutHandoffs", err)
	}
	defer rows.Close()

	var out []store.SelfRestartHandoff
	for rows.Next() {
		h, err := scanHandoff(rows)
		if err != nil {
			return nil, wrapErr("SweepTimedOutHandoffs", err)
		}
		out = append(out, *h)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("SweepTimedOutHandoffs", err)
	}
	return out, nil
}
