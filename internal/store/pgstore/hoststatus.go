package pgstore

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/linnemanlabs/jarvis/internal/store"
)

// GetHostStatus returns the reachability record for host, or (nil, nil) if
// the host has never been recorded (treated as online by callers).
func (s *Store) GetHostStatus(ctx context.Context, host string) (*store.HostStatus, error) {
	var hs store.HostStatus
	err := s.pool.QueryRow(ctx, `
		SELECT host_name, status, consecutive_failures, last_success, last_attempt, last_error
		FROM host_status_log WHERE host_name = $1`, host,
	).Scan(&hs.HostName, &hs.Status, &hs.ConsecutiveFailures, &hs.LastSuccess, &hs.LastAttempt, &hs.LastError)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, wrapErr("GetHostStatus", err)
	}
	return &hs, nil
}

// PutHostStatus upserts a host's reachability record.
func (s *Store) PutHostStatus(ctx context.Context, hs *store.HostStatus) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO host_status_log (host_name, status, consecutive_failures, last_success, last_attempt, last_error)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (host_name) DO UPDATE SET
			status = EXCLUDED.status,
			consecutive_failures = EXCLUDED.consecutive_failures,
			last_success = EXCLUDED.last_success,
			last_attempt = EXCLUDED.last_attempt,
			last_error = EXCLUDED.last_error`,
		hs.HostName, hs.Status, hs.ConsecutiveFailures, hs.LastSuccess, hs.LastAttempt, hs.LastError)
	if err != nil {
		return wrapErr("PutHostStatus", err)
	}
	return nil
}

// ListHostStatuses returns every known host's reachability record.
func (s *Store) ListHostStatuses(ctx context.Context) ([]store.HostStatus, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT host_name, status, consecutive_failures, last_success, last_attempt, last_error
		FROM host_status_log ORDER BY host_name`)
	if err != nil {
		return nil, wrapErr("ListHostStatuses", err)
	}
	defer rows.Close()

	var out []store.HostStatus
	for rows.Next() {
		var hs store.HostStatus
		if err := rows.Scan(&hs.HostName, &hs.Status, &hs.ConsecutiveFailures, &hs.LastSuccess, &hs.LastAttempt, &hs.LastError); err != nil {
			return nil, wrapErr("ListHostStatuses", err)
		}
		out = append(out, hs)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("ListHostStatuses", err)
	}
	return out, nil
}
