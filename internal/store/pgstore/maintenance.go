package pgstore

import (
	"context"
	"time"

	"github.com/linnemanlabs/jarvis/internal/store"
)

// CreateMaintenanceWindow records a new maintenance window.
func (s *Store) CreateMaintenanceWindow(ctx context.Context, w *store.MaintenanceWindow) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO maintenance_windows (start_ts, end_ts, reason, created_by)
		VALUES ($1,$2,$3,$4)
		RETURNING id`,
		w.Start, w.End, w.Reason, w.CreatedBy,
	).Scan(&id)
	if err != nil {
		return 0, wrapErr("CreateMaintenanceWindow", err)
	}
	return id, nil
}

// EndMaintenanceWindow closes a maintenance window immediately.
func (s *Store) EndMaintenanceWindow(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE maintenance_windows SET end_ts = now() WHERE id = $1`, id)
	if err != nil {
		return wrapErr("EndMaintenanceWindow", err)
	}
	return nil
}

// ActiveMaintenanceWindows returns windows covering instant at.
func (s *Store) ActiveMaintenanceWindows(ctx context.Context, at time.Time) ([]store.MaintenanceWindow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, start_ts, end_ts, reason, created_by
		FROM maintenance_windows
		WHERE start_ts <= $1 AND end_ts > $1
		ORDER BY start_ts`, at)
	if err != nil {
		return nil, wrapErr("ActiveMaintenanceWindows", err)
	}
	defer rows.Close()

	var out []store.MaintenanceWindow
	for rows.Next() {
		var w store.MaintenanceWindow
		if err := rows.Scan(&w.ID, &w.Start, &w.End, &w.Reason, &w.CreatedBy); err != nil {
			return nil, wrapErr("ActiveMaintenanceWindows", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("ActiveMaintenanceWindows", err)
	}
	return out, nil
}
