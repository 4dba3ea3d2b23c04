// Package pgstore is the PostgreSQL implementation of store.Store.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/jarvis/internal/jerr"
	"github.com/linnemanlabs/jarvis/internal/store/pgtrace"
)

//go:embed schema.sql
var schema string

// Store persists Jarvis's durable entities in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// Connect dials the database with exponential backoff (1,2,4,8,16,30s, up to
// 10 attempts) to tolerate a database that is still initializing alongside
// the service, applies the schema, and returns a ready Store.
func Connect(ctx context.Context, databaseURL string) (*Store, error) {
	delays := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second, 30 * time.Second,
		30 * time.Second,
	}

	var pool *pgxpool.Pool
	var lastErr error
	for attempt := 0; attempt < len(delays)+1; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: connect cancelled: %v", jerr.StoreUnavailable, ctx.Err())
			case <-time.After(delays[attempt-1]):
			}
		}

		pcfg, err := pgxpool.ParseConfig(databaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse database url: %w", err)
		}
		pcfg.ConnConfig.Tracer = pgtrace.Tracer{}

		p, err := pgxpool.NewWithConfig(ctx, pcfg)
		if err != nil {
			lastErr = err
			continue
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			lastErr = err
			continue
		}
		pool = p
		break
	}

	if pool == nil {
		return nil, fmt.Errorf("%w: connect failed after retries: %v", jerr.StoreUnavailable, lastErr)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close shuts down the connection pool.
func (s *Store) Close() { s.pool.Close() }

// wrapErr annotates backend errors with jerr.StoreUnavailable for
// connection-layer failures; query errors are returned as-is since they
// indicate a programming error, not an unreachable store.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe interface{ SQLState() string }
	if errors.As(err, &pe) {
		// a response from Postgres, however unhappy, means the backend is reachable
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, jerr.StoreUnavailable, err)
}
