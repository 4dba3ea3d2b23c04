// Package pgtrace wraps every pgstore query with a structured log line, an
// OpenTelemetry span, and, when an Observer has been installed with
// SetObserver, a duration observation, adapted from the query-tracer pattern
// used against pgx. No Observer is installed by default.
package pgtrace

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/jarvis/internal/log"
)

var tracer = otel.Tracer("github.com/linnemanlabs/jarvis/internal/store/pgtrace")

// Observer receives a duration for every completed query once installed with
// SetObserver.
type Observer interface {
	ObserveQuery(method, outcome string, dur time.Duration)
}

// ObserverFunc adapts a plain function to Observer.
type ObserverFunc func(method, outcome string, dur time.Duration)

// ObserveQuery implements Observer.
func (f ObserverFunc) ObserveQuery(method, outcome string, dur time.Duration) {
	f(method, outcome, dur)
}

var observer atomic.Pointer[Observer]

// SetObserver installs the global query observer. Pass nil to disable.
func SetObserver(o Observer) {
	if o == nil {
		observer.Store(nil)
		return
	}
	observer.Store(&o)
}

type ctxKey string

const (
	ctxKeySQL   ctxKey = "pgtrace.sql"
	ctxKeyStart ctxKey = "pgtrace.start"
)

// Tracer implements pgx.QueryTracer and is installed on the pgxpool config.
type Tracer struct{}

// TraceQueryStart opens a span and stashes query metadata for TraceQueryEnd.
func (Tracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	ctx, span := tracer.Start(ctx, "pgstore.query", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.statement", data.SQL),
	))
	_ = span

	ctx = context.WithValue(ctx, ctxKeySQL, data.SQL)
	ctx = context.WithValue(ctx, ctxKeyStart, time.Now())
	return ctx
}

// TraceQueryEnd closes the span, logs the query, and reports its duration.
func (Tracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	sql, _ := ctx.Value(ctxKeySQL).(string)
	start, _ := ctx.Value(ctxKeyStart).(time.Time)

	var dur time.Duration
	if !start.IsZero() {
		dur = time.Since(start)
	}

	method := operationName(data.CommandTag.String())
	outcome := "ok"
	if data.Err != nil {
		outcome = "error"
		span.RecordError(data.Err)
		span.SetStatus(codes.Error, data.Err.Error())
	}

	if o := observer.Load(); o != nil {
		(*o).ObserveQuery(method, outcome, dur)
	}

	L := log.FromContext(ctx)
	fields := []any{"db.statement", sql, "db.duration_ms", dur.Milliseconds(), "db.operation", method}
	if data.Err != nil {
		var pgErr *pgconn.PgError
		if errors.As(data.Err, &pgErr) {
			fields = append(fields, "db.error_code", pgErr.Code, "db.error_constraint", pgErr.ConstraintName)
		}
		L.Error(ctx, data.Err, "db query failed", fields...)
		return
	}
	L.Info(ctx, "db query", fields...)
}

func operationName(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return "unknown"
	}
	parts := strings.Fields(tag)
	return strings.ToUpper(parts[0])
}
