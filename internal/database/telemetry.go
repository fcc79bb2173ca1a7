package database

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/irfndi/esp-selector-go/internal/logging"
)

const tracerName = "github.com/irfndi/esp-selector-go/internal/database"

// TracedDB wraps a DatabasePool with an OpenTelemetry span and a debug log line per statement.
type TracedDB struct {
	pool   DatabasePool
	tracer trace.Tracer
	logger logging.Logger
}

// NewTracedDB wraps pool. A nil provider uses the global tracer provider; logger may be nil.
func NewTracedDB(pool DatabasePool, provider trace.TracerProvider, logger logging.Logger) *TracedDB {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return &TracedDB{pool: pool, tracer: provider.Tracer(tracerName), logger: logger}
}

func (db *TracedDB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	ctx, span, start := db.start(ctx, sql)
	rows, err := db.pool.Query(ctx, sql, args...)
	db.end(span, sql, start, -1, err)
	return rows, err
}

// QueryRow defers errors to Scan, so the span only covers dispatch.
func (db *TracedDB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	ctx, span, start := db.start(ctx, sql)
	row := db.pool.QueryRow(ctx, sql, args...)
	db.end(span, sql, start, -1, nil)
	return row
}

func (db *TracedDB) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	ctx, span, start := db.start(ctx, sql)
	tag, err := db.pool.Exec(ctx, sql, args...)
	db.end(span, sql, start, tag.RowsAffected(), err)
	return tag, err
}

func (db *TracedDB) Begin(ctx context.Context) (pgx.Tx, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &TracedTx{Tx: tx, db: db}, nil
}

func (db *TracedDB) start(ctx context.Context, sql string) (context.Context, trace.Span, time.Time) {
	op := statementOperation(sql)
	ctx, span := db.tracer.Start(ctx, "db."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", op),
			attribute.String("db.sql.table", statementTable(sql)),
			attribute.String("db.statement", sql),
		),
	)
	return ctx, span, time.Now()
}

func (db *TracedDB) end(span trace.Span, sql string, start time.Time, rows int64, err error) {
	defer span.End()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if rows >= 0 {
		span.SetAttributes(attribute.Int64("db.rows_affected", rows))
	}
	if db.logger != nil {
		db.logger.LogDatabaseOperation(statementOperation(sql), statementTable(sql), time.Since(start).Milliseconds(), rows)
	}
}

// TracedTx traces the statements of a transaction started through TracedDB.
type TracedTx struct {
	pgx.Tx
	db *TracedDB
}

func (tx *TracedTx) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	ctx, span, start := tx.db.start(ctx, sql)
	rows, err := tx.Tx.Query(ctx, sql, args...)
	tx.db.end(span, sql, start, -1, err)
	return rows, err
}

func (tx *TracedTx) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	ctx, span, start := tx.db.start(ctx, sql)
	row := tx.Tx.QueryRow(ctx, sql, args...)
	tx.db.end(span, sql, start, -1, nil)
	return row
}

func (tx *TracedTx) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	ctx, span, start := tx.db.start(ctx, sql)
	tag, err := tx.Tx.Exec(ctx, sql, args...)
	tx.db.end(span, sql, start, tag.RowsAffected(), err)
	return tag, err
}

// statementOperation returns the lower-cased leading keyword of sql.
func statementOperation(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "unknown"
	}
	return strings.ToLower(fields[0])
}

// statementTable returns the first identifier following FROM, INTO, UPDATE or TABLE.
func statementTable(sql string) string {
	fields := strings.Fields(sql)
	for i := 0; i < len(fields)-1; i++ {
		switch strings.ToUpper(fields[i]) {
		case "FROM", "INTO", "UPDATE", "TABLE":
			next := i + 1
			// CREATE TABLE IF NOT EXISTS name
			if strings.EqualFold(fields[next], "IF") {
				next += 3
			}
			if next >= len(fields) || strings.HasPrefix(fields[next], "(") {
				continue
			}
			return strings.Trim(fields[next], "(,;")
		}
	}
	return ""
}
