package obs

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type pgxSpanKey struct{}

type pgxSpan struct {
	span  trace.Span
	start time.Time
	sql   string
}

// PGXTracer implements pgx.QueryTracer, creating a span per statement and
// logging statements slower than SlowQuery through the context logger.
type PGXTracer struct {
	SlowQuery time.Duration
}

// TraceQueryStart starts a span for the SQL statement.
func (t PGXTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	sql := truncateSQL(data.SQL)
	ctx, span := otel.Tracer("db.pgx").Start(ctx, "pgx.query", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.statement", sql),
	)
	if fields := strings.Fields(sql); len(fields) > 0 {
		span.SetAttributes(attribute.String("db.operation", strings.ToUpper(fields[0])))
	}
	return context.WithValue(ctx, pgxSpanKey{}, &pgxSpan{span: span, start: time.Now(), sql: sql})
}

// TraceQueryEnd ends the span and records any error.
func (t PGXTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	s, ok := ctx.Value(pgxSpanKey{}).(*pgxSpan)
	if !ok {
		return
	}
	if data.Err != nil {
		s.span.RecordError(data.Err)
		s.span.SetStatus(codes.Error, data.Err.Error())
	}
	s.span.End()
	if t.SlowQuery > 0 {
		if elapsed := time.Since(s.start); elapsed >= t.SlowQuery {
			zerolog.Ctx(ctx).Warn().Str("sql", s.sql).Dur("elapsed", elapsed).Msg("slow_query")
		}
	}
}

func truncateSQL(sql string) string {
	trimmed := strings.Join(strings.Fields(sql), " ")
	if len(trimmed) > 300 {
		return trimmed[:300] + "..."
	}
	return trimmed
}
