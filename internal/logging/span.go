package logging

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/burmeserecap/recap"

// Span ties a tracer span to a logger enriched with its identifiers.
type Span struct {
	name   string
	logger *slog.Logger
	start  time.Time
	span   trace.Span
}

// StartSpan opens a span named name and returns a context whose logger
// carries trace_id and span_id. Without a configured tracer provider the
// identifiers are omitted and only duration logging remains.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, name)

	logger := FromContext(ctx).With(slog.String("span_name", name))
	if sc := span.SpanContext(); sc.IsValid() {
		logger = logger.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}

	ctx = WithLogger(ctx, logger)

	return ctx, &Span{
		name:   name,
		logger: logger,
		start:  time.Now(),
		span:   span,
	}
}

// Fail records err on the span. A nil error is ignored.
func (s *Span) Fail(err error) {
	if s == nil || err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

// End finalizes the span and emits a completion log entry.
func (s *Span) End() {
	if s == nil {
		return
	}
	s.span.End()
	s.logger.Debug("span completed", slog.Duration("duration", time.Since(s.start)))
}
