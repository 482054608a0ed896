package log

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// SpanLogger is a span processor that writes finished spans to a zerolog
// logger at debug level. Failed spans are logged as warnings.
type SpanLogger struct {
	logger *zerolog.Logger
}

var _ sdktrace.SpanProcessor = (*SpanLogger)(nil)

func NewSpanLogger(logger *zerolog.Logger) *SpanLogger {
	return &SpanLogger{logger: logger}
}

func (s *SpanLogger) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (s *SpanLogger) OnEnd(span sdktrace.ReadOnlySpan) {
	ev := s.logger.Debug()
	if span.Status().Code == codes.Error {
		ev = s.logger.Warn().Str("error", span.Status().Description)
	}
	for _, kv := range span.Attributes() {
		ev = ev.Str(string(kv.Key), kv.Value.Emit())
	}
	ev.Str("trace_id", span.SpanContext().TraceID().String()).
		Dur("duration", span.EndTime().Sub(span.StartTime())).
		Msgf("span %s", span.Name())
}

func (s *SpanLogger) Shutdown(context.Context) error { return nil }

func (s *SpanLogger) ForceFlush(context.Context) error { return nil }

// NewTracerProvider returns a tracer provider that logs spans through the
// logger carried by ctx.
func NewTracerProvider(ctx context.Context) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithSpanProcessor(NewSpanLogger(FromCtx(ctx))),
	)
}
