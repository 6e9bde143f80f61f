// Package telemetry wires OpenTelemetry tracing into the orchestrator and
// provides the ReportEvent/ReportError/ReportCriticalError helpers used
// throughout namespace, link, topology, pty and observer to annotate the
// span for the operation in flight while also emitting a zap log line.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var logger *zap.Logger = zap.NewNop()

// SetLogger installs the process-wide logger used by the Report* helpers.
func SetLogger(l *zap.Logger) { logger = l }

// Init bootstraps a stdout trace exporter and returns a tracer for
// serviceName plus a shutdown func. Pretty-printing is left off by
// default; pass debug=true for human-readable traces during development.
func Init(ctx context.Context, serviceName string, debug bool) (trace.Tracer, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, nil, err
	}

	opts := []stdouttrace.Option{}
	if debug {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Tracer(serviceName), tp.Shutdown, nil
}

// ReportEvent records a progress event on the span and logs it at debug
// level. It never fails and never changes the span's status.
func ReportEvent(ctx context.Context, msg string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(msg, trace.WithAttributes(attrs...))
	logger.Debug(msg, zapFields(attrs)...)
}

// ReportError records err on the span without marking it fatal: the
// operation may still recover (e.g. a bounded retry).
func ReportError(ctx context.Context, err error, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err, trace.WithAttributes(attrs...))
	logger.Warn(err.Error(), zapFields(attrs)...)
}

// ReportCriticalError records err, marks the span status as an error, and
// logs at error level. Use this when the operation is about to return err
// to its caller.
func ReportCriticalError(ctx context.Context, err error, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err, trace.WithAttributes(attrs...))
	span.SetStatus(codes.Error, err.Error())
	logger.Error(err.Error(), zapFields(attrs)...)
}

func zapFields(attrs []attribute.KeyValue) []zap.Field {
	fields := make([]zap.Field, 0, len(attrs))
	for _, a := range attrs {
		fields = append(fields, zap.String(string(a.Key), a.Value.Emit()))
	}
	return fields
}
