package tracing

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/MimeLyc/reactagent/pkg/log"
)

// LogExporter writes every finished span as one line to a logger.
type LogExporter struct {
	logger *log.Logger
}

// NewLogExporter creates an exporter on logger; nil uses the global logger.
func NewLogExporter(logger *log.Logger) *LogExporter {
	return &LogExporter{logger: logger}
}

func (e *LogExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	logger := e.logger
	if logger == nil {
		logger = log.GetLogger()
	}
	for _, s := range spans {
		var attrs []string
		for _, kv := range s.Attributes() {
			attrs = append(attrs, string(kv.Key)+"="+preview(kv.Value.Emit()))
		}
		logger.Info("span %s trace=%s span=%s status=%s duration=%s %s",
			s.Name(), s.SpanContext().TraceID(), s.SpanContext().SpanID(),
			s.Status().Code, s.EndTime().Sub(s.StartTime()).Round(time.Millisecond),
			strings.Join(attrs, " "))
	}
	return nil
}

func (e *LogExporter) Shutdown(context.Context) error { return nil }

// Install registers a tracer provider exporting to logger as the global
// provider. The returned shutdown flushes pending spans.
func Install(serviceName string, logger *log.Logger) func(context.Context) error {
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(NewLogExporter(logger),
			sdktrace.WithBatchTimeout(5*time.Second),
		),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}
