// Package tracing turns engine run events into OpenTelemetry spans.
package tracing

import (
	"context"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MimeLyc/reactagent/internal/agent"
	"github.com/MimeLyc/reactagent/internal/tools"
	"github.com/MimeLyc/reactagent/pkg/textutil"
)

const (
	// InstrumentationName is the tracer name used when none is supplied
	InstrumentationName = "github.com/MimeLyc/reactagent"

	maxPreview = 500
)

// Observer maps each run to a span named "agent.run" with one child span per
// tool dispatch. It is safe for concurrent runs.
//
// Without intermediate steps the engine only reports termination, so the run
// span is then a zero-length span stamped at the end of the run.
type Observer struct {
	tracer trace.Tracer

	mu   sync.Mutex
	runs map[string]*runSpans
}

type runSpans struct {
	ctx  context.Context
	run  trace.Span
	tool trace.Span
}

// NewObserver creates an observer on tracer; nil uses the global provider.
func NewObserver(tracer trace.Tracer) *Observer {
	if tracer == nil {
		tracer = otel.Tracer(InstrumentationName)
	}
	return &Observer{
		tracer: tracer,
		runs:   make(map[string]*runSpans),
	}
}

func (o *Observer) OnEvent(e agent.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	rs := o.runFor(e)

	switch e.Type {
	case agent.EventIterationStarted:
		rs.run.AddEvent("iteration", trace.WithTimestamp(e.Time),
			trace.WithAttributes(attribute.Int("agent.iteration", e.Iteration)))

	case agent.EventModelResponded:
		rs.run.AddEvent("model_response", trace.WithTimestamp(e.Time),
			trace.WithAttributes(
				attribute.Int("agent.iteration", e.Iteration),
				attribute.Int("agent.tool_calls", e.ToolCalls),
			))

	case agent.EventToolDispatched:
		if rs.tool != nil {
			rs.tool.End(trace.WithTimestamp(e.Time))
		}
		_, rs.tool = o.tracer.Start(rs.ctx, "agent.tool "+e.ToolName,
			trace.WithTimestamp(e.Time),
			trace.WithAttributes(
				attribute.String("agent.tool.name", e.ToolName),
				attribute.String("agent.tool.arguments", preview(e.Arguments)),
				attribute.Int("agent.iteration", e.Iteration),
			))

	case agent.EventObservationReceived:
		if rs.tool == nil {
			return
		}
		rs.tool.SetAttributes(attribute.String("agent.tool.observation", preview(e.Observation)))
		if strings.HasPrefix(e.Observation, tools.ErrorPrefix) {
			rs.tool.SetStatus(codes.Error, preview(e.Observation))
		}
		rs.tool.End(trace.WithTimestamp(e.Time))
		rs.tool = nil

	case agent.EventTerminated:
		if rs.tool != nil {
			rs.tool.End(trace.WithTimestamp(e.Time))
		}
		rs.run.SetAttributes(
			attribute.Int("agent.iterations", e.Iteration),
			attribute.String("agent.termination_reason", e.Reason),
			attribute.Bool("agent.success", e.Success),
		)
		if e.Success {
			rs.run.SetStatus(codes.Ok, "")
		} else {
			rs.run.SetStatus(codes.Error, e.Reason)
		}
		rs.run.End(trace.WithTimestamp(e.Time))
		delete(o.runs, e.RunID)
	}
}

// Active returns the number of runs with an open span
func (o *Observer) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.runs)
}

func (o *Observer) runFor(e agent.Event) *runSpans {
	if rs, ok := o.runs[e.RunID]; ok {
		return rs
	}
	ctx, span := o.tracer.Start(context.Background(), "agent.run",
		trace.WithTimestamp(e.Time),
		trace.WithAttributes(attribute.String("agent.run_id", e.RunID)))
	rs := &runSpans{ctx: ctx, run: span}
	o.runs[e.RunID] = rs
	return rs
}

func preview(s string) string {
	return textutil.Truncate(s, maxPreview)
}
