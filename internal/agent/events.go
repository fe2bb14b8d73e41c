package agent

import (
	"time"

	"github.com/MimeLyc/reactagent/pkg/log"
)

type EventType string

const (
	EventIterationStarted    EventType = "iteration_started"
	EventModelResponded      EventType = "model_responded"
	EventToolDispatched      EventType = "tool_dispatched"
	EventObservationReceived EventType = "observation_received"
	EventTerminated          EventType = "terminated"
)

// Event is one step transition of a run
type Event struct {
	RunID       string
	Type        EventType
	Iteration   int
	ToolName    string
	Arguments   string
	Observation string

	// Reason and Success are set on EventTerminated
	Reason  string
	Success bool

	// ToolCalls is the number of calls in a model response
	ToolCalls int

	Time time.Time
}

// Observer receives run events. OnEvent is called synchronously from the run
// loop and should return quickly.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

type noopObserver struct{}

func (noopObserver) OnEvent(Event) {}

// MultiObserver forwards each event to every non-nil observer in order
func MultiObserver(observers ...Observer) Observer {
	filtered := make([]Observer, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	switch len(filtered) {
	case 0:
		return noopObserver{}
	case 1:
		return filtered[0]
	}
	return multiObserver(filtered)
}

type multiObserver []Observer

func (m multiObserver) OnEvent(e Event) {
	for _, o := range m {
		o.OnEvent(e)
	}
}

// LogObserver writes events through the global logger
type LogObserver struct{}

func (LogObserver) OnEvent(e Event) {
	switch e.Type {
	case EventIterationStarted:
		log.Debug("[%s] iteration %d started", shortID(e.RunID), e.Iteration)
	case EventModelResponded:
		log.Debug("[%s] iteration %d: model requested %d tool calls", shortID(e.RunID), e.Iteration, e.ToolCalls)
	case EventToolDispatched:
		log.Info("[%s] iteration %d: calling %s %s", shortID(e.RunID), e.Iteration, e.ToolName, e.Arguments)
	case EventObservationReceived:
		log.Info("[%s] iteration %d: %s returned %d bytes", shortID(e.RunID), e.Iteration, e.ToolName, len(e.Observation))
	case EventTerminated:
		if e.Success {
			log.Info("[%s] finished after %d iterations: %s", shortID(e.RunID), e.Iteration, e.Reason)
		} else {
			log.Error("[%s] failed after %d iterations: %s", shortID(e.RunID), e.Iteration, e.Reason)
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
