package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/reactagent/internal/memory"
	"github.com/MimeLyc/reactagent/internal/message"
	"github.com/MimeLyc/reactagent/internal/tools"
)

type reply struct {
	resp ModelResponse
	err  error
}

func answer(text string) reply {
	return reply{resp: ModelResponse{Content: text}}
}

func calls(cs ...message.ToolCall) reply {
	return reply{resp: ModelResponse{ToolCalls: cs}}
}

func failure(err error) reply {
	return reply{err: err}
}

func tc(id, name, args string) message.ToolCall {
	return message.ToolCall{ID: id, Name: name, Arguments: args}
}

// scriptedModel replays fixed replies; once exhausted it repeats the last one
type scriptedModel struct {
	mu        sync.Mutex
	replies   []reply
	histories [][]message.Message
	queries   []string
}

func script(replies ...reply) *scriptedModel {
	return &scriptedModel{replies: replies}
}

func (m *scriptedModel) SendMessageWithTools(_ context.Context, query string, history []message.Message) (ModelResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.histories = append(m.histories, history)
	m.queries = append(m.queries, query)
	i := len(m.histories) - 1
	if i >= len(m.replies) {
		i = len(m.replies) - 1
	}
	r := m.replies[i]
	return r.resp, r.err
}

func (m *scriptedModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.histories)
}

// recordingDispatcher answers every call with "obs:<name>:<args>"
type recordingDispatcher struct {
	mu    sync.Mutex
	calls []message.ToolCall
}

func (d *recordingDispatcher) Dispatch(_ context.Context, call message.ToolCall) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call)
	return fmt.Sprintf("obs:%s:%s", call.Name, call.Arguments)
}

func (d *recordingDispatcher) count(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		if c.Name == name {
			n++
		}
	}
	return n
}

// recordingObserver captures events for assertions
type recordingObserver struct {
	mu     sync.Mutex
	events []Event
}

func (o *recordingObserver) OnEvent(e Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, e)
}

func (o *recordingObserver) types() []EventType {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]EventType, len(o.events))
	for i, e := range o.events {
		out[i] = e.Type
	}
	return out
}

// steppingClock advances one millisecond per reading
func steppingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Millisecond)
		return t
	}
}

func newTestEngine(t *testing.T, model ModelClient, d Dispatcher, cfg Config, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithClock(steppingClock())}, opts...)
	e, err := NewEngine(model, d, cfg, opts...)
	require.NoError(t, err)
	return e
}

func assertStepInvariants(t *testing.T, res *ExecutionResult) {
	t.Helper()
	if res.Iterations > 0 {
		assert.NotEmpty(t, res.Steps, "steps must be recorded once an iteration ran")
	}
	for _, s := range res.Steps {
		assert.GreaterOrEqual(t, s.DurationMs(), int64(0))
	}
	assert.False(t, res.EndTime.Before(res.StartTime))
	assert.NotEmpty(t, res.FinalAnswer)
	assert.NotEmpty(t, res.TerminationReason)
	assert.NotEmpty(t, res.RunID)
}

func TestNewEngine_Validation(t *testing.T) {
	d := &recordingDispatcher{}
	m := script(answer("x"))

	_, err := NewEngine(nil, d, DefaultConfig())
	assert.ErrorIs(t, err, ErrMissingModel)

	_, err = NewEngine(m, nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrMissingDispatcher)

	cfg := DefaultConfig()
	cfg.MaxIterations = 0
	_, err = NewEngine(m, d, cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	e, err := NewEngine(m, d, DefaultConfig(), WithObserver(nil))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), e.Config())
}

func TestEngine_DirectModelResponse(t *testing.T) {
	model := script(answer("Paris is the capital of France."))
	d := &recordingDispatcher{}
	e := newTestEngine(t, model, d, DefaultConfig())

	res := e.Execute(context.Background(), "What is the capital of France?", nil)

	assert.True(t, res.Success)
	assert.Equal(t, ReasonDirectResponse, res.TerminationReason)
	assert.Equal(t, "Paris is the capital of France.", res.FinalAnswer)
	require.Len(t, res.Steps, 1)
	assert.True(t, res.Steps[0].IsFinal)
	assert.Empty(t, res.Steps[0].ToolName)
	assert.Equal(t, 1, res.IterationCount())
	assert.Equal(t, 0, res.ToolCallCount())
	assert.Empty(t, d.calls)
	assertStepInvariants(t, res)

	require.Len(t, model.histories, 1)
	require.Len(t, model.histories[0], 1)
	assert.Equal(t, message.RoleUser, model.histories[0][0].Role())
	assert.Equal(t, "What is the capital of France?", model.queries[0])
}

func TestEngine_LoopDetectedOnThirdRepeat(t *testing.T) {
	model := script(
		calls(tc("c1", "search", `{"q":"go"}`)),
		calls(tc("c2", "search", `{"q":"go"}`)),
		calls(tc("c3", "search", `{"q":"go"}`)),
		calls(tc("c4", "search", `{"q":"go"}`)),
		answer("never reached"),
	)
	d := &recordingDispatcher{}
	e := newTestEngine(t, model, d, DefaultConfig())

	res := e.Execute(context.Background(), "loop please", nil)

	assert.True(t, res.Success)
	assert.Equal(t, ReasonLoopDetected, res.TerminationReason)
	assert.Equal(t, 3, d.count("search"), "the repeated call must not be dispatched again")
	assert.Equal(t, `obs:search:{"q":"go"}`, res.FinalAnswer)
	assert.Equal(t, 4, res.Iterations)
	require.Len(t, res.Steps, 3)
	assert.True(t, res.Steps[2].IsFinal)
	assertStepInvariants(t, res)
}

func TestEngine_LoopDetectedWithinOneBatch(t *testing.T) {
	model := script(calls(
		tc("c1", "search", "A"),
		tc("c2", "search", "A"),
		tc("c3", "search", "A"),
		tc("c4", "search", "A"),
		tc("c5", "other", "B"),
	))
	d := &recordingDispatcher{}
	e := newTestEngine(t, model, d, DefaultConfig())

	res := e.Execute(context.Background(), "q", nil)

	assert.Equal(t, ReasonLoopDetected, res.TerminationReason)
	assert.Equal(t, 3, d.count("search"))
	assert.Equal(t, 0, d.count("other"))
	assert.Equal(t, 1, res.Iterations)
}

func TestEngine_AlternatingArgumentsDoNotTrigger(t *testing.T) {
	model := script(
		calls(tc("c1", "T", "A")),
		calls(tc("c2", "T", "B")),
		calls(tc("c3", "T", "A")),
		answer("done"),
	)
	d := &recordingDispatcher{}
	e := newTestEngine(t, model, d, DefaultConfig())

	res := e.Execute(context.Background(), "q", nil)

	assert.True(t, res.Success)
	assert.Equal(t, ReasonDirectResponse, res.TerminationReason)
	assert.Equal(t, 3, d.count("T"))
	assert.Equal(t, "done", res.FinalAnswer)
	assert.Equal(t, 3, res.ToolCallCount())
	require.Len(t, res.Steps, 4)
}

func TestEngine_DuplicatePreventionDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PreventDuplicateCalls = false
	cfg.MaxIterations = 6

	model := script(calls(tc("c", "T", "A")))
	d := &recordingDispatcher{}
	e := newTestEngine(t, model, d, cfg)

	res := e.Execute(context.Background(), "q", nil)

	assert.Equal(t, ReasonIterationLimit, res.TerminationReason)
	assert.Equal(t, 6, d.count("T"))
}

func TestEngine_IterationLimitUsesLastObservation(t *testing.T) {
	for _, n := range []int{1, 2, 5} {
		t.Run(fmt.Sprintf("max=%d", n), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.MaxIterations = n

			var i int
			var mu sync.Mutex
			model := ModelClientFunc(func(context.Context, string, []message.Message) (ModelResponse, error) {
				mu.Lock()
				defer mu.Unlock()
				i++
				return ModelResponse{ToolCalls: []message.ToolCall{tc(fmt.Sprint(i), "T", fmt.Sprint(i))}}, nil
			})
			d := &recordingDispatcher{}
			e := newTestEngine(t, model, d, cfg)

			res := e.Execute(context.Background(), "q", nil)

			assert.True(t, res.Success)
			assert.Equal(t, ReasonIterationLimit, res.TerminationReason)
			assert.Equal(t, n, i, "no more than N model calls")
			assert.Equal(t, n, res.Iterations)
			assert.Equal(t, fmt.Sprintf("obs:T:%d", n), res.FinalAnswer)
			assert.True(t, res.Steps[len(res.Steps)-1].IsFinal)
			assertStepInvariants(t, res)
		})
	}
}

func TestEngine_SingleToolMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableMultiToolLoop = false

	model := script(
		calls(tc("c1", "first", "{}"), tc("c2", "second", "{}")),
		answer("unused"),
	)
	d := &recordingDispatcher{}
	e := newTestEngine(t, model, d, cfg)

	res := e.Execute(context.Background(), "q", nil)

	assert.True(t, res.Success)
	assert.Equal(t, ReasonSingleTool, res.TerminationReason)
	assert.Equal(t, "obs:first:{}", res.FinalAnswer)
	assert.Equal(t, 1, d.count("first"))
	assert.Equal(t, 0, d.count("second"))
	assert.Equal(t, 1, model.callCount())
	require.Len(t, res.Steps, 1)
	assert.True(t, res.Steps[0].IsFinal)
}

func TestEngine_ConversationShape(t *testing.T) {
	model := script(
		calls(tc("a1", "lookup", `{"k":1}`), tc("a2", "lookup", `{"k":2}`)),
		calls(tc("b1", "lookup", `{"k":3}`)),
		answer("final"),
	)
	d := &recordingDispatcher{}
	e := newTestEngine(t, model, d, DefaultConfig())

	prior := []message.Message{
		message.NewUser("earlier question"),
		message.NewAssistant("earlier answer"),
	}
	res := e.Execute(context.Background(), "new question", prior)
	require.Equal(t, ReasonDirectResponse, res.TerminationReason)
	require.Len(t, model.histories, 3)

	first := model.histories[0]
	require.Len(t, first, 3)
	assert.Equal(t, "new question", first[2].Content())

	// after iteration 1: assistant, both tool messages in order, then one nudge
	second := model.histories[1]
	require.Len(t, second, 7)
	assert.Equal(t, message.RoleAssistant, second[3].Role())
	assert.True(t, second[3].HasToolCalls())
	assert.Equal(t, message.RoleTool, second[4].Role())
	assert.Equal(t, "a1", second[4].ToolCallID())
	assert.Equal(t, `obs:lookup:{"k":1}`, second[4].Content())
	assert.Equal(t, message.RoleTool, second[5].Role())
	assert.Equal(t, "a2", second[5].ToolCallID())
	assert.Equal(t, message.RoleSystem, second[6].Role())
	assert.Equal(t, DefaultFirstTurnNudge, second[6].Content())

	// no nudge after later iterations
	third := model.histories[2]
	require.Len(t, third, 9)
	assert.Equal(t, message.RoleTool, third[8].Role())
	assert.Equal(t, "b1", third[8].ToolCallID())

	// the caller's history is untouched
	assert.Len(t, prior, 2)
}

func TestEngine_NudgeCanBeDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FirstTurnNudge = ""
	model := script(calls(tc("a1", "x", "")), answer("ok"))
	e := newTestEngine(t, model, &recordingDispatcher{}, cfg)

	e.Execute(context.Background(), "q", nil)
	require.Len(t, model.histories, 2)
	for _, m := range model.histories[1] {
		assert.NotEqual(t, message.RoleSystem, m.Role())
	}
}

func TestEngine_UnknownToolAndFailingHandlerAreNotFatal(t *testing.T) {
	registry := tools.NewRegistry()
	registry.MustRegister(&panicTool{})

	model := script(
		calls(tc("c1", "does_not_exist", "{}")),
		calls(tc("c2", "explode", "{}")),
		answer("recovered"),
	)
	e := newTestEngine(t, model, registry, DefaultConfig())

	res := e.Execute(context.Background(), "q", nil)

	assert.True(t, res.Success)
	assert.Equal(t, ReasonDirectResponse, res.TerminationReason)
	assert.Equal(t, "recovered", res.FinalAnswer)
	require.Len(t, res.Steps, 3)
	assert.Contains(t, res.Steps[0].Observation, "no such tool")
	assert.True(t, strings.HasPrefix(res.Steps[1].Observation, tools.ErrorPrefix))
	assert.Contains(t, res.Steps[1].Observation, "panicked")

	// the model saw the failure observations
	require.Len(t, model.histories, 3)
	assert.Contains(t, model.histories[1][2].Content(), "no such tool")
}

type panicTool struct{}

func (panicTool) Definition() tools.Definition {
	return tools.Definition{Name: "explode", Description: "always panics"}
}

func (panicTool) Execute(context.Context, tools.Parameters, memory.Sink) (tools.Result, error) {
	panic("kaboom")
}

func TestEngine_ModelClientError(t *testing.T) {
	model := script(failure(errors.New("connection refused")))
	e := newTestEngine(t, model, &recordingDispatcher{}, DefaultConfig())

	res := e.Execute(context.Background(), "q", nil)

	assert.False(t, res.Success)
	assert.Equal(t, ReasonModelError, res.TerminationReason)
	assert.Contains(t, res.FinalAnswer, "connection refused")
	require.Len(t, res.Steps, 1)
	assert.True(t, res.Steps[0].IsFinal)
	assertStepInvariants(t, res)
}

func TestEngine_ModelErrorAfterObservation(t *testing.T) {
	model := script(calls(tc("c1", "T", "A")), failure(errors.New("503")))
	d := &recordingDispatcher{}
	e := newTestEngine(t, model, d, DefaultConfig())

	res := e.Execute(context.Background(), "q", nil)
	assert.False(t, res.Success)
	assert.Equal(t, ReasonModelError, res.TerminationReason)
	assert.Len(t, res.Steps, 2)
}

func TestEngine_InvalidToolCallIDs(t *testing.T) {
	tests := []struct {
		name  string
		calls []message.ToolCall
	}{
		{"empty id", []message.ToolCall{tc("", "T", "A")}},
		{"duplicate id", []message.ToolCall{tc("x", "T", "A"), tc("x", "T", "B")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &recordingDispatcher{}
			e := newTestEngine(t, script(calls(tt.calls...)), d, DefaultConfig())

			res := e.Execute(context.Background(), "q", nil)
			assert.False(t, res.Success)
			assert.Equal(t, ReasonModelError, res.TerminationReason)
			assert.Empty(t, d.calls)
		})
	}
}

func TestEngine_PanicInModelIsRecovered(t *testing.T) {
	model := ModelClientFunc(func(context.Context, string, []message.Message) (ModelResponse, error) {
		panic("nil map write")
	})
	obs := &recordingObserver{}
	e := newTestEngine(t, model, &recordingDispatcher{}, DefaultConfig(), WithObserver(obs))

	var res *ExecutionResult
	require.NotPanics(t, func() {
		res = e.Execute(context.Background(), "q", nil)
	})

	require.NotNil(t, res)
	assert.NotEmpty(t, res.RunID)
	assert.False(t, res.Success)
	assert.Equal(t, ReasonInternalPanic, res.TerminationReason)
	assert.Contains(t, res.FinalAnswer, "nil map write")
	assert.Len(t, res.Steps, 1)
	assert.Equal(t, []EventType{EventTerminated}, obs.types())
}

func TestEngine_PanicInDispatcherReturnsCompleteResult(t *testing.T) {
	model := script(calls(tc("1", "lookup", `{}`)), calls(tc("2", "explode", `{}`)))
	dispatcher := DispatcherFunc(func(_ context.Context, call message.ToolCall) string {
		if call.Name == "explode" {
			panic("provider exploded")
		}
		return "found"
	})
	e := newTestEngine(t, model, dispatcher, DefaultConfig(), WithClock(steppingClock()))

	res := e.Execute(context.Background(), "q", nil)
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Equal(t, ReasonInternalPanic, res.TerminationReason)
	assert.Contains(t, res.FinalAnswer, "provider exploded")
	assert.Equal(t, 2, res.Iterations)
	require.Len(t, res.Steps, 2)
	assert.Equal(t, "found", res.Steps[0].Observation)
	assert.True(t, res.Steps[1].IsFinal)
	assert.False(t, res.EndTime.IsZero())
	assert.GreaterOrEqual(t, res.TotalDuration, time.Duration(0))
}

func TestEngine_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	model := script(answer("x"))
	e := newTestEngine(t, model, &recordingDispatcher{}, DefaultConfig())

	res := e.Execute(ctx, "q", nil)
	assert.True(t, res.Success)
	assert.Equal(t, ReasonDeadlineExceededNoObs, res.TerminationReason)
	assert.Equal(t, LimitReachedAnswer, res.FinalAnswer)
	assert.Equal(t, 0, res.Iterations)
	assert.Empty(t, res.Steps)
	assert.Equal(t, 0, model.callCount())
}

func TestEngine_DeadlineUsesLastObservation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var n int
	model := ModelClientFunc(func(ctx context.Context, _ string, _ []message.Message) (ModelResponse, error) {
		n++
		if n == 1 {
			return ModelResponse{ToolCalls: []message.ToolCall{tc("c1", "T", "A")}}, nil
		}
		<-ctx.Done()
		return ModelResponse{}, ctx.Err()
	})
	e := newTestEngine(t, model, &recordingDispatcher{}, DefaultConfig())

	res := e.Execute(ctx, "q", nil)
	assert.True(t, res.Success)
	assert.Equal(t, ReasonDeadlineExceeded, res.TerminationReason)
	assert.Equal(t, "obs:T:A", res.FinalAnswer)
	assert.Equal(t, 2, res.Iterations)
	assertStepInvariants(t, res)
}

func TestEngine_DispatchTimeoutIsPassedToDispatcher(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DispatchTimeout = time.Second

	var deadline time.Time
	var hasDeadline bool
	d := DispatcherFunc(func(ctx context.Context, call message.ToolCall) string {
		deadline, hasDeadline = ctx.Deadline()
		return "ok"
	})
	e, err := NewEngine(script(calls(tc("c1", "T", "A")), answer("done")), d, cfg)
	require.NoError(t, err)

	before := time.Now()
	e.Execute(context.Background(), "q", nil)
	require.True(t, hasDeadline)
	assert.WithinDuration(t, before.Add(time.Second), deadline, 500*time.Millisecond)
}

func TestEngine_Events(t *testing.T) {
	newModel := func() *scriptedModel {
		return script(calls(tc("c1", "T", "A")), answer("done"))
	}

	t.Run("terminated only by default", func(t *testing.T) {
		obs := &recordingObserver{}
		e := newTestEngine(t, newModel(), &recordingDispatcher{}, DefaultConfig(), WithObserver(obs))
		res := e.Execute(context.Background(), "q", nil)

		require.Equal(t, []EventType{EventTerminated}, obs.types())
		ev := obs.events[0]
		assert.Equal(t, res.RunID, ev.RunID)
		assert.Equal(t, ReasonDirectResponse, ev.Reason)
		assert.True(t, ev.Success)
		assert.Equal(t, 2, ev.Iteration)
	})

	t.Run("intermediate steps", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.ShowIntermediateSteps = true
		obs := &recordingObserver{}
		e := newTestEngine(t, newModel(), &recordingDispatcher{}, cfg, WithObserver(obs))
		res := e.Execute(context.Background(), "q", nil)

		assert.Equal(t, []EventType{
			EventIterationStarted,
			EventModelResponded,
			EventToolDispatched,
			EventObservationReceived,
			EventIterationStarted,
			EventTerminated,
		}, obs.types())

		for _, ev := range obs.events {
			assert.Equal(t, res.RunID, ev.RunID)
			assert.False(t, ev.Time.IsZero())
		}
		assert.Equal(t, "T", obs.events[2].ToolName)
		assert.Equal(t, "obs:T:A", obs.events[3].Observation)
		assert.Equal(t, 1, obs.events[1].ToolCalls)
	})

	t.Run("observer panic is contained", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.ShowIntermediateSteps = true
		bad := ObserverFunc(func(Event) { panic("observer bug") })
		e := newTestEngine(t, newModel(), &recordingDispatcher{}, cfg, WithObserver(bad))

		res := e.Execute(context.Background(), "q", nil)
		assert.True(t, res.Success)
		assert.Equal(t, "done", res.FinalAnswer)
	})
}

func TestEngine_Deterministic(t *testing.T) {
	run := func() *ExecutionResult {
		model := script(
			calls(tc("c1", "T", "A"), tc("c2", "U", "B")),
			calls(tc("c3", "T", "C")),
			answer("same answer"),
		)
		e := newTestEngine(t, model, &recordingDispatcher{}, DefaultConfig())
		return e.Execute(context.Background(), "q", nil)
	}

	a, b := run(), run()
	assert.Equal(t, a.Steps, b.Steps)
	assert.Equal(t, a.FinalAnswer, b.FinalAnswer)
	assert.Equal(t, a.TerminationReason, b.TerminationReason)
	assert.Equal(t, a.TotalDuration, b.TotalDuration)
	assert.NotEqual(t, a.RunID, b.RunID)
}

func TestEngine_ConcurrentRuns(t *testing.T) {
	registry := tools.NewRegistry(tools.WithMemory(memory.NewStore()))
	registry.MustRegister(&panicTool{})

	model := ModelClientFunc(func(_ context.Context, query string, history []message.Message) (ModelResponse, error) {
		if len(history) == 1 {
			return ModelResponse{ToolCalls: []message.ToolCall{tc("c1", "explode", "{}")}}, nil
		}
		return ModelResponse{Content: "answer to " + query}, nil
	})
	e, err := NewEngine(model, registry, DefaultConfig())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q := fmt.Sprintf("q%d", i)
			res := e.Execute(context.Background(), q, nil)
			assert.True(t, res.Success)
			assert.Equal(t, "answer to "+q, res.FinalAnswer)
			assert.Len(t, res.Steps, 2)
		}(i)
	}
	wg.Wait()
}

func TestRun_SinceClampsNegativeDurations(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := &Engine{now: func() time.Time { return now }}
	r := &run{Engine: e}
	assert.Equal(t, time.Duration(0), r.since(now.Add(time.Hour)))
}
