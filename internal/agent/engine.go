package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MimeLyc/reactagent/internal/message"
	"github.com/MimeLyc/reactagent/pkg/log"
)

// Dispatcher executes one tool call and returns its observation. It must not
// panic and must report failures as observations.
type Dispatcher interface {
	Dispatch(ctx context.Context, call message.ToolCall) string
}

// DispatcherFunc adapts a function to Dispatcher
type DispatcherFunc func(ctx context.Context, call message.ToolCall) string

func (f DispatcherFunc) Dispatch(ctx context.Context, call message.ToolCall) string {
	return f(ctx, call)
}

// Option configures an Engine
type Option func(*Engine)

// WithObserver sets the event observer. nil keeps the default no-op observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine runs the ReAct loop: ask the model, dispatch the tool calls it
// requests, feed the observations back, until it answers or a limit stops it.
// An Engine is safe for concurrent Execute calls; each run owns its own
// conversation and result.
type Engine struct {
	model      ModelClient
	dispatcher Dispatcher
	cfg        Config
	observer   Observer
	now        func() time.Time
}

func NewEngine(model ModelClient, dispatcher Dispatcher, cfg Config, opts ...Option) (*Engine, error) {
	if model == nil {
		return nil, fmt.Errorf("new engine: %w", ErrMissingModel)
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("new engine: %w", ErrMissingDispatcher)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("new engine: %w", err)
	}

	e := &Engine{
		model:      model,
		dispatcher: dispatcher,
		cfg:        cfg,
		observer:   noopObserver{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns a copy of the engine configuration
func (e *Engine) Config() Config {
	return e.cfg
}

// run is the state of one Execute call
type run struct {
	*Engine
	ctx          context.Context
	query        string
	result       *ExecutionResult
	conversation []message.Message
	detector     *DuplicateDetector

	lastObservation string
	hasObservation  bool
}

// Execute answers query given the prior conversation history. It always
// returns a complete result and never panics: Success is false only when the
// model client fails or the loop itself faults.
func (e *Engine) Execute(ctx context.Context, query string, history []message.Message) (result *ExecutionResult) {
	if ctx == nil {
		ctx = context.Background()
	}
	r := &run{
		Engine: e,
		ctx:    ctx,
		query:  query,
		result: &ExecutionResult{
			RunID:     uuid.NewString(),
			Steps:     make([]Step, 0),
			StartTime: e.now(),
		},
		detector: NewDuplicateDetector(e.cfg.PreventDuplicateCalls, e.cfg.DuplicateThreshold),
	}

	r.conversation = make([]message.Message, 0, len(history)+1+2*e.cfg.MaxIterations)
	r.conversation = append(r.conversation, history...)
	r.conversation = append(r.conversation, message.NewUser(query))

	defer func() {
		r.finalize(recover())
		result = r.result
	}()
	r.loop()
	return r.result
}

func (r *run) loop() {
	for iteration := 1; iteration <= r.cfg.MaxIterations; iteration++ {
		if r.ctx.Err() != nil {
			r.stopOnDeadline()
			return
		}
		if done := r.iterate(iteration); done {
			return
		}
	}

	// budget exhausted
	if r.hasObservation {
		r.finish(r.lastObservation, ReasonIterationLimit, true)
		r.markLastStepFinal()
		return
	}
	r.finish(LimitReachedAnswer, ReasonIterationLimitNoObs, true)
}

// iterate runs one Thinking/Acting/Observing cycle and reports whether the run terminated.
func (r *run) iterate(iteration int) bool {
	r.result.Iterations = iteration
	start := r.now()
	r.emit(Event{Type: EventIterationStarted, Iteration: iteration})

	resp, err := r.model.SendMessageWithTools(r.ctx, r.query, cloneMessages(r.conversation))
	if err != nil {
		if r.ctx.Err() != nil {
			r.stopOnDeadline()
			return true
		}
		r.fail(iteration, start, ReasonModelError, fmt.Sprintf("Model client error: %v", err))
		return true
	}

	if !resp.HasToolCalls() {
		r.addStep(Step{
			Iteration:   iteration,
			Observation: resp.Content,
			IsFinal:     true,
			Duration:    r.since(start),
		})
		r.finish(resp.Content, ReasonDirectResponse, true)
		return true
	}

	if err := message.ValidateCalls(resp.ToolCalls); err != nil {
		r.fail(iteration, start, ReasonModelError, fmt.Sprintf("Model client error: invalid tool calls: %v", err))
		return true
	}

	r.emit(Event{Type: EventModelResponded, Iteration: iteration, ToolCalls: len(resp.ToolCalls)})
	r.conversation = append(r.conversation, message.NewAssistantWithCalls(resp.Content, resp.ToolCalls))

	for _, call := range resp.ToolCalls {
		if r.detector.Observe(call.Name, call.Arguments) {
			log.Warn("Run %s: %s called %d times in a row with the same arguments, stopping",
				r.result.RunID, call.Name, r.detector.Count()+1)
			answer := r.lastObservation
			if !r.hasObservation {
				answer = LimitReachedAnswer
			}
			r.finish(answer, ReasonLoopDetected, true)
			r.markLastStepFinal()
			return true
		}

		observation := r.dispatch(iteration, call)

		toolMsg, err := message.NewTool(call.ID, observation)
		if err != nil {
			// ids were validated above
			panic(err)
		}
		r.conversation = append(r.conversation, toolMsg)

		if !r.cfg.EnableMultiToolLoop {
			r.finish(observation, ReasonSingleTool, true)
			r.markLastStepFinal()
			return true
		}
	}

	if iteration == 1 && r.cfg.FirstTurnNudge != "" {
		r.conversation = append(r.conversation, message.NewSystem(r.cfg.FirstTurnNudge))
	}
	return false
}

func (r *run) dispatch(iteration int, call message.ToolCall) string {
	start := r.now()
	r.emit(Event{Type: EventToolDispatched, Iteration: iteration, ToolName: call.Name, Arguments: call.Arguments})

	ctx := r.ctx
	if r.cfg.DispatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.DispatchTimeout)
		defer cancel()
	}
	observation := r.dispatcher.Dispatch(ctx, call)

	r.emit(Event{
		Type:        EventObservationReceived,
		Iteration:   iteration,
		ToolName:    call.Name,
		Arguments:   call.Arguments,
		Observation: observation,
	})

	r.addStep(Step{
		Iteration:   iteration,
		ToolName:    call.Name,
		Arguments:   call.Arguments,
		Observation: observation,
		Duration:    r.since(start),
	})
	r.lastObservation = observation
	r.hasObservation = true
	return observation
}

// stopOnDeadline treats an expired or cancelled context like an exhausted budget.
func (r *run) stopOnDeadline() {
	if r.hasObservation {
		r.finish(r.lastObservation, ReasonDeadlineExceeded, true)
		r.markLastStepFinal()
		return
	}
	r.finish(LimitReachedAnswer, ReasonDeadlineExceededNoObs, true)
	if r.result.Iterations > 0 {
		r.addStep(Step{Iteration: r.result.Iterations, Observation: LimitReachedAnswer, IsFinal: true})
	}
}

func (r *run) fail(iteration int, start time.Time, reason, answer string) {
	r.addStep(Step{
		Iteration:   iteration,
		Observation: answer,
		IsFinal:     true,
		Duration:    r.since(start),
	})
	r.finish(answer, reason, false)
}

func (r *run) finish(answer, reason string, success bool) {
	r.result.FinalAnswer = answer
	r.result.TerminationReason = reason
	r.result.Success = success
}

func (r *run) addStep(s Step) {
	r.result.Steps = append(r.result.Steps, s)
}

func (r *run) markLastStepFinal() {
	if n := len(r.result.Steps); n > 0 {
		r.result.Steps[n-1].IsFinal = true
	}
}

// finalize turns a recovered fault p into a failed result, stamps the
// timings and announces termination.
func (r *run) finalize(p any) {
	if p != nil {
		log.Error("Run %s panicked: %v", r.result.RunID, p)
		answer := fmt.Sprintf("Internal error: %v", p)
		r.finish(answer, ReasonInternalPanic, false)
		if r.result.Iterations > 0 {
			r.addStep(Step{Iteration: r.result.Iterations, Observation: answer, IsFinal: true})
		}
	}

	r.result.EndTime = r.now()
	r.result.TotalDuration = r.result.EndTime.Sub(r.result.StartTime)
	if r.result.TotalDuration < 0 {
		r.result.TotalDuration = 0
	}

	r.notify(Event{
		RunID:     r.result.RunID,
		Type:      EventTerminated,
		Iteration: r.result.Iterations,
		Reason:    r.result.TerminationReason,
		Success:   r.result.Success,
		Time:      r.result.EndTime,
	})
}

// emit forwards a step event when intermediate steps are enabled
func (r *run) emit(e Event) {
	if !r.cfg.ShowIntermediateSteps {
		return
	}
	e.RunID = r.result.RunID
	e.Time = r.now()
	r.notify(e)
}

// notify delivers e; an observer fault is logged and otherwise ignored.
func (r *run) notify(e Event) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("Observer panicked on %s event: %v", e.Type, p)
		}
	}()
	r.observer.OnEvent(e)
}

func (r *run) since(start time.Time) time.Duration {
	d := r.now().Sub(start)
	if d < 0 {
		return 0
	}
	return d
}

func cloneMessages(in []message.Message) []message.Message {
	out := make([]message.Message, len(in))
	copy(out, in)
	return out
}
