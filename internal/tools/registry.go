package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MimeLyc/reactagent/internal/llm"
	"github.com/MimeLyc/reactagent/internal/memory"
	"github.com/MimeLyc/reactagent/internal/message"
	"github.com/MimeLyc/reactagent/pkg/log"
	"github.com/MimeLyc/reactagent/pkg/textutil"
)

const (
	// DefaultTimeout bounds a single handler invocation
	DefaultTimeout = 30 * time.Second

	// DispatchModule is the memory module every dispatch is recorded under
	DispatchModule = "tool_dispatch"

	maxRecordedObservation = 500
)

// Option configures a Registry
type Option func(*Registry)

// WithTimeout sets the per-dispatch handler timeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithMemory sets the sink handed to handlers and used to record dispatches.
func WithMemory(sink memory.Sink) Option {
	return func(r *Registry) {
		if sink != nil {
			r.memory = sink
		}
	}
}

// Registry manages available tools for the agent and dispatches calls to them.
// It is safe for concurrent use by multiple sessions.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Handler
	timeout time.Duration
	memory  memory.Sink
}

// NewRegistry creates a new tool registry
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		tools:   make(map[string]Handler),
		timeout: DefaultTimeout,
		memory:  memory.Discard,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a tool to the registry.
// Returns an error if the name is empty or a tool with the same name already exists
func (r *Registry) Register(h Handler) error {
	def := h.Definition()
	if err := def.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateTool, def.Name)
	}

	r.tools[def.Name] = h
	return nil
}

// MustRegister is Register for startup wiring; it panics on error.
func (r *Registry) MustRegister(h Handler) {
	if err := r.Register(h); err != nil {
		panic(err)
	}
}

// Get retrieves a tool by name
func (r *Registry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, exists := r.tools[name]
	return h, exists
}

// List returns all registered tool names in sorted order
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Definitions returns the definitions of all tools sorted by name
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.tools))
	for _, h := range r.tools {
		defs = append(defs, h.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// ToOpenAIFormat converts all registered tools to OpenAI tool definition format
func (r *Registry) ToOpenAIFormat() []llm.ToolDefinition {
	defs := r.Definitions()
	out := make([]llm.ToolDefinition, 0, len(defs))
	for _, def := range defs {
		out = append(out, llm.ToolDefinition{
			Type: "function",
			Function: llm.Function{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.JSONSchema(),
			},
		})
	}
	return out
}

// Dispatch routes a tool call to its handler and returns the observation.
// It never panics and never returns an error: every failure comes back as
// an observation starting with ErrorPrefix.
func (r *Registry) Dispatch(ctx context.Context, call message.ToolCall) string {
	start := time.Now()
	observation := r.dispatch(ctx, call)
	duration := time.Since(start)

	log.Debug("tool %s dispatched in %dms (error=%t)",
		call.Name, duration.Milliseconds(), strings.HasPrefix(observation, ErrorPrefix))

	r.record(ctx, call, observation)
	return observation
}

var errHandlerPanic = errors.New("panicked")

type outcome struct {
	result Result
	err    error
}

func (r *Registry) dispatch(ctx context.Context, call message.ToolCall) string {
	h, ok := r.Get(call.Name)
	if !ok {
		available := r.List()
		list := "none"
		if len(available) > 0 {
			list = strings.Join(available, ", ")
		}
		return fmt.Sprintf("%s no such tool %q. Available tools: %s", ErrorPrefix, call.Name, list)
	}

	params, err := ParseParameters(call.Arguments)
	if err != nil {
		return fmt.Sprintf("%s invalid arguments for %s: %v", ErrorPrefix, call.Name, err)
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	// an earlier parent deadline wins over r.timeout
	deadline, _ := ctx.Deadline()
	budget := max(deadline.Sub(start), 0)

	// buffered so a handler finishing after the timeout does not leak
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("%w: %v", errHandlerPanic, p)}
			}
		}()
		res, err := h.Execute(ctx, params, r.memory)
		done <- outcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && ctx.Err() != nil {
			return interrupted(call.Name, ctx.Err(), budget)
		}
		return formatOutcome(call.Name, out)
	case <-ctx.Done():
		return interrupted(call.Name, ctx.Err(), budget)
	}
}

func interrupted(name string, err error, budget time.Duration) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("%s %s timed out after %s", ErrorPrefix, name, budget.Round(time.Millisecond))
	}
	return fmt.Sprintf("%s %s cancelled: %v", ErrorPrefix, name, err)
}

func formatOutcome(name string, out outcome) string {
	if out.err != nil {
		if errors.Is(out.err, errHandlerPanic) {
			return fmt.Sprintf("%s %s %v", ErrorPrefix, name, out.err)
		}
		return fmt.Sprintf("%s %s failed: %v", ErrorPrefix, name, out.err)
	}

	if out.result.IsError && !strings.HasPrefix(out.result.Content, ErrorPrefix) {
		return ErrorPrefix + " " + out.result.Content
	}
	return out.result.Content
}

func (r *Registry) record(ctx context.Context, call message.ToolCall, observation string) {
	text := fmt.Sprintf("%s(%s) -> %s", call.Name, call.Arguments, textutil.Truncate(observation, maxRecordedObservation))

	// the run may already be past its deadline; the record still matters
	if err := r.memory.AddToModule(context.WithoutCancel(ctx), DispatchModule, string(message.RoleTool), text); err != nil {
		log.Warn("failed to record dispatch of %s: %v", call.Name, err)
	}
}

