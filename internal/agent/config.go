package agent

import (
	"fmt"
	"time"
)

// DefaultFirstTurnNudge is appended after the first batch of observations to
// steer the model towards answering instead of calling more tools.
const DefaultFirstTurnNudge = "You now have the tool results above. Answer the user's question directly " +
	"using these observations. Only call another tool if the observations are clearly insufficient."

// Config holds the run parameters of an Engine. It is copied into the engine
// at construction and never mutated afterwards.
type Config struct {
	// MaxIterations bounds the number of model calls per run
	MaxIterations int `yaml:"max_iterations"`

	// EnableMultiToolLoop lets the model keep calling tools after the first
	// observation. When false the first observation is the answer.
	EnableMultiToolLoop bool `yaml:"enable_multi_tool_loop"`

	// PreventDuplicateCalls stops the run when the same call repeats
	PreventDuplicateCalls bool `yaml:"prevent_duplicate_calls"`

	// DuplicateThreshold is the number of consecutive repeats that stop the run
	DuplicateThreshold int `yaml:"duplicate_threshold"`

	// ShowIntermediateSteps emits step events to the observer
	ShowIntermediateSteps bool `yaml:"show_intermediate_steps"`

	// DispatchTimeout bounds each tool dispatch. Zero means no engine-side bound.
	DispatchTimeout time.Duration `yaml:"dispatch_timeout"`

	// FirstTurnNudge is the system instruction added after the first
	// iteration's observations. Empty disables it.
	FirstTurnNudge string `yaml:"first_turn_nudge"`
}

func DefaultConfig() Config {
	return Config{
		MaxIterations:         10,
		EnableMultiToolLoop:   true,
		PreventDuplicateCalls: true,
		DuplicateThreshold:    3,
		ShowIntermediateSteps: false,
		DispatchTimeout:       30 * time.Second,
		FirstTurnNudge:        DefaultFirstTurnNudge,
	}
}

func (c Config) Validate() error {
	if c.MaxIterations < 1 {
		return fmt.Errorf("%w: max iterations must be at least 1, got %d", ErrInvalidConfig, c.MaxIterations)
	}
	if c.PreventDuplicateCalls && c.DuplicateThreshold < 1 {
		return fmt.Errorf("%w: duplicate threshold must be at least 1, got %d", ErrInvalidConfig, c.DuplicateThreshold)
	}
	if c.DispatchTimeout < 0 {
		return fmt.Errorf("%w: dispatch timeout must not be negative", ErrInvalidConfig)
	}
	return nil
}
