package agent

import "time"

// Termination reasons reported in ExecutionResult.TerminationReason
const (
	ReasonDirectResponse        = "direct model response"
	ReasonLoopDetected          = "loop detected"
	ReasonSingleTool            = "single-tool mode"
	ReasonIterationLimit        = "iteration limit - used last observation"
	ReasonIterationLimitNoObs   = "iteration limit - no observation"
	ReasonDeadlineExceeded      = "deadline exceeded - used last observation"
	ReasonDeadlineExceededNoObs = "deadline exceeded - no observation"
	ReasonModelError            = "model client error"
	ReasonInternalPanic         = "internal panic"
)

// LimitReachedAnswer is the final answer when the budget runs out before any
// tool produced an observation.
const LimitReachedAnswer = "The agent reached its limit without completing the task."

// Step is the trace of one tool dispatch, or of the model response that ended the run
type Step struct {
	Iteration   int           `json:"iteration"`
	ToolName    string        `json:"tool_name,omitempty"`
	Arguments   string        `json:"arguments,omitempty"`
	Observation string        `json:"observation"`
	IsFinal     bool          `json:"is_final"`
	Duration    time.Duration `json:"duration"`
}

// DurationMs returns the elapsed time in milliseconds
func (s Step) DurationMs() int64 {
	return s.Duration.Milliseconds()
}

// ExecutionResult is the outcome of one Engine.Execute call
type ExecutionResult struct {
	RunID             string        `json:"run_id"`
	Steps             []Step        `json:"steps"`
	FinalAnswer       string        `json:"final_answer"`
	Success           bool          `json:"success"`
	TerminationReason string        `json:"termination_reason"`
	StartTime         time.Time     `json:"start_time"`
	EndTime           time.Time     `json:"end_time"`
	TotalDuration     time.Duration `json:"total_duration"`

	// Iterations is the number of model calls made
	Iterations int `json:"iterations"`
}

func (r *ExecutionResult) IterationCount() int {
	return r.Iterations
}

// ToolCallCount returns the number of steps that dispatched a tool
func (r *ExecutionResult) ToolCallCount() int {
	n := 0
	for _, s := range r.Steps {
		if s.ToolName != "" {
			n++
		}
	}
	return n
}
