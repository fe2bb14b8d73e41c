package agent

import "errors"

var (
	ErrMissingModel      = errors.New("model client is required")
	ErrMissingDispatcher = errors.New("tool dispatcher is required")
	ErrInvalidConfig     = errors.New("invalid agent config")
	ErrNoChoices         = errors.New("model returned no choices")
)
