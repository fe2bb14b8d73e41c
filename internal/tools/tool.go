package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MimeLyc/reactagent/internal/memory"
)

// ErrorPrefix marks an observation that reports a failure.
const ErrorPrefix = "Error:"

// Parameter type tags used in tool schemas
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
)

var (
	ErrToolNameRequired = errors.New("tool name is required")
	ErrDuplicateTool    = errors.New("tool already registered")
)

// Result represents the result of a tool execution
type Result struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// ErrorResult builds a failed result whose content carries ErrorPrefix.
func ErrorResult(format string, args ...any) Result {
	return Result{
		Content: ErrorPrefix + " " + fmt.Sprintf(format, args...),
		IsError: true,
	}
}

// Handler defines the interface every capability plugged into the agent implements
type Handler interface {
	// Definition describes the tool to the model. It must be pure.
	Definition() Definition

	// Execute runs the tool. Failures should come back as an ErrorResult;
	// a returned error is converted into one by the dispatcher. Neither
	// params nor mem may be retained after Execute returns.
	Execute(ctx context.Context, params Parameters, mem memory.Sink) (Result, error)
}

// ParamSpec describes one named parameter.
type ParamSpec struct {
	Name        string
	Type        string
	Description string
	Required    bool
	Enum        []string
}

// Definition is the model-facing description of a tool.
type Definition struct {
	Name        string
	Description string
	Params      []ParamSpec
}

// Validate checks the definition can be advertised to a model.
func (d Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return ErrToolNameRequired
	}
	seen := make(map[string]struct{}, len(d.Params))
	for _, p := range d.Params {
		if p.Name == "" {
			return fmt.Errorf("tool %q: parameter name is required", d.Name)
		}
		if _, ok := seen[p.Name]; ok {
			return fmt.Errorf("tool %q: duplicate parameter %q", d.Name, p.Name)
		}
		seen[p.Name] = struct{}{}
		switch p.Type {
		case TypeString, TypeInteger, TypeNumber, TypeBoolean:
		default:
			return fmt.Errorf("tool %q: parameter %q has unsupported type %q", d.Name, p.Name, p.Type)
		}
	}
	return nil
}

// JSONSchema renders the parameters as a JSON schema object.
func (d Definition) JSONSchema() json.RawMessage {
	properties := make(map[string]any, len(d.Params))
	required := make([]string, 0)
	for _, p := range d.Params {
		prop := map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}

	// a map of strings and string slices always marshals
	data, _ := json.Marshal(schema)
	return data
}
