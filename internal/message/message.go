// Package message holds the conversation records exchanged between the
// ReAct engine, the model client and the tool dispatcher.
package message

import (
	"errors"
	"fmt"
	"time"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

var (
	ErrEmptyToolCallID     = errors.New("tool call id is required")
	ErrDuplicateToolCallID = errors.New("duplicate tool call id")
	ErrEmptyToolName       = errors.New("tool name is required")
)

// ToolCall is a single invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Message is one conversation turn. The zero value is not useful; build
// messages with the constructor matching their shape so that invalid
// combinations (a tool message without a call id, calls on a user
// message) cannot be represented.
type Message struct {
	role       Role
	content    string
	timestamp  time.Time
	toolCallID string
	toolCalls  []ToolCall
}

var now = time.Now

func NewUser(content string) Message {
	return Message{role: RoleUser, content: content, timestamp: now()}
}

func NewSystem(content string) Message {
	return Message{role: RoleSystem, content: content, timestamp: now()}
}

func NewAssistant(content string) Message {
	return Message{role: RoleAssistant, content: content, timestamp: now()}
}

// NewAssistantWithCalls builds an assistant turn that invokes tools.
// content may be empty.
func NewAssistantWithCalls(content string, calls []ToolCall) Message {
	return Message{
		role:      RoleAssistant,
		content:   content,
		timestamp: now(),
		toolCalls: cloneCalls(calls),
	}
}

// NewTool builds the tool-role message answering the call with id callID.
func NewTool(callID, observation string) (Message, error) {
	if callID == "" {
		return Message{}, ErrEmptyToolCallID
	}
	return Message{
		role:       RoleTool,
		content:    observation,
		timestamp:  now(),
		toolCallID: callID,
	}, nil
}

func (m Message) Role() Role           { return m.role }
func (m Message) Content() string      { return m.content }
func (m Message) Timestamp() time.Time { return m.timestamp }
func (m Message) ToolCallID() string   { return m.toolCallID }

// ToolCalls returns a copy of the requested calls.
func (m Message) ToolCalls() []ToolCall {
	return cloneCalls(m.toolCalls)
}

func (m Message) HasToolCalls() bool {
	return len(m.toolCalls) > 0
}

func (m Message) String() string {
	switch {
	case m.role == RoleTool:
		return fmt.Sprintf("tool[%s]: %s", m.toolCallID, m.content)
	case m.HasToolCalls():
		return fmt.Sprintf("%s: %s (%d tool calls)", m.role, m.content, len(m.toolCalls))
	default:
		return fmt.Sprintf("%s: %s", m.role, m.content)
	}
}

// ValidateCalls checks that every call has a name and an id that is unique
// within the batch.
func ValidateCalls(calls []ToolCall) error {
	seen := make(map[string]struct{}, len(calls))
	for i, call := range calls {
		if call.ID == "" {
			return fmt.Errorf("tool call %d: %w", i, ErrEmptyToolCallID)
		}
		if call.Name == "" {
			return fmt.Errorf("tool call %q: %w", call.ID, ErrEmptyToolName)
		}
		if _, ok := seen[call.ID]; ok {
			return fmt.Errorf("tool call %q: %w", call.ID, ErrDuplicateToolCallID)
		}
		seen[call.ID] = struct{}{}
	}
	return nil
}

func cloneCalls(in []ToolCall) []ToolCall {
	if len(in) == 0 {
		return nil
	}
	out := make([]ToolCall, len(in))
	copy(out, in)
	return out
}
