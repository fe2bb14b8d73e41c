package agent

import (
	"context"
	"fmt"

	"github.com/MimeLyc/reactagent/internal/llm"
	"github.com/MimeLyc/reactagent/internal/message"
)

// ModelResponse is the model's next step: either a final answer (no tool
// calls) or one or more tool calls with optional partial content.
type ModelResponse struct {
	Content   string
	ToolCalls []message.ToolCall
}

func (r ModelResponse) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// ModelClient asks a language model for the next step. history is the whole
// conversation so far, ending with the most recent tool observations; the
// user query is already part of it.
type ModelClient interface {
	SendMessageWithTools(ctx context.Context, query string, history []message.Message) (ModelResponse, error)
}

// ModelClientFunc adapts a function to ModelClient
type ModelClientFunc func(ctx context.Context, query string, history []message.Message) (ModelResponse, error)

func (f ModelClientFunc) SendMessageWithTools(ctx context.Context, query string, history []message.Message) (ModelResponse, error) {
	return f(ctx, query, history)
}

// ChatCompleter is the part of *llm.Client the adapter needs
type ChatCompleter interface {
	ChatCompletionWithTools(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition, opts *llm.ChatCompletionOptions) (*llm.ChatResponse, error)
}

// Catalog supplies the model-facing tool definitions
type Catalog interface {
	ToOpenAIFormat() []llm.ToolDefinition
}

// LLMModel implements ModelClient over an OpenAI-compatible chat client
type LLMModel struct {
	client       ChatCompleter
	tools        []llm.ToolDefinition
	systemPrompt string
}

// NewLLMModel snapshots the catalog once; tools registered later are not advertised.
func NewLLMModel(client ChatCompleter, catalog Catalog, systemPrompt string) *LLMModel {
	var defs []llm.ToolDefinition
	if catalog != nil {
		defs = catalog.ToOpenAIFormat()
	}
	return &LLMModel{
		client:       client,
		tools:        defs,
		systemPrompt: systemPrompt,
	}
}

func (m *LLMModel) SendMessageWithTools(ctx context.Context, query string, history []message.Message) (ModelResponse, error) {
	messages := toLLMMessages(history)
	if len(messages) == 0 {
		messages = append(messages, llm.Message{Role: string(message.RoleUser), Content: query})
	}

	opts := llm.NewChatCompletionOptions().WithSystemPrompt(m.systemPrompt)
	resp, err := m.client.ChatCompletionWithTools(ctx, messages, m.tools, opts)
	if err != nil {
		return ModelResponse{}, err
	}
	if len(resp.Choices) == 0 {
		return ModelResponse{}, ErrNoChoices
	}

	choice := resp.Choices[0].Message
	out := ModelResponse{Content: choice.Content}
	for _, tc := range choice.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, message.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	if err := message.ValidateCalls(out.ToolCalls); err != nil {
		return ModelResponse{}, fmt.Errorf("model response: %w", err)
	}
	return out, nil
}

func toLLMMessages(history []message.Message) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, m := range history {
		msg := llm.Message{
			Role:       string(m.Role()),
			Content:    m.Content(),
			ToolCallID: m.ToolCallID(),
		}
		for _, c := range m.ToolCalls() {
			msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
				ID:   c.ID,
				Type: "function",
				Function: llm.FunctionCall{
					Name:      c.Name,
					Arguments: c.Arguments,
				},
			})
		}
		out = append(out, msg)
	}
	return out
}
