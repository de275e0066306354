// Package llm runs tool-using conversations against the Anthropic API.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-5"

// MaxRounds bounds the number of model calls in one Converse.
const MaxRounds = 8

// ErrTooManyRounds is returned when the model keeps calling tools past
// MaxRounds.
var ErrTooManyRounds = errors.New("assistant exceeded tool round limit")

// Role of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one prior message replayed to the model.
type Turn struct {
	Role Role
	Text string
}

// Tool declares a function the model may call. Properties is the JSON schema
// "properties" object; Required lists mandatory property names.
type Tool struct {
	Name        string
	Description string
	Properties  map[string]any
	Required    []string
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResult is what a handler returns for a ToolCall. Final ends the
// conversation after this round without another model call.
type ToolResult struct {
	Content string
	IsError bool
	Final   bool
}

// ToolHandler executes a tool call.
type ToolHandler func(ctx context.Context, call ToolCall) ToolResult

// Reply is the outcome of a conversation.
type Reply struct {
	Text string
	// Final is the tool call that ended the conversation, if any.
	Final *ToolCall
}

// Client wraps the Anthropic API.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates an LLM client with the given API key and model. Extra
// request options (base URL, retries) are passed through to the SDK.
func NewClient(apiKey, model string, extra ...option.RequestOption) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	opts = append(opts, extra...)
	if model == "" {
		model = DefaultModel
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return string(c.model) }

func toolParams(tools []Tool) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		props := t.Properties
		if props == nil {
			props = map[string]any{}
		}
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: props,
					Required:   t.Required,
				},
			},
		})
	}
	return out
}

// historyParams converts prior turns, dropping empty ones and merging
// consecutive turns of the same role so the API sees strict alternation.
func historyParams(history []Turn) []anthropic.MessageParam {
	var merged []Turn
	for _, t := range history {
		if strings.TrimSpace(t.Text) == "" {
			continue
		}
		if n := len(merged); n > 0 && merged[n-1].Role == t.Role {
			merged[n-1].Text += "\n\n" + t.Text
			continue
		}
		merged = append(merged, t)
	}
	// The conversation must open with a user turn.
	for len(merged) > 0 && merged[0].Role != RoleUser {
		merged = merged[1:]
	}

	out := make([]anthropic.MessageParam, 0, len(merged))
	for _, t := range merged {
		block := anthropic.NewTextBlock(t.Text)
		if t.Role == RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}

// Converse sends the history to the model and executes requested tools until
// the model stops calling them, a handler marks its result Final, or
// MaxRounds is reached.
func (c *Client) Converse(ctx context.Context, system string, history []Turn, tools []Tool, handle ToolHandler) (*Reply, error) {
	messages := historyParams(history)
	if len(messages) == 0 {
		return nil, errors.New("empty conversation")
	}
	params := toolParams(tools)

	var text strings.Builder
	for round := 0; round < MaxRounds; round++ {
		msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     c.model,
			MaxTokens: 4096,
			System: []anthropic.TextBlockParam{
				{Text: system},
			},
			Messages: messages,
			Tools:    params,
		})
		if err != nil {
			return nil, fmt.Errorf("anthropic API call: %w", err)
		}

		var calls []ToolCall
		for _, block := range msg.Content {
			switch block.Type {
			case "text":
				if text.Len() > 0 && block.Text != "" {
					text.WriteString("\n\n")
				}
				text.WriteString(block.Text)
			case "tool_use":
				calls = append(calls, ToolCall{ID: block.ID, Name: block.Name, Input: block.Input})
			}
		}

		if len(calls) == 0 {
			return &Reply{Text: strings.TrimSpace(text.String())}, nil
		}

		var (
			results []anthropic.ContentBlockParamUnion
			final   *ToolCall
		)
		for _, call := range calls {
			res := handle(ctx, call)
			if res.Final && final == nil {
				final = &call
			}
			results = append(results, anthropic.NewToolResultBlock(call.ID, res.Content, res.IsError))
		}
		if final != nil {
			return &Reply{Text: strings.TrimSpace(text.String()), Final: final}, nil
		}

		messages = append(messages, msg.ToParam(), anthropic.NewUserMessage(results...))
	}
	return nil, ErrTooManyRounds
}
