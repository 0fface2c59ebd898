// Package llm talks to the local OpenAI-compatible inference servers. The
// agent loop uses two calls per turn: a non-streaming decision call that may
// return tool calls, and a streaming call that produces the final answer
// token by token.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

var (
	// ErrModelUnavailable indicates the inference endpoint could not be
	// reached or answered with a server error. This is the only fatal
	// failure class of a turn.
	ErrModelUnavailable = errors.New("model endpoint unavailable")

	// ErrMalformedResponse indicates the endpoint answered with a response
	// the loop cannot act on.
	ErrMalformedResponse = errors.New("malformed model response")
)

// Message roles, matching the OpenAI chat schema.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of the conversation sent to the model.
type Message struct {
	Role    string
	Content string
	// ToolCalls is set on assistant messages that requested tools.
	ToolCalls []ToolCall
	// ToolCallID links a tool message to the call it answers.
	ToolCallID string
	// Name is the tool name on tool messages.
	Name string
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolDef describes a callable tool to the model.
type ToolDef struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// Decision is the outcome of a non-streaming decision call: either tool calls
// to execute or the final answer text.
type Decision struct {
	Content   string
	ToolCalls []ToolCall
}

// Client wraps one OpenAI-compatible endpoint.
type Client struct {
	api    *openai.Client
	logger *slog.Logger
}

// New returns a client for the server at baseURL. Ollama and vLLM expose the
// OpenAI surface under /v1; the API key is ignored by local servers.
func New(baseURL string, logger *slog.Logger) *Client {
	cfg := openai.DefaultConfig("local")
	cfg.BaseURL = strings.TrimSuffix(baseURL, "/") + "/v1"
	return &Client{
		api:    openai.NewClientWithConfig(cfg),
		logger: logger,
	}
}

// Decide runs one non-streaming chat completion with tool definitions.
func (c *Client) Decide(ctx context.Context, model string, msgs []Message, tools []ToolDef) (*Decision, error) {
	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: toOpenAI(msgs),
		Tools:    toOpenAITools(tools),
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}

	msg := resp.Choices[0].Message
	d := &Decision{Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		if tc.Function.Name == "" {
			return nil, fmt.Errorf("%w: tool call %q has no function name", ErrMalformedResponse, tc.ID)
		}
		d.ToolCalls = append(d.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return d, nil
}

// StreamFinal streams the answer, calling onToken for every non-empty content
// delta. Returns the accumulated text. An onToken error aborts the stream and
// is returned as-is.
func (c *Client) StreamFinal(ctx context.Context, model string, msgs []Message, onToken func(string) error) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: toOpenAI(msgs),
		Stream:   true,
	}

	s, err := c.api.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return "", classify(err)
	}
	defer s.Close()

	var full strings.Builder
	for {
		chunk, err := s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return full.String(), classify(err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if err := onToken(delta); err != nil {
			return full.String(), err
		}
	}
	return full.String(), nil
}

func toOpenAI(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		om := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		out = append(out, om)
	}
	return out
}

func toOpenAITools(defs []ToolDef) []openai.Tool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(defs))
	for _, d := range defs {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Schema,
			},
		})
	}
	return out
}

// classify maps transport-level failures to ErrModelUnavailable so the agent
// loop can distinguish a dead endpoint from a model refusal.
func classify(err error) error {
	// Cancellation is the caller's doing, not an endpoint failure.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode >= 500 {
			return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
		}
		return err
	}

	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	return err
}
