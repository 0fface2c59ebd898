package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// Step scripts one decision call of the inference server.
type Step struct {
	// ToolName, when set, answers the decision with one tool call.
	ToolName string
	// ToolArgs is the JSON arguments of the tool call.
	ToolArgs string
	// Content answers the decision with final text (no tool call).
	Content string
	// Fail answers with a 500 instead.
	Fail bool
}

// Inference is a scripted OpenAI-compatible chat server. Non-streaming
// requests consume Steps in order; streaming requests serve FinalTokens as
// content deltas. All received requests are recorded for assertions.
type Inference struct {
	Server *httptest.Server

	// FinalTokens are the deltas served to every streaming request.
	FinalTokens []string

	mu       sync.Mutex
	steps    []Step
	requests []InferenceRequest
}

// InferenceRequest is a recorded chat completion request.
type InferenceRequest struct {
	Stream   bool
	Model    string
	Messages []InferenceMessage
	NumTools int
}

// InferenceMessage is one message of a recorded request.
type InferenceMessage struct {
	Role       string          `json:"role"`
	Content    string          `json:"content"`
	ToolCallID string          `json:"tool_call_id"`
	ToolCalls  json.RawMessage `json:"tool_calls"`
}

// NewInference starts the scripted server. It is closed via t.Cleanup.
func NewInference(t *testing.T, steps ...Step) *Inference {
	t.Helper()
	inf := &Inference{steps: steps, FinalTokens: []string{"ok"}}
	inf.Server = httptest.NewServer(http.HandlerFunc(inf.handle))
	t.Cleanup(inf.Server.Close)
	return inf
}

// URL is the server base URL.
func (inf *Inference) URL() string { return inf.Server.URL }

// Requests returns a copy of all recorded requests.
func (inf *Inference) Requests() []InferenceRequest {
	inf.mu.Lock()
	defer inf.mu.Unlock()
	out := make([]InferenceRequest, len(inf.requests))
	copy(out, inf.requests)
	return out
}

// StreamRequests returns only the streaming requests.
func (inf *Inference) StreamRequests() []InferenceRequest {
	var out []InferenceRequest
	for _, r := range inf.Requests() {
		if r.Stream {
			out = append(out, r)
		}
	}
	return out
}

func (inf *Inference) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/chat/completions" {
		http.NotFound(w, r)
		return
	}

	var req struct {
		Model    string             `json:"model"`
		Stream   bool               `json:"stream"`
		Messages []InferenceMessage `json:"messages"`
		Tools    []json.RawMessage  `json:"tools"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	inf.mu.Lock()
	inf.requests = append(inf.requests, InferenceRequest{
		Stream:   req.Stream,
		Model:    req.Model,
		Messages: req.Messages,
		NumTools: len(req.Tools),
	})
	reqID := len(inf.requests)
	var step Step
	if !req.Stream {
		if len(inf.steps) == 0 {
			inf.mu.Unlock()
			http.Error(w, `{"error":{"message":"script exhausted"}}`, http.StatusInternalServerError)
			return
		}
		step = inf.steps[0]
		inf.steps = inf.steps[1:]
	}
	tokens := inf.FinalTokens
	inf.mu.Unlock()

	if req.Stream {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, tok := range tokens {
			fmt.Fprintf(w, "data: {\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", tok)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		return
	}

	if step.Fail {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"inference backend down","type":"server_error"}}`)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if step.ToolName != "" {
		fmt.Fprintf(w, `{"object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"","tool_calls":[{"id":"call_%d","type":"function","function":{"name":%q,"arguments":%q}}]},"finish_reason":"tool_calls"}]}`,
			reqID, step.ToolName, step.ToolArgs)
		return
	}
	fmt.Fprintf(w, `{"object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":%q},"finish_reason":"stop"}]}`, step.Content)
}
