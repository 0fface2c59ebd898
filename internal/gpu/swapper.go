package gpu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Swapper loads and unloads models on an inference server.
type Swapper interface {
	// Unload asks the server to evict a model. Best effort; callers may
	// proceed when it fails.
	Unload(ctx context.Context, model string) error
	// Load blocks until the model is resident with the given context window.
	Load(ctx context.Context, model string, numCtx int) error
}

// OllamaSwapper drives residency through Ollama's generate endpoint.
// An empty-prompt generate with keep_alive "0s" evicts the model;
// keep_alive "-1" pins it until explicitly evicted.
type OllamaSwapper struct {
	baseURL string
	client  *http.Client
}

// NewOllamaSwapper returns a swapper for the Ollama server at baseURL.
// Request deadlines come from the caller's context, not the client.
func NewOllamaSwapper(baseURL string) *OllamaSwapper {
	return &OllamaSwapper{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 0},
	}
}

type generateRequest struct {
	Model     string         `json:"model"`
	KeepAlive string         `json:"keep_alive"`
	Stream    bool           `json:"stream"`
	Options   map[string]any `json:"options,omitempty"`
}

// Unload evicts model from VRAM immediately.
func (o *OllamaSwapper) Unload(ctx context.Context, model string) error {
	return o.generate(ctx, generateRequest{Model: model, KeepAlive: "0s"})
}

// Load makes model resident and pins it. The request returns once the
// weights are in VRAM, so its duration is the swap cost.
func (o *OllamaSwapper) Load(ctx context.Context, model string, numCtx int) error {
	req := generateRequest{Model: model, KeepAlive: "-1"}
	if numCtx > 0 {
		req.Options = map[string]any{"num_ctx": numCtx}
	}
	return o.generate(ctx, req)
}

func (o *OllamaSwapper) generate(ctx context.Context, req generateRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding generate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := o.client.Do(httpReq)
	if err != nil {
		// Surface the context error so deadline classification works upstream.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("calling %s/api/generate: %w", o.baseURL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("generate for %s returned %d after %s",
			req.Model, resp.StatusCode, time.Since(start).Round(time.Millisecond))
	}
	return nil
}
