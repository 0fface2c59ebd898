package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// apiClient talks to a running yaroslav server. Client commands are thin:
// all behavior lives behind the HTTP API.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		// No client timeout: SSE turns are long-lived. Cancellation comes
		// from the request context.
		http: &http.Client{Timeout: 0},
	}
}

type sessionInfo struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// turnEvent is the union of all SSE frame payloads.
type turnEvent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	Tool      string          `json:"tool"`
	Input     json.RawMessage `json:"input"`
	Summary   string          `json:"summary"`
	Content   string          `json:"content"`
	MessageID string          `json:"message_id"`
	Detail    string          `json:"detail"`
}

func (c *apiClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return apiError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func apiError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err == nil && body.Error != "" {
		return fmt.Errorf("server: %s (HTTP %d)", body.Error, resp.StatusCode)
	}
	return fmt.Errorf("server returned HTTP %d", resp.StatusCode)
}

func (c *apiClient) createSession(ctx context.Context, title string) (*sessionInfo, error) {
	var s sessionInfo
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/sessions", map[string]string{"title": title}, &s)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *apiClient) listSessions(ctx context.Context) ([]sessionInfo, error) {
	var out struct {
		Sessions []sessionInfo `json:"sessions"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

func (c *apiClient) deleteSession(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/v1/sessions/"+id, nil, nil)
}

func (c *apiClient) renameSession(ctx context.Context, id, title string) error {
	return c.doJSON(ctx, http.MethodPatch, "/api/v1/sessions/"+id, map[string]string{"title": title}, nil)
}

// stream sends one message and invokes handle for every SSE frame until the
// stream ends.
func (c *apiClient) stream(ctx context.Context, sessionID, content string, handle func(turnEvent)) error {
	b, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/sessions/"+sessionID+"/message", bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "data: "):
			data.WriteString(strings.TrimPrefix(line, "data: "))
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var ev turnEvent
			if err := json.Unmarshal([]byte(data.String()), &ev); err == nil {
				handle(ev)
			}
			data.Reset()
		}
	}
	return scanner.Err()
}
