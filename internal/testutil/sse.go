// Package testutil holds shared test helpers: an SSE frame parser, a scripted
// OpenAI-compatible inference server and a discarding logger.
package testutil

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SSEEvent is one parsed data-only SSE frame.
type SSEEvent struct {
	// Data is the raw payload after "data: ".
	Data string
}

// JSON unmarshals the frame payload into v.
func (e SSEEvent) JSON(v any) error {
	if err := json.Unmarshal([]byte(e.Data), v); err != nil {
		return fmt.Errorf("frame %q is not valid JSON: %w", e.Data, err)
	}
	return nil
}

// Type returns the "type" field of a JSON payload, or "" when absent.
func (e SSEEvent) Type() string {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(e.Data), &envelope); err != nil {
		return ""
	}
	return envelope.Type
}

// ParseSSE splits a data-only SSE body into frames. Frames are separated by
// a blank line; multi-line data fields are joined with newlines per the spec.
func ParseSSE(body string) []SSEEvent {
	var events []SSEEvent
	for _, block := range strings.Split(body, "\n\n") {
		var dataLines []string
		for _, line := range strings.Split(block, "\n") {
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				dataLines = append(dataLines, data)
			}
		}
		if len(dataLines) > 0 {
			events = append(events, SSEEvent{Data: strings.Join(dataLines, "\n")})
		}
	}
	return events
}
