// Package stream defines the turn event union and the bounded publisher that
// carries events from the agent loop to the SSE transport.
package stream

import "encoding/json"

// Event is one frame of a turn stream. Exactly one terminal event (Done or
// Error) ends every turn; nothing follows it.
type Event interface {
	json.Marshaler
	// Terminal reports whether this event ends the turn.
	Terminal() bool
}

// Status is a human-readable progress line ("thinking", "searching the graph").
type Status struct {
	Text string
}

func (e Status) Terminal() bool { return false }

func (e Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{"status", e.Text})
}

// ToolStart announces a tool dispatch with the exact input the model produced.
type ToolStart struct {
	Tool  string
	Input json.RawMessage
}

func (e ToolStart) Terminal() bool { return false }

func (e ToolStart) MarshalJSON() ([]byte, error) {
	input := e.Input
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	return json.Marshal(struct {
		Type  string          `json:"type"`
		Tool  string          `json:"tool"`
		Input json.RawMessage `json:"input"`
	}{"tool_start", e.Tool, input})
}

// ToolDone carries the short human summary of a finished dispatch. Emitted for
// every started tool regardless of outcome.
type ToolDone struct {
	Tool    string
	Summary string
}

func (e ToolDone) Terminal() bool { return false }

func (e ToolDone) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    string `json:"type"`
		Tool    string `json:"tool"`
		Summary string `json:"summary"`
	}{"tool_done", e.Tool, e.Summary})
}

// Token is one chunk of the final answer text.
type Token struct {
	Content string
}

func (e Token) Terminal() bool { return false }

func (e Token) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    string `json:"type"`
		Content string `json:"content"`
	}{"token", e.Content})
}

// Done terminates a successful turn with the persisted assistant message ID.
type Done struct {
	MessageID string
}

func (e Done) Terminal() bool { return true }

func (e Done) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      string `json:"type"`
		MessageID string `json:"message_id"`
	}{"done", e.MessageID})
}

// Error terminates a failed turn.
type Error struct {
	Detail string
}

func (e Error) Terminal() bool { return true }

func (e Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type   string `json:"type"`
		Detail string `json:"detail"`
	}{"error", e.Detail})
}
