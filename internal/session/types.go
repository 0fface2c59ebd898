// Package session persists chat sessions and their message history. The agent
// loop appends user, tool and assistant messages in turn order; the API layer
// reads them back for history and session CRUD.
package session

import (
	"encoding/json"
	"time"
)

// Message roles. Tool messages carry the dispatch record of one tool call.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Session is one conversation. MessageCount is derived, never stored.
type Session struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// Message is one conversation entry. Tool fields are set only on tool
// messages; ToolInput holds the exact input the model produced and ToolResult
// the dispatch outcome record.
type Message struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"session_id"`
	Role       string          `json:"role"`
	Content    string          `json:"content"`
	ToolName   string          `json:"tool_name,omitempty"`
	ToolInput  json.RawMessage `json:"tool_input,omitempty"`
	ToolResult json.RawMessage `json:"tool_result,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
