// Package tools holds the closed tool table and the dispatcher that executes
// tool calls against the skills service under GPU residency and timeout
// discipline.
package tools

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/zavodtech/yaroslav/internal/gpu"
	"github.com/zavodtech/yaroslav/internal/llm"
)

// Summarizer turns a successful tool result into a short human line for the
// stream. Never the raw payload.
type Summarizer func(result json.RawMessage) string

// ToolSpec describes one callable tool. Specs are built once at startup and
// read-only afterwards.
type ToolSpec struct {
	// Name is the identifier the model calls the tool by.
	Name string
	// Description is shown to the model in the tool definitions.
	Description string
	// Endpoint is the absolute URL the dispatcher POSTs the input to.
	Endpoint string
	// Class is the model residency the tool needs; ClassNone skips the scheduler.
	Class gpu.Class
	// Timeout is the wall-clock budget for one dispatch.
	Timeout time.Duration
	// Summarize produces the tool_done line on success.
	Summarize Summarizer

	schema    *jsonschema.Resolved
	rawSchema json.RawMessage
}

// compileSchema attaches a resolved JSON schema to the spec.
func (s *ToolSpec) compileSchema(schema *jsonschema.Schema) error {
	raw, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("encoding schema for %s: %w", s.Name, err)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return fmt.Errorf("resolving schema for %s: %w", s.Name, err)
	}
	s.rawSchema = raw
	s.schema = resolved
	return nil
}

// ValidateInput checks input against the tool's schema.
func (s *ToolSpec) ValidateInput(input json.RawMessage) error {
	var instance any
	if err := json.Unmarshal(input, &instance); err != nil {
		return fmt.Errorf("input is not valid JSON: %w", err)
	}
	if err := s.schema.Validate(instance); err != nil {
		return fmt.Errorf("input rejected by schema: %w", err)
	}
	return nil
}

// Def returns the tool definition sent to the model.
func (s *ToolSpec) Def() llm.ToolDef {
	return llm.ToolDef{
		Name:        s.Name,
		Description: s.Description,
		Schema:      s.rawSchema,
	}
}
