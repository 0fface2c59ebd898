package tools

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/zavodtech/yaroslav/internal/config"
	"github.com/zavodtech/yaroslav/internal/gpu"
)

// questionSchema is the input shape of the retrieval tools.
func questionSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"question": {Type: "string", Description: "Natural-language question for the backend."},
		},
		Required: []string{"question"},
	}
}

// imageQuestionSchema is the input shape of the vision tools.
func imageQuestionSchema(questionRequired bool) *jsonschema.Schema {
	s := &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"image_path": {Type: "string", Description: "Server-side path of the uploaded blueprint image."},
			"question":   {Type: "string", Description: "What to look for on the blueprint."},
		},
		Required: []string{"image_path"},
	}
	if questionRequired {
		s.Required = append(s.Required, "question")
	}
	return s
}

// countSummary reads the integer count under key and renders "Found N <noun>".
// The skills service reports result sizes as scalar counts, not arrays.
func countSummary(key, noun, fallback string) Summarizer {
	return func(result json.RawMessage) string {
		var payload map[string]json.RawMessage
		if err := json.Unmarshal(result, &payload); err != nil {
			return fallback
		}
		var n int
		if err := json.Unmarshal(payload[key], &n); err != nil {
			return fallback
		}
		return fmt.Sprintf("Found %d %s", n, noun)
	}
}

// docsSummary prefers chunks_found; older skill versions only ship sources.
func docsSummary(result json.RawMessage) string {
	var payload struct {
		ChunksFound *int              `json:"chunks_found"`
		Sources     []json.RawMessage `json:"sources"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return "document index searched"
	}
	if payload.ChunksFound != nil {
		return fmt.Sprintf("Found %d passages in the document index", *payload.ChunksFound)
	}
	if payload.Sources != nil {
		return fmt.Sprintf("Found %d passages in the document index", len(payload.Sources))
	}
	return "document index searched"
}

// inventorySummary carries the skill's answer so a terse stock line like
// "250 kg PA6 in stock" surfaces on the stream without replaying the payload.
func inventorySummary(result json.RawMessage) string {
	var payload struct {
		Answer    string `json:"answer"`
		RowsCount *int   `json:"rows_count"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return "inventory warehouse queried"
	}
	answer := strings.TrimSpace(payload.Answer)
	switch {
	case answer != "" && payload.RowsCount != nil:
		noun := "rows"
		if *payload.RowsCount == 1 {
			noun = "row"
		}
		return fmt.Sprintf("%s (%d %s)", answer, *payload.RowsCount, noun)
	case answer != "":
		return answer
	case payload.RowsCount != nil:
		return fmt.Sprintf("Found %d rows in the inventory warehouse", *payload.RowsCount)
	}
	return "inventory warehouse queried"
}

// webSummary counts the snippet array the web skill returns.
func webSummary(result json.RawMessage) string {
	var payload struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(result, &payload); err != nil || payload.Results == nil {
		return "web searched"
	}
	return fmt.Sprintf("Found %d web results", len(payload.Results))
}

func normControlSummary(result json.RawMessage) string {
	var payload struct {
		Passed *bool             `json:"passed"`
		Checks []json.RawMessage `json:"checks"`
	}
	if err := json.Unmarshal(result, &payload); err != nil || payload.Passed == nil {
		return "norm control completed"
	}
	if *payload.Passed {
		return "norm control passed"
	}
	if n := len(payload.Checks); n > 0 {
		return fmt.Sprintf("norm control failed: %d checks flagged", n)
	}
	return "norm control failed"
}

// Builtin builds the production tool table from configuration. Endpoints are
// resolved against skills_base_url; per-tool timeout overrides apply on top
// of the global tool budget.
func Builtin(cfg *config.Config) (*Registry, error) {
	base := strings.TrimSuffix(cfg.SkillsBaseURL, "/")
	timeoutFor := func(name string) time.Duration {
		if secs, ok := cfg.ToolTimeoutOverrides[name]; ok {
			return time.Duration(secs) * time.Second
		}
		return time.Duration(cfg.ToolTimeoutSeconds) * time.Second
	}

	type builtin struct {
		spec   *ToolSpec
		schema *jsonschema.Schema
	}

	builtins := []builtin{
		{
			spec: &ToolSpec{
				Name:        "enterprise_graph_search",
				Description: "Search the plant property graph for equipment, lineage and connections.",
				Endpoint:    base + "/skills/graph-search",
				Class:       gpu.ClassNone,
				Summarize:   countSummary("records_count", "records in the enterprise graph", "enterprise graph searched"),
			},
			schema: questionSchema(),
		},
		{
			spec: &ToolSpec{
				Name:        "enterprise_docs_search",
				Description: "Search the internal document index for manuals, procedures and reports.",
				Endpoint:    base + "/skills/docs-search",
				Class:       gpu.ClassNone,
				Summarize:   docsSummary,
			},
			schema: questionSchema(),
		},
		{
			spec: &ToolSpec{
				Name:        "inventory_sql_search",
				Description: "Query the inventory warehouse for stock, parts and movement history.",
				Endpoint:    base + "/skills/inventory-sql",
				Class:       gpu.ClassNone,
				Summarize:   inventorySummary,
			},
			schema: questionSchema(),
		},
		{
			spec: &ToolSpec{
				Name:        "blueprint_vision",
				Description: "Answer a question about an uploaded blueprint image.",
				Endpoint:    base + "/skills/blueprint-vision",
				Class:       gpu.ClassVLM,
				Summarize:   func(json.RawMessage) string { return "blueprint analyzed" },
			},
			schema: imageQuestionSchema(true),
		},
		{
			spec: &ToolSpec{
				Name:        "norm_control",
				Description: "Check a blueprint image against drafting standards.",
				Endpoint:    base + "/skills/norm-control",
				Class:       gpu.ClassVLM,
				Summarize:   normControlSummary,
			},
			schema: imageQuestionSchema(false),
		},
		{
			spec: &ToolSpec{
				Name:        "web_search",
				Description: "Search the public web for vendor documentation and standards.",
				Endpoint:    base + "/skills/web-search",
				Class:       gpu.ClassNone,
				Summarize:   webSummary,
			},
			schema: questionSchema(),
		},
	}

	reg := NewRegistry()
	for _, b := range builtins {
		b.spec.Timeout = timeoutFor(b.spec.Name)
		if err := b.spec.compileSchema(b.schema); err != nil {
			return nil, err
		}
		if err := reg.Register(b.spec); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
