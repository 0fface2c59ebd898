// Package agent drives one chat turn: a bounded model/tool loop followed by a
// streamed final answer. The loop owns message persistence and publishes the
// turn's event stream; the HTTP layer only moves frames to the client.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zavodtech/yaroslav/internal/gpu"
	"github.com/zavodtech/yaroslav/internal/llm"
	"github.com/zavodtech/yaroslav/internal/session"
	"github.com/zavodtech/yaroslav/internal/stream"
	"github.com/zavodtech/yaroslav/internal/tools"
)

var tracer = otel.Tracer("yaroslav/agent")

// State names the loop phases, for logs and spans.
type State string

const (
	StateAwaitingModel State = "awaiting_model"
	StateExecutingTool State = "executing_tool"
	StateFinalizing    State = "finalizing"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

// Loop executes turns. One Loop serves all sessions; per-turn state lives on
// the stack of Run.
type Loop struct {
	client     *llm.Client
	registry   *tools.Registry
	dispatcher *tools.Dispatcher
	sched      *gpu.Scheduler
	store      session.Store
	logger     *slog.Logger

	model         string
	maxIterations int
}

// New wires a loop. model is the llm-role model ID; maxIterations bounds the
// tool-calling rounds per turn.
func New(client *llm.Client, registry *tools.Registry, dispatcher *tools.Dispatcher,
	sched *gpu.Scheduler, store session.Store, model string, maxIterations int,
	logger *slog.Logger) *Loop {
	return &Loop{
		client:        client,
		registry:      registry,
		dispatcher:    dispatcher,
		sched:         sched,
		store:         store,
		logger:        logger,
		model:         model,
		maxIterations: maxIterations,
	}
}

// Run executes one turn and closes pub when done. Exactly one terminal event
// is published unless the client is already gone. The user message is
// persisted at turn start, tool and assistant messages at the moments they
// are produced.
func (l *Loop) Run(ctx context.Context, sessionID, userContent string, pub *stream.Publisher) {
	defer pub.Close()

	ctx, span := tracer.Start(ctx, "agent.turn",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	userMsg := &session.Message{SessionID: sessionID, Role: session.RoleUser, Content: userContent}
	if err := l.store.AppendMessage(ctx, userMsg); err != nil {
		l.fail(ctx, pub, span, "failed to persist the message", err)
		return
	}

	msgs, err := l.buildConversation(ctx, sessionID)
	if err != nil {
		l.fail(ctx, pub, span, "failed to load session history", err)
		return
	}

	defs := l.registry.Defs()
	iterations := 0

	for {
		l.setState(span, StateAwaitingModel)
		_ = pub.Publish(ctx, stream.Status{Text: "thinking"})

		decision, err := l.decide(ctx, msgs, defs)
		if err != nil {
			l.failModel(ctx, pub, span, err)
			return
		}

		if len(decision.ToolCalls) == 0 {
			break
		}

		if iterations >= l.maxIterations {
			// Over bound: refuse the dispatch and force the wrap-up.
			l.logger.Warn("tool iteration bound reached, forcing final answer",
				"session_id", sessionID, "iterations", iterations)
			msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: truncationNote})
			break
		}
		iterations++

		l.setState(span, StateExecutingTool)
		msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, ToolCalls: decision.ToolCalls})

		for _, tc := range decision.ToolCalls {
			_ = pub.Publish(ctx, stream.ToolStart{Tool: tc.Name, Input: tc.Arguments})
			inv := l.dispatch(ctx, tc)
			_ = pub.Publish(ctx, stream.ToolDone{Tool: tc.Name, Summary: inv.Summary})

			// The tool message precedes the model call that consumes it,
			// both in the conversation and in the store.
			msgs = append(msgs, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: tc.ID,
				Name:       tc.Name,
				Content:    inv.ModelContent(),
			})
			l.persistToolMessage(ctx, sessionID, tc, inv)
		}
	}

	l.setState(span, StateFinalizing)
	_ = pub.Publish(ctx, stream.Status{Text: "writing the answer"})

	final, err := l.streamFinal(ctx, msgs, pub)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Client gone; nothing left to tell it.
			l.setState(span, StateFailed)
			return
		}
		l.failModel(ctx, pub, span, err)
		return
	}

	assistantMsg := &session.Message{SessionID: sessionID, Role: session.RoleAssistant, Content: final}
	if err := l.store.AppendMessage(ctx, assistantMsg); err != nil {
		l.fail(ctx, pub, span, "failed to persist the answer", err)
		return
	}
	if err := l.store.Touch(ctx, sessionID); err != nil {
		l.logger.Warn("touching session failed", "session_id", sessionID, "error", err)
	}

	l.setState(span, StateDone)
	_ = pub.Publish(ctx, stream.Done{MessageID: assistantMsg.ID})
}

// buildConversation assembles system prompt plus replayed history. Tool
// messages stay in the store for audit but are not replayed; their substance
// is reflected in the assistant answers that followed them.
func (l *Loop) buildConversation(ctx context.Context, sessionID string) ([]llm.Message, error) {
	history, err := l.store.Messages(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	msgs := make([]llm.Message, 0, len(history)+1)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	for _, m := range history {
		switch m.Role {
		case session.RoleUser:
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: m.Content})
		case session.RoleAssistant:
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: m.Content})
		}
	}
	return msgs, nil
}

// decide runs one decision call with llm residency held.
func (l *Loop) decide(ctx context.Context, msgs []llm.Message, defs []llm.ToolDef) (*llm.Decision, error) {
	ctx, span := tracer.Start(ctx, "agent.decide")
	defer span.End()

	res, err := l.sched.Acquire(ctx, gpu.DefaultSlot, gpu.ClassLLM)
	if err != nil {
		return nil, err
	}
	defer res.Release()

	return l.client.Decide(ctx, l.model, msgs, defs)
}

// streamFinal runs the streaming answer call with llm residency held,
// publishing every token.
func (l *Loop) streamFinal(ctx context.Context, msgs []llm.Message, pub *stream.Publisher) (string, error) {
	ctx, span := tracer.Start(ctx, "agent.finalize")
	defer span.End()

	res, err := l.sched.Acquire(ctx, gpu.DefaultSlot, gpu.ClassLLM)
	if err != nil {
		return "", err
	}
	defer res.Release()

	return l.client.StreamFinal(ctx, l.model, msgs, func(tok string) error {
		return pub.Publish(ctx, stream.Token{Content: tok})
	})
}

// dispatch executes one tool call. An unknown tool name becomes a rejected
// invocation so the model learns about its mistake instead of killing the turn.
func (l *Loop) dispatch(ctx context.Context, tc llm.ToolCall) tools.Invocation {
	spec, err := l.registry.Lookup(tc.Name)
	if err != nil {
		l.logger.Warn("model called an unknown tool", "tool", tc.Name)
		return tools.Invocation{
			Tool:    tc.Name,
			Outcome: tools.OutcomeRejected,
			Summary: tc.Name + " rejected",
			Detail:  "unknown tool: " + tc.Name,
		}
	}
	return l.dispatcher.Invoke(ctx, spec, tc.Arguments)
}

// persistToolMessage records a dispatch in the session history. Persistence
// failures degrade the audit trail but not the turn.
func (l *Loop) persistToolMessage(ctx context.Context, sessionID string, tc llm.ToolCall, inv tools.Invocation) {
	record, err := json.Marshal(struct {
		Outcome    string `json:"outcome"`
		Summary    string `json:"summary"`
		DurationMS int64  `json:"duration_ms"`
	}{string(inv.Outcome), inv.Summary, inv.Duration.Milliseconds()})
	if err != nil {
		record = []byte(`{}`)
	}

	msg := &session.Message{
		SessionID:  sessionID,
		Role:       session.RoleTool,
		Content:    inv.ModelContent(),
		ToolName:   tc.Name,
		ToolInput:  tc.Arguments,
		ToolResult: record,
	}
	if err := l.store.AppendMessage(ctx, msg); err != nil {
		l.logger.Warn("persisting tool message failed",
			"session_id", sessionID, "tool", tc.Name, "error", err)
	}
}

// failModel maps model-call failures to the terminal error event. Client
// cancellation produces no event; the pipe is gone.
func (l *Loop) failModel(ctx context.Context, pub *stream.Publisher, span trace.Span, err error) {
	if errors.Is(err, context.Canceled) {
		l.setState(span, StateFailed)
		return
	}
	detail := "model call failed"
	if errors.Is(err, llm.ErrModelUnavailable) {
		detail = "model endpoint unreachable"
	}
	l.fail(ctx, pub, span, detail, err)
}

func (l *Loop) fail(ctx context.Context, pub *stream.Publisher, span trace.Span, detail string, err error) {
	l.setState(span, StateFailed)
	l.logger.Error("turn failed", "detail", detail, "error", err)
	// Publish with a fresh context so a failing turn can still deliver its
	// terminal event on a live connection.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	_ = pub.Publish(pubCtx, stream.Error{Detail: detail})
}

func (l *Loop) setState(span trace.Span, s State) {
	span.SetAttributes(attribute.String("agent.state", string(s)))
}
