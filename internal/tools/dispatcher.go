package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zavodtech/yaroslav/internal/gpu"
)

var tracer = otel.Tracer("yaroslav/tools")

// Outcome classifies one tool dispatch.
type Outcome string

const (
	// OutcomeSuccess means the endpoint answered with a usable result.
	OutcomeSuccess Outcome = "success"
	// OutcomeRejected means the dispatch never reached the endpoint:
	// schema violation or failed residency acquisition.
	OutcomeRejected Outcome = "rejected"
	// OutcomeTimeout means the budget elapsed or the turn was cancelled.
	OutcomeTimeout Outcome = "timeout"
	// OutcomeTransportError means connection, status or decode failure.
	OutcomeTransportError Outcome = "transport_error"
)

// Invocation is the complete record of one dispatch. Failures carry a Detail
// line the model can read; the raw result exists only on success.
type Invocation struct {
	Tool     string
	Outcome  Outcome
	Result   json.RawMessage
	Summary  string
	Detail   string
	Duration time.Duration
}

// ModelContent renders the tool message content. Success hands the raw result
// to the model; failures hand a structured explanation so the model can tell
// the user what is missing.
func (inv Invocation) ModelContent() string {
	if inv.Outcome == OutcomeSuccess {
		return string(inv.Result)
	}
	content, err := json.Marshal(map[string]string{
		"outcome": string(inv.Outcome),
		"error":   inv.Detail,
	})
	if err != nil {
		return fmt.Sprintf(`{"outcome":%q}`, inv.Outcome)
	}
	return string(content)
}

// Dispatcher executes tool calls: schema validation, GPU residency, one HTTP
// POST inside the remaining budget. No retries; the model decides whether to
// re-invoke after reading a failure.
type Dispatcher struct {
	sched  *gpu.Scheduler
	client *http.Client
	logger *slog.Logger
}

// NewDispatcher builds a dispatcher over the residency scheduler.
// Per-request deadlines come from the tool budget, not the HTTP client.
func NewDispatcher(sched *gpu.Scheduler, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		sched:  sched,
		client: &http.Client{Timeout: 0},
		logger: logger,
	}
}

// Invoke runs one dispatch to completion. Residency is released on every
// path. Never returns an error: every failure mode is an Invocation outcome.
func (d *Dispatcher) Invoke(ctx context.Context, spec *ToolSpec, input json.RawMessage) Invocation {
	ctx, span := tracer.Start(ctx, "tools.invoke",
		trace.WithAttributes(
			attribute.String("tool.name", spec.Name),
			attribute.String("tool.class", string(spec.Class)),
		))
	defer span.End()

	start := time.Now()
	inv := d.invoke(ctx, spec, input)
	inv.Duration = time.Since(start)

	span.SetAttributes(attribute.String("tool.outcome", string(inv.Outcome)))
	d.logger.Info("tool dispatch finished",
		"tool", spec.Name,
		"outcome", string(inv.Outcome),
		"duration", inv.Duration.Round(time.Millisecond))
	return inv
}

func (d *Dispatcher) invoke(ctx context.Context, spec *ToolSpec, input json.RawMessage) Invocation {
	if err := spec.ValidateInput(input); err != nil {
		return Invocation{
			Tool:    spec.Name,
			Outcome: OutcomeRejected,
			Summary: spec.Name + " rejected invalid input",
			Detail:  err.Error(),
		}
	}

	// The tool budget covers residency acquisition and the HTTP call.
	ctx, cancel := context.WithTimeout(ctx, spec.Timeout)
	defer cancel()

	if spec.Class != gpu.ClassNone {
		res, err := d.sched.Acquire(ctx, gpu.DefaultSlot, spec.Class)
		if err != nil {
			if isCancellation(err) {
				return Invocation{
					Tool:    spec.Name,
					Outcome: OutcomeTimeout,
					Summary: spec.Name + " timed out",
					Detail:  "cancelled while waiting for the " + string(spec.Class) + " model: " + err.Error(),
				}
			}
			return Invocation{
				Tool:    spec.Name,
				Outcome: OutcomeRejected,
				Summary: spec.Name + " rejected",
				Detail:  "could not make the " + string(spec.Class) + " model resident: " + err.Error(),
			}
		}
		defer res.Release()
	}

	return d.post(ctx, spec, input)
}

func (d *Dispatcher) post(ctx context.Context, spec *ToolSpec, input json.RawMessage) Invocation {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, spec.Endpoint, bytes.NewReader(input))
	if err != nil {
		return Invocation{
			Tool:    spec.Name,
			Outcome: OutcomeTransportError,
			Summary: spec.Name + " failed",
			Detail:  "building request: " + err.Error(),
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		if isCancellation(err) || isCancellation(ctx.Err()) {
			return Invocation{
				Tool:    spec.Name,
				Outcome: OutcomeTimeout,
				Summary: spec.Name + " timed out",
				Detail:  fmt.Sprintf("no answer within %s", spec.Timeout),
			}
		}
		return Invocation{
			Tool:    spec.Name,
			Outcome: OutcomeTransportError,
			Summary: spec.Name + " failed",
			Detail:  "calling endpoint: " + err.Error(),
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		if isCancellation(ctx.Err()) {
			return Invocation{
				Tool:    spec.Name,
				Outcome: OutcomeTimeout,
				Summary: spec.Name + " timed out",
				Detail:  fmt.Sprintf("no answer within %s", spec.Timeout),
			}
		}
		return Invocation{
			Tool:    spec.Name,
			Outcome: OutcomeTransportError,
			Summary: spec.Name + " failed",
			Detail:  "reading response: " + err.Error(),
		}
	}

	if resp.StatusCode != http.StatusOK {
		return Invocation{
			Tool:    spec.Name,
			Outcome: OutcomeTransportError,
			Summary: spec.Name + " failed",
			Detail:  fmt.Sprintf("endpoint returned %d", resp.StatusCode),
		}
	}

	if !json.Valid(body) {
		return Invocation{
			Tool:    spec.Name,
			Outcome: OutcomeTransportError,
			Summary: spec.Name + " failed",
			Detail:  "endpoint returned a non-JSON body",
		}
	}

	return Invocation{
		Tool:    spec.Name,
		Outcome: OutcomeSuccess,
		Result:  json.RawMessage(body),
		Summary: spec.Summarize(json.RawMessage(body)),
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
