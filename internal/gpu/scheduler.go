// Package gpu arbitrates VRAM residency between the large models that share
// a single GPU slot. Only one model class (llm or vlm) is resident at a time;
// acquiring the slot for the other class triggers a bounded unload/load swap
// against the inference server. Embedding and reranker roles run on CPU and
// never pass through the scheduler.
package gpu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("yaroslav/gpu")

// Class identifies which model family a residency request needs.
type Class string

const (
	// ClassNone marks tools that call no model; they never acquire a slot.
	ClassNone Class = "none"
	// ClassLLM is the text model class.
	ClassLLM Class = "llm"
	// ClassVLM is the vision model class.
	ClassVLM Class = "vlm"
)

// DefaultSlot is the single GPU slot of the reference deployment.
const DefaultSlot = "gpu0"

var (
	// ErrSwapTimeout indicates a model swap exceeded its budget. The
	// acquisition fails; the slot itself stays healthy for later requests.
	ErrSwapTimeout = errors.New("model swap timed out")

	// ErrUnknownSlot indicates a request for a slot the scheduler does not manage.
	ErrUnknownSlot = errors.New("unknown gpu slot")

	// ErrUnknownClass indicates a residency request for a class with no
	// model assignment.
	ErrUnknownClass = errors.New("unknown model class")
)

// ModelSpec describes the model loaded for a class.
type ModelSpec struct {
	Name   string
	NumCtx int
}

// Residency is a held claim on a slot. It must be released exactly once;
// releasing keeps the model warm for the next same-class acquire.
type Residency struct {
	Slot  string
	Class Class
	Model string

	slot     *slot
	released sync.Once
}

// Release returns the slot to the scheduler. The resident model stays loaded;
// a following acquire of the same class is a no-op fast path.
func (r *Residency) Release() {
	if r == nil {
		return
	}
	r.released.Do(func() {
		r.slot.release()
	})
}

// slot serializes access to one physical GPU. Waiters are granted in FIFO
// order. resident tracks which class is warm even while the slot is idle.
type slot struct {
	mu       sync.Mutex
	held     bool
	resident Class
	waiters  []chan struct{}
}

// acquire blocks until the slot is free or ctx is done. FIFO among waiters.
func (s *slot) acquire(ctx context.Context) error {
	s.mu.Lock()
	if !s.held && len(s.waiters) == 0 {
		s.held = true
		s.mu.Unlock()
		return nil
	}

	ready := make(chan struct{})
	s.waiters = append(s.waiters, ready)
	s.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		for i, w := range s.waiters {
			if w == ready {
				s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
				s.mu.Unlock()
				return ctx.Err()
			}
		}
		s.mu.Unlock()
		// Grant raced with cancellation; pass the slot on.
		s.release()
		return ctx.Err()
	}
}

func (s *slot) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.waiters) > 0 {
		next := s.waiters[0]
		s.waiters = s.waiters[1:]
		close(next)
		return
	}
	s.held = false
}

// Scheduler owns the slot table and performs swaps through a Swapper.
type Scheduler struct {
	swapper    Swapper
	logger     *slog.Logger
	swapBudget time.Duration
	models     map[Class]ModelSpec
	slots      map[string]*slot
}

// NewScheduler builds a scheduler for a single default slot.
// models maps each schedulable class to its model assignment.
func NewScheduler(swapper Swapper, models map[Class]ModelSpec, swapBudget time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		swapper:    swapper,
		logger:     logger,
		swapBudget: swapBudget,
		models:     models,
		slots:      map[string]*slot{DefaultSlot: {}},
	}
}

// Acquire claims slotName for class, swapping models if a different class is
// resident. Blocks behind earlier claimants in FIFO order. On swap failure the
// acquisition fails and the slot is handed to the next waiter; the caller
// observes ErrSwapTimeout when the swap budget elapsed, or the swap error
// otherwise. Cancellation while waiting returns ctx.Err().
func (s *Scheduler) Acquire(ctx context.Context, slotName string, class Class) (*Residency, error) {
	if class == ClassNone {
		return nil, fmt.Errorf("%w: %q is not schedulable", ErrUnknownClass, class)
	}
	spec, ok := s.models[class]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownClass, class)
	}
	sl, ok := s.slots[slotName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSlot, slotName)
	}

	if err := sl.acquire(ctx); err != nil {
		return nil, err
	}

	sl.mu.Lock()
	resident := sl.resident
	sl.mu.Unlock()

	if resident != class {
		if err := s.swap(ctx, sl, resident, class, spec); err != nil {
			sl.release()
			return nil, err
		}
	}

	return &Residency{Slot: slotName, Class: class, Model: spec.Name, slot: sl}, nil
}

// Resident reports which class is currently warm on a slot, for health output.
func (s *Scheduler) Resident(slotName string) Class {
	sl, ok := s.slots[slotName]
	if !ok {
		return ClassNone
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.resident == "" {
		return ClassNone
	}
	return sl.resident
}

// swap evicts the resident model and loads the target within the swap budget.
// Unload errors are logged and ignored; the inference server evicts lazily and
// a failed unload does not prevent the subsequent load from succeeding.
func (s *Scheduler) swap(ctx context.Context, sl *slot, prev, class Class, spec ModelSpec) error {
	ctx, span := tracer.Start(ctx, "gpu.swap", trace.WithAttributes(
		attribute.String("gpu.class", string(class)),
		attribute.String("gpu.model", spec.Name)))
	defer span.End()

	swapCtx, cancel := context.WithTimeout(ctx, s.swapBudget)
	defer cancel()

	start := time.Now()
	if prev != "" && prev != class {
		if prevSpec, ok := s.models[prev]; ok {
			if err := s.swapper.Unload(swapCtx, prevSpec.Name); err != nil {
				s.logger.Warn("model unload failed, continuing",
					"model", prevSpec.Name, "error", err)
			}
		}
	}

	if err := s.swapper.Load(swapCtx, spec.Name, spec.NumCtx); err != nil {
		// Residency is now unknown; force a fresh load next time.
		sl.mu.Lock()
		sl.resident = ""
		sl.mu.Unlock()
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w: loading %s after %s", ErrSwapTimeout, spec.Name, time.Since(start).Round(time.Millisecond))
		}
		return fmt.Errorf("loading model %s: %w", spec.Name, err)
	}

	sl.mu.Lock()
	sl.resident = class
	sl.mu.Unlock()

	s.logger.Info("model swap complete",
		"model", spec.Name,
		"class", string(class),
		"duration", time.Since(start).Round(time.Millisecond))
	return nil
}
