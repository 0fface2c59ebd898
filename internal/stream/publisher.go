package stream

import (
	"context"
	"sync"
)

// DefaultBuffer is the publisher channel depth. Small on purpose: a slow
// client applies backpressure to the loop instead of dropping frames.
const DefaultBuffer = 16

// Publisher is the single-producer event channel for one turn. The agent loop
// publishes; the transport consumes. Publishing blocks when the buffer is
// full. After a terminal event every later publish is ignored, so the
// consumer observes exactly one terminal frame and nothing after it.
type Publisher struct {
	ch chan Event

	mu       sync.Mutex
	terminal bool
	closed   bool
}

// NewPublisher returns a publisher with the given buffer depth.
// A depth below 1 is raised to DefaultBuffer.
func NewPublisher(buffer int) *Publisher {
	if buffer < 1 {
		buffer = DefaultBuffer
	}
	return &Publisher{ch: make(chan Event, buffer)}
}

// Publish enqueues e, blocking while the buffer is full. Returns ctx.Err()
// when the context ends before the event is accepted. Publishes after a
// terminal event (or Close) are silently dropped.
func (p *Publisher) Publish(ctx context.Context, e Event) error {
	p.mu.Lock()
	if p.terminal || p.closed {
		p.mu.Unlock()
		return nil
	}
	if e.Terminal() {
		p.terminal = true
	}
	p.mu.Unlock()

	select {
	case p.ch <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events is the consumer side. The channel closes after Close.
func (p *Publisher) Events() <-chan Event {
	return p.ch
}

// Close ends the stream. Safe to call once, after the terminal publish.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.ch)
}
