package stream

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

// TestEventWireFormat tests the exact wire JSON of each event kind.
func TestEventWireFormat(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  string
	}{
		{
			name:  "status",
			event: Status{Text: "searching the enterprise graph"},
			want:  `{"type":"status","text":"searching the enterprise graph"}`,
		},
		{
			name:  "tool_start",
			event: ToolStart{Tool: "enterprise_graph_search", Input: json.RawMessage(`{"question":"pump P-101 lineage"}`)},
			want:  `{"type":"tool_start","tool":"enterprise_graph_search","input":{"question":"pump P-101 lineage"}}`,
		},
		{
			name:  "tool_start empty input",
			event: ToolStart{Tool: "norm_control"},
			want:  `{"type":"tool_start","tool":"norm_control","input":{}}`,
		},
		{
			name:  "tool_done",
			event: ToolDone{Tool: "inventory_sql_search", Summary: "Found 12 rows in the inventory warehouse"},
			want:  `{"type":"tool_done","tool":"inventory_sql_search","summary":"Found 12 rows in the inventory warehouse"}`,
		},
		{
			name:  "token",
			event: Token{Content: "The pump"},
			want:  `{"type":"token","content":"The pump"}`,
		},
		{
			name:  "token empty content kept",
			event: Token{},
			want:  `{"type":"token","content":""}`,
		},
		{
			name:  "done",
			event: Done{MessageID: "9f1c2d3e"},
			want:  `{"type":"done","message_id":"9f1c2d3e"}`,
		},
		{
			name:  "error",
			event: Error{Detail: "model endpoint unreachable"},
			want:  `{"type":"error","detail":"model endpoint unreachable"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.event)
			if err != nil {
				t.Fatalf("marshal failed: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("wire format mismatch\n got: %s\nwant: %s", data, tt.want)
			}
		})
	}
}

// TestEventTerminal tests terminal classification.
func TestEventTerminal(t *testing.T) {
	nonTerminal := []Event{Status{}, ToolStart{}, ToolDone{}, Token{}}
	for _, e := range nonTerminal {
		if e.Terminal() {
			t.Errorf("%T should not be terminal", e)
		}
	}
	terminal := []Event{Done{}, Error{}}
	for _, e := range terminal {
		if !e.Terminal() {
			t.Errorf("%T should be terminal", e)
		}
	}
}

// TestPublisherOrdering tests that events arrive in publish order.
func TestPublisherOrdering(t *testing.T) {
	p := NewPublisher(4)
	ctx := context.Background()

	go func() {
		_ = p.Publish(ctx, Status{Text: "a"})
		_ = p.Publish(ctx, Token{Content: "b"})
		_ = p.Publish(ctx, Token{Content: "c"})
		_ = p.Publish(ctx, Done{MessageID: "d"})
		p.Close()
	}()

	var got []Event
	for e := range p.Events() {
		got = append(got, e)
	}

	if len(got) != 4 {
		t.Fatalf("expected 4 events, got %d", len(got))
	}
	if got[0].(Status).Text != "a" || got[1].(Token).Content != "b" ||
		got[2].(Token).Content != "c" || got[3].(Done).MessageID != "d" {
		t.Errorf("events out of order: %v", got)
	}
}

// TestPublisherSingleTerminal tests that nothing follows the terminal event
// even when the producer keeps publishing.
func TestPublisherSingleTerminal(t *testing.T) {
	p := NewPublisher(8)
	ctx := context.Background()

	_ = p.Publish(ctx, Token{Content: "answer"})
	_ = p.Publish(ctx, Done{MessageID: "m1"})
	_ = p.Publish(ctx, Token{Content: "straggler"})
	_ = p.Publish(ctx, Error{Detail: "late error"})
	_ = p.Publish(ctx, Done{MessageID: "m2"})
	p.Close()

	var got []Event
	for e := range p.Events() {
		got = append(got, e)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 events (token + done), got %d: %v", len(got), got)
	}
	done, ok := got[1].(Done)
	if !ok || done.MessageID != "m1" {
		t.Errorf("expected terminal Done{m1}, got %v", got[1])
	}

	terminals := 0
	for _, e := range got {
		if e.Terminal() {
			terminals++
		}
	}
	if terminals != 1 {
		t.Errorf("expected exactly 1 terminal event, got %d", terminals)
	}
}

// TestPublisherBackpressure tests that a full buffer blocks instead of dropping.
func TestPublisherBackpressure(t *testing.T) {
	p := NewPublisher(1)
	ctx := context.Background()

	if err := p.Publish(ctx, Token{Content: "1"}); err != nil {
		t.Fatalf("first publish failed: %v", err)
	}

	published := make(chan struct{})
	go func() {
		_ = p.Publish(ctx, Token{Content: "2"})
		close(published)
	}()

	select {
	case <-published:
		t.Fatal("publish should block on a full buffer")
	case <-time.After(30 * time.Millisecond):
	}

	// Draining one event unblocks the producer; nothing was dropped.
	first := <-p.Events()
	if first.(Token).Content != "1" {
		t.Errorf("expected token 1 first, got %v", first)
	}

	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("publish did not complete after drain")
	}

	second := <-p.Events()
	if second.(Token).Content != "2" {
		t.Errorf("expected token 2 second, got %v", second)
	}
}

// TestPublisherPublishCancellation tests ctx escape from a blocked publish.
func TestPublisherPublishCancellation(t *testing.T) {
	p := NewPublisher(1)
	ctx, cancel := context.WithCancel(context.Background())

	_ = p.Publish(ctx, Token{Content: "fill"})

	errCh := make(chan error, 1)
	go func() {
		errCh <- p.Publish(ctx, Token{Content: "blocked"})
	}()

	cancel()
	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Errorf("blocked publish error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked publish did not return on cancellation")
	}
	p.Close()
}

// TestPublisherCloseIdempotent tests double close safety.
func TestPublisherCloseIdempotent(t *testing.T) {
	p := NewPublisher(1)
	p.Close()
	p.Close()

	if _, open := <-p.Events(); open {
		t.Error("channel should be closed")
	}
}
