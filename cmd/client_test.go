package cmd

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func fakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":"s-1","title":"Terminal chat","message_count":0}`)
	})
	mux.HandleFunc("GET /api/v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"sessions":[{"id":"s-1","title":"pumps","message_count":4}]}`)
	})
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "s-1" {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":"session not found"}`)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /api/v1/sessions/{id}/message", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		frames := []string{
			`{"type":"status","text":"thinking"}`,
			`{"type":"tool_start","tool":"web_search","input":{"question":"ISO 10816"}}`,
			`{"type":"tool_done","tool":"web_search","summary":"Found 3 web results"}`,
			`{"type":"token","content":"ISO 10816 covers "}`,
			`{"type":"token","content":"vibration severity."}`,
			`{"type":"done","message_id":"m-9"}`,
		}
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientSessionLifecycle(t *testing.T) {
	srv := fakeServer(t)
	client := newAPIClient(srv.URL)
	ctx := context.Background()

	sess, err := client.createSession(ctx, "Terminal chat")
	if err != nil {
		t.Fatalf("createSession() failed: %v", err)
	}
	if sess.ID != "s-1" {
		t.Errorf("session ID = %q", sess.ID)
	}

	sessions, err := client.listSessions(ctx)
	if err != nil {
		t.Fatalf("listSessions() failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0].MessageCount != 4 {
		t.Errorf("sessions = %+v", sessions)
	}

	if err := client.deleteSession(ctx, "s-1"); err != nil {
		t.Errorf("deleteSession() failed: %v", err)
	}
	err = client.deleteSession(ctx, "missing")
	if err == nil || !strings.Contains(err.Error(), "session not found") {
		t.Errorf("delete missing: err = %v", err)
	}
}

func TestClientStream(t *testing.T) {
	srv := fakeServer(t)
	client := newAPIClient(srv.URL)

	var events []turnEvent
	err := client.stream(context.Background(), "s-1", "what does ISO 10816 cover?", func(ev turnEvent) {
		events = append(events, ev)
	})
	if err != nil {
		t.Fatalf("stream() failed: %v", err)
	}

	var types []string
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	want := "status,tool_start,tool_done,token,token,done"
	if got := strings.Join(types, ","); got != want {
		t.Fatalf("event types = %s, want %s", got, want)
	}
	if events[len(events)-1].MessageID != "m-9" {
		t.Errorf("message_id = %q", events[len(events)-1].MessageID)
	}
}

func TestTurnPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := &turnPrinter{w: &buf, st: styles{}}

	for _, ev := range []turnEvent{
		{Type: "status", Text: "thinking"},
		{Type: "token", Content: "P-101 is "},
		{Type: "token", Content: "a feed pump."},
		{Type: "done", MessageID: "m-1"},
	} {
		p.handle(ev)
	}

	out := buf.String()
	if !strings.Contains(out, "thinking") {
		t.Errorf("output missing status: %q", out)
	}
	if !strings.Contains(out, "P-101 is a feed pump.") {
		t.Errorf("tokens not joined inline: %q", out)
	}
	if !strings.HasSuffix(out, "\n") {
		t.Errorf("answer not terminated with newline: %q", out)
	}
}
