package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/zavodtech/yaroslav/internal/agent"
	"github.com/zavodtech/yaroslav/internal/session"
	"github.com/zavodtech/yaroslav/internal/stream"
)

// turnLatch admits at most one running turn per session.
type turnLatch struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func newTurnLatch() *turnLatch {
	return &turnLatch{active: make(map[string]struct{})}
}

// begin reports whether the session was free and marks it busy.
func (tl *turnLatch) begin(sessionID string) bool {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if _, busy := tl.active[sessionID]; busy {
		return false
	}
	tl.active[sessionID] = struct{}{}
	return true
}

func (tl *turnLatch) end(sessionID string) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	delete(tl.active, sessionID)
}

// chatHandler serves the SSE message endpoint. It validates the request,
// starts the agent turn and moves events to the wire; all turn logic lives in
// the agent package.
type chatHandler struct {
	logger *slog.Logger
	loop   *agent.Loop
	store  session.Store
	latch  *turnLatch
}

type messageRequest struct {
	Content string `json:"content"`
}

func (h *chatHandler) message(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if _, err := h.store.GetSession(r.Context(), id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		h.logger.Error("loading session failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		writeError(w, http.StatusBadRequest, "content must not be empty")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	if !h.latch.begin(id) {
		writeError(w, http.StatusConflict, "turn already in flight")
		return
	}
	defer h.latch.end(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	pub := stream.NewPublisher(stream.DefaultBuffer)
	go h.loop.Run(r.Context(), id, content, pub)

	// After a write error the client is gone; keep draining so the turn can
	// finish persisting its messages.
	writable := true
	for ev := range pub.Events() {
		if !writable {
			continue
		}
		data, err := json.Marshal(ev)
		if err != nil {
			h.logger.Error("marshalling event failed", "error", err)
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			h.logger.Debug("client disconnected mid-stream", "session_id", id)
			writable = false
			continue
		}
		flusher.Flush()
	}
}
