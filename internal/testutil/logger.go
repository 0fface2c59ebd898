package testutil

import (
	"bytes"
	"log/slog"
	"sync"
)

// Logger returns a logger that drops everything. For tests that only need a
// non-nil *slog.Logger.
func Logger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// BufferLogger returns a logger writing to a thread-safe buffer, for tests
// that assert on log output.
func BufferLogger() (*slog.Logger, *LockedBuffer) {
	buf := &LockedBuffer{}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

// LockedBuffer is a bytes.Buffer safe for concurrent writers.
type LockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *LockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *LockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
