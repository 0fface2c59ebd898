package session

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates the session does not exist.
	ErrNotFound = errors.New("session not found")

	// ErrInvalidMessage indicates a message that violates the store contract.
	ErrInvalidMessage = errors.New("invalid message")
)

// Store is the persistence contract. Implementations: MemoryStore for tests
// and development, PostgresStore for deployments.
type Store interface {
	// CreateSession starts a new session with the given title.
	CreateSession(ctx context.Context, title string) (*Session, error)
	// GetSession returns one session with its message count.
	GetSession(ctx context.Context, id string) (*Session, error)
	// ListSessions returns all sessions, most recently updated first.
	ListSessions(ctx context.Context) ([]*Session, error)
	// RenameSession updates the title.
	RenameSession(ctx context.Context, id, title string) error
	// DeleteSession removes the session and its messages.
	DeleteSession(ctx context.Context, id string) error

	// Messages returns the session history in creation order.
	Messages(ctx context.Context, sessionID string) ([]*Message, error)
	// AppendMessage persists msg, assigning ID and CreatedAt.
	AppendMessage(ctx context.Context, msg *Message) error
	// Touch bumps the session's updated_at.
	Touch(ctx context.Context, sessionID string) error
}
