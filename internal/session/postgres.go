package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists sessions in PostgreSQL through a pgx pool. The
// schema is owned externally (migrations ship with the deployment); the store
// only reads and writes the sessions and messages tables.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// Connect opens a pool against dsn and verifies connectivity.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) CreateSession(ctx context.Context, title string) (*Session, error) {
	const q = `
		INSERT INTO sessions (id, title, created_at, updated_at)
		VALUES (gen_random_uuid(), $1, now(), now())
		RETURNING id, title, created_at, updated_at`

	var sess Session
	err := s.pool.QueryRow(ctx, q, title).Scan(&sess.ID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return &sess, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*Session, error) {
	const q = `
		SELECT s.id, s.title, s.created_at, s.updated_at,
		       (SELECT count(*) FROM messages m WHERE m.session_id = s.id)
		FROM sessions s
		WHERE s.id = $1`

	var sess Session
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&sess.ID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt, &sess.MessageCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting session %s: %w", id, err)
	}
	return &sess, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context) ([]*Session, error) {
	const q = `
		SELECT s.id, s.title, s.created_at, s.updated_at,
		       (SELECT count(*) FROM messages m WHERE m.session_id = s.id)
		FROM sessions s
		ORDER BY s.updated_at DESC`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt, &sess.MessageCount); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		out = append(out, &sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) RenameSession(ctx context.Context, id, title string) error {
	const q = `UPDATE sessions SET title = $2, updated_at = now() WHERE id = $1`

	tag, err := s.pool.Exec(ctx, q, id, title)
	if err != nil {
		return fmt.Errorf("renaming session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *PostgresStore) DeleteSession(ctx context.Context, id string) error {
	// messages has ON DELETE CASCADE on session_id.
	const q = `DELETE FROM sessions WHERE id = $1`

	tag, err := s.pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *PostgresStore) Messages(ctx context.Context, sessionID string) ([]*Message, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	const q = `
		SELECT id, session_id, role, content, tool_name, tool_input, tool_result, created_at
		FROM messages
		WHERE session_id = $1
		ORDER BY seq`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing messages for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var msg Message
		var toolName *string
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content,
			&toolName, &msg.ToolInput, &msg.ToolResult, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		if toolName != nil {
			msg.ToolName = *toolName
		}
		out = append(out, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, msg *Message) error {
	if msg.SessionID == "" || msg.Role == "" {
		return fmt.Errorf("%w: session_id and role are required", ErrInvalidMessage)
	}
	if msg.Role == RoleTool && msg.ToolName == "" {
		return fmt.Errorf("%w: tool messages require tool_name", ErrInvalidMessage)
	}

	const q = `
		INSERT INTO messages (id, session_id, role, content, tool_name, tool_input, tool_result, created_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, now())
		RETURNING id, created_at`

	var toolName *string
	if msg.ToolName != "" {
		toolName = &msg.ToolName
	}

	err := s.pool.QueryRow(ctx, q,
		msg.SessionID, msg.Role, msg.Content, toolName, msg.ToolInput, msg.ToolResult,
	).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("appending %s message to %s: %w", msg.Role, msg.SessionID, err)
	}
	return nil
}

func (s *PostgresStore) Touch(ctx context.Context, sessionID string) error {
	const q = `UPDATE sessions SET updated_at = now() WHERE id = $1`

	tag, err := s.pool.Exec(ctx, q, sessionID)
	if err != nil {
		return fmt.Errorf("touching session %s: %w", sessionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return nil
}
