package session

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

// testSchema mirrors the externally owned migration set.
const testSchema = `
CREATE TABLE sessions (
	id         uuid PRIMARY KEY,
	title      text NOT NULL,
	created_at timestamptz NOT NULL,
	updated_at timestamptz NOT NULL
);
CREATE TABLE messages (
	id          uuid PRIMARY KEY,
	seq         bigint GENERATED ALWAYS AS IDENTITY,
	session_id  uuid NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	role        text NOT NULL,
	content     text NOT NULL,
	tool_name   text,
	tool_input  jsonb,
	tool_result jsonb,
	created_at  timestamptz NOT NULL
);
CREATE INDEX messages_session_seq ON messages (session_id, seq);
`

// TestPostgresStore runs the Store contract against a real PostgreSQL.
// Requires Docker; skipped in short mode.
func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("yaroslav_test"),
		tcpostgres.WithUsername("yaroslav"),
		tcpostgres.WithPassword("yaroslav_test_password"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("could not start postgres container: %v", err)
	}
	defer func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminating container: %v", err)
		}
	}()

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	pool, err := Connect(connectCtx, dsn)
	if err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, testSchema); err != nil {
		t.Fatalf("applying test schema: %v", err)
	}

	storeTest(t, NewPostgresStore(pool, slog.New(slog.DiscardHandler)))
}
