package observability

import (
	"context"
	"testing"
	"time"

	"github.com/zavodtech/yaroslav/internal/config"
	"github.com/zavodtech/yaroslav/internal/testutil"
)

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.OtelConfig{}, testutil.Logger())
	if err != nil {
		t.Fatalf("Setup() failed: %v", err)
	}
	if shutdown == nil {
		t.Fatal("shutdown function is nil")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown failed: %v", err)
	}
}

func TestSetupWithEndpoint(t *testing.T) {
	cfg := config.OtelConfig{
		Endpoint:    "localhost:4318",
		Environment: "test",
		ServiceName: "yaroslav-test",
	}
	shutdown, err := Setup(context.Background(), cfg, testutil.Logger())
	if err != nil {
		t.Fatalf("Setup() failed: %v", err)
	}

	// No spans were recorded, so shutdown flushes nothing and returns
	// without contacting the endpoint.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		t.Errorf("shutdown failed: %v", err)
	}
}
