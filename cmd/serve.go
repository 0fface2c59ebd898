package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/zavodtech/yaroslav/internal/agent"
	"github.com/zavodtech/yaroslav/internal/api"
	"github.com/zavodtech/yaroslav/internal/config"
	"github.com/zavodtech/yaroslav/internal/gpu"
	"github.com/zavodtech/yaroslav/internal/llm"
	"github.com/zavodtech/yaroslav/internal/observability"
	"github.com/zavodtech/yaroslav/internal/session"
	"github.com/zavodtech/yaroslav/internal/tools"
)

// Server timeout configuration.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	// SSE turns stay open across model calls and tool dispatches.
	writeTimeout    = 10 * time.Minute
	idleTimeout     = 2 * time.Minute
	shutdownTimeout = 30 * time.Second
)

var flagMemoryStore bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().BoolVar(&flagMemoryStore, "memory", false,
		"use an in-memory session store instead of PostgreSQL (development only)")
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := slog.Default()
	logger.Info("starting yaroslav", "version", Version)

	shutdownTracing, err := observability.Setup(ctx, cfg.Otel, logger)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("trace shutdown error", "error", err)
		}
	}()

	var (
		store session.Store
		pool  *pgxpool.Pool
	)
	if flagMemoryStore {
		logger.Warn("using in-memory session store, sessions are lost on restart")
		store = session.NewMemoryStore()
	} else {
		pool, err = session.Connect(ctx, cfg.PostgresConnectionString())
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		defer pool.Close()
		store = session.NewPostgresStore(pool, logger)
	}

	sched := gpu.NewScheduler(
		gpu.NewOllamaSwapper(cfg.OllamaGPUURL),
		map[gpu.Class]gpu.ModelSpec{
			gpu.ClassLLM: {Name: cfg.LLMModel, NumCtx: cfg.LLMNumCtx},
			gpu.ClassVLM: {Name: cfg.VLMModel, NumCtx: cfg.VLMNumCtx},
		},
		time.Duration(cfg.SwapTimeoutSeconds)*time.Second,
		logger,
	)

	registry, err := tools.Builtin(cfg)
	if err != nil {
		return fmt.Errorf("building tool registry: %w", err)
	}
	logger.Info("tools registered", "tools", registry.Names())

	loop := agent.New(
		llm.New(cfg.OllamaGPUURL, logger),
		registry,
		tools.NewDispatcher(sched, logger),
		sched,
		store,
		cfg.LLMModel,
		cfg.MaxToolIterations,
		logger,
	)

	apiServer, err := api.NewServer(api.ServerConfig{
		Logger:      logger,
		Loop:        loop,
		Store:       store,
		Scheduler:   sched,
		Pool:        pool,
		CORSOrigins: cfg.CORSOrigins,
		TrustProxy:  cfg.TrustProxy,
		RateBurst:   cfg.RateBurst,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	logger.Info("HTTP server ready",
		"addr", cfg.ListenAddr,
		"api", "/api/v1/*",
		"health", "/health, /ready",
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down HTTP server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server: %w", err)
	}
}
