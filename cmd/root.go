// Package cmd provides the CLI commands.
//
// Commands:
//   - serve: HTTP API server with SSE streaming
//   - chat: interactive terminal chat against a running server
//   - ask: one-shot question against a running server
//   - sessions: list and manage stored sessions
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagDebug  bool
	flagServer string
)

var rootCmd = &cobra.Command{
	Use:   "yaroslav",
	Short: "Retrieval assistant for plant engineering teams",
	Long: `Yaroslav answers questions about plant equipment, documentation,
inventory and blueprints. It runs local models on a single GPU and calls
retrieval skills for plant data.

Run "yaroslav serve" to start the API server, then "yaroslav chat" to talk
to it from the terminal.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if flagDebug || os.Getenv("DEBUG") != "" {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

// Execute is the entry point for the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", "http://127.0.0.1:8080",
		"base URL of the yaroslav API server (client commands)")
}
