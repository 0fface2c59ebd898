package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a single question against a running server",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAsk(strings.Join(args, " "))
	},
}

func init() {
	rootCmd.AddCommand(askCmd)
}

func runAsk(question string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := newAPIClient(flagServer)

	title := question
	if len(title) > 60 {
		title = title[:60]
	}
	sess, err := client.createSession(ctx, title)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	printer := &turnPrinter{w: os.Stdout, st: defaultStyles()}
	if err := client.stream(ctx, sess.ID, question, printer.handle); err != nil {
		return fmt.Errorf("streaming answer: %w", err)
	}
	return nil
}
