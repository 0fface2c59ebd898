package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var flagSessionID string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat against a running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat()
	},
}

func init() {
	chatCmd.Flags().StringVar(&flagSessionID, "session", "", "resume an existing session by ID")
	rootCmd.AddCommand(chatCmd)
}

// turnPrinter renders SSE frames for the terminal. Tokens stream inline;
// everything else gets its own line.
type turnPrinter struct {
	w        io.Writer
	st       styles
	inAnswer bool
}

func (p *turnPrinter) handle(ev turnEvent) {
	switch ev.Type {
	case "status":
		p.breakAnswer()
		fmt.Fprintln(p.w, p.st.Status.Render("· "+ev.Text))
	case "tool_start":
		p.breakAnswer()
		fmt.Fprintln(p.w, p.st.Tool.Render(fmt.Sprintf("⚒ %s %s", ev.Tool, ev.Input)))
	case "tool_done":
		p.breakAnswer()
		fmt.Fprintln(p.w, p.st.ToolDone.Render("✓ "+ev.Summary))
	case "token":
		fmt.Fprint(p.w, p.st.Assistant.Render(ev.Content))
		p.inAnswer = true
	case "done":
		p.breakAnswer()
	case "error":
		p.breakAnswer()
		fmt.Fprintln(p.w, p.st.Error.Render("error: "+ev.Detail))
	}
}

func (p *turnPrinter) breakAnswer() {
	if p.inAnswer {
		fmt.Fprintln(p.w)
		p.inAnswer = false
	}
}

func runChat() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := newAPIClient(flagServer)
	st := defaultStyles()

	sessionID := flagSessionID
	if sessionID == "" {
		sess, err := client.createSession(ctx, "Terminal chat")
		if err != nil {
			return fmt.Errorf("creating session: %w", err)
		}
		sessionID = sess.ID
		fmt.Println(st.Muted.Render("session " + sessionID))
	}

	fmt.Println(st.Muted.Render("Type your question, /exit to quit."))

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(st.Prompt.Render("you> "))
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		}

		printer := &turnPrinter{w: os.Stdout, st: st}
		if err := client.stream(ctx, sessionID, line, printer.handle); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Println(st.Error.Render("error: " + err.Error()))
		}
	}
}
