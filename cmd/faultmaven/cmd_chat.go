package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/engine"
)

var chatFlags struct {
	id string
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive troubleshooting session",
	Long: `Chat reads one message per line and prints each answer.

Lines starting with a slash are commands:
  /state     print the investigation state
  /handoffs  list escalation handoffs
  /quit      end the session`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatFlags.id, "id", "", "investigation id to resume (empty starts a new one)")
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := startRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = srv.Stop() }()
	ctrl := srv.Controller()

	id := chatFlags.id
	if id == "" {
		id = uuid.NewString()
	}
	sub := ctrl.Subscribe(id)
	defer ctrl.Unsubscribe(sub)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "investigation %s (/quit to exit)\n", id)

	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/state":
			st, err := ctrl.State(ctx, id)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			fmt.Fprintf(out, "phase %d %s | mode %s | turns %d | version %d\n",
				int(st.Phase), st.Phase, st.Mode, len(st.Turns), st.Version)
			continue
		case "/handoffs":
			records, err := ctrl.Handoffs(ctx, id, 20)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			for _, r := range records {
				fmt.Fprintf(out, "#%d %s -> %s: %s\n", r.ID, r.Severity, r.TargetTeam, r.Reason)
			}
			continue
		}

		res, err := ctrl.ProcessTurn(ctx, id, line)
		if err != nil && ctx.Err() != nil {
			fmt.Fprintln(out, "\ninterrupted")
			return nil
		}
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		printEvents(out, sub)
		printResult(out, res)
	}
}

// printEvents writes the state changes published by the last turn.
func printEvents(w io.Writer, sub *engine.Subscriber) {
	for {
		select {
		case ev, ok := <-sub.Ch:
			if !ok {
				return
			}
			switch ev.Type {
			case engine.EventPhaseChanged:
				fmt.Fprintf(w, "  * phase %s -> %s\n", ev.From, ev.Phase)
			case engine.EventLoopDetected:
				fmt.Fprintf(w, "  * loop detected: %s\n", ev.Reason)
			case engine.EventEscalated:
				fmt.Fprintf(w, "  * escalated: %s\n", ev.Reason)
			}
		default:
			return
		}
	}
}
