package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/engine"
)

var turnFlags struct {
	id     string
	output string
}

var turnCmd = &cobra.Command{
	Use:   "turn [message...]",
	Short: "Process one message and print the result",
	Long: `Turn sends a single message to an investigation and prints the answer.

Without --id a new investigation is started and its id is printed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTurn,
}

func init() {
	turnCmd.Flags().StringVar(&turnFlags.id, "id", "", "investigation id (empty starts a new one)")
	turnCmd.Flags().StringVarP(&turnFlags.output, "output", "o", "text", "output format: text or yaml")
}

func runTurn(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	srv, err := startRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = srv.Stop() }()

	res, err := srv.Controller().ProcessTurn(ctx, turnFlags.id, strings.Join(args, " "))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch turnFlags.output {
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		return enc.Close()
	case "text":
		printResult(out, res)
		return nil
	}
	return fmt.Errorf("unknown output format %q", turnFlags.output)
}

// printResult writes the answer followed by a one-line status.
func printResult(w io.Writer, res *engine.TurnResult) {
	fmt.Fprintln(w, res.Response)
	fmt.Fprintln(w)

	status := fmt.Sprintf("[%s] phase %d %s", res.InvestigationID, res.Phase, res.PhaseName)
	if res.LoopStep != "" {
		status += fmt.Sprintf(" / %s (iteration %d)", res.LoopStep, res.Iteration)
	}
	status += fmt.Sprintf(" | mode %s | urgency %s | coverage %.0f%%", res.Mode, res.Urgency, res.Coverage*100)
	if res.Degraded {
		status += " | degraded"
	}
	fmt.Fprintln(w, status)

	for _, req := range res.PendingRequests {
		fmt.Fprintf(w, "  needs: %s\n", req.Label)
	}
	if res.Escalated {
		fmt.Fprintf(w, "  escalated: %s\n", res.EscalationReason)
		if res.Handoff != nil {
			fmt.Fprintf(w, "  handoff to %s (%s)\n", res.Handoff.TargetTeam, res.Handoff.Severity)
		}
	}
}
