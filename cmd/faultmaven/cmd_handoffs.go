package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var handoffsFlags struct {
	id    string
	limit int
	full  bool
}

var handoffsCmd = &cobra.Command{
	Use:   "handoffs",
	Short: "List escalation handoffs recorded for an investigation",
	Args:  cobra.NoArgs,
	RunE:  runHandoffs,
}

func init() {
	handoffsCmd.Flags().StringVar(&handoffsFlags.id, "id", "", "investigation id")
	handoffsCmd.Flags().IntVar(&handoffsFlags.limit, "limit", 20, "maximum number of handoffs to list")
	handoffsCmd.Flags().BoolVar(&handoffsFlags.full, "full", false, "print each handoff payload as YAML")
	_ = handoffsCmd.MarkFlagRequired("id")
}

func runHandoffs(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	srv, err := startRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = srv.Stop() }()

	records, err := srv.Controller().Handoffs(ctx, handoffsFlags.id, handoffsFlags.limit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintf(out, "no handoffs for %s\n", handoffsFlags.id)
		return nil
	}

	if handoffsFlags.full {
		for _, r := range records {
			fmt.Fprintf(out, "--- handoff %d\n", r.ID)
			if !json.Valid([]byte(r.Payload)) {
				fmt.Fprintln(out, r.Payload)
				continue
			}
			if err := writeYAML(out, []byte(r.Payload)); err != nil {
				return err
			}
		}
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tSEVERITY\tTEAM\tREASON")
	for _, r := range records {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			r.ID, r.CreatedAt.Format(time.RFC3339), r.Severity, r.TargetTeam, r.Reason)
	}
	return tw.Flush()
}
