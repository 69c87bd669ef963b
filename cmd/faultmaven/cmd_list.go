package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var listFlags struct {
	limit  int
	offset int
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored investigations, most recently updated first",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	listCmd.Flags().IntVar(&listFlags.limit, "limit", 20, "maximum number of investigations to list")
	listCmd.Flags().IntVar(&listFlags.offset, "offset", 0, "number of investigations to skip")
}

func runList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	srv, err := startRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = srv.Stop() }()

	items, err := srv.Controller().List(ctx, listFlags.limit, listFlags.offset)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(items) == 0 {
		fmt.Fprintln(out, "no investigations")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPHASE\tVERSION\tUPDATED")
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t%d %s\t%d\t%s\n",
			it.ID, it.Phase, it.PhaseName, it.Version, it.UpdatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}
