package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	inv "github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/investigation"
)

var showFlags struct {
	id string
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored state of an investigation as YAML",
	Args:  cobra.NoArgs,
	RunE:  runShow,
}

func init() {
	showCmd.Flags().StringVar(&showFlags.id, "id", "", "investigation id")
	_ = showCmd.MarkFlagRequired("id")
}

func runShow(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	srv, err := startRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = srv.Stop() }()

	st, err := srv.Controller().State(ctx, showFlags.id)
	if err != nil {
		return err
	}
	doc, err := inv.Marshal(st)
	if err != nil {
		return err
	}
	return writeYAML(cmd.OutOrStdout(), doc)
}

// writeYAML re-renders a JSON document as YAML, keeping key order.
func writeYAML(w io.Writer, doc []byte) error {
	var node yaml.Node
	if err := yaml.Unmarshal(doc, &node); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	blockStyle(&node)
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}

// blockStyle drops the flow style the JSON input carries so the output
// reads as block YAML.
func blockStyle(n *yaml.Node) {
	n.Style &^= yaml.FlowStyle | yaml.DoubleQuotedStyle
	for _, c := range n.Content {
		blockStyle(c)
	}
}
