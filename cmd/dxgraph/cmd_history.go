package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/dshills/dxgraph/config"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history <run-id>",
	Short: "List the persisted steps of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cfg.Store.Driver == "memory" {
			return errors.New("history needs a persistent store; set store.driver to sqlite or mysql")
		}
		a, err := build(cmd.Context(), cfg, args[0], cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		steps, err := a.wf.History(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "STEP\tNODE\tDEPTH\tCANDIDATES\tEVIDENCE\tJUDGED")
		for _, s := range steps {
			fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%d\n", s.Step, s.NodeID, s.State.Depth,
				len(s.State.Candidates), s.State.Evidence.Len(), len(s.State.Judgements))
		}
		return tw.Flush()
	},
}
