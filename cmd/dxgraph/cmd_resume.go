package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dshills/dxgraph/config"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var resumeFlags struct {
	runID  string
	output string
}

var resumeCmd = &cobra.Command{
	Use:   "resume <checkpoint-id>",
	Short: "Start a new cycle from a saved checkpoint",
	Long: `Resume re-enters the workflow at its start with the state saved under
a checkpoint. The depth already reached still counts toward the cycle cap.
Checkpoints only survive the process with a sqlite or mysql store.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	f := resumeCmd.Flags()
	f.StringVar(&resumeFlags.runID, "run-id", "", "Id of the new run (default: random)")
	f.StringVarP(&resumeFlags.output, "output", "o", "text", "Output format: text or json")
}

func runResume(cmd *cobra.Command, args []string) error {
	runID := resumeFlags.runID
	if runID == "" {
		runID = uuid.NewString()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg, runID, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	res, err := a.wf.Resume(ctx, args[0], runID)
	if err != nil {
		return fmt.Errorf("resume %s: %s", args[0], describe(err))
	}
	return writeResult(cmd.OutOrStdout(), resumeFlags.output, res, a.cost)
}
