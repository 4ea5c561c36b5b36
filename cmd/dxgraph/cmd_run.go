package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dshills/dxgraph/config"
	"github.com/dshills/dxgraph/workflow"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var runFlags struct {
	features     []string
	absent       []string
	image        string
	clinical     string
	clinicalFile string
	runID        string
	checkpoint   string
	output       string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Diagnose one case",
	Long: `Run the diagnostic workflow over a set of observed HPO features.

Example:
  dxgraph run --features HP:0001166,HP:0000098,HP:0001083 --image face.png
  dxgraph run --features HP:0001166 --clinical-file notes.txt -o json`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringSliceVarP(&runFlags.features, "features", "f", nil, "Observed HPO ids (required)")
	f.StringSliceVar(&runFlags.absent, "absent", nil, "HPO ids known to be absent")
	f.StringVar(&runFlags.image, "image", "", "Facial photograph for the image matcher")
	f.StringVar(&runFlags.clinical, "clinical", "", "Free-text clinical summary")
	f.StringVar(&runFlags.clinicalFile, "clinical-file", "", "Read the clinical summary from a file")
	f.StringVar(&runFlags.runID, "run-id", "", "Run id (default: random)")
	f.StringVar(&runFlags.checkpoint, "checkpoint", "", "Save the final state under this checkpoint id")
	f.StringVarP(&runFlags.output, "output", "o", "text", "Output format: text or json")
	_ = runCmd.MarkFlagRequired("features")
}

func runRun(cmd *cobra.Command, _ []string) error {
	clinical := runFlags.clinical
	if runFlags.clinicalFile != "" {
		data, err := os.ReadFile(runFlags.clinicalFile)
		if err != nil {
			return fmt.Errorf("read clinical summary: %w", err)
		}
		clinical = string(data)
	}
	runID := runFlags.runID
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

	res, err := a.wf.Run(ctx, workflow.Input{
		RunID:          runID,
		Features:       runFlags.features,
		AbsentFeatures: runFlags.absent,
		ImagePath:      runFlags.image,
		ClinicalText:   clinical,
	})
	if err != nil {
		return fmt.Errorf("run %s: %s", runID, describe(err))
	}
	if runFlags.checkpoint != "" {
		if err := a.wf.Checkpoint(context.WithoutCancel(ctx), runID, runFlags.checkpoint); err != nil {
			return fmt.Errorf("save checkpoint: %w", err)
		}
	}
	return writeResult(cmd.OutOrStdout(), runFlags.output, res, a.cost)
}
