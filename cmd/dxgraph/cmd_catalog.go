package main

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/dshills/dxgraph/config"
	"github.com/dshills/dxgraph/graph/model"
	"github.com/dshills/dxgraph/normalize"
	"github.com/spf13/cobra"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the disease catalog used for name normalization",
}

var catalogBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Embed an id-to-label JSON map into a catalog file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		input, _ := cmd.Flags().GetString("input")
		output, _ := cmd.Flags().GetString("output")
		if output == "" {
			output = cfg.Normalization.Catalog
		}
		uppercase := cfg.Normalization.Uppercase
		if cmd.Flags().Changed("uppercase") {
			uppercase, _ = cmd.Flags().GetBool("uppercase")
		}

		a := &app{}
		defer func() { _ = a.Close() }()
		emb, err := a.embedder(cmd.Context(), cfg.Embedding, cfg.LLM)
		if err != nil {
			return err
		}
		n, err := buildCatalog(cmd.Context(), emb, input, output, uppercase)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d entries to %s\n", n, output)
		return nil
	},
}

func init() {
	catalogBuildCmd.Flags().String("input", "", "JSON object mapping disease id to label")
	catalogBuildCmd.Flags().String("output", "", "Catalog path (default normalization.catalog)")
	catalogBuildCmd.Flags().Bool("uppercase", false, "Embed labels in upper case (default normalization.uppercase)")
	_ = catalogBuildCmd.MarkFlagRequired("input")
	catalogCmd.AddCommand(catalogBuildCmd)
}

// buildCatalog embeds every label in input, in id order, and saves the
// catalog to output.
func buildCatalog(ctx context.Context, emb model.Embedder, input, output string, uppercase bool) (int, error) {
	data, err := os.ReadFile(input)
	if err != nil {
		return 0, fmt.Errorf("read labels: %w", err)
	}
	var mapping map[string]string
	if err := json.Unmarshal(data, &mapping); err != nil {
		return 0, fmt.Errorf("parse labels %s: %w", input, err)
	}
	ids := slices.Sorted(maps.Keys(mapping))
	labels := make([]string, len(ids))
	for i, id := range ids {
		labels[i] = mapping[id]
	}

	b := normalize.Builder{Embedder: emb}
	if uppercase {
		b.Transform = strings.ToUpper
	}
	cat, err := b.Build(ctx, ids, labels)
	if err != nil {
		return 0, err
	}
	if err := cat.Save(output); err != nil {
		return 0, err
	}
	return cat.Len(), nil
}
