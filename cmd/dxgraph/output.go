package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/dshills/dxgraph/graph"
	"github.com/dshills/dxgraph/workflow"
)

type jsonResult struct {
	RunID      string               `json:"run_id"`
	Depth      int                  `json:"depth"`
	Candidates []workflow.Candidate `json:"candidates"`
	Judgements []workflow.Judgement `json:"judgements,omitempty"`
	Notes      []string             `json:"notes,omitempty"`
	CostUSD    float64              `json:"cost_usd"`
}

func writeResult(w io.Writer, format string, res workflow.Result, cost *graph.CostTracker) error {
	notes := make([]string, 0, len(res.State.Notes))
	for _, n := range res.State.Notes {
		notes = append(notes, n.String())
	}

	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(jsonResult{
			RunID:      res.RunID,
			Depth:      res.State.Depth,
			Candidates: res.Candidates,
			Judgements: res.State.Judgements,
			Notes:      notes,
			CostUSD:    cost.GetTotalCost(),
		})
	}

	fmt.Fprintf(w, "run %s (depth %d)\n", res.RunID, res.State.Depth)
	if len(res.Candidates) == 0 {
		fmt.Fprintln(w, "no diagnosis could be confirmed")
	}
	for _, c := range res.Candidates {
		if c.NormalizedID != "" {
			fmt.Fprintf(w, "%2d. %s [%s]\n", c.Rank, c.Name, c.NormalizedID)
		} else {
			fmt.Fprintf(w, "%2d. %s\n", c.Rank, c.Name)
		}
		if c.Rationale != "" {
			fmt.Fprintf(w, "    %s\n", c.Rationale)
		}
	}
	for _, n := range notes {
		fmt.Fprintf(w, "note: %s\n", n)
	}
	in, out := cost.GetTokenUsage()
	fmt.Fprintf(w, "cost: %.4f %s (%d input / %d output tokens)\n", cost.GetTotalCost(), cost.Currency, in, out)
	return nil
}
