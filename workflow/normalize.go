package workflow

import (
	"context"

	"github.com/dshills/dxgraph/graph/emit"
	"github.com/dshills/dxgraph/normalize"
)

// Normalize maps candidate names onto the disease catalog, dropping those
// without a close enough match. With Final set it rewrites FinalResult
// instead of Candidates.
//
// Every rejection is recorded as a Note and emitted as a
// normalization_rejected event. An embedding failure aborts the run.
type Normalize struct {
	Normalizer *normalize.Normalizer
	Final      bool
	Events     emit.Emitter
}

func (n *Normalize) Run(ctx context.Context, s CaseState) result {
	src := s.Candidates
	if n.Final {
		src = s.FinalResult
	}

	kept, notes, err := NormalizeCandidates(ctx, n.Normalizer, src)
	if err != nil {
		return result{Err: err}
	}
	for _, note := range notes {
		trace(ctx, n.Events, "normalization_rejected", map[string]interface{}{
			"input":      note.Input,
			"best_id":    note.BestID,
			"best_label": note.BestLabel,
			"similarity": note.Similarity,
			"threshold":  note.Threshold,
		})
	}

	delta := CaseState{Notes: notes}
	if n.Final {
		delta.FinalResult = kept
	} else {
		delta.Candidates = kept
	}
	return result{Delta: delta}
}

// NormalizeCandidates replaces each candidate's name with its catalog label
// and records the catalog id. Rejected candidates are dropped and returned
// as notes; the survivors are merged by id and renumbered.
func NormalizeCandidates(ctx context.Context, n *normalize.Normalizer, cs []Candidate) ([]Candidate, []normalize.Note, error) {
	kept, notes, err := normalize.Filter(ctx, n, cs,
		func(c Candidate) string { return c.Name },
		func(c Candidate, res normalize.Result) Candidate {
			c.NormalizedID = res.ID
			if res.Label != "" {
				c.Name = res.Label
			}
			return c
		})
	if err != nil {
		return nil, nil, err
	}
	return rankCandidates(kept, 0), notes, nil
}
