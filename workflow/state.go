// Package workflow wires the diagnostic graph: three candidate-generating
// branches joined at a synthesis step, normalization against a disease
// catalog, evidence gathering, per-candidate judgement and a bounded retry
// loop back to the entry node.
//
// The graph is built once by New and may be run any number of times; runs
// share collaborators but never state.
//
// Example:
//
//	wf, err := workflow.New(workflow.Deps{
//	    Generator:  &model.Structured{Model: chat},
//	    Phenotype:  pubcasefinder.New(),
//	    Searchers:  []workflow.Source{{Searcher: wikipedia.New(), PerDepth: 5}},
//	    Normalizer: norm,
//	}, workflow.WithEmitter(emitter))
//	res, err := wf.Run(ctx, workflow.Input{Features: []string{"HP:0001166"}})
package workflow

import (
	"slices"

	"github.com/dshills/dxgraph/evidence"
	"github.com/dshills/dxgraph/graph"
	"github.com/dshills/dxgraph/normalize"
)

// Field names used in node write-sets.
const (
	FieldDepth            = "depth"
	FieldPhenotypeResults = "branches.phenotype"
	FieldImageResults     = "branches.image"
	FieldGenerative       = "branches.generative"
	FieldCandidates       = "candidates"
	FieldEvidence         = "evidence"
	FieldJudgements       = "judgements"
	FieldFinalResult      = "final_result"
	FieldNotes            = "notes"
)

// stateFields lists every field a node may declare in its write-set.
var stateFields = []string{
	FieldDepth,
	FieldPhenotypeResults,
	FieldImageResults,
	FieldGenerative,
	FieldCandidates,
	FieldEvidence,
	FieldJudgements,
	FieldFinalResult,
	FieldNotes,
}

// CaseState is the record a diagnostic run threads through the graph.
//
// Inputs (features, labels, image path, clinical text) are set before the
// first step and never written by a node. Every other field has exactly one
// owning node, named in the node's write-set.
type CaseState struct {
	Depth int `json:"depth"`

	InputFeatures  []string          `json:"input_features,omitempty"`
	AbsentFeatures []string          `json:"absent_features,omitempty"`
	FeatureLabels  map[string]string `json:"feature_labels,omitempty"`
	ImagePath      string            `json:"image_path,omitempty"`
	ClinicalText   string            `json:"clinical_text,omitempty"`

	Branches   Branches     `json:"branches"`
	Candidates []Candidate  `json:"candidates,omitempty"`
	Evidence   evidence.Set `json:"evidence"`
	Judgements []Judgement  `json:"judgements,omitempty"`

	// FinalResult is nil until FinalSynthesize has run. It is deliberately
	// not omitempty so that an empty result survives persistence as [].
	FinalResult []Candidate `json:"final_result"`

	Notes []normalize.Note `json:"notes,omitempty"`
}

// Branches holds the raw output of the three candidate generators.
type Branches struct {
	Phenotype  []PhenotypeMatch `json:"phenotype,omitempty"`
	Image      []ImageMatch     `json:"image,omitempty"`
	Generative []RankedName     `json:"generative,omitempty"`
}

// Empty reports whether no branch produced anything.
func (b Branches) Empty() bool {
	return len(b.Phenotype) == 0 && len(b.Image) == 0 && len(b.Generative) == 0
}

// PhenotypeMatch is one disease returned by a ranked phenotype lookup.
type PhenotypeMatch struct {
	Name        string  `json:"name"`
	Score       float64 `json:"score"`
	Description string  `json:"description,omitempty"`
	ExternalID  string  `json:"external_id,omitempty"`
}

// ImageMatch is one syndrome suggested by a facial image matcher.
type ImageMatch struct {
	Name       string  `json:"name"`
	ExternalID string  `json:"external_id,omitempty"`
	Score      float64 `json:"score"`
}

// RankedName is a disease name with a 1-based rank.
type RankedName struct {
	Name string `json:"name" jsonschema:"disease name"`
	Rank int    `json:"rank" jsonschema:"1 for the most likely disease"`
}

// Candidate is a disease under consideration.
type Candidate struct {
	Name         string `json:"name"`
	NormalizedID string `json:"normalized_id,omitempty"`
	Rationale    string `json:"rationale,omitempty"`
	Rank         int    `json:"rank"`
}

// Judgement is the verdict on one candidate given the gathered evidence.
// Citations hold the global evidence positions the analysis relied on and
// Sources the URLs at those positions, in the same order. Only evidence
// recorded for the candidate itself can be cited.
type Judgement struct {
	CandidateName string   `json:"candidate_name"`
	Accepted      bool     `json:"accepted"`
	Summary       string   `json:"summary,omitempty"`
	Analysis      string   `json:"analysis,omitempty"`
	Citations     []int    `json:"citations,omitempty"`
	Sources       []string `json:"sources,omitempty"`
}

// MergeCase is the reducer for CaseState.
//
// Each field named in writes is copied from delta onto prev, so the last
// writer wins. Evidence is the exception: it only grows, by union. Notes
// are appended so that notes from both normalization passes are kept.
func MergeCase(prev, delta CaseState, writes graph.FieldSet) CaseState {
	for _, field := range writes {
		switch field {
		case FieldDepth:
			prev.Depth = delta.Depth
		case FieldPhenotypeResults:
			prev.Branches.Phenotype = delta.Branches.Phenotype
		case FieldImageResults:
			prev.Branches.Image = delta.Branches.Image
		case FieldGenerative:
			prev.Branches.Generative = delta.Branches.Generative
		case FieldCandidates:
			prev.Candidates = delta.Candidates
		case FieldEvidence:
			prev.Evidence = prev.Evidence.Union(delta.Evidence)
		case FieldJudgements:
			prev.Judgements = delta.Judgements
		case FieldFinalResult:
			prev.FinalResult = delta.FinalResult
		case FieldNotes:
			prev.Notes = append(slices.Clip(prev.Notes), delta.Notes...)
		}
	}
	return prev
}
