package workflow

import (
	"fmt"
	"strings"

	"github.com/dshills/dxgraph/graph/model"
)

type generativeReply struct {
	Diseases []RankedName `json:"diseases" jsonschema:"candidate diseases, most likely first"`
}

type rankedCandidate struct {
	Name      string `json:"name" jsonschema:"disease name"`
	Rank      int    `json:"rank" jsonschema:"1 for the most likely diagnosis"`
	Rationale string `json:"rationale,omitempty" jsonschema:"one sentence on why the disease fits"`
}

type rankingReply struct {
	Candidates []rankedCandidate `json:"candidates" jsonschema:"ranked candidate diagnoses"`
}

func (r rankingReply) candidates() []Candidate {
	out := make([]Candidate, 0, len(r.Candidates))
	for _, c := range r.Candidates {
		out = append(out, Candidate{Name: c.Name, Rank: c.Rank, Rationale: c.Rationale})
	}
	return out
}

type judgementReply struct {
	Accepted  bool   `json:"accepted" jsonschema:"true if the evidence supports the diagnosis for this patient"`
	Summary   string `json:"patient_summary" jsonschema:"short summary of the patient's presentation"`
	Analysis  string `json:"analysis" jsonschema:"how the evidence supports or contradicts the diagnosis"`
	Citations []int  `json:"citations,omitempty" jsonschema:"numbers of the evidence entries relied on"`
}

var (
	generativeShape = model.MustShape[generativeReply]("generative_diagnosis")
	synthesisShape  = model.MustShape[rankingReply]("candidate_ranking")
	judgementShape  = model.MustShape[judgementReply]("judgement")
	finalShape      = model.MustShape[rankingReply]("final_diagnosis")
)

// writeFeatures lists present and absent features by display name,
// falling back to the id when no label is known.
func writeFeatures(b *strings.Builder, s CaseState) {
	b.WriteString("Present phenotypes:\n")
	for _, id := range s.InputFeatures {
		fmt.Fprintf(b, "- %s\n", label(s, id))
	}
	if len(s.AbsentFeatures) > 0 {
		b.WriteString("Absent phenotypes:\n")
		for _, id := range s.AbsentFeatures {
			fmt.Fprintf(b, "- %s\n", label(s, id))
		}
	}
	if s.ClinicalText != "" {
		fmt.Fprintf(b, "Clinical notes:\n%s\n", s.ClinicalText)
	}
}

func label(s CaseState, id string) string {
	if l, ok := s.FeatureLabels[id]; ok && l != "" {
		return fmt.Sprintf("%s (%s)", l, id)
	}
	return id
}

func generativePrompt(s CaseState, limit int) string {
	var b strings.Builder
	b.WriteString("You are a clinical geneticist. List the rare diseases that best explain the patient's phenotypes.\n\n")
	writeFeatures(&b, s)
	fmt.Fprintf(&b, "\nReturn at most %d diseases ranked from most to least likely.", limit)
	return b.String()
}

func synthesisPrompt(s CaseState, limit int) string {
	var b strings.Builder
	b.WriteString("You are a clinical geneticist combining the output of several diagnostic tools into one ranked differential diagnosis.\n\n")
	writeFeatures(&b, s)

	if len(s.Branches.Phenotype) > 0 {
		b.WriteString("\nPhenotype similarity search:\n")
		for i, m := range s.Branches.Phenotype {
			fmt.Fprintf(&b, "%d. %s (score %.3f)", i+1, m.Name, m.Score)
			if m.Description != "" {
				fmt.Fprintf(&b, ": %s", m.Description)
			}
			b.WriteString("\n")
		}
	}
	if len(s.Branches.Image) > 0 {
		b.WriteString("\nFacial image analysis:\n")
		for i, m := range s.Branches.Image {
			fmt.Fprintf(&b, "%d. %s (score %.3f)\n", i+1, m.Name, m.Score)
		}
	}
	if len(s.Branches.Generative) > 0 {
		b.WriteString("\nModel-generated differential:\n")
		for _, m := range s.Branches.Generative {
			fmt.Fprintf(&b, "%d. %s\n", m.Rank, m.Name)
		}
	}
	fmt.Fprintf(&b, "\nReturn at most %d candidates, each with a one sentence rationale.", limit)
	return b.String()
}

// judgementPrompt shows the evidence for c numbered by its position in the
// whole evidence set; the numbers are what the reply cites.
func judgementPrompt(s CaseState, c Candidate) string {
	var b strings.Builder
	b.WriteString("You are a clinical geneticist reviewing whether a candidate diagnosis fits a patient.\n\n")
	writeFeatures(&b, s)
	fmt.Fprintf(&b, "\nCandidate diagnosis: %s\n", c.Name)
	if c.Rationale != "" {
		fmt.Fprintf(&b, "Why it was proposed: %s\n", c.Rationale)
	}

	b.WriteString("\nEvidence:\n")
	n := 0
	for pos, it := range s.Evidence.FilterByCandidate(c.Name) {
		fmt.Fprintf(&b, "[%d] %s\nURL: %s\n%s\n\n", pos, it.Title, it.URL, it.Content)
		n++
	}
	if n == 0 {
		b.WriteString("(none found)\n")
	}
	b.WriteString("\nDecide whether the diagnosis is consistent with the patient. Cite evidence by its number.")
	return b.String()
}

func finalPrompt(s CaseState) string {
	var b strings.Builder
	b.WriteString("You are a clinical geneticist writing the final differential diagnosis for a patient.\n\n")
	writeFeatures(&b, s)

	b.WriteString("\nTentative diagnosis:\n")
	for _, c := range s.Candidates {
		fmt.Fprintf(&b, "%d. %s\n", c.Rank, c.Name)
	}
	if len(s.Judgements) > 0 {
		b.WriteString("\nReview of each candidate:\n")
		for _, j := range s.Judgements {
			verdict := "rejected"
			if j.Accepted {
				verdict = "supported"
			}
			fmt.Fprintf(&b, "- %s: %s. %s\n", j.CandidateName, verdict, j.Analysis)
		}
	}
	if s.Evidence.Len() > 0 {
		b.WriteString("\nReferences:\n")
		for pos, it := range s.Evidence.All() {
			fmt.Fprintf(&b, "[%d] %s (%s)\n", pos, it.Title, it.URL)
		}
	}
	b.WriteString("\nRank the diagnoses that remain plausible, most likely first.")
	return b.String()
}

func condensePrompt(name, content string, budget int) string {
	return fmt.Sprintf("Summarize the following text in at most %d characters, keeping only what is relevant to the diagnosis of %s.\n\n%s",
		budget, name, content)
}
