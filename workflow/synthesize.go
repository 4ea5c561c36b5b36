package workflow

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/dshills/dxgraph/graph/emit"
)

// DefaultCandidateLimit bounds the size of a synthesized differential.
const DefaultCandidateLimit = 10

// rrfK is the damping constant of reciprocal-rank fusion.
const rrfK = 60

// Synthesize merges the branch results into one ranked candidate list.
//
// With a Generator the model does the merging. Without one, or when the
// model returns no candidates, the branches are combined by reciprocal-rank
// fusion. A generator failure aborts the run.
type Synthesize struct {
	Gen    Generator
	Limit  int
	Events emit.Emitter
}

func (n *Synthesize) Run(ctx context.Context, s CaseState) result {
	if s.Branches.Empty() {
		return result{}
	}
	limit := cmp.Or(n.Limit, DefaultCandidateLimit)

	if n.Gen != nil {
		prompt := synthesisPrompt(s, limit)
		trace(ctx, n.Events, "prompt", map[string]interface{}{"shape": synthesisShape.Name, "prompt": prompt})

		var reply rankingReply
		if err := n.Gen.Generate(ctx, prompt, synthesisShape, &reply); err != nil {
			return result{Err: fmt.Errorf("synthesize: %w", err)}
		}
		if ranked := rankCandidates(reply.candidates(), limit); len(ranked) > 0 {
			return result{Delta: CaseState{Candidates: ranked}}
		}
	}
	return result{Delta: CaseState{Candidates: fuse(s.Branches, limit)}}
}

// FinalSynthesize writes the final differential from the surviving
// candidates and their judgements. Without a Generator, or when the model
// returns nothing, the accepted candidates are kept in rank order; if none
// was accepted every candidate is kept.
type FinalSynthesize struct {
	Gen    Generator
	Limit  int
	Events emit.Emitter
}

func (n *FinalSynthesize) Run(ctx context.Context, s CaseState) result {
	if len(s.Candidates) == 0 {
		return result{Delta: CaseState{FinalResult: []Candidate{}}}
	}

	if n.Gen != nil {
		prompt := finalPrompt(s)
		trace(ctx, n.Events, "prompt", map[string]interface{}{"shape": finalShape.Name, "prompt": prompt})

		var reply rankingReply
		if err := n.Gen.Generate(ctx, prompt, finalShape, &reply); err != nil {
			return result{Err: fmt.Errorf("final synthesize: %w", err)}
		}
		if ranked := rankCandidates(reply.candidates(), n.Limit); len(ranked) > 0 {
			return result{Delta: CaseState{FinalResult: ranked}}
		}
	}
	return result{Delta: CaseState{FinalResult: rankCandidates(acceptedOrAll(s), n.Limit)}}
}

func acceptedOrAll(s CaseState) []Candidate {
	accepted := make(map[string]bool, len(s.Judgements))
	for _, j := range s.Judgements {
		if j.Accepted {
			accepted[j.CandidateName] = true
		}
	}
	var kept []Candidate
	for _, c := range s.Candidates {
		if accepted[c.Name] {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return s.Candidates
	}
	return kept
}

// rankCandidates orders candidates by their stated rank, drops blanks and
// duplicates and renumbers the rest 1..n, so ranks always form a
// permutation. Two candidates are duplicates when they share a normalized
// id or, lacking one, a case-folded name. A limit of zero keeps everything.
// The result is never nil.
func rankCandidates(cs []Candidate, limit int) []Candidate {
	sorted := slices.Clone(cs)
	slices.SortStableFunc(sorted, func(a, b Candidate) int {
		return cmp.Compare(rankKey(a.Rank), rankKey(b.Rank))
	})

	out := make([]Candidate, 0, len(sorted))
	seen := make(map[string]bool, len(sorted))
	for _, c := range sorted {
		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" {
			continue
		}
		key := "name:" + strings.ToLower(c.Name)
		if c.NormalizedID != "" {
			key = "id:" + c.NormalizedID
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		c.Rank = len(out) + 1
		out = append(out, c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

type fused struct {
	name    string
	score   float64
	first   int
	sources []string
}

// fuse combines branch results by reciprocal-rank fusion: each appearance
// at rank r adds 1/(rrfK+r). Names are matched case-insensitively; ties keep
// the order of first appearance.
func fuse(b Branches, limit int) []Candidate {
	byKey := make(map[string]*fused)
	var order []*fused

	add := func(name string, rank int, source string) {
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		key := strings.ToLower(name)
		f, ok := byKey[key]
		if !ok {
			f = &fused{name: name, first: len(order)}
			byKey[key] = f
			order = append(order, f)
		}
		f.score += 1.0 / float64(rrfK+rank)
		f.sources = append(f.sources, fmt.Sprintf("%s #%d", source, rank))
	}

	for i, m := range b.Phenotype {
		add(m.Name, i+1, "phenotype")
	}
	for i, m := range b.Image {
		add(m.Name, i+1, "image")
	}
	for _, m := range rankNames(b.Generative, 0) {
		add(m.Name, m.Rank, "generative")
	}

	slices.SortStableFunc(order, func(x, y *fused) int {
		if c := cmp.Compare(y.score, x.score); c != 0 {
			return c
		}
		return cmp.Compare(x.first, y.first)
	})

	cands := make([]Candidate, len(order))
	for i, f := range order {
		cands[i] = Candidate{Name: f.name, Rank: i + 1, Rationale: strings.Join(f.sources, ", ")}
	}
	return rankCandidates(cands, limit)
}
