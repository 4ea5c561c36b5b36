package workflow

import (
	"cmp"
	"context"
	"math"
	"slices"
	"strings"

	"github.com/dshills/dxgraph/graph"
	"github.com/dshills/dxgraph/graph/emit"
	"github.com/dshills/dxgraph/graph/tool"
)

// Default result windows.
const (
	DefaultPhenotypeLimit  = 5
	DefaultImageBaseLimit  = 4
	DefaultGenerativeLimit = 10
)

type result = graph.NodeResult[CaseState]

// Entry starts a cycle: it increments the depth and clears the candidates
// and judgements of the previous cycle.
type Entry struct{}

func (Entry) Run(_ context.Context, s CaseState) result {
	return result{Delta: CaseState{Depth: s.Depth + 1}}
}

// PhenotypeBranch ranks diseases by phenotype similarity.
type PhenotypeBranch struct {
	Lookup PhenotypeLookup
	Limit  int
}

func (b *PhenotypeBranch) Run(ctx context.Context, s CaseState) result {
	if b.Lookup == nil || len(s.InputFeatures) == 0 {
		return result{}
	}
	limit := cmp.Or(b.Limit, DefaultPhenotypeLimit)

	matches, err := b.Lookup.Lookup(ctx, s.InputFeatures, limit)
	if err != nil {
		return result{Err: &CollaboratorError{Collaborator: nameOf(b.Lookup, "phenotype"), Err: err}}
	}
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return result{Delta: CaseState{Branches: Branches{Phenotype: matches}}}
}

// ImageBranch suggests syndromes from the case's facial image. The result
// window grows by one with every cycle.
type ImageBranch struct {
	Matcher   ImageMatcher
	BaseLimit int
}

func (b *ImageBranch) Run(ctx context.Context, s CaseState) result {
	if b.Matcher == nil || s.ImagePath == "" {
		return result{}
	}
	limit := s.Depth + cmp.Or(b.BaseLimit, DefaultImageBaseLimit)

	matches, err := b.Matcher.Match(ctx, s.ImagePath, limit)
	if err != nil {
		return result{Err: &CollaboratorError{Collaborator: nameOf(b.Matcher, "image"), Err: err}}
	}
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return result{Delta: CaseState{Branches: Branches{Image: matches}}}
}

// GenerativeBranch asks a model for a differential diagnosis. Its answer
// does not depend on the depth, so a result from an earlier cycle is reused.
type GenerativeBranch struct {
	Gen    Generator
	Limit  int
	Events emit.Emitter
}

func (b *GenerativeBranch) Run(ctx context.Context, s CaseState) result {
	if len(s.Branches.Generative) > 0 {
		return result{Delta: CaseState{Branches: Branches{Generative: s.Branches.Generative}}}
	}
	if b.Gen == nil || len(s.InputFeatures) == 0 {
		return result{}
	}
	limit := cmp.Or(b.Limit, DefaultGenerativeLimit)

	prompt := generativePrompt(s, limit)
	trace(ctx, b.Events, "prompt", map[string]interface{}{"shape": generativeShape.Name, "prompt": prompt})

	var reply generativeReply
	if err := b.Gen.Generate(ctx, prompt, generativeShape, &reply); err != nil {
		return result{Err: &CollaboratorError{Collaborator: "generative", Err: err}}
	}
	return result{Delta: CaseState{Branches: Branches{Generative: rankNames(reply.Diseases, limit)}}}
}

// rankNames orders names by their stated rank, drops blanks and repeats and
// renumbers the survivors 1..n.
func rankNames(names []RankedName, limit int) []RankedName {
	sorted := slices.Clone(names)
	slices.SortStableFunc(sorted, func(a, b RankedName) int {
		return cmp.Compare(rankKey(a.Rank), rankKey(b.Rank))
	})

	out := make([]RankedName, 0, len(sorted))
	seen := make(map[string]bool, len(sorted))
	for _, n := range sorted {
		n.Name = strings.TrimSpace(n.Name)
		key := strings.ToLower(n.Name)
		if n.Name == "" || seen[key] {
			continue
		}
		seen[key] = true
		n.Rank = len(out) + 1
		out = append(out, n)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// rankKey sorts unranked entries after ranked ones.
func rankKey(rank int) int {
	if rank <= 0 {
		return math.MaxInt
	}
	return rank
}

func nameOf(v any, fallback string) string {
	if t, ok := v.(tool.Tool); ok {
		return t.Name()
	}
	return fallback
}
