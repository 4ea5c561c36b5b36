package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dshills/dxgraph/graph/model"
	"github.com/dshills/dxgraph/normalize"
)

// fakeGen answers Generate calls with a function per shape name and decodes
// the answer through JSON, as the structured generator does.
type fakeGen struct {
	mu      sync.Mutex
	replies map[string]func(prompt string) (any, error)
	prompts map[string][]string
}

func newFakeGen() *fakeGen {
	return &fakeGen{
		replies: make(map[string]func(string) (any, error)),
		prompts: make(map[string][]string),
	}
}

func (g *fakeGen) on(shape string, fn func(prompt string) (any, error)) *fakeGen {
	g.replies[shape] = fn
	return g
}

func (g *fakeGen) Generate(ctx context.Context, prompt string, shape *model.Shape, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	g.prompts[shape.Name] = append(g.prompts[shape.Name], prompt)
	fn := g.replies[shape.Name]
	g.mu.Unlock()

	if fn == nil {
		return fmt.Errorf("fakeGen: no reply for shape %s", shape.Name)
	}
	v, err := fn(prompt)
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (g *fakeGen) calls(shape string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts[shape])
}

func (g *fakeGen) promptsFor(shape string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.prompts[shape]...)
}

func ranking(names ...string) func(string) (any, error) {
	return func(string) (any, error) {
		var r rankingReply
		for i, n := range names {
			r.Candidates = append(r.Candidates, rankedCandidate{Name: n, Rank: i + 1})
		}
		return r, nil
	}
}

func diseases(names ...string) func(string) (any, error) {
	return func(string) (any, error) {
		var r generativeReply
		for i, n := range names {
			r.Diseases = append(r.Diseases, RankedName{Name: n, Rank: i + 1})
		}
		return r, nil
	}
}

// judgeAccepting accepts exactly the named candidates.
func judgeAccepting(accepted ...string) func(string) (any, error) {
	return func(prompt string) (any, error) {
		name := candidateIn(prompt)
		for _, a := range accepted {
			if a == name {
				return judgementReply{Accepted: true, Analysis: name + " fits", Citations: []int{1}}, nil
			}
		}
		return judgementReply{Accepted: false, Analysis: name + " does not fit"}, nil
	}
}

func candidateIn(prompt string) string {
	const marker = "Candidate diagnosis: "
	i := strings.Index(prompt, marker)
	if i < 0 {
		return ""
	}
	rest := prompt[i+len(marker):]
	if j := strings.IndexByte(rest, '\n'); j >= 0 {
		rest = rest[:j]
	}
	return rest
}

type fakeLookup struct {
	mu      sync.Mutex
	matches []PhenotypeMatch
	err     error
	delay   time.Duration
	limits  []int
}

func (f *fakeLookup) Lookup(ctx context.Context, _ []string, limit int) ([]PhenotypeMatch, error) {
	f.mu.Lock()
	f.limits = append(f.limits, limit)
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.matches, f.err
}

type fakeMatcher struct {
	mu      sync.Mutex
	matches []ImageMatch
	err     error
	delay   time.Duration
	limits  []int
}

func (f *fakeMatcher) Match(ctx context.Context, _ string, limit int) ([]ImageMatch, error) {
	f.mu.Lock()
	f.limits = append(f.limits, limit)
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if limit < len(f.matches) {
		return f.matches[:limit], f.err
	}
	return f.matches, f.err
}

// fakeSearcher returns hits with URLs derived from the term, unless hits
// are given per term.
type fakeSearcher struct {
	name   string
	hits   map[string][]Hit
	err    error
	delay  map[string]time.Duration
	mu     sync.Mutex
	limits []int
}

func (f *fakeSearcher) Name() string { return f.name }

func (f *fakeSearcher) Search(ctx context.Context, term string, limit int) ([]Hit, error) {
	f.mu.Lock()
	f.limits = append(f.limits, limit)
	f.mu.Unlock()
	if d := f.delay[term]; d > 0 {
		time.Sleep(d)
	}
	if f.err != nil {
		return nil, f.err
	}
	if hits, ok := f.hits[term]; ok {
		return hits, nil
	}
	slug := strings.ReplaceAll(strings.ToLower(term), " ", "-")
	return []Hit{{
		Title:   term + " overview",
		URL:     fmt.Sprintf("https://%s.example/%s", f.name, slug),
		Content: term + " is a rare disease.",
	}}, nil
}

type fakeLabels map[string]string

func (f fakeLabels) Labels(_ context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string)
	for _, id := range ids {
		if l, ok := f[id]; ok {
			out[id] = l
		}
	}
	return out, nil
}

// testNormalizer knows three diseases on orthogonal axes. "Disease Q" sits
// at cosine 0.70 to Disease X and below that to everything else.
func testNormalizer(t *testing.T, threshold float64) *normalize.Normalizer {
	t.Helper()
	catalog, err := normalize.NewCatalog(
		[]string{"OMIM:100", "OMIM:200", "OMIM:300"},
		[]string{"Disease X", "Disease Y", "Disease Z"},
		[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}},
	)
	if err != nil {
		t.Fatal(err)
	}
	q := float32(math.Sqrt(1 - 0.7*0.7))
	embedder := &model.MockEmbedder{Vectors: map[string][]float32{
		"Disease X": {1, 0, 0, 0},
		"disease x": {0.99, 0.01, 0, 0},
		"Disease Y": {0, 1, 0, 0},
		"Disease Z": {0, 0, 1, 0},
		"Disease Q": {0.7, 0, 0, q},
	}}
	n, err := normalize.New(catalog, embedder, normalize.WithThreshold(threshold))
	if err != nil {
		t.Fatal(err)
	}
	return n
}
