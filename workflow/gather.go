package workflow

import (
	"cmp"
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dshills/dxgraph/evidence"
	"github.com/dshills/dxgraph/graph/emit"
	"golang.org/x/sync/errgroup"
)

// Evidence gathering defaults.
const (
	DefaultMaxContent        = 1500
	DefaultSearchConcurrency = 4
)

// Source is a Searcher with its per-cycle result window: a search at depth
// d asks for PerDepth*d hits.
type Source struct {
	Searcher Searcher
	PerDepth int
}

// EvidenceGather searches every source for every candidate and adds the new
// hits to the evidence set.
//
// Searches run concurrently but their hits are added in candidate, source,
// hit order, so the evidence positions do not depend on timing. A failed
// search is reported as a search_failed event and contributes nothing.
// Content longer than MaxContent is condensed by Condenser when one is set,
// and cut otherwise.
type EvidenceGather struct {
	Sources     []Source
	Condenser   TextGenerator
	MaxContent  int
	Concurrency int
	Events      emit.Emitter
}

func (n *EvidenceGather) Run(ctx context.Context, s CaseState) result {
	if len(s.Candidates) == 0 || len(n.Sources) == 0 {
		return result{}
	}
	depth := max(s.Depth, 1)

	found := make([][][]evidence.Item, len(s.Candidates))
	var g errgroup.Group
	g.SetLimit(cmp.Or(n.Concurrency, DefaultSearchConcurrency))
	for i, c := range s.Candidates {
		found[i] = make([][]evidence.Item, len(n.Sources))
		for j, src := range n.Sources {
			g.Go(func() error {
				found[i][j] = n.search(ctx, s.Evidence, c, src, depth)
				return nil
			})
		}
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return result{Err: err}
	}

	var added evidence.Set
	for _, perSource := range found {
		for _, items := range perSource {
			for _, it := range items {
				added.Add(it)
			}
		}
	}
	return result{Delta: CaseState{Evidence: added}}
}

func (n *EvidenceGather) search(ctx context.Context, known evidence.Set, c Candidate, src Source, depth int) []evidence.Item {
	if ctx.Err() != nil {
		return nil
	}
	limit := max(src.PerDepth, 1) * depth
	name := src.Searcher.Name()

	hits, err := src.Searcher.Search(ctx, c.Name, limit)
	if err != nil {
		cerr := &CollaboratorError{Collaborator: name, Err: err}
		trace(ctx, n.Events, "search_failed", map[string]interface{}{
			"source":    name,
			"candidate": c.Name,
			"error":     cerr.Error(),
		})
		return nil
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}

	items := make([]evidence.Item, 0, len(hits))
	for _, h := range hits {
		url := strings.TrimSpace(h.URL)
		if url == "" || known.Contains(url) {
			continue
		}
		items = append(items, evidence.Item{
			Title:       h.Title,
			URL:         url,
			Content:     fmt.Sprintf("[Source: %s] %s", name, n.condense(ctx, c.Name, h.Content)),
			DiseaseName: c.Name,
		})
	}
	return items
}

func (n *EvidenceGather) condense(ctx context.Context, name, content string) string {
	budget := cmp.Or(n.MaxContent, DefaultMaxContent)
	if len(content) <= budget {
		return content
	}
	if n.Condenser != nil {
		short, err := n.Condenser.Complete(ctx, condensePrompt(name, content, budget))
		if err == nil && short != "" {
			return truncate(short, budget)
		}
		if err != nil {
			trace(ctx, n.Events, "condense_failed", map[string]interface{}{"candidate": name, "error": err.Error()})
		}
	}
	return truncate(content, budget)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
