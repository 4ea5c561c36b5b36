package workflow

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/dshills/dxgraph/evidence"
	"github.com/dshills/dxgraph/graph/emit"
	"golang.org/x/sync/errgroup"
)

// DefaultJudgeConcurrency bounds concurrent judgement calls.
const DefaultJudgeConcurrency = 4

// Judge asks the model, candidate by candidate, whether the gathered
// evidence supports the diagnosis. Judgements keep candidate order. Any
// failure aborts the run.
//
// Judge also emits a verdict event naming where the run goes next and why.
type Judge struct {
	Gen         Generator
	Concurrency int
	Events      emit.Emitter
}

func (n *Judge) Run(ctx context.Context, s CaseState) result {
	if len(s.Candidates) == 0 {
		n.verdict(ctx, s, nil)
		return result{}
	}

	judgements := make([]Judgement, len(s.Candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cmp.Or(n.Concurrency, DefaultJudgeConcurrency))
	for i, c := range s.Candidates {
		g.Go(func() error {
			prompt := judgementPrompt(s, c)
			trace(gctx, n.Events, "prompt", map[string]interface{}{
				"shape":     judgementShape.Name,
				"candidate": c.Name,
				"prompt":    prompt,
			})

			var reply judgementReply
			if err := n.Gen.Generate(gctx, prompt, judgementShape, &reply); err != nil {
				return fmt.Errorf("judge %q: %w", c.Name, err)
			}
			cites, sources := citedEvidence(reply.Citations, s.Evidence, c.Name)
			judgements[i] = Judgement{
				CandidateName: c.Name,
				Accepted:      reply.Accepted,
				Summary:       reply.Summary,
				Analysis:      reply.Analysis,
				Citations:     cites,
				Sources:       sources,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result{Err: err}
	}
	n.verdict(ctx, s, judgements)
	return result{Delta: CaseState{Judgements: judgements}}
}

// verdict reports the decision the router will take once judgements are
// merged, so that the reason shows up next to the route event.
func (n *Judge) verdict(ctx context.Context, s CaseState, judgements []Judgement) {
	s.Judgements = judgements
	v := AfterJudgement(s)
	accepted := 0
	for _, j := range judgements {
		if j.Accepted {
			accepted++
		}
	}
	trace(ctx, n.Events, "verdict", map[string]interface{}{
		"depth":    s.Depth,
		"next":     v.Next,
		"reason":   v.Reason,
		"accepted": accepted,
		"judged":   len(judgements),
	})
}

// citedEvidence keeps the citation numbers that were shown in the prompt for
// name, dropping repeats, and returns the URLs they point at.
func citedEvidence(cites []int, ev evidence.Set, name string) ([]int, []string) {
	shown := make(map[int]string)
	for pos, it := range ev.FilterByCandidate(name) {
		shown[pos] = it.URL
	}
	var positions []int
	var urls []string
	for _, c := range cites {
		url, ok := shown[c]
		if !ok || slices.Contains(positions, c) {
			continue
		}
		positions = append(positions, c)
		urls = append(urls, url)
	}
	return positions, urls
}
