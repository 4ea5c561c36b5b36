package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dshills/dxgraph/graph/emit"
	"github.com/dshills/dxgraph/graph/model"
	"github.com/dshills/dxgraph/graph/store"
	"github.com/google/go-cmp/cmp"
)

type harness struct {
	gen     *fakeGen
	lookup  *fakeLookup
	matcher *fakeMatcher
	wiki    *fakeSearcher
	events  *emit.BufferedEmitter
	store   *store.MemStore[CaseState]
}

func newHarness() *harness {
	return &harness{
		gen:     newFakeGen(),
		lookup:  &fakeLookup{},
		matcher: &fakeMatcher{},
		wiki:    &fakeSearcher{name: "wikipedia"},
		events:  emit.NewBufferedEmitter(),
		store:   store.NewMemStore[CaseState](),
	}
}

func (h *harness) build(t *testing.T, opts ...Option) *Workflow {
	t.Helper()
	norm := testNormalizer(t, 0.75)
	wf, err := New(Deps{
		Generator:  h.gen,
		Phenotype:  h.lookup,
		Image:      h.matcher,
		Sources:    []Source{{Searcher: h.wiki, PerDepth: 5}},
		Labels:     fakeLabels{"HP:0001166": "Arachnodactyly"},
		Normalizer: norm,
	}, append([]Option{WithEmitter(h.events), WithStore(h.store)}, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	return wf
}

func (h *harness) reasons(runID string) []string {
	var out []string
	for _, e := range h.events.GetHistoryWithFilter(runID, emit.HistoryFilter{Msg: "verdict"}) {
		out = append(out, e.Meta["reason"].(string))
	}
	return out
}

var marfanCase = Input{
	RunID:        "case-1",
	Features:     []string{"HP:0001166"},
	ImagePath:    "face.png",
	ClinicalText: "tall stature",
}

func TestWorkflow_AcceptedInFirstCycle(t *testing.T) {
	h := newHarness()
	h.lookup.matches = []PhenotypeMatch{{Name: "Disease X", Score: 0.8}}
	h.matcher.matches = []ImageMatch{{Name: "Disease Y", Score: 0.5}}
	h.gen.
		on(generativeShape.Name, diseases("Disease Z")).
		on(synthesisShape.Name, ranking("Disease X", "Disease Y", "Disease Z")).
		on(judgementShape.Name, judgeAccepting("Disease X")).
		on(finalShape.Name, ranking("Disease X"))

	res, err := h.build(t).Run(t.Context(), marfanCase)
	if err != nil {
		t.Fatal(err)
	}

	want := []Candidate{{Name: "Disease X", NormalizedID: "OMIM:100", Rank: 1}}
	if diff := cmp.Diff(want, res.Candidates); diff != "" {
		t.Errorf("final (-want +got):\n%s", diff)
	}
	if res.State.Depth != 1 {
		t.Errorf("depth = %d, want 1", res.State.Depth)
	}
	if diff := cmp.Diff([]string{ReasonAccepted}, h.reasons("case-1")); diff != "" {
		t.Errorf("verdicts (-want +got):\n%s", diff)
	}
	if res.State.Evidence.Len() != 3 {
		t.Errorf("evidence len = %d, want one hit per candidate", res.State.Evidence.Len())
	}
	if h.events.Count("case-1", "run_complete") != 1 {
		t.Error("run_complete not emitted")
	}

	// Labels reach the prompts.
	if p := h.gen.promptsFor(judgementShape.Name)[0]; !strings.Contains(p, "Arachnodactyly (HP:0001166)") {
		t.Errorf("judgement prompt lacks feature label:\n%s", p)
	}
	if p := h.gen.promptsFor(finalShape.Name)[0]; !strings.Contains(p, "tall stature") {
		t.Errorf("final prompt lacks clinical text:\n%s", p)
	}
}

func TestWorkflow_AllRejectedLoopsUntilCap(t *testing.T) {
	h := newHarness()
	h.lookup.matches = []PhenotypeMatch{{Name: "Disease X"}}
	h.matcher.matches = []ImageMatch{{Name: "Disease Y"}, {Name: "Disease Z"}}
	h.gen.
		on(generativeShape.Name, diseases("Disease Z")).
		on(synthesisShape.Name, ranking("Disease X", "Disease Y")).
		on(judgementShape.Name, judgeAccepting()).
		on(finalShape.Name, ranking())

	res, err := h.build(t).Run(t.Context(), marfanCase)
	if err != nil {
		t.Fatal(err)
	}

	if res.State.Depth != 3 {
		t.Errorf("depth = %d, want 3", res.State.Depth)
	}
	want := []string{ReasonAllRejected, ReasonAllRejected, ReasonCycleLimit}
	if diff := cmp.Diff(want, h.reasons("case-1")); diff != "" {
		t.Errorf("verdicts (-want +got):\n%s", diff)
	}
	if got := h.events.GetHistoryWithFilter("case-1", emit.HistoryFilter{NodeID: NodeEntry, Msg: "node_start"}); len(got) != 3 {
		t.Errorf("entry ran %d times, want 3", len(got))
	}

	// The final fallback keeps every candidate when none was accepted.
	if diff := cmp.Diff([]string{"Disease X", "Disease Y"}, names(res.Candidates)); diff != "" {
		t.Errorf("final (-want +got):\n%s", diff)
	}

	// Generative output is reused; the image window widens per cycle.
	if n := h.gen.calls(generativeShape.Name); n != 1 {
		t.Errorf("generative branch called the model %d times, want 1", n)
	}
	if diff := cmp.Diff([]int{5, 6, 7}, h.matcher.limits); diff != "" {
		t.Errorf("image limits (-want +got):\n%s", diff)
	}

	// The depth recorded at each entry step increases by one.
	steps, err := h.store.Steps(t.Context(), "case-1")
	if err != nil {
		t.Fatal(err)
	}
	var depths []int
	for _, st := range steps {
		if st.NodeID == NodeEntry {
			depths = append(depths, st.State.Depth)
		}
	}
	if diff := cmp.Diff([]int{1, 2, 3}, depths); diff != "" {
		t.Errorf("entry depths (-want +got):\n%s", diff)
	}
}

func TestWorkflow_EmptyAndFailingBranches(t *testing.T) {
	h := newHarness()
	h.lookup.err = errors.New("service unavailable")
	h.gen.
		on(generativeShape.Name, diseases("Disease X")).
		on(judgementShape.Name, judgeAccepting("Disease X")).
		on(finalShape.Name, ranking())

	in := marfanCase
	in.ImagePath = ""
	res, err := h.build(t, WithRankFusion(), WithBranchAttempts(1)).Run(t.Context(), in)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]string{"Disease X"}, names(res.Candidates)); diff != "" {
		t.Errorf("final (-want +got):\n%s", diff)
	}
	if n := h.events.Count("case-1", "branch_failed"); n != 1 {
		t.Errorf("branch_failed events = %d, want 1", n)
	}
	if h.gen.calls(synthesisShape.Name) != 0 {
		t.Error("rank fusion still asked the model to synthesize")
	}
}

func TestWorkflow_NoCandidatesEndsEmpty(t *testing.T) {
	h := newHarness()
	h.gen.on(generativeShape.Name, diseases())

	in := marfanCase
	in.ImagePath = ""
	res, err := h.build(t).Run(t.Context(), in)
	if err != nil {
		t.Fatal(err)
	}

	if res.Candidates == nil || len(res.Candidates) != 0 {
		t.Errorf("candidates = %#v, want empty non-nil", res.Candidates)
	}
	want := []string{ReasonNoJudgements, ReasonNoJudgements, ReasonCycleLimit}
	if diff := cmp.Diff(want, h.reasons("case-1")); diff != "" {
		t.Errorf("verdicts (-want +got):\n%s", diff)
	}
}

func TestWorkflow_RejectionNoteAt070(t *testing.T) {
	h := newHarness()
	h.lookup.matches = []PhenotypeMatch{{Name: "Disease Q"}}
	h.gen.
		on(generativeShape.Name, diseases("Disease X")).
		on(synthesisShape.Name, ranking("Disease Q", "Disease X")).
		on(judgementShape.Name, judgeAccepting("Disease X")).
		on(finalShape.Name, ranking("Disease X"))

	res, err := h.build(t).Run(t.Context(), marfanCase)
	if err != nil {
		t.Fatal(err)
	}

	if len(res.State.Notes) != 1 || res.State.Notes[0].Input != "Disease Q" {
		t.Fatalf("notes = %+v", res.State.Notes)
	}
	if !strings.Contains(res.State.Notes[0].String(), "< 0.75") {
		t.Errorf("note = %s", res.State.Notes[0])
	}
	if h.gen.calls(judgementShape.Name) != 1 {
		t.Errorf("rejected candidate was judged")
	}
	if n := h.events.Count("case-1", "normalization_rejected"); n != 1 {
		t.Errorf("normalization_rejected events = %d, want 1", n)
	}
}

func TestWorkflow_DuplicateURLsAcrossCycles(t *testing.T) {
	h := newHarness()
	h.lookup.matches = []PhenotypeMatch{{Name: "Disease X"}}
	h.wiki.hits = map[string][]Hit{"Disease X": {
		{Title: "X", URL: "https://en.wikipedia.org/wiki/X", Content: "about X"},
		{Title: "X again", URL: "https://en.wikipedia.org/wiki/X "},
	}}
	h.gen.
		on(generativeShape.Name, diseases()).
		on(synthesisShape.Name, ranking("Disease X")).
		on(judgementShape.Name, judgeAccepting()).
		on(finalShape.Name, ranking())

	res, err := h.build(t).Run(t.Context(), marfanCase)
	if err != nil {
		t.Fatal(err)
	}

	if res.State.Depth != 3 {
		t.Fatalf("depth = %d, want 3", res.State.Depth)
	}
	if n := res.State.Evidence.Len(); n != 1 {
		t.Errorf("evidence len = %d after three cycles, want 1", n)
	}
	for i, p := range h.gen.promptsFor(judgementShape.Name) {
		if !strings.Contains(p, "[1] X\n") || strings.Contains(p, "[2]") {
			t.Errorf("judgement %d saw duplicated evidence:\n%s", i, p)
		}
	}
}

func TestWorkflow_FanOutOrderIndependence(t *testing.T) {
	run := func(phenoDelay, imageDelay time.Duration) CaseState {
		h := newHarness()
		h.lookup.matches = []PhenotypeMatch{{Name: "Disease X"}}
		h.lookup.delay = phenoDelay
		h.matcher.matches = []ImageMatch{{Name: "Disease Y"}}
		h.matcher.delay = imageDelay
		h.gen.
			on(generativeShape.Name, diseases("Disease Z")).
			on(judgementShape.Name, judgeAccepting("Disease Y")).
			on(finalShape.Name, ranking())
		res, err := h.build(t, WithRankFusion()).Run(t.Context(), marfanCase)
		if err != nil {
			t.Fatal(err)
		}
		return res.State
	}

	a := run(30*time.Millisecond, 0)
	b := run(0, 30*time.Millisecond)

	if diff := cmp.Diff(a.Branches, b.Branches); diff != "" {
		t.Errorf("branch results differ (-a +b):\n%s", diff)
	}
	if diff := cmp.Diff(a.FinalResult, b.FinalResult); diff != "" {
		t.Errorf("final results differ (-a +b):\n%s", diff)
	}
	if diff := cmp.Diff(urlsOf(a.Evidence), urlsOf(b.Evidence)); diff != "" {
		t.Errorf("evidence differs (-a +b):\n%s", diff)
	}
}

func TestWorkflow_JudgeFailureIsStageError(t *testing.T) {
	h := newHarness()
	h.lookup.matches = []PhenotypeMatch{{Name: "Disease X"}}
	h.gen.
		on(generativeShape.Name, diseases()).
		on(synthesisShape.Name, ranking("Disease X")).
		on(judgementShape.Name, func(string) (any, error) {
			return nil, &model.StructuredOutputError{Shape: judgementShape.Name, Attempts: 3, Err: errors.New("not json")}
		})

	_, err := h.build(t).Run(t.Context(), marfanCase)

	var se *StageError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want StageError", err)
	}
	if se.Stage != NodeJudge || se.Depth != 1 {
		t.Errorf("stage error = %+v", se)
	}
	var soe *model.StructuredOutputError
	if !errors.As(err, &soe) {
		t.Errorf("cause lost: %v", err)
	}
}

func TestWorkflow_Cancellation(t *testing.T) {
	h := newHarness()
	h.lookup.matches = []PhenotypeMatch{{Name: "Disease X"}}
	h.lookup.delay = time.Second
	h.gen.on(generativeShape.Name, diseases())

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	_, err := h.build(t).Run(ctx, marfanCase)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestWorkflow_CheckpointAndResume(t *testing.T) {
	h := newHarness()
	h.lookup.matches = []PhenotypeMatch{{Name: "Disease X"}}
	h.gen.
		on(generativeShape.Name, diseases()).
		on(synthesisShape.Name, ranking("Disease X")).
		on(judgementShape.Name, judgeAccepting("Disease X")).
		on(finalShape.Name, ranking("Disease X"))
	wf := h.build(t)

	if _, err := wf.Run(t.Context(), marfanCase); err != nil {
		t.Fatal(err)
	}
	if err := wf.Checkpoint(t.Context(), "case-1", "cp"); err != nil {
		t.Fatal(err)
	}
	res, err := wf.Resume(t.Context(), "cp", "case-1-resumed")
	if err != nil {
		t.Fatal(err)
	}

	if res.State.Depth != 2 {
		t.Errorf("resumed depth = %d, want 2", res.State.Depth)
	}
	if diff := cmp.Diff([]string{"Disease X"}, names(res.Candidates)); diff != "" {
		t.Errorf("final (-want +got):\n%s", diff)
	}
	history, err := wf.History(t.Context(), "case-1-resumed")
	if err != nil || len(history) == 0 {
		t.Errorf("history = %d steps, err %v", len(history), err)
	}
}

func TestWorkflow_ResumeAtCapGoesToFinal(t *testing.T) {
	h := newHarness()
	h.lookup.matches = []PhenotypeMatch{{Name: "Disease X"}}
	h.gen.
		on(generativeShape.Name, diseases()).
		on(synthesisShape.Name, ranking("Disease X")).
		on(judgementShape.Name, judgeAccepting()).
		on(finalShape.Name, ranking("Disease X"))
	wf := h.build(t)

	first, err := wf.Run(t.Context(), marfanCase)
	if err != nil {
		t.Fatal(err)
	}
	if first.State.Depth != 3 {
		t.Fatalf("first run depth = %d, want 3", first.State.Depth)
	}
	if err := wf.Checkpoint(t.Context(), "case-1", "cp"); err != nil {
		t.Fatal(err)
	}
	res, err := wf.Resume(t.Context(), "cp", "case-1-resumed")
	if err != nil {
		t.Fatal(err)
	}

	if res.State.Depth != 3 {
		t.Errorf("resumed depth = %d, want 3", res.State.Depth)
	}
	if got := h.events.GetHistoryWithFilter("case-1-resumed", emit.HistoryFilter{NodeID: NodeEntry, Msg: "node_start"}); len(got) != 0 {
		t.Errorf("entry ran %d times after resume, want 0", len(got))
	}
	if got := h.events.GetHistoryWithFilter("case-1-resumed", emit.HistoryFilter{NodeID: NodeFinalSynthesize, Msg: "node_start"}); len(got) != 1 {
		t.Errorf("final synthesis ran %d times after resume, want 1", len(got))
	}
	if diff := cmp.Diff([]string{"Disease X"}, names(res.Candidates)); diff != "" {
		t.Errorf("final (-want +got):\n%s", diff)
	}
}

func TestNew_Validation(t *testing.T) {
	norm := testNormalizer(t, 0.75)
	tests := []struct {
		name string
		deps Deps
	}{
		{"no generator", Deps{Normalizer: norm}},
		{"no normalizer", Deps{Generator: newFakeGen()}},
		{"nil searcher", Deps{Generator: newFakeGen(), Normalizer: norm, Sources: []Source{{PerDepth: 1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New succeeded")
			}
		})
	}
}
