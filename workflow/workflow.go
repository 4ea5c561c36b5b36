package workflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dshills/dxgraph/graph"
	"github.com/dshills/dxgraph/graph/emit"
	"github.com/dshills/dxgraph/graph/store"
	"github.com/dshills/dxgraph/normalize"
	"github.com/google/uuid"
)

// Node ids.
const (
	NodeEntry           = "entry"
	NodePhenotype       = "phenotype"
	NodeImage           = "image"
	NodeGenerative      = "generative"
	NodeSynthesize      = "synthesize"
	NodeNormalize       = "normalize"
	NodeEvidence        = "evidence"
	NodeJudge           = "judge"
	NodeFinalSynthesize = "final_synthesize"
	NodeFinalNormalize  = "final_normalize"
)

// stepsPerCycle counts Entry, the three branches and the four nodes that
// follow the join.
const stepsPerCycle = 8

// Deps are the collaborators a Workflow calls. Generator and Normalizer are
// required; a missing lookup, matcher or source leaves its contribution
// empty.
type Deps struct {
	Generator Generator
	Condenser TextGenerator
	Phenotype PhenotypeLookup
	Image     ImageMatcher
	Sources   []Source
	Labels    LabelResolver

	Normalizer *normalize.Normalizer
	// FinalNormalizer defaults to Normalizer.
	FinalNormalizer *normalize.Normalizer
}

// Limits bounds result windows. Zero fields take the package defaults.
type Limits struct {
	Phenotype  int
	ImageBase  int
	Generative int
	Candidates int
	// Final caps the final differential; zero keeps every candidate.
	Final      int
	MaxContent int
}

type settings struct {
	store             store.Store[CaseState]
	emitter           emit.Emitter
	metrics           *graph.PrometheusMetrics
	cost              *graph.CostTracker
	maxConcurrent     int
	nodeTimeout       time.Duration
	runBudget         time.Duration
	limits            Limits
	searchConcurrency int
	judgeConcurrency  int
	branchAttempts    int
	rankFusion        bool
}

// Option configures a Workflow.
type Option func(*settings)

// WithStore persists every step to st. The default is an in-memory store.
func WithStore(st store.Store[CaseState]) Option {
	return func(s *settings) { s.store = st }
}

// WithEmitter sends engine and node events to em.
func WithEmitter(em emit.Emitter) Option {
	return func(s *settings) { s.emitter = em }
}

// WithMetrics records engine metrics.
func WithMetrics(m *graph.PrometheusMetrics) Option {
	return func(s *settings) { s.metrics = m }
}

// WithCostTracker reports token usage and cost in the run_complete event.
// The model adapters must be given the same tracker as their recorder.
func WithCostTracker(ct *graph.CostTracker) Option {
	return func(s *settings) { s.cost = ct }
}

// WithMaxConcurrent bounds the number of branches running at once.
func WithMaxConcurrent(n int) Option {
	return func(s *settings) { s.maxConcurrent = n }
}

// WithNodeTimeout bounds each node attempt.
func WithNodeTimeout(d time.Duration) Option {
	return func(s *settings) { s.nodeTimeout = d }
}

// WithRunBudget bounds a whole run.
func WithRunBudget(d time.Duration) Option {
	return func(s *settings) { s.runBudget = d }
}

// WithLimits overrides the result windows.
func WithLimits(l Limits) Option {
	return func(s *settings) { s.limits = l }
}

// WithConcurrency bounds concurrent evidence searches and judgements.
func WithConcurrency(search, judge int) Option {
	return func(s *settings) { s.searchConcurrency, s.judgeConcurrency = search, judge }
}

// WithBranchAttempts sets how often a branch lookup is tried when it fails
// with a transient error.
func WithBranchAttempts(n int) Option {
	return func(s *settings) { s.branchAttempts = max(n, 1) }
}

// WithRankFusion merges branch results by reciprocal-rank fusion instead of
// asking the model.
func WithRankFusion() Option {
	return func(s *settings) { s.rankFusion = true }
}

// Input is one case to diagnose.
type Input struct {
	// RunID identifies the run in events and the store. A random id is
	// used when empty.
	RunID          string
	Features       []string
	AbsentFeatures []string
	ImagePath      string
	ClinicalText   string
}

// Result is the outcome of a successful run.
type Result struct {
	RunID      string
	Candidates []Candidate
	State      CaseState
}

// Workflow is a compiled diagnostic graph. It is safe for concurrent runs.
type Workflow struct {
	engine *graph.Engine[CaseState]
	store  store.Store[CaseState]
	labels LabelResolver
}

// New builds and compiles the graph.
func New(deps Deps, opts ...Option) (*Workflow, error) {
	if deps.Generator == nil {
		return nil, errors.New("workflow: a Generator is required")
	}
	if deps.Normalizer == nil {
		return nil, errors.New("workflow: a Normalizer is required")
	}
	for i, src := range deps.Sources {
		if src.Searcher == nil {
			return nil, fmt.Errorf("workflow: source %d has no Searcher", i)
		}
	}
	final := deps.FinalNormalizer
	if final == nil {
		final = deps.Normalizer
	}

	cfg := settings{
		store:          store.NewMemStore[CaseState](),
		emitter:        emit.NewNullEmitter(),
		branchAttempts: 2,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	engine := graph.New(MergeCase, cfg.store, cfg.emitter,
		graph.WithStateFields(stateFields...),
		graph.WithMaxSteps((MaxDepth+1)*stepsPerCycle+2),
		graph.WithMaxConcurrent(cfg.maxConcurrent),
		graph.WithDefaultNodeTimeout(cfg.nodeTimeout),
		graph.WithRunWallClockBudget(cfg.runBudget),
		graph.WithMetrics(cfg.metrics),
		graph.WithCostTracker(cfg.cost),
	)

	lookupPolicy := graph.WithPolicy(graph.NodePolicy{RetryPolicy: &graph.RetryPolicy{
		MaxAttempts: cfg.branchAttempts,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Retryable:   retryable,
	}})

	synthGen := deps.Generator
	if cfg.rankFusion {
		synthGen = nil
	}
	l := cfg.limits

	nodes := []struct {
		id   string
		node graph.Node[CaseState]
		opts []graph.NodeOption
	}{
		{NodeEntry, Entry{}, []graph.NodeOption{graph.Writes(FieldDepth, FieldCandidates, FieldJudgements)}},
		{NodePhenotype, &PhenotypeBranch{Lookup: deps.Phenotype, Limit: l.Phenotype},
			[]graph.NodeOption{graph.Writes(FieldPhenotypeResults), lookupPolicy}},
		{NodeImage, &ImageBranch{Matcher: deps.Image, BaseLimit: l.ImageBase},
			[]graph.NodeOption{graph.Writes(FieldImageResults), lookupPolicy}},
		{NodeGenerative, &GenerativeBranch{Gen: deps.Generator, Limit: l.Generative, Events: cfg.emitter},
			[]graph.NodeOption{graph.Writes(FieldGenerative)}},
		{NodeSynthesize, &Synthesize{Gen: synthGen, Limit: l.Candidates, Events: cfg.emitter},
			[]graph.NodeOption{graph.Writes(FieldCandidates)}},
		{NodeNormalize, &Normalize{Normalizer: deps.Normalizer, Events: cfg.emitter},
			[]graph.NodeOption{graph.Writes(FieldCandidates, FieldNotes)}},
		{NodeEvidence, &EvidenceGather{
			Sources:     deps.Sources,
			Condenser:   deps.Condenser,
			MaxContent:  l.MaxContent,
			Concurrency: cfg.searchConcurrency,
			Events:      cfg.emitter,
		}, []graph.NodeOption{graph.Writes(FieldEvidence)}},
		{NodeJudge, &Judge{Gen: deps.Generator, Concurrency: cfg.judgeConcurrency, Events: cfg.emitter},
			[]graph.NodeOption{graph.Writes(FieldJudgements)}},
		{NodeFinalSynthesize, &FinalSynthesize{Gen: deps.Generator, Limit: l.Final, Events: cfg.emitter},
			[]graph.NodeOption{graph.Writes(FieldFinalResult)}},
		{NodeFinalNormalize, &Normalize{Normalizer: final, Final: true, Events: cfg.emitter},
			[]graph.NodeOption{graph.Writes(FieldFinalResult, FieldNotes)}},
	}
	for _, n := range nodes {
		if err := engine.Add(n.id, n.node, n.opts...); err != nil {
			return nil, err
		}
	}

	wiring := []func() error{
		func() error { return engine.StartAt(NodeEntry) },
		func() error {
			return engine.FanOut(NodeEntry, []string{NodePhenotype, NodeImage, NodeGenerative}, NodeSynthesize)
		},
		func() error { return engine.Connect(NodeSynthesize, NodeNormalize, nil) },
		func() error { return engine.Connect(NodeNormalize, NodeEvidence, nil) },
		func() error { return engine.Connect(NodeEvidence, NodeJudge, nil) },
		func() error {
			return engine.Branch(NodeJudge, func(s CaseState) string { return AfterJudgement(s).Next },
				NodeEntry, NodeFinalSynthesize)
		},
		func() error { return engine.Connect(NodeFinalSynthesize, NodeFinalNormalize, nil) },
		func() error { return engine.Connect(NodeFinalNormalize, graph.End, nil) },
		engine.Compile,
	}
	for _, step := range wiring {
		if err := step(); err != nil {
			return nil, fmt.Errorf("workflow: build graph: %w", err)
		}
	}

	return &Workflow{engine: engine, store: cfg.store, labels: deps.Labels}, nil
}

// Run diagnoses one case. Feature labels are resolved before the first
// step. A node failure is returned as *StageError; cancellation as
// ctx.Err().
func (w *Workflow) Run(ctx context.Context, in Input) (Result, error) {
	runID := in.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	initial := CaseState{
		InputFeatures:  slices.Clone(in.Features),
		AbsentFeatures: slices.Clone(in.AbsentFeatures),
		ImagePath:      in.ImagePath,
		ClinicalText:   in.ClinicalText,
	}
	if w.labels != nil {
		ids := append(slices.Clone(in.Features), in.AbsentFeatures...)
		labels, err := w.labels.Labels(ctx, ids)
		if err != nil {
			return Result{RunID: runID}, fmt.Errorf("resolve feature labels: %w", err)
		}
		initial.FeatureLabels = labels
	}

	final, err := w.engine.Run(ctx, runID, initial)
	if err != nil {
		return Result{RunID: runID}, w.stageError(ctx, runID, err)
	}
	return Result{RunID: runID, Candidates: final.FinalResult, State: final}, nil
}

// Checkpoint labels the latest persisted state of runID.
func (w *Workflow) Checkpoint(ctx context.Context, runID, cpID string) error {
	return w.engine.SaveCheckpoint(ctx, runID, cpID)
}

// Resume starts a new run from a checkpoint, beginning a fresh cycle at
// Entry. The depth carried by the checkpoint still counts toward the cap: a
// checkpoint that already reached it goes straight to FinalSynthesize.
func (w *Workflow) Resume(ctx context.Context, cpID, newRunID string) (Result, error) {
	if newRunID == "" {
		newRunID = uuid.NewString()
	}
	start := NodeEntry
	if st, _, err := w.store.LoadCheckpoint(ctx, cpID); err == nil && DepthCapReached(st.Depth) {
		start = NodeFinalSynthesize
	}
	final, err := w.engine.ResumeFromCheckpoint(ctx, cpID, newRunID, start)
	if err != nil {
		return Result{RunID: newRunID}, w.stageError(ctx, newRunID, err)
	}
	return Result{RunID: newRunID, Candidates: final.FinalResult, State: final}, nil
}

// History returns the persisted steps of runID.
func (w *Workflow) History(ctx context.Context, runID string) ([]store.StepRecord[CaseState], error) {
	return w.store.Steps(ctx, runID)
}

func (w *Workflow) stageError(ctx context.Context, runID string, err error) error {
	var ne *graph.NodeError
	if !errors.As(err, &ne) {
		return err
	}
	depth := ne.Cycle
	if st, _, lerr := w.store.LoadLatest(ctx, runID); lerr == nil {
		depth = st.Depth
	}
	return &StageError{Stage: ne.NodeID, Depth: depth, Err: ne.Cause}
}
