package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dshills/dxgraph/config"
	"github.com/dshills/dxgraph/graph"
	"github.com/dshills/dxgraph/graph/emit"
	"github.com/dshills/dxgraph/graph/model"
	"github.com/dshills/dxgraph/graph/model/anthropic"
	"github.com/dshills/dxgraph/graph/model/google"
	"github.com/dshills/dxgraph/graph/model/openai"
	"github.com/dshills/dxgraph/graph/store"
	"github.com/dshills/dxgraph/normalize"
	"github.com/dshills/dxgraph/providers/gestalt"
	"github.com/dshills/dxgraph/providers/hpo"
	"github.com/dshills/dxgraph/providers/pcfmcp"
	"github.com/dshills/dxgraph/providers/pubcasefinder"
	"github.com/dshills/dxgraph/providers/pubmed"
	"github.com/dshills/dxgraph/providers/wikipedia"
	"github.com/dshills/dxgraph/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
)

// app holds a built workflow and everything that must be released with it.
type app struct {
	wf      *workflow.Workflow
	store   store.Store[workflow.CaseState]
	cost    *graph.CostTracker
	logger  *slog.Logger
	closers []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

func newLogger(cfg config.Observability, w io.Writer) *slog.Logger {
	var level slog.Level
	_ = level.UnmarshalText([]byte(cfg.LogLevel))
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// build wires every collaborator named in cfg into a workflow. runID labels
// the cost tracker.
func build(ctx context.Context, cfg config.Config, runID string, logw io.Writer) (*app, error) {
	a := &app{
		logger: newLogger(cfg.Observability, logw),
		cost:   graph.NewCostTracker(runID, "USD"),
	}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	emitter := emitterFor(cfg.Observability, a.logger, logw)

	var registry *prometheus.Registry
	var graphMetrics *graph.PrometheusMetrics
	var normMetrics *normalize.Metrics
	if cfg.Observability.MetricsAddr != "" {
		registry = prometheus.NewRegistry()
		graphMetrics = graph.NewPrometheusMetrics(registry)
		normMetrics = normalize.NewMetrics(registry)
		a.closers = append(a.closers, serveMetrics(cfg.Observability.MetricsAddr, registry, a.logger))
	}

	chat, err := a.chatModel(ctx, cfg.LLM)
	if err != nil {
		return nil, err
	}
	gen := &model.Structured{Model: chat, MaxAttempts: cfg.LLM.MaxAttempts, MaxTokens: cfg.LLM.MaxTokens}

	normalizer, final, err := a.normalizers(ctx, cfg, normMetrics)
	if err != nil {
		return nil, err
	}

	deps := workflow.Deps{
		Generator:       gen,
		Normalizer:      normalizer,
		FinalNormalizer: final,
		Sources:         sources(cfg.Search),
	}
	if cfg.LLM.Condense {
		deps.Condenser = &model.Text{Model: chat, MaxTokens: 400,
			System: "Condense the passage to the facts relevant to diagnosing the named disease."}
	}
	if deps.Phenotype, err = a.phenotype(ctx, cfg.Phenotype); err != nil {
		return nil, err
	}
	if cfg.Image.Enabled() {
		if deps.Image, err = gestalt.New(cfg.Image.Endpoint, cfg.Image.User, cfg.Image.Password); err != nil {
			return nil, err
		}
	}
	if cfg.Labels != "" {
		if deps.Labels, err = hpo.Load(cfg.Labels); err != nil {
			return nil, err
		}
	}

	if a.store, err = a.openStore(cfg.Store); err != nil {
		return nil, err
	}

	opts := []workflow.Option{
		workflow.WithStore(a.store),
		workflow.WithEmitter(emitter),
		workflow.WithMetrics(graphMetrics),
		workflow.WithCostTracker(a.cost),
		workflow.WithMaxConcurrent(cfg.Engine.MaxConcurrent),
		workflow.WithNodeTimeout(time.Duration(cfg.Engine.NodeTimeout)),
		workflow.WithRunBudget(time.Duration(cfg.Engine.RunBudget)),
		workflow.WithBranchAttempts(cfg.Engine.BranchAttempts),
		workflow.WithConcurrency(cfg.Search.Concurrency, cfg.Engine.JudgeConcurrency),
		workflow.WithLimits(workflow.Limits{
			Phenotype:  cfg.Phenotype.Limit,
			ImageBase:  cfg.Image.BaseLimit,
			Generative: cfg.Engine.GenerativeLimit,
			Candidates: cfg.Engine.Candidates,
			Final:      cfg.Engine.FinalCandidates,
			MaxContent: cfg.Search.MaxContent,
		}),
	}
	if cfg.Engine.RankFusion {
		opts = append(opts, workflow.WithRankFusion())
	}

	if a.wf, err = workflow.New(deps, opts...); err != nil {
		return nil, err
	}
	ok = true
	return a, nil
}

func emitterFor(cfg config.Observability, logger *slog.Logger, w io.Writer) emit.Emitter {
	var base emit.Emitter
	switch cfg.LogFormat {
	case "text":
		base = emit.NewLogEmitter(w, false)
	case "json":
		base = emit.NewLogEmitter(w, true)
	default:
		base = emit.NewSlogEmitter(logger)
	}
	if !cfg.Tracing {
		return base
	}
	// Spans go to whatever TracerProvider the environment installed.
	return emit.Multi(base, emit.NewOTelEmitter(otel.Tracer("dxgraph")))
}

func serveMetrics(addr string, registry *prometheus.Registry, logger *slog.Logger) func() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}

func (a *app) chatModel(ctx context.Context, cfg config.LLM) (model.ChatModel, error) {
	switch cfg.Provider {
	case "anthropic":
		return anthropic.NewChatModel(cfg.APIKey, cfg.Model, a.cost), nil
	case "google":
		m, err := google.NewChatModel(ctx, cfg.APIKey, cfg.Model, a.cost)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, m.Close)
		return m, nil
	default:
		opts := []openai.Option{openai.WithUsageRecorder(a.cost)}
		if cfg.AzureEndpoint != "" {
			opts = append(opts, openai.WithAzure(cfg.AzureEndpoint, cfg.AzureAPIVersion))
		}
		return openai.NewChatModel(cfg.APIKey, cfg.Model, opts...), nil
	}
}

func (a *app) embedder(ctx context.Context, cfg config.Embedding, azure config.LLM) (model.Embedder, error) {
	if cfg.Provider == "google" {
		e, err := google.NewEmbedder(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, e.Close)
		return e, nil
	}
	var opts []openai.Option
	if azure.Provider == "openai" && azure.AzureEndpoint != "" {
		opts = append(opts, openai.WithAzure(azure.AzureEndpoint, azure.AzureAPIVersion))
	}
	return openai.NewEmbedder(cfg.APIKey, cfg.Model, opts...), nil
}

// normalizers returns the mid-cycle normalizer and, when the final
// threshold differs, a final one sharing its catalog and embedding cache.
func (a *app) normalizers(ctx context.Context, cfg config.Config, m *normalize.Metrics) (*normalize.Normalizer, *normalize.Normalizer, error) {
	catalog, err := normalize.LoadCatalog(cfg.Normalization.Catalog)
	if err != nil {
		return nil, nil, err
	}
	emb, err := a.embedder(ctx, cfg.Embedding, cfg.LLM)
	if err != nil {
		return nil, nil, err
	}
	opts := []normalize.Option{
		normalize.WithThreshold(cfg.Normalization.Threshold),
		normalize.WithMetrics(m),
	}
	if cfg.Normalization.Uppercase {
		opts = append(opts, normalize.WithQueryTransform(strings.ToUpper))
	}
	n, err := normalize.New(catalog, emb, opts...)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Normalization.FinalThreshold == cfg.Normalization.Threshold {
		return n, n, nil
	}
	final, err := n.WithThreshold(cfg.Normalization.FinalThreshold)
	if err != nil {
		return nil, nil, err
	}
	return n, final, nil
}

func (a *app) phenotype(ctx context.Context, cfg config.Phenotype) (workflow.PhenotypeLookup, error) {
	switch cfg.Mode {
	case "off":
		return nil, nil
	case "mcp":
		c, err := pcfmcp.Dial(ctx, cfg.Endpoint, cfg.Command)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, c.Close)
		return c, nil
	default:
		var opts []pubcasefinder.Option
		if cfg.BaseURL != "" {
			opts = append(opts, pubcasefinder.WithBaseURL(cfg.BaseURL))
		}
		return pubcasefinder.New(opts...), nil
	}
}

func sources(cfg config.Search) []workflow.Source {
	var out []workflow.Source
	if cfg.PubMed.Enabled {
		out = append(out, workflow.Source{
			Searcher: pubmed.New(cfg.PubMed.BaseURL, cfg.PubMed.APIKey),
			PerDepth: cfg.PubMed.PerDepth,
		})
	}
	if cfg.Wikipedia.Enabled {
		opts := []wikipedia.Option{wikipedia.WithMaxChars(cfg.MaxContent)}
		if cfg.Wikipedia.BaseURL != "" {
			opts = append(opts, wikipedia.WithAPI(cfg.Wikipedia.BaseURL))
		}
		out = append(out, workflow.Source{
			Searcher: wikipedia.New(opts...),
			PerDepth: cfg.Wikipedia.PerDepth,
		})
	}
	return out
}

func (a *app) openStore(cfg config.Store) (store.Store[workflow.CaseState], error) {
	switch cfg.Driver {
	case "sqlite":
		st, err := store.NewSQLiteStore[workflow.CaseState](cfg.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, st.Close)
		return st, nil
	case "mysql":
		st, err := store.NewMySQLStore[workflow.CaseState](cfg.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, st.Close)
		return st, nil
	default:
		return store.NewMemStore[workflow.CaseState](), nil
	}
}

// describe formats a failure for the terminal.
func describe(err error) string {
	var se *workflow.StageError
	if errors.As(err, &se) {
		return fmt.Sprintf("stage %s failed at depth %d: %v", se.Stage, se.Depth, se.Err)
	}
	return err.Error()
}
