// Package normalize maps free-text disease names onto a canonical catalog by
// embedding similarity, rejecting matches below a threshold.
//
// Normalization is a pure function of the input string for a fixed catalog
// and embedder: the same name always yields the same decision and id.
//
// Example:
//
//	n, err := normalize.New(catalog, embedder, normalize.WithThreshold(0.75))
//	res, err := n.Normalize(ctx, "marfan syndrome")
//	if res.Accepted {
//	    fmt.Println(res.ID, res.Label)
//	}
package normalize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dshills/dxgraph/graph/model"
)

// DefaultThreshold is the minimum cosine similarity for a match to be accepted.
const DefaultThreshold = 0.75

// Result is the outcome of normalizing one name.
type Result struct {
	Input      string
	ID         string
	Label      string
	Similarity float64
	Accepted   bool
}

// Note records a rejected name. It is diagnostic output, not an error.
type Note struct {
	Input      string  `json:"input"`
	BestID     string  `json:"best_id"`
	BestLabel  string  `json:"best_label"`
	Similarity float64 `json:"similarity"`
	Threshold  float64 `json:"threshold"`
}

func (n Note) String() string {
	return fmt.Sprintf("rejected %q: best match %s (%s) at %.3f < %.2f",
		n.Input, n.BestLabel, n.BestID, n.Similarity, n.Threshold)
}

// Normalizer resolves names against a Catalog. Safe for concurrent use.
type Normalizer struct {
	catalog   *Catalog
	embedder  model.Embedder
	threshold float64
	transform func(string) string
	metrics   *Metrics

	mu    sync.Mutex
	cache map[string][]float32
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithThreshold sets the acceptance threshold.
func WithThreshold(t float64) Option {
	return func(n *Normalizer) { n.threshold = t }
}

// WithQueryTransform rewrites names before they are embedded, e.g.
// strings.ToUpper when the catalog was embedded from upper-case labels.
func WithQueryTransform(f func(string) string) Option {
	return func(n *Normalizer) { n.transform = f }
}

// WithMetrics records decisions in m.
func WithMetrics(m *Metrics) Option {
	return func(n *Normalizer) { n.metrics = m }
}

// New creates a Normalizer. The threshold must lie in [0, 1].
func New(catalog *Catalog, embedder model.Embedder, opts ...Option) (*Normalizer, error) {
	if catalog == nil {
		return nil, ErrEmptyCatalog
	}
	if embedder == nil {
		return nil, errors.New("normalize: embedder is required")
	}
	n := &Normalizer{
		catalog:   catalog,
		embedder:  embedder,
		threshold: DefaultThreshold,
		cache:     make(map[string][]float32),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.threshold < 0 || n.threshold > 1 {
		return nil, fmt.Errorf("normalize: threshold %v outside [0, 1]", n.threshold)
	}
	return n, nil
}

// Threshold returns the acceptance threshold.
func (n *Normalizer) Threshold() float64 { return n.threshold }

// WithThreshold returns a Normalizer sharing catalog, embedder and cache but
// deciding with a different threshold.
func (n *Normalizer) WithThreshold(t float64) (*Normalizer, error) {
	if t < 0 || t > 1 {
		return nil, fmt.Errorf("normalize: threshold %v outside [0, 1]", t)
	}
	return &Normalizer{
		catalog:   n.catalog,
		embedder:  &cachedEmbedder{n},
		threshold: t,
		transform: n.transform,
		metrics:   n.metrics,
		cache:     make(map[string][]float32),
	}, nil
}

// Normalize embeds name and returns its nearest catalog entry. An embedding
// failure is returned as an error; a weak match is not an error but a
// Result with Accepted false.
func (n *Normalizer) Normalize(ctx context.Context, name string) (Result, error) {
	query := strings.TrimSpace(name)
	if n.transform != nil {
		query = n.transform(query)
	}
	if query == "" {
		return Result{Input: name}, nil
	}

	vec, err := n.embed(ctx, query)
	if err != nil {
		return Result{}, fmt.Errorf("normalize %q: %w", name, err)
	}
	match, err := n.catalog.Nearest(vec)
	if err != nil {
		return Result{}, fmt.Errorf("normalize %q: %w", name, err)
	}

	res := Result{
		Input:      name,
		ID:         match.ID,
		Label:      match.Label,
		Similarity: match.Similarity,
		Accepted:   match.Similarity >= n.threshold,
	}
	n.metrics.observe(res)
	return res, nil
}

// Note describes res as a rejection under this normalizer's threshold.
func (n *Normalizer) Note(res Result) Note {
	return Note{
		Input:      res.Input,
		BestID:     res.ID,
		BestLabel:  res.Label,
		Similarity: res.Similarity,
		Threshold:  n.threshold,
	}
}

func (n *Normalizer) embed(ctx context.Context, query string) ([]float32, error) {
	n.mu.Lock()
	vec, ok := n.cache[query]
	n.mu.Unlock()
	if ok {
		return vec, nil
	}

	vec, err := n.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	n.cache[query] = vec
	n.mu.Unlock()
	return vec, nil
}

// cachedEmbedder lets a derived Normalizer reuse its parent's cache.
type cachedEmbedder struct{ parent *Normalizer }

func (c *cachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return c.parent.embed(ctx, text)
}

// Filter normalizes the name of every item. Accepted items are rewritten by
// apply and kept in order; rejected ones are dropped and reported as Notes.
// The first embedding failure aborts the pass.
func Filter[T any](ctx context.Context, n *Normalizer, items []T, name func(T) string, apply func(T, Result) T) ([]T, []Note, error) {
	kept := make([]T, 0, len(items))
	var notes []Note
	for _, it := range items {
		res, err := n.Normalize(ctx, name(it))
		if err != nil {
			return nil, nil, err
		}
		if !res.Accepted {
			notes = append(notes, n.Note(res))
			continue
		}
		kept = append(kept, apply(it, res))
	}
	return kept, notes, nil
}
