package normalize

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/dshills/dxgraph/graph/model"
	"golang.org/x/sync/errgroup"
)

// Builder embeds canonical labels into a Catalog offline.
//
// Example:
//
//	b := normalize.Builder{Embedder: emb, Transform: strings.ToUpper}
//	cat, err := b.Build(ctx, ids, labels)
//	if err == nil {
//	    err = cat.Save("omim_catalog.json")
//	}
type Builder struct {
	Embedder model.Embedder
	// Transform rewrites each label before it is embedded. The catalog
	// keeps the original label. Use the same function as the Normalizer's
	// query transform.
	Transform func(string) string
	// Concurrency bounds concurrent embedding calls; default 8.
	Concurrency int
}

// Build embeds every label and returns the catalog in input order.
func (b Builder) Build(ctx context.Context, ids, labels []string) (*Catalog, error) {
	if len(ids) != len(labels) {
		return nil, fmt.Errorf("normalize: %d ids but %d labels", len(ids), len(labels))
	}
	vectors := make([][]float32, len(labels))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cmp.Or(b.Concurrency, 8))
	for i, label := range labels {
		g.Go(func() error {
			text := label
			if b.Transform != nil {
				text = b.Transform(text)
			}
			v, err := b.Embedder.Embed(gctx, text)
			if err != nil {
				return fmt.Errorf("normalize: embed %s (%s): %w", ids[i], label, err)
			}
			vectors[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return NewCatalog(ids, labels, vectors)
}

// Save writes the catalog in the format LoadCatalog reads. Vectors are
// stored unit-length.
func (c *Catalog) Save(path string) error {
	f := catalogFile{
		IDs:     c.ids,
		Labels:  c.labels,
		Vectors: make([][]float32, len(c.vectors)),
	}
	for i, v := range c.vectors {
		out := make([]float32, len(v))
		for j, x := range v {
			out[j] = float32(x)
		}
		f.Vectors[i] = out
	}
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("normalize: encode catalog: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("normalize: write catalog: %w", err)
	}
	return nil
}
