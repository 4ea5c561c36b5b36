package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
)

// Catalog is the canonical entity table names are normalized against:
// parallel arrays of ids, labels and embedding vectors built offline.
//
// Vectors are L2-normalized on construction, so similarity against a
// normalized query is a dot product. A Catalog is immutable and safe for
// concurrent use.
type Catalog struct {
	ids     []string
	labels  []string
	vectors [][]float64
	dim     int
}

// Match is the best catalog entry for a query.
type Match struct {
	Index      int
	ID         string
	Label      string
	Similarity float64
}

var (
	// ErrEmptyCatalog is returned when a catalog has no entries.
	ErrEmptyCatalog = errors.New("normalize: catalog is empty")

	// ErrDimension is returned when a vector does not match the catalog dimension.
	ErrDimension = errors.New("normalize: vector dimension mismatch")

	// ErrZeroVector is returned for vectors with zero length.
	ErrZeroVector = errors.New("normalize: zero vector")
)

// NewCatalog validates the parallel arrays and normalizes every vector.
func NewCatalog(ids, labels []string, vectors [][]float32) (*Catalog, error) {
	if len(ids) == 0 {
		return nil, ErrEmptyCatalog
	}
	if len(labels) != len(ids) || len(vectors) != len(ids) {
		return nil, fmt.Errorf("normalize: catalog arrays differ in length: %d ids, %d labels, %d vectors",
			len(ids), len(labels), len(vectors))
	}

	dim := len(vectors[0])
	c := &Catalog{
		ids:     append([]string(nil), ids...),
		labels:  append([]string(nil), labels...),
		vectors: make([][]float64, len(vectors)),
		dim:     dim,
	}
	for i, v := range vectors {
		if len(v) != dim || dim == 0 {
			return nil, fmt.Errorf("%w: entry %d (%s) has %d, want %d", ErrDimension, i, ids[i], len(v), dim)
		}
		unit, err := unitVector(v)
		if err != nil {
			return nil, fmt.Errorf("entry %d (%s): %w", i, ids[i], err)
		}
		c.vectors[i] = unit
	}
	return c, nil
}

type catalogFile struct {
	IDs     []string    `json:"ids"`
	Labels  []string    `json:"labels"`
	Vectors [][]float32 `json:"vectors"`
	// DisplayLabels optionally overrides the label shown for an id.
	DisplayLabels map[string]string `json:"display_labels,omitempty"`
}

// LoadCatalog reads a catalog artifact from a JSON file of the form
//
//	{"ids": [...], "labels": [...], "vectors": [[...], ...], "display_labels": {"id": "label"}}
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("normalize: read catalog: %w", err)
	}
	var f catalogFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("normalize: parse catalog %s: %w", path, err)
	}
	labels := f.Labels
	if len(f.DisplayLabels) > 0 {
		labels = append([]string(nil), f.Labels...)
		for i, id := range f.IDs {
			if l, ok := f.DisplayLabels[id]; ok && i < len(labels) {
				labels[i] = l
			}
		}
	}
	return NewCatalog(f.IDs, labels, f.Vectors)
}

// Len returns the number of entries.
func (c *Catalog) Len() int { return len(c.ids) }

// Dim returns the vector dimension.
func (c *Catalog) Dim() int { return c.dim }

// Entry returns the id and label at index i.
func (c *Catalog) Entry(i int) (id, label string) {
	return c.ids[i], c.labels[i]
}

// Nearest returns the entry with the highest cosine similarity to query.
// Ties go to the lowest index, which keeps results stable across runs.
func (c *Catalog) Nearest(query []float32) (Match, error) {
	if len(query) != c.dim {
		return Match{}, fmt.Errorf("%w: query has %d, catalog has %d", ErrDimension, len(query), c.dim)
	}
	q, err := unitVector(query)
	if err != nil {
		return Match{}, err
	}

	best, bestSim := -1, math.Inf(-1)
	for i, v := range c.vectors {
		var dot float64
		for j := range v {
			dot += v[j] * q[j]
		}
		if dot > bestSim {
			best, bestSim = i, dot
		}
	}
	return Match{
		Index:      best,
		ID:         c.ids[best],
		Label:      c.labels[best],
		Similarity: math.Max(-1, math.Min(1, bestSim)),
	}, nil
}

func unitVector(v []float32) ([]float64, error) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return nil, ErrZeroVector
	}
	norm := math.Sqrt(sum)
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x) / norm
	}
	return out, nil
}
