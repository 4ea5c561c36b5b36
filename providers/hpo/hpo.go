// Package hpo resolves Human Phenotype Ontology ids to display names from a
// JSON mapping file of the form {"HP:0001166": "Arachnodactyly", ...}.
package hpo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// Table is an id to label mapping. It implements workflow.LabelResolver.
type Table map[string]string

// Load reads a mapping file.
func Load(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("hpo: %w", err)
	}
	defer func() { _ = f.Close() }()
	t, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("hpo: %s: %w", path, err)
	}
	return t, nil
}

// Decode reads a mapping from r. Blank labels are dropped.
func Decode(r io.Reader) (Table, error) {
	var raw map[string]string
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, err
	}
	t := make(Table, len(raw))
	for id, label := range raw {
		if label = strings.TrimSpace(label); label != "" {
			t[strings.TrimSpace(id)] = label
		}
	}
	return t, nil
}

// Labels returns the known labels among ids. Unknown ids are absent from the
// result rather than mapped to an empty string.
func (t Table) Labels(_ context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		if label, ok := t[id]; ok {
			out[id] = label
		}
	}
	return out, nil
}
