package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/dshills/dxgraph/graph/model"
	"github.com/dshills/dxgraph/normalize"
	"github.com/google/go-cmp/cmp"
)

func TestBuildCatalog(t *testing.T) {
	dir := t.TempDir()
	input := writeFile(t, dir, "omim_mapping.json",
		`{"OMIM:154700": "Marfan syndrome", "OMIM:101200": "Apert syndrome"}`)
	output := filepath.Join(dir, "catalog.json")
	emb := &model.MockEmbedder{Vectors: map[string][]float32{
		"MARFAN SYNDROME": {1, 0},
		"APERT SYNDROME":  {0, 1},
	}}

	n, err := buildCatalog(context.Background(), emb, input, output, true)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("entries = %d", n)
	}
	cat, err := normalize.LoadCatalog(output)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for i := range cat.Len() {
		id, label := cat.Entry(i)
		got = append(got, id+"="+label)
	}
	want := []string{"OMIM:101200=Apert syndrome", "OMIM:154700=Marfan syndrome"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("entries (-want +got):\n%s", diff)
	}
}

func TestBuildCatalog_BadInput(t *testing.T) {
	dir := t.TempDir()
	input := writeFile(t, dir, "bad.json", `["not", "a", "map"]`)
	emb := &model.MockEmbedder{}
	if _, err := buildCatalog(context.Background(), emb, input, filepath.Join(dir, "out.json"), false); err == nil {
		t.Error("array input accepted")
	}
}
