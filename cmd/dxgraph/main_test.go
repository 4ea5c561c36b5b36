package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dshills/dxgraph/config"
	"github.com/dshills/dxgraph/graph"
	"github.com/dshills/dxgraph/normalize"
	"github.com/dshills/dxgraph/workflow"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	catalog := writeFile(t, dir, "catalog.json",
		`{"ids": ["OMIM:154700"], "labels": ["MARFAN SYNDROME"], "vectors": [[1, 0]], "display_labels": {"OMIM:154700": "Marfan syndrome"}}`)
	labels := writeFile(t, dir, "hpo.json", `{"HP:0001166": "Arachnodactyly"}`)

	cfg, err := config.Parse([]byte(fmt.Sprintf(`
llm: {provider: openai, api_key: sk-test, condense: true}
normalization: {catalog: %q, threshold: 0.75, final_threshold: 0.8, uppercase: true}
phenotype: {mode: http, base_url: "http://127.0.0.1:0"}
labels: %q
store: {driver: sqlite, dsn: %q}
observability: {metrics_addr: "127.0.0.1:0", tracing: true, log_format: json}
`, catalog, labels, filepath.Join(dir, "runs.db"))))
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestBuild(t *testing.T) {
	a, err := build(context.Background(), testConfig(t), "run-1", io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if a.wf == nil || a.store == nil {
		t.Fatalf("app = %+v", a)
	}
	steps, err := a.wf.History(context.Background(), "run-1")
	if err != nil || len(steps) != 0 {
		t.Errorf("History of unknown run = %v, %v", steps, err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestBuild_MissingCatalog(t *testing.T) {
	cfg := testConfig(t)
	cfg.Normalization.Catalog = filepath.Join(t.TempDir(), "missing.json")
	cfg.Observability.MetricsAddr = ""
	if _, err := build(context.Background(), cfg, "run-1", io.Discard); err == nil {
		t.Error("build with a missing catalog succeeded")
	}
}

func sampleResult() workflow.Result {
	return workflow.Result{
		RunID: "run-7",
		Candidates: []workflow.Candidate{
			{Name: "Marfan syndrome", NormalizedID: "OMIM:154700", Rationale: "fits the skeletal findings", Rank: 1},
			{Name: "Homocystinuria", Rank: 2},
		},
		State: workflow.CaseState{
			Depth: 2,
			Notes: []normalize.Note{{Input: "Disease Q", BestID: "OMIM:1", BestLabel: "Disease X", Similarity: 0.7, Threshold: 0.75}},
		},
	}
}

func TestWriteResult_Text(t *testing.T) {
	var buf bytes.Buffer
	if err := writeResult(&buf, "text", sampleResult(), graph.NewCostTracker("run-7", "USD")); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"run run-7 (depth 2)",
		" 1. Marfan syndrome [OMIM:154700]",
		"    fits the skeletal findings",
		" 2. Homocystinuria\n",
		`note: rejected "Disease Q"`,
		"cost: 0.0000 USD (0 input / 0 output tokens)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteResult_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := writeResult(&buf, "json", sampleResult(), graph.NewCostTracker("run-7", "USD")); err != nil {
		t.Fatal(err)
	}
	var got jsonResult
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.RunID != "run-7" || got.Depth != 2 || len(got.Candidates) != 2 || len(got.Notes) != 1 {
		t.Errorf("json result = %+v", got)
	}
}

func TestWriteResult_Empty(t *testing.T) {
	var buf bytes.Buffer
	res := workflow.Result{RunID: "r", Candidates: []workflow.Candidate{}}
	if err := writeResult(&buf, "text", res, graph.NewCostTracker("r", "USD")); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "no diagnosis could be confirmed") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestDescribe(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &workflow.StageError{Stage: "judge", Depth: 2, Err: errors.New("bad json")})
	if got := describe(err); got != "stage judge failed at depth 2: bad json" {
		t.Errorf("describe = %q", got)
	}
	if got := describe(errors.New("plain")); got != "plain" {
		t.Errorf("describe = %q", got)
	}
}
