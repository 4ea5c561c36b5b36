package hpo

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phenotype_mapping.json")
	data := `{"HP:0001166": "Arachnodactyly", "HP:0000098": " Tall stature ", "HP:0000001": ""}`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	table, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	got, err := table.Labels(context.Background(), []string{"HP:0001166", "HP:0000098", "HP:0000001", "HP:9999999"})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"HP:0001166": "Arachnodactyly", "HP:0000098": "Tall stature"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("labels (-want +got):\n%s", diff)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("missing file accepted")
	}
	if _, err := Decode(strings.NewReader(`["HP:1"]`)); err == nil {
		t.Error("array accepted")
	}
}
