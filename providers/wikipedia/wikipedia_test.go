package wikipedia

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dshills/dxgraph/workflow"
	"github.com/google/go-cmp/cmp"
)

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != userAgent {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		q := r.URL.Query()
		switch {
		case q.Get("list") == "search":
			if q.Get("srsearch") != "Marfan syndrome" || q.Get("srlimit") != "10" {
				t.Errorf("search query = %s", r.URL.RawQuery)
			}
			_, _ = io.WriteString(w, `{"query": {"search": [
				{"title": "Marfan syndrome"},
				{"title": "Fibrillin 1"},
				{"title": "Ectopia lentis"}
			]}}`)
		case q.Get("prop") == "extracts":
			if q.Get("titles") != "Marfan syndrome|Fibrillin 1|Ectopia lentis" || q.Get("exchars") != "200" {
				t.Errorf("extracts query = %s", r.URL.RawQuery)
			}
			_, _ = io.WriteString(w, `{"query": {
				"redirects": [{"from": "Fibrillin 1", "to": "Fibrillin-1"}],
				"pages": {
					"1": {"title": "Marfan syndrome", "extract": " A connective tissue disorder. "},
					"2": {"title": "Fibrillin-1", "extract": "A glycoprotein."}
				}
			}}`)
		default:
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
	}))
	defer srv.Close()

	c := New(WithAPI(srv.URL), WithMaxChars(200))
	got, err := c.Search(context.Background(), "Marfan syndrome", 10)
	if err != nil {
		t.Fatal(err)
	}

	want := []workflow.Hit{
		{Title: "Marfan syndrome", URL: "https://en.wikipedia.org/wiki/Marfan_syndrome", Content: "A connective tissue disorder."},
		{Title: "Fibrillin 1", URL: "https://en.wikipedia.org/wiki/Fibrillin_1", Content: "A glycoprotein."},
		{Title: "Ectopia lentis", URL: "https://en.wikipedia.org/wiki/Ectopia_lentis"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("hits (-want +got):\n%s", diff)
	}
}

func TestSearch_NoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"query": {"search": []}}`)
	}))
	defer srv.Close()

	got, err := New(WithAPI(srv.URL)).Search(context.Background(), "zzz", 5)
	if err != nil || got != nil {
		t.Errorf("Search = %+v, %v", got, err)
	}
}

func TestSearch_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := New(WithAPI(srv.URL)).Search(context.Background(), "x", 5); err == nil {
		t.Error("503 accepted")
	}
}

func TestPageURL(t *testing.T) {
	if got := PageURL("Ehlers–Danlos syndromes"); got != "https://en.wikipedia.org/wiki/Ehlers%E2%80%93Danlos_syndromes" {
		t.Errorf("PageURL = %q", got)
	}
}
