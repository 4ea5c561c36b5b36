package pubmed

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dshills/dxgraph/workflow"
	"github.com/google/go-cmp/cmp"
)

const efetchReply = `<?xml version="1.0" ?>
<PubmedArticleSet>
  <PubmedArticle>
    <MedlineCitation>
      <PMID Version="1">222</PMID>
      <Article>
        <ArticleTitle>Second article.</ArticleTitle>
        <Abstract><AbstractText>Only part.</AbstractText></Abstract>
      </Article>
    </MedlineCitation>
  </PubmedArticle>
  <PubmedArticle>
    <MedlineCitation>
      <PMID Version="1">111</PMID>
      <Article>
        <ArticleTitle>Marfan syndrome review.</ArticleTitle>
        <Abstract>
          <AbstractText Label="BACKGROUND">Fibrillin-1.</AbstractText>
          <AbstractText Label="RESULTS">Aortic root dilation.</AbstractText>
        </Abstract>
      </Article>
    </MedlineCitation>
  </PubmedArticle>
</PubmedArticleSet>`

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("db") != "pubmed" || q.Get("api_key") != "k" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		switch r.URL.Path {
		case "/esearch.fcgi":
			if q.Get("term") != "Marfan syndrome" || q.Get("retmax") != "4" {
				t.Errorf("esearch query = %s", r.URL.RawQuery)
			}
			_, _ = io.WriteString(w, `{"esearchresult": {"idlist": ["111", "222", "333"]}}`)
		case "/efetch.fcgi":
			if q.Get("id") != "111,222,333" {
				t.Errorf("efetch ids = %q", q.Get("id"))
			}
			_, _ = io.WriteString(w, efetchReply)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "k")
	got, err := c.Search(context.Background(), "Marfan syndrome", 4)
	if err != nil {
		t.Fatal(err)
	}

	want := []workflow.Hit{
		{Title: "Marfan syndrome review.", URL: "https://pubmed.ncbi.nlm.nih.gov/111/", Content: "Fibrillin-1.\nAortic root dilation."},
		{Title: "Second article.", URL: "https://pubmed.ncbi.nlm.nih.gov/222/", Content: "Only part."},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("hits (-want +got):\n%s", diff)
	}
	if c.Name() != "PubMed" {
		t.Errorf("Name = %q", c.Name())
	}
}

func TestSearch_NoResults(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		_, _ = io.WriteString(w, `{"esearchresult": {"idlist": []}}`)
	}))
	defer srv.Close()

	got, err := New(srv.URL, "").Search(context.Background(), "nothing", 2)
	if err != nil || len(got) != 0 {
		t.Errorf("Search = %+v, %v", got, err)
	}
	if calls != 1 {
		t.Errorf("%d requests, want esearch only", calls)
	}
}
