// Package pubmed searches PubMed abstracts through the NCBI E-utilities.
package pubmed

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/dshills/dxgraph/graph/tool"
	"github.com/dshills/dxgraph/workflow"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the E-utilities root.
const DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

// Client implements workflow.Searcher.
type Client struct {
	http   *tool.HTTPTool
	base   string
	apiKey string
}

// New creates a client. NCBI allows three requests per second without an
// API key and ten with one.
func New(baseURL, apiKey string, opts ...tool.HTTPOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	limit := rate.Limit(3)
	if apiKey != "" {
		limit = 10
	}
	httpOpts := append([]tool.HTTPOption{tool.WithRateLimit(limit, 1)}, opts...)
	return &Client{
		http:   tool.NewHTTPTool("PubMed", httpOpts...),
		base:   strings.TrimRight(baseURL, "/"),
		apiKey: apiKey,
	}
}

// Name implements workflow.Searcher.
func (c *Client) Name() string { return c.http.Name() }

// Search returns up to limit articles about term, most relevant first.
func (c *Client) Search(ctx context.Context, term string, limit int) ([]workflow.Hit, error) {
	ids, err := c.search(ctx, term, limit)
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	articles, err := c.fetch(ctx, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]article, len(articles))
	for _, a := range articles {
		byID[a.PMID] = a
	}
	hits := make([]workflow.Hit, 0, len(ids))
	for _, id := range ids {
		a, ok := byID[id]
		if !ok {
			continue
		}
		hits = append(hits, workflow.Hit{
			Title:   strings.TrimSpace(a.Title),
			URL:     fmt.Sprintf("https://pubmed.ncbi.nlm.nih.gov/%s/", id),
			Content: a.abstract(),
		})
	}
	return hits, nil
}

func (c *Client) params(v url.Values) url.Values {
	v.Set("db", "pubmed")
	if c.apiKey != "" {
		v.Set("api_key", c.apiKey)
	}
	return v
}

func (c *Client) search(ctx context.Context, term string, limit int) ([]string, error) {
	res, err := c.http.GetJSON(ctx, c.base+"/esearch.fcgi", c.params(url.Values{
		"term":    {term},
		"retmax":  {fmt.Sprint(limit)},
		"retmode": {"json"},
		"sort":    {"relevance"},
	}))
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, id := range res.Get("esearchresult.idlist").Array() {
		ids = append(ids, id.String())
	}
	return ids, nil
}

type articleSet struct {
	Articles []article `xml:"PubmedArticle"`
}

type article struct {
	PMID     string   `xml:"MedlineCitation>PMID"`
	Title    string   `xml:"MedlineCitation>Article>ArticleTitle"`
	Abstract []string `xml:"MedlineCitation>Article>Abstract>AbstractText"`
}

func (a article) abstract() string {
	parts := make([]string, 0, len(a.Abstract))
	for _, p := range a.Abstract {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n")
}

// fetch loads titles and abstracts. efetch only speaks XML for PubMed.
func (c *Client) fetch(ctx context.Context, ids []string) ([]article, error) {
	q := c.params(url.Values{
		"id":      {strings.Join(ids, ",")},
		"retmode": {"xml"},
		"rettype": {"abstract"},
	})
	data, err := c.http.Do(ctx, http.MethodGet, c.base+"/efetch.fcgi?"+q.Encode(), nil, "")
	if err != nil {
		return nil, err
	}
	var set articleSet
	if err := xml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("PubMed: parse efetch reply: %w", err)
	}
	return set.Articles, nil
}
