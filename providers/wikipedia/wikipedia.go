// Package wikipedia searches English Wikipedia through the MediaWiki API.
package wikipedia

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/dshills/dxgraph/graph/tool"
	"github.com/dshills/dxgraph/workflow"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const (
	// DefaultAPI is the English Wikipedia API endpoint.
	DefaultAPI = "https://en.wikipedia.org/w/api.php"
	// DefaultMaxChars bounds each page extract.
	DefaultMaxChars = 1500

	userAgent = "dxgraph/1.0 (https://github.com/dshills/dxgraph)"
)

// Client implements workflow.Searcher.
type Client struct {
	http     *tool.HTTPTool
	api      string
	maxChars int
}

// Option configures a Client.
type Option func(*Client)

// WithAPI points the client at another MediaWiki installation.
func WithAPI(endpoint string) Option {
	return func(c *Client) { c.api = endpoint }
}

// WithMaxChars overrides DefaultMaxChars.
func WithMaxChars(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxChars = n
		}
	}
}

// New creates a client. Wikimedia asks API clients to identify themselves
// with a User-Agent.
func New(opts ...Option) *Client {
	c := &Client{
		http: tool.NewHTTPTool("Wikipedia",
			tool.WithHeader("User-Agent", userAgent),
			tool.WithRateLimit(rate.Limit(5), 2)),
		api:      DefaultAPI,
		maxChars: DefaultMaxChars,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Name implements workflow.Searcher.
func (c *Client) Name() string { return c.http.Name() }

// Search returns up to limit pages for term with their plain-text extracts,
// in search rank order.
func (c *Client) Search(ctx context.Context, term string, limit int) ([]workflow.Hit, error) {
	res, err := c.http.GetJSON(ctx, c.api, url.Values{
		"action":   {"query"},
		"format":   {"json"},
		"list":     {"search"},
		"srsearch": {term},
		"srlimit":  {fmt.Sprint(limit)},
	})
	if err != nil {
		return nil, err
	}
	var titles []string
	res.Get("query.search").ForEach(func(_, s gjson.Result) bool {
		if t := s.Get("title").String(); t != "" {
			titles = append(titles, t)
		}
		return true
	})
	if len(titles) == 0 {
		return nil, nil
	}

	extracts, err := c.extracts(ctx, titles)
	if err != nil {
		return nil, err
	}
	hits := make([]workflow.Hit, 0, len(titles))
	for _, t := range titles {
		hits = append(hits, workflow.Hit{
			Title:   t,
			URL:     PageURL(t),
			Content: extracts[t],
		})
	}
	return hits, nil
}

// extracts fetches plain-text page bodies keyed by title.
func (c *Client) extracts(ctx context.Context, titles []string) (map[string]string, error) {
	res, err := c.http.GetJSON(ctx, c.api, url.Values{
		"action":      {"query"},
		"format":      {"json"},
		"prop":        {"extracts"},
		"explaintext": {"1"},
		"exchars":     {fmt.Sprint(c.maxChars)},
		"exlimit":     {"max"},
		"redirects":   {"1"},
		"titles":      {strings.Join(titles, "|")},
	})
	if err != nil {
		return nil, err
	}

	// Pages come back under their canonical titles.
	alias := make(map[string]string)
	for _, key := range []string{"query.normalized", "query.redirects"} {
		res.Get(key).ForEach(func(_, r gjson.Result) bool {
			alias[r.Get("to").String()] = r.Get("from").String()
			return true
		})
	}

	out := make(map[string]string, len(titles))
	res.Get("query.pages").ForEach(func(_, p gjson.Result) bool {
		title := p.Get("title").String()
		text := strings.TrimSpace(p.Get("extract").String())
		out[title] = text
		for from, ok := alias[title]; ok; from, ok = alias[from] {
			out[from] = text
		}
		return true
	})
	return out, nil
}

// PageURL returns the canonical article URL for title.
func PageURL(title string) string {
	return "https://en.wikipedia.org/wiki/" + url.PathEscape(strings.ReplaceAll(title, " ", "_"))
}
