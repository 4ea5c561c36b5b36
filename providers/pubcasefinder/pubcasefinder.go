// Package pubcasefinder ranks OMIM diseases by phenotype similarity through
// the PubCaseFinder REST API.
package pubcasefinder

import (
	"context"
	"net/url"
	"strings"

	"github.com/dshills/dxgraph/graph/tool"
	"github.com/dshills/dxgraph/workflow"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the public PubCaseFinder API.
const DefaultBaseURL = "https://pubcasefinder.dbcls.jp/api"

// Client implements workflow.PhenotypeLookup.
type Client struct {
	http *tool.HTTPTool
	base string
}

// Option configures a Client.
type Option func(*config)

type config struct {
	base    string
	httpOpt []tool.HTTPOption
}

// WithBaseURL points the client at another deployment.
func WithBaseURL(u string) Option {
	return func(c *config) { c.base = strings.TrimRight(u, "/") }
}

// WithHTTPOptions passes options to the underlying HTTP tool.
func WithHTTPOptions(opts ...tool.HTTPOption) Option {
	return func(c *config) { c.httpOpt = append(c.httpOpt, opts...) }
}

// New creates a client limited to two requests per second.
func New(opts ...Option) *Client {
	cfg := config{base: DefaultBaseURL}
	for _, opt := range opts {
		opt(&cfg)
	}
	httpOpts := append([]tool.HTTPOption{tool.WithRateLimit(rate.Limit(2), 1)}, cfg.httpOpt...)
	return &Client{http: tool.NewHTTPTool("pubcasefinder", httpOpts...), base: cfg.base}
}

// Name implements tool.Tool.
func (c *Client) Name() string { return c.http.Name() }

// Lookup returns the best limit OMIM diseases for the HPO ids in features.
func (c *Client) Lookup(ctx context.Context, features []string, limit int) ([]workflow.PhenotypeMatch, error) {
	res, err := c.http.GetJSON(ctx, c.base+"/pcf_get_ranked_list", url.Values{
		"target": {"omim"},
		"format": {"json"},
		"hpo_id": {strings.Join(features, ",")},
	})
	if err != nil {
		return nil, err
	}
	return ParseRankedList(res, limit), nil
}

// ParseRankedList reads a pcf_get_ranked_list reply: an array of objects
// with omim_disease_name_en, description, score and id. Entries without a
// name are skipped. A limit of zero keeps every entry.
func ParseRankedList(res gjson.Result, limit int) []workflow.PhenotypeMatch {
	var out []workflow.PhenotypeMatch
	res.ForEach(func(_, item gjson.Result) bool {
		name := strings.TrimSpace(item.Get("omim_disease_name_en").String())
		if name == "" {
			return true
		}
		out = append(out, workflow.PhenotypeMatch{
			Name:        name,
			Score:       item.Get("score").Float(),
			Description: item.Get("description").String(),
			ExternalID:  item.Get("id").String(),
		})
		return limit <= 0 || len(out) < limit
	})
	return out
}
