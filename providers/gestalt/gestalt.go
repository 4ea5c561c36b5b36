// Package gestalt suggests syndromes from a facial photograph through the
// GestaltMatcher prediction endpoint.
package gestalt

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dshills/dxgraph/graph/tool"
	"github.com/dshills/dxgraph/workflow"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// DefaultEndpoint is the public GestaltMatcher prediction endpoint.
const DefaultEndpoint = "https://dev-pubcasefinder.dbcls.jp/gm_endpoint/predict"

// maxDistance is the largest distance the matcher reports; scores are
// (maxDistance-distance)/maxDistance.
const maxDistance = 1.3

// Client implements workflow.ImageMatcher.
type Client struct {
	http     *tool.HTTPTool
	endpoint string
	readFile func(string) ([]byte, error)
}

// New creates a client that authenticates with HTTP basic credentials.
// An empty endpoint selects DefaultEndpoint.
func New(endpoint, user, pass string, opts ...tool.HTTPOption) (*Client, error) {
	if user == "" || pass == "" {
		return nil, errors.New("gestalt: user and password are required")
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	httpOpts := append([]tool.HTTPOption{
		tool.WithBasicAuth(user, pass),
		tool.WithRateLimit(rate.Limit(1), 1),
	}, opts...)
	return &Client{
		http:     tool.NewHTTPTool("gestaltmatcher", httpOpts...),
		endpoint: endpoint,
		readFile: os.ReadFile,
	}, nil
}

// Name implements tool.Tool.
func (c *Client) Name() string { return c.http.Name() }

// Match uploads the image at imagePath and returns the first limit
// suggested syndromes.
func (c *Client) Match(ctx context.Context, imagePath string, limit int) ([]workflow.ImageMatch, error) {
	img, err := c.readFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("gestalt: read image: %w", err)
	}
	res, err := c.http.PostJSON(ctx, c.endpoint, map[string]string{
		"img": base64.StdEncoding.EncodeToString(img),
	})
	if err != nil {
		return nil, err
	}
	return parseSyndromes(res, limit), nil
}

func parseSyndromes(res gjson.Result, limit int) []workflow.ImageMatch {
	var out []workflow.ImageMatch
	res.Get("suggested_syndromes_list").ForEach(func(_, s gjson.Result) bool {
		if limit > 0 && len(out) == limit {
			return false
		}
		out = append(out, workflow.ImageMatch{
			Name:       strings.TrimSpace(s.Get("syndrome_name").String()),
			ExternalID: s.Get("omim_id").String(),
			Score:      score(s),
		})
		return true
	})
	return out
}

// score converts the reported distance, or gestalt_score when no distance
// is given, to a similarity in [0, 1].
func score(s gjson.Result) float64 {
	d := s.Get("distance")
	if !d.Exists() || d.Type == gjson.Null {
		d = s.Get("gestalt_score")
	}
	if !d.Exists() || d.Type == gjson.Null {
		return 0
	}
	return (maxDistance - d.Float()) / maxDistance
}
