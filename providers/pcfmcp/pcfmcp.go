// Package pcfmcp calls PubCaseFinder through an MCP server that exposes the
// pcf_get_ranked_list tool, as an alternative to the REST client.
package pcfmcp

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/dshills/dxgraph/providers/pubcasefinder"
	"github.com/dshills/dxgraph/workflow"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/tidwall/gjson"
)

// ToolName is the MCP tool that returns the ranked disease list.
const ToolName = "pcf_get_ranked_list"

// Client implements workflow.PhenotypeLookup over an MCP session.
type Client struct {
	session *sdkmcp.ClientSession
}

// Connect opens a session over transport.
func Connect(ctx context.Context, transport sdkmcp.Transport) (*Client, error) {
	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "dxgraph", Version: "v1"}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("pcfmcp: connect: %w", err)
	}
	return &Client{session: session}, nil
}

// Dial connects to a streamable HTTP endpoint, or, when command is set,
// launches the server as a subprocess speaking MCP over stdio.
func Dial(ctx context.Context, endpoint string, command []string) (*Client, error) {
	switch {
	case len(command) > 0:
		return Connect(ctx, &sdkmcp.CommandTransport{Command: exec.Command(command[0], command[1:]...)})
	case endpoint != "":
		return Connect(ctx, &sdkmcp.StreamableClientTransport{Endpoint: endpoint})
	default:
		return nil, errors.New("pcfmcp: endpoint or command is required")
	}
}

// Name implements tool.Tool.
func (c *Client) Name() string { return "pubcasefinder-mcp" }

// Lookup calls the ranked-list tool with the HPO ids in features.
func (c *Client) Lookup(ctx context.Context, features []string, limit int) ([]workflow.PhenotypeMatch, error) {
	res, err := c.session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name: ToolName,
		Arguments: map[string]any{
			"target": "omim",
			"format": "json",
			"hpo_id": strings.Join(features, ","),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("pcfmcp: call %s: %w", ToolName, err)
	}

	text := textOf(res)
	if res.IsError {
		return nil, fmt.Errorf("pcfmcp: %s failed: %s", ToolName, text)
	}
	if !gjson.Valid(text) {
		return nil, fmt.Errorf("pcfmcp: %s returned non-JSON content", ToolName)
	}
	return pubcasefinder.ParseRankedList(gjson.Parse(text), limit), nil
}

// Close ends the session.
func (c *Client) Close() error {
	return c.session.Close()
}

func textOf(res *sdkmcp.CallToolResult) string {
	var b strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*sdkmcp.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}
