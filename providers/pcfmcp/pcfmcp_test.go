package pcfmcp

import (
	"context"
	"fmt"
	"testing"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

type rankedListArgs struct {
	Target string `json:"target"`
	Format string `json:"format"`
	HPOID  string `json:"hpo_id"`
}

// startServer serves a fake ranked-list tool in memory and returns a
// connected client.
func startServer(t *testing.T, handle func(rankedListArgs) (string, bool)) *Client {
	t.Helper()
	ctx := context.Background()

	server := sdkmcp.NewServer(&sdkmcp.Implementation{Name: "pcf-test", Version: "v0.0.1"}, nil)
	sdkmcp.AddTool(server, &sdkmcp.Tool{Name: ToolName, Description: "ranked OMIM diseases for HPO ids"},
		func(_ context.Context, _ *sdkmcp.CallToolRequest, in rankedListArgs) (*sdkmcp.CallToolResult, any, error) {
			text, isErr := handle(in)
			return &sdkmcp.CallToolResult{
				IsError: isErr,
				Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: text}},
			}, nil, nil
		})

	t1, t2 := sdkmcp.NewInMemoryTransports()
	serverSession, err := server.Connect(ctx, t1, nil)
	if err != nil {
		t.Fatalf("server.Connect: %v", err)
	}
	t.Cleanup(func() { _ = serverSession.Close() })

	client, err := Connect(ctx, t2)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestLookup(t *testing.T) {
	var seen rankedListArgs
	client := startServer(t, func(in rankedListArgs) (string, bool) {
		seen = in
		return `[{"id":"OMIM:154700","omim_disease_name_en":"Marfan syndrome","score":0.9},
		         {"id":"OMIM:609192","omim_disease_name_en":"Loeys-Dietz syndrome 2","score":0.7}]`, false
	})

	got, err := client.Lookup(context.Background(), []string{"HP:0001166", "HP:0000098"}, 1)
	if err != nil {
		t.Fatal(err)
	}

	if seen.Target != "omim" || seen.Format != "json" || seen.HPOID != "HP:0001166,HP:0000098" {
		t.Errorf("tool arguments = %+v", seen)
	}
	if len(got) != 1 || got[0].Name != "Marfan syndrome" || got[0].ExternalID != "OMIM:154700" {
		t.Errorf("matches = %+v", got)
	}
}

func TestLookup_ToolError(t *testing.T) {
	client := startServer(t, func(rankedListArgs) (string, bool) {
		return "upstream timeout", true
	})

	_, err := client.Lookup(context.Background(), []string{"HP:1"}, 5)
	if err == nil || err.Error() != fmt.Sprintf("pcfmcp: %s failed: upstream timeout", ToolName) {
		t.Errorf("err = %v", err)
	}
}

func TestLookup_NonJSON(t *testing.T) {
	client := startServer(t, func(rankedListArgs) (string, bool) {
		return "not json", false
	})

	if _, err := client.Lookup(context.Background(), []string{"HP:1"}, 5); err == nil {
		t.Error("non-JSON content accepted")
	}
}

func TestDial_RequiresTarget(t *testing.T) {
	if _, err := Dial(context.Background(), "", nil); err == nil {
		t.Error("Dial without endpoint or command succeeded")
	}
}
