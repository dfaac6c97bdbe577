package mcp

import (
	"context"
	"sort"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func connect(t *testing.T, server *mcp.Server) *mcp.ClientSession {
	t.Helper()
	ctx := testContext(t)

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := server.Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server connect failed: %v", err)
	}
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect failed: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func listToolNames(t *testing.T, session *mcp.ClientSession) []string {
	t.Helper()
	res, err := session.ListTools(testContext(t), &mcp.ListToolsParams{})
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	return names
}

func TestCreateServer_WithoutIndex(t *testing.T) {
	server := CreateServer(ServerConfig{Name: "test-server", Version: "1.0.0"})
	if server == nil {
		t.Fatal("expected server to be created")
	}

	if session := connect(t, server); session == nil {
		t.Fatal("expected client session")
	}
}

func TestCreateServer_RegistersTools(t *testing.T) {
	server := CreateServer(ServerConfig{
		Name:    "test-server",
		Version: "1.0.0",
		Index:   newTestIndex(t, testProject),
	})

	got := listToolNames(t, connect(t, server))
	want := []string{
		StatusToolName,
		CacheAllToolName,
		CancelCacheAllToolName,
		SearchToolName,
		QuerySingleToolName,
	}
	sort.Strings(want)

	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("expected tools %v, got %v", want, got)
	}
}

func TestServer_CallTools(t *testing.T) {
	server := CreateServer(ServerConfig{
		Name:       "test-server",
		Version:    "1.0.0",
		Index:      newTestIndex(t, testProject),
		MaxResults: 10,
	})
	session := connect(t, server)

	call := func(name string, args map[string]any) string {
		t.Helper()
		res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
		if err != nil {
			t.Fatalf("CallTool(%s) failed: %v", name, err)
		}
		if res.IsError {
			t.Fatalf("CallTool(%s) returned error result: %s", name, resultText(t, res))
		}
		return resultText(t, res)
	}

	if got := call(CacheAllToolName, map[string]any{"wait": true}); !strings.Contains(got, "2 cached") {
		t.Errorf("unexpected cache_all response: %s", got)
	}

	got := call(SearchToolName, map[string]any{"query": "PrintWarning"})
	if !strings.Contains(got, "/Game/Characters/BP_Enemy") {
		t.Errorf("expected enemy blueprint in results, got:\n%s", got)
	}
	if strings.Contains(got, "/Game/BP_Hero") {
		t.Errorf("did not expect hero blueprint in results, got:\n%s", got)
	}

	if got := call(StatusToolName, map[string]any{}); !strings.Contains(got, `"uncached": 0`) {
		t.Errorf("unexpected status: %s", got)
	}
}

func TestServer_SearchRequiresQuery(t *testing.T) {
	server := CreateServer(ServerConfig{
		Name:    "test-server",
		Version: "1.0.0",
		Index:   newTestIndex(t, testProject),
	})
	session := connect(t, server)

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      SearchToolName,
		Arguments: map[string]any{"query": ""},
	})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if !res.IsError {
		t.Error("expected error result for empty query")
	}
}
