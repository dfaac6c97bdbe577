package mcp

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sha1n/mcp-fib-server/internal/assets"
	"github.com/sha1n/mcp-fib-server/internal/cache"
	"github.com/sha1n/mcp-fib-server/internal/fib"
)

const heroBlueprint = `search_guid: hero-guid
uber_graphs:
  - name: EventGraph
    nodes:
      - kind: event
        title: Event BeginPlay
        member: ReceiveBeginPlay
      - kind: call_function
        title: Print String
        member: PrintString
        target: KismetSystemLibrary
`

const enemyBlueprint = `uber_graphs:
  - name: EventGraph
    nodes:
      - kind: call_function
        title: Print Warning
        member: PrintWarning
`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestIndex builds an initialized index over a project with the given
// blueprint files, keyed by path relative to the content root.
func newTestIndex(t *testing.T, files map[string]string) *fib.Manager {
	t.Helper()

	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatalf("failed to create dir: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", rel, err)
		}
	}

	registry, err := assets.NewRegistry(assets.Options{Root: root, Logger: testLogger()})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	c, err := cache.New(cache.Options{Store: cache.NewMemoryStore(), Codec: cache.CodecLZ4, Logger: testLogger()})
	if err != nil {
		t.Fatalf("cache.New failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	m, err := fib.NewManager(fib.Options{Registry: registry, Cache: c, Logger: testLogger()})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	registry.SetListener(m)

	if err := m.Initialize(testContext(t)); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return m
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatal("expected result content")
	}
	text, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", res.Content[0])
	}
	return text.Text
}
