package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/pflag"

	"github.com/sha1n/mcp-fib-server/internal/assets"
	"github.com/sha1n/mcp-fib-server/internal/config"
	"github.com/sha1n/mcp-fib-server/internal/fib"
	mcputil "github.com/sha1n/mcp-fib-server/internal/mcp"
)

// loadCommandSettings loads and validates settings for one-shot commands.
// The index is never watched outside the server.
func loadCommandSettings(flags *pflag.FlagSet) (*config.Settings, error) {
	settings, err := config.LoadSettingsWithFlags(flags)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	settings.Transport = "stdio"
	settings.Index.Watch = false
	if err := config.ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	ConfigureLogging(settings.LogLevel)
	return settings, nil
}

// RunSearch opens the index, optionally indexes uncached blueprints first,
// and writes the results of query to w.
func RunSearch(ctx context.Context, flags *pflag.FlagSet, w io.Writer, query string, limit int, cacheFirst bool) error {
	settings, err := loadCommandSettings(flags)
	if err != nil {
		return err
	}

	ix, err := OpenIndex(ctx, settings, nil, slog.Default())
	if err != nil {
		return err
	}
	defer func() {
		if err := ix.Close(); err != nil {
			slog.Error("Failed to close index", "error", err)
		}
	}()

	if cacheFirst {
		if _, err := cacheAll(ctx, ix.Manager); err != nil {
			return err
		}
	}

	maxResults := settings.Index.MaxResults
	if limit > 0 {
		maxResults = limit
	}
	handler := mcputil.NewSearchHandler(ix.Manager, maxResults, nil)
	res, _, err := handler.Handle(ctx, nil, mcputil.SearchArgument{Query: query})
	if err != nil {
		return err
	}
	return writeResult(w, res)
}

// RunIndex indexes every uncached blueprint and writes the summary to w.
// With stampGUIDs, blueprint files without a search GUID are given one first.
func RunIndex(ctx context.Context, flags *pflag.FlagSet, w io.Writer, stampGUIDs bool) error {
	settings, err := loadCommandSettings(flags)
	if err != nil {
		return err
	}

	if stampGUIDs {
		// Stamp before registration so every record is keyed by its GUID.
		registry, err := assets.NewRegistry(assets.Options{
			Root:       settings.Index.ProjectDir,
			MountPoint: settings.Index.MountPoint,
			Filter:     assets.NewFilter(settings.Index.MaxFileSize),
		})
		if err != nil {
			return fmt.Errorf("failed to open project: %w", err)
		}
		n, err := registry.AssignSearchGUIDs(ctx)
		if err != nil {
			return fmt.Errorf("failed to assign search GUIDs: %w", err)
		}
		_, _ = fmt.Fprintf(w, "Assigned search GUIDs to %d blueprints.\n", n)
	}

	ix, err := OpenIndex(ctx, settings, nil, slog.Default())
	if err != nil {
		return err
	}
	defer func() {
		if err := ix.Close(); err != nil {
			slog.Error("Failed to close index", "error", err)
		}
	}()

	summary, err := cacheAll(ctx, ix.Manager)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "Indexed %d blueprints: %d cached, %d failed, %d remaining.\n",
		summary.Processed, summary.Cached, summary.Failed, summary.Remaining)
	return err
}

// RunStatus writes the index status of the project as JSON.
func RunStatus(ctx context.Context, flags *pflag.FlagSet, w io.Writer) error {
	settings, err := loadCommandSettings(flags)
	if err != nil {
		return err
	}
	ix, err := OpenIndex(ctx, settings, nil, slog.Default())
	if err != nil {
		return err
	}
	defer func() { _ = ix.Close() }()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(ix.Manager.Status())
}

// cacheAll runs bulk indexing to completion.
func cacheAll(ctx context.Context, m *fib.Manager) (fib.CacheSummary, error) {
	done := make(chan fib.CacheSummary, 1)
	if err := m.StartCacheAll(func(s fib.CacheSummary) { done <- s }); err != nil {
		if errors.Is(err, fib.ErrCacheBusy) {
			return fib.CacheSummary{}, errors.New("bulk indexing is already running in another process sharing this cache")
		}
		return fib.CacheSummary{}, err
	}
	select {
	case s := <-done:
		return s, nil
	case <-ctx.Done():
		m.CancelCacheAll()
		return fib.CacheSummary{}, ctx.Err()
	}
}

func writeResult(w io.Writer, res *mcp.CallToolResult) error {
	var sb strings.Builder
	for _, c := range res.Content {
		if text, ok := c.(*mcp.TextContent); ok {
			sb.WriteString(text.Text)
		}
	}
	if res.IsError {
		return errors.New(sb.String())
	}
	_, err := io.WriteString(w, sb.String())
	return err
}
