package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/pflag"

	"github.com/sha1n/mcp-fib-server/internal/config"
	mcputil "github.com/sha1n/mcp-fib-server/internal/mcp"
	"github.com/sha1n/mcp-fib-server/internal/metrics"
)

// ServerName is the MCP implementation name reported to clients.
const ServerName = "fib-mcp"

// RunParams contains dependencies for the run function
type RunParams struct {
	LoadSettings      func(*pflag.FlagSet) (*config.Settings, error)
	ValidSettings     func(*config.Settings) error
	StartSSEServer    func(context.Context, *mcp.Server, *config.Settings, *metrics.Metrics) error
	CreateServer      func(context.Context, *config.Settings, *metrics.Metrics) (*mcp.Server, func(), error)
	CustomIOTransport mcp.Transport // Optional: for testing with custom IO
}

// DefaultRunParams returns production dependencies
func DefaultRunParams() RunParams {
	return RunParams{
		LoadSettings:   config.LoadSettingsWithFlags,
		ValidSettings:  config.ValidateSettings,
		StartSSEServer: StartSSEServer,
		CreateServer:   CreateMCPServer,
	}
}

// RunWithDeps executes the server with the provided dependencies
func RunWithDeps(ctx context.Context, params RunParams, flags *pflag.FlagSet, version string) error {
	settings, err := params.LoadSettings(flags)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	if err := params.ValidSettings(settings); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Always log to stderr; stdout carries the stdio transport.
	ConfigureLogging(settings.LogLevel)

	slog.Info("Starting blueprint search MCP server", "version", version)
	config.Log(settings)

	m := metrics.New()
	mcpServer, cleanup, err := params.CreateServer(ctx, settings, m)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	if settings.Transport == "stdio" {
		transport := params.CustomIOTransport
		if transport == nil {
			transport = &mcp.StdioTransport{}
		}
		return mcpServer.Run(ctx, transport)
	}
	slog.Info("Starting SSE server", "host", settings.Host, "port", settings.Port)
	return params.StartSSEServer(ctx, mcpServer, settings, m)
}

// ConfigureLogging installs a stderr text logger at level. Empty and unknown
// levels fall back to info.
func ConfigureLogging(level string) {
	lvl, err := config.ParseLogLevel(level)
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
	if err != nil && level != "" {
		slog.Warn("Invalid log level, using info", "level", level)
	}
}

// CreateMCPServer opens the blueprint index, starts its background work and
// creates the MCP server with registered tools.
func CreateMCPServer(ctx context.Context, settings *config.Settings, m *metrics.Metrics) (*mcp.Server, func(), error) {
	ix, err := OpenIndex(ctx, settings, m, slog.Default())
	if err != nil {
		return nil, nil, err
	}

	if settings.Index.CacheOnStart {
		if err := ix.StartCaching(); err != nil {
			slog.Error("Bulk indexing could not start", "error", err)
		}
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := ix.Run(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("Index background work stopped", "error", err)
		}
	}()

	cleanup := func() {
		cancel()
		<-done
		if err := ix.Close(); err != nil {
			slog.Error("Failed to close index", "error", err)
		}
	}

	server := mcputil.CreateServer(mcputil.ServerConfig{
		Name:       ServerName,
		Version:    "1.0.0",
		Index:      ix.Manager,
		MaxResults: settings.Index.MaxResults,
		Metrics:    m,
	})

	return server, cleanup, nil
}
