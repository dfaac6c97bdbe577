package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sha1n/mcp-fib-server/internal/app"
)

var (
	// Version is injected at build time
	Version = "dev"
	// Build is injected at build time
	Build = "unknown"
	// ProgramName is injected at build time
	ProgramName = "fib-mcp"
)

func main() {
	runMain(os.Args, os.Exit)
}

func runMain(args []string, exit func(int)) {
	if err := Execute(Version, Build, ProgramName, args[1:]); err != nil {
		exit(1)
	}
}

// Execute is the entry point for the CLI, extracted for testing
func Execute(version, build, programName string, args []string) error {
	rootCmd := &cobra.Command{
		Use:     programName,
		Short:   "Find-in-Blueprints MCP Server",
		Long:    "Full-text search over the graphs, nodes, pins and variables of a project's blueprints, served over MCP",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithFlags(cmd.Context(), cmd.Flags(), version)
		},
	}

	rootCmd.SetVersionTemplate(`{{.Version}}
`)

	app.RegisterFlags(rootCmd.Flags())
	rootCmd.AddCommand(newSearchCmd(), newIndexCmd(), newStatusCmd())
	rootCmd.SetArgs(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func runWithFlags(ctx context.Context, flags *pflag.FlagSet, version string) error {
	return app.RunWithDeps(ctx, app.DefaultRunParams(), flags, version)
}

func newSearchCmd() *cobra.Command {
	var limit int
	var cacheFirst bool
	cmd := &cobra.Command{
		Use:   "search QUERY...",
		Short: "Search the project's blueprints and print the matches",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunSearch(cmd.Context(), cmd.Flags(), cmd.OutOrStdout(), strings.Join(args, " "), limit, cacheFirst)
		},
	}
	app.RegisterIndexFlags(cmd.Flags())
	cmd.Flags().StringP("log-level", "l", "", "Log level: debug, info, warn or error")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of blueprints to print")
	cmd.Flags().BoolVar(&cacheFirst, "cache", false, "Index uncached blueprints before searching")
	return cmd
}

func newIndexCmd() *cobra.Command {
	var stampGUIDs bool
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index every uncached blueprint into the cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunIndex(cmd.Context(), cmd.Flags(), cmd.OutOrStdout(), stampGUIDs)
		},
	}
	app.RegisterIndexFlags(cmd.Flags())
	cmd.Flags().StringP("log-level", "l", "", "Log level: debug, info, warn or error")
	cmd.Flags().BoolVar(&stampGUIDs, "stamp-guids", false, "Write a search GUID into blueprint files that lack one first")
	return cmd
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print index counters for the project as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunStatus(cmd.Context(), cmd.Flags(), cmd.OutOrStdout())
		},
	}
	app.RegisterIndexFlags(cmd.Flags())
	cmd.Flags().StringP("log-level", "l", "", "Log level: debug, info, warn or error")
	return cmd
}
