package app

import "github.com/spf13/pflag"

// RegisterFlags registers all CLI flags on the given FlagSet.
// Zero defaults leave the settings defaults in effect unless a flag is set.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.StringP("transport", "t", "", "Transport type: stdio or sse")
	flags.StringP("host", "H", "", "Host for SSE transport")
	flags.IntP("port", "p", 0, "Port for SSE transport")
	flags.StringP("log-level", "l", "", "Log level: debug, info, warn or error")
	flags.StringP("auth-type", "a", "", "Authentication type: none, basic, or apikey")
	flags.StringP("auth-basic-username", "u", "", "Basic auth username")
	flags.StringP("auth-basic-password", "P", "", "Basic auth password")
	flags.StringSliceP("auth-api-keys", "k", nil, "API keys (comma-separated)")

	RegisterIndexFlags(flags)
}

// RegisterIndexFlags registers the flags shared by every command that opens
// the blueprint index.
func RegisterIndexFlags(flags *pflag.FlagSet) {
	flags.StringP("project-dir", "d", "", "Directory holding the project's blueprint files")
	flags.String("mount-point", "", "Package path prefix of the project content (default /Game)")
	flags.Bool("watch", false, "Watch the project directory for changes (default true)")
	flags.Bool("cache-on-start", false, "Index every uncached blueprint at startup")
	flags.Int64("max-file-size", 0, "Skip blueprint files larger than this many bytes")
	flags.Int("loaded-limit", 0, "Maximum number of blueprints kept loaded")
	flags.Duration("tick-interval", 0, "Pause between bulk indexing steps")
	flags.Duration("compact-interval", 0, "Interval between index compactions")
	flags.Int("max-results", 0, "Maximum number of blueprints returned by a search")

	flags.String("cache-backend", "", "Cache backend: memory, dir, sqlite or redis")
	flags.String("cache-dir", "", "Directory for the cache, manifest and lock file")
	flags.String("cache-compression", "", "Cache compression: none, lz4 or zstd")
	flags.Int("cache-memory-entries", 0, "Entries kept in the in-memory cache tier")
	flags.Int("cache-writers", 0, "Background cache writer goroutines")
	flags.String("redis-addr", "", "Redis address for the redis cache backend")
	flags.String("redis-password", "", "Redis password")
	flags.Int("redis-db", 0, "Redis database number")
	flags.Duration("redis-ttl", 0, "Expiry of cache entries written to redis")
}
