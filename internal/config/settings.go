package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Auth type constants
const (
	AuthTypeNone   = "none"
	AuthTypeBasic  = "basic"
	AuthTypeAPIKey = "apikey"
)

// Cache backend constants
const (
	CacheBackendMemory = "memory"
	CacheBackendDir    = "dir"
	CacheBackendSQLite = "sqlite"
	CacheBackendRedis  = "redis"
)

// EnvPrefix is the prefix of every environment variable read by the server.
const EnvPrefix = "FIB_MCP"

// AuthSettings configuration for authentication
type AuthSettings struct {
	Type    string            `mapstructure:"type"` // AuthTypeNone, AuthTypeBasic, or AuthTypeAPIKey
	Basic   BasicAuthSettings `mapstructure:"basic"`
	APIKeys []string          `mapstructure:"api_keys"`
}

// BasicAuthSettings configuration for basic auth
type BasicAuthSettings struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// IndexSettings configuration for the blueprint search index
type IndexSettings struct {
	ProjectDir      string        `mapstructure:"project_dir"`
	MountPoint      string        `mapstructure:"mount_point"`
	Watch           bool          `mapstructure:"watch"`
	CacheOnStart    bool          `mapstructure:"cache_on_start"`
	MaxFileSize     int64         `mapstructure:"max_file_size"`
	LoadedLimit     int           `mapstructure:"loaded_limit"`
	TickInterval    time.Duration `mapstructure:"tick_interval"`
	CompactInterval time.Duration `mapstructure:"compact_interval"`
	MaxResults      int           `mapstructure:"max_results"`
}

// CacheSettings configuration for the persistent document cache
type CacheSettings struct {
	Backend       string        `mapstructure:"backend"` // memory, dir, sqlite or redis
	Dir           string        `mapstructure:"dir"`
	Compression   string        `mapstructure:"compression"` // none, lz4 or zstd
	MemoryEntries int           `mapstructure:"memory_entries"`
	Writers       int           `mapstructure:"writers"`
	Redis         RedisSettings `mapstructure:"redis"`
}

// RedisSettings configuration for the redis cache backend
type RedisSettings struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// Settings application settings
type Settings struct {
	Transport string        `mapstructure:"transport"`
	Host      string        `mapstructure:"host"`
	Port      int           `mapstructure:"port"`
	LogLevel  string        `mapstructure:"log_level"`
	Auth      AuthSettings  `mapstructure:"auth"`
	Index     IndexSettings `mapstructure:"index"`
	Cache     CacheSettings `mapstructure:"cache"`
}

// flagKeys maps CLI flag names to settings keys.
var flagKeys = map[string]string{
	"transport":           "transport",
	"host":                "host",
	"port":                "port",
	"log-level":           "log_level",
	"auth-type":           "auth.type",
	"auth-basic-username": "auth.basic.username",
	"auth-basic-password": "auth.basic.password",
	"auth-api-keys":       "auth.api_keys",

	"project-dir":      "index.project_dir",
	"mount-point":      "index.mount_point",
	"watch":            "index.watch",
	"cache-on-start":   "index.cache_on_start",
	"max-file-size":    "index.max_file_size",
	"loaded-limit":     "index.loaded_limit",
	"tick-interval":    "index.tick_interval",
	"compact-interval": "index.compact_interval",
	"max-results":      "index.max_results",

	"cache-backend":        "cache.backend",
	"cache-dir":            "cache.dir",
	"cache-compression":    "cache.compression",
	"cache-memory-entries": "cache.memory_entries",
	"cache-writers":        "cache.writers",
	"redis-addr":           "cache.redis.addr",
	"redis-password":       "cache.redis.password",
	"redis-db":             "cache.redis.db",
	"redis-ttl":            "cache.redis.ttl",
}

// LoadSettings loads settings from environment variables and optional .env file
func LoadSettings() (*Settings, error) {
	return LoadSettingsWithFlags(nil)
}

// LoadSettingsWithFlags loads settings with optional CLI flag overrides.
// Priority: CLI flags > environment variables > .env file > defaults.
// If flags is nil, only env vars and defaults are used.
func LoadSettingsWithFlags(flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()

	// Default values
	v.SetDefault("transport", "stdio")
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("auth.type", AuthTypeNone)

	// Index defaults
	v.SetDefault("index.project_dir", ".")
	v.SetDefault("index.mount_point", "/Game")
	v.SetDefault("index.watch", true)
	v.SetDefault("index.cache_on_start", false)
	v.SetDefault("index.max_file_size", int64(8*1024*1024)) // 8MB
	v.SetDefault("index.loaded_limit", 256)
	v.SetDefault("index.tick_interval", 10*time.Millisecond)
	v.SetDefault("index.compact_interval", 5*time.Minute)
	v.SetDefault("index.max_results", 50)

	// Cache defaults
	v.SetDefault("cache.backend", CacheBackendDir)
	v.SetDefault("cache.dir", defaultCacheDir())
	v.SetDefault("cache.compression", "zstd")
	v.SetDefault("cache.memory_entries", 1024)
	v.SetDefault("cache.writers", 2)
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.ttl", time.Duration(0))

	// Environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind specific env vars for nested config
	for _, key := range flagKeys {
		_ = v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
	}

	// Bind CLI flags if provided (highest priority)
	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				_ = v.BindPFlag(key, f)
			}
		}
	}

	// Helper to look for .env file
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // Ignore error if .env doesn't exist

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, err
	}

	// Handle explicit parsing of API keys if provided via env var as comma-separated string
	apiKeysEnv := os.Getenv(EnvPrefix + "_AUTH_API_KEYS")
	if apiKeysEnv != "" {
		if len(settings.Auth.APIKeys) == 0 || (len(settings.Auth.APIKeys) == 1 && strings.Contains(settings.Auth.APIKeys[0], ",")) {
			settings.Auth.APIKeys = strings.Split(apiKeysEnv, ",")
		}
	}

	// Trim spaces from API keys
	for i := range settings.Auth.APIKeys {
		settings.Auth.APIKeys[i] = strings.TrimSpace(settings.Auth.APIKeys[i])
	}
	settings.Auth.APIKeys = filterEmptyStrings(settings.Auth.APIKeys)

	settings.Index.ProjectDir = expandHomeDir(settings.Index.ProjectDir)
	settings.Cache.Dir = expandHomeDir(settings.Cache.Dir)
	settings.Cache.Backend = strings.ToLower(strings.TrimSpace(settings.Cache.Backend))
	settings.Cache.Compression = strings.ToLower(strings.TrimSpace(settings.Cache.Compression))

	return &settings, nil
}

// defaultCacheDir returns the default directory for cache data, the
// manifest and the bulk indexing lock
func defaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".fib-mcp"
	}
	return filepath.Join(home, ".fib-mcp")
}

// expandHomeDir expands ~ to the user's home directory
func expandHomeDir(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home
	}
	return path
}

// filterEmptyStrings removes empty strings from a slice
func filterEmptyStrings(s []string) []string {
	var result []string
	for _, str := range s {
		if str != "" {
			result = append(result, str)
		}
	}
	return result
}

// ValidateSettings checks for conflicting configurations.
// Returns an error if the settings contain mutually exclusive or incomplete auth config.
func ValidateSettings(s *Settings) error {
	// Validate transport type
	switch s.Transport {
	case "stdio", "sse":
		// valid
	default:
		return errors.New("transport must be 'stdio' or 'sse', got: " + s.Transport)
	}

	hasBasicCreds := s.Auth.Basic.Username != "" || s.Auth.Basic.Password != ""
	hasAPIKeys := len(s.Auth.APIKeys) > 0

	switch s.Auth.Type {
	case AuthTypeNone, "":
		if hasBasicCreds || hasAPIKeys {
			return errors.New("auth-type 'none' is incompatible with auth credentials")
		}
	case AuthTypeBasic:
		if hasAPIKeys {
			return errors.New("auth-type 'basic' is mutually exclusive with auth-api-keys")
		}
		if s.Auth.Basic.Username == "" || s.Auth.Basic.Password == "" {
			return errors.New("auth-type 'basic' requires both username and password")
		}
	case AuthTypeAPIKey:
		if hasBasicCreds {
			return errors.New("auth-type 'apikey' is mutually exclusive with basic auth credentials")
		}
		if !hasAPIKeys {
			return errors.New("auth-type 'apikey' requires at least one API key")
		}
	default:
		return errors.New("unknown auth-type: " + s.Auth.Type)
	}

	if err := validateIndexSettings(&s.Index); err != nil {
		return err
	}
	return validateCacheSettings(&s.Cache)
}

// validateIndexSettings validates the index configuration
func validateIndexSettings(idx *IndexSettings) error {
	if idx.ProjectDir == "" {
		return errors.New("project-dir cannot be empty")
	}
	if !strings.HasPrefix(idx.MountPoint, "/") || strings.Trim(idx.MountPoint, "/") == "" {
		return fmt.Errorf("mount-point must be an absolute package path, got: %q", idx.MountPoint)
	}
	if idx.MaxFileSize < 0 {
		return errors.New("max-file-size cannot be negative")
	}
	if idx.LoadedLimit <= 0 {
		return errors.New("loaded-limit must be positive")
	}
	if idx.TickInterval < 0 {
		return errors.New("tick-interval cannot be negative")
	}
	if idx.CompactInterval <= 0 {
		return errors.New("compact-interval must be positive")
	}
	if idx.MaxResults <= 0 {
		return errors.New("max-results must be positive")
	}
	return nil
}

// validateCacheSettings validates the cache configuration
func validateCacheSettings(c *CacheSettings) error {
	switch c.Backend {
	case CacheBackendMemory, CacheBackendRedis:
	case CacheBackendDir, CacheBackendSQLite:
		if c.Dir == "" {
			return fmt.Errorf("cache backend '%s' requires cache-dir", c.Backend)
		}
	default:
		return errors.New("cache-backend must be one of memory, dir, sqlite, redis, got: " + c.Backend)
	}

	switch c.Compression {
	case "none", "lz4", "zstd":
	default:
		return errors.New("cache-compression must be one of none, lz4, zstd, got: " + c.Compression)
	}

	if c.MemoryEntries < 0 {
		return errors.New("cache-memory-entries cannot be negative")
	}
	if c.Writers <= 0 {
		return errors.New("cache-writers must be positive")
	}
	if c.Backend == CacheBackendRedis {
		if c.Redis.Addr == "" {
			return errors.New("cache backend 'redis' requires redis-addr")
		}
		if c.Redis.DB < 0 {
			return errors.New("redis-db cannot be negative")
		}
		if c.Redis.TTL < 0 {
			return errors.New("redis-ttl cannot be negative")
		}
	}
	return nil
}
