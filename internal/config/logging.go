package config

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// ParseLogLevel converts a level name to a slog.Level.
func ParseLogLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return l, nil
}

// Log logs the resolved settings in a granular way, skipping irrelevant ones
func Log(s *Settings) {
	LogWithLogger(s, slog.Default())
}

// LogWithLogger logs the resolved settings using the provided logger
func LogWithLogger(s *Settings, logger *slog.Logger) {
	ctx := context.Background()
	logger.InfoContext(ctx, "Config: transport", "value", s.Transport)
	if s.Transport == "sse" {
		logger.InfoContext(ctx, "Config: host", "value", s.Host)
		logger.InfoContext(ctx, "Config: port", "value", s.Port)
	}

	logger.InfoContext(ctx, "Config: auth.type", "value", s.Auth.Type)
	switch s.Auth.Type {
	case AuthTypeBasic:
		logger.InfoContext(ctx, "Config: auth.basic.username", "value", s.Auth.Basic.Username)
		logger.InfoContext(ctx, "Config: auth.basic.password", "value", "****")
	case AuthTypeAPIKey:
		logger.InfoContext(ctx, "Config: auth.api_keys", "count", len(s.Auth.APIKeys))
	}

	logger.InfoContext(ctx, "Config: index", "value", IndexSettingsLogValue(s.Index))
	logger.InfoContext(ctx, "Config: cache", "value", CacheSettingsLogValue(s.Cache))
}

// AuthSettingsLogValue returns a slog.Value for AuthSettings with masked data
func AuthSettingsLogValue(s AuthSettings) slog.Value {
	keys := make([]string, len(s.APIKeys))
	for i := range s.APIKeys {
		keys[i] = "****"
	}
	return slog.GroupValue(
		slog.String("type", s.Type),
		slog.Any("basic", BasicAuthSettingsLogValue(s.Basic)),
		slog.Any("api_keys", keys),
	)
}

// BasicAuthSettingsLogValue returns a slog.Value for BasicAuthSettings with masked data
func BasicAuthSettingsLogValue(s BasicAuthSettings) slog.Value {
	return slog.GroupValue(
		slog.String("username", s.Username),
		slog.String("password", "****"),
	)
}

// IndexSettingsLogValue returns a slog.Value for IndexSettings
func IndexSettingsLogValue(s IndexSettings) slog.Value {
	return slog.GroupValue(
		slog.String("project_dir", s.ProjectDir),
		slog.String("mount_point", s.MountPoint),
		slog.Bool("watch", s.Watch),
		slog.Bool("cache_on_start", s.CacheOnStart),
		slog.Int("loaded_limit", s.LoadedLimit),
		slog.Duration("tick_interval", s.TickInterval),
		slog.Duration("compact_interval", s.CompactInterval),
		slog.Int("max_results", s.MaxResults),
	)
}

// CacheSettingsLogValue returns a slog.Value for CacheSettings. Redis
// settings are only included for the redis backend, with the password masked.
func CacheSettingsLogValue(s CacheSettings) slog.Value {
	attrs := []slog.Attr{
		slog.String("backend", s.Backend),
		slog.String("dir", s.Dir),
		slog.String("compression", s.Compression),
		slog.Int("memory_entries", s.MemoryEntries),
		slog.Int("writers", s.Writers),
	}
	if s.Backend == CacheBackendRedis {
		password := ""
		if s.Redis.Password != "" {
			password = "****"
		}
		attrs = append(attrs, slog.Any("redis", slog.GroupValue(
			slog.String("addr", s.Redis.Addr),
			slog.String("password", password),
			slog.Int("db", s.Redis.DB),
			slog.Duration("ttl", s.Redis.TTL),
		)))
	}
	return slog.GroupValue(attrs...)
}

// SettingsLogValue returns a slog.Value for Settings with masked data
func SettingsLogValue(s Settings) slog.Value {
	return slog.GroupValue(
		slog.String("transport", s.Transport),
		slog.String("host", s.Host),
		slog.Int("port", s.Port),
		slog.String("log_level", s.LogLevel),
		slog.Any("auth", AuthSettingsLogValue(s.Auth)),
		slog.Any("index", IndexSettingsLogValue(s.Index)),
		slog.Any("cache", CacheSettingsLogValue(s.Cache)),
	)
}
