package auth

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sha1n/mcp-fib-server/internal/config"
	"github.com/sha1n/mcp-fib-server/internal/metrics"
)

// DefaultExcludedPaths bypass authentication so probes and scrapers work
// without credentials.
var DefaultExcludedPaths = []string{"/health", "/metrics"}

// Options configures the authentication middleware.
type Options struct {
	Settings config.AuthSettings
	// ExcludedPaths defaults to DefaultExcludedPaths when nil.
	ExcludedPaths []string
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
}

// checker reports whether a request carries valid credentials.
type checker func(r *http.Request) bool

// NewMiddleware creates a new authentication middleware based on settings
func NewMiddleware(opts Options) (func(http.Handler) http.Handler, error) {
	settings := opts.Settings

	var check checker
	var challenge string
	switch settings.Type {
	case config.AuthTypeNone, "":
		return func(next http.Handler) http.Handler {
			return next
		}, nil
	case config.AuthTypeBasic:
		if settings.Basic.Username == "" || settings.Basic.Password == "" {
			return nil, fmt.Errorf("basic auth requires non-empty username and password")
		}
		check = basicAuth(settings.Basic)
		challenge = `Basic realm="fib-mcp"`
	case config.AuthTypeAPIKey:
		if len(settings.APIKeys) == 0 {
			return nil, fmt.Errorf("apikey auth requires at least one API key")
		}
		check = apiKeyAuth(settings.APIKeys)
	default:
		return nil, fmt.Errorf("unknown auth type: %s", settings.Type)
	}

	excluded := opts.ExcludedPaths
	if excluded == nil {
		excluded = DefaultExcludedPaths
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	g := &guard{
		scheme:    settings.Type,
		check:     check,
		challenge: challenge,
		excluded:  make(map[string]bool, len(excluded)),
		logger:    logger.With("component", "auth"),
		metrics:   opts.Metrics,
	}
	for _, p := range excluded {
		g.excluded[p] = true
	}
	return g.wrap, nil
}

type guard struct {
	scheme    string
	check     checker
	challenge string
	excluded  map[string]bool
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

func (g *guard) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.excluded[r.URL.Path] || g.check(r) {
			next.ServeHTTP(w, r)
			return
		}

		g.metrics.AuthRejected(g.scheme)
		g.logger.Debug("request rejected", "path", r.URL.Path, "remote", r.RemoteAddr)
		if g.challenge != "" {
			w.Header().Set("WWW-Authenticate", g.challenge)
		}
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	})
}

func basicAuth(settings config.BasicAuthSettings) checker {
	return func(r *http.Request) bool {
		user, pass, ok := r.BasicAuth()
		userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(settings.Username)) == 1
		passMatch := subtle.ConstantTimeCompare([]byte(pass), []byte(settings.Password)) == 1
		return ok && userMatch && passMatch
	}
}

// apiKeyAuth accepts the key in X-API-Key or as a bearer token.
func apiKeyAuth(apiKeys []string) checker {
	return func(r *http.Request) bool {
		key := requestKey(r)
		if key == "" {
			return false
		}
		valid := false
		for _, validKey := range apiKeys {
			if subtle.ConstantTimeCompare([]byte(key), []byte(validKey)) == 1 {
				valid = true
			}
		}
		return valid
	}
}

func requestKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	const prefix = "Bearer "
	authz := r.Header.Get("Authorization")
	if len(authz) > len(prefix) && strings.EqualFold(authz[:len(prefix)], prefix) {
		return strings.TrimSpace(authz[len(prefix):])
	}
	return ""
}
