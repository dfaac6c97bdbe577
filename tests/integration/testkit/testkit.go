// Package testkit runs fib-mcp servers for integration tests.
package testkit

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/sha1n/mcp-fib-server/internal/app"
)

// Service is a dependency an Env starts and stops.
type Service interface {
	Name() string
	Start() (map[string]any, error)
	Stop() error
}

// Env starts services in order and stops them in reverse. Properties
// reported by each service are merged into one map.
type Env struct {
	services []Service
	started  []Service
	props    map[string]any
}

// NewTestEnv creates an environment for services.
func NewTestEnv(services ...Service) *Env {
	return &Env{services: services, props: make(map[string]any)}
}

// Start starts every service. If one fails, the services already started
// are stopped again.
func (e *Env) Start() (map[string]any, error) {
	for _, s := range e.services {
		props, err := s.Start()
		if err != nil {
			return nil, errors.Join(fmt.Errorf("failed to start %s: %w", s.Name(), err), e.Stop())
		}
		e.started = append(e.started, s)
		maps.Copy(e.props, props)
	}
	return e.props, nil
}

// Stop stops the started services, last started first.
func (e *Env) Stop() error {
	var errs []error
	for i := len(e.started) - 1; i >= 0; i-- {
		if err := e.started[i].Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop %s: %w", e.started[i].Name(), err))
		}
	}
	e.started = nil
	return errors.Join(errs...)
}

// Property returns a property collected on Start.
func (e *Env) Property(name string) (any, bool) {
	v, ok := e.props[name]
	return v, ok
}

// FreePort returns an unused local TCP port or fails the test.
func FreePort(t testing.TB) int {
	t.Helper()
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("Failed to get free port: %v", err)
	}
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port
}

// FlagOptions configures NewTestFlags
type FlagOptions struct {
	Port      int    // Uses free port if 0
	Transport string // Defaults to "sse"
	AuthType  string // Defaults to "none"
	Host      string // Defaults to "localhost"
	APIKeys   []string

	ProjectDir   string // Defaults to a fresh temp dir
	CacheDir     string // Defaults to a fresh temp dir
	CacheBackend string // Defaults to "dir"
	CacheOnStart bool
}

// NewTestFlags creates a configured pflag.FlagSet for testing
func NewTestFlags(t testing.TB, opts *FlagOptions) *pflag.FlagSet {
	t.Helper()

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	app.RegisterFlags(flags)

	o := FlagOptions{
		Transport:    "sse",
		AuthType:     "none",
		Host:         "localhost",
		CacheBackend: "dir",
	}
	if opts != nil {
		if opts.Port != 0 {
			o.Port = opts.Port
		}
		if opts.Transport != "" {
			o.Transport = opts.Transport
		}
		if opts.AuthType != "" {
			o.AuthType = opts.AuthType
		}
		if opts.Host != "" {
			o.Host = opts.Host
		}
		if opts.CacheBackend != "" {
			o.CacheBackend = opts.CacheBackend
		}
		o.APIKeys = opts.APIKeys
		o.ProjectDir = opts.ProjectDir
		o.CacheDir = opts.CacheDir
		o.CacheOnStart = opts.CacheOnStart
	}

	if o.Port == 0 {
		o.Port = FreePort(t)
	}
	if o.ProjectDir == "" {
		o.ProjectDir = t.TempDir()
	}
	if o.CacheDir == "" {
		o.CacheDir = t.TempDir()
	}

	_ = flags.Set("port", fmt.Sprintf("%d", o.Port))
	_ = flags.Set("transport", o.Transport)
	_ = flags.Set("auth-type", o.AuthType)
	_ = flags.Set("host", o.Host)
	if len(o.APIKeys) > 0 {
		_ = flags.Set("auth-api-keys", strings.Join(o.APIKeys, ","))
	}
	_ = flags.Set("project-dir", o.ProjectDir)
	_ = flags.Set("cache-dir", o.CacheDir)
	_ = flags.Set("cache-backend", o.CacheBackend)
	_ = flags.Set("compact-interval", "50ms")
	if o.CacheOnStart {
		_ = flags.Set("cache-on-start", "true")
	}

	return flags
}

// ServerService runs the MCP server over SSE for the duration of a test.
type ServerService struct {
	Flags *pflag.FlagSet

	cancel context.CancelFunc
	done   chan error
}

// NewServerService creates a server service configured by flags.
func NewServerService(flags *pflag.FlagSet) *ServerService {
	return &ServerService{Flags: flags}
}

func (s *ServerService) Name() string {
	return "fib-mcp"
}

// Start runs the server and waits for its health endpoint. The returned
// properties hold the server "url" and "port".
func (s *ServerService) Start() (map[string]any, error) {
	host, _ := s.Flags.GetString("host")
	port, _ := s.Flags.GetInt("port")
	url := fmt.Sprintf("http://%s:%d", host, port)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan error, 1)
	go func() {
		s.done <- app.RunWithDeps(ctx, app.DefaultRunParams(), s.Flags, "test")
	}()

	if err := waitHealthy(url+"/health", s.done, 10*time.Second); err != nil {
		cancel()
		return nil, err
	}
	return map[string]any{"url": url, "port": port}, nil
}

// Stop shuts the server down and waits for it to exit.
func (s *ServerService) Stop() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	select {
	case err := <-s.done:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	case <-time.After(10 * time.Second):
		return errors.New("server did not stop")
	}
}

func waitHealthy(url string, done <-chan error, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: time.Second}
	for time.Now().Before(deadline) {
		select {
		case err := <-done:
			return fmt.Errorf("server exited before becoming healthy: %v", err)
		default:
		}
		resp, err := client.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	return fmt.Errorf("server at %s did not become healthy within %s", url, timeout)
}
