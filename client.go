// Package todo provides the client-side session and task plumbing for the
// to-do service.
//
// The package defines the shared types, the error taxonomy and the interfaces
// for session management, task access and durable session storage. Concrete
// implementations are injected via Option functions.
//
// Example usage with the HTTP API client and a file-backed session slot:
//
//	apiClient, err := api.New("https://todo.example.com")
//	st, err := store.New(store.Config{Driver: store.DriverFile, Path: "session.json"}, store.Dependencies{})
//	mgr := session.New(apiClient, session.WithStore(st))
//	client, err := todo.NewClient(
//	    todo.Config{APIURL: "https://todo.example.com"},
//	    todo.WithSessionManager(mgr),
//	    todo.WithTaskService(tasks.New(apiClient, mgr)),
//	    todo.WithStore(st),
//	)
package todo

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
)

// Client is the main entry point for session and task operations.
// Service implementations are injected via Option functions.
type Client struct {
	config   Config
	logger   *slog.Logger
	sessions SessionManager
	tasks    TaskService
	store    Store
}

// Config holds connection configuration.
type Config struct {
	// APIURL is the base URL of the remote task API, e.g. "https://api.example.com".
	APIURL string

	// AfterLogin is where the UI goes after a successful sign-in. Default: "/dashboard".
	AfterLogin string

	// AfterLogout is the unauthenticated entry point. Default: "/login".
	AfterLogout string
}

// Default navigation destinations.
const (
	DefaultAfterLogin  = "/dashboard"
	DefaultAfterLogout = "/login"
)

// Option configures the Client.
type Option func(*Client)

// WithLogger sets a structured logger for the client.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithSessionManager sets the session manager implementation.
func WithSessionManager(s SessionManager) Option {
	return func(c *Client) { c.sessions = s }
}

// WithTaskService sets the task service implementation.
func WithTaskService(t TaskService) Option {
	return func(c *Client) { c.tasks = t }
}

// WithStore sets the durable session slot. The client closes it on Close.
func WithStore(s Store) Option {
	return func(c *Client) { c.store = s }
}

// NewClient creates a new client with the given configuration and options.
// It fails when APIURL is unset or not an absolute http(s) URL.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if err := ValidateAPIURL(cfg.APIURL); err != nil {
		return nil, err
	}
	if cfg.AfterLogin == "" {
		cfg.AfterLogin = DefaultAfterLogin
	}
	if cfg.AfterLogout == "" {
		cfg.AfterLogout = DefaultAfterLogout
	}

	c := &Client{config: cfg}
	for _, o := range opts {
		o(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c, nil
}

// ValidateAPIURL checks that raw is usable as the API base URL.
func ValidateAPIURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("todo: API URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("todo: invalid API URL %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("todo: API URL %q must be an absolute http(s) URL", raw)
	}
	return nil
}

// Config returns the client configuration.
func (c *Client) Config() Config { return c.config }

// Logger returns the client logger.
func (c *Client) Logger() *slog.Logger { return c.logger }

// Sessions returns the session manager, or nil if not configured.
func (c *Client) Sessions() SessionManager { return c.sessions }

// Tasks returns the task service, or nil if not configured.
func (c *Client) Tasks() TaskService { return c.tasks }

// Store returns the durable session slot, or nil if not configured.
func (c *Client) Store() Store { return c.store }

// Start resolves the persisted session, if a session manager is configured.
func (c *Client) Start(ctx context.Context) (SessionState, error) {
	if c.sessions == nil {
		return SessionState{}, fmt.Errorf("todo: no session manager configured")
	}
	return c.sessions.Resolve(ctx)
}

// Close releases all resources held by the client.
// Any injected service that implements io.Closer will be closed.
func (c *Client) Close() error {
	closers := []interface{}{c.sessions, c.tasks, c.store}
	var firstErr error
	for _, svc := range closers {
		if cl, ok := svc.(io.Closer); ok && cl != nil {
			if err := cl.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
