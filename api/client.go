// Package api provides the HTTP client for the remote task and account API.
//
// Every operation performs a single round trip and reports its outcome as a
// todo.Result: HTTP failures carry the message found in the error body, and
// transport failures are converted to a generic network error instead of
// escaping to the caller.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	todo "github.com/chimerakang/todo-go"
	"github.com/chimerakang/todo-go/metrics"
)

// Client talks to the remote API. It is safe for concurrent use; the only
// mutable state is the bearer credential.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics

	mu         sync.RWMutex
	credential string
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(cl *Client) { cl.metrics = m }
}

// WithCredential sets the initial bearer credential.
func WithCredential(token string) Option {
	return func(cl *Client) { cl.credential = token }
}

// New creates a client for the API rooted at baseURL.
// It fails fast when baseURL is unset or not an absolute http(s) URL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if err := todo.ValidateAPIURL(baseURL); err != nil {
		return nil, fmt.Errorf("todo/api: %w", err)
	}
	u, _ := url.Parse(strings.TrimRight(baseURL, "/"))

	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c, nil
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string { return c.baseURL.String() }

// SetCredential sets the bearer credential attached to later requests.
func (c *Client) SetCredential(token string) {
	c.mu.Lock()
	c.credential = token
	c.mu.Unlock()
}

// ClearCredential removes the bearer credential.
func (c *Client) ClearCredential() { c.SetCredential("") }

// Credential returns the current bearer credential, or "".
func (c *Client) Credential() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.credential
}

// call describes one request.
type call struct {
	op       string // metric/log label, e.g. "list_tasks"
	method   string
	segments []string
	body     any
	fallback string // message used when the error body carries none

	// classify turns a non-success response into a typed error.
	classify func(status int, message string) error
}

// send performs the call and decodes a successful body into T.
func send[T any](ctx context.Context, c *Client, cl call) todo.Result[T] {
	start := time.Now()

	req, err := c.newRequest(ctx, cl)
	if err != nil {
		c.metrics.RecordRequest(cl.op, "transport_error", time.Since(start))
		return todo.Failure[T](&todo.TransportError{Op: cl.op, Err: err}, 0)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordRequest(cl.op, "transport_error", time.Since(start))
		c.logger.WarnContext(ctx, "api request failed",
			slog.String("op", cl.op),
			slog.String("method", cl.method),
			slog.Any("error", err),
		)
		return todo.Failure[T](&todo.TransportError{Op: cl.op, Err: err}, 0)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.RecordRequest(cl.op, "transport_error", time.Since(start))
		return todo.Failure[T](&todo.TransportError{Op: cl.op, Err: fmt.Errorf("read body: %w", err)}, resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.metrics.RecordRequest(cl.op, "http_error", time.Since(start))
		msg := errorMessage(body)
		if msg == "" {
			msg = cl.fallback
		}
		c.logger.DebugContext(ctx, "api request rejected",
			slog.String("op", cl.op),
			slog.Int("status", resp.StatusCode),
			slog.String("message", msg),
		)
		classify := cl.classify
		if classify == nil {
			classify = resourceError(cl.op)
		}
		return todo.Failure[T](classify(resp.StatusCode, msg), resp.StatusCode)
	}

	var out T
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &out); err != nil {
			c.metrics.RecordRequest(cl.op, "transport_error", time.Since(start))
			return todo.Failure[T](&todo.TransportError{Op: cl.op, Err: fmt.Errorf("decode response: %w", err)}, resp.StatusCode)
		}
	}
	c.metrics.RecordRequest(cl.op, "success", time.Since(start))
	return todo.Success(out, resp.StatusCode)
}

func (c *Client) newRequest(ctx context.Context, cl call) (*http.Request, error) {
	u := *c.baseURL
	escaped := make([]string, len(cl.segments))
	for i, s := range cl.segments {
		escaped[i] = url.PathEscape(s)
	}
	u.RawPath = c.baseURL.EscapedPath() + "/" + strings.Join(escaped, "/")
	u.Path = c.baseURL.Path + "/" + strings.Join(cl.segments, "/")

	var reader io.Reader
	if cl.body != nil {
		data, err := json.Marshal(cl.body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if cl.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Credential(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// errorMessage extracts a message from an error body. FastAPI sends either
// {"detail": "..."} or {"detail": [{"msg": "..."}]}; other backends use
// "message" or "error".
func errorMessage(body []byte) string {
	var payload struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if len(payload.Detail) > 0 {
		var s string
		if err := json.Unmarshal(payload.Detail, &s); err == nil && s != "" {
			return s
		}
		var items []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(payload.Detail, &items); err == nil && len(items) > 0 && items[0].Msg != "" {
			return items[0].Msg
		}
	}
	if payload.Message != "" {
		return payload.Message
	}
	return payload.Error
}

func resourceError(op string) func(int, string) error {
	return func(status int, msg string) error {
		return &todo.ResourceError{Op: op, Status: status, Message: msg}
	}
}

// requireIDs returns a validation failure for the first empty identifier.
func requireIDs(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return &todo.ValidationError{Field: pairs[i], Message: "must not be empty"}
		}
	}
	return nil
}

var errUnsupportedProvider = errors.New("unsupported provider")
