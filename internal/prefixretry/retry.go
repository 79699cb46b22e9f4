// Package prefixretry provides a single-retry fallback for unmatched routes.
// When the downstream handler reports that no route matched, the request path
// is rewritten under a configured prefix (e.g. "/users" becomes "/api/users")
// and dispatched exactly once more. If the retry also fails to match, the
// no-route error raised by that second dispatch is returned unchanged.
package prefixretry

import (
	"errors"
	"fmt"
	"net/http"
)

// Context is the mutable state of one in-flight request. Retried and
// OriginalPath are owned by the Middleware and set together, at most once.
type Context struct {
	Path         string
	Retried      bool
	OriginalPath string

	// Request is the originating HTTP request, when there is one.
	Request *http.Request

	// Attrs holds auxiliary per-request values for downstream handlers.
	Attrs map[string]any
}

// NewContext returns a Context for the given path.
func NewContext(path string) *Context {
	return &Context{Path: path}
}

// Set stores an auxiliary attribute on the context.
func (c *Context) Set(key string, value any) {
	if c.Attrs == nil {
		c.Attrs = make(map[string]any)
	}
	c.Attrs[key] = value
}

// Get returns an auxiliary attribute and whether it was present.
func (c *Context) Get(key string) (any, bool) {
	v, ok := c.Attrs[key]
	return v, ok
}

// Response is a complete downstream response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Handler is the downstream stage the Middleware dispatches to. It returns
// either a response or an error; a *NoRouteError signals that no route
// matched c.Path.
type Handler interface {
	Dispatch(c *Context) (*Response, error)
}

// HandlerFunc adapts an ordinary function to the Handler interface.
type HandlerFunc func(c *Context) (*Response, error)

// Dispatch calls f(c).
func (f HandlerFunc) Dispatch(c *Context) (*Response, error) {
	return f(c)
}

// NoRouteError reports that no route matched Path.
type NoRouteError struct {
	Method string
	Path   string
}

func (e *NoRouteError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("no route matches %q", e.Path)
	}
	return fmt.Sprintf("no route matches [%s] %q", e.Method, e.Path)
}

// IsNoRoute reports whether err is, or wraps, a *NoRouteError.
func IsNoRoute(err error) bool {
	var nr *NoRouteError
	return errors.As(err, &nr)
}

// Config holds the Middleware settings. Enabled is consulted by Register;
// Handle itself never reads it.
type Config struct {
	Prefix  string
	Logger  Logger
	Enabled bool
}

// DefaultConfig returns an enabled configuration with an empty prefix and no
// logger.
func DefaultConfig() Config {
	return Config{Enabled: true}
}

// Middleware retries unmatched requests once under a path prefix. It keeps
// no per-request state and is safe for concurrent use.
type Middleware struct {
	next   Handler
	prefix string
	logger Logger
}

// New returns a Middleware dispatching to next.
func New(next Handler, cfg Config) *Middleware {
	return &Middleware{
		next:   next,
		prefix: cfg.Prefix,
		logger: cfg.Logger,
	}
}

// Handle dispatches c downstream. On a first no-route error it marks c as
// retried, rewrites c.Path under the prefix and dispatches once more. Any
// other outcome, including errors that are not no-route errors, is returned
// as is.
func (m *Middleware) Handle(c *Context) (*Response, error) {
	resp, err := m.next.Dispatch(c)
	if err == nil || !IsNoRoute(err) {
		return resp, err
	}

	if c.Retried {
		m.retryFailed(c)
		return nil, err
	}

	original := c.Path
	c.Retried = true
	c.OriginalPath = original
	c.Path = PrefixPath(m.prefix, original)

	m.info(fmt.Sprintf("[prefix-fallback] Route not found for '%s'. Retrying with prefix: '%s'",
		original, c.Path))

	resp, err = m.next.Dispatch(c)
	if err != nil && IsNoRoute(err) {
		m.retryFailed(c)
	}
	return resp, err
}

func (m *Middleware) retryFailed(c *Context) {
	m.warn(fmt.Sprintf("[prefix-fallback] Retry failed. Original path: '%s', Prefixed path: '%s' also not found.",
		c.OriginalPath, c.Path))
}
