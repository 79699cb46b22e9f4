// Package proxy provides a reverse proxy with route matching, path stripping,
// header injection and timeout handling. Paths that match no route are
// reported through prefixretry.NoRoute so the fallback stage can retry them.
package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dskow/prefix-fallback/internal/apierror"
	"github.com/dskow/prefix-fallback/internal/config"
	"github.com/dskow/prefix-fallback/internal/metrics"
	"github.com/dskow/prefix-fallback/internal/prefixretry"
	"github.com/dskow/prefix-fallback/internal/routing"
)

// Router matches incoming requests to configured routes and proxies
// them to the appropriate backend.
type Router struct {
	table   *routing.Table[config.RouteConfig]
	proxies map[string]*httputil.ReverseProxy
	logger  *slog.Logger
}

// New creates a Router from the given route configurations.
func New(routes []config.RouteConfig, logger *slog.Logger) (*Router, error) {
	proxies := make(map[string]*httputil.ReverseProxy, len(routes))
	for _, route := range routes {
		target, err := url.Parse(route.Backend)
		if err != nil {
			return nil, fmt.Errorf("invalid backend URL %q for route %q: %w", route.Backend, route.PathPrefix, err)
		}
		proxies[route.PathPrefix] = &httputil.ReverseProxy{
			Rewrite: rewriter(route, target),
			ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
				logger.Error("proxy error", "error", err, "backend", target.Host, "path", r.URL.Path)
				apierror.WriteJSON(w, r, http.StatusBadGateway, apierror.UpstreamUnavailable, "upstream service unavailable")
			},
		}
	}

	return &Router{
		table:   routing.NewTable(routes, routePrefix),
		proxies: proxies,
		logger:  logger,
	}, nil
}

// rewriter builds the outbound request for route: the route prefix is
// stripped when configured, the path is joined onto the backend URL and the
// route headers are injected. An incoming X-Forwarded-For chain is extended.
func rewriter(route config.RouteConfig, target *url.URL) func(*httputil.ProxyRequest) {
	return func(pr *httputil.ProxyRequest) {
		if route.StripPrefix {
			p := strings.TrimPrefix(pr.Out.URL.Path, route.PathPrefix)
			if !strings.HasPrefix(p, "/") {
				p = "/" + p
			}
			pr.Out.URL.Path, pr.Out.URL.RawPath = p, ""
		}
		pr.SetURL(target)
		pr.Out.Host = pr.In.Host

		pr.Out.Header["X-Forwarded-For"] = pr.In.Header["X-Forwarded-For"]
		pr.SetXForwarded()

		for k, v := range route.Headers {
			pr.Out.Header.Set(k, v)
		}
	}
}

func routePrefix(r config.RouteConfig) string { return r.PathPrefix }

// ServeHTTP proxies r to the backend of the longest matching route.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	route, ok := rt.table.Match(r.URL.Path)
	if !ok {
		prefixretry.NoRoute(w, r)
		return
	}

	if len(route.Methods) > 0 && !methodAllowed(r.Method, route.Methods) {
		apierror.WriteJSON(w, r, http.StatusMethodNotAllowed, apierror.MethodNotAllowed,
			fmt.Sprintf("method %s not allowed for %s", r.Method, route.PathPrefix))
		return
	}

	metrics.ActiveConnections.Inc()
	defer metrics.ActiveConnections.Dec()

	ctx, cancel := context.WithTimeout(r.Context(), route.Timeout())
	defer cancel()

	recorder := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK, start: start}
	rt.proxies[route.PathPrefix].ServeHTTP(recorder, r.WithContext(ctx))

	statusStr := strconv.Itoa(recorder.statusCode)
	metrics.RequestsTotal.WithLabelValues(route.PathPrefix, r.Method, statusStr).Inc()
	metrics.RequestDuration.WithLabelValues(route.PathPrefix, r.Method).Observe(time.Since(start).Seconds())
}

// MatchRoute exposes route matching for use by other packages (e.g., auth middleware).
func (rt *Router) MatchRoute(path string) (config.RouteConfig, bool) {
	return rt.table.Match(path)
}

// Routes returns the configured routes in match order.
func (rt *Router) Routes() []config.RouteConfig {
	return rt.table.Entries()
}

func methodAllowed(method string, allowed []string) bool {
	for _, m := range allowed {
		if strings.EqualFold(method, m) {
			return true
		}
	}
	return false
}

// responseRecorder captures the status code for metrics and sets the
// X-Gateway-Latency header just before the response is committed.
type responseRecorder struct {
	http.ResponseWriter
	start      time.Time
	statusCode int
	written    bool
}

func (rr *responseRecorder) WriteHeader(code int) {
	if !rr.written {
		rr.statusCode = code
		rr.written = true
		rr.Header().Set("X-Gateway-Latency", time.Since(rr.start).String())
	}
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	if !rr.written {
		rr.WriteHeader(http.StatusOK)
	}
	return rr.ResponseWriter.Write(b)
}

func (rr *responseRecorder) Unwrap() http.ResponseWriter {
	return rr.ResponseWriter
}
