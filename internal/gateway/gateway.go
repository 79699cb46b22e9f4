// Package gateway assembles the HTTP handler tree from a loaded config:
// the middleware chain with the prefix fallback stage, the proxy router, and
// the health and metrics endpoints.
package gateway

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/dskow/prefix-fallback/internal/auth"
	"github.com/dskow/prefix-fallback/internal/config"
	"github.com/dskow/prefix-fallback/internal/health"
	"github.com/dskow/prefix-fallback/internal/metrics"
	"github.com/dskow/prefix-fallback/internal/middleware"
	"github.com/dskow/prefix-fallback/internal/prefixretry"
	"github.com/dskow/prefix-fallback/internal/proxy"
	"github.com/dskow/prefix-fallback/internal/ratelimit"
)

// Gateway is one immutable build of the handler tree.
type Gateway struct {
	handler http.Handler
	limiter *ratelimit.Limiter
	stages  []string
}

// Build assembles the gateway for cfg. Proxied traffic passes through
// Recovery, RequestID, Logging, RateLimit, the prefix fallback (when
// enabled), Auth and finally the proxy router. /health, /ready and the
// metrics path bypass the chain.
func Build(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	router, err := proxy.New(cfg.Routes, logger)
	if err != nil {
		return nil, fmt.Errorf("building proxy router: %w", err)
	}

	retry := cfg.PrefixRetry()
	if cfg.Retry.LogEnabled() {
		retry.Logger = prefixretry.NewSlogLogger(logger)
	}

	var limiterOpts []ratelimit.Option
	if retry.Enabled {
		limiterOpts = append(limiterOpts, ratelimit.WithFallbackPrefix(retry.Prefix))
	}
	limiter := ratelimit.New(cfg.RateLimit, cfg.Routes, cfg.Server.TrustedProxies, logger, limiterOpts...)

	routeRequiresAuth := func(path string) bool {
		route, ok := router.MatchRoute(path)
		return ok && route.AuthRequired
	}

	var chain middleware.Chain
	chain.Append("recovery", middleware.Recovery(logger))
	chain.Append("request_id", middleware.RequestID)
	chain.Append("logging", middleware.Logging(logger))
	chain.Append("rate_limit", limiter.Middleware())
	prefixretry.Register(&chain, retry)
	// Auth is innermost so it checks the path that is actually dispatched.
	chain.Append("auth", auth.Middleware(cfg.Auth, routeRequiresAuth, logger))

	mux := chi.NewRouter()
	hh := health.New(cfg.Routes, retry, logger)
	mux.Get("/health", hh.Liveness)
	mux.Get("/ready", hh.Readiness)
	if cfg.Metrics.IsEnabled() {
		metrics.Init()
		mux.Handle(cfg.Metrics.Path, metrics.Handler())
	}
	proxied := chain.Handler(router)
	mux.NotFound(proxied.ServeHTTP)
	mux.MethodNotAllowed(proxied.ServeHTTP)

	var handler http.Handler = mux
	if cfg.Tracing.Enabled {
		handler = otelhttp.NewHandler(mux, cfg.Tracing.ServiceName)
	}

	logger.Info("gateway built",
		"routes", len(cfg.Routes),
		"stages", chain.List(),
		"retry_prefix", retry.Prefix,
		"retry_enabled", retry.Enabled,
	)

	return &Gateway{handler: handler, limiter: limiter, stages: chain.List()}, nil
}

// ServeHTTP implements http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.handler.ServeHTTP(w, r)
}

// Stages returns the middleware chain names, outermost first.
func (g *Gateway) Stages() []string {
	return g.stages
}

// Close releases background resources. In-flight requests are unaffected.
func (g *Gateway) Close() {
	g.limiter.Stop()
}

// Live serves requests through the most recently installed Gateway, so a
// config reload can swap the whole tree without dropping requests.
type Live struct {
	current atomic.Pointer[Gateway]
}

// NewLive returns a Live serving g.
func NewLive(g *Gateway) *Live {
	l := &Live{}
	l.current.Store(g)
	return l
}

// ServeHTTP implements http.Handler.
func (l *Live) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	l.current.Load().ServeHTTP(w, r)
}

// Current returns the installed Gateway.
func (l *Live) Current() *Gateway {
	return l.current.Load()
}

// Swap installs g and closes the previous Gateway.
func (l *Live) Swap(g *Gateway) {
	if old := l.current.Swap(g); old != nil {
		old.Close()
	}
}

// Reload rebuilds the gateway from cfg and swaps it in. On error the current
// gateway stays in place.
func (l *Live) Reload(cfg *config.Config, logger *slog.Logger) error {
	g, err := Build(cfg, logger)
	if err != nil {
		return err
	}
	l.Swap(g)
	return nil
}
