// Package ratelimit provides per-client-IP token bucket rate limiting
// middleware for the gateway.
package ratelimit

import (
	"log/slog"
	"math"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dskow/prefix-fallback/internal/apierror"
	"github.com/dskow/prefix-fallback/internal/config"
	"github.com/dskow/prefix-fallback/internal/metrics"
	"github.com/dskow/prefix-fallback/internal/prefixretry"
	"github.com/dskow/prefix-fallback/internal/routing"
)

const (
	cleanupInterval = time.Minute
	staleAfter      = 3 * time.Minute
)

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientKey encodes IP, rate and burst so different route overrides get
// separate buckets.
type clientKey struct {
	ip    string
	rate  rate.Limit
	burst int
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithFallbackPrefix makes paths that match no route resolve their limits
// against the route their prefixed form would reach, so a retried request is
// counted against the bucket of the route that serves it.
func WithFallbackPrefix(prefix string) Option {
	return func(l *Limiter) {
		l.fallbackPrefix = prefix
		l.fallback = true
	}
}

// Limiter tracks per-client rate limiters and performs periodic cleanup
// of stale entries.
type Limiter struct {
	mu             sync.Mutex
	clients        map[clientKey]*client
	rate           rate.Limit
	burst          int
	routes         *routing.Table[config.RouteConfig]
	fallbackPrefix string
	fallback       bool
	trusted        []netip.Prefix
	logger         *slog.Logger
	now            func() time.Time
	stopCh         chan struct{}
	stopOnce       sync.Once
}

// New creates a Limiter with the given global settings and route-level
// overrides and starts the background cleanup of stale clients.
// trustedProxies is a list of CIDRs (e.g. "10.0.0.0/8") whose
// X-Forwarded-For headers are trusted.
func New(cfg config.RateLimitConfig, routes []config.RouteConfig, trustedProxies []string, logger *slog.Logger, opts ...Option) *Limiter {
	l := &Limiter{
		clients:      make(map[clientKey]*client),
		rate:         rate.Limit(cfg.RequestsPerSecond),
		burst:        cfg.BurstSize,
		routes:       routing.NewTable(routes, routePrefix),
		trusted:      parsePrefixes(trustedProxies, logger),
		logger:       logger,
		now:          time.Now,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	go l.cleanupLoop()
	return l
}

func routePrefix(r config.RouteConfig) string { return r.PathPrefix }

func parsePrefixes(cidrs []string, logger *slog.Logger) []netip.Prefix {
	var out []netip.Prefix
	for _, cidr := range cidrs {
		p, err := netip.ParsePrefix(cidr)
		if err != nil {
			logger.Warn("invalid trusted proxy CIDR, skipping", "cidr", cidr, "error", err)
			continue
		}
		out = append(out, p.Masked())
	}
	return out
}

// Stop terminates the background cleanup goroutine. Safe to call twice.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// Middleware returns an HTTP middleware that enforces rate limits.
func (l *Limiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := l.clientIP(r)
			limit, burst, prefix := l.limitsForPath(r.URL.Path)

			if !l.getLimiter(ip, limit, burst).Allow() {
				l.logger.Warn("rate limit exceeded", "client_ip", ip, "path", r.URL.Path)
				metrics.RateLimitHits.WithLabelValues(prefix).Inc()
				w.Header().Set("Retry-After", retryAfter(limit))
				apierror.WriteJSON(w, r, http.StatusTooManyRequests, apierror.RateLimitExceeded, "rate limit exceeded, retry later")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func retryAfter(limit rate.Limit) string {
	if limit <= 0 {
		return "1"
	}
	return strconv.Itoa(int(math.Max(1, math.Ceil(1/float64(limit)))))
}

// clientIP returns the address the request is charged to. X-Forwarded-For
// is consulted only when the direct peer is a trusted proxy, and then the
// rightmost untrusted hop wins.
func (l *Limiter) clientIP(r *http.Request) string {
	peer := remoteHost(r.RemoteAddr)
	if !l.trustedAddr(peer) {
		return peer
	}
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		if hop := strings.TrimSpace(hops[i]); hop != "" && !l.trustedAddr(hop) {
			return hop
		}
	}
	return peer
}

func (l *Limiter) trustedAddr(s string) bool {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range l.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// remoteHost strips the port from an http.Request RemoteAddr.
func remoteHost(remoteAddr string) string {
	if ap, err := netip.ParseAddrPort(remoteAddr); err == nil {
		return ap.Addr().Unmap().String()
	}
	return remoteAddr
}

// limitsForPath returns the rate, burst and matching route prefix for path.
// The prefix is "unknown" when no route matches.
func (l *Limiter) limitsForPath(path string) (rate.Limit, int, string) {
	route, ok := l.routes.Match(path)
	if !ok && l.fallback {
		route, ok = l.routes.Match(prefixretry.PrefixPath(l.fallbackPrefix, path))
	}
	if !ok {
		return l.rate, l.burst, "unknown"
	}
	if route.RateOverride != nil {
		return rate.Limit(route.RateOverride.RequestsPerSecond), route.RateOverride.BurstSize, route.PathPrefix
	}
	return l.rate, l.burst, route.PathPrefix
}

// getLimiter returns or creates the limiter for the client key.
// rate.Limiter is goroutine-safe so Allow runs outside the lock.
func (l *Limiter) getLimiter(ip string, r rate.Limit, burst int) *rate.Limiter {
	key := clientKey{ip: ip, rate: r, burst: burst}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if c, ok := l.clients[key]; ok {
		c.lastSeen = now
		return c.limiter
	}
	limiter := rate.NewLimiter(r, burst)
	l.clients[key] = &client{limiter: limiter, lastSeen: now}
	return limiter
}

// evictStale drops clients not seen within staleAfter and returns how many
// were removed.
func (l *Limiter) evictStale() int {
	cutoff := l.now().Add(-staleAfter)

	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for key, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, key)
			n++
		}
	}
	return n
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := l.evictStale(); n > 0 {
				l.logger.Debug("evicted stale rate limit clients", "count", n)
			}
		case <-l.stopCh:
			return
		}
	}
}

func (l *Limiter) clientCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}
