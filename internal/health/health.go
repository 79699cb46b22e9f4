// Package health provides health check and readiness probe HTTP handlers.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dskow/prefix-fallback/internal/config"
	"github.com/dskow/prefix-fallback/internal/prefixretry"
)

var livenessBody = []byte(`{"status":"ok"}` + "\n")

const (
	readinessCacheTTL = 5 * time.Second
	dialTimeout       = 2 * time.Second
)

// Handler serves the liveness and readiness endpoints.
type Handler struct {
	routes []config.RouteConfig
	retry  prefixretry.Config
	logger *slog.Logger

	// last readiness result, reused for readinessCacheTTL.
	last atomic.Pointer[snapshot]
}

type snapshot struct {
	body   []byte
	status int
	at     time.Time
}

// New creates a health Handler reporting on routes and the retry settings.
func New(routes []config.RouteConfig, retry prefixretry.Config, logger *slog.Logger) *Handler {
	return &Handler{routes: routes, retry: retry, logger: logger}
}

type readiness struct {
	Status   string            `json:"status"`
	Backends map[string]string `json:"backends"`
	Retry    retryStatus       `json:"retry"`
}

type retryStatus struct {
	Enabled bool   `json:"enabled"`
	Prefix  string `json:"prefix"`
}

// Liveness always reports ok.
func (h *Handler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeBody(w, http.StatusOK, livenessBody)
}

// Readiness dials every route backend and reports 503 if any is unreachable.
// The retry settings are included so operators can see which prefix is
// applied to unmatched paths.
func (h *Handler) Readiness(w http.ResponseWriter, r *http.Request) {
	if s := h.last.Load(); s != nil && time.Since(s.at) < readinessCacheTTL {
		writeBody(w, s.status, s.body)
		return
	}

	resp := readiness{
		Status:   "ready",
		Backends: make(map[string]string, len(h.routes)),
		Retry:    retryStatus{Enabled: h.retry.Enabled, Prefix: h.retry.Prefix},
	}
	status := http.StatusOK

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, route := range h.routes {
		route := route
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, ok := h.probe(r.Context(), route)
			mu.Lock()
			defer mu.Unlock()
			resp.Backends[route.PathPrefix] = result
			if !ok {
				resp.Status = "not ready"
				status = http.StatusServiceUnavailable
			}
		}()
	}
	wg.Wait()

	body, _ := json.Marshal(resp)
	body = append(body, '\n')
	h.last.Store(&snapshot{body: body, status: status, at: time.Now()})

	writeBody(w, status, body)
}

// probe opens a TCP connection to the route backend.
func (h *Handler) probe(ctx context.Context, route config.RouteConfig) (string, bool) {
	u, err := url.Parse(route.Backend)
	if err != nil || u.Hostname() == "" {
		return "invalid URL", false
	}
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}

	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", net.JoinHostPort(u.Hostname(), port))
	if err != nil {
		h.logger.Warn("backend unreachable", "route", route.PathPrefix, "backend", route.Backend, "error", err)
		return "unreachable", false
	}
	conn.Close()
	return "ok", true
}

func writeBody(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body) //nolint:errcheck
}
