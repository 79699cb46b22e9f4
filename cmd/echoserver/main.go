// Package main provides an echo backend for trying the gateway locally. It
// serves only under its mount prefix (default /api), so requests reaching it
// show whether the prefix fallback rewrote the path.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

func main() {
	port := flag.Int("port", 3001, "port to listen on")
	name := flag.String("name", "echo", "service name")
	mount := flag.String("mount", "/api", "path prefix this backend serves")
	flag.Parse()

	if p := os.Getenv("PORT"); p != "" {
		if v, err := strconv.Atoi(p); err == nil {
			*port = v
		}
	}
	if n := os.Getenv("SERVICE_NAME"); n != "" {
		*name = n
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	addr := fmt.Sprintf(":%d", *port)
	logger.Info("echo backend listening", "service", *name, "addr", addr, "mount", *mount)
	if err := http.ListenAndServe(addr, newRouter(*name, *mount)); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func newRouter(name, mount string) http.Handler {
	r := chi.NewRouter()
	r.Route(strings.TrimSuffix(mount, "/"), func(r chi.Router) {
		// /__status/{code} answers with an arbitrary status code.
		r.Get("/__status/{code}", func(w http.ResponseWriter, req *http.Request) {
			code, err := strconv.Atoi(chi.URLParam(req, "code"))
			if err != nil || code < 100 || code > 599 {
				code = http.StatusInternalServerError
			}
			writeJSON(w, code, map[string]any{
				"service":        name,
				"requested_code": code,
				"message":        http.StatusText(code),
			})
		})
		r.HandleFunc("/*", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"service":     name,
				"method":      req.Method,
				"path":        req.URL.Path,
				"query":       req.URL.RawQuery,
				"headers":     flattenHeaders(req.Header),
				"remote_addr": req.RemoteAddr,
				"timestamp":   time.Now().UTC().Format(time.RFC3339),
			})
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func flattenHeaders(h http.Header) map[string]string {
	flat := make(map[string]string, len(h))
	for k, v := range h {
		flat[k] = strings.Join(v, ", ")
	}
	return flat
}
