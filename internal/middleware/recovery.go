package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/dskow/prefix-fallback/internal/apierror"
)

// Recovery returns middleware that turns a panic anywhere below it, including
// inside a retried dispatch, into a logged 500 response. http.ErrAbortHandler
// is re-raised so the server aborts the connection.
//
// Recovery runs outside RequestID, so the ID is read from the request header
// RequestID sets rather than from the context.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.LogAttrs(r.Context(), slog.LevelError, "panic recovered",
					slog.Any("error", rec),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("request_id", r.Header.Get("X-Request-ID")),
					slog.String("stack", string(debug.Stack())),
				)
				apierror.WriteJSON(w, r, http.StatusInternalServerError, apierror.InternalError, "an unexpected error occurred")
			}()
			next.ServeHTTP(w, r)
		})
	}
}
