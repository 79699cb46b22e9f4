package prefixretry

import (
	"bytes"
	"context"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dskow/prefix-fallback/internal/apierror"
	"github.com/dskow/prefix-fallback/internal/metrics"
	"github.com/dskow/prefix-fallback/internal/middleware"
)

type dispatchKey struct{}

// dispatchState is shared between FromHTTP and NoRoute for one dispatch.
type dispatchState struct {
	noRoute bool
}

// NoRoute is the not-found handler routers install for unmatched paths.
// Under a retry-aware dispatch it records the no-route signal and writes
// nothing; otherwise it writes the standard 404 error response.
func NoRoute(w http.ResponseWriter, r *http.Request) {
	if st, ok := r.Context().Value(dispatchKey{}).(*dispatchState); ok {
		st.noRoute = true
		return
	}
	apierror.WriteJSON(w, r, http.StatusNotFound, apierror.RouteNotFound, "no matching route")
}

// FromHTTP adapts an http.Handler to Handler. Each dispatch serves a clone of
// c.Request with its path replaced by c.Path and buffers the response. If the
// handler calls NoRoute, the buffered output is discarded and a *NoRouteError
// is returned instead.
func FromHTTP(h http.Handler) Handler {
	return HandlerFunc(func(c *Context) (*Response, error) {
		r := c.Request
		if r == nil {
			var err error
			r, err = http.NewRequest(http.MethodGet, "/", nil)
			if err != nil {
				return nil, err
			}
		}

		st := &dispatchState{}
		req := r.Clone(context.WithValue(r.Context(), dispatchKey{}, st))
		req.URL.Path = c.Path
		req.URL.RawPath = ""

		buf := &responseBuffer{header: make(http.Header), statusCode: http.StatusOK}
		h.ServeHTTP(buf, req)

		if st.noRoute {
			return nil, &NoRouteError{Method: r.Method, Path: c.Path}
		}
		return &Response{
			Status: buf.statusCode,
			Header: buf.header,
			Body:   buf.body.Bytes(),
		}, nil
	})
}

// Wrap returns middleware that retries unmatched requests once under
// cfg.Prefix. The wrapped handler must report unmatched paths by calling
// NoRoute. A request that still has no route after the retry gets the
// standard 404 error response.
func Wrap(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		mw := New(FromHTTP(next), cfg)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c := &Context{Path: r.URL.Path, Request: r}
			resp, err := mw.Handle(c)

			if c.Retried {
				recordRetry(r.Context(), c, err == nil)
			}

			if err != nil {
				if IsNoRoute(err) {
					apierror.WriteJSON(w, r, http.StatusNotFound, apierror.RouteNotFound, "no matching route")
					return
				}
				apierror.WriteJSON(w, r, http.StatusInternalServerError, apierror.InternalError, "an unexpected error occurred")
				return
			}
			writeResponse(w, resp)
		})
	}
}

func recordRetry(ctx context.Context, c *Context, resolved bool) {
	outcome := metrics.OutcomeFailed
	if resolved {
		outcome = metrics.OutcomeResolved
	}
	metrics.PrefixRetries.WithLabelValues(outcome).Inc()

	middleware.AddLogField(ctx, "original_path", c.OriginalPath)
	middleware.AddLogField(ctx, "retry_path", c.Path)
	middleware.AddLogField(ctx, "retry_outcome", outcome)

	trace.SpanFromContext(ctx).AddEvent("prefix_retry", trace.WithAttributes(
		attribute.String("original_path", c.OriginalPath),
		attribute.String("retry_path", c.Path),
		attribute.String("outcome", outcome),
	))
}

func writeResponse(w http.ResponseWriter, resp *Response) {
	for k, vals := range resp.Header {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.Status)
	w.Write(resp.Body) //nolint:errcheck
}

// responseBuffer captures a full response (status, headers, body) in memory
// so a no-route outcome can be discarded before anything reaches the client.
type responseBuffer struct {
	header     http.Header
	body       bytes.Buffer
	statusCode int
	written    bool
}

func (b *responseBuffer) Header() http.Header { return b.header }

func (b *responseBuffer) WriteHeader(code int) {
	if !b.written {
		b.statusCode = code
		b.written = true
	}
}

func (b *responseBuffer) Write(p []byte) (int, error) {
	if !b.written {
		b.statusCode = http.StatusOK
		b.written = true
	}
	return b.body.Write(p)
}
