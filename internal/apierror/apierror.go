// Package apierror provides a centralized error response format for the
// gateway. All components use WriteJSON to produce consistent,
// machine-readable error responses with stable error codes.
package apierror

import (
	"encoding/json"
	"net/http"
)

// ErrorCode is a machine-readable error classification string.
type ErrorCode string

// Gateway error codes. These form a public API contract; clients can program
// against these stable codes. Do not rename or remove existing codes.
const (
	RouteNotFound         ErrorCode = "GATEWAY_ROUTE_NOT_FOUND"
	MethodNotAllowed      ErrorCode = "GATEWAY_METHOD_NOT_ALLOWED"
	UpstreamUnavailable   ErrorCode = "GATEWAY_UPSTREAM_UNAVAILABLE"
	AuthMissingToken      ErrorCode = "GATEWAY_AUTH_MISSING_TOKEN"
	AuthInvalidToken      ErrorCode = "GATEWAY_AUTH_INVALID_TOKEN"
	AuthInsufficientScope ErrorCode = "GATEWAY_AUTH_INSUFFICIENT_SCOPE"
	RateLimitExceeded     ErrorCode = "GATEWAY_RATE_LIMIT_EXCEEDED"
	InternalError         ErrorCode = "GATEWAY_INTERNAL_ERROR"
)

// ErrorResponse is the standardized gateway error body.
type ErrorResponse struct {
	Error     string `json:"error"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

type preKey struct {
	status  int
	code    ErrorCode
	message string
}

// Pre-serialized bodies for the errors on the hot path. They carry no
// request_id since it varies per request.
var preSerialized = map[preKey][]byte{}

func init() {
	for _, k := range []preKey{
		{http.StatusNotFound, RouteNotFound, "no matching route"},
		{http.StatusBadGateway, UpstreamUnavailable, "upstream service unavailable"},
		{http.StatusUnauthorized, AuthMissingToken, "missing or malformed Authorization header"},
		{http.StatusTooManyRequests, RateLimitExceeded, "rate limit exceeded, retry later"},
	} {
		b, _ := json.Marshal(ErrorResponse{
			Error:     http.StatusText(k.status),
			ErrorCode: string(k.code),
			Message:   k.message,
		})
		preSerialized[k] = append(b, '\n')
	}
}

// WriteJSON writes a structured JSON error response. When the request carries
// an X-Request-ID it is echoed in the body. r may be nil.
func WriteJSON(w http.ResponseWriter, r *http.Request, status int, code ErrorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	requestID := ""
	if r != nil {
		requestID = r.Header.Get("X-Request-ID")
	}

	if requestID == "" {
		if body, ok := preSerialized[preKey{status, code, message}]; ok {
			w.Write(body) //nolint:errcheck
			return
		}
	}

	json.NewEncoder(w).Encode(ErrorResponse{ //nolint:errcheck
		Error:     http.StatusText(status),
		ErrorCode: string(code),
		Message:   message,
		RequestID: requestID,
	})
}
