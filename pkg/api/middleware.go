package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Jovells/dchain/pkg/identity"
	"github.com/Jovells/dchain/pkg/shipment"
)

// RequestIDHeader carries the per-request correlation id.
const RequestIDHeader = "X-Request-ID"

type (
	requestIDKey struct{}
	callerKey    struct{}
)

// RequestIDMiddleware reuses the client's X-Request-ID or mints one, and
// echoes it on the response.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// GetRequestID extracts the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// WithCaller attaches the authenticated caller to ctx.
func WithCaller(ctx context.Context, caller shipment.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the authenticated caller, if any.
func CallerFrom(ctx context.Context) (shipment.Address, bool) {
	c, ok := ctx.Value(callerKey{}).(shipment.Address)
	return c, ok && !c.IsZero()
}

var publicPaths = map[string]bool{
	"/health": true,
}

// AuthMiddleware resolves the caller from a bearer token. The token subject
// is the caller's ledger address. With a nil token manager every protected
// request is rejected.
func AuthMiddleware(tokens *identity.TokenManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				WriteUnauthorized(w, "Missing Authorization header")
				return
			}
			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
				WriteUnauthorized(w, "Invalid Authorization header format (expected 'Bearer <token>')")
				return
			}
			if tokens == nil {
				WriteUnauthorized(w, "Authentication not configured")
				return
			}

			caller, _, err := tokens.Validate(token)
			if err != nil {
				WriteUnauthorized(w, "Invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs one line per request and turns panics into 500s.
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			defer func() {
				if p := recover(); p != nil {
					logger.ErrorContext(r.Context(), "panic in handler", "panic", p, "path", r.URL.Path)
					WriteErrorR(rec, r, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred. Please try again later.")
				}
				attrs := []any{
					"method", r.Method,
					"path", r.URL.Path,
					"status", rec.status,
					"duration_ms", time.Since(start).Milliseconds(),
					"request_id", GetRequestID(r.Context()),
				}
				if caller, ok := CallerFrom(r.Context()); ok {
					attrs = append(attrs, "caller", caller.String())
				}
				logger.InfoContext(r.Context(), "http request", attrs...)
			}()
			next.ServeHTTP(rec, r)
		})
	}
}
