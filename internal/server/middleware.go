package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sightline-hq/sightline/internal/auth"
	"github.com/sightline-hq/sightline/internal/model"
	"github.com/sightline-hq/sightline/internal/ratelimit"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	orgIDKey     contextKey = "org_id"
)

// RequestIDFromContext returns the request ID set by requestIDMiddleware,
// or "" if absent.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// OrgIDFromContext returns the authenticated organization ID, or uuid.Nil
// if the request was not authenticated.
func OrgIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(orgIDKey).(uuid.UUID)
	return id
}

// requestIDMiddleware assigns each request a UUID, honoring an incoming
// X-Request-ID header, and echoes it on the response.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// statusWriter captures the response status code for request logging.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs one line per request with method, path, status
// and duration.
func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", RequestIDFromContext(r.Context()),
		)
	})
}

// tracingMiddleware opens a server span per request.
func tracingMiddleware(next http.Handler) http.Handler {
	tracer := otel.Tracer("sightline/server")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
			),
		)
		defer span.End()

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(ctx))
		span.SetAttributes(attribute.Int("http.status_code", sw.status))
	})
}

// bodyLimitMiddleware caps request body size. Oversized bodies surface as
// read errors inside the JSON decoder.
func bodyLimitMiddleware(maxBytes int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil && maxBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// authMiddleware validates the bearer token and stores the org scope in the
// request context.
func authMiddleware(jwtMgr *auth.JWTManager, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing bearer token")
			return
		}
		claims, err := jwtMgr.Verify(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), orgIDKey, claims.OrgID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// rateLimitMiddleware limits authenticated requests per organization.
// Limiter errors fail open.
func rateLimitMiddleware(limiter ratelimit.Limiter, logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "org:" + OrgIDFromContext(r.Context()).String()
		allowed, err := limiter.Allow(r.Context(), key)
		if err != nil {
			logger.Warn("rate limiter error, failing open", "error", err)
			allowed = true
		}
		if !allowed {
			writeError(w, r, http.StatusTooManyRequests, model.ErrCodeRateLimited, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimitByAddrMiddleware limits unauthenticated requests by client
// address. Used for the token endpoint, where no org scope exists yet.
func rateLimitByAddrMiddleware(limiter ratelimit.Limiter, logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		allowed, err := limiter.Allow(r.Context(), "addr:"+host)
		if err != nil {
			logger.Warn("rate limiter error, failing open", "error", err)
			allowed = true
		}
		if !allowed {
			writeError(w, r, http.StatusTooManyRequests, model.ErrCodeRateLimited, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
