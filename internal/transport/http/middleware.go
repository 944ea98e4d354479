package http

import (
	"log/slog"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"

	"edu-platform/auth/internal/audit"
	"edu-platform/auth/internal/platform/rbac"
	"edu-platform/auth/internal/security"
	"edu-platform/auth/internal/telemetry/metrics"
	userdomain "edu-platform/auth/internal/user/domain"
)

const (
	bearerPrefix = "bearer "
	tracerName   = "edu-platform/auth/http"
)

// clientIP returns the peer address unless the peer is a trusted proxy. Behind a trusted
// proxy it walks X-Forwarded-For from the right and returns the first hop that is not
// itself trusted, then falls back to X-Real-IP.
func clientIP(r *http.Request, trusted []netip.Prefix) string {
	peer, ok := security.NormalizeIP(r.RemoteAddr)
	if !ok {
		return ""
	}
	if !security.IsTrustedProxy(peer, trusted) {
		return peer
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			ip, ok := security.NormalizeIP(hops[i])
			if !ok {
				break
			}
			if !security.IsTrustedProxy(ip, trusted) {
				return ip
			}
		}
	}
	if ip, ok := security.NormalizeIP(r.Header.Get("X-Real-IP")); ok {
		return ip
	}
	return peer
}

// withClientIP resolves the caller's address once and stores it for audit records and
// session device info.
func withClientIP(trusted []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := audit.WithClientIP(r.Context(), clientIP(r, trusted))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractBearer(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) < len(bearerPrefix) || !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}

// bearerAuth admits requests carrying a valid access token whose session is still
// active, and stores the principal in the request context.
func bearerAuth(sessions SessionManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearer(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			claims := sessions.ValidateAccessToken(r.Context(), token)
			if claims == nil {
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			v, err := sessions.ValidateSession(r.Context(), claims.SessionID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
			if !v.Valid || v.UserID != claims.Subject {
				writeError(w, http.StatusUnauthorized, v.Reason)
				return
			}
			ctx := rbac.WithPrincipal(r.Context(), rbac.Principal{
				UserID:    claims.Subject,
				SessionID: claims.SessionID,
				Email:     claims.Email,
				Role:      userdomain.Role(claims.Role),
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requireRoles rejects principals whose role is not in allowed.
func requireRoles(allowed userdomain.RoleSet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := rbac.Require(r.Context(), allowed); err != nil {
				writeError(w, statusFor(err), err.Error())
				return
			}
			next.ServeHTTP(w, r)
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

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// withMetrics records count and latency per route pattern.
func withMetrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sr, r)
			m.HTTPRequest(r.Method, routePattern(r), strconv.Itoa(sr.status), time.Since(start).Seconds())
		})
	}
}

// withTracing starts a server span per request using the global tracer provider.
func withTracing(next http.Handler) http.Handler {
	tracer := otel.Tracer(tracerName)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := tracer.Start(ctx, r.Method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sr, r.WithContext(ctx))

		route := routePattern(r)
		span.SetName(r.Method + " " + route)
		span.SetAttributes(
			semconv.HTTPRequestMethodKey.String(r.Method),
			semconv.HTTPRoute(route),
			semconv.HTTPResponseStatusCode(sr.status),
		)
		if sr.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(sr.status))
		}
	})
}

// requestLogger logs one line per request at debug, or warn for server errors.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sr, r)
			level := slog.LevelDebug
			if sr.status >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "http request",
				"request_id", chimw.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", sr.status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}
