// Package http exposes the auth core over a chi router.
package http

import (
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"edu-platform/auth/internal/health"
	"edu-platform/auth/internal/telemetry/metrics"
	userdomain "edu-platform/auth/internal/user/domain"
)

// Defaults for Deps zero values.
const (
	DefaultRequestTimeout = 15 * time.Second
	DefaultIPRateLimit    = 100
	DefaultOTPSendLimit   = 5
)

// Deps wires the router.
type Deps struct {
	Auth     Authenticator
	Sessions SessionManager
	OTP      OTPService
	Health   *health.Checker
	Metrics  *metrics.Metrics
	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger

	RequestTimeout time.Duration
	// IPRateLimit is the per-IP requests per minute across the API.
	IPRateLimit int
	// OTPSendLimit is the per-IP requests per minute on each OTP send route.
	OTPSendLimit int
	// TrustedProxies are the peers whose forwarding headers name the client.
	TrustedProxies []netip.Prefix
}

func (d *Deps) defaults() {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Health == nil {
		d.Health = health.NewChecker(nil, 0)
	}
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = DefaultRequestTimeout
	}
	if d.IPRateLimit <= 0 {
		d.IPRateLimit = DefaultIPRateLimit
	}
	if d.OTPSendLimit <= 0 {
		d.OTPSendLimit = DefaultOTPSendLimit
	}
}

// NewRouter builds the HTTP surface.
func NewRouter(d Deps) http.Handler {
	d.defaults()
	h := &handler{auth: d.Auth, sessions: d.Sessions, otp: d.OTP, logger: d.Logger}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(withTracing)
	r.Use(withMetrics(d.Metrics))
	r.Use(requestLogger(d.Logger))
	r.Use(withClientIP(d.TrustedProxies))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		report := d.Health.Check(req.Context())
		status := http.StatusOK
		if !report.Serving() {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	})
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(d.RequestTimeout))
		r.Use(httprate.LimitByIP(d.IPRateLimit, time.Minute))

		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", h.login(nil))
			r.Post("/admin/login", h.login(userdomain.AdminPortalRoles))
			r.Post("/teacher/login", h.login(userdomain.TeacherPortalRoles))
			r.Post("/refresh", h.refresh)

			r.Group(func(r chi.Router) {
				r.Use(bearerAuth(d.Sessions))
				r.Post("/logout", h.logout)
				r.Post("/logout-all", h.logoutAll)
				r.Get("/sessions", h.listSessions)
				r.With(requireRoles(userdomain.AdminPortalRoles)).
					Post("/admin/users/{userID}/revoke-sessions", h.revokeUser)
			})
		})

		r.Route("/otp", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(bearerAuth(d.Sessions))
				r.With(httprate.LimitByIP(d.OTPSendLimit, time.Minute)).Post("/send", h.sendOTP)
				r.Post("/verify", h.verifyOTP)
			})
			// Recovery routes serve callers that cannot log in.
			r.Route("/recovery", func(r chi.Router) {
				r.With(httprate.LimitByIP(d.OTPSendLimit, time.Minute)).Post("/send", h.sendRecoveryOTP)
				r.With(httprate.LimitByIP(d.OTPSendLimit*2, time.Minute)).Post("/verify", h.verifyOTP)
			})
		})
	})

	return r
}
