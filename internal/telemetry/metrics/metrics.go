// Package metrics holds the Prometheus counters of the auth core.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics is the set of auth-core counters. A nil *Metrics is valid and records nothing,
// so services can be built without a registry in tests.
type Metrics struct {
	TokensIssued     *prometheus.CounterVec
	Logins           *prometheus.CounterVec
	OTPDeliveries    *prometheus.CounterVec
	CleanupDeleted   *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
	HTTPRequestTimes *prometheus.HistogramVec
}

// New creates the counters curried with serviceName and registers them with reg.
// It panics if registration fails, like prometheus.MustRegister.
func New(reg prometheus.Registerer, serviceName string) *Metrics {
	constLabels := prometheus.Labels{"service": serviceName}
	m := &Metrics{
		TokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "auth_tokens_issued_total",
			Help:        "Total number of token pairs issued or refreshed.",
			ConstLabels: constLabels,
		}, []string{"flow", "result"}),
		Logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "auth_logins_total",
			Help:        "Total number of login attempts.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		OTPDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "auth_otp_deliveries_total",
			Help:        "Total number of OTP delivery attempts per channel.",
			ConstLabels: constLabels,
		}, []string{"channel", "result"}),
		CleanupDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "auth_cleanup_deleted_total",
			Help:        "Total number of expired rows deleted by the cleanup sweep.",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "http_requests_total",
			Help:        "Total number of HTTP requests.",
			ConstLabels: constLabels,
		}, []string{"method", "route", "status"}),
		HTTPRequestTimes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "http_request_duration_seconds",
			Help:        "Duration of HTTP requests.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(m.TokensIssued, m.Logins, m.OTPDeliveries, m.CleanupDeleted, m.HTTPRequests, m.HTTPRequestTimes)
	return m
}

// TokenIssued counts one createTokenPair ("login") or refresh ("refresh") outcome.
func (m *Metrics) TokenIssued(flow string, ok bool) {
	if m == nil {
		return
	}
	m.TokensIssued.WithLabelValues(flow, result(ok)).Inc()
}

// Login counts one credential check.
func (m *Metrics) Login(ok bool) {
	if m == nil {
		return
	}
	m.Logins.WithLabelValues(result(ok)).Inc()
}

// OTPDelivery counts one delivery attempt on channel ("sms" or "email").
func (m *Metrics) OTPDelivery(channel string, ok bool) {
	if m == nil {
		return
	}
	m.OTPDeliveries.WithLabelValues(channel, result(ok)).Inc()
}

// Cleanup adds the rows deleted by one sweep.
func (m *Metrics) Cleanup(sessions, tokens int64) {
	if m == nil {
		return
	}
	m.CleanupDeleted.WithLabelValues("session").Add(float64(sessions))
	m.CleanupDeleted.WithLabelValues("refresh_token").Add(float64(tokens))
}

// HTTPRequest records one served request.
func (m *Metrics) HTTPRequest(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
	m.HTTPRequestTimes.WithLabelValues(method, route).Observe(seconds)
}

func result(ok bool) string {
	if ok {
		return ResultSuccess
	}
	return ResultFailure
}
