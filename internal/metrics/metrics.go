package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cda_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cda_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	AuthDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cda_auth_decisions_total",
			Help: "Authorization gate decisions by outcome and path taken.",
		},
		[]string{"outcome", "via"},
	)

	PaymentVerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cda_payment_verifications_total",
			Help: "x402 payment verification attempts by result.",
		},
		[]string{"result"},
	)

	SweepRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cda_sweep_runs_total",
			Help: "Total number of subscription expiry sweeps.",
		},
	)

	SweepDowngradesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cda_sweep_downgrades_total",
			Help: "Total number of keys downgraded by the expiry sweeper.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		AuthDecisionsTotal,
		PaymentVerificationsTotal,
		SweepRunsTotal,
		SweepDowngradesTotal,
	)
}
