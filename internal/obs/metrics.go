package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	donationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "amana_donations_total",
		Help: "Donations accepted into campaign escrow.",
	})

	donationAmountTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "amana_donation_amount_total",
		Help: "Cumulative donated amount in minor units.",
	})

	tokensIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "amana_entitlement_tokens_issued_total",
		Help: "Entitlement tokens minted against campaign escrow.",
	})

	tokensRedeemedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "amana_entitlement_tokens_redeemed_total",
		Help: "Entitlement tokens redeemed by service providers.",
	})

	fundsReleasedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "amana_funds_released_total",
		Help: "Amount released from escrow in minor units, fees included.",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		donationsTotal, donationAmountTotal,
		tokensIssuedTotal, tokensRedeemedTotal, fundsReleasedTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDonation records one accepted donation.
func ObserveDonation(amount int64) {
	donationsTotal.Inc()
	donationAmountTotal.Add(float64(amount))
}

// ObserveTokenIssued records one minted entitlement token.
func ObserveTokenIssued() { tokensIssuedTotal.Inc() }

// ObserveTokenRedeemed records one redeemed entitlement token.
func ObserveTokenRedeemed() { tokensRedeemedTotal.Inc() }

// ObserveFundsReleased records an escrow release, fees included.
func ObserveFundsReleased(amount int64) { fundsReleasedTotal.Add(float64(amount)) }

// Instrument wraps an HTTP handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
