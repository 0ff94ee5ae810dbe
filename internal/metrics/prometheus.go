package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

const namespace = "cryptofolio"

// Metrics holds the process collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry         *prometheus.Registry
	passes           *prometheus.CounterVec
	passDuration     prometheus.Histogram
	tokens           *prometheus.CounterVec
	providerRequests *prometheus.CounterVec
	priceRefreshes   *prometheus.CounterVec
	portfolioValue   *prometheus.GaugeVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_passes_total",
			Help:      "Reconciliation passes by outcome.",
		}, []string{"outcome"}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_pass_duration_seconds",
			Help:      "Duration of completed reconciliation passes.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_tokens_total",
			Help:      "Provider token records by classification.",
		}, []string{"classification"}),
		providerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Outbound provider requests by provider and outcome.",
		}, []string{"provider", "outcome"}),
		priceRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_refresh_coins_total",
			Help:      "Registry coins touched by price refresh, by source.",
		}, []string{"source"}),
		portfolioValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "portfolio_value_usd",
			Help:      "Latest computed portfolio value by bucket.",
		}, []string{"bucket"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.passes, m.passDuration, m.tokens, m.providerRequests, m.priceRefreshes, m.portfolioValue,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObservePass records a finished reconciliation pass.
func (m *Metrics) ObservePass(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.passes.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		m.passDuration.Observe(elapsed.Seconds())
	}
}

// AddTokens counts n token records with the given classification.
func (m *Metrics) AddTokens(classification string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.tokens.WithLabelValues(classification).Add(float64(n))
}

// ObserveRequest counts one provider request.
func (m *Metrics) ObserveRequest(provider, outcome string) {
	if m == nil {
		return
	}
	m.providerRequests.WithLabelValues(provider, outcome).Inc()
}

// AddPriceRefresh counts n coins refreshed from source (bulk, single, failed).
func (m *Metrics) AddPriceRefresh(source string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.priceRefreshes.WithLabelValues(source).Add(float64(n))
}

// SetPortfolioValue publishes the latest value of a bucket.
func (m *Metrics) SetPortfolioValue(bucket string, value decimal.Decimal) {
	if m == nil {
		return
	}
	m.portfolioValue.WithLabelValues(bucket).Set(value.InexactFloat64())
}
