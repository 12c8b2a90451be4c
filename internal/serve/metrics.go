package serve

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/samsaffron/codereview-chat/internal/llm"
	"github.com/samsaffron/codereview-chat/internal/turn"
)

const metricsNamespace = "codereview"

// Metrics holds the server's collectors on a private registry, so several
// servers can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	TurnsTotal     *prometheus.CounterVec
	TurnDuration   *prometheus.HistogramVec
	TokensTotal    *prometheus.CounterVec
	RequestsTotal  *prometheus.CounterVec
	ActiveSessions prometheus.Gauge
	RateLimited    prometheus.Counter
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		TurnsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "turns_total",
			Help:      "Chat turns by provider, outcome and error kind",
		}, []string{"provider", "outcome", "kind"}),
		TurnDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "turn_duration_seconds",
			Help:      "Duration of chat turns",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		}, []string{"provider", "outcome"}),
		TokensTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tokens_total",
			Help:      "Tokens reported by providers",
		}, []string{"provider", "direction"}),
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"route", "status"}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "websocket_sessions",
			Help:      "Websocket chat sessions held in memory",
		}),
		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rate_limited_total",
			Help:      "Requests and messages rejected by the rate limiter",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveTurn records one finished turn.
func (m *Metrics) ObserveTurn(provider string, outcome string, kind llm.ErrorKind, d time.Duration, usage llm.Usage) {
	m.TurnsTotal.WithLabelValues(provider, outcome, kind.String()).Inc()
	m.TurnDuration.WithLabelValues(provider, outcome).Observe(d.Seconds())
	if usage.InputTokens > 0 {
		m.TokensTotal.WithLabelValues(provider, "input").Add(float64(usage.InputTokens))
	}
	if usage.OutputTokens > 0 {
		m.TokensTotal.WithLabelValues(provider, "output").Add(float64(usage.OutputTokens))
	}
}

// ObserveResult records a controller-driven turn.
func (m *Metrics) ObserveResult(res turn.Result) {
	m.ObserveTurn(res.Provider, res.Outcome.String(), res.Kind, res.Duration, res.Usage)
}
