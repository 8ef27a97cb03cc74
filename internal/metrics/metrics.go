package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// PostsTotal counts posts by processing outcome
	PostsTotal *prometheus.CounterVec

	// JudgeAttemptsTotal counts classifier attempts by result (ok/transport/malformed)
	JudgeAttemptsTotal *prometheus.CounterVec

	// JudgeFallbacksTotal counts posts that ended with the neutral fallback
	JudgeFallbacksTotal prometheus.Counter

	// OrdersTotal counts orders by side and status
	OrdersTotal *prometheus.CounterVec

	// RunDuration tracks full pipeline pass duration in seconds
	RunDuration prometheus.Histogram

	// TickerScore is the latest average score per ticker
	TickerScore *prometheus.GaugeVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		PostsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentitrader_posts_total",
				Help: "Posts processed by outcome",
			},
			[]string{"outcome"},
		),
		JudgeAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentitrader_judge_attempts_total",
				Help: "Sentiment classifier attempts by result",
			},
			[]string{"result"},
		),
		JudgeFallbacksTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sentitrader_judge_fallbacks_total",
				Help: "Posts that received the neutral fallback judgment",
			},
		),
		OrdersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentitrader_orders_total",
				Help: "Orders by side and status",
			},
			[]string{"side", "status"},
		),
		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sentitrader_run_duration_seconds",
				Help:    "Pipeline pass duration in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
		),
		TickerScore: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sentitrader_ticker_score",
				Help: "Latest confidence-weighted average sentiment per ticker",
			},
			[]string{"ticker"},
		),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) PostProcessed(outcome string) {
	if m == nil {
		return
	}
	m.PostsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) JudgeAttempt(result string) {
	if m == nil {
		return
	}
	m.JudgeAttemptsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) JudgeFallback() {
	if m == nil {
		return
	}
	m.JudgeFallbacksTotal.Inc()
}

func (m *Metrics) OrderPlaced(side, status string) {
	if m == nil {
		return
	}
	m.OrdersTotal.WithLabelValues(side, status).Inc()
}

func (m *Metrics) ObserveRun(d time.Duration) {
	if m == nil {
		return
	}
	m.RunDuration.Observe(d.Seconds())
}

func (m *Metrics) SetTickerScore(ticker string, score float64) {
	if m == nil {
		return
	}
	m.TickerScore.WithLabelValues(ticker).Set(score)
}
