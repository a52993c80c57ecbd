package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline stage labels shared by the histogram and the rolling window.
const (
	StageRecognition = "recognition"
	StageGeneration  = "generation"
	StageSynthesis   = "synthesis"
	StageTotal       = "total"
	StageTurnTotal   = "turn_total"
	StageGreetTotal  = "greet_total"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	StageLatency     *prometheus.HistogramVec
	Operations       *prometheus.CounterVec
	ProviderErrors   *prometheus.CounterVec
	Navigations      *prometheus.CounterVec
	SessionEvictions *prometheus.CounterVec
	WSMessages       *prometheus.CounterVec
	ActiveWSConns    prometheus.Gauge

	window *latencyWindow
}

func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

// NewMetricsWith registers the instruments on reg instead of the default registry.
func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		StageLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_latency_ms",
			Help:      "Pipeline stage latency in milliseconds.",
			Buckets:   []float64{100, 250, 500, 750, 1000, 1500, 2500, 4000, 6000, 10000},
		}, []string{"stage"}),
		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Pipeline operations by name and outcome.",
		}, []string{"operation", "outcome"}),
		ProviderErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider errors by stage and kind.",
		}, []string{"stage", "kind"}),
		Navigations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "navigations_total",
			Help:      "Navigation decisions by target page.",
		}, []string{"target"}),
		SessionEvictions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_evictions_total",
			Help:      "In-memory session entries dropped by reason.",
		}, []string{"reason"}),
		WSMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		ActiveWSConns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_ws_connections",
			Help:      "Number of open voice WebSocket connections.",
		}),
		window: newLatencyWindow(512),
	}
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	ms := float64(d) / float64(time.Millisecond)
	m.StageLatency.WithLabelValues(stage).Observe(ms)
}

// ObserveRun records a successful greet or turn in the latency window.
func (m *Metrics) ObserveRun(run PipelineRun) {
	if m == nil {
		return
	}
	m.window.Add(run)
}

func (m *Metrics) ObserveOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) ObserveProviderError(stage, kind string) {
	if m == nil {
		return
	}
	m.ProviderErrors.WithLabelValues(stage, kind).Inc()
	m.window.Fail(stage, kind)
}

func (m *Metrics) ObserveNavigation(target string) {
	if m == nil {
		return
	}
	m.Navigations.WithLabelValues(target).Inc()
}

func (m *Metrics) ObserveSessionEviction(reason string) {
	if m == nil {
		return
	}
	m.SessionEvictions.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// LatencySnapshot summarizes recent runs per phase.
func (m *Metrics) LatencySnapshot() LatencySnapshot {
	if m == nil {
		return LatencySnapshot{GeneratedAt: time.Now().UTC()}
	}
	return m.window.Snapshot()
}

func (m *Metrics) ResetLatencyWindow() {
	if m == nil {
		return
	}
	m.window.Reset()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
