package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	enqueueTotal    prometheus.Counter
	queuedRequests  prometheus.Gauge
	activeLanes     prometheus.Gauge
	settledTotal    *prometheus.CounterVec
	retryTotal      prometheus.Counter
	attemptDuration prometheus.Histogram
	requestDuration *prometheus.HistogramVec
	tabCancelTotal  prometheus.Counter

	providerCallTotal    *prometheus.CounterVec
	providerCallDuration *prometheus.HistogramVec

	rpcTotal         *prometheus.CounterVec
	connectedClients prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			enqueueTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "jobats_dispatcher_enqueue_total",
					Help: "Total requests submitted to the dispatcher.",
				},
			),
			queuedRequests: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "jobats_dispatcher_queued_requests",
					Help: "Requests waiting behind an in-flight request of the same tab.",
				},
			),
			activeLanes: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "jobats_dispatcher_active_lanes",
					Help: "Tabs with a request currently in flight or in backoff.",
				},
			),
			settledTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "jobats_dispatcher_settled_total",
					Help: "Settled requests by outcome.",
				},
				[]string{"outcome"},
			),
			retryTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "jobats_dispatcher_retry_total",
					Help: "Retries scheduled after a transient failure.",
				},
			),
			attemptDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "jobats_dispatcher_attempt_duration_seconds",
					Help:    "Duration of a single operation attempt in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			requestDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "jobats_dispatcher_request_duration_seconds",
					Help:    "Time from submission to settlement in seconds by outcome.",
					Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
				},
				[]string{"outcome"},
			),
			tabCancelTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "jobats_dispatcher_tab_cancel_total",
					Help: "Tab cancellations that found work to cancel.",
				},
			),
			providerCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "jobats_provider_call_total",
					Help: "LLM provider calls by provider and status.",
				},
				[]string{"provider", "status"},
			),
			providerCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "jobats_provider_call_duration_seconds",
					Help:    "LLM provider call duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			rpcTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "jobats_gateway_rpc_total",
					Help: "Gateway RPC requests by method and status.",
				},
				[]string{"method", "status"},
			),
			connectedClients: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "jobats_gateway_connected_clients",
					Help: "Currently connected WebSocket clients.",
				},
			),
		}

		prometheus.MustRegister(
			m.enqueueTotal,
			m.queuedRequests,
			m.activeLanes,
			m.settledTotal,
			m.retryTotal,
			m.attemptDuration,
			m.requestDuration,
			m.tabCancelTotal,
			m.providerCallTotal,
			m.providerCallDuration,
			m.rpcTotal,
			m.connectedClients,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

// RecordEnqueue counts a submission and refreshes the lane gauges.
func RecordEnqueue(active, queued int) {
	m := getMetrics()
	m.enqueueTotal.Inc()
	SetDispatcherDepth(active, queued)
}

func SetDispatcherDepth(active, queued int) {
	m := getMetrics()
	m.activeLanes.Set(float64(active))
	m.queuedRequests.Set(float64(queued))
}

func RecordAttempt(duration time.Duration) {
	getMetrics().attemptDuration.Observe(duration.Seconds())
}

func RecordRetry() {
	getMetrics().retryTotal.Inc()
}

func RecordSettlement(outcome string, duration time.Duration) {
	m := getMetrics()
	m.settledTotal.WithLabelValues(outcome).Inc()
	m.requestDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func RecordTabCancel() {
	getMetrics().tabCancelTotal.Inc()
}

func RecordProviderCall(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.providerCallTotal.WithLabelValues(provider, status).Inc()
	m.providerCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordRPC(method string, success bool) {
	status := "error"
	if success {
		status = "success"
	}
	getMetrics().rpcTotal.WithLabelValues(method, status).Inc()
}

func SetConnectedClients(count int) {
	getMetrics().connectedClients.Set(float64(count))
}
