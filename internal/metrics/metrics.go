package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the gateway's Prometheus collectors. A nil *Registry is
// valid and records nothing, which keeps tests free of metrics wiring.
type Registry struct {
	registry            *prometheus.Registry
	intentsCreatedTotal *prometheus.CounterVec
	transitionsTotal    *prometheus.CounterVec
	duplicateMatches    prometheus.Counter
	reorgsTotal         prometheus.Counter
	watcherHeight       prometheus.Gauge
	webhookAttempts     *prometheus.CounterVec
	deliveriesExhausted prometheus.Counter
	httpRequestsTotal   *prometheus.CounterVec
	jobRuns             *prometheus.CounterVec
	jobDuration         *prometheus.HistogramVec
}

func New() *Registry {
	created := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cpg_payment_intents_created_total",
		Help: "Payment intents created, by currency",
	}, []string{"currency"})

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cpg_payment_intent_transitions_total",
		Help: "Payment intent state transitions",
	}, []string{"from", "to"})

	duplicates := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cpg_duplicate_transaction_matches_total",
		Help: "Transfers rejected because their hash already claimed another intent",
	})

	reorgs := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cpg_chain_reorgs_total",
		Help: "Chain reorganizations detected by the watcher",
	})

	height := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cpg_watcher_block_height",
		Help: "Highest block scanned by the reconciliation watcher",
	})

	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cpg_webhook_attempts_total",
		Help: "Webhook delivery attempts, by result",
	}, []string{"result"})

	exhausted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cpg_webhook_deliveries_exhausted_total",
		Help: "Webhook deliveries that used every attempt",
	})

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cpg_http_requests_total",
		Help: "HTTP requests served, by route and status",
	}, []string{"method", "route", "status"})

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cpg_job_runs_total",
		Help: "Background job ticks, by job and outcome",
	}, []string{"job", "outcome"})

	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cpg_job_duration_seconds",
		Help:    "Background job tick duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})

	r := prometheus.NewRegistry()
	r.MustRegister(created, transitions, duplicates, reorgs, height, attempts, exhausted, requests, jobRuns, jobDuration)

	return &Registry{
		registry:            r,
		intentsCreatedTotal: created,
		transitionsTotal:    transitions,
		duplicateMatches:    duplicates,
		reorgsTotal:         reorgs,
		watcherHeight:       height,
		webhookAttempts:     attempts,
		deliveriesExhausted: exhausted,
		httpRequestsTotal:   requests,
		jobRuns:             jobRuns,
		jobDuration:         jobDuration,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Registry) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Registry) IncIntentCreated(currency string) {
	if m == nil {
		return
	}
	m.intentsCreatedTotal.WithLabelValues(currency).Inc()
}

func (m *Registry) IncTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

func (m *Registry) IncDuplicateMatch() {
	if m == nil {
		return
	}
	m.duplicateMatches.Inc()
}

func (m *Registry) IncReorg() {
	if m == nil {
		return
	}
	m.reorgsTotal.Inc()
}

func (m *Registry) SetWatcherHeight(height uint64) {
	if m == nil {
		return
	}
	m.watcherHeight.Set(float64(height))
}

// IncWebhookAttempt records an attempt; result is delivered, retry or exhausted.
func (m *Registry) IncWebhookAttempt(result string) {
	if m == nil {
		return
	}
	m.webhookAttempts.WithLabelValues(result).Inc()
}

func (m *Registry) IncDeliveryExhausted() {
	if m == nil {
		return
	}
	m.deliveriesExhausted.Inc()
}

func (m *Registry) IncHTTPRequest(method, route string, status int) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

// ObserveJob records one job tick; outcome is ok, timeout, error or skipped.
func (m *Registry) ObserveJob(job, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job, outcome).Inc()
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}
