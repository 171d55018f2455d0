// Package metrics exposes Prometheus metrics for the fund core, driven off
// the event stream.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/luxfi/fund/pkg/fund"
)

// FundMetrics registers and serves the core's Prometheus metrics.
type FundMetrics struct {
	namespace string
	registry  *prometheus.Registry
	logger    log.Logger

	fundsCreated     prometheus.Counter
	fundsShutDown    prometheus.Counter
	requestsCreated  prometheus.Counter
	requestsExecuted prometheus.Counter
	requestsCanceled prometheus.Counter
	feeSettlements   prometheus.Counter
	redemptions      prometheus.Counter
	tradesExecuted   prometheus.Counter
	policyRejections prometheus.Counter
	activeFunds      prometheus.Gauge
	wsClients        prometheus.Gauge
	executionLatency prometheus.Histogram

	// pending maps fund/owner to the request creation timestamp so the
	// execution event can be turned into a latency observation.
	pendingMu sync.Mutex
	pending   map[string]int64
}

// NewFundMetrics creates a metrics set under the given namespace.
func NewFundMetrics(namespace string) *FundMetrics {
	registry := prometheus.NewRegistry()

	m := &FundMetrics{
		namespace: namespace,
		registry:  registry,
		logger:    log.Root().New("module", "metrics"),
		pending:   make(map[string]int64),

		fundsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "funds_created_total",
			Help:      "Total number of funds created",
		}),
		fundsShutDown: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "funds_shutdown_total",
			Help:      "Total number of funds shut down",
		}),
		requestsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "share_requests_created_total",
			Help:      "Total number of share requests created",
		}),
		requestsExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "share_requests_executed_total",
			Help:      "Total number of share requests executed",
		}),
		requestsCanceled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "share_requests_canceled_total",
			Help:      "Total number of share requests canceled",
		}),
		feeSettlements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fee_settlements_total",
			Help:      "Total number of fee settlements that minted shares",
		}),
		redemptions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "share_redemptions_total",
			Help:      "Total number of share redemptions",
		}),
		tradesExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_executed_total",
			Help:      "Total number of adapter trades executed",
		}),
		policyRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_rejections_total",
			Help:      "Total number of calls rejected by a fund policy",
		}),
		activeFunds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_funds",
			Help:      "Number of funds currently active",
		}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Number of connected WebSocket clients",
		}),
		executionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_execution_seconds",
			Help:      "Latency between a share request's creation and its execution",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 12),
		}),
	}

	registry.MustRegister(
		m.fundsCreated,
		m.fundsShutDown,
		m.requestsCreated,
		m.requestsExecuted,
		m.requestsCanceled,
		m.feeSettlements,
		m.redemptions,
		m.tradesExecuted,
		m.policyRejections,
		m.activeFunds,
		m.wsClients,
		m.executionLatency,
	)
	return m
}

// Handler returns the scrape endpoint handler.
func (m *FundMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Consume counts events from the broker channel until it closes. Run it in
// its own goroutine.
func (m *FundMetrics) Consume(ch <-chan fund.Event) {
	for e := range ch {
		m.Record(e)
	}
}

// SetClientCount updates the connected WebSocket client gauge.
func (m *FundMetrics) SetClientCount(n int) {
	m.wsClients.Set(float64(n))
}

// Record counts a single event.
func (m *FundMetrics) Record(e fund.Event) {
	switch e.Type {
	case fund.EventFundCreated:
		m.fundsCreated.Inc()
		m.activeFunds.Inc()
	case fund.EventFundShutDown:
		m.fundsShutDown.Inc()
		m.activeFunds.Dec()
	case fund.EventRequestCreated:
		m.requestsCreated.Inc()
		m.trackRequest(e)
	case fund.EventRequestExecuted:
		m.requestsExecuted.Inc()
		m.observeExecution(e)
	case fund.EventRequestCanceled:
		m.requestsCanceled.Inc()
		m.dropRequest(e)
	case fund.EventFeesSettled:
		m.feeSettlements.Inc()
	case fund.EventSharesRedeemed:
		m.redemptions.Inc()
	case fund.EventTradeExecuted:
		m.tradesExecuted.Inc()
	case fund.EventPolicyRejected:
		m.policyRejections.Inc()
	}
}

func requestMetricKey(e fund.Event) string {
	return e.Fund + "/" + e.Owner
}

func (m *FundMetrics) trackRequest(e fund.Event) {
	m.pendingMu.Lock()
	m.pending[requestMetricKey(e)] = e.Timestamp
	m.pendingMu.Unlock()
}

func (m *FundMetrics) dropRequest(e fund.Event) {
	m.pendingMu.Lock()
	delete(m.pending, requestMetricKey(e))
	m.pendingMu.Unlock()
}

func (m *FundMetrics) observeExecution(e fund.Event) {
	key := requestMetricKey(e)
	m.pendingMu.Lock()
	created, ok := m.pending[key]
	delete(m.pending, key)
	m.pendingMu.Unlock()
	if !ok {
		return
	}
	m.executionLatency.Observe(time.Duration(e.Timestamp - created).Seconds())
}
