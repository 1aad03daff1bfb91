package observability

import (
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// GatewayMetrics records HTTP gateway activity.
type GatewayMetrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
	replays   *prometheus.CounterVec
	streams   prometheus.Gauge
}

var (
	gatewayMetricsOnce sync.Once
	gatewayRegistry    *GatewayMetrics

	saleMetricsOnce sync.Once
	saleRegistry    *SaleMetrics
)

// Gateway returns the lazily-initialised gateway registry.
func Gateway() *GatewayMetrics {
	gatewayMetricsOnce.Do(func() {
		gatewayRegistry = &GatewayMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tokensale",
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "Gateway requests by route, method and status code.",
			}, []string{"route", "method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "tokensale",
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for gateway handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tokensale",
				Subsystem: "gateway",
				Name:      "throttles_total",
				Help:      "Requests rejected by rate limits.",
			}, []string{"route", "reason"}),
			replays: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tokensale",
				Subsystem: "gateway",
				Name:      "idempotency_total",
				Help:      "Idempotent write outcomes: stored, replayed, conflict or mismatch.",
			}, []string{"outcome"}),
			streams: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "tokensale",
				Subsystem: "gateway",
				Name:      "event_streams",
				Help:      "Open websocket event streams.",
			}),
		}
		prometheus.MustRegister(
			gatewayRegistry.requests,
			gatewayRegistry.latency,
			gatewayRegistry.throttles,
			gatewayRegistry.replays,
			gatewayRegistry.streams,
		)
	})
	return gatewayRegistry
}

// Observe records a served request with the status code actually written.
func (m *GatewayMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

func (m *GatewayMetrics) RecordThrottle(route, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(route, reason).Inc()
}

func (m *GatewayMetrics) RecordIdempotency(outcome string) {
	if m == nil {
		return
	}
	m.replays.WithLabelValues(outcome).Inc()
}

// StreamOpened counts an open event stream; call the returned func on close.
func (m *GatewayMetrics) StreamOpened() func() {
	if m == nil {
		return func() {}
	}
	m.streams.Inc()
	var once sync.Once
	return func() { once.Do(m.streams.Dec) }
}

// SaleMetrics captures engine-level activity recorded by the node.
type SaleMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	raised     prometheus.Gauge
	refunded   prometheus.Counter
	issued     prometheus.Gauge
	settled    prometheus.Gauge
}

// Sale returns the lazily-initialised crowdsale metrics registry.
func Sale() *SaleMetrics {
	saleMetricsOnce.Do(func() {
		saleRegistry = &SaleMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tokensale",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Engine operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "tokensale",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for serialized engine calls including commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			raised: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "tokensale",
				Subsystem: "engine",
				Name:      "raised",
				Help:      "Cumulative accepted contributions in base units (float approximation).",
			}),
			refunded: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "tokensale",
				Subsystem: "engine",
				Name:      "refunded_total",
				Help:      "Contribution amounts returned as refunds in base units (float approximation).",
			}),
			issued: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "tokensale",
				Subsystem: "engine",
				Name:      "issued_units",
				Help:      "Token units minted by settlement (float approximation).",
			}),
			settled: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "tokensale",
				Subsystem: "engine",
				Name:      "settled",
				Help:      "1 once the settlement sweep has completed.",
			}),
		}
		prometheus.MustRegister(
			saleRegistry.operations,
			saleRegistry.latency,
			saleRegistry.raised,
			saleRegistry.refunded,
			saleRegistry.issued,
			saleRegistry.settled,
		)
	})
	return saleRegistry
}

func bigToFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}

// ObserveOperation records the outcome and latency of an engine call.
func (m *SaleMetrics) ObserveOperation(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetRaised publishes the cumulative raised amount.
func (m *SaleMetrics) SetRaised(raised *big.Int) {
	if m == nil {
		return
	}
	m.raised.Set(bigToFloat(raised))
}

// AddRefund records a refunded contribution remainder.
func (m *SaleMetrics) AddRefund(amount *big.Int) {
	if m == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	m.refunded.Add(bigToFloat(amount))
}

// RecordSettlement marks the campaign as settled with the supplied issuance.
func (m *SaleMetrics) RecordSettlement(issued *big.Int) {
	if m == nil {
		return
	}
	m.issued.Set(bigToFloat(issued))
	m.settled.Set(1)
}
