// Package metrics exposes Prometheus metrics for the device.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for tagbox.
type Metrics struct {
	registry *prometheus.Registry

	// Broadcast
	envelopesTotal     *prometheus.CounterVec
	deliveriesTotal    *prometheus.CounterVec
	retriesTotal       prometheus.Counter
	droppedTotal       *prometheus.CounterVec
	abandonedTotal     prometheus.Counter
	dedupHitsTotal     prometheus.Counter
	positionsCoalesced prometheus.Counter
	subscriptions      prometheus.Gauge
	connectedClients   prometheus.Gauge
	operationsTotal    *prometheus.CounterVec
	pendingDeliveries  prometheus.Gauge

	// Device
	tagEventsTotal      *prometheus.CounterVec
	readerResetsTotal   *prometheus.CounterVec
	playbackErrorsTotal prometheus.Counter
	manualActionsTotal  *prometheus.CounterVec
}

// New creates and registers Prometheus metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		envelopesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tagbox_envelopes_total",
			Help: "Total number of envelopes sequenced, by event type",
		}, []string{"event_type"}),
		deliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tagbox_deliveries_total",
			Help: "Total number of delivery attempts, by result",
		}, []string{"success"}),
		retriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tagbox_delivery_retries_total",
			Help: "Total number of scheduled delivery retries",
		}),
		droppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tagbox_deliveries_dropped_total",
			Help: "Total number of deliveries dropped after the last attempt, by event type",
		}, []string{"event_type"}),
		abandonedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tagbox_deliveries_abandoned_total",
			Help: "Total number of pending deliveries abandoned on disconnect",
		}),
		dedupHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tagbox_operation_dedup_hits_total",
			Help: "Total number of operations answered from the dedup cache",
		}),
		positionsCoalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tagbox_positions_coalesced_total",
			Help: "Total number of position updates merged into a later one",
		}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tagbox_subscriptions",
			Help: "Number of active room subscriptions",
		}),
		connectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tagbox_connected_clients",
			Help: "Number of connected observer clients",
		}),
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tagbox_operations_total",
			Help: "Total number of executed operations, by result code",
		}, []string{"code"}),
		pendingDeliveries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tagbox_pending_deliveries",
			Help: "Number of undelivered outbox entries",
		}),
		tagEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tagbox_tag_events_total",
			Help: "Total number of debounced tag events, by kind",
		}, []string{"kind"}),
		readerResetsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tagbox_reader_resets_total",
			Help: "Total number of tag reader resets, by result",
		}, []string{"success"}),
		playbackErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tagbox_playback_errors_total",
			Help: "Total number of transitions into the error state",
		}),
		manualActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tagbox_manual_actions_total",
			Help: "Total number of manual control actions, by action",
		}, []string{"action"}),
	}

	registry.MustRegister(
		m.envelopesTotal,
		m.deliveriesTotal,
		m.retriesTotal,
		m.droppedTotal,
		m.abandonedTotal,
		m.dedupHitsTotal,
		m.positionsCoalesced,
		m.subscriptions,
		m.connectedClients,
		m.operationsTotal,
		m.pendingDeliveries,
		m.tagEventsTotal,
		m.readerResetsTotal,
		m.playbackErrorsTotal,
		m.manualActionsTotal,
	)
	return m
}

// EnvelopeBroadcast counts a sequenced envelope.
func (m *Metrics) EnvelopeBroadcast(eventType string) {
	m.envelopesTotal.WithLabelValues(eventType).Inc()
}

// DeliveryAttempted counts a delivery attempt.
func (m *Metrics) DeliveryAttempted(success bool) {
	m.deliveriesTotal.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// DeliveryRetried counts a scheduled retry.
func (m *Metrics) DeliveryRetried() {
	m.retriesTotal.Inc()
}

// DeliveryDropped counts a delivery given up after its last attempt.
func (m *Metrics) DeliveryDropped(eventType string) {
	m.droppedTotal.WithLabelValues(eventType).Inc()
}

// DeliveriesAbandoned counts deliveries abandoned on disconnect.
func (m *Metrics) DeliveriesAbandoned(n int) {
	m.abandonedTotal.Add(float64(n))
}

// DedupHit counts an operation answered from the dedup cache.
func (m *Metrics) DedupHit() {
	m.dedupHitsTotal.Inc()
}

// PositionCoalesced counts a merged position update.
func (m *Metrics) PositionCoalesced() {
	m.positionsCoalesced.Inc()
}

// Subscriptions sets the subscription gauge.
func (m *Metrics) Subscriptions(n int) {
	m.subscriptions.Set(float64(n))
}

// SetConnectedClients sets the connected clients gauge.
func (m *Metrics) SetConnectedClients(n int) {
	m.connectedClients.Set(float64(n))
}

// SetPendingDeliveries sets the pending deliveries gauge.
func (m *Metrics) SetPendingDeliveries(n int) {
	m.pendingDeliveries.Set(float64(n))
}

// OperationExecuted counts an executed operation by result code.
func (m *Metrics) OperationExecuted(code string) {
	m.operationsTotal.WithLabelValues(code).Inc()
}

// TagEvent counts a debounced tag event.
func (m *Metrics) TagEvent(kind string) {
	m.tagEventsTotal.WithLabelValues(kind).Inc()
}

// ReaderReset counts a tag reader reset.
func (m *Metrics) ReaderReset(success bool) {
	m.readerResetsTotal.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// PlaybackError counts a transition into the error state.
func (m *Metrics) PlaybackError() {
	m.playbackErrorsTotal.Inc()
}

// ManualAction counts a manual control action.
func (m *Metrics) ManualAction(action string) {
	m.manualActionsTotal.WithLabelValues(action).Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
