// Package netmuxmetrics exposes the runtime's session/substream activity
// as Prometheus metrics.
package netmuxmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "p2pmux"
	subsystem = "netmux"
)

// Label names.
const (
	labelProto    = "proto"
	labelPriority = "priority"
	labelConnType = "conn_type"
)

// Collector holds all netmux Prometheus metrics: how many sessions and
// substreams are live, how much data is queued for send, and frame
// volume split by priority lane.
type Collector struct {
	// Sessions tracks the number of currently attached sessions, labeled
	// by whether they were dialed or accepted.
	Sessions *prometheus.GaugeVec

	// Substreams tracks the number of currently open substreams per
	// protocol.
	Substreams *prometheus.GaugeVec

	// PendingDataSize is the sum, across all sessions, of bytes queued in
	// send buffers awaiting a transport write.
	PendingDataSize prometheus.Gauge

	// FramesSent counts frames written to the transport, labeled by
	// protocol and priority lane (high vs normal).
	FramesSent *prometheus.CounterVec

	// FramesReceived counts frames decoded off the transport, labeled by
	// protocol.
	FramesReceived *prometheus.CounterVec

	// FramesDropped counts frames discarded — buffer cleared on protocol
	// close, or a send that degraded to ErrWouldBlock.
	FramesDropped *prometheus.CounterVec

	// ProtocolErrors counts ErrorProtocolEvent occurrences surfaced to a
	// session, labeled by protocol.
	ProtocolErrors *prometheus.CounterVec

	// DialFailures counts failed outbound dials.
	DialFailures prometheus.Counter

	// HandshakeFailures counts failed transport handshakes, inbound and
	// outbound combined.
	HandshakeFailures prometheus.Counter
}

// NewCollector creates a Collector with every metric registered against
// reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Sessions,
		c.Substreams,
		c.PendingDataSize,
		c.FramesSent,
		c.FramesReceived,
		c.FramesDropped,
		c.ProtocolErrors,
		c.DialFailures,
		c.HandshakeFailures,
	)

	return c
}

func newMetrics() *Collector {
	return &Collector{
		Sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions",
			Help:      "Number of currently attached sessions.",
		}, []string{labelConnType}),

		Substreams: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "substreams",
			Help:      "Number of currently open substreams.",
		}, []string{labelProto}),

		PendingDataSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pending_data_size_bytes",
			Help:      "Total bytes queued in send buffers awaiting a transport write, summed across sessions.",
		}),

		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_sent_total",
			Help:      "Total frames written to the transport.",
		}, []string{labelProto, labelPriority}),

		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_received_total",
			Help:      "Total frames decoded off the transport.",
		}, []string{labelProto}),

		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_dropped_total",
			Help:      "Total frames discarded without reaching the transport.",
		}, []string{labelProto}),

		ProtocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "protocol_errors_total",
			Help:      "Total protocol errors surfaced to a session.",
		}, []string{labelProto}),

		DialFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dial_failures_total",
			Help:      "Total failed outbound dials.",
		}),

		HandshakeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "handshake_failures_total",
			Help:      "Total failed transport handshakes, inbound and outbound.",
		}),
	}
}

// -------------------------------------------------------------------------
// Session Lifecycle
// -------------------------------------------------------------------------

// RegisterSession increments the active sessions gauge for connType
// ("inbound" or "outbound").
func (c *Collector) RegisterSession(connType string) {
	c.Sessions.WithLabelValues(connType).Inc()
}

// UnregisterSession decrements the active sessions gauge.
func (c *Collector) UnregisterSession(connType string) {
	c.Sessions.WithLabelValues(connType).Dec()
}

// RegisterSubstream increments the open-substreams gauge for proto.
func (c *Collector) RegisterSubstream(proto string) {
	c.Substreams.WithLabelValues(proto).Inc()
}

// UnregisterSubstream decrements the open-substreams gauge for proto.
func (c *Collector) UnregisterSubstream(proto string) {
	c.Substreams.WithLabelValues(proto).Dec()
}

// -------------------------------------------------------------------------
// Data Plane
// -------------------------------------------------------------------------

// AddPendingDataSize adjusts the aggregate pending-data gauge by delta
// bytes (may be negative).
func (c *Collector) AddPendingDataSize(delta int64) {
	c.PendingDataSize.Add(float64(delta))
}

// IncFramesSent increments the sent-frame counter for proto/priority.
func (c *Collector) IncFramesSent(proto, priority string) {
	c.FramesSent.WithLabelValues(proto, priority).Inc()
}

// IncFramesReceived increments the received-frame counter for proto.
func (c *Collector) IncFramesReceived(proto string) {
	c.FramesReceived.WithLabelValues(proto).Inc()
}

// IncFramesDropped increments the dropped-frame counter for proto.
func (c *Collector) IncFramesDropped(proto string) {
	c.FramesDropped.WithLabelValues(proto).Inc()
}

// IncProtocolErrors increments the protocol-error counter for proto.
func (c *Collector) IncProtocolErrors(proto string) {
	c.ProtocolErrors.WithLabelValues(proto).Inc()
}

// IncDialFailures increments the dial-failure counter.
func (c *Collector) IncDialFailures() {
	c.DialFailures.Inc()
}

// IncHandshakeFailures increments the handshake-failure counter.
func (c *Collector) IncHandshakeFailures() {
	c.HandshakeFailures.Inc()
}
