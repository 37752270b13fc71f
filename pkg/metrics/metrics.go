// Package metrics exposes prometheus collectors describing the relay connection
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "breathlink"

// Collector groups all metrics of the client. A nil Collector is valid and records nothing.
type Collector struct {
	envelopesSent     *prometheus.CounterVec
	envelopesReceived *prometheus.CounterVec
	failures          *prometheus.CounterVec
	snapshotsStaged   prometheus.Counter
	state             prometheus.Gauge
	probeRTT          prometheus.Histogram
}

// EnvelopeSent counts an outbound envelope by its status
func (c *Collector) EnvelopeSent(status string) {
	if c == nil {
		return
	}
	c.envelopesSent.WithLabelValues(status).Inc()
}

// EnvelopeReceived counts an inbound envelope by its kind
func (c *Collector) EnvelopeReceived(kind string) {
	if c == nil {
		return
	}
	c.envelopesReceived.WithLabelValues(kind).Inc()
}

// Failure counts a terminated connection by failure kind
func (c *Collector) Failure(kind string) {
	if c == nil {
		return
	}
	c.failures.WithLabelValues(kind).Inc()
}

// SnapshotStaged counts snapshots handed to the mailbox
func (c *Collector) SnapshotStaged() {
	if c == nil {
		return
	}
	c.snapshotsStaged.Inc()
}

// State records the numeric value of the current connection state
func (c *Collector) State(value int) {
	if c == nil {
		return
	}
	c.state.Set(float64(value))
}

// ProbeAcknowledged records the round trip of a liveness probe
func (c *Collector) ProbeAcknowledged(rtt time.Duration) {
	if c == nil {
		return
	}
	c.probeRTT.Observe(rtt.Seconds())
}

// NewCollector creates the collectors and registers them with reg
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		envelopesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_sent_total",
			Help:      "Envelopes sent to the relay server, by status.",
		}, []string{"status"}),
		envelopesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_received_total",
			Help:      "Envelopes received from the relay server, by kind.",
		}, []string{"kind"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_failures_total",
			Help:      "Connections that ended abnormally, by failure kind.",
		}, []string{"kind"}),
		snapshotsStaged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_staged_total",
			Help:      "Snapshots staged for sending.",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Current state of the protocol driver (0 = disconnected).",
		}),
		probeRTT: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_rtt_seconds",
			Help:      "Round trip time of liveness probes.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
	}
	for _, collector := range []prometheus.Collector{
		c.envelopesSent,
		c.envelopesReceived,
		c.failures,
		c.snapshotsStaged,
		c.state,
		c.probeRTT,
	} {
		if registerErr := reg.Register(collector); registerErr != nil {
			return nil, registerErr
		}
	}
	return c, nil
}
