// Package boardmetrics exposes the gateway's Prometheus metrics.
package boardmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "meshboard"
	subsystem = "gateway"
)

// Label names.
const (
	labelCommand = "command"
	labelVerb    = "verb"
)

// -------------------------------------------------------------------------
// Collector — Prometheus gateway metrics
// -------------------------------------------------------------------------

// Collector holds all gateway Prometheus metrics.
//
// Counters are designed around the questions a mesh operator actually
// asks: is the radio alive (last RX age, reconnects), is anyone using the
// board (commands), and is replication flowing (sync frames, applies).
type Collector struct {
	// PacketsReceived counts text packets accepted by intake.
	PacketsReceived prometheus.Counter

	// PacketsDeduped counts packets suppressed as dual-path duplicates.
	PacketsDeduped prometheus.Counter

	// CommandsTotal counts dispatched commands per keyword.
	CommandsTotal *prometheus.CounterVec

	// RateLimited counts commands dropped by the per-sender cooldown.
	RateLimited prometheus.Counter

	// BlacklistedDropped counts packets dropped for blacklisted senders.
	BlacklistedDropped prometheus.Counter

	// FramesSent counts outbound text frames (replies, pages, DMs, sync).
	FramesSent prometheus.Counter

	// SyncFramesReceived counts inbound sync frames per verb.
	SyncFramesReceived *prometheus.CounterVec

	// SyncFramesSent counts outbound sync frames per verb.
	SyncFramesSent *prometheus.CounterVec

	// SyncPostsApplied counts replicated posts applied locally.
	SyncPostsApplied prometheus.Counter

	// SyncPostsPushed counts local posts pushed to peers.
	SyncPostsPushed prometheus.Counter

	// DMsQueued counts DMs accepted into the store-and-forward queue.
	DMsQueued prometheus.Counter

	// DMsDelivered counts DMs flushed to their recipient.
	DMsDelivered prometheus.Counter

	// LinkReconnects counts watchdog-triggered link reopens.
	LinkReconnects prometheus.Counter

	// LastRxSeconds is the wall timestamp of the last received packet.
	LastRxSeconds prometheus.Gauge
}

// NewCollector creates a Collector with all metrics registered against the
// provided prometheus.Registerer. If reg is nil,
// prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.PacketsReceived,
		c.PacketsDeduped,
		c.CommandsTotal,
		c.RateLimited,
		c.BlacklistedDropped,
		c.FramesSent,
		c.SyncFramesReceived,
		c.SyncFramesSent,
		c.SyncPostsApplied,
		c.SyncPostsPushed,
		c.DMsQueued,
		c.DMsDelivered,
		c.LinkReconnects,
		c.LastRxSeconds,
	)

	return c
}

// newMetrics creates all metric vectors without registering them.
func newMetrics() *Collector {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		})
	}

	return &Collector{
		PacketsReceived:    counter("packets_received_total", "Text packets accepted by intake."),
		PacketsDeduped:     counter("packets_deduped_total", "Packets suppressed as dual-path duplicates."),
		RateLimited:        counter("rate_limited_total", "Commands dropped by the per-sender cooldown."),
		BlacklistedDropped: counter("blacklisted_dropped_total", "Packets dropped for blacklisted senders."),
		FramesSent:         counter("frames_sent_total", "Outbound text frames."),
		SyncPostsApplied:   counter("sync_posts_applied_total", "Replicated posts applied locally."),
		SyncPostsPushed:    counter("sync_posts_pushed_total", "Local posts pushed to peers."),
		DMsQueued:          counter("dms_queued_total", "DMs accepted into the queue."),
		DMsDelivered:       counter("dms_delivered_total", "DMs flushed to their recipient."),
		LinkReconnects:     counter("link_reconnects_total", "Watchdog-triggered link reopens."),

		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "commands_total",
			Help:      "Dispatched commands per keyword.",
		}, []string{labelCommand}),

		SyncFramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sync_frames_received_total",
			Help:      "Inbound sync frames per verb.",
		}, []string{labelVerb}),

		SyncFramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sync_frames_sent_total",
			Help:      "Outbound sync frames per verb.",
		}, []string{labelVerb}),

		LastRxSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "last_rx_timestamp_seconds",
			Help:      "Wall timestamp of the last received packet.",
		}),
	}
}

// -------------------------------------------------------------------------
// Reporter adapters
// -------------------------------------------------------------------------

// SyncFrameReceived implements peersync.Reporter.
func (c *Collector) SyncFrameReceived(verb string) {
	c.SyncFramesReceived.WithLabelValues(verb).Inc()
}

// SyncFrameSent implements peersync.Reporter.
func (c *Collector) SyncFrameSent(verb string) {
	c.SyncFramesSent.WithLabelValues(verb).Inc()
}

// SyncPostApplied implements peersync.Reporter.
func (c *Collector) SyncPostApplied() { c.SyncPostsApplied.Inc() }

// SyncPostPushed implements peersync.Reporter.
func (c *Collector) SyncPostPushed() { c.SyncPostsPushed.Inc() }

// CommandDispatched records one routed command.
func (c *Collector) CommandDispatched(keyword string) {
	c.CommandsTotal.WithLabelValues(keyword).Inc()
}
