// Package metrics exposes the proxy's own health counters.
//
// The teacher tracked allocation and pool-hit diagnostics with hand-rolled
// atomic counters (pkg/performance/tracker.go, pkg/event/pool.go) logged
// on demand. Those counters map directly onto Prometheus collectors here;
// the access pattern (atomic counters updated by the dispatch and
// watchdog goroutines, periodically scraped) is unchanged, only the sink is a real metrics
// library instead of a log line.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry groups every counter/gauge a single plugin instance emits.
// One Registry is created per ServerEndpoint instance and registered
// into a process-wide prometheus.Registerer by the caller (cmd/helper),
// never touched from dispatchProcess's hot path beyond the Inc/Set calls
// below, which are lock-free.
type Registry struct {
	RingOverflows      prometheus.Counter
	Epochs             prometheus.Counter
	WatchdogTrips      prometheus.Counter
	ConnectionLost      prometheus.Counter
	ProtocolViolations prometheus.Counter
	PluginRejections   prometheus.Counter
	NotificationDrops  prometheus.Counter
	RingReadableBytes  prometheus.Gauge
}

// New creates a Registry with the given constant labels (typically the
// plugin ID and transport suffix) applied to every metric.
func New(constLabels prometheus.Labels) *Registry {
	mk := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "rplugin",
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		})
	}

	return &Registry{
		RingOverflows: mk("ring_overflows_total", "Ring writes that set invalidateCommit and were discarded."),
		Epochs:        mk("epochs_total", "Process round trips completed."),
		WatchdogTrips: mk("watchdog_trips_total", "Times the watchdog forcibly terminated the audio-dispatch thread."),
		ConnectionLost: mk("connection_lost_total", "Times a peer was declared lost (EOF, semaphore timeout, decompression failure)."),
		ProtocolViolations: mk("protocol_violations_total", "Messages discarded for arriving on the wrong channel or with a malformed payload."),
		PluginRejections:  mk("plugin_rejections_total", "Operations the hosted plugin refused."),
		NotificationDrops: mk("notification_drops_total", "Parameter-change notifications dropped because the UI ring was full."),
		RingReadableBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "rplugin",
			Name:        "ring_readable_bytes",
			Help:        "Bytes currently readable in the shared ring.",
			ConstLabels: constLabels,
		}),
	}
}

// MustRegister registers every collector in the Registry with r. Panics
// on duplicate registration, matching prometheus.MustRegister's contract;
// callers register once per instance at construction time, off the audio path.
func (m *Registry) MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		m.RingOverflows,
		m.Epochs,
		m.WatchdogTrips,
		m.ConnectionLost,
		m.ProtocolViolations,
		m.PluginRejections,
		m.NotificationDrops,
		m.RingReadableBytes,
	)
}
