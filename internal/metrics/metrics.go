package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of one runtime. A nil *Metrics is a valid no-op sink.
type Metrics struct {
	registry *prometheus.Registry

	probes            *prometheus.CounterVec
	probeDuration     prometheus.Histogram
	scans             prometheus.Counter
	scanHosts         *prometheus.CounterVec
	sessions          *prometheus.CounterVec
	malformedMessages prometheus.Counter
	commands          *prometheus.CounterVec
	reconnectAttempts prometheus.Counter
	connectionState   *prometheus.GaugeVec
}

var connectionStates = []string{"disconnected", "connecting", "connected", "reconnecting"}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		probes: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "mediaremote_probes_total", Help: "Endpoint probes by outcome"},
			[]string{"outcome"},
		),
		probeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mediaremote_probe_duration_seconds",
				Help:    "Time until a probe resolved",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5},
			},
		),
		scans: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "mediaremote_scans_total", Help: "Network scans started"},
		),
		scanHosts: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "mediaremote_scan_hosts_total", Help: "Scanned hosts by outcome"},
			[]string{"outcome"},
		),
		sessions: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "mediaremote_sessions_total", Help: "Control sessions by result"},
			[]string{"result"},
		),
		malformedMessages: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "mediaremote_malformed_messages_total", Help: "Dropped inbound frames that could not be parsed"},
		),
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "mediaremote_commands_total", Help: "Commands sent to the server"},
			[]string{"type"},
		),
		reconnectAttempts: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "mediaremote_reconnect_attempts_total", Help: "Automatic reconnect attempts"},
		),
		connectionState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "mediaremote_connection_state", Help: "1 for the current connection state"},
			[]string{"state"},
		),
	}
	m.registry.MustRegister(
		m.probes,
		m.probeDuration,
		m.scans,
		m.scanHosts,
		m.sessions,
		m.malformedMessages,
		m.commands,
		m.reconnectAttempts,
		m.connectionState,
	)
	m.SetConnectionState("disconnected")

	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}

	return m.registry
}

// Handler serves the collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveProbe(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.probes.WithLabelValues(outcome).Inc()
	m.probeDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ScanStarted() {
	if m == nil {
		return
	}
	m.scans.Inc()
}

func (m *Metrics) ScanHost(outcome string) {
	if m == nil {
		return
	}
	m.scanHosts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues("opened").Inc()
}

func (m *Metrics) SessionFailed() {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues("failed").Inc()
}

func (m *Metrics) MalformedMessage() {
	if m == nil {
		return
	}
	m.malformedMessages.Inc()
}

func (m *Metrics) CommandSent(kind string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(kind).Inc()
}

func (m *Metrics) ReconnectAttempt() {
	if m == nil {
		return
	}
	m.reconnectAttempts.Inc()
}

func (m *Metrics) SetConnectionState(state string) {
	if m == nil {
		return
	}
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.connectionState.WithLabelValues(s).Set(v)
	}
}
