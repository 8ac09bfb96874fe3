package obs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records connection events as Prometheus metrics.
type Metrics struct {
	Connections        prometheus.Counter
	AcceptErrors       prometheus.Counter
	TunnelsEstablished prometheus.Counter
	ActiveTunnels      prometheus.Gauge
	Errors             *prometheus.CounterVec
	Bytes              *prometheus.CounterVec
	TunnelDuration     prometheus.Histogram
}

// NewMetrics creates the proxy metrics and registers them with reg. A nil
// reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "egressproxy_connections_total",
			Help: "Client connections accepted",
		}),
		AcceptErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "egressproxy_accept_errors_total",
			Help: "Failed accepts on the proxy listener",
		}),
		TunnelsEstablished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "egressproxy_tunnels_established_total",
			Help: "CONNECT tunnels established",
		}),
		ActiveTunnels: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "egressproxy_active_tunnels",
			Help: "Tunnels currently relaying",
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "egressproxy_errors_total",
			Help: "Connections that ended with an error, by kind",
		}, []string{"kind"}),
		Bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "egressproxy_bytes_total",
			Help: "Bytes relayed, by direction",
		}, []string{"direction"}),
		TunnelDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "egressproxy_tunnel_duration_seconds",
			Help:    "Tunnel lifetime seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
		}),
	}

	if reg != nil {
		reg.MustRegister(m.Connections, m.AcceptErrors, m.TunnelsEstablished, m.ActiveTunnels, m.Errors, m.Bytes, m.TunnelDuration)
	}
	return m
}

func (m *Metrics) Opened(string) {
	m.Connections.Inc()
}

func (m *Metrics) AcceptError(error, time.Duration) {
	m.AcceptErrors.Inc()
}

func (m *Metrics) NonTunnel(string, string, string) {}

func (m *Metrics) Established(string, string) {
	m.TunnelsEstablished.Inc()
	m.ActiveTunnels.Inc()
}

func (m *Metrics) Closed(ev CloseEvent) {
	if ev.Tunneled {
		m.ActiveTunnels.Dec()
		m.TunnelDuration.Observe(ev.Duration.Seconds())
	}
	if ev.Kind != "" {
		m.Errors.WithLabelValues(ev.Kind).Inc()
	}
	if ev.BytesUp > 0 {
		m.Bytes.WithLabelValues("client_to_target").Add(float64(ev.BytesUp))
	}
	if ev.BytesDown > 0 {
		m.Bytes.WithLabelValues("target_to_client").Add(float64(ev.BytesDown))
	}
}
