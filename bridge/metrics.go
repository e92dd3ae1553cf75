package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Fault reasons.
const (
	faultDisconnect = "disconnect"
	faultTooLarge   = "too_large"
	faultMalformed  = "malformed"
	faultRead       = "read"
	faultWrite      = "write"
)

type metrics struct {
	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	faults      *prometheus.CounterVec
	connections prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kernlet_requests_total",
			Help: "Requests served, by kind and reply status.",
		}, []string{"kind", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kernlet_request_duration_seconds",
			Help:    "Time from decoded request to written reply.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"kind"}),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kernlet_protocol_faults_total",
			Help: "Connections closed without a reply, by reason.",
		}, []string{"reason"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kernlet_connections_active",
			Help: "Connections currently open.",
		}),
	}
	reg.MustRegister(m.requests, m.duration, m.faults, m.connections)
	return m
}
