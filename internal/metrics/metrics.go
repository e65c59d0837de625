// Package metrics holds the daemon's Prometheus collectors.
//
// Usage:
//
//	m := metrics.New(prometheus.NewRegistry())
//	m.Operation("download_config", err, engine.Kind)
//	defer m.ObserveFetch(time.Now())
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "decky_sbox"

// Metrics groups the collectors.
type Metrics struct {
	// Operations counts facade calls.
	// Labels: op (info|list_configs|download_config|...), result (ok|<error kind>)
	Operations *prometheus.CounterVec

	// FetchDuration measures profile downloads in seconds.
	FetchDuration prometheus.Histogram

	// Online is 1 while sing-box is online.
	Online prometheus.Gauge

	// Profiles counts stored profiles.
	// Labels: valid (true|false)
	Profiles *prometheus.GaugeVec

	// ProcessExits counts exits the daemon did not request.
	ProcessExits prometheus.Counter
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Facade operations by name and result.",
		}, []string{"op", "result"}),
		FetchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Time spent downloading profiles.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}),
		Online: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online",
			Help:      "Whether sing-box is running.",
		}),
		Profiles: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "profiles",
			Help:      "Stored profiles by validity.",
		}, []string{"valid"}),
		ProcessExits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_exits_total",
			Help:      "Unrequested sing-box exits.",
		}),
	}
}

// KindFunc maps an error to a short label.
type KindFunc func(error) string

// Operation counts one call of op. kind labels failures; it may be nil.
func (m *Metrics) Operation(op string, err error, kind KindFunc) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
		if kind != nil {
			result = kind(err)
		}
	}
	m.Operations.WithLabelValues(op, result).Inc()
}

// ObserveFetch records a download that began at start.
func (m *Metrics) ObserveFetch(start time.Time) {
	if m == nil {
		return
	}
	m.FetchDuration.Observe(time.Since(start).Seconds())
}

// SetOnline sets the online gauge.
func (m *Metrics) SetOnline(online bool) {
	if m == nil {
		return
	}
	if online {
		m.Online.Set(1)
		return
	}
	m.Online.Set(0)
}

// SetProfiles sets the profile gauges.
func (m *Metrics) SetProfiles(valid, invalid int) {
	if m == nil {
		return
	}
	m.Profiles.WithLabelValues("true").Set(float64(valid))
	m.Profiles.WithLabelValues("false").Set(float64(invalid))
}

// ProcessExited counts an unrequested exit.
func (m *Metrics) ProcessExited() {
	if m == nil {
		return
	}
	m.ProcessExits.Inc()
}
