// Package metrics holds the exporter's Prometheus registry: one gauge per
// meter channel plus counters describing what the validator decided.
package metrics

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chrissnell/meterexporter/internal/constants"
	"github.com/chrissnell/meterexporter/internal/validate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ChannelGauge names the gauge a channel is published under.
type ChannelGauge struct {
	Channel string
	Name    string
	Help    string
}

// Metrics owns a dedicated registry. Channel gauges are registered on their
// first update so that a channel with no accepted value is absent from the
// exposition instead of reading 0.
type Metrics struct {
	Registry *prometheus.Registry

	mu         sync.Mutex
	gauges     map[string]prometheus.Gauge
	registered map[string]bool

	decisions    *prometheus.CounterVec
	readErrors   *prometheus.CounterVec
	pollDuration prometheus.Histogram
	connected    prometheus.Gauge
	ticks        prometheus.Counter
}

// New builds the registry and the gauges for channels.
func New(channels []ChannelGauge) (*Metrics, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)
	m := &Metrics{
		Registry:   reg,
		gauges:     make(map[string]prometheus.Gauge, len(channels)),
		registered: make(map[string]bool, len(channels)),

		decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: constants.MetricsNamespace,
				Name:      "validation_decisions_total",
				Help:      "Validation outcomes per channel, by reason.",
			},
			[]string{"channel", "reason"},
		),
		readErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: constants.MetricsNamespace,
				Name:      "read_errors_total",
				Help:      "Failed register reads per channel, by kind (exception, invalid, link, decode).",
			},
			[]string{"channel", "kind"},
		),
		pollDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: constants.MetricsNamespace,
			Name:      "poll_duration_seconds",
			Help:      "Wall-clock time to read and validate every channel once.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		connected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: constants.MetricsNamespace,
			Name:      "modbus_connected",
			Help:      "1 while the Modbus link is established.",
		}),
		ticks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: constants.MetricsNamespace,
			Name:      "ticks_total",
			Help:      "Completed polling ticks.",
		}),
	}

	seen := make(map[string]string, len(channels))
	for _, ch := range channels {
		if other, dup := seen[ch.Name]; dup {
			return nil, fmt.Errorf("channels %q and %q both publish %q", other, ch.Channel, ch.Name)
		}
		seen[ch.Name] = ch.Channel

		// Registration is deferred, so check the name now.
		if !validMetricName(ch.Name) {
			return nil, fmt.Errorf("channel %q: invalid metric name %q", ch.Channel, ch.Name)
		}
		m.gauges[ch.Channel] = prometheus.NewGauge(prometheus.GaugeOpts{Name: ch.Name, Help: ch.Help})

		for _, r := range validate.Reasons() {
			m.decisions.WithLabelValues(ch.Channel, r.String())
		}
	}

	return m, nil
}

func validMetricName(name string) bool {
	if name == "" {
		return false
	}
	for i, c := range name {
		switch {
		case c == '_' || c == ':':
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// SetChannel publishes an accepted value.
func (m *Metrics) SetChannel(channel string, v float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.gauges[channel]
	if !ok {
		return fmt.Errorf("no gauge for channel %q", channel)
	}
	if !m.registered[channel] {
		if err := m.Registry.Register(g); err != nil {
			return fmt.Errorf("registering gauge for channel %q: %w", channel, err)
		}
		m.registered[channel] = true
	}
	g.Set(v)
	return nil
}

// ObserveDecision counts one validation outcome.
func (m *Metrics) ObserveDecision(channel string, reason validate.Reason) {
	m.decisions.WithLabelValues(channel, reason.String()).Inc()
}

// ReadError counts one failed read.
func (m *Metrics) ReadError(channel, kind string) {
	m.readErrors.WithLabelValues(channel, kind).Inc()
}

// ObserveTick records a completed tick.
func (m *Metrics) ObserveTick(d time.Duration) {
	m.pollDuration.Observe(d.Seconds())
	m.ticks.Inc()
}

// SetConnected reports the link state.
func (m *Metrics) SetConnected(up bool) {
	if up {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
