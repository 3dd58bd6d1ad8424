// Package metrics exposes Prometheus metrics for the provider map.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for Operations.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Metrics holds the provider map collectors. A nil *Metrics records
// nothing, so callers need not check.
type Metrics struct {
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
	operations *prometheus.CounterVec
	bindings   *prometheus.GaugeVec
	reloads    prometheus.Counter
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry registers the collectors on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registerer: reg,
		gatherer:   reg,
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "provmap",
			Name:      "operations_total",
			Help:      "Manager operations by name and outcome",
		}, []string{"operation", "outcome"}),
		bindings: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "provmap",
			Name:      "bindings",
			Help:      "Bindings currently in the provider map, by index",
		}, []string{"kind"}),
		reloads: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "provmap",
			Name:      "reloads_total",
			Help:      "Times the provider map was restored from the store",
		}),
	}
}

// ObserveOperation counts one finished operation.
func (m *Metrics) ObserveOperation(operation string, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

// SetBindings records the size of each index.
func (m *Metrics) SetBindings(names, classes int) {
	if m == nil {
		return
	}
	m.bindings.WithLabelValues("authority").Set(float64(names))
	m.bindings.WithLabelValues("class").Set(float64(classes))
}

// ObserveReload counts one restore from the store.
func (m *Metrics) ObserveReload() {
	if m == nil {
		return
	}
	m.reloads.Inc()
}

// WatchDropped exports the value of dropped, read at scrape time, as the
// count of change events a slow subscriber missed. Only the first call on
// a registry takes effect.
func (m *Metrics) WatchDropped(dropped func() int64) {
	if m == nil {
		return
	}
	err := m.registerer.Register(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "provmap",
		Name:      "events_dropped_total",
		Help:      "Change events not delivered because a subscriber was full",
	}, func() float64 { return float64(dropped()) }))
	var dup prometheus.AlreadyRegisteredError
	if err != nil && !errors.As(err, &dup) {
		panic(err)
	}
}

// Handler serves the collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
