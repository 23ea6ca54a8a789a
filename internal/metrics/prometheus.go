// Package metrics exposes table apply counters in Prometheus format.
package metrics

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/tablectl/internal/table"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all table metrics.
type Registry struct {
	reg *prometheus.Registry

	OpenAttempts    *prometheus.CounterVec
	EnsureTotal     *prometheus.CounterVec
	AddressesAdded  *prometheus.CounterVec
	Errors          *prometheus.CounterVec
	LastApply       prometheus.Gauge
	ApplyDuration   prometheus.Histogram
	ResolvedEntries *prometheus.GaugeVec
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = New()
	})
	return registry
}

// New returns a registry backed by its own prometheus.Registry, with the Go
// and process collectors attached.
func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	r := &Registry{reg: reg}

	r.OpenAttempts = f.NewCounterVec(prometheus.CounterOpts{
		Name: "table_device_open_attempts_total",
		Help: "Control device open attempts by result",
	}, []string{"result"})

	r.EnsureTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "table_ensure_total",
		Help: "Successful table ensure requests",
	}, []string{"anchor", "table"})

	r.AddressesAdded = f.NewCounterVec(prometheus.CounterOpts{
		Name: "table_addresses_added_total",
		Help: "Addresses newly inserted into tables",
	}, []string{"anchor", "table", "family"})

	r.Errors = f.NewCounterVec(prometheus.CounterOpts{
		Name: "table_errors_total",
		Help: "Failed table operations by error kind",
	}, []string{"anchor", "table", "kind"})

	r.LastApply = f.NewGauge(prometheus.GaugeOpts{
		Name: "table_last_apply_timestamp_seconds",
		Help: "Unix time of the last completed apply run",
	})

	r.ApplyDuration = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "table_apply_duration_seconds",
		Help:    "Duration of apply runs",
		Buckets: prometheus.DefBuckets,
	})

	r.ResolvedEntries = f.NewGaugeVec(prometheus.GaugeOpts{
		Name: "table_resolved_entries",
		Help: "Addresses returned by the last DNS refresh of a table",
	}, []string{"anchor", "table"})

	return r
}

// RecordOpen records a control device open attempt.
func (r *Registry) RecordOpen(err error) {
	result := "success"
	if err != nil {
		result = kindLabel(err)
	}
	r.OpenAttempts.WithLabelValues(result).Inc()
}

// RecordEnsure records an EnsureTable result.
func (r *Registry) RecordEnsure(anchor, name string, err error) {
	if err != nil {
		r.RecordError(anchor, name, err)
		return
	}
	r.EnsureTotal.WithLabelValues(anchor, name).Inc()
}

// RecordAdd records an AddAddresses result for one family.
func (r *Registry) RecordAdd(anchor, name string, fam table.Family, added int, err error) {
	if err != nil {
		r.RecordError(anchor, name, err)
		return
	}
	r.AddressesAdded.WithLabelValues(anchor, name, fam.String()).Add(float64(added))
}

// RecordError counts a failure under its error kind.
func (r *Registry) RecordError(anchor, name string, err error) {
	r.Errors.WithLabelValues(anchor, name, kindLabel(err)).Inc()
}

// RecordResolved records the size of a DNS refresh.
func (r *Registry) RecordResolved(anchor, name string, n int) {
	r.ResolvedEntries.WithLabelValues(anchor, name).Set(float64(n))
}

// MarkApplied records the end of an apply run that started at start.
func (r *Registry) MarkApplied(start time.Time) {
	r.ApplyDuration.Observe(time.Since(start).Seconds())
	r.LastApply.SetToCurrentTime()
}

// kindLabel turns an error kind into a label value such as "table_not_found".
func kindLabel(err error) string {
	return strings.ReplaceAll(table.KindOf(err).String(), " ", "_")
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}
