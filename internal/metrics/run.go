package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Run holds the Prometheus series of one command invocation. Each Run owns
// its registry so runs and tests never share collectors.
type Run struct {
	Registry *prometheus.Registry

	Boundaries   *prometheus.CounterVec // by outcome
	Repairs      *prometheus.CounterVec // by strategy
	CacheLookups *prometheus.CounterVec // by result
	Lookups      *prometheus.CounterVec // by kind and result
	BuildSeconds prometheus.Histogram

	MemoryUsed prometheus.Gauge
	ProcessRSS prometheus.Gauge
	ProcessCPU prometheus.Gauge
}

// NewRun creates and registers the series
func NewRun() *Run {
	r := &Run{
		Registry: prometheus.NewRegistry(),
		Boundaries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mapit_import_boundaries_total",
			Help: "Boundaries processed by an import, by outcome",
		}, []string{"outcome"}),
		Repairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mapit_import_repairs_total",
			Help: "Polygon repairs applied, by strategy",
		}, []string{"strategy"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mapit_element_cache_lookups_total",
			Help: "Element cache lookups, by result",
		}, []string{"result"}),
		Lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mapit_lookups_total",
			Help: "Point and postcode lookups, by kind and result",
		}, []string{"kind", "result"}),
		BuildSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mapit_boundary_build_seconds",
			Help:    "Time to build and repair one boundary",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}),
		MemoryUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mapit_system_memory_used_bytes",
			Help: "System memory in use at the last sample",
		}),
		ProcessRSS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mapit_process_rss_bytes",
			Help: "Resident set size of the process at the last sample",
		}),
		ProcessCPU: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mapit_process_cpu_percent",
			Help: "Process CPU usage at the last sample",
		}),
	}
	r.Registry.MustRegister(r.Boundaries, r.Repairs, r.CacheLookups, r.Lookups, r.BuildSeconds,
		r.MemoryUsed, r.ProcessRSS, r.ProcessCPU)
	return r
}

// WriteTextfile writes the series in the node-exporter textfile format.
// An empty path is a no-op.
func (r *Run) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.Registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
