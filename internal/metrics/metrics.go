// Package metrics holds the Prometheus counters for sync runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for a sync run. Each instance owns a
// private registry so that tests and repeated runs do not collide.
type Metrics struct {
	Registry *prometheus.Registry

	Symbols       *prometheus.CounterVec
	Missing       prometheus.Counter
	CellsUpdated  prometheus.Counter
	RowsAppended  prometheus.Counter
	Unresolved    prometheus.Counter
	KeyCollisions prometheus.Counter
	Persists      *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec
}

// New creates and registers all metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		Symbols: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gapfill_symbols_total",
			Help: "Symbols processed, by outcome",
		}, []string{"status"}),

		Missing: f.NewCounter(prometheus.CounterOpts{
			Name: "gapfill_missing_timestamps_total",
			Help: "Expected timestamps found missing by gap detection",
		}),

		CellsUpdated: f.NewCounter(prometheus.CounterOpts{
			Name: "gapfill_cells_updated_total",
			Help: "Empty cells of existing rows filled",
		}),

		RowsAppended: f.NewCounter(prometheus.CounterOpts{
			Name: "gapfill_rows_appended_total",
			Help: "New rows appended",
		}),

		Unresolved: f.NewCounter(prometheus.CounterOpts{
			Name: "gapfill_unresolved_total",
			Help: "Missing timestamps with no observation within the resolve window",
		}),

		KeyCollisions: f.NewCounter(prometheus.CounterOpts{
			Name: "gapfill_key_collisions_total",
			Help: "Fetched records dropped because their minute key was already taken",
		}),

		Persists: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gapfill_persists_total",
			Help: "Store persist calls, by result",
		}, []string{"result"}),

		FetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gapfill_fetch_duration_seconds",
			Help:    "Time to fetch one symbol from the vendor",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"entry_type"}),
	}
}

// WriteTextfile writes the current values in the node_exporter textfile
// format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
