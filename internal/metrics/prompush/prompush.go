// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package.
//
// Imports are batch jobs, not long-lived servers, so there is no scrape
// endpoint to expose; collected metrics are pushed to a Pushgateway at the
// end of a run instead. All Prometheus-specific dependencies live here so
// the import core stays decoupled from the metric system.
package prompush

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/alexmclaughlin2005/caselaw/internal/metrics"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string // e.g. http://pushgateway:9091
	jobName    string // Pushgateway "job" group
	reg        *prometheus.Registry

	chunkCounter  *prometheus.CounterVec // "import_chunks_total"
	chunkDuration *prometheus.SummaryVec // "import_chunk_duration_seconds"
	rowCounter    *prometheus.CounterVec // "import_rows_total"
	batchCounter  *prometheus.CounterVec // "import_batches_total"
}

// NewBackend constructs a Prometheus Pushgateway backend.
// jobName: the Pushgateway "job" name (often the table being imported).
// gatewayURL: base URL of the Pushgateway server.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "caselaw-import"
	}

	reg := prometheus.NewRegistry()

	chunkCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "import_chunks_total",
			Help: "Total chunk import attempts, partitioned by table and status.",
		},
		[]string{"table", "status"},
	)
	chunkDuration := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       "import_chunk_duration_seconds",
			Help:       "Duration of chunk imports in seconds, partitioned by table and status.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"table", "status"},
	)
	rowCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "import_rows_total",
			Help: "Row-level counts per table and kind (imported, conflict_skipped, malformed, invalid_key).",
		},
		[]string{"table", "kind"},
	)
	batchCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "import_batches_total",
			Help: "Total insert batches flushed per table.",
		},
		[]string{"table"},
	)

	if err := reg.Register(chunkCounter); err != nil {
		return nil, fmt.Errorf("prompush: register chunk counter: %w", err)
	}
	if err := reg.Register(chunkDuration); err != nil {
		return nil, fmt.Errorf("prompush: register chunk summary: %w", err)
	}
	if err := reg.Register(rowCounter); err != nil {
		return nil, fmt.Errorf("prompush: register row counter: %w", err)
	}
	if err := reg.Register(batchCounter); err != nil {
		return nil, fmt.Errorf("prompush: register batch counter: %w", err)
	}

	return &Backend{
		gatewayURL:    gatewayURL,
		jobName:       jobName,
		reg:           reg,
		chunkCounter:  chunkCounter,
		chunkDuration: chunkDuration,
		rowCounter:    rowCounter,
		batchCounter:  batchCounter,
	}, nil
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case "import_chunks_total":
		if b.chunkCounter == nil {
			return
		}
		b.chunkCounter.WithLabelValues(labels["table"], labels["status"]).Add(delta)

	case "import_rows_total":
		if b.rowCounter == nil {
			return
		}
		b.rowCounter.WithLabelValues(labels["table"], labels["kind"]).Add(delta)

	case "import_batches_total":
		if b.batchCounter == nil {
			return
		}
		b.batchCounter.WithLabelValues(labels["table"]).Add(delta)

	default:
		// unknown metric name: ignore
	}
}

func (b *Backend) ObserveDuration(name string, value float64, labels metrics.Labels) {
	if name != "import_chunk_duration_seconds" || b.chunkDuration == nil {
		return
	}
	b.chunkDuration.WithLabelValues(labels["table"], labels["status"]).Observe(value)
}

// Flush pushes the current registry to the Pushgateway.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).
		Gatherer(b.reg).
		Push()
}
