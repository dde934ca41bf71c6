// Package metrics exposes per-run Prometheus collectors for the enrichment stages.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "graffiti_enrich"

	recordsTotal    = "records_total"
	requestDuration = "request_duration_seconds"
	storeRecords    = "store_records"
	checkpoints     = "checkpoints_total"

	stageLabel   = "stage"
	outcomeLabel = "outcome"

	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Run holds the collectors of one run on a private registry.
type Run struct {
	registry *prometheus.Registry

	records     *prometheus.CounterVec
	durations   *prometheus.HistogramVec
	stored      *prometheus.GaugeVec
	checkpoints *prometheus.CounterVec
}

func New() *Run {
	r := &Run{
		registry: prometheus.NewRegistry(),
		records: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      recordsTotal,
				Help:      "records attempted, by stage and outcome",
			},
			[]string{stageLabel, outcomeLabel},
		),
		durations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      requestDuration,
				Help:      "time spent on one record including retries",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{stageLabel},
		),
		stored: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      storeRecords,
				Help:      "records in the store at the last checkpoint",
			},
			[]string{stageLabel},
		),
		checkpoints: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      checkpoints,
				Help:      "successful store writes",
			},
			[]string{stageLabel},
		),
	}
	r.registry.MustRegister(r.records, r.durations, r.stored, r.checkpoints)
	return r
}

func (r *Run) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveResult counts one record outcome.
func (r *Run) ObserveResult(stage string, ok bool, d time.Duration) {
	outcome := OutcomeSuccess
	if !ok {
		outcome = OutcomeFailure
	}
	r.records.With(prometheus.Labels{stageLabel: stage, outcomeLabel: outcome}).Inc()
	r.durations.With(prometheus.Labels{stageLabel: stage}).Observe(d.Seconds())
}

// ObserveCheckpoint counts a store write and the number of records it held.
func (r *Run) ObserveCheckpoint(stage string, records int) {
	r.checkpoints.With(prometheus.Labels{stageLabel: stage}).Inc()
	r.stored.With(prometheus.Labels{stageLabel: stage}).Set(float64(records))
}

// WriteTextfile writes the registry in the node-exporter textfile format. An empty path is a
// no-op.
func (r *Run) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
