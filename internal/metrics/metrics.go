// Package metrics records migration outcomes as Prometheus metrics. A CLI
// run has nothing to scrape, so results are written to a node_exporter
// textfile collector file.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric name
const Namespace = "schemaguard"

// Recorder holds the metrics for one process with its own registry
type Recorder struct {
	registry *prometheus.Registry

	MigrationsTotal   *prometheus.CounterVec
	MigrationDuration *prometheus.HistogramVec
	RunsTotal         *prometheus.CounterVec
	LastRunTimestamp  *prometheus.GaugeVec
	LastRunSuccess    *prometheus.GaugeVec
	LastRunDuration   *prometheus.GaugeVec
}

// NewRecorder creates a Recorder with its own Prometheus registry
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()

	r := &Recorder{
		registry: reg,
		MigrationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "migrations_total",
			Help:      "Migrations processed, by final status",
		}, []string{"status"}),
		MigrationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "migration_duration_seconds",
			Help:      "Time spent applying and verifying a migration",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 60, 300},
		}, []string{"status"}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "runs_total",
			Help:      "Completed runs, by mode and result",
		}, []string{"mode", "result"}),
		LastRunTimestamp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished",
		}, []string{"mode"}),
		LastRunSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "last_run_success",
			Help:      "1 if the last run left every migration applied and verified",
		}, []string{"mode"}),
		LastRunDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "last_run_duration_seconds",
			Help:      "Wall time of the last run",
		}, []string{"mode"}),
	}

	reg.MustRegister(
		r.MigrationsTotal,
		r.MigrationDuration,
		r.RunsTotal,
		r.LastRunTimestamp,
		r.LastRunSuccess,
		r.LastRunDuration,
	)

	return r
}

// Registry returns the underlying Prometheus registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveResult records the final status of one migration
func (r *Recorder) ObserveResult(version string, status string, duration time.Duration) {
	r.MigrationsTotal.WithLabelValues(status).Inc()
	r.MigrationDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// ObserveRun records a finished run or check
func (r *Recorder) ObserveRun(mode string, ok bool, finishedAt time.Time, duration time.Duration) {
	result, success := "failure", 0.0
	if ok {
		result, success = "success", 1.0
	}
	r.RunsTotal.WithLabelValues(mode, result).Inc()
	r.LastRunTimestamp.WithLabelValues(mode).Set(float64(finishedAt.UnixNano()) / 1e9)
	r.LastRunSuccess.WithLabelValues(mode).Set(success)
	r.LastRunDuration.WithLabelValues(mode).Set(duration.Seconds())
}

// WriteTextfile atomically writes every metric in the text exposition format
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
