// Package metrics exposes pipeline counters on a private prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "finops"

// Pipeline holds the collectors updated by sync runs.
type Pipeline struct {
	registry *prometheus.Registry

	RecordsImported   prometheus.Counter
	DuplicatesSkipped prometheus.Counter
	RowsFailed        prometheus.Counter
	ExportsFailed     prometheus.Counter
	Anomalies         *prometheus.CounterVec
	ForecastsWritten  prometheus.Counter
	StageDuration     *prometheus.HistogramVec
	StageFailures     *prometheus.CounterVec
	LastSuccess       prometheus.Gauge
}

// New registers the pipeline collectors plus Go runtime collectors on a new registry.
func New() *Pipeline {
	p := &Pipeline{
		registry: prometheus.NewRegistry(),
		RecordsImported: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "import", Name: "records_total",
			Help: "Cost records inserted.",
		}),
		DuplicatesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "import", Name: "duplicates_skipped_total",
			Help: "Cost rows skipped because their hash already exists.",
		}),
		RowsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "import", Name: "rows_failed_total",
			Help: "Cost rows that could not be parsed.",
		}),
		ExportsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "import", Name: "exports_failed_total",
			Help: "Export files whose import failed.",
		}),
		Anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "anomaly", Name: "detected_total",
			Help: "Newly stored anomalies by severity.",
		}, []string{"severity"}),
		ForecastsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "forecast", Name: "written_total",
			Help: "Forecast rows upserted.",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "sync", Name: "stage_duration_seconds",
			Help:    "Duration of sync stages.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"stage"}),
		StageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync", Name: "stage_failures_total",
			Help: "Sync stages that returned an error.",
		}, []string{"stage"}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "sync", Name: "last_success_timestamp_seconds",
			Help: "Unix time of the last sync without stage failures.",
		}),
	}

	p.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		p.RecordsImported,
		p.DuplicatesSkipped,
		p.RowsFailed,
		p.ExportsFailed,
		p.Anomalies,
		p.ForecastsWritten,
		p.StageDuration,
		p.StageFailures,
		p.LastSuccess,
	)
	return p
}

// ObserveStage records the duration of a stage and counts its failure.
func (p *Pipeline) ObserveStage(stage string, started time.Time, err error) {
	p.StageDuration.WithLabelValues(stage).Observe(time.Since(started).Seconds())
	if err != nil {
		p.StageFailures.WithLabelValues(stage).Inc()
	}
}

// Registry returns the underlying registry.
func (p *Pipeline) Registry() *prometheus.Registry { return p.registry }

// Handler serves the registry in the prometheus exposition format.
func (p *Pipeline) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
