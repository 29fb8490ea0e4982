// Package metrics exports the outcome of a run in the node_exporter textfile
// format.
package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"socialplus-report/internal/apperr"
	"socialplus-report/internal/history"
	"socialplus-report/internal/report"
)

const namespace = "socialplus_report"

// Recorder collects gauges for one run and writes them to a textfile.
type Recorder struct {
	path     string
	registry *prometheus.Registry

	value       *prometheus.GaugeVec
	success     prometheus.Gauge
	partial     prometheus.Gauge
	emailSent   prometheus.Gauge
	duration    prometheus.Gauge
	lastRun     prometheus.Gauge
	targetDate  prometheus.Gauge
	queryFailed *prometheus.GaugeVec
}

// NewRecorder returns a recorder writing to path. An empty path disables
// writing but the gauges are still populated.
func NewRecorder(path string) *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		path:     path,
		registry: reg,
		value: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "value",
			Help:      "Numeric report value per query label for the target date.",
		}, []string{"label"}),
		success: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "success",
			Help:      "1 if the last run produced a report file.",
		}),
		partial: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "partial",
			Help:      "1 if the last run marked at least one query as failed.",
		}),
		emailSent: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "email_sent",
			Help:      "1 if the last run delivered the report email.",
		}),
		duration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "duration_seconds",
			Help:      "Wall time of the last run.",
		}),
		lastRun: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
		targetDate: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "target_date_timestamp_seconds",
			Help:      "Unix time of midnight UTC of the last run's target date.",
		}),
		queryFailed: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "query_failed",
			Help:      "1 for each query label whose value could not be computed.",
		}, []string{"label"}),
	}
}

// Observe sets every gauge from run. Non-numeric values are skipped.
func (r *Recorder) Observe(run history.Run) {
	r.value.Reset()
	r.queryFailed.Reset()
	for _, v := range run.Values {
		if v.Value == report.ErrorMarker {
			r.queryFailed.WithLabelValues(v.Label).Set(1)
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Value), 64)
		if err != nil {
			continue
		}
		r.value.WithLabelValues(v.Label).Set(f)
	}

	r.success.Set(boolGauge(run.Status != history.StatusFailed))
	r.partial.Set(boolGauge(run.Status == history.StatusPartial))
	r.emailSent.Set(boolGauge(run.Emailed))
	r.duration.Set(run.Duration().Seconds())

	finished := run.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	r.lastRun.Set(float64(finished.Unix()))
	if !run.TargetDate.IsZero() {
		r.targetDate.Set(float64(run.TargetDate.Time(time.UTC).Unix()))
	}
}

// Gatherer exposes the registry.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Flush writes the registry to the textfile.
func (r *Recorder) Flush() error {
	if r.path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(r.path, r.registry); err != nil {
		return goerr.Wrap(err, "failed to write metrics textfile",
			goerr.V("path", r.path),
			goerr.T(apperr.TagFileWrite))
	}
	return nil
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
