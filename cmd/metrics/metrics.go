// Package metrics records per-run pipeline metrics and pushes them to a
// Prometheus Pushgateway.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/airframesio/sales-pipeline/cmd/pipeline"
)

const (
	namespace = "sales_pipeline"
	jobName   = "sales_pipeline"
)

// Outcome label values
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds the collectors of a single run on a private registry
type Metrics struct {
	registry *prometheus.Registry

	stageAttempts *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	rowsLoaded    prometheus.Gauge
	runSuccess    prometheus.Gauge
	lastRun       prometheus.Gauge
}

// New registers the run collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		stageAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_attempts_total",
				Help:      "Stage attempts by outcome",
			},
			[]string{"stage", "outcome"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of stage attempts",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16), // 10ms to ~5.5min
			},
			[]string{"stage"},
		),
		rowsLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rows_loaded",
			Help:      "Rows written to the target table by the last run",
		}),
		runSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_success",
			Help:      "1 if the last run succeeded, 0 otherwise",
		}),
		lastRun: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished",
		}),
	}
}

// OnEvent implements pipeline.Observer
func (m *Metrics) OnEvent(e pipeline.Event) {
	stage := string(e.Stage)
	switch e.Type {
	case pipeline.EventStageSucceeded:
		m.stageAttempts.WithLabelValues(stage, OutcomeSuccess).Inc()
		m.stageDuration.WithLabelValues(stage).Observe(e.Duration.Seconds())
	case pipeline.EventAttemptFailed:
		m.stageAttempts.WithLabelValues(stage, OutcomeFailure).Inc()
		m.stageDuration.WithLabelValues(stage).Observe(e.Duration.Seconds())
	case pipeline.EventRunFinished:
		if e.Report == nil {
			return
		}
		m.rowsLoaded.Set(float64(e.Report.RowsLoaded))
		if e.Report.Succeeded() {
			m.runSuccess.Set(1)
		} else {
			m.runSuccess.Set(0)
		}
		m.lastRun.Set(float64(e.Report.FinishedAt.Unix()))
	}
}

// Push sends the registry to a Pushgateway, grouped by pipeline name
func (m *Metrics) Push(ctx context.Context, url, pipelineName string) error {
	err := push.New(url, jobName).
		Gatherer(m.registry).
		Grouping("pipeline", pipelineName).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", url, err)
	}
	return nil
}
