package monitoring

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Run outcomes reported to a Recorder.
const (
	StatusComplete = "complete"
	StatusFailed   = "failed"
	StatusCanceled = "canceled"
)

// RunStatus maps the error a run ended with to its reported outcome.
func RunStatus(err error) string {
	switch {
	case err == nil:
		return StatusComplete
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return StatusCanceled
	default:
		return StatusFailed
	}
}

// Recorder receives one report per merge run.
type Recorder interface {
	RecordRun(status string, values int64, retired int, elapsed time.Duration)
}

// Nop discards every report.
var Nop Recorder = nopRecorder{}

type nopRecorder struct{}

func (nopRecorder) RecordRun(string, int64, int, time.Duration) {}

// Stats exports merge runs as prometheus metrics.
type Stats struct {
	runs     *prometheus.CounterVec
	values   prometheus.Counter
	retired  prometheus.Counter
	duration prometheus.Histogram
}

// NewStats creates the merge metrics and registers them with reg.
func NewStats(reg prometheus.Registerer) (*Stats, error) {
	s := &Stats{
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "kmerge",
				Subsystem: "merge",
				Name:      "runs_total",
				Help:      "Merge runs by outcome.",
			},
			[]string{"status"},
		),
		values: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kmerge",
			Subsystem: "merge",
			Name:      "values_total",
			Help:      "Values written to the output.",
		}),
		retired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kmerge",
			Subsystem: "merge",
			Name:      "sources_retired_total",
			Help:      "Sources drained and closed.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kmerge",
			Subsystem: "merge",
			Name:      "duration_seconds",
			Help:      "Merge run duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	for _, c := range []prometheus.Collector{s.runs, s.values, s.retired, s.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Stats) RecordRun(status string, values int64, retired int, elapsed time.Duration) {
	s.runs.WithLabelValues(status).Inc()
	s.values.Add(float64(values))
	s.retired.Add(float64(retired))
	s.duration.Observe(elapsed.Seconds())
}
