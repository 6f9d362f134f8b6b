// Package metrics exposes subflow compile and hand-off measurements to
// Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/goliatone/go-subflow"
)

const namespace = "subflow"

// Recorder implements subflow.MetricsRecorder with Prometheus collectors.
type Recorder struct {
	duration *prometheus.HistogramVec
	outcomes *prometheus.CounterVec
}

var _ subflow.MetricsRecorder = (*Recorder)(nil)

// NewRecorder creates the collectors and registers them with reg.
// A nil reg uses the default registerer.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	r := &Recorder{
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of compile and submission operations.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Compile and submission outcomes.",
			},
			[]string{"operation", "outcome"},
		),
	}

	for _, c := range []prometheus.Collector{r.duration, r.outcomes} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Recorder) RecordDuration(name string, duration time.Duration) {
	r.duration.WithLabelValues(name).Observe(duration.Seconds())
}

func (r *Recorder) RecordError(name string) {
	r.outcomes.WithLabelValues(name, "error").Inc()
}

func (r *Recorder) RecordSuccess(name string) {
	r.outcomes.WithLabelValues(name, "success").Inc()
}
