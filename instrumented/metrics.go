package instrumented

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes instrumented promise activity as prometheus metrics. It
// counts invocations and observes their duration, partitioned by subject.
type Metrics struct {
	invocations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// NewMetrics creates promise metrics and registers them with reg. It returns
// an error if one of the collectors cannot be registered, for example when
// two Metrics are registered with the same registry.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "promise_invocations_total",
			Help: "Total number of promise handler and driving method invocations, partitioned by subject.",
		}, []string{"subject"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "promise_invocation_duration_seconds",
			Help:    "Duration of promise handler and driving method invocations, partitioned by subject.",
			Buckets: prometheus.DefBuckets,
		}, []string{"subject"}),
	}

	for _, c := range []prometheus.Collector{m.invocations, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Handler returns the instrumentation handler func feeding m. Attach it to
// an Instrumentation to collect metrics for every promise it creates:
//
//	metrics, err := instrumented.NewMetrics(prometheus.DefaultRegisterer)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	instrumented.AddInstrumentationHandlers(metrics.Handler())
func (m *Metrics) Handler() InstrumentationHandlerFunc {
	return func(invocation *Invocation) {
		subject := invocation.SubjectInfo.Subject

		m.invocations.WithLabelValues(subject).Inc()
		m.duration.WithLabelValues(subject).Observe(invocation.EndTime.Sub(invocation.StartTime).Seconds())
	}
}
