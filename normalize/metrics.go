package normalize

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts normalization decisions. A nil *Metrics records nothing.
type Metrics struct {
	decisions  *prometheus.CounterVec
	similarity prometheus.Histogram
}

// NewMetrics registers the normalizer metrics with registry
// (prometheus.DefaultRegisterer when nil).
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)
	return &Metrics{
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dxgraph",
			Subsystem: "normalize",
			Name:      "decisions_total",
			Help:      "Normalization outcomes by decision",
		}, []string{"decision"}),
		similarity: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dxgraph",
			Subsystem: "normalize",
			Name:      "best_similarity",
			Help:      "Cosine similarity of the best catalog match",
			Buckets:   []float64{0.5, 0.6, 0.7, 0.75, 0.8, 0.85, 0.9, 0.95, 1},
		}),
	}
}

func (m *Metrics) observe(res Result) {
	if m == nil {
		return
	}
	decision := "rejected"
	if res.Accepted {
		decision = "accepted"
	}
	m.decisions.WithLabelValues(decision).Inc()
	m.similarity.Observe(res.Similarity)
}
