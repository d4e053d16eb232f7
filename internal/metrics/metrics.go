package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/xerrors"
)

const namespace = "snapdiff"

// Outcomes of a single pair.
const (
	OutcomeCompared = "compared"
	OutcomeCached   = "cached"
	OutcomeSkipped  = "skipped"
)

// Kinds of regenerated artifacts.
const (
	KindDiff      = "diff"
	KindThumbnail = "thumbnail"
)

// Metrics is safe to use through a nil pointer, in which case nothing is
// recorded.
type Metrics struct {
	registry *prometheus.Registry

	pairs            *prometheus.CounterVec
	regenerated      *prometheus.CounterVec
	precisionBits    prometheus.Histogram
	compareDurations prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pairs_total",
			Help:      "Number of matched image pairs by outcome.",
		}, []string{"outcome"}),
		regenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_regenerated_total",
			Help:      "Number of derived images written by kind.",
		}, []string{"kind"}),
		precisionBits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "precision_bits",
			Help:      "Precision of compared pairs in bits.",
			Buckets:   prometheus.LinearBuckets(0, 4, 12),
		}),
		compareDurations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compare_duration_seconds",
			Help:      "Time spent comparing one pair, including artifact writes.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	m.registry.MustRegister(m.pairs, m.regenerated, m.precisionBits, m.compareDurations)
	return m
}

// Registry exposes the underlying registry, e.g. for promhttp.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObservePair(outcome string) {
	if m == nil {
		return
	}
	m.pairs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRegenerated(kind string) {
	if m == nil {
		return
	}
	m.regenerated.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveComparison(precisionBits float64, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.precisionBits.Observe(precisionBits)
	m.compareDurations.Observe(elapsed.Seconds())
}

// WriteTextfile stores the current values in the node exporter textfile
// format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return xerrors.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
