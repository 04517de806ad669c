package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the ingestion pipeline.
//
// Metrics:
//   - corpusd_conversions_total{mode,outcome} - converter invocations by result
//   - corpusd_conversion_duration_seconds{mode} - converter wall time
//   - corpusd_scans_total{result} - corpus scans by result
//   - corpusd_scan_duration_seconds - full scan wall time
//   - corpusd_corpus_items{index} - size of the last successful corpus
type Metrics struct {
	ConversionsTotal   *prometheus.CounterVec
	ConversionDuration *prometheus.HistogramVec
	ScansTotal         *prometheus.CounterVec
	ScanDuration       prometheus.Histogram
	CorpusItems        *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ConversionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corpusd_conversions_total",
				Help: "Total number of converter invocations",
			},
			[]string{"mode", "outcome"},
		),
		ConversionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "corpusd_conversion_duration_seconds",
				Help:    "Duration of a single converter invocation in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
		ScansTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corpusd_scans_total",
				Help: "Total number of corpus scans",
			},
			[]string{"result"}, // "success" or the error kind
		),
		ScanDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "corpusd_scan_duration_seconds",
				Help:    "Duration of a full corpus scan in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		CorpusItems: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "corpusd_corpus_items",
				Help: "Number of entries in each index of the last successful scan",
			},
			[]string{"index"}, // conversations, inbound, outbound, slots
		),
	}
}

// ObserveConversion records one converter invocation. Safe on a nil receiver.
func (m *Metrics) ObserveConversion(mode, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ConversionsTotal.WithLabelValues(mode, outcome).Inc()
	m.ConversionDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// ObserveScan records one scan. Safe on a nil receiver.
func (m *Metrics) ObserveScan(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.ScansTotal.WithLabelValues(result).Inc()
	m.ScanDuration.Observe(d.Seconds())
}

// SetCorpusSize publishes the index sizes of the latest corpus. Safe on a nil receiver.
func (m *Metrics) SetCorpusSize(conversations, inbound, outbound, slots int) {
	if m == nil {
		return
	}
	m.CorpusItems.WithLabelValues("conversations").Set(float64(conversations))
	m.CorpusItems.WithLabelValues("inbound").Set(float64(inbound))
	m.CorpusItems.WithLabelValues("outbound").Set(float64(outbound))
	m.CorpusItems.WithLabelValues("slots").Set(float64(slots))
}
