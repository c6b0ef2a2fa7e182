package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	scansTotal   *prometheus.CounterVec
	scanSymbols  *prometheus.CounterVec
	scanDuration *prometheus.HistogramVec
	lastMatches  *prometheus.GaugeVec
	aggregations *prometheus.CounterVec
	cacheLookups *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
	latency      *prometheus.HistogramVec
}

// New creates a recorder registered on the default registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the collectors on reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		scansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finscan_scans_total",
				Help: "Total number of completed universe scans",
			},
			[]string{"timeframe"},
		),
		scanSymbols: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finscan_scan_symbols_total",
				Help: "Symbols processed by scans, by outcome",
			},
			[]string{"timeframe", "outcome"},
		),
		scanDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finscan_scan_duration_seconds",
				Help:    "Duration of a full universe scan",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"timeframe"},
		),
		lastMatches: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "finscan_scan_last_matches",
				Help: "Matches found by the most recent scan",
			},
			[]string{"timeframe"},
		),
		aggregations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finscan_aggregation_days_total",
				Help: "Symbol-days processed by the timeframe aggregator",
			},
			[]string{"pair", "outcome"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finscan_result_cache_lookups_total",
				Help: "Result cache lookups",
			},
			[]string{"hit"},
		),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finscan_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finscan_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
	reg.MustRegister(r.scansTotal, r.scanSymbols, r.scanDuration, r.lastMatches,
		r.aggregations, r.cacheLookups, r.errorsTotal, r.latency)
	return r
}

// RecordScan records one completed scan.
func (r *Recorder) RecordScan(timeframe string, scanned, matches, failed int, seconds float64) {
	r.scansTotal.WithLabelValues(timeframe).Inc()
	r.scanSymbols.WithLabelValues(timeframe, "scanned").Add(float64(scanned))
	r.scanSymbols.WithLabelValues(timeframe, "matched").Add(float64(matches))
	r.scanSymbols.WithLabelValues(timeframe, "failed").Add(float64(failed))
	r.scanDuration.WithLabelValues(timeframe).Observe(seconds)
	r.lastMatches.WithLabelValues(timeframe).Set(float64(matches))
}

// RecordAggregation records the outcome of one symbol-day conversion.
func (r *Recorder) RecordAggregation(pair, outcome string) {
	r.aggregations.WithLabelValues(pair, outcome).Inc()
}

// RecordCacheLookup records a result cache hit or miss.
func (r *Recorder) RecordCacheLookup(hit bool) {
	r.cacheLookups.WithLabelValues(strconv.FormatBool(hit)).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
