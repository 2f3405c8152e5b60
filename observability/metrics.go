package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OracleMetrics tracks submission, feed refresh, and valuation activity.
type OracleMetrics struct {
	submissionsAccepted *prometheus.CounterVec
	submissionsRejected *prometheus.CounterVec
	feedFailures        *prometheus.CounterVec
	refreshLatency      prometheus.Histogram
	valuations          *prometheus.CounterVec
	valuationConfidence *prometheus.GaugeVec
}

var (
	oracleMetricsOnce sync.Once
	oracleRegistry    *OracleMetrics
)

// Oracle returns the process-wide oracle metrics registry.
func Oracle() *OracleMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &OracleMetrics{
			submissionsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "valuechain",
				Subsystem: "oracle",
				Name:      "submissions_accepted_total",
				Help:      "Count of accepted data point submissions by asset.",
			}, []string{"asset"}),
			submissionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "valuechain",
				Subsystem: "oracle",
				Name:      "submissions_rejected_total",
				Help:      "Count of rejected data point submissions by reason.",
			}, []string{"reason"}),
			feedFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "valuechain",
				Subsystem: "feed",
				Name:      "refresh_failures_total",
				Help:      "Count of per-asset external feed refresh failures by reason.",
			}, []string{"reason"}),
			refreshLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "valuechain",
				Subsystem: "feed",
				Name:      "refresh_duration_seconds",
				Help:      "Latency of a full external feed refresh cycle.",
				Buckets:   prometheus.DefBuckets,
			}),
			valuations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "valuechain",
				Subsystem: "valuation",
				Name:      "results_total",
				Help:      "Count of valuation computations by outcome.",
			}, []string{"outcome"}),
			valuationConfidence: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "valuechain",
				Subsystem: "valuation",
				Name:      "confidence",
				Help:      "Confidence score of the most recent valuation per asset.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(
			oracleRegistry.submissionsAccepted,
			oracleRegistry.submissionsRejected,
			oracleRegistry.feedFailures,
			oracleRegistry.refreshLatency,
			oracleRegistry.valuations,
			oracleRegistry.valuationConfidence,
		)
	})
	return oracleRegistry
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

// SubmissionAccepted records an accepted data point for the asset.
func (m *OracleMetrics) SubmissionAccepted(asset string) {
	if m == nil {
		return
	}
	m.submissionsAccepted.WithLabelValues(normalizeLabel(asset)).Inc()
}

// SubmissionRejected records a rejected data point under the given reason.
func (m *OracleMetrics) SubmissionRejected(reason string) {
	if m == nil {
		return
	}
	m.submissionsRejected.WithLabelValues(normalizeLabel(reason)).Inc()
}

// FeedFailure records a per-asset external feed failure under the given reason.
func (m *OracleMetrics) FeedFailure(reason string) {
	if m == nil {
		return
	}
	m.feedFailures.WithLabelValues(normalizeLabel(reason)).Inc()
}

// ObserveRefresh records the duration of one full feed refresh cycle.
func (m *OracleMetrics) ObserveRefresh(d time.Duration) {
	if m == nil {
		return
	}
	m.refreshLatency.Observe(d.Seconds())
}

// ValuationPublished records a valuation that met the confidence threshold.
func (m *OracleMetrics) ValuationPublished(asset string, confidence uint64) {
	if m == nil {
		return
	}
	m.valuations.WithLabelValues("published").Inc()
	m.valuationConfidence.WithLabelValues(normalizeLabel(asset)).Set(float64(confidence))
}

// ValuationBelowThreshold records a valuation withheld for low confidence.
func (m *OracleMetrics) ValuationBelowThreshold(asset string, confidence uint64) {
	if m == nil {
		return
	}
	m.valuations.WithLabelValues("below_threshold").Inc()
	m.valuationConfidence.WithLabelValues(normalizeLabel(asset)).Set(float64(confidence))
}

// ValuationFailed records a valuation attempt that returned an error.
func (m *OracleMetrics) ValuationFailed() {
	if m == nil {
		return
	}
	m.valuations.WithLabelValues("error").Inc()
}
