package security

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pulseboard/sentinel/internal/rules"
	"github.com/pulseboard/sentinel/internal/threat"
)

const (
	scanTypeBinary = "binary"
	scanTypeText   = "text"
)

const namespace = "sentinel"

// Metrics counts scan outcomes. Counters are exported to Prometheus and
// mirrored in atomics for the stats endpoint. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	scans     *prometheus.CounterVec
	findings  *prometheus.CounterVec
	rejects   *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	riskScore *prometheus.HistogramVec

	TotalScans   atomic.Int64
	UnsafeScans  atomic.Int64
	BinaryScans  atomic.Int64
	TextScans    atomic.Int64
	InvalidCalls atomic.Int64
	Unavailable  atomic.Int64
}

// NewMetrics registers the scan metrics on reg. When store is non-nil the
// catalog reload counters and snapshot age are exported as well.
func NewMetrics(reg prometheus.Registerer, store *rules.Store) (*Metrics, error) {
	m := &Metrics{
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Completed scans by subject type and verdict.",
		}, []string{"type", "verdict"}),
		findings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "findings_total",
			Help:      "Findings by rule kind and severity.",
		}, []string{"kind", "severity"}),
		rejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_errors_total",
			Help:      "Scan calls rejected before scanning, by reason.",
		}, []string{"type", "reason"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Scan latency.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"type"}),
		riskScore: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "risk_score",
			Help:      "Aggregated risk score per scan.",
			Buckets:   []float64{0, 5, 15, 25, 40, 60, 80, 100},
		}, []string{"type"}),
	}

	collectors := []prometheus.Collector{m.scans, m.findings, m.rejects, m.duration, m.riskScore}
	if store != nil {
		collectors = append(collectors,
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "catalog_reloads_total",
				Help:      "Successful catalog publishes.",
			}, func() float64 { return float64(store.ReloadStats().Reloads) }),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "catalog_reload_failures_total",
				Help:      "Catalog reloads that kept the previous snapshot.",
			}, func() float64 { return float64(store.ReloadStats().Failures) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "catalog_age_seconds",
				Help:      "Seconds since the current catalog snapshot was published.",
			}, func() float64 { return store.Age().Seconds() }),
		)
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observe(scanType string, v threat.Verdict, took time.Duration) {
	if m == nil {
		return
	}
	verdict := "safe"
	if !v.Safe {
		verdict = "unsafe"
		m.UnsafeScans.Add(1)
	}
	m.TotalScans.Add(1)
	if scanType == scanTypeBinary {
		m.BinaryScans.Add(1)
	} else {
		m.TextScans.Add(1)
	}

	m.scans.WithLabelValues(scanType, verdict).Inc()
	m.duration.WithLabelValues(scanType).Observe(took.Seconds())
	m.riskScore.WithLabelValues(scanType).Observe(float64(v.RiskScore))
	for _, f := range v.Findings {
		m.findings.WithLabelValues(string(f.Kind), f.Severity.String()).Inc()
	}
}

func (m *Metrics) rejected(scanType string, err error) {
	if m == nil {
		return
	}
	reason := "internal"
	switch {
	case threat.IsInvalidInput(err):
		reason = "invalid_input"
		m.InvalidCalls.Add(1)
	case threat.IsCatalogUnavailable(err):
		reason = "catalog_unavailable"
		m.Unavailable.Add(1)
	}
	m.rejects.WithLabelValues(scanType, reason).Inc()
}

// GetStats returns a copy of the in-memory counters.
func (m *Metrics) GetStats() map[string]int64 {
	if m == nil {
		return map[string]int64{}
	}
	return map[string]int64{
		"total_scans":         m.TotalScans.Load(),
		"unsafe_scans":        m.UnsafeScans.Load(),
		"binary_scans":        m.BinaryScans.Load(),
		"text_scans":          m.TextScans.Load(),
		"invalid_calls":       m.InvalidCalls.Load(),
		"catalog_unavailable": m.Unavailable.Load(),
	}
}

// UnsafeRate returns the percentage of completed scans judged unsafe.
func (m *Metrics) UnsafeRate() float64 {
	if m == nil {
		return 0
	}
	total := m.TotalScans.Load()
	if total == 0 {
		return 0
	}
	return float64(m.UnsafeScans.Load()) / float64(total) * 100
}
