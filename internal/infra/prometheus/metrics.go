package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the link lifecycle collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	linksIssued    prometheus.Counter
	issueFailures  *prometheus.CounterVec
	redemptions    *prometheus.CounterVec
	sweeps         *prometheus.CounterVec
	sweepDuration  prometheus.Histogram
	revocations    *prometheus.CounterVec
	linksPurged    prometheus.Counter
	consumedEvents *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg, normally the registry from NewRegistry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		linksIssued: f.NewCounter(prometheus.CounterOpts{
			Namespace: "linkvault",
			Name:      "links_issued_total",
			Help:      "Invite links minted and stored.",
		}),
		issueFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "linkvault",
			Name:      "link_issue_failures_total",
			Help:      "Failed issue attempts by reason.",
		}, []string{"reason"}),
		redemptions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "linkvault",
			Name:      "redemptions_total",
			Help:      "Redemption attempts by outcome.",
		}, []string{"outcome"}),
		sweeps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "linkvault",
			Name:      "reaper_sweeps_total",
			Help:      "Reaper sweeps by outcome.",
		}, []string{"outcome"}),
		sweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "linkvault",
			Name:      "reaper_sweep_duration_seconds",
			Help:      "Wall time of a reaper sweep.",
			Buckets:   prometheus.DefBuckets,
		}),
		revocations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "linkvault",
			Name:      "revocations_total",
			Help:      "Upstream revocations by outcome.",
		}, []string{"outcome"}),
		linksPurged: f.NewCounter(prometheus.CounterOpts{
			Namespace: "linkvault",
			Name:      "links_purged_total",
			Help:      "Revoked links deleted by the retention sweep.",
		}),
		consumedEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "linkvault",
			Name:      "redemption_events_total",
			Help:      "Redemption events pulled from JetStream by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) LinkIssued() {
	if m == nil {
		return
	}
	m.linksIssued.Inc()
}

func (m *Metrics) IssueFailed(reason string) {
	if m == nil {
		return
	}
	m.issueFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) Redemption(outcome string) {
	if m == nil {
		return
	}
	m.redemptions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Sweep(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.sweeps.WithLabelValues(outcome).Inc()
	m.sweepDuration.Observe(seconds)
}

func (m *Metrics) Revocation(outcome string) {
	if m == nil {
		return
	}
	m.revocations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Purged(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.linksPurged.Add(float64(n))
}

func (m *Metrics) RedemptionEvent(outcome string) {
	if m == nil {
		return
	}
	m.consumedEvents.WithLabelValues(outcome).Inc()
}
