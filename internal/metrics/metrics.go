package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/MikeSquared-Agency/Mashup/internal/resultcache"
	"github.com/MikeSquared-Agency/Mashup/internal/threshold"
)

var (
	_ threshold.Observer   = (*Metrics)(nil)
	_ resultcache.Observer = (*Metrics)(nil)
)

// Submission outcomes.
const (
	OutcomeRecorded     = "recorded"
	OutcomeRejected     = "rejected"
	OutcomeNeedsConfirm = "needs_confirmation"
	OutcomeFailed       = "failed"
)

type Metrics struct {
	lookupsIssued *prometheus.CounterVec
	lookupsStale  prometheus.Counter
	lookupsFailed prometheus.Counter

	cacheInserted      *prometheus.CounterVec
	cacheDeduplicated  *prometheus.CounterVec
	cachePersistFailed *prometheus.CounterVec

	submissions *prometheus.CounterVec
	sessions    prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		lookupsIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mashup",
			Name:      "threshold_lookups_total",
			Help:      "Threshold conversions issued, by direction of the user edit.",
		}, []string{"direction"}),
		lookupsStale: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mashup",
			Name:      "threshold_lookups_stale_total",
			Help:      "Lookup responses discarded because a newer edit superseded them.",
		}),
		lookupsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mashup",
			Name:      "threshold_lookups_failed_total",
			Help:      "Current lookup responses that returned an error.",
		}),
		cacheInserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mashup",
			Name:      "results_inserted_total",
			Help:      "Records added to a result cache.",
		}, []string{"dataset"}),
		cacheDeduplicated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mashup",
			Name:      "results_deduplicated_total",
			Help:      "Records dropped because an identical fingerprint was cached.",
		}, []string{"dataset"}),
		cachePersistFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mashup",
			Name:      "results_persist_failures_total",
			Help:      "Failed writes of a result cache to persistent storage.",
		}, []string{"dataset"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mashup",
			Name:      "submissions_total",
			Help:      "Submissions by outcome and comparison mode.",
		}, []string{"outcome", "mode"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mashup",
			Name:      "sessions_open",
			Help:      "Editing sessions currently open.",
		}),
	}
	reg.MustRegister(
		m.lookupsIssued, m.lookupsStale, m.lookupsFailed,
		m.cacheInserted, m.cacheDeduplicated, m.cachePersistFailed,
		m.submissions, m.sessions,
	)
	return m
}

func (m *Metrics) LookupIssued(direction threshold.Authority) {
	m.lookupsIssued.WithLabelValues(string(direction)).Inc()
}

func (m *Metrics) LookupStale()  { m.lookupsStale.Inc() }
func (m *Metrics) LookupFailed() { m.lookupsFailed.Inc() }

func (m *Metrics) Inserted(dataset string)      { m.cacheInserted.WithLabelValues(dataset).Inc() }
func (m *Metrics) Deduplicated(dataset string)  { m.cacheDeduplicated.WithLabelValues(dataset).Inc() }
func (m *Metrics) PersistFailed(dataset string) { m.cachePersistFailed.WithLabelValues(dataset).Inc() }

// Submission counts one submit attempt. mode is "single" or "multi".
func (m *Metrics) Submission(outcome, mode string) {
	m.submissions.WithLabelValues(outcome, mode).Inc()
}

func (m *Metrics) SessionOpened() { m.sessions.Inc() }
func (m *Metrics) SessionClosed() { m.sessions.Dec() }
