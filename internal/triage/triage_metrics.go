package triage

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	SourceFetchesTotal   *prometheus.CounterVec
	SourceFetchDuration  *prometheus.HistogramVec
	SourceRecords        *prometheus.HistogramVec
	RefreshDuration      prometheus.Histogram
	RefreshFailedSources prometheus.Histogram
	StaleRefreshesTotal  prometheus.Counter
	SessionsOpen         prometheus.Gauge
	CompletionsTotal     *prometheus.CounterVec
	ApprovalsTotal       *prometheus.CounterVec
	DraftSuggestions     *prometheus.CounterVec
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SourceFetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskdesk_source_fetches_total",
			Help: "Total source adapter fetches by source and outcome.",
		}, []string{"source", "outcome"}),
		SourceFetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskdesk_source_fetch_duration_seconds",
			Help:    "Duration of individual source adapter fetches.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 11), // 10ms .. ~10s
		}, []string{"source"}),
		SourceRecords: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskdesk_source_records",
			Help:    "Records returned per successful source fetch.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1 .. 512
		}, []string{"source"}),
		RefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "taskdesk_refresh_duration_seconds",
			Help:    "Duration of a full fan-out refresh, bounded by the slowest source.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 11), // 10ms .. ~10s
		}),
		RefreshFailedSources: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "taskdesk_refresh_failed_sources",
			Help:    "Sources that failed per refresh.",
			Buckets: prometheus.LinearBuckets(0, 1, 8), // 0 .. 7
		}),
		StaleRefreshesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskdesk_stale_refreshes_total",
			Help: "Refresh results discarded because the session closed or moved on.",
		}),
		SessionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskdesk_sessions_open",
			Help: "Triage sessions currently open.",
		}),
		CompletionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskdesk_completions_total",
			Help: "Tasks marked complete by source.",
		}, []string{"source"}),
		ApprovalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskdesk_ai_approvals_total",
			Help: "AI action approvals by outcome.",
		}, []string{"outcome"}),
		DraftSuggestions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskdesk_draft_suggestions_total",
			Help: "Draft suggestions requested by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.SourceFetchesTotal,
		m.SourceFetchDuration,
		m.SourceRecords,
		m.RefreshDuration,
		m.RefreshFailedSources,
		m.StaleRefreshesTotal,
		m.SessionsOpen,
		m.CompletionsTotal,
		m.ApprovalsTotal,
		m.DraftSuggestions,
	)

	return m
}

// Hooks returns AggregatorHooks that update the corresponding metrics.
func (m *Metrics) Hooks() AggregatorHooks {
	return AggregatorHooks{
		OnSourceFetch: func(source SourceTag, duration float64, records int, err error) {
			m.SourceFetchesTotal.WithLabelValues(string(source), outcomeLabel(err)).Inc()
			m.SourceFetchDuration.WithLabelValues(string(source)).Observe(duration)
			if err == nil {
				m.SourceRecords.WithLabelValues(string(source)).Observe(float64(records))
			}
		},
		OnRefresh: func(duration float64, failed int) {
			m.RefreshDuration.Observe(duration)
			m.RefreshFailedSources.Observe(float64(failed))
		},
	}
}

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
