package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "palisade"
)

var (
	syncDurationBuckets = []float64{1, 2, 5, 10, 30, 60, 120, 300, 600}

	// Dispatch metrics
	DispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dispatch_total",
		Help:      "Count of dispatched ban/unban branches.",
	}, []string{"kind", "op", "status"})

	DispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "dispatch_duration_seconds",
		Help:      "Time taken for a single dispatch branch.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind", "op"})

	RetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retries_total",
		Help:      "Count of replayed commands.",
	}, []string{"kind", "op", "status"})

	// Reconciliation metrics
	SyncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sync_duration_seconds",
		Help:      "Time taken for an integration reconcile pass.",
		Buckets:   syncDurationBuckets,
	}, []string{"kind"})

	SyncRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_runs_total",
		Help:      "Count of reconcile passes.",
	}, []string{"kind", "status"})

	SyncLastSuccessTimestamp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sync_last_success_timestamp_seconds",
		Help:      "Unix timestamp of the last successful reconcile pass.",
	}, []string{"kind"})

	IntegrationsDisabledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "integrations_disabled_total",
		Help:      "Count of integrations disabled after failed validation.",
	}, []string{"kind"})

	// Notification metrics
	EventsReportedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_reported_total",
		Help:      "Count of events delivered to the notification sink.",
	}, []string{"sink", "status"})
)
