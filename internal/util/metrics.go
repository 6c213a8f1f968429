package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compliance_ticks_total",
		Help: "Total number of scheduler evaluations by outcome",
	}, []string{"outcome"})

	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "compliance_tick_duration_seconds",
		Help:    "Latency of one full classify/alert/SLA/risk evaluation",
		Buckets: prometheus.DefBuckets,
	})

	AlertsGeneratedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compliance_alerts_generated_total",
		Help: "Total number of alerts generated",
	}, []string{"type", "priority"})

	SLAViolations = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "compliance_sla_violations",
		Help: "SLA violations reported by the latest evaluation",
	}, []string{"status"})

	RiskScore = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "compliance_risk_score",
		Help: "Risk score reported by the latest evaluation",
	})

	SkippedItems = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "compliance_skipped_items",
		Help: "Items excluded from the latest evaluation for missing or malformed expiry",
	})

	MutationsEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_mutations_enqueued_total",
		Help: "Total number of offline mutations enqueued",
	}, []string{"action"})

	MutationsSyncedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queue_mutations_synced_total",
		Help: "Total number of offline mutations replayed successfully",
	})

	MutationsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queue_mutations_failed_total",
		Help: "Total number of failed mutation replay attempts",
	})

	DrainsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_drains_total",
		Help: "Total number of drain attempts by outcome",
	}, []string{"outcome"})

	PendingMutations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "queue_pending_mutations",
		Help: "Mutations waiting to be replayed",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
