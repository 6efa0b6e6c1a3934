package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring
var (
	HashesObserved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fisher_hashes_observed_total",
		Help: "Transaction hashes delivered by a hash source",
	}, []string{"source"})

	HashesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fisher_hashes_skipped_total",
		Help: "Transaction hashes not processed, by reason",
	}, []string{"reason"})

	ActiveSource = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fisher_hash_source_active",
		Help: "1 for the hash source currently feeding the pipeline",
	}, []string{"source"})

	SubscriptionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fisher_subscription_failures_total",
		Help: "Push subscription attempts that failed or dropped",
	})

	IntentsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fisher_intents_detected_total",
		Help: "Decoded pay intents",
	})

	IntentsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fisher_intents_rejected_total",
		Help: "Intents dropped by validation, by reason",
	}, []string{"reason"})

	Executions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fisher_executions_total",
		Help: "Execution attempts by outcome",
	}, []string{"status"})

	SubmissionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fisher_submission_errors_total",
		Help: "Failed broadcasts by error type",
	}, []string{"error_type"})

	CircuitDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fisher_circuit_dropped_total",
		Help: "Valid intents dropped while the execution circuit was open",
	})

	PipelineDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fisher_pipeline_seconds",
		Help:    "Time from hash admission to pipeline completion",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	InFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fisher_inflight_pipelines",
		Help: "Pipelines currently running",
	})

	GasUsed = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fisher_gas_used",
		Help:    "Gas used by relay transactions",
		Buckets: prometheus.ExponentialBuckets(21000, 2, 10),
	})

	GasPrice = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fisher_gas_price_gwei",
		Help: "Current gas price in gwei",
	})

	PendingRelayTxs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fisher_pending_relay_transactions",
		Help: "Relay transactions broadcast but not yet confirmed",
	})

	FeeEarned = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fisher_fee_earned_total",
		Help: "Cumulative priority fee earned in token base units",
	})

	GasSpent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fisher_gas_spent_wei_total",
		Help: "Cumulative gas cost in wei",
	})
)
