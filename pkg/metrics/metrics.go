package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring
var (
	PaymentsValidated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facilitator_payments_validated_total",
		Help: "The total number of payment validations by scheme and outcome",
	}, []string{"chain_id", "scheme", "status"})

	ExactSettlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facilitator_exact_settlements_total",
		Help: "The total number of synchronous settlements by outcome",
	}, []string{"chain_id", "status"})

	ExactSettlementTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "facilitator_exact_settlement_seconds",
		Help:    "Time from validated exact payment to confirmed transfer",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10), // Start at 1s with 10 buckets doubling in size
	}, []string{"chain_id"})

	BatchesSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facilitator_batches_submitted_total",
		Help: "The total number of batch withdrawals submitted by outcome",
	}, []string{"chain_id", "status"})

	BatchSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "facilitator_batch_size",
		Help:    "Number of intents per submitted batch",
		Buckets: prometheus.ExponentialBuckets(1, 2, 8),
	}, []string{"chain_id"})

	BatchSettlementTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "facilitator_batch_settlement_seconds",
		Help:    "Time from batch submission to confirmed receipt",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	}, []string{"chain_id"})

	PendingRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "facilitator_pending_records",
		Help: "The number of queue records awaiting batch settlement",
	})

	SettledRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facilitator_settled_records_total",
		Help: "The total number of queue records settled by chain",
	}, []string{"chain_id"})

	FailedRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facilitator_failed_records_total",
		Help: "The total number of queue records failed by chain",
	}, []string{"chain_id"})

	ValidationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facilitator_validation_errors_total",
		Help: "Total number of validation rejections by reason",
	}, []string{"chain_id", "scheme", "reason"})

	NonceReplaysBlocked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facilitator_nonce_replays_blocked_total",
		Help: "Total number of payments rejected for reusing a consumed nonce",
	}, []string{"chain_id"})

	DomainLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facilitator_domain_lookups_total",
		Help: "Token signing-domain resolutions by source (live, known, cache)",
	}, []string{"chain_id", "source"})

	SettlerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facilitator_settler_runs_total",
		Help: "Batch settler runs by outcome (completed, skipped)",
	}, []string{"outcome"})

	CircuitBreakerOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "facilitator_circuit_breaker_open",
		Help: "Whether the settlement circuit breaker for a chain is open",
	}, []string{"chain_id"})

	GasPrice = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "facilitator_gas_price_wei",
		Help: "Last refreshed gas price per chain, in wei",
	}, []string{"chain_id"})

	RecordsCleaned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "facilitator_records_cleaned_total",
		Help: "Terminal queue records removed by retention cleanup",
	})
)
