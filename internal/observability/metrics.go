package observability

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for BetLedger.
type Metrics struct {
	// --- Operation core ---
	OpsApplied     *prometheus.CounterVec
	OpsRejected    *prometheus.CounterVec
	OpDuration     *prometheus.HistogramVec
	LedgerSequence prometheus.Gauge

	// --- Vault accounting (per currency) ---
	VaultTreasury    *prometheus.GaugeVec
	VaultLiability   *prometheus.GaugeVec
	VaultAccruedFees *prometheus.GaugeVec
	VaultSurplus     *prometheus.GaugeVec

	// --- Channel & backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     prometheus.Counter
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency ---
	DuplicateRequests *prometheus.CounterVec
	DedupLRUSize      prometheus.Gauge

	// --- Ingestion ---
	CommandsReceived *prometheus.CounterVec
	CommandParseErrs *prometheus.CounterVec
	IngestToApply    *prometheus.HistogramVec

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistBatchSize     prometheus.Histogram
	PersistBatchDur      prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistRetry         prometheus.Counter
	PersistLastSequence  prometheus.Gauge

	// --- Projection ---
	ProjectionUpdateDur *prometheus.HistogramVec
	ProjectionSequence  prometheus.Gauge

	// --- Snapshot & replay ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter
	ReplayDuration    prometheus.Gauge

	// --- Query API ---
	QueryRequests  *prometheus.CounterVec
	QueryDuration  *prometheus.HistogramVec
	QueryCacheHits *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	applyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	ingestBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Operation core
		OpsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bet_ops_applied_total",
			Help: "Operations successfully applied by the core",
		}, []string{"op"}),

		OpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bet_ops_rejected_total",
			Help: "Operations rejected (validation, auth, dedup)",
		}, []string{"op", "reason"}),

		OpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bet_op_apply_duration_seconds",
			Help:    "Time to apply a single operation in the core",
			Buckets: applyBuckets,
		}, []string{"op"}),

		LedgerSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bet_ledger_sequence",
			Help: "Current global sequence number",
		}),

		// Vault accounting
		VaultTreasury: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bet_vault_treasury",
			Help: "Treasury balance per currency",
		}, []string{"currency"}),

		VaultLiability: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bet_vault_liability",
			Help: "Outstanding potential payouts per currency",
		}, []string{"currency"}),

		VaultAccruedFees: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bet_vault_accrued_fees",
			Help: "Accrued operator revenue per currency",
		}, []string{"currency"}),

		VaultSurplus: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bet_vault_surplus",
			Help: "Treasury minus liability per currency",
		}, []string{"currency"}),

		// Channel & backpressure
		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bet_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bet_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bet_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bet_projection_drops_total",
			Help: "Events dropped due to full projection channel",
		}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bet_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bet_persist_backpressure_total",
			Help: "Times the core blocked on the persist channel",
		}),

		// Idempotency
		DuplicateRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bet_duplicate_requests_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"op", "tier"}),

		DedupLRUSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bet_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		// Ingestion
		CommandsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bet_commands_received_total",
			Help: "Commands received from NATS",
		}, []string{"subject"}),

		CommandParseErrs: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bet_command_parse_errors_total",
			Help: "Malformed commands dropped at intake",
		}, []string{"subject"}),

		IngestToApply: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bet_ingest_to_apply_seconds",
			Help:    "NATS receive to core apply complete",
			Buckets: ingestBuckets,
		}, []string{"op"}),

		// Persistence
		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bet_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "bet_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "bet_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bet_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bet_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bet_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		// Projection
		ProjectionUpdateDur: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bet_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"projection"}),

		ProjectionSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bet_projection_sequence",
			Help: "Watermark of the projection tables",
		}),

		// Snapshot & replay
		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bet_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "bet_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bet_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		ReplayEventsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bet_replay_events_total",
			Help: "Events replayed on startup",
		}),

		ReplayDuration: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bet_replay_duration_seconds",
			Help: "Total replay time",
		}),

		// Query API
		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bet_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bet_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryCacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bet_query_cache_hits_total",
			Help: "Redis read-through results",
		}, []string{"endpoint", "result"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}

// SetVaultGauges publishes one currency's vault counters after a mutation.
func (m *Metrics) SetVaultGauges(currency string, treasury, liability, accruedFees, surplus int64) {
	m.VaultTreasury.WithLabelValues(currency).Set(float64(treasury))
	m.VaultLiability.WithLabelValues(currency).Set(float64(liability))
	m.VaultAccruedFees.WithLabelValues(currency).Set(float64(accruedFees))
	m.VaultSurplus.WithLabelValues(currency).Set(float64(surplus))
}

// RejectReason converts a rejection error into a stable metric label.
func RejectReason(err error) string {
	if err == nil {
		return "unknown"
	}
	return strings.ReplaceAll(err.Error(), " ", "_")
}
