package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics of the engine and its shell.
type Metrics struct {
	// --- Core processing ---
	CommandsApplied  *prometheus.CounterVec
	CommandsRejected *prometheus.CounterVec
	CommandDuration  *prometheus.HistogramVec
	StreamSequence   *prometheus.GaugeVec

	// --- Market ---
	IndexAccepted       *prometheus.CounterVec
	DeviationRejections *prometheus.CounterVec
	MarkPrice           *prometheus.GaugeVec
	OpenInterest        *prometheus.GaugeVec
	Fills               *prometheus.CounterVec
	FillVolume          *prometheus.CounterVec
	MakersCancelled     *prometheus.CounterVec
	RestingOrders       *prometheus.GaugeVec

	// --- Risk ---
	Liquidations     *prometheus.CounterVec
	KeeperRewards    *prometheus.CounterVec
	BadDebt          *prometheus.CounterVec
	PositionsSettled *prometheus.CounterVec
	MarketsSettled   *prometheus.CounterVec
	TreasuryBalance  prometheus.Gauge

	// --- Channel & backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupTier2Errors      prometheus.Counter
	ClockRegressions      *prometheus.CounterVec

	// --- Persistence ---
	PersistCommandsWritten prometheus.Counter
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetries         prometheus.Counter
	PersistLastSequence    prometheus.Gauge
	ReplayCommands         prometheus.Counter
	ReplayDuration         prometheus.Gauge

	// --- Cache ---
	CacheErrors *prometheus.CounterVec

	// --- Query API ---
	QueryRequests    *prometheus.CounterVec
	QueryDuration    *prometheus.HistogramVec
	QueryRateLimited prometheus.Counter
}

// NewMetrics registers every metric on the default registry. Call once.
func NewMetrics() *Metrics {
	return &Metrics{
		CommandsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gasfut_core_commands_applied_total",
			Help: "Commands applied by the core, by command type",
		}, []string{"command_type"}),
		CommandsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gasfut_core_commands_rejected_total",
			Help: "Commands rejected by the core, by command type and reason",
		}, []string{"command_type", "reason"}),
		CommandDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gasfut_core_command_duration_seconds",
			Help:    "Time to apply one command",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}, []string{"command_type"}),
		StreamSequence: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gasfut_core_stream_sequence",
			Help: "Last emitted event sequence per stream",
		}, []string{"stream"}),

		IndexAccepted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gasfut_index_readings_accepted_total",
			Help: "Index readings accepted by the deviation gate",
		}, []string{"market"}),
		DeviationRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gasfut_index_deviation_rejections_total",
			Help: "Index readings rejected by the deviation gate",
		}, []string{"market"}),
		MarkPrice: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gasfut_mark_price",
			Help: "Last accepted index price (1e6-scaled)",
		}, []string{"market"}),
		OpenInterest: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gasfut_open_interest_contracts",
			Help: "Open interest in contracts",
		}, []string{"market"}),
		Fills: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gasfut_fills_total",
			Help: "Matches executed",
		}, []string{"market"}),
		FillVolume: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gasfut_fill_volume_contracts_total",
			Help: "Contracts traded",
		}, []string{"market"}),
		MakersCancelled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gasfut_makers_cancelled_total",
			Help: "Resting orders cancelled during matching, by reason",
		}, []string{"market", "reason"}),
		RestingOrders: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gasfut_resting_orders",
			Help: "Orders resting in the book",
		}, []string{"market"}),

		Liquidations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gasfut_liquidations_total",
			Help: "Positions force-closed",
		}, []string{"market"}),
		KeeperRewards: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gasfut_keeper_rewards_micro_total",
			Help: "Liquidation fee share paid to keepers (quote micro-units)",
		}, []string{"market"}),
		BadDebt: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gasfut_bad_debt_micro_total",
			Help: "Losses beyond posted margin (quote micro-units)",
		}, []string{"market", "source"}),
		PositionsSettled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gasfut_positions_settled_total",
			Help: "Positions marked to the settlement price",
		}, []string{"market"}),
		MarketsSettled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gasfut_markets_settled_total",
			Help: "Settlement records created, by method",
		}, []string{"method"}),
		TreasuryBalance: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gasfut_treasury_balance_micro",
			Help: "Treasury balance (quote micro-units)",
		}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gasfut_channel_size",
			Help: "Current number of items in a channel",
		}, []string{"channel"}),
		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gasfut_channel_capacity",
			Help: "Capacity of a channel",
		}, []string{"channel"}),
		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gasfut_channel_utilization",
			Help: "size / capacity of a channel",
		}, []string{"channel"}),
		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gasfut_publish_drops_total",
			Help: "Outbound events dropped because the publish channel was full",
		}),
		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gasfut_persist_backpressure_total",
			Help: "Times the core blocked on a full persist channel",
		}),

		IdempotencyDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gasfut_idempotency_duplicates_total",
			Help: "Duplicate commands dropped, by tier",
		}, []string{"command_type", "tier"}),
		DedupLRUSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gasfut_dedup_lru_size",
			Help: "Entries in the in-memory dedup cache",
		}),
		DedupTier2Errors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gasfut_dedup_tier2_errors_total",
			Help: "Postgres dedup lookups that failed",
		}),
		ClockRegressions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gasfut_clock_regressions_total",
			Help: "Commands rejected for a timestamp behind their stream clock",
		}, []string{"stream"}),

		PersistCommandsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gasfut_persist_commands_written_total",
			Help: "Commands written to the command log",
		}),
		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gasfut_persist_events_written_total",
			Help: "Events written to the event log",
		}),
		PersistJournalsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gasfut_persist_journals_written_total",
			Help: "Ledger journals written",
		}),
		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "gasfut_persist_batch_size",
			Help:    "Outputs per persistence flush",
			Buckets: []float64{1, 5, 10, 50, 100, 500, 1000},
		}),
		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "gasfut_persist_batch_duration_seconds",
			Help:    "Time to flush one persistence batch",
			Buckets: prometheus.DefBuckets,
		}),
		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gasfut_persist_errors_total",
			Help: "Persistence failures by stage",
		}, []string{"stage"}),
		PersistRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gasfut_persist_retry_total",
			Help: "Persistence flush retries",
		}),
		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gasfut_persist_last_log_sequence",
			Help: "Highest command log sequence persisted",
		}),
		ReplayCommands: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gasfut_replay_commands_total",
			Help: "Commands replayed from the command log at startup",
		}),
		ReplayDuration: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gasfut_replay_duration_seconds",
			Help: "Duration of the last startup replay",
		}),

		CacheErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gasfut_cache_errors_total",
			Help: "Redis operations that failed",
		}, []string{"op"}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gasfut_query_requests_total",
			Help: "HTTP query requests by route and status",
		}, []string{"route", "status"}),
		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gasfut_query_duration_seconds",
			Help:    "HTTP query latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		QueryRateLimited: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gasfut_query_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		}),
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
