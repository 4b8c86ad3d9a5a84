package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters and histograms for the ingest and verification paths, partitioned
// by message category where that dimension exists.

var (
	// Ingest
	IngestMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "momoguard",
		Subsystem: "ingest",
		Name:      "messages_total",
		Help:      "Total SMS messages submitted for processing",
	}, []string{"outcome"})

	IngestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "momoguard",
		Subsystem: "ingest",
		Name:      "message_duration_seconds",
		Help:      "End-to-end processing duration for one message",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"outcome"})

	// Parser
	ParserExtractionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "momoguard",
		Subsystem: "parser",
		Name:      "extractions_total",
		Help:      "Total successful template extractions",
	}, []string{"category"})

	ParserFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "momoguard",
		Subsystem: "parser",
		Name:      "failures_total",
		Help:      "Total messages matching no known template",
	})

	ParserTimestampFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "momoguard",
		Subsystem: "parser",
		Name:      "timestamp_fallbacks_total",
		Help:      "Total records stamped with receive time for lack of a parsed timestamp",
	})

	// Fraud
	FraudRulesTriggered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "momoguard",
		Subsystem: "fraud",
		Name:      "rules_triggered_total",
		Help:      "Total scoring rule hits",
	}, []string{"rule"})

	FraudAssessments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "momoguard",
		Subsystem: "fraud",
		Name:      "assessments_total",
		Help:      "Total fraud assessments by resulting risk level",
	}, []string{"level"})

	// Resolver
	ResolverLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "momoguard",
		Subsystem: "resolver",
		Name:      "lookups_total",
		Help:      "Total resolution attempts by match status",
	}, []string{"status"})

	ResolverLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "momoguard",
		Subsystem: "resolver",
		Name:      "lookup_duration_seconds",
		Help:      "Resolution duration including candidate scans",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"status"})

	// Verification
	VerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "momoguard",
		Subsystem: "verify",
		Name:      "attempts_total",
		Help:      "Total verification attempts by outcome",
	}, []string{"status"})

	VerifyCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "momoguard",
		Subsystem: "verify",
		Name:      "cache_hits_total",
		Help:      "Total verification queries served from the resolver cache",
	})

	// Alerts
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "momoguard",
		Subsystem: "alerts",
		Name:      "sent_total",
		Help:      "Total alerts dispatched per channel",
	}, []string{"channel", "type"})

	AlertsSuppressedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "momoguard",
		Subsystem: "alerts",
		Name:      "suppressed_total",
		Help:      "Total alerts suppressed by the cooldown window",
	}, []string{"type"})

	// Stream
	StreamPublishesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "momoguard",
		Subsystem: "stream",
		Name:      "publishes_total",
		Help:      "Total events published to the record and alert streams",
	}, []string{"stream", "outcome"})

	// Database pool
	DBOpenConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "momoguard",
		Subsystem: "db",
		Name:      "open_connections",
		Help:      "Open connections in the database pool",
	})

	DBInUseConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "momoguard",
		Subsystem: "db",
		Name:      "in_use_connections",
		Help:      "Connections currently in use",
	})
)
