package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "wellhead_"

	resultSuccess   = "success"
	resultError     = "error"
	resultDuplicate = "duplicate"
	resultRejected  = "rejected"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	consumerLag *prometheus.GaugeVec

	alarmTransitionsTotal    *prometheus.CounterVec
	alarmEvaluationErrors    *prometheus.CounterVec
	alarmConsistencyViolates prometheus.Counter

	rollupRefreshTotal   *prometheus.CounterVec
	rollupRefreshLatency *prometheus.HistogramVec
	rollupBucketsTotal   *prometheus.CounterVec

	catalogRefreshTotal *prometheus.CounterVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total ingested readings by transport and result",
			},
			[]string{"transport", "result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total ingest errors by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Reading intake latency in seconds, write plus evaluation",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		consumerLag = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "consumer_lag_seconds",
				Help: "Lag between reading timestamp and processing time",
			},
			[]string{"consumer"},
		)

		alarmTransitionsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alarm_transitions_total",
				Help: "Total alarm event transitions by type and severity",
			},
			[]string{"type", "severity"},
		)
		alarmEvaluationErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alarm_evaluation_errors_total",
				Help: "Total per-rule evaluation errors by kind",
			},
			[]string{"kind"},
		)
		alarmConsistencyViolates = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "alarm_consistency_violations_total",
				Help: "Times more than one open alarm event was found for a device and rule",
			},
		)

		rollupRefreshTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rollup_refresh_total",
				Help: "Total rollup refresh ticks by definition and result",
			},
			[]string{"definition", "result"},
		)
		rollupRefreshLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "rollup_refresh_latency_seconds",
				Help:    "Rollup refresh latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"definition", "result"},
		)
		rollupBucketsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rollup_buckets_upserted_total",
				Help: "Total rollup buckets written by definition",
			},
			[]string{"definition"},
		)

		catalogRefreshTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "catalog_refresh_total",
				Help: "Total metadata catalog refreshes by result",
			},
			[]string{"result"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "export_total",
				Help: "Total export operations by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "export_latency_seconds",
				Help:    "Export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestLatency,
			consumerLag,
			alarmTransitionsTotal,
			alarmEvaluationErrors,
			alarmConsistencyViolates,
			rollupRefreshTotal,
			rollupRefreshLatency,
			rollupBucketsTotal,
			catalogRefreshTotal,
			exportTotal,
			exportLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest records one reading's intake duration and result.
func ObserveIngest(transport, result string, duration time.Duration) {
	if transport == "" {
		transport = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(transport, result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncIngestError increments ingest error counter.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// ObserveConsumerLag sets consumer lag in seconds.
func ObserveConsumerLag(consumer string, lag time.Duration) {
	if consumer == "" {
		consumer = "unknown"
	}
	if lag < 0 {
		lag = 0
	}
	if consumerLag != nil {
		consumerLag.WithLabelValues(consumer).Set(lag.Seconds())
	}
}

// IncAlarmTransition counts an opened or closed alarm event.
func IncAlarmTransition(transition, severity string) {
	if transition == "" {
		transition = "unknown"
	}
	if severity == "" {
		severity = "unknown"
	}
	if alarmTransitionsTotal != nil {
		alarmTransitionsTotal.WithLabelValues(transition, severity).Inc()
	}
}

// IncAlarmEvaluationError counts a failed rule evaluation.
func IncAlarmEvaluationError(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	if alarmEvaluationErrors != nil {
		alarmEvaluationErrors.WithLabelValues(kind).Inc()
	}
}

// IncAlarmConsistencyViolation counts duplicate open events detected.
func IncAlarmConsistencyViolation() {
	if alarmConsistencyViolates != nil {
		alarmConsistencyViolates.Inc()
	}
}

// ObserveRollupRefresh records a refresh tick for one definition.
func ObserveRollupRefresh(definition, result string, duration time.Duration, buckets int) {
	if result == "" {
		result = resultSuccess
	}
	if rollupRefreshTotal != nil {
		rollupRefreshTotal.WithLabelValues(definition, result).Inc()
	}
	if rollupRefreshLatency != nil {
		rollupRefreshLatency.WithLabelValues(definition, result).Observe(duration.Seconds())
	}
	if buckets > 0 && rollupBucketsTotal != nil {
		rollupBucketsTotal.WithLabelValues(definition).Add(float64(buckets))
	}
}

// IncCatalogRefresh counts catalog snapshot reloads.
func IncCatalogRefresh(result string) {
	if result == "" {
		result = resultSuccess
	}
	if catalogRefreshTotal != nil {
		catalogRefreshTotal.WithLabelValues(result).Inc()
	}
}

// ObserveExport records export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess   = resultSuccess
	ResultError     = resultError
	ResultDuplicate = resultDuplicate
	ResultRejected  = resultRejected
)
