package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	KafkaMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mrtingester_kafka_messages_total",
			Help: "Total messages consumed from or produced to Kafka.",
		},
		[]string{"topic", "action"},
	)

	RecordsDecodedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mrtingester_records_decoded_total",
			Help: "MRT records decoded, by record type.",
		},
		[]string{"source", "type"},
	)

	DecodeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mrtingester_decode_errors_total",
			Help: "MRT decode failures by reason (truncated, length, tag, io).",
		},
		[]string{"source", "reason"},
	)

	DBWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mrtingester_db_write_duration_seconds",
			Help:    "DB write latency.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"op"},
	)

	DBRowsAffectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mrtingester_db_rows_affected_total",
			Help: "DB rows written or deleted.",
		},
		[]string{"table", "op"},
	)

	DedupConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mrtingester_dedup_conflicts_total",
			Help: "Event dedup hits (ON CONFLICT DO NOTHING skips).",
		},
		[]string{"source"},
	)

	LastRecordTimestamp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mrtingester_last_record_timestamp_seconds",
			Help: "MRT header timestamp of the last archived record.",
		},
		[]string{"collector"},
	)

	BatchSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mrtingester_batch_size",
			Help:    "Batch sizes flushed to DB.",
			Buckets: []float64{1, 10, 50, 100, 250, 500, 1000, 2000, 5000},
		},
		[]string{"source"},
	)

	PartitionsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mrtingester_partitions_dropped_total",
			Help: "Event partitions dropped by retention.",
		},
	)
)

var registerOnce sync.Once

func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			KafkaMessagesTotal,
			RecordsDecodedTotal,
			DecodeErrorsTotal,
			DBWriteDuration,
			DBRowsAffectedTotal,
			DedupConflictsTotal,
			LastRecordTimestamp,
			BatchSize,
			PartitionsDroppedTotal,
		)
	})
}
