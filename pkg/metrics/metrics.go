package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	StoreOpDuration *prometheus.HistogramVec

	KeygenRetriesTotal   prometheus.Counter
	KeygenExhaustedTotal prometheus.Counter
	ResurrectionsTotal   *prometheus.CounterVec
	NaturalKeyConflicts  *prometheus.CounterVec
	HardDeleteFallbacks  *prometheus.CounterVec
	AuditEntriesTotal    prometheus.Counter
	AuditBufferDropped   prometheus.Counter
	DBConnections        prometheus.Gauge
}

func NewCollector(serviceName string) *Collector {
	return &Collector{
		StoreOpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Record store operation latency distribution.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}, []string{"operation", "table"}),

		KeygenRetriesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "keygen",
			Name:      "retries_total",
			Help:      "Inserts retried with a fresh key after a primary-key collision.",
		}),

		KeygenExhaustedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "keygen",
			Name:      "exhausted_total",
			Help:      "Creates that failed with the retry budget spent. Alert if non-zero.",
		}),

		ResurrectionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "store",
			Name:      "resurrections_total",
			Help:      "Soft-deleted records revived in place by a create.",
		}, []string{"table"}),

		NaturalKeyConflicts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "store",
			Name:      "natural_key_conflicts_total",
			Help:      "Creates rejected because an active record already holds the natural key.",
		}, []string{"table"}),

		HardDeleteFallbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "store",
			Name:      "hard_delete_fallbacks_total",
			Help:      "Soft deletes that hit a uniqueness violation and fell back to a hard delete. Alert if non-zero.",
		}, []string{"table"}),

		AuditEntriesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "audit",
			Name:      "entries_total",
			Help:      "Total audit log entries written.",
		}),

		AuditBufferDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "audit",
			Name:      "buffer_dropped_total",
			Help:      "Audit entries dropped due to full buffer. Alert if non-zero.",
		}),

		DBConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: serviceName,
			Subsystem: "db",
			Name:      "open_connections",
			Help:      "Current number of open database connections.",
		}),
	}
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
