package backup

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation names used in metrics, logs and audit entries
const (
	OperationBackup  = "backup"
	OperationRestore = "restore"
	OperationInspect = "inspect"
)

// Metrics holds the prometheus collectors of the backup service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	operations      *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	lastSuccess     *prometheus.GaugeVec
	lastSize        prometheus.Gauge
	recordsBackedUp prometheus.Counter
	recordsRestored prometheus.Counter
	rowsPerTable    *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them on reg
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crm_backup_operations_total",
				Help: "Number of backup operations by outcome",
			},
			[]string{"operation", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crm_backup_operation_duration_seconds",
				Help:    "Duration of backup operations",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"operation"},
		),
		lastSuccess: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crm_backup_last_success_unix_seconds",
				Help: "UNIX timestamp of the last successful operation",
			},
			[]string{"operation"},
		),
		lastSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "crm_backup_last_artifact_size_bytes",
				Help: "Size of the last backup artifact in bytes",
			},
		),
		recordsBackedUp: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "crm_backup_records_backed_up_total",
				Help: "Number of rows written into backup artifacts",
			},
		),
		recordsRestored: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "crm_backup_records_restored_total",
				Help: "Number of rows restored from backup artifacts",
			},
		),
		rowsPerTable: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crm_backup_last_snapshot_rows",
				Help: "Rows per table in the last snapshot taken",
			},
			[]string{"table"},
		),
	}

	for _, c := range []prometheus.Collector{
		m.operations, m.duration, m.lastSuccess, m.lastSize,
		m.recordsBackedUp, m.recordsRestored, m.rowsPerTable,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveOperation records the outcome and duration of an operation
func (m *Metrics) ObserveOperation(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	} else {
		m.lastSuccess.WithLabelValues(operation).SetToCurrentTime()
	}
	m.operations.WithLabelValues(operation, status).Inc()
	m.duration.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveBackup records the size of a produced artifact and its row counts
func (m *Metrics) ObserveBackup(size int, counts map[string]int) {
	if m == nil {
		return
	}
	m.lastSize.Set(float64(size))
	var total int
	for table, n := range counts {
		m.rowsPerTable.WithLabelValues(table).Set(float64(n))
		total += n
	}
	m.recordsBackedUp.Add(float64(total))
}

// ObserveRestore records the number of restored rows
func (m *Metrics) ObserveRestore(records int64) {
	if m == nil {
		return
	}
	m.recordsRestored.Add(float64(records))
}
