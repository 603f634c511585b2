package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultSuccess  = "success"
	resultFailed   = "failed"
	resultSkipped  = "skipped"
	resultRetry    = "retry"
	resultRejected = "rejected"
)

var (
	deliveriesMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_sync_deliveries_total",
		Help: "Change records handled per sync config, by outcome (success, failed, skipped)",
	}, []string{"table", "operation", "result"})
	deliveryAttemptsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_sync_delivery_attempts_total",
		Help: "Outbound workflow calls by result (success, retry, rejected)",
	}, []string{"result"})
	deliveryDurationMetric = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "inventory_sync_delivery_duration_seconds",
		Help:    "Duration of a delivery including retries",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"result"})
	pollerTicksMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_sync_poller_ticks_total",
		Help: "Poller cycles by result (success, failed)",
	}, []string{"result"})
	claimedRecordsMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_sync_claimed_records_total",
		Help: "Change records claimed by the poller",
	})
	backlogMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "inventory_sync_change_backlog",
		Help: "Unprocessed change records after the last poller cycle",
	})
	retentionDeletedMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_sync_retention_deleted_total",
		Help: "Processed change records removed by the retention cleaner",
	})
	stuckRecordsMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "inventory_sync_stuck_records",
		Help: "Unprocessed change records older than the retention window",
	})
	manualSyncRowsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_sync_manual_rows_total",
		Help: "Rows pushed by manual syncs, by result (success, failed)",
	}, []string{"table", "result"})
	configErrorsMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_sync_config_errors_total",
		Help: "Sync configs moved to ERROR after consecutive delivery failures",
	})
)
