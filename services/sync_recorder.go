package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/inventory-sync/models"
	"github.com/yeremiapane/inventory-sync/utils"
	"gorm.io/gorm"
)

// Event names published to live subscribers.
const (
	EventDelivery     = "sync_delivery"
	EventStatusChange = "sync_status_change"
	EventManualSync   = "sync_manual"
	EventPollerTick   = "sync_poller_tick"
	EventConfigChange = "sync_config_change"
)

// EventPublisher fans sync activity out to live subscribers.
type EventPublisher interface {
	Publish(event string, data any)
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, any) {}

// StatusChange is published when a config changes status.
type StatusChange struct {
	ConfigID string            `json:"config_id"`
	Status   models.SyncStatus `json:"status"`
	Reason   string            `json:"reason,omitempty"`
}

// SyncRecorder owns the counter columns of sync configs and moves a config to
// ERROR once its consecutive failures reach the threshold.
type SyncRecorder struct {
	db        *gorm.DB
	registry  *SyncConfigRegistry
	threshold int
	publisher EventPublisher
	now       func() time.Time
}

func NewSyncRecorder(db *gorm.DB, registry *SyncConfigRegistry, threshold int, publisher EventPublisher) *SyncRecorder {
	if threshold <= 0 {
		threshold = 5
	}
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &SyncRecorder{
		db:        db,
		registry:  registry,
		threshold: threshold,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

var operationCounters = map[models.Operation]string{
	models.OperationInsert: "insert_sync_count",
	models.OperationUpdate: "update_sync_count",
	models.OperationDelete: "delete_sync_count",
}

// RecordAuto counts one change-log delivery for a config. A config deleted in
// the meantime is silently ignored.
func (r *SyncRecorder) RecordAuto(ctx context.Context, configID string, op models.Operation, deliveryErr error) {
	now := r.now()
	updates := map[string]any{
		"total_sync_count": gorm.Expr("total_sync_count + ?", 1),
		"auto_sync_count":  gorm.Expr("auto_sync_count + ?", 1),
		"last_sync_time":   now,
		"last_sync_type":   models.SyncTypeAuto,
	}
	if col, ok := operationCounters[op]; ok {
		updates[col] = gorm.Expr(col+" + ?", 1)
	}
	if deliveryErr == nil {
		updates["success_sync_count"] = gorm.Expr("success_sync_count + ?", 1)
		updates["consecutive_failures"] = 0
	} else {
		updates["failed_sync_count"] = gorm.Expr("failed_sync_count + ?", 1)
		updates["consecutive_failures"] = gorm.Expr("consecutive_failures + ?", 1)
		updates["last_error"] = deliveryErr.Error()
	}

	res := r.db.WithContext(ctx).Model(&models.SyncConfig{}).Where("id = ?", configID).Updates(updates)
	if res.Error != nil {
		utils.ErrorLogger.WithField("config_id", configID).Errorf("Failed to record sync result: %v", res.Error)
		return
	}
	if res.RowsAffected == 0 || deliveryErr == nil {
		return
	}
	r.checkThreshold(ctx, configID, deliveryErr)
}

// checkThreshold flips an ACTIVE config to ERROR in one conditional update so
// concurrent failures cannot double-report the transition.
func (r *SyncRecorder) checkThreshold(ctx context.Context, configID string, cause error) {
	res := r.db.WithContext(ctx).Model(&models.SyncConfig{}).
		Where("id = ? AND status = ? AND consecutive_failures >= ?", configID, models.SyncStatusActive, r.threshold).
		Update("status", models.SyncStatusError)
	if res.Error != nil {
		utils.ErrorLogger.WithField("config_id", configID).Errorf("Failed to set ERROR status: %v", res.Error)
		return
	}
	if res.RowsAffected == 0 {
		return
	}

	r.registry.SetStatus(configID, models.SyncStatusError)
	configErrorsMetric.Inc()
	utils.ErrorLogger.WithFields(logrus.Fields{
		"config_id": configID,
		"threshold": r.threshold,
	}).Errorf("Sync config moved to ERROR after consecutive failures: %v", cause)
	r.publisher.Publish(EventStatusChange, StatusChange{
		ConfigID: configID,
		Status:   models.SyncStatusError,
		Reason:   cause.Error(),
	})
}

// RecordManual counts a finished manual sync. Operation and auto counters
// are left alone.
func (r *SyncRecorder) RecordManual(ctx context.Context, configID string, success, failed int) {
	now := r.now()
	updates := map[string]any{
		"manual_sync_count":     gorm.Expr("manual_sync_count + ?", 1),
		"total_sync_count":      gorm.Expr("total_sync_count + ?", success+failed),
		"success_sync_count":    gorm.Expr("success_sync_count + ?", success),
		"failed_sync_count":     gorm.Expr("failed_sync_count + ?", failed),
		"last_manual_sync_time": now,
		"last_sync_time":        now,
		"last_sync_type":        models.SyncTypeManual,
	}
	if err := r.db.WithContext(ctx).Model(&models.SyncConfig{}).Where("id = ?", configID).Updates(updates).Error; err != nil {
		utils.ErrorLogger.WithField("config_id", configID).Errorf("Failed to record manual sync: %v", err)
	}
}
