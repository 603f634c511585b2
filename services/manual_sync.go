package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/inventory-sync/database"
	"github.com/yeremiapane/inventory-sync/models"
	"github.com/yeremiapane/inventory-sync/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const manualSyncPageSize = 200

type ManualSyncResult struct {
	SuccessCount int `json:"successCount"`
	FailedCount  int `json:"failedCount"`
	Total        int `json:"total"`
}

// ManualSyncer pushes the current rows of a config's table through the
// projector and delivery client, bypassing the change log.
type ManualSyncer struct {
	db        *gorm.DB
	registry  *SyncConfigRegistry
	deliverer Deliverer
	recorder  *SyncRecorder
	publisher EventPublisher
	// limit caps the rows sent per run, 0 sends the whole table.
	limit int
}

func NewManualSyncer(db *gorm.DB, registry *SyncConfigRegistry, deliverer Deliverer, recorder *SyncRecorder, limit int, publisher EventPublisher) *ManualSyncer {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &ManualSyncer{
		db:        db,
		registry:  registry,
		deliverer: deliverer,
		recorder:  recorder,
		publisher: publisher,
		limit:     limit,
	}
}

// ManualSyncEvent is published when a manual sync finishes.
type ManualSyncEvent struct {
	ConfigID string           `json:"config_id"`
	Table    string           `json:"table"`
	Result   ManualSyncResult `json:"result"`
	Duration time.Duration    `json:"duration"`
}

// TriggerManualSync sends every row (up to the configured limit) as an
// insert. Rows are read in primary key order, one page at a time.
func (m *ManualSyncer) TriggerManualSync(ctx context.Context, configID string) (ManualSyncResult, error) {
	var result ManualSyncResult

	cfg, ok := m.registry.Get(configID)
	if !ok {
		return result, ErrConfigNotFound
	}
	if cfg.WorkflowIDInsert == "" {
		return result, newValidationError("config %s has no workflow_id_insert, manual sync needs one", configID)
	}

	start := time.Now()
	log := utils.InfoLogger.WithFields(logrus.Fields{"config_id": cfg.ID, "table": cfg.TableName})
	log.Println("Manual sync started")

	lastKey := ""
	for m.limit == 0 || result.Total < m.limit {
		pageSize := manualSyncPageSize
		if m.limit > 0 {
			pageSize = min(pageSize, m.limit-result.Total)
		}

		rows, err := m.page(ctx, cfg.TableName, lastKey, pageSize)
		if err != nil {
			// rows already sent still count
			m.finish(configID, cfg, result, start)
			return result, fmt.Errorf("read %s: %w", cfg.TableName, err)
		}

		for _, row := range rows {
			if err := ctx.Err(); err != nil {
				m.finish(configID, cfg, result, start)
				return result, err
			}
			snap := models.SnapshotFromMap(row)
			params, warnings := Project(snap, cfg.SelectedFields)
			for _, w := range warnings {
				utils.ErrorLogger.WithField("config_id", cfg.ID).Warn(w.Error())
			}

			result.Total++
			if _, err := m.deliverer.Deliver(ctx, cfg.WorkflowIDInsert, params); err != nil {
				result.FailedCount++
				manualSyncRowsMetric.WithLabelValues(cfg.TableName, resultFailed).Inc()
				utils.ErrorLogger.WithFields(logrus.Fields{"config_id": cfg.ID, "row": rowKey(row)}).
					Errorf("Manual sync delivery failed: %v", err)
			} else {
				result.SuccessCount++
				manualSyncRowsMetric.WithLabelValues(cfg.TableName, resultSuccess).Inc()
			}
			lastKey = rowKey(row)
		}

		if len(rows) < pageSize {
			break
		}
	}

	m.finish(configID, cfg, result, start)
	log.WithFields(logrus.Fields{
		"total":   result.Total,
		"success": result.SuccessCount,
		"failed":  result.FailedCount,
	}).Println("Manual sync finished")
	return result, nil
}

func (m *ManualSyncer) finish(configID string, cfg models.SyncConfig, result ManualSyncResult, start time.Time) {
	// counters are written even when the caller went away
	m.recorder.RecordManual(context.Background(), configID, result.SuccessCount, result.FailedCount)
	m.publisher.Publish(EventManualSync, ManualSyncEvent{
		ConfigID: configID,
		Table:    cfg.TableName,
		Result:   result,
		Duration: time.Since(start),
	})
}

func (m *ManualSyncer) page(ctx context.Context, table, after string, size int) ([]map[string]any, error) {
	key := clause.Column{Name: database.KeyColumn}
	q := m.db.WithContext(ctx).Table(table).
		Order(clause.OrderByColumn{Column: key}).
		Limit(size)
	if after != "" {
		q = q.Where(clause.Gt{Column: key, Value: after})
	}

	var rows []map[string]any
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func rowKey(row map[string]any) string {
	switch v := row[database.KeyColumn].(type) {
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
