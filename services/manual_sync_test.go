package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeremiapane/inventory-sync/database"
	"github.com/yeremiapane/inventory-sync/models"
	"gorm.io/gorm"
)

func TestManualSyncer_TriggerManualSync(t *testing.T) {
	db, catalog := openTestDB(t)
	ctx := context.Background()
	registry := NewSyncConfigRegistry(catalog)
	configs := NewSyncConfigService(db, registry, database.NewChangeStore(db, database.DialectSQLite), nil)
	recorder := NewSyncRecorder(db, registry, 5, nil)

	for i := 1; i <= 3; i++ {
		require.NoError(t, db.Create(&models.Product{
			ID:            fmt.Sprintf("P%d", i),
			ProductName:   fmt.Sprintf("Widget %d", i),
			SKU:           fmt.Sprintf("W-%d", i),
			StockQuantity: i,
		}).Error)
	}
	cfg, err := configs.Register(ctx, productConfig("cfg-1", "id", "product_name"))
	require.NoError(t, err)

	deliverer := &fakeDeliverer{fn: func(_ string, params ParameterMap) error {
		if params["record_id"] == models.String("P2") {
			return errors.New("rejected")
		}
		return nil
	}}
	publisher := &recordingPublisher{}
	syncer := NewManualSyncer(db, registry, deliverer, recorder, 0, publisher)

	result, err := syncer.TriggerManualSync(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, ManualSyncResult{SuccessCount: 2, FailedCount: 1, Total: 3}, result)

	calls := deliverer.Calls()
	require.Len(t, calls, 3)
	for i, call := range calls {
		assert.Equal(t, "wf-insert", call.WorkflowID)
		assert.Equal(t, models.String(fmt.Sprintf("P%d", i+1)), call.Params["record_id"])
	}

	stored, err := configs.Get(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.ManualSyncCount)
	assert.Equal(t, int64(2), stored.SuccessSyncCount)
	assert.Equal(t, int64(1), stored.FailedSyncCount)
	assert.Len(t, publisher.Named(EventManualSync), 1)
}

func TestManualSyncer_Limit(t *testing.T) {
	db, catalog := openTestDB(t)
	ctx := context.Background()
	registry := NewSyncConfigRegistry(catalog)
	configs := NewSyncConfigService(db, registry, database.NewChangeStore(db, database.DialectSQLite), nil)

	for i := 1; i <= 5; i++ {
		require.NoError(t, db.Create(&models.Product{ID: fmt.Sprintf("P%d", i), ProductName: "x", SKU: fmt.Sprintf("S-%d", i)}).Error)
	}
	cfg, err := configs.Register(ctx, productConfig("cfg-1"))
	require.NoError(t, err)

	deliverer := &fakeDeliverer{}
	syncer := NewManualSyncer(db, registry, deliverer, NewSyncRecorder(db, registry, 5, nil), 2, nil)
	result, err := syncer.TriggerManualSync(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Total)
	assert.Len(t, deliverer.Calls(), 2)
}

func TestManualSyncer_Errors(t *testing.T) {
	db, catalog := openTestDB(t)
	ctx := context.Background()
	registry := NewSyncConfigRegistry(catalog)
	configs := NewSyncConfigService(db, registry, database.NewChangeStore(db, database.DialectSQLite), nil)
	syncer := NewManualSyncer(db, registry, &fakeDeliverer{}, NewSyncRecorder(db, registry, 5, nil), 0, nil)

	_, err := syncer.TriggerManualSync(ctx, "missing")
	assert.ErrorIs(t, err, ErrConfigNotFound)

	cfg := productConfig("update-only")
	cfg.WorkflowIDInsert = ""
	_, err = configs.Register(ctx, cfg)
	require.NoError(t, err)

	_, err = syncer.TriggerManualSync(ctx, "update-only")
	var vErr *ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestManualSyncer_ReadErrorKeepsCounters(t *testing.T) {
	db, catalog := openTestDB(t)
	ctx := context.Background()
	registry := NewSyncConfigRegistry(catalog)
	configs := NewSyncConfigService(db, registry, database.NewChangeStore(db, database.DialectSQLite), nil)

	total := manualSyncPageSize + 5
	products := make([]models.Product, 0, total)
	for i := 1; i <= total; i++ {
		products = append(products, models.Product{ID: fmt.Sprintf("P%04d", i), ProductName: "x", SKU: fmt.Sprintf("S-%d", i)})
	}
	require.NoError(t, db.CreateInBatches(products, 100).Error)
	cfg, err := configs.Register(ctx, productConfig("cfg-1"))
	require.NoError(t, err)

	pages := 0
	require.NoError(t, db.Callback().Query().Before("gorm:query").Register("fail_second_products_page", func(tx *gorm.DB) {
		if tx.Statement.Table != "products" {
			return
		}
		pages++
		if pages == 2 {
			tx.AddError(errors.New("disk I/O error"))
		}
	}))

	deliverer := &fakeDeliverer{}
	publisher := &recordingPublisher{}
	syncer := NewManualSyncer(db, registry, deliverer, NewSyncRecorder(db, registry, 5, nil), 0, publisher)

	result, err := syncer.TriggerManualSync(ctx, cfg.ID)
	require.ErrorContains(t, err, "disk I/O error")
	assert.Equal(t, manualSyncPageSize, result.SuccessCount)
	assert.Len(t, deliverer.Calls(), manualSyncPageSize)

	stored, err := configs.Get(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.ManualSyncCount)
	assert.Equal(t, int64(manualSyncPageSize), stored.SuccessSyncCount)
	assert.NotNil(t, stored.LastManualSyncTime)
	assert.Len(t, publisher.Named(EventManualSync), 1)
}
