package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/yeremiapane/inventory-sync/database"
	"github.com/yeremiapane/inventory-sync/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var productColumns = []string{"id", "product_name", "sku", "category", "unit_price", "stock_quantity", "supplier_id", "created_at", "updated_at"}

func testCatalog() *database.Catalog {
	return database.NewCatalog(map[string][]string{
		"products":  productColumns,
		"suppliers": {"id", "supplier_name", "contact_name", "email", "phone", "address", "created_at", "updated_at"},
	})
}

// openTestDB returns a migrated in-memory sqlite database with capture
// triggers installed, plus its catalog.
func openTestDB(t *testing.T) (*gorm.DB, *database.Catalog) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	catalog, err := database.Migrate(db, database.CaptureTriggers)
	require.NoError(t, err)
	return db, catalog
}

type deliveryCall struct {
	WorkflowID string
	Params     ParameterMap
}

// fakeDeliverer records calls and answers with fn, or success when fn is nil.
type fakeDeliverer struct {
	mu    sync.Mutex
	calls []deliveryCall
	fn    func(workflowID string, params ParameterMap) error
}

func (d *fakeDeliverer) Deliver(_ context.Context, workflowID string, params ParameterMap) (Ack, error) {
	d.mu.Lock()
	d.calls = append(d.calls, deliveryCall{WorkflowID: workflowID, Params: params})
	fn := d.fn
	d.mu.Unlock()

	if fn != nil {
		if err := fn(workflowID, params); err != nil {
			return Ack{}, err
		}
	}
	return Ack{ExecuteID: "exec-" + workflowID}, nil
}

func (d *fakeDeliverer) Calls() []deliveryCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]deliveryCall(nil), d.calls...)
}

type publishedEvent struct {
	Event string
	Data  any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(event string, data any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Event: event, Data: data})
}

func (p *recordingPublisher) Named(event string) []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedEvent
	for _, e := range p.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func productConfig(id string, fields ...string) models.SyncConfig {
	if len(fields) == 0 {
		fields = []string{"product_name", "stock_quantity"}
	}
	return models.SyncConfig{
		ID:               id,
		Name:             "products " + id,
		TableName:        "products",
		SelectedFields:   fields,
		WorkflowIDInsert: "wf-insert",
		WorkflowIDUpdate: "wf-update",
		WorkflowIDDelete: "wf-delete",
	}
}

func strPtr(s string) *string { return &s }
