package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeremiapane/inventory-sync/database"
	"github.com/yeremiapane/inventory-sync/models"
)

// memorySource is an in-memory ChangeSource.
type memorySource struct {
	mu        sync.Mutex
	records   []models.ChangeRecord
	claimed   map[uint64]string
	processed map[uint64]bool
	released  []uint64
	markErr   error
}

func newMemorySource(records ...models.ChangeRecord) *memorySource {
	return &memorySource{
		records:   records,
		claimed:   make(map[uint64]string),
		processed: make(map[uint64]bool),
	}
}

func (s *memorySource) Claim(_ context.Context, owner string, limit int, _ time.Duration) ([]models.ChangeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ChangeRecord
	for _, r := range s.records {
		if len(out) == limit {
			break
		}
		if s.processed[r.ID] || s.claimed[r.ID] != "" {
			continue
		}
		s.claimed[r.ID] = owner
		out = append(out, r)
	}
	return out, nil
}

func (s *memorySource) MarkProcessed(_ context.Context, ids []uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return s.markErr
	}
	for _, id := range ids {
		s.processed[id] = true
		delete(s.claimed, id)
	}
	return nil
}

func (s *memorySource) Release(_ context.Context, owner string, ids []uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if s.claimed[id] == owner {
			delete(s.claimed, id)
			s.released = append(s.released, id)
		}
	}
	return nil
}

func (s *memorySource) processedIDs() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uint64
	for id := range s.processed {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

type recordedOutcome struct {
	ConfigID string
	Op       models.Operation
	Err      error
}

type memoryRecorder struct {
	mu       sync.Mutex
	outcomes []recordedOutcome
}

func (r *memoryRecorder) RecordAuto(_ context.Context, configID string, op models.Operation, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, recordedOutcome{ConfigID: configID, Op: op, Err: err})
}

func productChange(id uint64, key string, op models.Operation, qty float64) models.ChangeRecord {
	return models.ChangeRecord{
		ID:        id,
		TableName: "products",
		RecordKey: key,
		Operation: op,
		Payload: models.RowSnapshot{
			"id":             models.String(key),
			"product_name":   models.String("Widget " + key),
			"stock_quantity": models.Number(qty),
		},
		CreatedAt: time.Now().UTC(),
	}
}

func newTestRegistry(t *testing.T, configs ...models.SyncConfig) *SyncConfigRegistry {
	t.Helper()
	r := NewSyncConfigRegistry(testCatalog())
	for _, cfg := range configs {
		_, err := r.Register(cfg)
		require.NoError(t, err)
	}
	return r
}

func TestChangePoller_DeliversInOrderAndMarks(t *testing.T) {
	source := newMemorySource(
		productChange(1, "P1", models.OperationInsert, 5),
		productChange(2, "P1", models.OperationUpdate, 4),
		productChange(3, "P1", models.OperationDelete, 4),
	)
	deliverer := &fakeDeliverer{}
	recorder := &memoryRecorder{}
	publisher := &recordingPublisher{}
	poller := NewChangePoller(source, newTestRegistry(t, productConfig("cfg-1")), deliverer, recorder,
		WithPublisher(publisher), WithMaxConcurrency(1))

	summary, err := poller.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Claimed)
	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 3, summary.Delivered)
	assert.Equal(t, []uint64{1, 2, 3}, source.processedIDs())

	calls := deliverer.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "wf-insert", calls[0].WorkflowID)
	assert.Equal(t, "wf-update", calls[1].WorkflowID)
	assert.Equal(t, "wf-delete", calls[2].WorkflowID)
	assert.Equal(t, models.Number(4), calls[1].Params["stock_quantity"])

	assert.Len(t, recorder.outcomes, 3)
	assert.Len(t, publisher.Named(EventDelivery), 3)
	assert.Len(t, publisher.Named(EventPollerTick), 1)
	assert.Equal(t, PollerIdle, poller.State())
	assert.Equal(t, 3, poller.LastTick().Processed)
}

func TestChangePoller_FailureIsolation(t *testing.T) {
	source := newMemorySource(productChange(1, "P1", models.OperationInsert, 5))

	failing := productConfig("cfg-a")
	failing.WorkflowIDInsert = "wf-broken"
	deliverer := &fakeDeliverer{fn: func(workflowID string, _ ParameterMap) error {
		if workflowID == "wf-broken" {
			return &DeliveryError{WorkflowID: workflowID, Attempts: 3, StatusCode: 500, Err: errors.New("boom")}
		}
		return nil
	}}
	recorder := &memoryRecorder{}
	poller := NewChangePoller(source, newTestRegistry(t, failing, productConfig("cfg-b")), deliverer, recorder)

	summary, err := poller.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Delivered)
	assert.Equal(t, 1, summary.Failed)
	assert.Len(t, deliverer.Calls(), 2, "the healthy config still receives the change")
	assert.Equal(t, []uint64{1}, source.processedIDs(), "exhausted retries still complete the record")

	require.Len(t, recorder.outcomes, 2)
	assert.Equal(t, "cfg-a", recorder.outcomes[0].ConfigID)
	assert.Error(t, recorder.outcomes[0].Err)
	assert.NoError(t, recorder.outcomes[1].Err)
}

func TestChangePoller_SkipsWithoutWorkflowOrConfig(t *testing.T) {
	cfg := productConfig("cfg-1")
	cfg.WorkflowIDDelete = ""
	supplierChange := models.ChangeRecord{ID: 3, TableName: "suppliers", RecordKey: "S1", Operation: models.OperationInsert}
	source := newMemorySource(
		productChange(1, "P1", models.OperationDelete, 0),
		productChange(2, "P2", models.OperationInsert, 1),
		supplierChange,
	)
	deliverer := &fakeDeliverer{}
	poller := NewChangePoller(source, newTestRegistry(t, cfg), deliverer, nil)

	summary, err := poller.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Delivered)
	assert.Len(t, deliverer.Calls(), 1)
	assert.Equal(t, []uint64{1, 2, 3}, source.processedIDs())
}

func TestChangePoller_PausedConfigReceivesNothing(t *testing.T) {
	registry := newTestRegistry(t, productConfig("cfg-1"))
	registry.SetStatus("cfg-1", models.SyncStatusPaused)
	source := newMemorySource(productChange(1, "P1", models.OperationInsert, 5))
	deliverer := &fakeDeliverer{}

	_, err := NewChangePoller(source, registry, deliverer, nil).Tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, deliverer.Calls())
	assert.Equal(t, []uint64{1}, source.processedIDs())
}

func TestChangePoller_NotRetroactive(t *testing.T) {
	cfg := productConfig("cfg-1")
	cfg.CaptureFromID = 2
	source := newMemorySource(
		productChange(1, "P1", models.OperationInsert, 1),
		productChange(2, "P2", models.OperationInsert, 2),
		productChange(3, "P3", models.OperationInsert, 3),
	)
	deliverer := &fakeDeliverer{}

	_, err := NewChangePoller(source, newTestRegistry(t, cfg), deliverer, nil).Tick(context.Background())
	require.NoError(t, err)

	calls := deliverer.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, models.String("Widget P3"), calls[0].Params["product_name"])
}

func TestChangePoller_CancelledTickReleasesUnstarted(t *testing.T) {
	source := newMemorySource(
		productChange(1, "P1", models.OperationInsert, 1),
		productChange(2, "P2", models.OperationInsert, 2),
	)
	deliverer := &fakeDeliverer{}
	poller := NewChangePoller(source, newTestRegistry(t, productConfig("cfg-1")), deliverer, nil, WithOwner("poller-a"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := poller.Tick(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Claimed)
	assert.Equal(t, 2, summary.Released)
	assert.Empty(t, deliverer.Calls())
	assert.Empty(t, source.processedIDs())
	assert.ElementsMatch(t, []uint64{1, 2}, source.released)

	// released records are picked up again
	summary, err = poller.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
}

func TestChangePoller_MarkFailureLeavesRecordsForRedelivery(t *testing.T) {
	source := newMemorySource(productChange(1, "P1", models.OperationInsert, 1))
	source.markErr = errors.New("database is locked")
	deliverer := &fakeDeliverer{}
	poller := NewChangePoller(source, newTestRegistry(t, productConfig("cfg-1")), deliverer, nil)

	summary, err := poller.Tick(context.Background())
	require.Error(t, err)
	assert.Equal(t, "database is locked", summary.Error)
	assert.Empty(t, source.processedIDs())
	assert.Len(t, deliverer.Calls(), 1)
}

// flakyMarkStore fails the next MarkProcessed call once.
type flakyMarkStore struct {
	*database.ChangeStore
	failNext bool
}

func (s *flakyMarkStore) MarkProcessed(ctx context.Context, ids []uint64) error {
	if s.failNext {
		s.failNext = false
		return errors.New("database is locked")
	}
	return s.ChangeStore.MarkProcessed(ctx, ids)
}

func TestChangePoller_RedeliversAfterLeaseExpiry(t *testing.T) {
	db, catalog := openTestDB(t)
	ctx := context.Background()

	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	store := database.NewChangeStore(db, database.DialectSQLite).WithClock(func() time.Time { return now })
	registry := NewSyncConfigRegistry(catalog)
	configs := NewSyncConfigService(db, registry, store, nil)
	_, err := configs.Register(ctx, productConfig("cfg-1"))
	require.NoError(t, err)
	require.NoError(t, db.Create(&models.Product{ID: "P1", ProductName: "Widget", SKU: "W-1"}).Error)

	source := &flakyMarkStore{ChangeStore: store, failNext: true}
	deliverer := &fakeDeliverer{}
	poller := NewChangePoller(source, registry, deliverer, nil, WithClaimLease(time.Minute))

	_, err = poller.Tick(ctx)
	require.Error(t, err)
	require.Len(t, deliverer.Calls(), 1)

	// still leased: nothing to claim
	summary, err := poller.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.Claimed)
	assert.Len(t, deliverer.Calls(), 1)

	now = now.Add(2 * time.Minute)
	summary, err = poller.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Claimed)
	assert.Equal(t, 1, summary.Processed)

	calls := deliverer.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, calls[0], calls[1])

	pending, err := store.CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestChangePoller_StartStop(t *testing.T) {
	source := newMemorySource(productChange(1, "P1", models.OperationInsert, 1))
	deliverer := &fakeDeliverer{}
	poller := NewChangePoller(source, newTestRegistry(t, productConfig("cfg-1")), deliverer, nil,
		WithInterval(10*time.Millisecond))

	poller.Start(context.Background())
	require.Eventually(t, func() bool {
		return len(source.processedIDs()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	poller.Stop()
	assert.Equal(t, PollerStopped, poller.State())
	poller.Stop()
}

func TestChangePoller_ProductScenario(t *testing.T) {
	db, catalog := openTestDB(t)
	ctx := context.Background()
	store := database.NewChangeStore(db, database.DialectSQLite)
	registry := NewSyncConfigRegistry(catalog)
	configs := NewSyncConfigService(db, registry, store, nil)
	recorder := NewSyncRecorder(db, registry, 5, nil)

	// a change captured before registration is never delivered to the config
	require.NoError(t, db.Create(&models.Product{ID: "P0", ProductName: "Old", SKU: "OLD-0"}).Error)

	cfg, err := configs.Register(ctx, models.SyncConfig{
		TableName:        "products",
		SelectedFields:   []string{"product_name", "stock_quantity"},
		WorkflowIDInsert: "wf-123",
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cfg.CaptureFromID)

	require.NoError(t, db.Create(&models.Product{ID: "P1", ProductName: "Widget", SKU: "W-1", StockQuantity: 5}).Error)

	deliverer := &fakeDeliverer{}
	poller := NewChangePoller(store, registry, deliverer, recorder)
	summary, err := poller.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)

	calls := deliverer.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "wf-123", calls[0].WorkflowID)
	assert.Equal(t, ParameterMap{
		"product_name":   models.String("Widget"),
		"stock_quantity": models.Number(5),
	}, calls[0].Params)

	pending, err := store.CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	stored, err := configs.Get(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.TotalSyncCount)
	assert.Equal(t, int64(1), stored.InsertSyncCount)
	assert.Equal(t, int64(1), stored.SuccessSyncCount)
	assert.Equal(t, int64(1), stored.AutoSyncCount)
	assert.Equal(t, models.SyncTypeAuto, stored.LastSyncType)
	require.NotNil(t, stored.LastSyncTime)
}
