package database

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/yeremiapane/inventory-sync/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CaptureFailure means a mutation of a watched table could not be recorded in
// the change log. The mutation itself must fail with it.
type CaptureFailure struct {
	Table     string
	Operation models.Operation
	Err       error
}

func (e *CaptureFailure) Error() string {
	switch {
	case e.Table == "":
		return fmt.Sprintf("change capture failed: %v", e.Err)
	case e.Operation == "":
		return fmt.Sprintf("change capture failed for %s: %v", e.Table, e.Err)
	}
	return fmt.Sprintf("change capture failed for %s %s: %v", e.Operation, e.Table, e.Err)
}

func (e *CaptureFailure) Unwrap() error { return e.Err }

var errBulkMutation = errors.New("bulk mutation without primary key cannot be captured per row")

const deleteSnapshotsKey = "cdc:delete_snapshots"

type captureCallbacks struct {
	catalog *Catalog
	now     func() time.Time
}

// RegisterCaptureCallbacks installs gorm callbacks that append change records
// inside the same transaction as the business write. It is the capture mode
// for databases where triggers are not available; every write must go through
// gorm and be addressed by primary key.
func RegisterCaptureCallbacks(db *gorm.DB, catalog *Catalog) error {
	if db.Config.SkipDefaultTransaction {
		return errors.New("callback capture needs gorm's default transaction, SkipDefaultTransaction is set")
	}

	c := &captureCallbacks{catalog: catalog, now: func() time.Time { return time.Now().UTC() }}
	cb := db.Callback()

	if cb.Create().Get("cdc:capture_create") != nil {
		return nil
	}
	if err := cb.Create().After("gorm:create").Register("cdc:capture_create", c.afterCreate); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Register("cdc:capture_update", c.afterUpdate); err != nil {
		return err
	}
	if err := cb.Delete().Before("gorm:delete").Register("cdc:snapshot_delete", c.beforeDelete); err != nil {
		return err
	}
	return cb.Delete().After("gorm:delete").Register("cdc:capture_delete", c.afterDelete)
}

func (c *captureCallbacks) watched(db *gorm.DB) bool {
	return db.Error == nil && db.Statement.Schema != nil && c.catalog.Watched(db.Statement.Table)
}

func (c *captureCallbacks) afterCreate(db *gorm.DB) {
	if !c.watched(db) || db.RowsAffected == 0 {
		return
	}
	c.captureCurrent(db, models.OperationInsert)
}

func (c *captureCallbacks) afterUpdate(db *gorm.DB) {
	if !c.watched(db) || db.RowsAffected == 0 {
		return
	}
	c.captureCurrent(db, models.OperationUpdate)
}

// captureCurrent re-reads the written rows so the snapshot holds every
// column, including defaults filled in by the database.
func (c *captureCallbacks) captureCurrent(db *gorm.DB, op models.Operation) {
	table := db.Statement.Table
	keys := primaryKeys(db.Statement)
	if len(keys) == 0 {
		db.AddError(&CaptureFailure{Table: table, Operation: op, Err: errBulkMutation})
		return
	}

	for _, key := range keys {
		snap, err := loadSnapshot(db, table, key)
		if err != nil {
			db.AddError(&CaptureFailure{Table: table, Operation: op, Err: err})
			return
		}
		if err := c.append(db, table, key, op, snap); err != nil {
			db.AddError(err)
			return
		}
	}
}

func (c *captureCallbacks) beforeDelete(db *gorm.DB) {
	if !c.watched(db) {
		return
	}
	table := db.Statement.Table
	keys := primaryKeys(db.Statement)
	if len(keys) == 0 {
		db.AddError(&CaptureFailure{Table: table, Operation: models.OperationDelete, Err: errBulkMutation})
		return
	}

	snaps := make(map[string]models.RowSnapshot, len(keys))
	for _, key := range keys {
		snap, err := loadSnapshot(db, table, key)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			db.AddError(&CaptureFailure{Table: table, Operation: models.OperationDelete, Err: err})
			return
		}
		snaps[key] = snap
	}
	db.InstanceSet(deleteSnapshotsKey, snaps)
}

func (c *captureCallbacks) afterDelete(db *gorm.DB) {
	if !c.watched(db) || db.RowsAffected == 0 {
		return
	}
	v, ok := db.InstanceGet(deleteSnapshotsKey)
	if !ok {
		return
	}
	table := db.Statement.Table
	for key, snap := range v.(map[string]models.RowSnapshot) {
		if err := c.append(db, table, key, models.OperationDelete, snap); err != nil {
			db.AddError(err)
			return
		}
	}
}

func (c *captureCallbacks) append(db *gorm.DB, table, key string, op models.Operation, snap models.RowSnapshot) error {
	record := models.ChangeRecord{
		TableName: table,
		RecordKey: key,
		Operation: op,
		Payload:   snap,
		CreatedAt: c.now(),
	}
	if err := statementSession(db).Create(&record).Error; err != nil {
		return &CaptureFailure{Table: table, Operation: op, Err: fmt.Errorf("append change record: %w", err)}
	}
	return nil
}

// statementSession returns a fresh query builder bound to the statement's
// connection, so reads and writes join the running transaction.
func statementSession(db *gorm.DB) *gorm.DB {
	return db.Session(&gorm.Session{NewDB: true, SkipDefaultTransaction: true})
}

func loadSnapshot(db *gorm.DB, table, key string) (models.RowSnapshot, error) {
	row := map[string]any{}
	err := statementSession(db).Table(table).
		Where(clause.Eq{Column: clause.Column{Name: KeyColumn}, Value: key}).
		Take(&row).Error
	if err != nil {
		return nil, err
	}
	return models.SnapshotFromMap(row), nil
}

func primaryKeys(stmt *gorm.Statement) []string {
	field := stmt.Schema.PrioritizedPrimaryField
	if field == nil {
		return nil
	}

	var keys []string
	collect := func(rv reflect.Value) {
		rv = reflect.Indirect(rv)
		if rv.Kind() != reflect.Struct {
			return
		}
		if v, zero := field.ValueOf(stmt.Context, rv); !zero {
			keys = append(keys, fmt.Sprint(v))
		}
	}

	rv := stmt.ReflectValue
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			collect(rv.Index(i))
		}
	default:
		collect(rv)
	}
	return keys
}
