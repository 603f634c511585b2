package database

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/yeremiapane/inventory-sync/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// openTestDB opens a private in-memory sqlite database. One connection keeps
// every statement, trigger and transaction on the same handle.
func openTestDB(t *testing.T) *gorm.DB {
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
	return db
}

func changeLog(t *testing.T, db *gorm.DB) []models.ChangeRecord {
	t.Helper()
	var records []models.ChangeRecord
	require.NoError(t, db.Order("id ASC").Find(&records).Error)
	return records
}

// blockChangeLog makes every insert into the change log fail.
func blockChangeLog(t *testing.T, db *gorm.DB) {
	t.Helper()
	require.NoError(t, db.Exec(`CREATE TRIGGER block_change_log BEFORE INSERT ON change_records
BEGIN
    SELECT RAISE(ABORT, 'change log unwritable');
END;`).Error)
}
