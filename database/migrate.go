package database

import (
	"fmt"
	"strings"

	"github.com/yeremiapane/inventory-sync/models"
	"github.com/yeremiapane/inventory-sync/utils"
	"gorm.io/gorm"
)

// CaptureMode selects how mutations reach the change log.
type CaptureMode string

const (
	CaptureTriggers  CaptureMode = "triggers"
	CaptureCallbacks CaptureMode = "callbacks"
)

func ParseCaptureMode(s string) (CaptureMode, error) {
	switch m := CaptureMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return CaptureTriggers, nil
	case CaptureTriggers, CaptureCallbacks:
		return m, nil
	}
	return "", fmt.Errorf("unknown capture mode %q", s)
}

// Migrate creates the schema and installs change capture for every watched
// table. It returns the column catalog the capture was built from.
func Migrate(db *gorm.DB, mode CaptureMode) (*Catalog, error) {
	watched := WatchedModels()
	tables := append(append([]any{}, watched...), &models.ChangeRecord{}, &models.SyncConfig{})
	if err := db.AutoMigrate(tables...); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	utils.InfoLogger.Println("Database migration completed")

	catalog, err := LoadCatalog(db, watched...)
	if err != nil {
		return nil, err
	}

	dialect, err := DialectOf(db)
	if err != nil {
		return nil, err
	}

	switch mode {
	case CaptureTriggers:
		if err := InstallCaptureTriggers(db, dialect, catalog); err != nil {
			return nil, err
		}
	case CaptureCallbacks:
		if err := DropCaptureTriggers(db, dialect, catalog); err != nil {
			return nil, err
		}
		if err := RegisterCaptureCallbacks(db, catalog); err != nil {
			return nil, &CaptureFailure{Err: err}
		}
	default:
		return nil, fmt.Errorf("unknown capture mode %q", mode)
	}

	utils.InfoLogger.WithField("mode", mode).
		WithField("tables", catalog.Tables()).
		Println("Change capture installed")
	return catalog, nil
}
