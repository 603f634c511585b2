package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SyncStatus is the lifecycle state of a sync config.
type SyncStatus string

const (
	SyncStatusActive   SyncStatus = "ACTIVE"
	SyncStatusPaused   SyncStatus = "PAUSED"
	SyncStatusError    SyncStatus = "ERROR"
	SyncStatusInactive SyncStatus = "INACTIVE"
)

func ParseSyncStatus(s string) (SyncStatus, error) {
	switch st := SyncStatus(strings.ToUpper(strings.TrimSpace(s))); st {
	case SyncStatusActive, SyncStatusPaused, SyncStatusError, SyncStatusInactive:
		return st, nil
	}
	return "", fmt.Errorf("unknown sync status %q", s)
}

// SyncType distinguishes automatic (change log) deliveries from manual backfills.
type SyncType string

const (
	SyncTypeAuto   SyncType = "AUTO"
	SyncTypeManual SyncType = "MANUAL"
)

// FieldList is an ordered column list persisted as a JSON array.
type FieldList []string

func (f FieldList) Value() (driver.Value, error) {
	if f == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(f))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (f *FieldList) Scan(src any) error {
	var data []byte
	switch t := src.(type) {
	case nil:
		*f = FieldList{}
		return nil
	case []byte:
		data = t
	case string:
		data = []byte(t)
	default:
		return fmt.Errorf("cannot scan %T into FieldList", src)
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("decode field list: %w", err)
	}
	*f = out
	return nil
}

// SyncConfig binds a watched table to external workflows. Counter columns
// are only written through services.SyncRecorder.
type SyncConfig struct {
	ID               string     `gorm:"primaryKey;type:varchar(36)" json:"id" yaml:"id" toml:"id"`
	Name             string     `gorm:"type:varchar(100)" json:"name" yaml:"name" toml:"name"`
	Description      string     `gorm:"type:text" json:"description" yaml:"description" toml:"description"`
	TableName        string     `gorm:"type:varchar(64);not null;index" json:"table_name" yaml:"table_name" toml:"table_name"`
	SelectedFields   FieldList  `gorm:"type:text;not null" json:"selected_fields" yaml:"selected_fields" toml:"selected_fields"`
	WorkflowIDInsert string     `gorm:"type:varchar(100)" json:"workflow_id_insert" yaml:"workflow_id_insert" toml:"workflow_id_insert"`
	WorkflowIDUpdate string     `gorm:"type:varchar(100)" json:"workflow_id_update" yaml:"workflow_id_update" toml:"workflow_id_update"`
	WorkflowIDDelete string     `gorm:"type:varchar(100)" json:"workflow_id_delete" yaml:"workflow_id_delete" toml:"workflow_id_delete"`
	Status           SyncStatus `gorm:"type:varchar(10);not null;default:'ACTIVE'" json:"status" yaml:"status" toml:"status"`

	// CaptureFromID is the highest change record id at registration time;
	// only later records match this config.
	CaptureFromID uint64 `gorm:"not null;default:0" json:"capture_from_id" yaml:"-" toml:"-"`

	TotalSyncCount      int64      `gorm:"not null;default:0" json:"total_sync_count" yaml:"-" toml:"-"`
	SuccessSyncCount    int64      `gorm:"not null;default:0" json:"success_sync_count" yaml:"-" toml:"-"`
	FailedSyncCount     int64      `gorm:"not null;default:0" json:"failed_sync_count" yaml:"-" toml:"-"`
	InsertSyncCount     int64      `gorm:"not null;default:0" json:"insert_sync_count" yaml:"-" toml:"-"`
	UpdateSyncCount     int64      `gorm:"not null;default:0" json:"update_sync_count" yaml:"-" toml:"-"`
	DeleteSyncCount     int64      `gorm:"not null;default:0" json:"delete_sync_count" yaml:"-" toml:"-"`
	ManualSyncCount     int64      `gorm:"not null;default:0" json:"manual_sync_count" yaml:"-" toml:"-"`
	AutoSyncCount       int64      `gorm:"not null;default:0" json:"auto_sync_count" yaml:"-" toml:"-"`
	ConsecutiveFailures int64      `gorm:"not null;default:0" json:"consecutive_failures" yaml:"-" toml:"-"`
	LastSyncTime        *time.Time `json:"last_sync_time,omitempty" yaml:"-" toml:"-"`
	LastSyncType        SyncType   `gorm:"type:varchar(10)" json:"last_sync_type,omitempty" yaml:"-" toml:"-"`
	LastManualSyncTime  *time.Time `json:"last_manual_sync_time,omitempty" yaml:"-" toml:"-"`
	LastError           string     `gorm:"type:text" json:"last_error,omitempty" yaml:"-" toml:"-"`

	CreatedAt time.Time `json:"created_at" yaml:"-" toml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-" toml:"-"`
}

// WorkflowFor returns the workflow id configured for op, or "".
func (c SyncConfig) WorkflowFor(op Operation) string {
	switch op {
	case OperationInsert:
		return c.WorkflowIDInsert
	case OperationUpdate:
		return c.WorkflowIDUpdate
	case OperationDelete:
		return c.WorkflowIDDelete
	}
	return ""
}

// HasWorkflow reports whether at least one workflow id is set.
func (c SyncConfig) HasWorkflow() bool {
	return strings.TrimSpace(c.WorkflowIDInsert) != "" ||
		strings.TrimSpace(c.WorkflowIDUpdate) != "" ||
		strings.TrimSpace(c.WorkflowIDDelete) != ""
}

// Matches reports whether record falls under this config: same table and
// captured after the config was registered.
func (c SyncConfig) Matches(record ChangeRecord) bool {
	return c.TableName == record.TableName && record.ID > c.CaptureFromID
}
