package models

import (
	"fmt"
	"strings"
	"time"
)

// Operation is the kind of row mutation a change record captures.
type Operation string

const (
	OperationInsert Operation = "INSERT"
	OperationUpdate Operation = "UPDATE"
	OperationDelete Operation = "DELETE"
)

func ParseOperation(s string) (Operation, error) {
	switch op := Operation(strings.ToUpper(strings.TrimSpace(s))); op {
	case OperationInsert, OperationUpdate, OperationDelete:
		return op, nil
	}
	return "", fmt.Errorf("unknown operation %q", s)
}

// ChangeRecord is one row of the append-only change log. Capture triggers
// write it; only the processed and claim columns change afterwards.
type ChangeRecord struct {
	ID          uint64      `gorm:"primaryKey;autoIncrement" json:"id"`
	TableName   string      `gorm:"type:varchar(64);not null;index:idx_change_scan,priority:1" json:"table_name"`
	RecordKey   string      `gorm:"type:varchar(64);not null;index" json:"record_key"`
	Operation   Operation   `gorm:"type:varchar(10);not null" json:"operation"`
	Payload     RowSnapshot `gorm:"type:text;not null" json:"payload"`
	CreatedAt   time.Time   `gorm:"not null;index:idx_change_scan,priority:3" json:"created_at"`
	Processed   bool        `gorm:"not null;default:false;index:idx_change_scan,priority:2" json:"processed"`
	ProcessedAt *time.Time  `gorm:"index" json:"processed_at,omitempty"`
	ClaimedBy   *string     `gorm:"type:varchar(64)" json:"claimed_by,omitempty"`
	ClaimedAt   *time.Time  `json:"claimed_at,omitempty"`
}

// ChangeLogTable is the table gorm derives for ChangeRecord; trigger DDL
// references it literally.
const ChangeLogTable = "change_records"
