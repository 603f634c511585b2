package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Order struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OrderNumber string    `gorm:"type:varchar(50);uniqueIndex" json:"order_number"`
	ProductID   string    `gorm:"type:varchar(36);not null;index" json:"product_id"`
	SupplierID  *string   `gorm:"type:varchar(36);index" json:"supplier_id,omitempty"`
	Quantity    int       `gorm:"not null" json:"quantity"`
	TotalAmount float64   `gorm:"type:decimal(12,2);not null;default:0" json:"total_amount"`
	Status      string    `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	OrderDate   time.Time `gorm:"not null" json:"order_date"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`
}

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.OrderNumber == "" {
		o.OrderNumber = o.GenerateOrderNumber()
	}
	if o.OrderDate.IsZero() {
		o.OrderDate = time.Now().UTC()
	}
	return nil
}

// GenerateOrderNumber derives a human readable number from the id.
func (o *Order) GenerateOrderNumber() string {
	return fmt.Sprintf("PO-%s-%s", time.Now().UTC().Format("20060102"), o.ID[:8])
}
