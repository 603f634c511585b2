package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Product struct {
	ID            string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ProductName   string    `gorm:"type:varchar(255);not null" json:"product_name"`
	SKU           string    `gorm:"column:sku;type:varchar(64);uniqueIndex" json:"sku"`
	Category      string    `gorm:"type:varchar(100)" json:"category"`
	UnitPrice     float64   `gorm:"type:decimal(12,2);not null;default:0" json:"unit_price"`
	StockQuantity int       `gorm:"not null;default:0" json:"stock_quantity"`
	SupplierID    *string   `gorm:"type:varchar(36);index" json:"supplier_id,omitempty"`
	CreatedAt     time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time `gorm:"not null" json:"updated_at"`
}

func (p *Product) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}
