package database

import (
	"fmt"
	"sort"

	"github.com/yeremiapane/inventory-sync/models"
	"gorm.io/gorm"
)

// KeyColumn is the primary key column every watched table is keyed by.
const KeyColumn = "id"

// WatchedModels are the business tables that get change capture.
func WatchedModels() []any {
	return []any{
		&models.Product{},
		&models.Supplier{},
		&models.Order{},
	}
}

// Catalog holds the known columns of each watched table, in schema order.
type Catalog struct {
	tables map[string][]string
}

func NewCatalog(tables map[string][]string) *Catalog {
	c := &Catalog{tables: make(map[string][]string, len(tables))}
	for name, cols := range tables {
		c.tables[name] = append([]string(nil), cols...)
	}
	return c
}

// LoadCatalog reads the live column list of every given model's table.
func LoadCatalog(db *gorm.DB, watched ...any) (*Catalog, error) {
	tables := make(map[string][]string, len(watched))
	for _, model := range watched {
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(model); err != nil {
			return nil, fmt.Errorf("parse model %T: %w", model, err)
		}
		table := stmt.Schema.Table

		columnTypes, err := db.Migrator().ColumnTypes(model)
		if err != nil {
			return nil, fmt.Errorf("read columns of %s: %w", table, err)
		}
		if len(columnTypes) == 0 {
			return nil, fmt.Errorf("table %s has no columns, was it migrated?", table)
		}

		cols := make([]string, 0, len(columnTypes))
		for _, ct := range columnTypes {
			cols = append(cols, ct.Name())
		}
		tables[table] = cols
	}
	return &Catalog{tables: tables}, nil
}

// Columns returns a copy of the table's columns and whether the table is watched.
func (c *Catalog) Columns(table string) ([]string, bool) {
	cols, ok := c.tables[table]
	if !ok {
		return nil, false
	}
	return append([]string(nil), cols...), true
}

func (c *Catalog) Watched(table string) bool {
	_, ok := c.tables[table]
	return ok
}

// Tables returns the watched table names sorted alphabetically.
func (c *Catalog) Tables() []string {
	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
