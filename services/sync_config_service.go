package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/inventory-sync/models"
	"github.com/yeremiapane/inventory-sync/utils"
	"gorm.io/gorm"
)

// HighWaterMark reports the newest change record id.
type HighWaterMark interface {
	LatestID(ctx context.Context) (uint64, error)
}

// SyncConfigService persists sync configs and keeps the registry in step
// with the table. A registry swap happens inside the write transaction, so a
// failed swap rolls the write back.
type SyncConfigService struct {
	db        *gorm.DB
	registry  *SyncConfigRegistry
	changes   HighWaterMark
	publisher EventPublisher
}

func NewSyncConfigService(db *gorm.DB, registry *SyncConfigRegistry, changes HighWaterMark, publisher EventPublisher) *SyncConfigService {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &SyncConfigService{db: db, registry: registry, changes: changes, publisher: publisher}
}

// ConfigChange is published after a config is created, updated or removed.
type ConfigChange struct {
	Action   string             `json:"action"`
	ConfigID string             `json:"config_id"`
	Config   *models.SyncConfig `json:"config,omitempty"`
}

// LoadRegistry fills the registry from the sync_configs table.
func (s *SyncConfigService) LoadRegistry(ctx context.Context) error {
	var configs []models.SyncConfig
	if err := s.db.WithContext(ctx).Order("id").Find(&configs).Error; err != nil {
		return fmt.Errorf("load sync configs: %w", err)
	}
	s.registry.Load(configs)
	utils.InfoLogger.Printf("Loaded %d sync configs", len(configs))
	return nil
}

// Register validates and stores a new config. Only changes captured after
// this call are delivered to it.
func (s *SyncConfigService) Register(ctx context.Context, cfg models.SyncConfig) (models.SyncConfig, error) {
	prepared, err := s.registry.Prepare(cfg)
	if err != nil {
		return models.SyncConfig{}, err
	}

	latest, err := s.changes.LatestID(ctx)
	if err != nil {
		return models.SyncConfig{}, fmt.Errorf("read change log position: %w", err)
	}
	stored := models.SyncConfig{
		ID:               prepared.ID,
		Name:             prepared.Name,
		Description:      prepared.Description,
		TableName:        prepared.TableName,
		SelectedFields:   prepared.SelectedFields,
		WorkflowIDInsert: prepared.WorkflowIDInsert,
		WorkflowIDUpdate: prepared.WorkflowIDUpdate,
		WorkflowIDDelete: prepared.WorkflowIDDelete,
		Status:           prepared.Status,
		CaptureFromID:    latest,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&stored).Error; err != nil {
			return err
		}
		_, err := s.registry.Register(stored)
		return err
	})
	if err != nil {
		var vErr *ValidationError
		if errors.As(err, &vErr) {
			return models.SyncConfig{}, err
		}
		return models.SyncConfig{}, fmt.Errorf("store sync config: %w", err)
	}

	utils.InfoLogger.WithFields(logrus.Fields{
		"config_id":       stored.ID,
		"table":           stored.TableName,
		"capture_from_id": stored.CaptureFromID,
	}).Println("Sync config registered")
	s.publisher.Publish(EventConfigChange, ConfigChange{Action: "created", ConfigID: stored.ID, Config: &stored})
	return stored, nil
}

// Update applies patch. Setting a config back to ACTIVE clears its failure
// streak.
func (s *SyncConfigService) Update(ctx context.Context, id string, patch ConfigPatch) (models.SyncConfig, error) {
	current, ok := s.registry.Get(id)
	if !ok {
		return models.SyncConfig{}, ErrConfigNotFound
	}
	merged, err := s.registry.Preview(id, patch)
	if err != nil {
		return models.SyncConfig{}, err
	}

	updates := map[string]any{
		"name":               merged.Name,
		"description":        merged.Description,
		"selected_fields":    merged.SelectedFields,
		"workflow_id_insert": merged.WorkflowIDInsert,
		"workflow_id_update": merged.WorkflowIDUpdate,
		"workflow_id_delete": merged.WorkflowIDDelete,
		"status":             merged.Status,
	}
	if merged.Status == models.SyncStatusActive && current.Status != models.SyncStatusActive {
		updates["consecutive_failures"] = 0
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.SyncConfig{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConfigNotFound
		}
		return s.registry.Replace(merged)
	})
	if err != nil {
		if errors.Is(err, ErrConfigNotFound) {
			return models.SyncConfig{}, err
		}
		return models.SyncConfig{}, fmt.Errorf("update sync config: %w", err)
	}

	if current.Status != merged.Status {
		s.publisher.Publish(EventStatusChange, StatusChange{ConfigID: id, Status: merged.Status, Reason: "updated by operator"})
	}
	updated, err := s.Get(ctx, id)
	if err != nil {
		return models.SyncConfig{}, err
	}
	s.publisher.Publish(EventConfigChange, ConfigChange{Action: "updated", ConfigID: id, Config: &updated})
	return updated, nil
}

// Unregister deletes a config. Unknown ids are not an error.
func (s *SyncConfigService) Unregister(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).Delete(&models.SyncConfig{}).Error; err != nil {
			return err
		}
		s.registry.Unregister(id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete sync config: %w", err)
	}
	s.publisher.Publish(EventConfigChange, ConfigChange{Action: "deleted", ConfigID: id})
	return nil
}

// Get returns the stored config with its counters.
func (s *SyncConfigService) Get(ctx context.Context, id string) (models.SyncConfig, error) {
	var cfg models.SyncConfig
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.SyncConfig{}, ErrConfigNotFound
	}
	return cfg, err
}

// List returns every stored config with its counters, oldest first.
func (s *SyncConfigService) List(ctx context.Context) ([]models.SyncConfig, error) {
	var configs []models.SyncConfig
	if err := s.db.WithContext(ctx).Order("created_at, id").Find(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}

// Seed registers configs from a config file, skipping ids already stored.
// Seeded configs without an id get one derived from their definition so a
// restart finds them again.
func (s *SyncConfigService) Seed(ctx context.Context, configs []models.SyncConfig) (int, error) {
	created := 0
	for _, cfg := range configs {
		if cfg.ID == "" {
			cfg.ID = SeedID(cfg)
		}
		if _, ok := s.registry.Get(cfg.ID); ok {
			continue
		}
		if _, err := s.Register(ctx, cfg); err != nil {
			return created, fmt.Errorf("seed sync config %q: %w", cfg.ID, err)
		}
		created++
	}
	return created, nil
}

var seedNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("inventory-sync/sync-config"))

// SeedID is the stable id of a file-seeded config that names none.
func SeedID(cfg models.SyncConfig) string {
	key := strings.Join([]string{
		cfg.TableName,
		cfg.Name,
		cfg.WorkflowIDInsert,
		cfg.WorkflowIDUpdate,
		cfg.WorkflowIDDelete,
	}, "\x00")
	return uuid.NewSHA1(seedNamespace, []byte(key)).String()
}
