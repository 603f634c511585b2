package services

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/yeremiapane/inventory-sync/models"
)

// ColumnCatalog knows which tables are watched and their columns.
type ColumnCatalog interface {
	Columns(table string) ([]string, bool)
}

// ConfigPatch holds the mutable fields of a sync config; nil leaves a field
// unchanged. The table of a config cannot change.
type ConfigPatch struct {
	Name             *string            `json:"name"`
	Description      *string            `json:"description"`
	SelectedFields   []string           `json:"selected_fields"`
	WorkflowIDInsert *string            `json:"workflow_id_insert"`
	WorkflowIDUpdate *string            `json:"workflow_id_update"`
	WorkflowIDDelete *string            `json:"workflow_id_delete"`
	Status           *models.SyncStatus `json:"status"`
}

func (p ConfigPatch) apply(cfg models.SyncConfig) models.SyncConfig {
	if p.Name != nil {
		cfg.Name = *p.Name
	}
	if p.Description != nil {
		cfg.Description = *p.Description
	}
	if p.SelectedFields != nil {
		cfg.SelectedFields = append(models.FieldList(nil), p.SelectedFields...)
	}
	if p.WorkflowIDInsert != nil {
		cfg.WorkflowIDInsert = strings.TrimSpace(*p.WorkflowIDInsert)
	}
	if p.WorkflowIDUpdate != nil {
		cfg.WorkflowIDUpdate = strings.TrimSpace(*p.WorkflowIDUpdate)
	}
	if p.WorkflowIDDelete != nil {
		cfg.WorkflowIDDelete = strings.TrimSpace(*p.WorkflowIDDelete)
	}
	if p.Status != nil {
		cfg.Status = *p.Status
	}
	return cfg
}

// SyncConfigRegistry is the in-memory lookup from table to sync configs.
// Configs live in one map keyed by id; byTable is rebuilt on every mutation.
type SyncConfigRegistry struct {
	catalog ColumnCatalog

	mu      sync.RWMutex
	configs map[string]models.SyncConfig
	byTable map[string][]string
}

func NewSyncConfigRegistry(catalog ColumnCatalog) *SyncConfigRegistry {
	return &SyncConfigRegistry{
		catalog: catalog,
		configs: make(map[string]models.SyncConfig),
		byTable: make(map[string][]string),
	}
}

// Prepare fills defaults (id, status) and validates cfg without storing it.
func (r *SyncConfigRegistry) Prepare(cfg models.SyncConfig) (models.SyncConfig, error) {
	if strings.TrimSpace(cfg.ID) == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Status == "" {
		cfg.Status = models.SyncStatusActive
	}
	cfg.TableName = strings.TrimSpace(cfg.TableName)
	cfg.WorkflowIDInsert = strings.TrimSpace(cfg.WorkflowIDInsert)
	cfg.WorkflowIDUpdate = strings.TrimSpace(cfg.WorkflowIDUpdate)
	cfg.WorkflowIDDelete = strings.TrimSpace(cfg.WorkflowIDDelete)

	if err := r.Validate(cfg); err != nil {
		return models.SyncConfig{}, err
	}
	return cfg, nil
}

// Validate checks cfg against the catalog.
func (r *SyncConfigRegistry) Validate(cfg models.SyncConfig) error {
	var problems []string

	columns, watched := r.catalog.Columns(cfg.TableName)
	switch {
	case cfg.TableName == "":
		problems = append(problems, "table_name is required")
	case !watched:
		problems = append(problems, "table "+cfg.TableName+" is not watched")
	}

	fields := []string(cfg.SelectedFields)
	if len(fields) == 0 {
		problems = append(problems, "selected_fields must not be empty")
	}
	if dups := lo.FindDuplicates(fields); len(dups) > 0 {
		problems = append(problems, "duplicate selected_fields: "+strings.Join(dups, ", "))
	}
	if watched {
		if unknown := lo.Without(fields, columns...); len(unknown) > 0 {
			problems = append(problems, "unknown columns for "+cfg.TableName+": "+strings.Join(lo.Uniq(unknown), ", "))
		}
	}

	if !cfg.HasWorkflow() {
		problems = append(problems, "at least one of workflow_id_insert, workflow_id_update, workflow_id_delete is required")
	}
	if _, err := models.ParseSyncStatus(string(cfg.Status)); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// Register validates and adds cfg. Duplicate ids are rejected.
func (r *SyncConfigRegistry) Register(cfg models.SyncConfig) (models.SyncConfig, error) {
	cfg, err := r.Prepare(cfg)
	if err != nil {
		return models.SyncConfig{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.configs[cfg.ID]; exists {
		return models.SyncConfig{}, newValidationError("sync config %s already registered", cfg.ID)
	}
	r.configs[cfg.ID] = cfg
	r.reindex()
	return cfg, nil
}

// Unregister removes a config. Unknown ids are a no-op; the result reports
// whether anything was removed.
func (r *SyncConfigRegistry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.configs[id]; !ok {
		return false
	}
	delete(r.configs, id)
	r.reindex()
	return true
}

// Preview returns the config that Update would store, without storing it.
func (r *SyncConfigRegistry) Preview(id string, patch ConfigPatch) (models.SyncConfig, error) {
	r.mu.RLock()
	current, ok := r.configs[id]
	r.mu.RUnlock()
	if !ok {
		return models.SyncConfig{}, ErrConfigNotFound
	}

	merged := patch.apply(current)
	if err := r.Validate(merged); err != nil {
		return models.SyncConfig{}, err
	}
	return merged, nil
}

// Update merges patch into the config, validates the result and swaps it in.
func (r *SyncConfigRegistry) Update(id string, patch ConfigPatch) (models.SyncConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.configs[id]
	if !ok {
		return models.SyncConfig{}, ErrConfigNotFound
	}
	merged := patch.apply(current)
	if err := r.Validate(merged); err != nil {
		return models.SyncConfig{}, err
	}
	r.configs[id] = merged
	r.reindex()
	return merged, nil
}

// Replace swaps in a stored config as is. The config must exist.
func (r *SyncConfigRegistry) Replace(cfg models.SyncConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.configs[cfg.ID]; !ok {
		return ErrConfigNotFound
	}
	r.configs[cfg.ID] = cfg
	r.reindex()
	return nil
}

// Load replaces the whole registry content, used at startup.
func (r *SyncConfigRegistry) Load(configs []models.SyncConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs = make(map[string]models.SyncConfig, len(configs))
	for _, cfg := range configs {
		r.configs[cfg.ID] = cfg
	}
	r.reindex()
}

// ListActiveFor returns copies of the ACTIVE configs of table, ordered by id.
func (r *SyncConfigRegistry) ListActiveFor(table string) []models.SyncConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byTable[table]
	out := make([]models.SyncConfig, 0, len(ids))
	for _, id := range ids {
		if cfg := r.configs[id]; cfg.Status == models.SyncStatusActive {
			out = append(out, copyConfig(cfg))
		}
	}
	return out
}

func (r *SyncConfigRegistry) Get(id string) (models.SyncConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[id]
	if !ok {
		return models.SyncConfig{}, false
	}
	return copyConfig(cfg), true
}

// List returns every registered config ordered by id.
func (r *SyncConfigRegistry) List() []models.SyncConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.SyncConfig, 0, len(r.configs))
	for _, cfg := range r.configs {
		out = append(out, copyConfig(cfg))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *SyncConfigRegistry) IsActive(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[id]
	return ok && cfg.Status == models.SyncStatusActive
}

// SetStatus changes only the status of a registered config.
func (r *SyncConfigRegistry) SetStatus(id string, status models.SyncStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[id]
	if !ok {
		return false
	}
	cfg.Status = status
	r.configs[id] = cfg
	r.reindex()
	return true
}

// reindex rebuilds byTable. Callers hold the write lock.
func (r *SyncConfigRegistry) reindex() {
	index := make(map[string][]string, len(r.byTable))
	for id, cfg := range r.configs {
		index[cfg.TableName] = append(index[cfg.TableName], id)
	}
	for _, ids := range index {
		sort.Strings(ids)
	}
	r.byTable = index
}

func copyConfig(cfg models.SyncConfig) models.SyncConfig {
	cfg.SelectedFields = append(models.FieldList(nil), cfg.SelectedFields...)
	return cfg
}
