package controllers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/inventory-sync/database"
	"github.com/yeremiapane/inventory-sync/models"
	"github.com/yeremiapane/inventory-sync/services"
	"github.com/yeremiapane/inventory-sync/utils"
)

// TableCatalog lists the watched tables and their columns.
type TableCatalog interface {
	Tables() []string
	Columns(table string) ([]string, bool)
}

// ChangeLister reads recent change records for inspection.
type ChangeLister interface {
	List(ctx context.Context, f database.ChangeFilter) ([]models.ChangeRecord, error)
}

// PollerStatus reports what the change poller is doing.
type PollerStatus interface {
	State() services.PollerState
	LastTick() services.TickSummary
}

type SyncConfigController struct {
	Configs *services.SyncConfigService
	Syncer  *services.ManualSyncer
	Catalog TableCatalog
	Changes ChangeLister
	Poller  PollerStatus
}

func NewSyncConfigController(configs *services.SyncConfigService, syncer *services.ManualSyncer, catalog TableCatalog, changes ChangeLister, poller PollerStatus) *SyncConfigController {
	return &SyncConfigController{
		Configs: configs,
		Syncer:  syncer,
		Catalog: catalog,
		Changes: changes,
		Poller:  poller,
	}
}

type createConfigRequest struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Description      string            `json:"description"`
	TableName        string            `json:"table_name" binding:"required"`
	SelectedFields   []string          `json:"selected_fields" binding:"required"`
	WorkflowIDInsert string            `json:"workflow_id_insert"`
	WorkflowIDUpdate string            `json:"workflow_id_update"`
	WorkflowIDDelete string            `json:"workflow_id_delete"`
	Status           models.SyncStatus `json:"status"`
}

// ListConfigs -> every sync config with its counters
func (sc *SyncConfigController) ListConfigs(c *gin.Context) {
	configs, err := sc.Configs.List(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "List of sync configs", configs)
}

func (sc *SyncConfigController) GetConfig(c *gin.Context) {
	cfg, err := sc.Configs.Get(c.Request.Context(), c.Param("config_id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Sync config detail", cfg)
}

func (sc *SyncConfigController) CreateConfig(c *gin.Context) {
	var req createConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	cfg, err := sc.Configs.Register(c.Request.Context(), models.SyncConfig{
		ID:               req.ID,
		Name:             req.Name,
		Description:      req.Description,
		TableName:        req.TableName,
		SelectedFields:   req.SelectedFields,
		WorkflowIDInsert: req.WorkflowIDInsert,
		WorkflowIDUpdate: req.WorkflowIDUpdate,
		WorkflowIDDelete: req.WorkflowIDDelete,
		Status:           req.Status,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	utils.InfoLogger.Printf("Sync config %s created for table %s by %s", cfg.ID, cfg.TableName, c.GetString("operator"))
	utils.RespondJSON(c, http.StatusCreated, "Sync config created", cfg)
}

func (sc *SyncConfigController) UpdateConfig(c *gin.Context) {
	var patch services.ConfigPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	cfg, err := sc.Configs.Update(c.Request.Context(), c.Param("config_id"), patch)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Sync config updated", cfg)
}

// DeleteConfig succeeds for unknown ids too.
func (sc *SyncConfigController) DeleteConfig(c *gin.Context) {
	id := c.Param("config_id")
	if err := sc.Configs.Unregister(c.Request.Context(), id); err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Sync config deleted", gin.H{"id": id})
}

func (sc *SyncConfigController) ManualSync(c *gin.Context) {
	result, err := sc.Syncer.TriggerManualSync(c.Request.Context(), c.Param("config_id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Manual sync finished", result)
}

type tableInfo struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
}

// ListTables -> watched tables and the columns a config may select
func (sc *SyncConfigController) ListTables(c *gin.Context) {
	tables := []tableInfo{}
	for _, name := range sc.Catalog.Tables() {
		cols, _ := sc.Catalog.Columns(name)
		tables = append(tables, tableInfo{Name: name, Columns: cols})
	}
	utils.RespondJSON(c, http.StatusOK, "Watched tables", tables)
}

func (sc *SyncConfigController) ListChanges(c *gin.Context) {
	filter := database.ChangeFilter{Table: c.Query("table")}
	if raw := c.Query("processed"); raw != "" {
		processed, err := strconv.ParseBool(raw)
		if err != nil {
			utils.RespondError(c, http.StatusBadRequest, fmt.Errorf("processed must be true or false"))
			return
		}
		filter.Processed = &processed
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			utils.RespondError(c, http.StatusBadRequest, fmt.Errorf("limit must be a number"))
			return
		}
		filter.Limit = limit
	}

	records, err := sc.Changes.List(c.Request.Context(), filter)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Recent change records", records)
}

func (sc *SyncConfigController) GetPollerStatus(c *gin.Context) {
	utils.RespondJSON(c, http.StatusOK, "Poller status", gin.H{
		"state":     sc.Poller.State(),
		"last_tick": sc.Poller.LastTick(),
	})
}
