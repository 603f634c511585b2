package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/inventory-sync/database"
	"github.com/yeremiapane/inventory-sync/services"
	"github.com/yeremiapane/inventory-sync/utils"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// respondServiceError maps service and storage errors to HTTP statuses.
func respondServiceError(c *gin.Context, err error) {
	var (
		validation *services.ValidationError
		capture    *database.CaptureFailure
	)
	switch {
	case errors.As(err, &validation):
		utils.RespondError(c, http.StatusBadRequest, err)
	case errors.Is(err, services.ErrConfigNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		utils.RespondError(c, http.StatusNotFound, err)
	case errors.As(err, &capture):
		utils.ErrorLogger.WithField("table", capture.Table).Errorf("Write rolled back, change capture failed: %v", err)
		utils.RespondError(c, http.StatusInternalServerError, err)
	default:
		utils.RespondError(c, http.StatusInternalServerError, err)
	}
}

// pageParams reads ?limit= and ?offset= with sane bounds.
func pageParams(c *gin.Context) (limit, offset int) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	if err != nil || limit <= 0 {
		limit = defaultPageSize
	}
	limit = min(limit, maxPageSize)

	offset, err = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}
