package controllers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/inventory-sync/models"
	"github.com/yeremiapane/inventory-sync/utils"
	"gorm.io/gorm"
)

type SupplierController struct {
	DB *gorm.DB
}

func NewSupplierController(db *gorm.DB) *SupplierController {
	return &SupplierController{DB: db}
}

type supplierRequest struct {
	SupplierName *string `json:"supplier_name"`
	ContactName  *string `json:"contact_name"`
	Email        *string `json:"email" binding:"omitempty,email"`
	Phone        *string `json:"phone"`
	Address      *string `json:"address"`
}

func (r supplierRequest) apply(s *models.Supplier) {
	if r.SupplierName != nil {
		s.SupplierName = *r.SupplierName
	}
	if r.ContactName != nil {
		s.ContactName = *r.ContactName
	}
	if r.Email != nil {
		s.Email = *r.Email
	}
	if r.Phone != nil {
		s.Phone = *r.Phone
	}
	if r.Address != nil {
		s.Address = *r.Address
	}
}

func errFieldRequired(field string) error {
	return fmt.Errorf("%s is required", field)
}

func (sc *SupplierController) GetAllSuppliers(c *gin.Context) {
	limit, offset := pageParams(c)
	var suppliers []models.Supplier
	if err := sc.DB.Order("supplier_name").Limit(limit).Offset(offset).Find(&suppliers).Error; err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "List of suppliers", suppliers)
}

func (sc *SupplierController) GetSupplierByID(c *gin.Context) {
	var supplier models.Supplier
	if err := sc.DB.First(&supplier, "id = ?", c.Param("supplier_id")).Error; err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Supplier detail", supplier)
}

func (sc *SupplierController) CreateSupplier(c *gin.Context) {
	var req supplierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	if req.SupplierName == nil || *req.SupplierName == "" {
		utils.RespondError(c, http.StatusBadRequest, errFieldRequired("supplier_name"))
		return
	}

	var supplier models.Supplier
	req.apply(&supplier)
	if err := sc.DB.Create(&supplier).Error; err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusCreated, "Supplier created", supplier)
}

func (sc *SupplierController) UpdateSupplier(c *gin.Context) {
	var req supplierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	var supplier models.Supplier
	if err := sc.DB.First(&supplier, "id = ?", c.Param("supplier_id")).Error; err != nil {
		respondServiceError(c, err)
		return
	}
	req.apply(&supplier)
	if err := sc.DB.Save(&supplier).Error; err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Supplier updated", supplier)
}

func (sc *SupplierController) DeleteSupplier(c *gin.Context) {
	var supplier models.Supplier
	if err := sc.DB.First(&supplier, "id = ?", c.Param("supplier_id")).Error; err != nil {
		respondServiceError(c, err)
		return
	}
	if err := sc.DB.Delete(&supplier).Error; err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Supplier deleted", gin.H{"id": supplier.ID})
}
