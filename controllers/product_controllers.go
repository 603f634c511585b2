package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/inventory-sync/models"
	"github.com/yeremiapane/inventory-sync/utils"
	"gorm.io/gorm"
)

// ProductController writes products through gorm so every change is captured.
type ProductController struct {
	DB *gorm.DB
}

func NewProductController(db *gorm.DB) *ProductController {
	return &ProductController{DB: db}
}

type productRequest struct {
	ProductName   *string  `json:"product_name"`
	SKU           *string  `json:"sku"`
	Category      *string  `json:"category"`
	UnitPrice     *float64 `json:"unit_price" binding:"omitempty,gte=0"`
	StockQuantity *int     `json:"stock_quantity" binding:"omitempty,gte=0"`
	SupplierID    *string  `json:"supplier_id"`
}

func (r productRequest) apply(p *models.Product) {
	if r.ProductName != nil {
		p.ProductName = *r.ProductName
	}
	if r.SKU != nil {
		p.SKU = *r.SKU
	}
	if r.Category != nil {
		p.Category = *r.Category
	}
	if r.UnitPrice != nil {
		p.UnitPrice = *r.UnitPrice
	}
	if r.StockQuantity != nil {
		p.StockQuantity = *r.StockQuantity
	}
	if r.SupplierID != nil {
		if *r.SupplierID == "" {
			p.SupplierID = nil
		} else {
			p.SupplierID = r.SupplierID
		}
	}
}

func (pc *ProductController) GetAllProducts(c *gin.Context) {
	limit, offset := pageParams(c)
	var products []models.Product
	if err := pc.DB.Order("product_name").Limit(limit).Offset(offset).Find(&products).Error; err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "List of products", products)
}

func (pc *ProductController) GetProductByID(c *gin.Context) {
	var product models.Product
	if err := pc.DB.First(&product, "id = ?", c.Param("product_id")).Error; err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Product detail", product)
}

func (pc *ProductController) CreateProduct(c *gin.Context) {
	var req productRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	if req.ProductName == nil || *req.ProductName == "" {
		utils.RespondError(c, http.StatusBadRequest, errFieldRequired("product_name"))
		return
	}

	var product models.Product
	req.apply(&product)
	if err := pc.DB.Create(&product).Error; err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusCreated, "Product created", product)
}

func (pc *ProductController) UpdateProduct(c *gin.Context) {
	var req productRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	var product models.Product
	if err := pc.DB.First(&product, "id = ?", c.Param("product_id")).Error; err != nil {
		respondServiceError(c, err)
		return
	}
	req.apply(&product)
	if err := pc.DB.Save(&product).Error; err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Product updated", product)
}

func (pc *ProductController) DeleteProduct(c *gin.Context) {
	var product models.Product
	if err := pc.DB.First(&product, "id = ?", c.Param("product_id")).Error; err != nil {
		respondServiceError(c, err)
		return
	}
	if err := pc.DB.Delete(&product).Error; err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Product deleted", gin.H{"id": product.ID})
}
