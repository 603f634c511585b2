package controllers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/inventory-sync/models"
	"github.com/yeremiapane/inventory-sync/utils"
	"gorm.io/gorm"
)

var orderStatuses = map[string]bool{
	"pending":   true,
	"confirmed": true,
	"received":  true,
	"cancelled": true,
}

// OrderController manages purchase orders. Totals are derived from the
// product's unit price when the client does not send one.
type OrderController struct {
	DB *gorm.DB
}

func NewOrderController(db *gorm.DB) *OrderController {
	return &OrderController{DB: db}
}

type orderRequest struct {
	ProductID   *string  `json:"product_id"`
	SupplierID  *string  `json:"supplier_id"`
	Quantity    *int     `json:"quantity" binding:"omitempty,gt=0"`
	TotalAmount *float64 `json:"total_amount" binding:"omitempty,gte=0"`
	Status      *string  `json:"status"`
}

func (oc *OrderController) GetAllOrders(c *gin.Context) {
	limit, offset := pageParams(c)
	q := oc.DB.Order("order_date DESC").Limit(limit).Offset(offset)
	if status := c.Query("status"); status != "" {
		q = q.Where("status = ?", status)
	}

	var orders []models.Order
	if err := q.Find(&orders).Error; err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "List of orders", orders)
}

func (oc *OrderController) GetOrderByID(c *gin.Context) {
	var order models.Order
	if err := oc.DB.First(&order, "id = ?", c.Param("order_id")).Error; err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Order detail", order)
}

func (oc *OrderController) CreateOrder(c *gin.Context) {
	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	if req.ProductID == nil || *req.ProductID == "" {
		utils.RespondError(c, http.StatusBadRequest, errFieldRequired("product_id"))
		return
	}
	if req.Quantity == nil {
		utils.RespondError(c, http.StatusBadRequest, errFieldRequired("quantity"))
		return
	}

	var product models.Product
	if err := oc.DB.First(&product, "id = ?", *req.ProductID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.RespondError(c, http.StatusBadRequest, fmt.Errorf("product %s does not exist", *req.ProductID))
			return
		}
		respondServiceError(c, err)
		return
	}

	order := models.Order{
		ProductID:  product.ID,
		SupplierID: product.SupplierID,
		Quantity:   *req.Quantity,
		Status:     "pending",
	}
	if req.SupplierID != nil && *req.SupplierID != "" {
		order.SupplierID = req.SupplierID
	}
	if req.TotalAmount != nil {
		order.TotalAmount = *req.TotalAmount
	} else {
		order.TotalAmount = product.UnitPrice * float64(order.Quantity)
	}
	if req.Status != nil {
		if !orderStatuses[*req.Status] {
			utils.RespondError(c, http.StatusBadRequest, fmt.Errorf("invalid order status %q", *req.Status))
			return
		}
		order.Status = *req.Status
	}

	if err := oc.DB.Create(&order).Error; err != nil {
		respondServiceError(c, err)
		return
	}
	utils.InfoLogger.Printf("Order %s created for product %s", order.OrderNumber, order.ProductID)
	utils.RespondJSON(c, http.StatusCreated, "Order created", order)
}

func (oc *OrderController) UpdateOrder(c *gin.Context) {
	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	var order models.Order
	if err := oc.DB.First(&order, "id = ?", c.Param("order_id")).Error; err != nil {
		respondServiceError(c, err)
		return
	}
	if req.ProductID != nil && *req.ProductID != order.ProductID {
		utils.RespondError(c, http.StatusBadRequest, errors.New("product of an order cannot change"))
		return
	}
	if req.Status != nil {
		if !orderStatuses[*req.Status] {
			utils.RespondError(c, http.StatusBadRequest, fmt.Errorf("invalid order status %q", *req.Status))
			return
		}
		order.Status = *req.Status
	}
	if req.Quantity != nil {
		order.Quantity = *req.Quantity
	}
	if req.TotalAmount != nil {
		order.TotalAmount = *req.TotalAmount
	}
	if req.SupplierID != nil {
		order.SupplierID = req.SupplierID
	}

	if err := oc.DB.Save(&order).Error; err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Order updated", order)
}

func (oc *OrderController) DeleteOrder(c *gin.Context) {
	var order models.Order
	if err := oc.DB.First(&order, "id = ?", c.Param("order_id")).Error; err != nil {
		respondServiceError(c, err)
		return
	}
	if err := oc.DB.Delete(&order).Error; err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Order deleted", gin.H{"id": order.ID})
}
