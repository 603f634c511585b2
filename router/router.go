package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yeremiapane/inventory-sync/config"
	"github.com/yeremiapane/inventory-sync/controllers"
	"github.com/yeremiapane/inventory-sync/hub"
	"github.com/yeremiapane/inventory-sync/middlewares"
	"gorm.io/gorm"
)

// manual syncs fan out to the destination, keep them rare
const manualSyncEvery = 10 * time.Second

func SetupRouter(db *gorm.DB, cfg config.ServerConfig, syncCtrl *controllers.SyncConfigController, activity *hub.Hub) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddlewares(cfg.CORSOrigin))
	r.Use(middlewares.LoggerMiddleware())

	secret := []byte(cfg.JWTSecret)

	productCtrl := controllers.NewProductController(db)
	supplierCtrl := controllers.NewSupplierController(db)
	orderCtrl := controllers.NewOrderController(db)

	// ----------------------------------------------------------------
	//                      PUBLIC ROUTES
	// ----------------------------------------------------------------
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/ws/sync", middlewares.WebSocketAuthMiddleware(secret), activity.Handler)

	api := r.Group("/api")
	if cfg.RateLimit > 0 {
		api.Use(middlewares.NewRateLimiter(cfg.RateLimit, 0).RateLimit())
	}
	api.Use(middlewares.AuthMiddleware(secret))

	// ----------------------------------------------------------------
	//                      SYNC MANAGEMENT
	// ----------------------------------------------------------------
	sync := api.Group("/sync")
	{
		sync.GET("/configs", syncCtrl.ListConfigs)
		sync.GET("/configs/:config_id", syncCtrl.GetConfig)
		sync.GET("/tables", syncCtrl.ListTables)
		sync.GET("/changes", syncCtrl.ListChanges)
		sync.GET("/poller", syncCtrl.GetPollerStatus)
	}
	admin := sync.Group("/")
	admin.Use(middlewares.RequireAdmin())
	{
		admin.POST("/configs", syncCtrl.CreateConfig)
		admin.PATCH("/configs/:config_id", syncCtrl.UpdateConfig)
		admin.DELETE("/configs/:config_id", syncCtrl.DeleteConfig)
		admin.POST("/configs/:config_id/manual-sync",
			middlewares.NewStrictRateLimiter(manualSyncEvery, 3),
			syncCtrl.ManualSync)
	}

	// ----------------------------------------------------------------
	//                      BUSINESS DATA
	// ----------------------------------------------------------------
	api.GET("/products", productCtrl.GetAllProducts)
	api.GET("/products/:product_id", productCtrl.GetProductByID)
	api.POST("/products", productCtrl.CreateProduct)
	api.PATCH("/products/:product_id", productCtrl.UpdateProduct)
	api.DELETE("/products/:product_id", productCtrl.DeleteProduct)

	api.GET("/suppliers", supplierCtrl.GetAllSuppliers)
	api.GET("/suppliers/:supplier_id", supplierCtrl.GetSupplierByID)
	api.POST("/suppliers", supplierCtrl.CreateSupplier)
	api.PATCH("/suppliers/:supplier_id", supplierCtrl.UpdateSupplier)
	api.DELETE("/suppliers/:supplier_id", supplierCtrl.DeleteSupplier)

	api.GET("/orders", orderCtrl.GetAllOrders)
	api.GET("/orders/:order_id", orderCtrl.GetOrderByID)
	api.POST("/orders", orderCtrl.CreateOrder)
	api.PATCH("/orders/:order_id", orderCtrl.UpdateOrder)
	api.DELETE("/orders/:order_id", orderCtrl.DeleteOrder)

	return r
}
