package Controllers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/yeremiapane/inventory-sync/config"
	"github.com/yeremiapane/inventory-sync/controllers"
	"github.com/yeremiapane/inventory-sync/database"
	"github.com/yeremiapane/inventory-sync/hub"
	"github.com/yeremiapane/inventory-sync/router"
	"github.com/yeremiapane/inventory-sync/services"
	"github.com/yeremiapane/inventory-sync/utils"
)

// stubDeliverer accepts every delivery and remembers the workflow ids.
type stubDeliverer struct {
	mu        sync.Mutex
	workflows []string
}

func (d *stubDeliverer) Deliver(_ context.Context, workflowID string, _ services.ParameterMap) (services.Ack, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.workflows = append(d.workflows, workflowID)
	return services.Ack{ExecuteID: "exec"}, nil
}

type testApp struct {
	DB        *gorm.DB
	Router    *gin.Engine
	Poller    *services.ChangePoller
	Deliverer *stubDeliverer
}

func setupTestApp(t *testing.T, jwtSecret string) *testApp {
	t.Helper()
	utils.InitLogger()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	catalog, err := database.Migrate(db, database.CaptureTriggers)
	require.NoError(t, err)

	store := database.NewChangeStore(db, database.DialectSQLite)
	registry := services.NewSyncConfigRegistry(catalog)
	activity := hub.New("")
	deliverer := &stubDeliverer{}
	recorder := services.NewSyncRecorder(db, registry, 5, activity)
	configs := services.NewSyncConfigService(db, registry, store, activity)
	syncer := services.NewManualSyncer(db, registry, deliverer, recorder, 0, activity)
	poller := services.NewChangePoller(store, registry, deliverer, recorder, services.WithPublisher(activity))

	syncCtrl := controllers.NewSyncConfigController(configs, syncer, catalog, store, poller)
	serverCfg := config.Default().Server
	serverCfg.JWTSecret = jwtSecret
	serverCfg.RateLimit = 0

	return &testApp{
		DB:        db,
		Router:    router.SetupRouter(db, serverCfg, syncCtrl, activity),
		Poller:    poller,
		Deliverer: deliverer,
	}
}

type apiResponse struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (a *testApp) do(t *testing.T, method, path string, body any, header ...string) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}

	w := httptest.NewRecorder()
	a.Router.ServeHTTP(w, req)

	var resp apiResponse
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") != "" {
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
	}
	return w, resp
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var out T
	if len(raw) == 0 {
		return out
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}
