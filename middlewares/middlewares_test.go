package middlewares

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeremiapane/inventory-sync/utils"
)

func newTestEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers = append(handlers, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"role": c.GetString("role")})
	})
	r.GET("/api/resource", handlers...)
	return r
}

func get(r http.Handler, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	utils.InitLogger()
	secret := []byte("secret")
	viewer, err := utils.GenerateToken(secret, "bob", utils.RoleViewer, time.Hour)
	require.NoError(t, err)
	admin, err := utils.GenerateToken(secret, "alice", utils.RoleAdmin, time.Hour)
	require.NoError(t, err)

	r := newTestEngine(AuthMiddleware(secret), RequireAdmin())

	assert.Equal(t, http.StatusUnauthorized, get(r, "/api/resource", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/api/resource", http.Header{"Authorization": {"Token " + admin}}).Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/api/resource", http.Header{"Authorization": {"Bearer garbage"}}).Code)
	assert.Equal(t, http.StatusForbidden, get(r, "/api/resource", http.Header{"Authorization": {"Bearer " + viewer}}).Code)
	assert.Equal(t, http.StatusOK, get(r, "/api/resource", http.Header{"Authorization": {"Bearer " + admin}}).Code)
}

func TestAuthMiddleware_DisabledWithoutSecret(t *testing.T) {
	r := newTestEngine(AuthMiddleware(nil), RequireAdmin())
	w := get(r, "/api/resource", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"role":"admin"}`, w.Body.String())
}

func TestWebSocketAuthMiddleware(t *testing.T) {
	secret := []byte("secret")
	token, err := utils.GenerateToken(secret, "bob", utils.RoleViewer, time.Hour)
	require.NoError(t, err)

	r := newTestEngine(WebSocketAuthMiddleware(secret))
	assert.Equal(t, http.StatusUnauthorized, get(r, "/api/resource", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/api/resource?token=bad", nil).Code)

	w := get(r, "/api/resource?token="+token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"role":"viewer"}`, w.Body.String())
}

func TestRateLimiter(t *testing.T) {
	utils.InitLogger()
	rl := NewRateLimiter(1, 2)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	r := newTestEngine(rl.RateLimit())

	assert.Equal(t, http.StatusOK, get(r, "/api/resource", nil).Code)
	assert.Equal(t, http.StatusOK, get(r, "/api/resource", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, get(r, "/api/resource", nil).Code)

	now = now.Add(time.Second)
	assert.Equal(t, http.StatusOK, get(r, "/api/resource", nil).Code)
}

func TestSecurityAndCORSHeaders(t *testing.T) {
	r := newTestEngine(SecurityHeaders(), CORSMiddlewares("https://ops.example.com"))
	w := get(r, "/api/resource", nil)

	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Equal(t, "https://ops.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}
