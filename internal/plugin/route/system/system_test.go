package system_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/EZFRICA/context-engineering/internal/plugin/route/system"
	registryroute "github.com/EZFRICA/context-engineering/internal/registry/route"
)

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	for _, loader := range registryroute.ManagementRouteLoaders() {
		require.NoError(t, loader(router))
	}
	return router
}

func get(router *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHealthAndReadiness(t *testing.T) {
	router := setupRouter(t)

	require.Equal(t, http.StatusOK, get(router, "/health").Code)
	require.Equal(t, http.StatusServiceUnavailable, get(router, "/ready").Code)

	system.MarkReady()
	require.Equal(t, http.StatusOK, get(router, "/ready").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	router := setupRouter(t)
	w := get(router, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "go_goroutines")
}
