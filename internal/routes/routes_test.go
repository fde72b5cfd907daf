// internal/routes/routes_test.go
package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	_ "can-bridge-service/docs"
	"can-bridge-service/internal/config"
	"can-bridge-service/internal/driver"
	"can-bridge-service/internal/handler"
	"can-bridge-service/internal/repository"
	"can-bridge-service/internal/service"
)

func TestSetupRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)

	cfg := &config.Config{
		App:      config.AppConfig{Name: "can-bridge-service", Version: "test", Environment: "test"},
		Security: config.SecurityConfig{AllowedOrigins: []string{"*"}},
		Bridge: config.BridgeConfig{
			WorkerPoolSize:   1,
			OperationTimeout: time.Second,
			QueueWaitTimeout: 10 * time.Millisecond,
			DefaultModel:     "RS232/485/422-TO-CAN",
		},
	}

	registry := driver.NewRegistry(logger)
	driver.RegisterDefaultDrivers(registry, logger)
	pool := service.NewWorkerPool(1, logger)
	defer pool.Stop()
	bus := handler.NewEventBus(logger)
	go bus.Start()
	defer bus.Stop()

	opRepo := repository.NewMemoryOperationRepository()
	sessions := service.NewSessionService(registry, nil, opRepo, pool, bus, cfg, logger)
	operations := service.NewOperationService(opRepo, cfg, logger)
	profiles := service.NewProfileService(repository.NewMemoryProfileRepository(), sessions, logger)

	router := NewRouter(cfg, logger, nil, sessions, operations, profiles, bus).SetupRouter()

	tests := []struct {
		path string
		want int
	}{
		{"/health", http.StatusOK},
		{"/live", http.StatusOK},
		{"/api/v1/sessions", http.StatusOK},
		{"/api/v1/operations", http.StatusOK},
		{"/api/v1/profiles", http.StatusOK},
		{"/docs", http.StatusMovedPermanently},
		{"/swagger/doc.json", http.StatusOK},
		{"/api/v1/devices", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("GET %s = %d, want %d", tt.path, rec.Code, tt.want)
			}
			if rec.Header().Get("X-Request-ID") == "" {
				t.Errorf("GET %s missing request id header", tt.path)
			}
		})
	}
}
