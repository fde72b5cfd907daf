// internal/handler/helpers_test.go
package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"can-bridge-service/internal/config"
	internalDriver "can-bridge-service/internal/driver"
	"can-bridge-service/internal/middleware"
	"can-bridge-service/internal/model"
	"can-bridge-service/internal/protocol"
	"can-bridge-service/internal/protocol/prototest"
	"can-bridge-service/internal/repository"
	"can-bridge-service/internal/service"
	"can-bridge-service/internal/utils"
)

type testServer struct {
	router   *gin.Engine
	sessions *service.SessionService
	bus      *EventBus
	fake     *prototest.FakeChannel
}

type envelope struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	Error     *utils.APIError `json:"error"`
	RequestID string          `json:"request_id"`
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.App = config.AppConfig{Name: "can-bridge-service", Version: "test", Environment: "test"}
	cfg.Bridge = config.BridgeConfig{
		WorkerPoolSize:   2,
		OperationTimeout: 2 * time.Second,
		QueueWaitTimeout: 20 * time.Millisecond,
		DefaultModel:     "RS232/485/422-TO-CAN",
		HostMode:         "transparent",
		HostCANBaudRate:  500000,
		Timing: config.TimingConfig{
			ProbeTimeout: 30 * time.Millisecond,
			ProbeSettle:  time.Millisecond,
			ReadTimeout:  30 * time.Millisecond,
			PollInterval: time.Millisecond,
			EscapeSettle: time.Millisecond,
			RestartDelay: time.Millisecond,
			SwitchRead:   30 * time.Millisecond,
		},
	}
	cfg.Bridge.DefaultPorts.Serial = config.SerialPortConfig{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"}
	return cfg
}

func newTestServer(t *testing.T, responder prototest.Responder) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)
	cfg := testConfig()

	registry := internalDriver.NewRegistry(logger)
	internalDriver.RegisterDefaultDrivers(registry, logger)

	pool := service.NewWorkerPool(cfg.Bridge.WorkerPoolSize, logger)
	t.Cleanup(pool.Stop)

	bus := NewEventBus(logger)
	go bus.Start()
	t.Cleanup(bus.Stop)

	fake := prototest.NewFakeChannel(responder)
	factory := func(model.ConnectionType, map[string]interface{}, *zap.Logger) (protocol.ByteChannel, error) {
		return fake, nil
	}

	opRepo := repository.NewMemoryOperationRepository()
	sessions := service.NewSessionService(registry, factory, opRepo, pool, bus, cfg, logger)
	operations := service.NewOperationService(opRepo, cfg, logger)
	profiles := service.NewProfileService(repository.NewMemoryProfileRepository(), sessions, logger)

	router := gin.New()
	router.Use(middleware.RequestIDMiddleware())
	NewHealthHandler(nil, sessions, cfg, logger).RegisterRoutes(router.Group(""))
	api := router.Group("/api/v1")
	NewSessionHandler(sessions, logger).RegisterRoutes(api)
	NewOperationHandler(operations, logger).RegisterRoutes(api)
	NewProfileHandler(profiles, logger).RegisterRoutes(api)
	NewWebSocketHandler(sessions, bus, logger).RegisterRoutes(router.Group("/ws"))

	return &testServer{router: router, sessions: sessions, bus: bus, fake: fake}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

// connect opens a serial session through the API and returns its ID
func (s *testServer) connect(t *testing.T) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/sessions",
		`{"connection_type":"serial","connection_config":{"port":"/dev/ttyUSB0"}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("connect status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var info model.SessionInfo
	decodeData(t, rec, &info)
	return info.ID.String()
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return env
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	env := decodeEnvelope(t, rec)
	if !env.Success {
		t.Fatalf("response not successful: %s", rec.Body.String())
	}
	if err := json.Unmarshal(env.Data, target); err != nil {
		t.Fatalf("decode data: %v (%s)", err, env.Data)
	}
}
