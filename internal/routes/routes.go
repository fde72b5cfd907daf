// internal/routes/routes.go
package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"can-bridge-service/internal/config"
	"can-bridge-service/internal/database"
	"can-bridge-service/internal/handler"
	"can-bridge-service/internal/middleware"
	"can-bridge-service/internal/service"
	"can-bridge-service/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	config           *config.Config
	logger           *zap.Logger
	db               *database.DB
	sessionService   *service.SessionService
	operationService *service.OperationService
	profileService   *service.ProfileService
	eventBus         *handler.EventBus
}

// NewRouter creates a new router instance. db may be nil when persistence
// is disabled.
func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	db *database.DB,
	sessionService *service.SessionService,
	operationService *service.OperationService,
	profileService *service.ProfileService,
	eventBus *handler.EventBus,
) *Router {
	return &Router{
		config:           config,
		logger:           logger,
		db:               db,
		sessionService:   sessionService,
		operationService: operationService,
		profileService:   profileService,
		eventBus:         eventBus,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	switch {
	case gin.Mode() == gin.TestMode:
	case r.config.IsDebugEnabled() && !r.config.IsProduction():
		gin.SetMode(gin.DebugMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	r.addMiddleware(router)
	r.addRoutes(router)

	return router
}

func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.RecoveryMiddleware(r.logger))

	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger))

	router.Use(middleware.CORSMiddleware(&r.config.Security))

	r.logger.Info("Middleware configured")
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	healthHandler := handler.NewHealthHandler(r.db, r.sessionService, r.config, r.logger)
	sessionHandler := handler.NewSessionHandler(r.sessionService, r.logger)
	operationHandler := handler.NewOperationHandler(r.operationService, r.logger)
	profileHandler := handler.NewProfileHandler(r.profileService, r.logger)
	wsHandler := handler.NewWebSocketHandler(r.sessionService, r.eventBus, r.logger)

	// Health check routes
	healthHandler.RegisterRoutes(router.Group(""))

	apiV1 := router.Group("/api/v1")
	sessionHandler.RegisterRoutes(apiV1)
	operationHandler.RegisterRoutes(apiV1)
	profileHandler.RegisterRoutes(apiV1)

	wsHandler.RegisterRoutes(router.Group("/ws"))

	r.addDocumentationRoutes(router)

	r.logger.Info("All routes configured successfully",
		zap.Int("routes", len(router.Routes())),
	)
}

// addDocumentationRoutes sets up documentation routes
func (r *Router) addDocumentationRoutes(router *gin.Engine) {
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))

	router.GET("/docs", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/swagger/index.html")
	})
}
