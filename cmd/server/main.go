// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"

	_ "can-bridge-service/docs"
	"can-bridge-service/internal/config"
	"can-bridge-service/internal/database"
	"can-bridge-service/internal/driver"
	"can-bridge-service/internal/handler"
	"can-bridge-service/internal/repository"
	"can-bridge-service/internal/routes"
	"can-bridge-service/internal/service"
	"can-bridge-service/internal/utils"
)

// Options are the command line flags
type Options struct {
	ConfigDir    string `short:"c" long:"config-dir" description:"Directory holding config.yaml"`
	Migrate      string `long:"migrate" choice:"up" choice:"down" choice:"version" description:"Run a migration command and exit"`
	ForceVersion int    `long:"force-version" default:"-1" description:"Force the migration version and exit"`
}

// Application represents the main application
type Application struct {
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
	database *database.DB

	// Services
	sessionService   *service.SessionService
	operationService *service.OperationService
	profileService   *service.ProfileService

	// Repositories
	operationRepo repository.OperationRepository
	profileRepo   repository.ProfileRepository

	driverRegistry *driver.Registry
	workerPool     *service.WorkerPool
	eventBus       *handler.EventBus
}

// @title CAN Bridge Service API
// @version 1.0.0
// @description Configuration service for Waveshare serial/Ethernet to CAN bridges

// @contact.name CAN Bridge Service API Support

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8086
// @BasePath /api/v1
func main() {
	var opts Options
	if _, err := flags.Parse(&opts); err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	if opts.Migrate != "" || opts.ForceVersion >= 0 {
		if err := runMigrationCommand(opts); err != nil {
			fmt.Printf("Migration failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	app, err := NewApplication(opts)
	if err != nil {
		fmt.Printf("Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Start(); err != nil {
		app.logger.Fatal("Failed to start application", zap.Error(err))
	}
}

func loadConfig(opts Options) (*config.Config, error) {
	if opts.ConfigDir != "" {
		return config.LoadFrom(opts.ConfigDir)
	}
	return config.Load()
}

// runMigrationCommand executes a one-shot migration command against the
// configured database
func runMigrationCommand(opts Options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer utils.CloseLogger(logger)

	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger, &cfg.Database)

	if opts.ForceVersion >= 0 {
		return migrator.Force(opts.ForceVersion)
	}

	switch opts.Migrate {
	case "up":
		return migrator.Up()
	case "down":
		return migrator.Down()
	default:
		version, dirty, err := migrator.Version()
		if err != nil {
			return err
		}
		fmt.Printf("version=%d dirty=%t\n", version, dirty)
		return nil
	}
}

// NewApplication creates a new application instance
func NewApplication(opts Options) (*Application, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	serviceLogger := utils.NewServiceLogger(logger, cfg.App.Name)
	serviceLogger.LogServiceStart(cfg.App.Version, cfg)

	app := &Application{
		config: cfg,
		logger: logger,
	}

	if err := app.initializeDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	app.initializeRepositories()
	app.initializeDriverRegistry()
	app.initializeServices()
	app.initializeServer()

	return app, nil
}

// initializeDatabase connects to PostgreSQL and runs migrations. With the
// database disabled the service keeps its history in memory.
func (app *Application) initializeDatabase() error {
	if !app.config.Database.Enabled {
		app.logger.Info("Database disabled, using in-memory repositories")
		return nil
	}

	db, err := database.NewConnection(&app.config.Database, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create database connection: %w", err)
	}
	app.database = db

	if app.config.Database.AutoMigrate {
		migrator := database.NewMigrator(db, app.logger, &app.config.Database)
		if err := migrator.Up(); err != nil {
			return fmt.Errorf("failed to run database migrations: %w", err)
		}
	}

	app.logger.Info("Database initialized successfully")
	return nil
}

func (app *Application) initializeRepositories() {
	if app.database != nil {
		app.operationRepo = repository.NewOperationRepository(app.database, app.logger)
		app.profileRepo = repository.NewProfileRepository(app.database, app.logger)
	} else {
		app.operationRepo = repository.NewMemoryOperationRepository()
		app.profileRepo = repository.NewMemoryProfileRepository()
	}

	app.logger.Info("Repositories initialized successfully",
		zap.Bool("persistent", app.database != nil),
	)
}

func (app *Application) initializeDriverRegistry() {
	app.driverRegistry = driver.NewRegistry(app.logger)
	driver.RegisterDefaultDrivers(app.driverRegistry, app.logger)

	app.logger.Info("Driver registry initialized successfully",
		zap.Int("registered_drivers", len(app.driverRegistry.ListDrivers())),
	)
}

func (app *Application) initializeServices() {
	app.workerPool = service.NewWorkerPool(app.config.Bridge.WorkerPoolSize, app.logger)

	app.eventBus = handler.NewEventBus(app.logger)
	go app.eventBus.Start()

	app.sessionService = service.NewSessionService(
		app.driverRegistry,
		nil,
		app.operationRepo,
		app.workerPool,
		app.eventBus,
		app.config,
		app.logger,
	)

	app.operationService = service.NewOperationService(
		app.operationRepo,
		app.config,
		app.logger,
	)

	app.profileService = service.NewProfileService(
		app.profileRepo,
		app.sessionService,
		app.logger,
	)

	app.logger.Info("Services initialized successfully",
		zap.Int("worker_pool_size", app.workerPool.Size()),
	)
}

func (app *Application) initializeServer() {
	routerManager := routes.NewRouter(
		app.config,
		app.logger,
		app.database,
		app.sessionService,
		app.operationService,
		app.profileService,
		app.eventBus,
	)

	router := routerManager.SetupRouter()

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized",
		zap.String("address", app.config.GetServerAddr()),
		zap.Bool("tls_enabled", app.config.Server.TLS.Enabled),
	)
}

// startCleanupService prunes the operation history on a fixed interval
func (app *Application) startCleanupService(ctx context.Context) {
	interval := app.config.Bridge.CleanupInterval
	retention := app.config.Bridge.OperationRetention
	if interval <= 0 || retention <= 0 {
		app.logger.Info("Operation cleanup disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	app.logger.Info("Cleanup service started",
		zap.Duration("interval", interval),
		zap.Duration("retention", retention),
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cleanupCtx, cancel := context.WithTimeout(ctx, time.Minute)
			if _, err := app.operationService.CleanupOldOperations(cleanupCtx, retention); err != nil {
				app.logger.Error("Failed to cleanup old operations", zap.Error(err))
			}
			cancel()
		}
	}
}

// waitForShutdown waits for shutdown signal and performs graceful shutdown
func (app *Application) waitForShutdown(stopBackground context.CancelFunc) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	stopBackground()
	app.shutdown()
}

// shutdown stops the HTTP server first so no new work arrives, then closes
// every bridge session before the pool and bus go away
func (app *Application) shutdown() {
	serviceLogger := utils.NewServiceLogger(app.logger, app.config.App.Name)
	serviceLogger.LogServiceStop("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		app.logger.Info("HTTP server stopped")
	}

	app.sessionService.Shutdown(ctx)
	app.workerPool.Stop()
	app.eventBus.Stop()

	if app.database != nil {
		if err := app.database.Close(); err != nil {
			app.logger.Error("Database close error", zap.Error(err))
		} else {
			app.logger.Info("Database connection closed")
		}
	}

	app.logger.Info("Application shutdown completed")

	if err := utils.CloseLogger(app.logger); err != nil {
		fmt.Printf("Logger close error: %v\n", err)
	}
}

// Start serves HTTP until a shutdown signal arrives
func (app *Application) Start() error {
	go func() {
		app.logger.Info("Starting HTTP server",
			zap.String("address", app.server.Addr),
		)

		var err error
		if app.config.Server.TLS.Enabled {
			err = app.server.ListenAndServeTLS(
				app.config.Server.TLS.CertFile,
				app.config.Server.TLS.KeyFile,
			)
		} else {
			err = app.server.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	go app.startCleanupService(ctx)

	app.waitForShutdown(cancel)

	return nil
}
