// Package app provides dependency injection container for assembling application components.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"

	adminHTTP "github.com/hivedb/hivedb/internal/admin/http"
	authHTTP "github.com/hivedb/hivedb/internal/auth/http"
	authService "github.com/hivedb/hivedb/internal/auth/service"
	"github.com/hivedb/hivedb/internal/cache"
	"github.com/hivedb/hivedb/internal/catalog/repository"
	catalogUseCase "github.com/hivedb/hivedb/internal/catalog/usecase"
	cellsHTTP "github.com/hivedb/hivedb/internal/cells/http"
	cellsUseCase "github.com/hivedb/hivedb/internal/cells/usecase"
	"github.com/hivedb/hivedb/internal/cellstore"
	"github.com/hivedb/hivedb/internal/config"
	"github.com/hivedb/hivedb/internal/database"
	enclaveService "github.com/hivedb/hivedb/internal/enclave/service"
	"github.com/hivedb/hivedb/internal/eventbus"
	"github.com/hivedb/hivedb/internal/http"
	"github.com/hivedb/hivedb/internal/metrics"
	secureHTTP "github.com/hivedb/hivedb/internal/secure/http"
)

// Container holds all application dependencies and provides methods to access them.
// It follows the lazy initialization pattern - components are created on first access.
type Container struct {
	// Configuration
	config *config.Config

	// Infrastructure
	logger          *slog.Logger
	db              *sql.DB
	cellStore       *cellstore.Store
	enclave         *enclaveService.Enclave
	liquid          *cache.Liquid
	bus             eventbus.Bus
	publisher       *eventbus.Publisher
	metricsProvider *metrics.Provider

	// Managers
	txManager database.TxManager

	// Repositories
	userRepo catalogUseCase.UserRepository
	cellRepo catalogUseCase.CellRepository

	// Services and Use Cases
	tokenService authService.TokenService
	userUseCase  catalogUseCase.UserUseCaseInterface
	cellUseCase  catalogUseCase.CellUseCaseInterface
	dataUseCase  *cellsUseCase.DataUseCase

	// Servers
	httpServer    *http.Server
	metricsServer *http.MetricsServer

	// Initialization flags and mutex for thread-safety
	mu                  sync.Mutex
	loggerInit          sync.Once
	dbInit              sync.Once
	cellStoreInit       sync.Once
	enclaveInit         sync.Once
	cacheInit           sync.Once
	eventBusInit        sync.Once
	publisherInit       sync.Once
	metricsProviderInit sync.Once
	txManagerInit       sync.Once
	userRepoInit        sync.Once
	cellRepoInit        sync.Once
	tokenServiceInit    sync.Once
	userUseCaseInit     sync.Once
	cellUseCaseInit     sync.Once
	dataUseCaseInit     sync.Once
	httpServerInit      sync.Once
	metricsServerInit   sync.Once
	initErrors          map[string]error
}

// NewContainer creates a new dependency injection container with the provided configuration.
func NewContainer(cfg *config.Config) *Container {
	return &Container{
		config:     cfg,
		initErrors: make(map[string]error),
	}
}

// Config returns the application configuration.
func (c *Container) Config() *config.Config {
	return c.config
}

// Logger returns the configured logger instance.
// It creates a new logger on first access based on the log level in configuration.
func (c *Container) Logger() *slog.Logger {
	c.loggerInit.Do(func() {
		c.logger = c.initLogger()
	})
	return c.logger
}

// DB returns the catalog database connection.
func (c *Container) DB() (*sql.DB, error) {
	c.dbInit.Do(func() {
		var err error
		c.db, err = c.initDB()
		if err != nil {
			c.initErrors["db"] = err
		}
	})
	if storedErr, exists := c.initErrors["db"]; exists {
		return nil, storedErr
	}
	return c.db, nil
}

// TxManager returns the transaction manager.
func (c *Container) TxManager() (database.TxManager, error) {
	c.txManagerInit.Do(func() {
		var err error
		c.txManager, err = c.initTxManager()
		if err != nil {
			c.initErrors["txManager"] = err
		}
	})
	if storedErr, exists := c.initErrors["txManager"]; exists {
		return nil, storedErr
	}
	return c.txManager, nil
}

// UserRepository returns the user repository instance.
func (c *Container) UserRepository() (catalogUseCase.UserRepository, error) {
	c.userRepoInit.Do(func() {
		var err error
		c.userRepo, err = c.initUserRepository()
		if err != nil {
			c.initErrors["userRepo"] = err
		}
	})
	if storedErr, exists := c.initErrors["userRepo"]; exists {
		return nil, storedErr
	}
	return c.userRepo, nil
}

// CellRepository returns the cell repository instance.
func (c *Container) CellRepository() (catalogUseCase.CellRepository, error) {
	c.cellRepoInit.Do(func() {
		var err error
		c.cellRepo, err = c.initCellRepository()
		if err != nil {
			c.initErrors["cellRepo"] = err
		}
	})
	if storedErr, exists := c.initErrors["cellRepo"]; exists {
		return nil, storedErr
	}
	return c.cellRepo, nil
}

// CellStore returns the per-cell storage engine.
func (c *Container) CellStore() (*cellstore.Store, error) {
	c.cellStoreInit.Do(func() {
		var err error
		c.cellStore, err = cellstore.NewStore(c.config.CellsDir, c.Logger())
		if err != nil {
			c.initErrors["cellStore"] = err
		}
	})
	if storedErr, exists := c.initErrors["cellStore"]; exists {
		return nil, storedErr
	}
	return c.cellStore, nil
}

// Enclave returns the crypto enclave, or nil when crypto is disabled.
func (c *Container) Enclave() (*enclaveService.Enclave, error) {
	c.enclaveInit.Do(func() {
		if !c.config.CryptoEnabled {
			return
		}
		var err error
		keyStore := enclaveService.NewMasterKeyStore(c.config.MasterKeyPath)
		c.enclave, err = enclaveService.NewEnclave(keyStore, c.config.KeyRotationInterval, c.Logger())
		if err != nil {
			c.initErrors["enclave"] = err
		}
	})
	if storedErr, exists := c.initErrors["enclave"]; exists {
		return nil, storedErr
	}
	return c.enclave, nil
}

// Cache returns the liquid cache instance.
func (c *Container) Cache() *cache.Liquid {
	c.cacheInit.Do(func() {
		c.liquid = cache.NewLiquid(cache.Config{
			Enabled:      c.config.CacheEnabled,
			MaxSize:      c.config.CacheSize,
			DefaultTTL:   c.config.CacheTTL,
			Layers:       c.config.CacheLayers,
			PatternsPath: c.config.CachePatternsPath,
		}, c.Logger())
	})
	return c.liquid
}

// EventBus returns the started event bus.
func (c *Container) EventBus() (eventbus.Bus, error) {
	c.eventBusInit.Do(func() {
		var err error
		c.bus, err = c.initEventBus()
		if err != nil {
			c.initErrors["eventBus"] = err
		}
	})
	if storedErr, exists := c.initErrors["eventBus"]; exists {
		return nil, storedErr
	}
	return c.bus, nil
}

// Publisher returns the event publisher.
func (c *Container) Publisher() (*eventbus.Publisher, error) {
	c.publisherInit.Do(func() {
		bus, err := c.EventBus()
		if err != nil {
			c.initErrors["publisher"] = fmt.Errorf("failed to get event bus for publisher: %w", err)
			return
		}
		c.publisher = eventbus.NewPublisher(bus, c.Logger())
	})
	if storedErr, exists := c.initErrors["publisher"]; exists {
		return nil, storedErr
	}
	return c.publisher, nil
}

// MetricsProvider returns the metrics provider, or nil when metrics are disabled.
func (c *Container) MetricsProvider() (*metrics.Provider, error) {
	c.metricsProviderInit.Do(func() {
		if !c.config.MetricsEnabled {
			return
		}
		var err error
		c.metricsProvider, err = metrics.NewProvider(c.config.MetricsNamespace)
		if err != nil {
			c.initErrors["metricsProvider"] = err
		}
	})
	if storedErr, exists := c.initErrors["metricsProvider"]; exists {
		return nil, storedErr
	}
	return c.metricsProvider, nil
}

// TokenService returns the access token service.
func (c *Container) TokenService() (authService.TokenService, error) {
	c.tokenServiceInit.Do(func() {
		var err error
		c.tokenService, err = authService.NewTokenService(c.config.TokenSigningKey, c.config.TokenTTL)
		if err != nil {
			c.initErrors["tokenService"] = err
		}
	})
	if storedErr, exists := c.initErrors["tokenService"]; exists {
		return nil, storedErr
	}
	return c.tokenService, nil
}

// UserUseCase returns the user use case instance.
func (c *Container) UserUseCase() (catalogUseCase.UserUseCaseInterface, error) {
	c.userUseCaseInit.Do(func() {
		var err error
		c.userUseCase, err = c.initUserUseCase()
		if err != nil {
			c.initErrors["userUseCase"] = err
		}
	})
	if storedErr, exists := c.initErrors["userUseCase"]; exists {
		return nil, storedErr
	}
	return c.userUseCase, nil
}

// CellUseCase returns the cell use case instance.
func (c *Container) CellUseCase() (catalogUseCase.CellUseCaseInterface, error) {
	c.cellUseCaseInit.Do(func() {
		var err error
		c.cellUseCase, err = c.initCellUseCase()
		if err != nil {
			c.initErrors["cellUseCase"] = err
		}
	})
	if storedErr, exists := c.initErrors["cellUseCase"]; exists {
		return nil, storedErr
	}
	return c.cellUseCase, nil
}

// DataUseCase returns the cell data use case instance.
func (c *Container) DataUseCase() (*cellsUseCase.DataUseCase, error) {
	c.dataUseCaseInit.Do(func() {
		var err error
		c.dataUseCase, err = c.initDataUseCase()
		if err != nil {
			c.initErrors["dataUseCase"] = err
		}
	})
	if storedErr, exists := c.initErrors["dataUseCase"]; exists {
		return nil, storedErr
	}
	return c.dataUseCase, nil
}

// HTTPServer returns the HTTP server instance.
func (c *Container) HTTPServer() (*http.Server, error) {
	c.httpServerInit.Do(func() {
		var err error
		c.httpServer, err = c.initHTTPServer()
		if err != nil {
			c.initErrors["httpServer"] = err
		}
	})
	if storedErr, exists := c.initErrors["httpServer"]; exists {
		return nil, storedErr
	}
	return c.httpServer, nil
}

// MetricsServer returns the metrics server, or nil when metrics are disabled.
func (c *Container) MetricsServer() (*http.MetricsServer, error) {
	c.metricsServerInit.Do(func() {
		provider, err := c.MetricsProvider()
		if err != nil {
			c.initErrors["metricsServer"] = fmt.Errorf("failed to get metrics provider for metrics server: %w", err)
			return
		}
		if provider == nil {
			return
		}
		c.metricsServer = http.NewMetricsServer(
			c.config.ServerHost, c.config.MetricsPort, provider, c.Logger())
	})
	if storedErr, exists := c.initErrors["metricsServer"]; exists {
		return nil, storedErr
	}
	return c.metricsServer, nil
}

// Shutdown performs cleanup of all initialized resources.
// It should be called when the application is shutting down.
func (c *Container) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var shutdownErrors []error

	if c.httpServer != nil {
		if err := c.httpServer.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("http server shutdown: %w", err))
		}
	}

	if c.metricsServer != nil {
		if err := c.metricsServer.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}

	if c.bus != nil {
		if err := c.bus.Stop(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("event bus stop: %w", err))
		}
	}

	if c.liquid != nil {
		if err := c.liquid.SavePatterns(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("cache pattern save: %w", err))
		}
	}

	if c.cellStore != nil {
		if err := c.cellStore.Close(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("cell store close: %w", err))
		}
	}

	if c.metricsProvider != nil {
		if err := c.metricsProvider.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics provider shutdown: %w", err))
		}
	}

	if c.db != nil {
		if err := c.db.Close(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("database close: %w", err))
		}
	}

	if len(shutdownErrors) > 0 {
		return fmt.Errorf("shutdown errors: %v", shutdownErrors)
	}

	return nil
}

// initLogger creates and configures a structured logger based on the log level.
func (c *Container) initLogger() *slog.Logger {
	var logLevel slog.Level
	switch c.config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})

	return slog.New(handler)
}

// initDB creates and configures the catalog database connection.
func (c *Container) initDB() (*sql.DB, error) {
	db, err := database.Connect(database.Config{
		Driver:             c.config.DBDriver,
		ConnectionString:   c.config.DBConnectionString,
		MaxOpenConnections: c.config.DBMaxOpenConnections,
		MaxIdleConnections: c.config.DBMaxIdleConnections,
		ConnMaxLifetime:    c.config.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// initTxManager creates the transaction manager using the database connection.
func (c *Container) initTxManager() (database.TxManager, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for tx manager: %w", err)
	}
	return database.NewTxManager(db), nil
}

// initUserRepository creates the user repository instance.
func (c *Container) initUserRepository() (catalogUseCase.UserRepository, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for user repository: %w", err)
	}

	// Select the appropriate repository based on the database driver
	switch c.config.DBDriver {
	case "postgres":
		return repository.NewPostgreSQLUserRepository(db), nil
	case "sqlite", "mysql":
		return repository.NewSQLiteUserRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

// initCellRepository creates the cell repository instance.
func (c *Container) initCellRepository() (catalogUseCase.CellRepository, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for cell repository: %w", err)
	}

	switch c.config.DBDriver {
	case "postgres":
		return repository.NewPostgreSQLCellRepository(db), nil
	case "sqlite", "mysql":
		return repository.NewSQLiteCellRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

// initEventBus creates and starts the event bus. An empty bootstrap address
// selects the in-process bus.
func (c *Container) initEventBus() (eventbus.Bus, error) {
	var bus eventbus.Bus
	if c.config.EventBusBootstrap != "" {
		bus = eventbus.NewRedisBus(c.config.EventBusBootstrap, c.Logger())
	} else {
		bus = eventbus.NewMemoryBus(c.Logger())
	}

	if err := bus.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to start event bus: %w", err)
	}
	return bus, nil
}

// initUserUseCase creates the user use case with all its dependencies.
func (c *Container) initUserUseCase() (catalogUseCase.UserUseCaseInterface, error) {
	userRepo, err := c.UserRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get user repository for user use case: %w", err)
	}

	publisher, err := c.Publisher()
	if err != nil {
		return nil, fmt.Errorf("failed to get publisher for user use case: %w", err)
	}

	useCase, err := catalogUseCase.NewUserUseCase(
		userRepo, publisher, c.config.LockoutMaxAttempts, c.config.LockoutDuration)
	if err != nil {
		return nil, fmt.Errorf("failed to create user use case: %w", err)
	}

	return useCase, nil
}

// initCellUseCase creates the cell use case with all its dependencies.
func (c *Container) initCellUseCase() (catalogUseCase.CellUseCaseInterface, error) {
	txManager, err := c.TxManager()
	if err != nil {
		return nil, fmt.Errorf("failed to get tx manager for cell use case: %w", err)
	}

	cellRepo, err := c.CellRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get cell repository for cell use case: %w", err)
	}

	store, err := c.CellStore()
	if err != nil {
		return nil, fmt.Errorf("failed to get cell store for cell use case: %w", err)
	}

	publisher, err := c.Publisher()
	if err != nil {
		return nil, fmt.Errorf("failed to get publisher for cell use case: %w", err)
	}

	useCase, err := catalogUseCase.NewCellUseCase(txManager, cellRepo, store, publisher)
	if err != nil {
		return nil, fmt.Errorf("failed to create cell use case: %w", err)
	}

	return useCase, nil
}

// initDataUseCase creates the cell data use case with all its dependencies.
func (c *Container) initDataUseCase() (*cellsUseCase.DataUseCase, error) {
	store, err := c.CellStore()
	if err != nil {
		return nil, fmt.Errorf("failed to get cell store for data use case: %w", err)
	}

	enclave, err := c.Enclave()
	if err != nil {
		return nil, fmt.Errorf("failed to get enclave for data use case: %w", err)
	}

	publisher, err := c.Publisher()
	if err != nil {
		return nil, fmt.Errorf("failed to get publisher for data use case: %w", err)
	}

	var businessMetrics metrics.BusinessMetrics
	provider, err := c.MetricsProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics provider for data use case: %w", err)
	}
	if provider != nil {
		businessMetrics, err = metrics.NewBusinessMetrics(provider.MeterProvider(), c.config.MetricsNamespace)
		if err != nil {
			return nil, fmt.Errorf("failed to create business metrics for data use case: %w", err)
		}
	}

	return cellsUseCase.NewDataUseCase(store, enclave, c.Cache(), publisher, businessMetrics, c.Logger()), nil
}

// initHTTPServer creates the HTTP server with all its dependencies.
func (c *Container) initHTTPServer() (*http.Server, error) {
	logger := c.Logger()

	userUseCase, err := c.UserUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get user use case for http server: %w", err)
	}

	cellUseCase, err := c.CellUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get cell use case for http server: %w", err)
	}

	dataUseCase, err := c.DataUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get data use case for http server: %w", err)
	}

	store, err := c.CellStore()
	if err != nil {
		return nil, fmt.Errorf("failed to get cell store for http server: %w", err)
	}

	enclave, err := c.Enclave()
	if err != nil {
		return nil, fmt.Errorf("failed to get enclave for http server: %w", err)
	}

	publisher, err := c.Publisher()
	if err != nil {
		return nil, fmt.Errorf("failed to get publisher for http server: %w", err)
	}

	tokenService, err := c.TokenService()
	if err != nil {
		return nil, fmt.Errorf("failed to get token service for http server: %w", err)
	}

	metricsProvider, err := c.MetricsProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics provider for http server: %w", err)
	}

	handlers := &http.Handlers{
		Auth:   authHTTP.NewAuthHandler(userUseCase, tokenService, logger),
		Cell:   cellsHTTP.NewCellHandler(cellUseCase, logger),
		Data:   cellsHTTP.NewDataHandler(cellUseCase, dataUseCase, logger),
		Query:  cellsHTTP.NewQueryHandler(cellUseCase, dataUseCase, logger),
		Secure: secureHTTP.NewSecureHandler(enclave, logger),
		Admin: adminHTTP.NewAdminHandler(
			userUseCase, cellUseCase, store, c.Cache(), publisher, c.config.CryptoEnabled, logger),
	}

	return http.NewServer(c.config, handlers, tokenService, userUseCase, metricsProvider, logger), nil
}
