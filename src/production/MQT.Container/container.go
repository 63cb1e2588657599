package container

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	archive "gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.Archive"
	config "gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.Config"
	logger "gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.Logger"
	metrics "gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.Metrics"
	operations "gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.Operations"
	implementation "gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.Repository/Implementation"
	interfaces "gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.Repository/Interfaces"
)

const (
	databaseConnectTimeout = 5 * time.Second
	archiveConnectTimeout  = 10 * time.Second
)

// Container manages dependencies and their lifecycle
type Container struct {
	config *config.Config
	logger *logger.Logger

	db              *sql.DB
	databaseManager *implementation.DatabaseManager
	repository      interfaces.SensorRepository
	metrics         *metrics.Metrics
	archiver        archive.Archiver
	service         *operations.Service

	// Mutex for thread-safe access
	mu sync.Mutex

	// Cleanup functions, run in reverse order on Shutdown
	cleanupFuncs []func(ctx context.Context) error
}

// NewContainer loads configuration from the environment and builds the
// container around it.
func NewContainer(service string) (*Container, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.NewLogger(&cfg.Logging).WithService(service)
	return NewContainerWithConfig(cfg, log), nil
}

// NewContainerWithConfig builds a container from an already loaded config
func NewContainerWithConfig(cfg *config.Config, log *logger.Logger) *Container {
	if log == nil {
		log = logger.Nop()
	}
	return &Container{
		config:  cfg,
		logger:  log,
		metrics: metrics.New(),
	}
}

// GetConfig returns the configuration
func (c *Container) GetConfig() *config.Config {
	return c.config
}

// GetLogger returns the logger
func (c *Container) GetLogger() *logger.Logger {
	return c.logger
}

// GetMetrics returns the process-wide collectors
func (c *Container) GetMetrics() *metrics.Metrics {
	return c.metrics
}

// database opens the store pool on first use. An unreachable store is
// logged, not fatal: each operation reports it on its own.
func (c *Container) database() (*sql.DB, error) {
	if c.db == nil {
		db, err := implementation.OpenPostgres(c.config)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := implementation.PingWithTimeout(db, databaseConnectTimeout); err != nil {
			c.logger.Logger.Warn().Err(err).
				Str("host", c.config.Database.Host).
				Int("port", c.config.Database.Port).
				Msg("Database unreachable at startup; operations will report it until it recovers")
		}
		c.db = db
		c.cleanupFuncs = append(c.cleanupFuncs, func(context.Context) error {
			return db.Close()
		})
	}
	return c.db, nil
}

// GetDatabaseManager returns the schema bootstrapper
func (c *Container) GetDatabaseManager() (*implementation.DatabaseManager, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.databaseManager == nil {
		db, err := c.database()
		if err != nil {
			return nil, fmt.Errorf("failed to get database for database manager: %w", err)
		}
		c.databaseManager = implementation.NewDatabaseManager(db)
	}
	return c.databaseManager, nil
}

// InitializeDatabase creates the sensor_data hypertable when DB_AUTO_CREATE
// is set. It does nothing for the memory backend.
func (c *Container) InitializeDatabase(ctx context.Context) error {
	if c.config.Database.Backend != config.StoreBackendPostgres || !c.config.Database.AutoCreate {
		return nil
	}

	dbManager, err := c.GetDatabaseManager()
	if err != nil {
		return fmt.Errorf("failed to get database manager: %w", err)
	}

	if err := dbManager.CreateTables(ctx); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	c.logger.Info("Database initialized successfully")
	return nil
}

// GetRepository returns the sensor store selected by STORE_BACKEND
func (c *Container) GetRepository() (interfaces.SensorRepository, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.repository != nil {
		return c.repository, nil
	}

	switch c.config.Database.Backend {
	case config.StoreBackendMemory:
		c.logger.Warn("Using in-memory sensor store; data is lost on exit")
		c.repository = implementation.NewMemorySensorRepository()
	default:
		db, err := c.database()
		if err != nil {
			return nil, err
		}
		c.repository = implementation.NewPostgresSensorRepository(db)
	}
	return c.repository, nil
}

// GetArchiver returns the MongoDB request archive, or a no-op archiver when
// MONGODB_URI is not set.
func (c *Container) GetArchiver() (archive.Archiver, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.archiver != nil {
		return c.archiver, nil
	}

	if !c.config.Archive.Enabled() {
		c.archiver = archive.Nop{}
		return c.archiver, nil
	}

	a, err := archive.ConnectMongoWithTimeout(c.config.Archive, archiveConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to request archive: %w", err)
	}
	c.archiver = a
	c.cleanupFuncs = append(c.cleanupFuncs, a.Close)

	c.logger.Logger.Info().
		Str("database", c.config.Archive.Database).
		Str("collection", c.config.Archive.Collection).
		Msg("Archiving bridge requests to MongoDB")
	return c.archiver, nil
}

// GetService returns the sensor data service over the configured store
func (c *Container) GetService() (*operations.Service, error) {
	repo, err := c.GetRepository()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.service == nil {
		c.service = operations.NewService(repo, c.logger, operations.WithObserver(c.metrics))
	}
	return c.service, nil
}

// AddCleanupFunc adds a cleanup function
func (c *Container) AddCleanupFunc(fn func(ctx context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}

// Shutdown gracefully shuts down the container and all its dependencies
func (c *Container) Shutdown(ctx context.Context) error {
	c.logger.Info("Shutting down container...")

	c.mu.Lock()
	funcs := c.cleanupFuncs
	c.cleanupFuncs = nil
	c.mu.Unlock()

	var firstErr error
	for i := len(funcs) - 1; i >= 0; i-- {
		if err := funcs[i](ctx); err != nil {
			c.logger.ErrorWithError(err, "Error during cleanup")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	c.logger.Info("Container shutdown complete")
	return firstErr
}
