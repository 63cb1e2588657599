package implementation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	config "gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.Config"
)

// OpenPostgres prepares the sensor store pool. It does not connect; every
// repository call acquires its own connection and reports an unreachable
// store as an error of that call.
func OpenPostgres(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.GetDatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("unable to open PostgreSQL connection: %w", err)
	}

	// Idle connections of 0 closes every connection when the call using it ends
	db.SetMaxOpenConns(cfg.Database.MaxConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// PingWithTimeout checks the store answers within timeout
func PingWithTimeout(db *sql.DB, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("unable to ping PostgreSQL: %w", err)
	}
	return nil
}

// DatabaseManager owns the bootstrap of the sensor_data hypertable
type DatabaseManager struct {
	db *sql.DB
}

func NewDatabaseManager(db *sql.DB) *DatabaseManager {
	return &DatabaseManager{db: db}
}

// CreateTables creates sensor_data and turns it into a hypertable when it is
// not one already. It does not migrate existing tables.
func (dm *DatabaseManager) CreateTables(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	createSensorTable := `
		CREATE TABLE IF NOT EXISTS sensor_data (
			time        TIMESTAMPTZ NOT NULL,
			sensor_id   INTEGER NOT NULL,
			temperature DOUBLE PRECISION,
			humidity    DOUBLE PRECISION
		);
	`

	createIndexes := `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_sensor_data_time_sensor ON sensor_data (time, sensor_id);
		CREATE INDEX IF NOT EXISTS idx_sensor_data_sensor_time_desc ON sensor_data (sensor_id, time DESC);
	`

	createHypertable := `SELECT create_hypertable('sensor_data', 'time', if_not_exists => TRUE);`

	queries := []string{
		createSensorTable,
		createIndexes,
		createHypertable,
	}

	for _, query := range queries {
		if _, err := dm.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}

	return nil
}

func (dm *DatabaseManager) Close() error {
	if dm.db != nil {
		return dm.db.Close()
	}
	return nil
}
