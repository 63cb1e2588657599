package interfaces

import (
	"context"
	"errors"

	sensor_models "gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.Models/sensor"
)

// ErrDuplicateReading is returned when an insert collides with an existing
// (time, sensor_id) pair.
var ErrDuplicateReading = errors.New("duplicate entry for this time and sensor_id")

// RangeQuery selects readings newer than now-Hours, newest first
type RangeQuery struct {
	SensorID *int
	Hours    int
	Limit    *int
}

// SensorRepository is the store adapter over the sensor_data table.
// Implementations acquire their own connection per call.
type SensorRepository interface {
	// Health
	Ping(ctx context.Context) error

	// Reads
	QueryRange(ctx context.Context, q RangeQuery) ([]sensor_models.Reading, error)

	// Writes
	Insert(ctx context.Context, in sensor_models.NewReading) (*sensor_models.Reading, error)
	InsertBatch(ctx context.Context, in []sensor_models.NewReading) (int, error)
	// Update returns nil, nil when no row matched the key
	Update(ctx context.Context, key sensor_models.ReadingKey, patch sensor_models.ReadingPatch) (*sensor_models.Reading, error)
	Delete(ctx context.Context, key sensor_models.ReadingKey) (int64, error)
	DeleteBySensor(ctx context.Context, sensorID int) (int64, error)

	// Aggregates
	Aggregate(ctx context.Context, sensorID *int, hours int) ([]sensor_models.SensorStats, error)
	BucketedAggregate(ctx context.Context, sensorID *int, hours int, width sensor_models.BucketWidth) ([]sensor_models.TimeBucket, error)
}
