package sensor_models

import "time"

// Reading is one row of the sensor_data hypertable.
// (Time, SensorID) is the identity of a reading.
type Reading struct {
	Time        time.Time `json:"time" db:"time"`
	SensorID    int       `json:"sensor_id" db:"sensor_id"`
	Temperature *float64  `json:"temperature" db:"temperature"`
	Humidity    *float64  `json:"humidity" db:"humidity"`
}

// Key returns the identity of the reading
func (r Reading) Key() ReadingKey {
	return ReadingKey{Time: r.Time, SensorID: r.SensorID}
}

// ReadingKey identifies a single reading
type ReadingKey struct {
	Time     time.Time
	SensorID int
}

// NewReading is the input of an insert. A nil Time means "now" on the store side.
type NewReading struct {
	Time        *time.Time
	SensorID    int
	Temperature *float64
	Humidity    *float64
}

// ReadingPatch carries the fields of an update; nil fields keep their stored value.
type ReadingPatch struct {
	Temperature *float64
	Humidity    *float64
}

// SensorStats is the per-sensor aggregate over a time window
type SensorStats struct {
	SensorID       int        `json:"sensor_id"`
	TotalReadings  int64      `json:"total_readings"`
	AvgTemperature *float64   `json:"avg_temperature"`
	MinTemperature *float64   `json:"min_temperature"`
	MaxTemperature *float64   `json:"max_temperature"`
	AvgHumidity    *float64   `json:"avg_humidity"`
	MinHumidity    *float64   `json:"min_humidity"`
	MaxHumidity    *float64   `json:"max_humidity"`
	FirstReading   *time.Time `json:"first_reading"`
	LastReading    *time.Time `json:"last_reading"`
}

// TimeBucket is one fixed-width interval of averaged readings for a sensor
type TimeBucket struct {
	Bucket         time.Time `json:"bucket"`
	SensorID       int       `json:"sensor_id"`
	AvgTemperature *float64  `json:"avg_temperature"`
	AvgHumidity    *float64  `json:"avg_humidity"`
	Readings       int64     `json:"readings"`
}
