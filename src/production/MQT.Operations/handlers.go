package operations

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	sensor_models "gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.Models/sensor"
	interfaces "gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.Repository/Interfaces"
)

// Request defaults
const (
	DefaultHours = 24
	DefaultLimit = 100

	// MaxHours keeps the look-back window inside time.Duration and int4
	MaxHours = 1000000
)

// accepted layouts for the time field; zone-less values are taken as UTC
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func (s *Service) health(ctx context.Context, req sensor_models.Request) (int, interface{}, error) {
	if err := s.repo.Ping(ctx); err != nil {
		s.logger.ErrorWithError(err, "Health check failed")
		return http.StatusInternalServerError, body{"status": "unhealthy", "error": err.Error()}, nil
	}
	return http.StatusOK, body{"status": "healthy", "database": "connected"}, nil
}

func (s *Service) getAll(ctx context.Context, req sensor_models.Request) (int, interface{}, error) {
	p, err := objectParams(req)
	if err != nil {
		return 0, nil, err
	}
	hours, err := hoursOf(p)
	if err != nil {
		return 0, nil, err
	}
	limit, err := limitOf(p)
	if err != nil {
		return 0, nil, err
	}

	readings, err := s.repo.QueryRange(ctx, interfaces.RangeQuery{SensorID: p.SensorID, Hours: hours, Limit: &limit})
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, body{"data": readings, "count": len(readings)}, nil
}

func (s *Service) getByID(ctx context.Context, req sensor_models.Request) (int, interface{}, error) {
	p, err := objectParams(req)
	if err != nil {
		return 0, nil, err
	}
	if p.SensorID == nil {
		return 0, nil, invalid("sensor_id is required")
	}
	hours, err := hoursOf(p)
	if err != nil {
		return 0, nil, err
	}

	readings, err := s.repo.QueryRange(ctx, interfaces.RangeQuery{SensorID: p.SensorID, Hours: hours})
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, body{"data": readings, "count": len(readings)}, nil
}

func (s *Service) create(ctx context.Context, req sensor_models.Request) (int, interface{}, error) {
	if !req.HasData() {
		return 0, nil, invalid("No data provided")
	}
	p, err := objectParams(req)
	if err != nil {
		return 0, nil, err
	}
	in, err := newReading(p)
	if err != nil {
		return 0, nil, err
	}

	reading, err := s.repo.Insert(ctx, in)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, body{"message": "Sensor data created successfully", "data": reading}, nil
}

// createBulk skips entries without a sensor_id; the rest go to the store as
// one unit.
func (s *Service) createBulk(ctx context.Context, req sensor_models.Request) (int, interface{}, error) {
	if req.Kind != sensor_models.PayloadList || !req.HasData() {
		return 0, nil, invalid("Expected a list of sensor data")
	}

	batch := make([]sensor_models.NewReading, 0, len(req.Entries))
	for i, entry := range req.Entries {
		if entry.SensorID == nil {
			continue
		}
		in, err := newReading(entry)
		if err != nil {
			return 0, nil, invalid("entry %d: %v", i, err)
		}
		batch = append(batch, in)
	}

	n, err := s.repo.InsertBatch(ctx, batch)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, body{"message": fmt.Sprintf("%d records inserted successfully", n)}, nil
}

func (s *Service) update(ctx context.Context, req sensor_models.Request) (int, interface{}, error) {
	if !req.HasData() {
		return 0, nil, invalid("No data provided")
	}
	p, err := objectParams(req)
	if err != nil {
		return 0, nil, err
	}
	key, err := readingKey(p, "time and sensor_id are required to identify the record")
	if err != nil {
		return 0, nil, err
	}

	reading, err := s.repo.Update(ctx, key, sensor_models.ReadingPatch{Temperature: p.Temperature, Humidity: p.Humidity})
	if err != nil {
		return 0, nil, err
	}
	if reading == nil {
		return 0, nil, ErrNotFound
	}
	return http.StatusOK, body{"message": "Sensor data updated successfully", "data": reading}, nil
}

func (s *Service) delete(ctx context.Context, req sensor_models.Request) (int, interface{}, error) {
	p, err := objectParams(req)
	if err != nil {
		return 0, nil, err
	}
	key, err := readingKey(p, "time and sensor_id are required")
	if err != nil {
		return 0, nil, err
	}

	n, err := s.repo.Delete(ctx, key)
	if err != nil {
		return 0, nil, err
	}
	if n == 0 {
		return 0, nil, ErrNotFound
	}
	return http.StatusOK, body{"message": "Sensor data deleted successfully", "deleted_count": n}, nil
}

func (s *Service) deleteByID(ctx context.Context, req sensor_models.Request) (int, interface{}, error) {
	p, err := objectParams(req)
	if err != nil {
		return 0, nil, err
	}
	if p.SensorID == nil {
		return 0, nil, invalid("sensor_id is required")
	}

	n, err := s.repo.DeleteBySensor(ctx, *p.SensorID)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, body{"message": fmt.Sprintf("Deleted %d records for sensor %d", n, *p.SensorID)}, nil
}

func (s *Service) stats(ctx context.Context, req sensor_models.Request) (int, interface{}, error) {
	p, err := objectParams(req)
	if err != nil {
		return 0, nil, err
	}
	hours, err := hoursOf(p)
	if err != nil {
		return 0, nil, err
	}

	stats, err := s.repo.Aggregate(ctx, p.SensorID, hours)
	if err != nil {
		return 0, nil, err
	}
	if stats == nil {
		stats = []sensor_models.SensorStats{}
	}
	return http.StatusOK, body{"data": stats}, nil
}

func (s *Service) timeBucket(ctx context.Context, req sensor_models.Request) (int, interface{}, error) {
	p, err := objectParams(req)
	if err != nil {
		return 0, nil, err
	}
	hours, err := hoursOf(p)
	if err != nil {
		return 0, nil, err
	}
	bucket := sensor_models.DefaultBucket
	if p.Bucket != nil {
		bucket = *p.Bucket
	}
	width, err := sensor_models.ParseBucketWidth(bucket)
	if err != nil {
		return 0, nil, invalid("%v", err)
	}

	buckets, err := s.repo.BucketedAggregate(ctx, p.SensorID, hours, width)
	if err != nil {
		return 0, nil, err
	}
	if buckets == nil {
		buckets = []sensor_models.TimeBucket{}
	}
	return http.StatusOK, body{"data": buckets, "bucket_size": width.String()}, nil
}

// body is the shape of every success payload
type body = map[string]interface{}

// objectParams rejects list payloads for operations that take one object
func objectParams(req sensor_models.Request) (sensor_models.Params, error) {
	if req.Kind == sensor_models.PayloadList {
		return sensor_models.Params{}, invalid("Expected a JSON object")
	}
	return req.Params, nil
}

func hoursOf(p sensor_models.Params) (int, error) {
	if p.Hours == nil {
		return DefaultHours, nil
	}
	if *p.Hours <= 0 {
		return 0, invalid("hours must be a positive integer")
	}
	if *p.Hours > MaxHours {
		return 0, invalid("hours must not exceed %d", MaxHours)
	}
	return *p.Hours, nil
}

func limitOf(p sensor_models.Params) (int, error) {
	if p.Limit == nil {
		return DefaultLimit, nil
	}
	if *p.Limit <= 0 {
		return 0, invalid("limit must be a positive integer")
	}
	return *p.Limit, nil
}

func newReading(p sensor_models.Params) (sensor_models.NewReading, error) {
	if p.SensorID == nil {
		return sensor_models.NewReading{}, invalid("sensor_id is required")
	}
	in := sensor_models.NewReading{SensorID: *p.SensorID, Temperature: p.Temperature, Humidity: p.Humidity}
	if p.Time != nil && strings.TrimSpace(*p.Time) != "" {
		ts, err := ParseTime(*p.Time)
		if err != nil {
			return sensor_models.NewReading{}, err
		}
		in.Time = &ts
	}
	return in, nil
}

func readingKey(p sensor_models.Params, missing string) (sensor_models.ReadingKey, error) {
	if p.Time == nil || strings.TrimSpace(*p.Time) == "" || p.SensorID == nil {
		return sensor_models.ReadingKey{}, invalid("%s", missing)
	}
	ts, err := ParseTime(*p.Time)
	if err != nil {
		return sensor_models.ReadingKey{}, err
	}
	return sensor_models.ReadingKey{Time: ts, SensorID: *p.SensorID}, nil
}

// ParseTime accepts ISO 8601 timestamps with or without a zone
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, invalid("invalid time %q: expected an ISO 8601 timestamp", s)
}
