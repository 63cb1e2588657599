package implementation

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	sensor_models "gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.Models/sensor"
	interfaces "gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.Repository/Interfaces"
)

// MemorySensorRepository keeps readings in process memory. It enforces the
// same identity rule as the sensor_data unique index.
type MemorySensorRepository struct {
	mu       sync.RWMutex
	readings map[sensor_models.ReadingKey]sensor_models.Reading
	now      func() time.Time
}

func NewMemorySensorRepository() *MemorySensorRepository {
	return &MemorySensorRepository{
		readings: make(map[sensor_models.ReadingKey]sensor_models.Reading),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source used for defaults and windows
func (r *MemorySensorRepository) WithClock(now func() time.Time) *MemorySensorRepository {
	r.now = now
	return r
}

func (r *MemorySensorRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (r *MemorySensorRepository) QueryRange(ctx context.Context, q interfaces.RangeQuery) ([]sensor_models.Reading, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]sensor_models.Reading, 0)
	for _, reading := range r.window(q.SensorID, q.Hours) {
		out = append(out, reading)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Time.Equal(out[j].Time) {
			return out[i].SensorID < out[j].SensorID
		}
		return out[i].Time.After(out[j].Time)
	})
	if q.Limit != nil && *q.Limit < len(out) {
		out = out[:*q.Limit]
	}
	return out, nil
}

func (r *MemorySensorRepository) Insert(ctx context.Context, in sensor_models.NewReading) (*sensor_models.Reading, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reading := r.materialize(in)
	if _, exists := r.readings[reading.Key()]; exists {
		return nil, duplicateOf(reading)
	}
	r.readings[reading.Key()] = reading
	return &reading, nil
}

// InsertBatch is all-or-nothing, like the COPY transaction of the PostgreSQL store
func (r *MemorySensorRepository) InsertBatch(ctx context.Context, in []sensor_models.NewReading) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	batch := make(map[sensor_models.ReadingKey]sensor_models.Reading, len(in))
	for _, item := range in {
		reading := r.materialize(item)
		if _, exists := r.readings[reading.Key()]; exists {
			return 0, duplicateOf(reading)
		}
		if _, exists := batch[reading.Key()]; exists {
			return 0, duplicateOf(reading)
		}
		batch[reading.Key()] = reading
	}
	for key, reading := range batch {
		r.readings[key] = reading
	}
	return len(batch), nil
}

func (r *MemorySensorRepository) Update(ctx context.Context, key sensor_models.ReadingKey, patch sensor_models.ReadingPatch) (*sensor_models.Reading, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key.Time = key.Time.UTC()
	reading, ok := r.readings[key]
	if !ok {
		return nil, nil
	}
	if patch.Temperature != nil {
		reading.Temperature = copyFloat(patch.Temperature)
	}
	if patch.Humidity != nil {
		reading.Humidity = copyFloat(patch.Humidity)
	}
	r.readings[key] = reading
	return &reading, nil
}

func (r *MemorySensorRepository) Delete(ctx context.Context, key sensor_models.ReadingKey) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key.Time = key.Time.UTC()
	if _, ok := r.readings[key]; !ok {
		return 0, nil
	}
	delete(r.readings, key)
	return 1, nil
}

func (r *MemorySensorRepository) DeleteBySensor(ctx context.Context, sensorID int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for key := range r.readings {
		if key.SensorID == sensorID {
			delete(r.readings, key)
			n++
		}
	}
	return n, nil
}

func (r *MemorySensorRepository) Aggregate(ctx context.Context, sensorID *int, hours int) ([]sensor_models.SensorStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	groups := make(map[int]*statsAccumulator)
	for _, reading := range r.window(sensorID, hours) {
		acc, ok := groups[reading.SensorID]
		if !ok {
			acc = &statsAccumulator{stats: sensor_models.SensorStats{SensorID: reading.SensorID}}
			groups[reading.SensorID] = acc
		}
		acc.add(reading)
	}

	out := make([]sensor_models.SensorStats, 0, len(groups))
	for _, acc := range groups {
		out = append(out, acc.result())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SensorID < out[j].SensorID })
	return out, nil
}

// BucketedAggregate aligns buckets on bucketOrigin, as time_bucket does by default
func (r *MemorySensorRepository) BucketedAggregate(ctx context.Context, sensorID *int, hours int, width sensor_models.BucketWidth) ([]sensor_models.TimeBucket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type bucketKey struct {
		start    time.Time
		sensorID int
	}
	type bucketAcc struct {
		temp, hum meanAccumulator
		count     int64
	}

	groups := make(map[bucketKey]*bucketAcc)
	for _, reading := range r.window(sensorID, hours) {
		key := bucketKey{start: bucketStart(reading.Time, width.Duration()), sensorID: reading.SensorID}
		acc, ok := groups[key]
		if !ok {
			acc = &bucketAcc{}
			groups[key] = acc
		}
		acc.temp.add(reading.Temperature)
		acc.hum.add(reading.Humidity)
		acc.count++
	}

	out := make([]sensor_models.TimeBucket, 0, len(groups))
	for key, acc := range groups {
		out = append(out, sensor_models.TimeBucket{
			Bucket:         key.start,
			SensorID:       key.sensorID,
			AvgTemperature: acc.temp.mean(),
			AvgHumidity:    acc.hum.mean(),
			Readings:       acc.count,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Bucket.Equal(out[j].Bucket) {
			return out[i].SensorID < out[j].SensorID
		}
		return out[i].Bucket.After(out[j].Bucket)
	})
	return out, nil
}

// hours beyond this overflow time.Duration; the window then covers everything
const maxWindowHours = math.MaxInt64 / int64(time.Hour)

// window returns readings strictly newer than now-hours. Callers hold the lock.
func (r *MemorySensorRepository) window(sensorID *int, hours int) []sensor_models.Reading {
	var cutoff time.Time
	if int64(hours) < maxWindowHours {
		cutoff = r.now().Add(-time.Duration(hours) * time.Hour)
	}
	var out []sensor_models.Reading
	for _, reading := range r.readings {
		if sensorID != nil && reading.SensorID != *sensorID {
			continue
		}
		if !reading.Time.After(cutoff) {
			continue
		}
		out = append(out, reading)
	}
	return out
}

func (r *MemorySensorRepository) materialize(in sensor_models.NewReading) sensor_models.Reading {
	at := r.now()
	if in.Time != nil {
		at = in.Time.UTC()
	}
	return sensor_models.Reading{
		Time:        at,
		SensorID:    in.SensorID,
		Temperature: copyFloat(in.Temperature),
		Humidity:    copyFloat(in.Humidity),
	}
}

// bucketOrigin is the Monday time_bucket counts fixed-width buckets from
var bucketOrigin = time.Date(2000, time.January, 3, 0, 0, 0, 0, time.UTC)

func bucketStart(t time.Time, width time.Duration) time.Time {
	offset := t.Sub(bucketOrigin) % width
	if offset < 0 {
		offset += width
	}
	return t.Add(-offset).UTC()
}

func duplicateOf(reading sensor_models.Reading) error {
	return fmt.Errorf("%w: Key (time, sensor_id)=(%s, %d) already exists",
		interfaces.ErrDuplicateReading, reading.Time.Format(time.RFC3339Nano), reading.SensorID)
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	f := *v
	return &f
}

// meanAccumulator ignores nil values, like AVG over a nullable column
type meanAccumulator struct {
	sum float64
	n   int
}

func (m *meanAccumulator) add(v *float64) {
	if v == nil {
		return
	}
	m.sum += *v
	m.n++
}

func (m *meanAccumulator) mean() *float64 {
	if m.n == 0 {
		return nil
	}
	avg := m.sum / float64(m.n)
	return &avg
}

type statsAccumulator struct {
	stats     sensor_models.SensorStats
	temp, hum meanAccumulator
}

func (a *statsAccumulator) add(reading sensor_models.Reading) {
	s := &a.stats
	s.TotalReadings++

	a.temp.add(reading.Temperature)
	s.MinTemperature = minOf(s.MinTemperature, reading.Temperature)
	s.MaxTemperature = maxOf(s.MaxTemperature, reading.Temperature)

	a.hum.add(reading.Humidity)
	s.MinHumidity = minOf(s.MinHumidity, reading.Humidity)
	s.MaxHumidity = maxOf(s.MaxHumidity, reading.Humidity)

	at := reading.Time
	if s.FirstReading == nil || at.Before(*s.FirstReading) {
		s.FirstReading = &at
	}
	if s.LastReading == nil || at.After(*s.LastReading) {
		last := at
		s.LastReading = &last
	}
}

func (a *statsAccumulator) result() sensor_models.SensorStats {
	s := a.stats
	s.AvgTemperature = a.temp.mean()
	s.AvgHumidity = a.hum.mean()
	return s
}

func minOf(cur, v *float64) *float64 {
	if v == nil {
		return cur
	}
	if cur == nil || *v < *cur {
		return copyFloat(v)
	}
	return cur
}

func maxOf(cur, v *float64) *float64 {
	if v == nil {
		return cur
	}
	if cur == nil || *v > *cur {
		return copyFloat(v)
	}
	return cur
}
