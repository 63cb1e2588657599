package implementation

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	sensor_models "gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.Models/sensor"
	interfaces "gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.Repository/Interfaces"
)

var memoryNow = time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

func newMemoryRepo() *MemorySensorRepository {
	return NewMemorySensorRepository().WithClock(func() time.Time { return memoryNow })
}

func seed(t *testing.T, repo *MemorySensorRepository, readings ...sensor_models.NewReading) {
	t.Helper()
	for _, r := range readings {
		if _, err := repo.Insert(context.Background(), r); err != nil {
			t.Fatalf("seed Insert() error = %v", err)
		}
	}
}

func at(offset time.Duration) *time.Time {
	ts := memoryNow.Add(offset)
	return &ts
}

func TestMemoryInsertDefaultsTimeAndRejectsDuplicate(t *testing.T) {
	repo := newMemoryRepo()
	ctx := context.Background()

	reading, err := repo.Insert(ctx, sensor_models.NewReading{SensorID: 1, Temperature: floatPtr(20)})
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if !reading.Time.Equal(memoryNow) {
		t.Errorf("time = %v, want %v", reading.Time, memoryNow)
	}

	_, err = repo.Insert(ctx, sensor_models.NewReading{Time: &reading.Time, SensorID: 1, Temperature: floatPtr(99)})
	if !errors.Is(err, interfaces.ErrDuplicateReading) {
		t.Fatalf("duplicate Insert() error = %v, want ErrDuplicateReading", err)
	}

	got, _ := repo.QueryRange(ctx, interfaces.RangeQuery{SensorID: intPtr(1), Hours: 1})
	if len(got) != 1 || *got[0].Temperature != 20 {
		t.Errorf("stored readings = %+v, want the original only", got)
	}
}

func TestMemoryQueryRange(t *testing.T) {
	repo := newMemoryRepo()
	seed(t, repo,
		sensor_models.NewReading{Time: at(-time.Minute), SensorID: 1},
		sensor_models.NewReading{Time: at(-2 * time.Minute), SensorID: 2},
		sensor_models.NewReading{Time: at(-3 * time.Minute), SensorID: 1},
		sensor_models.NewReading{Time: at(-25 * time.Hour), SensorID: 1},
	)
	ctx := context.Background()

	all, _ := repo.QueryRange(ctx, interfaces.RangeQuery{Hours: 24})
	if len(all) != 3 {
		t.Fatalf("got %d readings, want 3", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Time.After(all[i-1].Time) {
			t.Errorf("readings not newest first: %v before %v", all[i-1].Time, all[i].Time)
		}
	}

	limited, _ := repo.QueryRange(ctx, interfaces.RangeQuery{Hours: 24, Limit: intPtr(2)})
	if len(limited) != 2 {
		t.Errorf("limit 2 returned %d readings", len(limited))
	}

	one, _ := repo.QueryRange(ctx, interfaces.RangeQuery{SensorID: intPtr(1), Hours: 48})
	if len(one) != 3 {
		t.Errorf("sensor 1 over 48h returned %d readings, want 3", len(one))
	}
}

func TestMemoryQueryRangeHugeWindow(t *testing.T) {
	repo := newMemoryRepo()
	seed(t, repo, sensor_models.NewReading{Time: at(-time.Minute), SensorID: 1})

	for _, hours := range []int{3000000, math.MaxInt32} {
		got, err := repo.QueryRange(context.Background(), interfaces.RangeQuery{Hours: hours})
		if err != nil {
			t.Fatalf("QueryRange(hours=%d) error = %v", hours, err)
		}
		if len(got) != 1 {
			t.Errorf("QueryRange(hours=%d) returned %d readings, want 1", hours, len(got))
		}
	}
}

func TestMemoryInsertBatchIsAllOrNothing(t *testing.T) {
	repo := newMemoryRepo()
	seed(t, repo, sensor_models.NewReading{Time: at(-time.Hour), SensorID: 5})

	_, err := repo.InsertBatch(context.Background(), []sensor_models.NewReading{
		{Time: at(-time.Minute), SensorID: 5},
		{Time: at(-time.Hour), SensorID: 5},
	})
	if !errors.Is(err, interfaces.ErrDuplicateReading) {
		t.Fatalf("InsertBatch() error = %v, want ErrDuplicateReading", err)
	}

	got, _ := repo.QueryRange(context.Background(), interfaces.RangeQuery{SensorID: intPtr(5), Hours: 24})
	if len(got) != 1 {
		t.Errorf("readings after failed batch = %d, want 1", len(got))
	}

	n, err := repo.InsertBatch(context.Background(), []sensor_models.NewReading{
		{Time: at(-time.Minute), SensorID: 5},
		{Time: at(-2 * time.Minute), SensorID: 5},
	})
	if err != nil || n != 2 {
		t.Fatalf("InsertBatch() = %d, %v", n, err)
	}
}

func TestMemoryUpdateCoalesces(t *testing.T) {
	repo := newMemoryRepo()
	seed(t, repo, sensor_models.NewReading{Time: at(-time.Minute), SensorID: 3, Temperature: floatPtr(20), Humidity: floatPtr(40)})
	key := sensor_models.ReadingKey{Time: *at(-time.Minute), SensorID: 3}

	updated, err := repo.Update(context.Background(), key, sensor_models.ReadingPatch{Humidity: floatPtr(45)})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if *updated.Temperature != 20 || *updated.Humidity != 45 {
		t.Errorf("updated = %+v", updated)
	}

	missing, err := repo.Update(context.Background(), sensor_models.ReadingKey{Time: memoryNow, SensorID: 3}, sensor_models.ReadingPatch{})
	if err != nil || missing != nil {
		t.Errorf("Update(missing) = %+v, %v; want nil, nil", missing, err)
	}
}

func TestMemoryDelete(t *testing.T) {
	repo := newMemoryRepo()
	seed(t, repo,
		sensor_models.NewReading{Time: at(-time.Minute), SensorID: 8},
		sensor_models.NewReading{Time: at(-2 * time.Minute), SensorID: 8},
		sensor_models.NewReading{Time: at(-time.Minute), SensorID: 9},
	)
	ctx := context.Background()

	n, _ := repo.Delete(ctx, sensor_models.ReadingKey{Time: *at(-time.Minute), SensorID: 8})
	if n != 1 {
		t.Errorf("Delete() = %d, want 1", n)
	}
	n, _ = repo.Delete(ctx, sensor_models.ReadingKey{Time: *at(-time.Minute), SensorID: 8})
	if n != 0 {
		t.Errorf("second Delete() = %d, want 0", n)
	}
	n, _ = repo.DeleteBySensor(ctx, 8)
	if n != 1 {
		t.Errorf("DeleteBySensor() = %d, want 1", n)
	}
	rest, _ := repo.QueryRange(ctx, interfaces.RangeQuery{Hours: 24})
	if len(rest) != 1 || rest[0].SensorID != 9 {
		t.Errorf("remaining = %+v", rest)
	}
}

func TestMemoryAggregate(t *testing.T) {
	repo := newMemoryRepo()
	seed(t, repo,
		sensor_models.NewReading{Time: at(-3 * time.Minute), SensorID: 2, Temperature: floatPtr(10)},
		sensor_models.NewReading{Time: at(-2 * time.Minute), SensorID: 2, Temperature: floatPtr(20), Humidity: floatPtr(50)},
		sensor_models.NewReading{Time: at(-time.Minute), SensorID: 1, Temperature: floatPtr(30)},
	)

	stats, err := repo.Aggregate(context.Background(), nil, 24)
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	if len(stats) != 2 || stats[0].SensorID != 1 || stats[1].SensorID != 2 {
		t.Fatalf("stats not ordered by sensor: %+v", stats)
	}
	s := stats[1]
	if s.TotalReadings != 2 || *s.AvgTemperature != 15 || *s.MinTemperature != 10 || *s.MaxTemperature != 20 {
		t.Errorf("temperature stats = %+v", s)
	}
	if *s.AvgHumidity != 50 || *s.MinHumidity != 50 {
		t.Errorf("humidity stats = %+v", s)
	}
	if !s.FirstReading.Equal(*at(-3*time.Minute)) || !s.LastReading.Equal(*at(-2*time.Minute)) {
		t.Errorf("first/last = %v/%v", s.FirstReading, s.LastReading)
	}

	if stats[0].AvgHumidity != nil {
		t.Errorf("sensor 1 avg humidity = %v, want nil", *stats[0].AvgHumidity)
	}
}

func TestMemoryBucketedAggregate(t *testing.T) {
	repo := newMemoryRepo()
	seed(t, repo,
		sensor_models.NewReading{Time: at(-5 * time.Minute), SensorID: 1, Temperature: floatPtr(10)},
		sensor_models.NewReading{Time: at(-10 * time.Minute), SensorID: 1, Temperature: floatPtr(20)},
		sensor_models.NewReading{Time: at(-45 * time.Minute), SensorID: 1, Temperature: floatPtr(40)},
	)
	width, _ := sensor_models.ParseBucketWidth("1 hour")

	buckets, err := repo.BucketedAggregate(context.Background(), intPtr(1), 24, width)
	if err != nil {
		t.Fatalf("BucketedAggregate() error = %v", err)
	}
	if len(buckets) != 2 {
		t.Fatalf("got %d buckets, want 2: %+v", len(buckets), buckets)
	}
	newest := buckets[0]
	if !newest.Bucket.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("newest bucket = %v", newest.Bucket)
	}
	if newest.Readings != 2 || *newest.AvgTemperature != 15 || newest.AvgHumidity != nil {
		t.Errorf("newest = %+v", newest)
	}
	if !buckets[1].Bucket.Before(newest.Bucket) {
		t.Errorf("buckets not newest first")
	}
}

func TestBucketStartWeekAlignsToMonday(t *testing.T) {
	// 2024-03-07 is a Thursday
	got := bucketStart(time.Date(2024, 3, 7, 15, 0, 0, 0, time.UTC), 7*24*time.Hour)
	if want := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("bucketStart() = %v, want %v", got, want)
	}
}
