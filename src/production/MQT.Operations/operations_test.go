package operations

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	sensor_models "gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.Models/sensor"
	implementation "gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.Repository/Implementation"
	interfaces "gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.Repository/Interfaces"
)

func newTestService() (*Service, *implementation.MemorySensorRepository) {
	repo := implementation.NewMemorySensorRepository()
	return NewService(repo, nil), repo
}

// roundTrip encodes the envelope the way the transports do and decodes it back
// into plain JSON values.
func roundTrip(t *testing.T, resp sensor_models.Response) map[string]interface{} {
	t.Helper()
	raw, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	data, _ := out["data"].(map[string]interface{})
	return data
}

func dispatch(t *testing.T, svc *Service, op Operation, payload string) (int, map[string]interface{}) {
	t.Helper()
	resp := svc.Dispatch(context.Background(), op, []byte(payload))
	return resp.StatusCode, roundTrip(t, resp)
}

func TestRegistryCoversAllOperations(t *testing.T) {
	svc, _ := newTestService()
	for _, op := range All {
		if _, ok := svc.Lookup(op); !ok {
			t.Errorf("no handler for %s", op)
		}
	}
	if len(All) != 10 {
		t.Errorf("len(All) = %d, want 10", len(All))
	}
}

func TestCreateThenGetByID(t *testing.T) {
	svc, _ := newTestService()
	before := time.Now().UTC().Add(-time.Second)

	status, data := dispatch(t, svc, Create, `{"sensor_id": 1, "temperature": 25.5, "humidity": 45.0}`)
	if status != http.StatusCreated {
		t.Fatalf("create status = %d, data = %v", status, data)
	}
	if data["message"] != "Sensor data created successfully" {
		t.Errorf("message = %v", data["message"])
	}

	status, data = dispatch(t, svc, GetByID, `{"sensor_id": 1}`)
	if status != http.StatusOK {
		t.Fatalf("get_by_id status = %d, data = %v", status, data)
	}
	if data["count"] != float64(1) {
		t.Fatalf("count = %v, want 1", data["count"])
	}
	row := data["data"].([]interface{})[0].(map[string]interface{})
	if row["temperature"] != 25.5 || row["humidity"] != 45.0 {
		t.Errorf("row = %v", row)
	}
	ts, err := time.Parse(time.RFC3339Nano, row["time"].(string))
	if err != nil {
		t.Fatalf("time %v: %v", row["time"], err)
	}
	if ts.Before(before) {
		t.Errorf("time %v is earlier than the call", ts)
	}
}

func TestCreateDuplicateIsConflictAndKeepsOriginal(t *testing.T) {
	svc, _ := newTestService()
	payload := `{"time": "2099-01-01T00:00:00Z", "sensor_id": 3, "temperature": 10}`

	if status, _ := dispatch(t, svc, Create, payload); status != http.StatusCreated {
		t.Fatalf("first create status = %d", status)
	}
	status, data := dispatch(t, svc, Create, `{"time": "2099-01-01T00:00:00Z", "sensor_id": 3, "temperature": 99}`)
	if status != http.StatusConflict {
		t.Fatalf("duplicate status = %d, want 409", status)
	}
	if data["error"] != "Duplicate entry for this time and sensor_id" {
		t.Errorf("error = %v", data["error"])
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService()

	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"empty payload", "", "No data provided"},
		{"empty object", "{}", "No data provided"},
		{"missing sensor_id", `{"temperature": 20}`, "sensor_id is required"},
		{"list payload", `[{"sensor_id": 1}]`, "Expected a JSON object"},
		{"bad time", `{"sensor_id": 1, "time": "yesterday"}`, "invalid time"},
		{"not json", `sensor 1`, "No data provided"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, data := dispatch(t, svc, Create, tt.payload)
			if status != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", status)
			}
			if msg, _ := data["error"].(string); !strings.Contains(msg, tt.want) {
				t.Errorf("error = %q, want it to contain %q", msg, tt.want)
			}
		})
	}
}

func TestCreateBulkSkipsEntriesWithoutSensorID(t *testing.T) {
	svc, repo := newTestService()

	status, data := dispatch(t, svc, CreateBulk, `[
		{"sensor_id": 1, "temperature": 20},
		{"temperature": 21},
		{"sensor_id": 2, "humidity": 50}
	]`)
	if status != http.StatusCreated {
		t.Fatalf("status = %d, data = %v", status, data)
	}
	if data["message"] != "2 records inserted successfully" {
		t.Errorf("message = %v", data["message"])
	}

	stored, _ := repo.QueryRange(context.Background(), interfaces.RangeQuery{Hours: 1})
	if len(stored) != 2 {
		t.Errorf("stored %d readings, want 2", len(stored))
	}
}

func TestCreateBulkRejectsNonList(t *testing.T) {
	svc, _ := newTestService()
	for _, payload := range []string{"", "[]", `{"sensor_id": 1}`} {
		status, data := dispatch(t, svc, CreateBulk, payload)
		if status != http.StatusBadRequest || data["error"] != "Expected a list of sensor data" {
			t.Errorf("payload %q: status = %d, data = %v", payload, status, data)
		}
	}
}

func TestCreateBulkDuplicateInsertsNothing(t *testing.T) {
	svc, repo := newTestService()

	status, _ := dispatch(t, svc, CreateBulk, `[
		{"time": "2099-01-01T00:00:00Z", "sensor_id": 1},
		{"time": "2099-01-01T00:00:00Z", "sensor_id": 1}
	]`)
	if status != http.StatusConflict {
		t.Fatalf("status = %d, want 409", status)
	}
	stored, _ := repo.QueryRange(context.Background(), interfaces.RangeQuery{Hours: 1 << 20})
	if len(stored) != 0 {
		t.Errorf("stored %d readings, want 0", len(stored))
	}
}

func TestUpdateCoalescesOmittedFields(t *testing.T) {
	svc, _ := newTestService()
	ts := time.Now().UTC().Add(-time.Minute).Format(time.RFC3339Nano)

	dispatch(t, svc, Create, `{"time": "`+ts+`", "sensor_id": 4, "temperature": 20, "humidity": 40}`)

	status, data := dispatch(t, svc, Update, `{"time": "`+ts+`", "sensor_id": 4, "temperature": 22}`)
	if status != http.StatusOK {
		t.Fatalf("status = %d, data = %v", status, data)
	}
	row := data["data"].(map[string]interface{})
	if row["temperature"] != 22.0 || row["humidity"] != 40.0 {
		t.Errorf("row = %v", row)
	}
}

func TestUpdateErrors(t *testing.T) {
	svc, _ := newTestService()

	tests := []struct {
		name    string
		payload string
		status  int
		want    string
	}{
		{"no data", "", http.StatusBadRequest, "No data provided"},
		{"missing time", `{"sensor_id": 1, "temperature": 1}`, http.StatusBadRequest, "time and sensor_id are required to identify the record"},
		{"empty time", `{"time": "", "sensor_id": 1}`, http.StatusBadRequest, "time and sensor_id are required to identify the record"},
		{"missing sensor", `{"time": "2024-01-01T00:00:00Z"}`, http.StatusBadRequest, "time and sensor_id are required to identify the record"},
		{"no such row", `{"time": "2024-01-01T00:00:00Z", "sensor_id": 1, "temperature": 1}`, http.StatusNotFound, "Record not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, data := dispatch(t, svc, Update, tt.payload)
			if status != tt.status || data["error"] != tt.want {
				t.Errorf("got %d %v, want %d %q", status, data, tt.status, tt.want)
			}
		})
	}
}

func TestDeleteIsIdempotentlyNotFound(t *testing.T) {
	svc, _ := newTestService()
	ts := time.Now().UTC().Add(-time.Minute).Format(time.RFC3339)
	dispatch(t, svc, Create, `{"time": "`+ts+`", "sensor_id": 6}`)

	key := `{"time": "` + ts + `", "sensor_id": 6}`
	status, data := dispatch(t, svc, Delete, key)
	if status != http.StatusOK || data["deleted_count"] != float64(1) {
		t.Fatalf("first delete = %d %v", status, data)
	}
	status, data = dispatch(t, svc, Delete, key)
	if status != http.StatusNotFound || data["error"] != "Record not found" {
		t.Fatalf("second delete = %d %v", status, data)
	}

	status, data = dispatch(t, svc, Delete, `{"sensor_id": 6}`)
	if status != http.StatusBadRequest || data["error"] != "time and sensor_id are required" {
		t.Errorf("delete without time = %d %v", status, data)
	}
}

func TestDeleteByIDRemovesEveryReading(t *testing.T) {
	svc, _ := newTestService()
	dispatch(t, svc, CreateBulk, `[
		{"time": "2099-01-01T00:00:00Z", "sensor_id": 7},
		{"time": "2099-01-01T00:01:00Z", "sensor_id": 7},
		{"time": "2099-01-01T00:00:00Z", "sensor_id": 8}
	]`)

	status, data := dispatch(t, svc, DeleteByID, `{"sensor_id": 7}`)
	if status != http.StatusOK || data["message"] != "Deleted 2 records for sensor 7" {
		t.Fatalf("delete_by_id = %d %v", status, data)
	}
	status, data = dispatch(t, svc, DeleteByID, `{"sensor_id": 7}`)
	if status != http.StatusOK || data["message"] != "Deleted 0 records for sensor 7" {
		t.Errorf("repeat delete_by_id = %d %v", status, data)
	}
	if status, data = dispatch(t, svc, DeleteByID, ``); status != http.StatusBadRequest || data["error"] != "sensor_id is required" {
		t.Errorf("missing sensor_id = %d %v", status, data)
	}
}

func TestGetAllDefaultsAndLimit(t *testing.T) {
	svc, _ := newTestService()
	var entries []string
	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		entries = append(entries, `{"time": "`+now.Add(-time.Duration(i+1)*time.Minute).Format(time.RFC3339)+`", "sensor_id": 1}`)
	}
	dispatch(t, svc, CreateBulk, "["+strings.Join(entries, ",")+"]")

	status, data := dispatch(t, svc, GetAll, "")
	if status != http.StatusOK || data["count"] != float64(5) {
		t.Fatalf("get_all = %d %v", status, data)
	}

	status, data = dispatch(t, svc, GetAll, `{"limit": 2}`)
	if status != http.StatusOK || data["count"] != float64(2) {
		t.Fatalf("get_all limit 2 = %d %v", status, data)
	}

	for _, payload := range []string{`{"limit": 0}`, `{"hours": -1}`} {
		if status, _ := dispatch(t, svc, GetAll, payload); status != http.StatusBadRequest {
			t.Errorf("payload %s status = %d, want 400", payload, status)
		}
	}
}

func TestHoursAboveCapIsBadRequest(t *testing.T) {
	svc, _ := newTestService()
	dispatch(t, svc, Create, `{"sensor_id": 1, "temperature": 20}`)

	for _, op := range []Operation{GetAll, GetByID, Stats, TimeBucket} {
		status, data := dispatch(t, svc, op, `{"sensor_id": 1, "hours": 3000000}`)
		if status != http.StatusBadRequest || data["error"] != "hours must not exceed 1000000" {
			t.Errorf("%s hours=3000000 = %d %v", op, status, data)
		}
	}

	status, data := dispatch(t, svc, GetByID, `{"sensor_id": 1, "hours": 1000000}`)
	if status != http.StatusOK || data["count"] != float64(1) {
		t.Errorf("get_by_id hours=1000000 = %d %v", status, data)
	}
}

func TestGetByIDRequiresSensor(t *testing.T) {
	svc, _ := newTestService()
	status, data := dispatch(t, svc, GetByID, `{"hours": 2}`)
	if status != http.StatusBadRequest || data["error"] != "sensor_id is required" {
		t.Errorf("get_by_id = %d %v", status, data)
	}
}

func TestStatsAndTimeBucket(t *testing.T) {
	svc, _ := newTestService()
	now := time.Now().UTC()
	dispatch(t, svc, CreateBulk, `[
		{"time": "`+now.Add(-2*time.Minute).Format(time.RFC3339)+`", "sensor_id": 2, "temperature": 10},
		{"time": "`+now.Add(-3*time.Minute).Format(time.RFC3339)+`", "sensor_id": 2, "temperature": 30},
		{"time": "`+now.Add(-time.Minute).Format(time.RFC3339)+`", "sensor_id": 1, "temperature": 5}
	]`)

	status, data := dispatch(t, svc, Stats, `{}`)
	if status != http.StatusOK {
		t.Fatalf("stats = %d %v", status, data)
	}
	rows := data["data"].([]interface{})
	if len(rows) != 2 {
		t.Fatalf("stats rows = %d, want 2", len(rows))
	}
	second := rows[1].(map[string]interface{})
	if second["sensor_id"] != float64(2) || second["avg_temperature"] != 20.0 || second["total_readings"] != float64(2) {
		t.Errorf("sensor 2 stats = %v", second)
	}

	status, data = dispatch(t, svc, TimeBucket, `{"sensor_id": 2, "bucket": "1 day"}`)
	if status != http.StatusOK {
		t.Fatalf("time_bucket = %d %v", status, data)
	}
	if data["bucket_size"] != "1 day" {
		t.Errorf("bucket_size = %v", data["bucket_size"])
	}
	buckets := data["data"].([]interface{})
	var total float64
	for _, b := range buckets {
		total += b.(map[string]interface{})["readings"].(float64)
	}
	if total != 2 {
		t.Errorf("readings across buckets = %v, want 2", total)
	}
}

func TestTimeBucketDefaultsAndRejectsInjection(t *testing.T) {
	svc, _ := newTestService()

	status, data := dispatch(t, svc, TimeBucket, "")
	if status != http.StatusOK || data["bucket_size"] != "1 hour" {
		t.Errorf("default bucket = %d %v", status, data)
	}
	if rows, ok := data["data"].([]interface{}); !ok || len(rows) != 0 {
		t.Errorf("data = %#v, want empty list", data["data"])
	}

	status, data = dispatch(t, svc, TimeBucket, `{"bucket": "1 hour', time) FROM sensor_data; --"}`)
	if status != http.StatusBadRequest {
		t.Fatalf("injection status = %d, want 400", status)
	}
	if msg, _ := data["error"].(string); !strings.Contains(msg, "invalid bucket width") {
		t.Errorf("error = %q", msg)
	}
}

func TestHealth(t *testing.T) {
	svc, _ := newTestService()
	status, data := dispatch(t, svc, Health, "")
	if status != http.StatusOK || data["status"] != "healthy" || data["database"] != "connected" {
		t.Errorf("health = %d %v", status, data)
	}

	down := NewService(&failingRepo{err: errors.New("connection refused")}, nil)
	status, data = dispatch(t, down, Health, "")
	if status != http.StatusInternalServerError || data["status"] != "unhealthy" || data["error"] != "connection refused" {
		t.Errorf("unhealthy = %d %v", status, data)
	}
}

func TestStoreFailureIs500(t *testing.T) {
	svc := NewService(&failingRepo{err: errors.New("connection refused")}, nil)

	for _, tc := range []struct {
		op      Operation
		payload string
	}{
		{GetAll, ""},
		{Create, `{"sensor_id": 1}`},
		{Stats, ""},
		{DeleteByID, `{"sensor_id": 1}`},
	} {
		status, data := dispatch(t, svc, tc.op, tc.payload)
		if status != http.StatusInternalServerError || data["error"] != "connection refused" {
			t.Errorf("%s = %d %v", tc.op, status, data)
		}
	}
}

func TestUnknownOperation(t *testing.T) {
	svc, _ := newTestService()
	resp := svc.Execute(context.Background(), Operation("truncate"), sensor_models.Request{})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

type recordingObserver struct {
	ops      []string
	statuses []int
}

func (r *recordingObserver) ObserveOperation(op string, status int, _ time.Duration) {
	r.ops = append(r.ops, op)
	r.statuses = append(r.statuses, status)
}

func TestObserverSeesEveryExecution(t *testing.T) {
	obs := &recordingObserver{}
	svc := NewService(implementation.NewMemorySensorRepository(), nil, WithObserver(obs))

	svc.Dispatch(context.Background(), Health, nil)
	svc.Dispatch(context.Background(), Create, []byte("{"))

	if len(obs.ops) != 2 || obs.ops[0] != "health" || obs.statuses[1] != http.StatusBadRequest {
		t.Errorf("observations = %v %v", obs.ops, obs.statuses)
	}
}

func TestParseTime(t *testing.T) {
	for _, in := range []string{
		"2024-03-01T12:00:00Z",
		"2024-03-01T12:00:00+00:00",
		"2024-03-01T12:00:00.123456",
		"2024-03-01 12:00:00",
		"2024-03-01T14:00:00+02:00",
	} {
		ts, err := ParseTime(in)
		if err != nil {
			t.Errorf("ParseTime(%q) error = %v", in, err)
			continue
		}
		if !ts.Truncate(time.Second).Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)) {
			t.Errorf("ParseTime(%q) = %v", in, ts)
		}
	}

	var validation *ValidationError
	if _, err := ParseTime("01/03/2024"); !errors.As(err, &validation) {
		t.Errorf("ParseTime(01/03/2024) error = %v, want ValidationError", err)
	}
}

type failingRepo struct {
	err error
}

func (f *failingRepo) Ping(context.Context) error { return f.err }
func (f *failingRepo) QueryRange(context.Context, interfaces.RangeQuery) ([]sensor_models.Reading, error) {
	return nil, f.err
}
func (f *failingRepo) Insert(context.Context, sensor_models.NewReading) (*sensor_models.Reading, error) {
	return nil, f.err
}
func (f *failingRepo) InsertBatch(context.Context, []sensor_models.NewReading) (int, error) {
	return 0, f.err
}
func (f *failingRepo) Update(context.Context, sensor_models.ReadingKey, sensor_models.ReadingPatch) (*sensor_models.Reading, error) {
	return nil, f.err
}
func (f *failingRepo) Delete(context.Context, sensor_models.ReadingKey) (int64, error) {
	return 0, f.err
}
func (f *failingRepo) DeleteBySensor(context.Context, int) (int64, error) { return 0, f.err }
func (f *failingRepo) Aggregate(context.Context, *int, int) ([]sensor_models.SensorStats, error) {
	return nil, f.err
}
func (f *failingRepo) BucketedAggregate(context.Context, *int, int, sensor_models.BucketWidth) ([]sensor_models.TimeBucket, error) {
	return nil, f.err
}
