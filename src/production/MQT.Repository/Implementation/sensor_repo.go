package implementation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/lib/pq"
	sensor_models "gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.Models/sensor"
	interfaces "gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.Repository/Interfaces"
)

const uniqueViolation pq.ErrorCode = "23505"

const selectReadings = `
		SELECT time, sensor_id, temperature, humidity
		FROM sensor_data
		WHERE time > NOW() - make_interval(hours => $1)`

// PostgresSensorRepository implements SensorRepository on a TimescaleDB
// sensor_data hypertable.
type PostgresSensorRepository struct {
	db *sql.DB
}

func NewPostgresSensorRepository(db *sql.DB) *PostgresSensorRepository {
	return &PostgresSensorRepository{db: db}
}

// withConn runs fn on a connection owned by this call alone. The connection
// goes back to database/sql on every path out of fn.
func (r *PostgresSensorRepository) withConn(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	return fn(conn)
}

func (r *PostgresSensorRepository) Ping(ctx context.Context) error {
	return r.withConn(ctx, func(conn *sql.Conn) error {
		return conn.PingContext(ctx)
	})
}

func (r *PostgresSensorRepository) QueryRange(ctx context.Context, q interfaces.RangeQuery) ([]sensor_models.Reading, error) {
	query := selectReadings
	args := []interface{}{q.Hours}

	if q.SensorID != nil {
		args = append(args, *q.SensorID)
		query += ` AND sensor_id = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY time DESC`
	if q.Limit != nil {
		args = append(args, *q.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}

	var readings []sensor_models.Reading
	err := r.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		readings, err = scanReadings(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	return readings, nil
}

func (r *PostgresSensorRepository) Insert(ctx context.Context, in sensor_models.NewReading) (*sensor_models.Reading, error) {
	query := `
		INSERT INTO sensor_data (time, sensor_id, temperature, humidity)
		VALUES (COALESCE($1::timestamptz, NOW()), $2, $3, $4)
		RETURNING time, sensor_id, temperature, humidity
	`

	var at sql.NullTime
	if in.Time != nil {
		at = sql.NullTime{Time: *in.Time, Valid: true}
	}

	var reading *sensor_models.Reading
	err := r.withConn(ctx, func(conn *sql.Conn) error {
		row := conn.QueryRowContext(ctx, query, at, in.SensorID, in.Temperature, in.Humidity)
		var err error
		reading, err = scanReading(row)
		return err
	})
	if err != nil {
		return nil, classify(err)
	}
	return reading, nil
}

// InsertBatch writes all readings in one transaction through COPY. Readings
// without a time are stamped with the current time.
func (r *PostgresSensorRepository) InsertBatch(ctx context.Context, in []sensor_models.NewReading) (int, error) {
	if len(in) == 0 {
		return 0, nil
	}

	err := r.withConn(ctx, func(conn *sql.Conn) error {
		txn, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer txn.Rollback()

		stmt, err := txn.PrepareContext(ctx, pq.CopyIn("sensor_data", "time", "sensor_id", "temperature", "humidity"))
		if err != nil {
			return err
		}

		for _, reading := range in {
			at := time.Now().UTC()
			if reading.Time != nil {
				at = *reading.Time
			}
			if _, err := stmt.ExecContext(ctx, at, reading.SensorID, reading.Temperature, reading.Humidity); err != nil {
				stmt.Close()
				return err
			}
		}

		// flush the COPY buffer
		if _, err := stmt.ExecContext(ctx); err != nil {
			stmt.Close()
			return err
		}
		if err := stmt.Close(); err != nil {
			return err
		}

		return txn.Commit()
	})
	if err != nil {
		return 0, classify(err)
	}
	return len(in), nil
}

func (r *PostgresSensorRepository) Update(ctx context.Context, key sensor_models.ReadingKey, patch sensor_models.ReadingPatch) (*sensor_models.Reading, error) {
	query := `
		UPDATE sensor_data
		SET temperature = COALESCE($1, temperature),
		    humidity = COALESCE($2, humidity)
		WHERE time = $3 AND sensor_id = $4
		RETURNING time, sensor_id, temperature, humidity
	`

	var reading *sensor_models.Reading
	err := r.withConn(ctx, func(conn *sql.Conn) error {
		row := conn.QueryRowContext(ctx, query, patch.Temperature, patch.Humidity, key.Time, key.SensorID)
		var err error
		reading, err = scanReading(row)
		return err
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to update reading: %w", err)
	}
	return reading, nil
}

func (r *PostgresSensorRepository) Delete(ctx context.Context, key sensor_models.ReadingKey) (int64, error) {
	return r.exec(ctx, `DELETE FROM sensor_data WHERE time = $1 AND sensor_id = $2`, key.Time, key.SensorID)
}

func (r *PostgresSensorRepository) DeleteBySensor(ctx context.Context, sensorID int) (int64, error) {
	return r.exec(ctx, `DELETE FROM sensor_data WHERE sensor_id = $1`, sensorID)
}

func (r *PostgresSensorRepository) exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	var affected int64
	err := r.withConn(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete readings: %w", err)
	}
	return affected, nil
}

func (r *PostgresSensorRepository) Aggregate(ctx context.Context, sensorID *int, hours int) ([]sensor_models.SensorStats, error) {
	query := `
		SELECT
			sensor_id,
			COUNT(*) AS total_readings,
			AVG(temperature)::double precision AS avg_temperature,
			MIN(temperature)::double precision AS min_temperature,
			MAX(temperature)::double precision AS max_temperature,
			AVG(humidity)::double precision AS avg_humidity,
			MIN(humidity)::double precision AS min_humidity,
			MAX(humidity)::double precision AS max_humidity,
			MIN(time) AS first_reading,
			MAX(time) AS last_reading
		FROM sensor_data
		WHERE time > NOW() - make_interval(hours => $1)`
	args := []interface{}{hours}
	if sensorID != nil {
		args = append(args, *sensorID)
		query += ` AND sensor_id = $2`
	}
	query += `
		GROUP BY sensor_id
		ORDER BY sensor_id`

	var stats []sensor_models.SensorStats
	err := r.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var s sensor_models.SensorStats
			var avgT, minT, maxT, avgH, minH, maxH sql.NullFloat64
			var first, last sql.NullTime
			if err := rows.Scan(&s.SensorID, &s.TotalReadings, &avgT, &minT, &maxT, &avgH, &minH, &maxH, &first, &last); err != nil {
				return err
			}
			s.AvgTemperature, s.MinTemperature, s.MaxTemperature = nullFloat(avgT), nullFloat(minT), nullFloat(maxT)
			s.AvgHumidity, s.MinHumidity, s.MaxHumidity = nullFloat(avgH), nullFloat(minH), nullFloat(maxH)
			s.FirstReading, s.LastReading = nullTime(first), nullTime(last)
			stats = append(stats, s)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate readings: %w", err)
	}
	return stats, nil
}

// BucketedAggregate groups readings with time_bucket. The width is bound as an
// interval parameter.
func (r *PostgresSensorRepository) BucketedAggregate(ctx context.Context, sensorID *int, hours int, width sensor_models.BucketWidth) ([]sensor_models.TimeBucket, error) {
	query := `
		SELECT
			time_bucket($1::interval, time) AS bucket,
			sensor_id,
			AVG(temperature)::double precision AS avg_temperature,
			AVG(humidity)::double precision AS avg_humidity,
			COUNT(*) AS readings
		FROM sensor_data
		WHERE time > NOW() - make_interval(hours => $2)`
	args := []interface{}{width.String(), hours}
	if sensorID != nil {
		args = append(args, *sensorID)
		query += ` AND sensor_id = $3`
	}
	query += `
		GROUP BY bucket, sensor_id
		ORDER BY bucket DESC, sensor_id`

	var buckets []sensor_models.TimeBucket
	err := r.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var b sensor_models.TimeBucket
			var avgT, avgH sql.NullFloat64
			if err := rows.Scan(&b.Bucket, &b.SensorID, &avgT, &avgH, &b.Readings); err != nil {
				return err
			}
			b.AvgTemperature, b.AvgHumidity = nullFloat(avgT), nullFloat(avgH)
			buckets = append(buckets, b)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to bucket readings: %w", err)
	}
	return buckets, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReading(row rowScanner) (*sensor_models.Reading, error) {
	var reading sensor_models.Reading
	var temperature, humidity sql.NullFloat64
	if err := row.Scan(&reading.Time, &reading.SensorID, &temperature, &humidity); err != nil {
		return nil, err
	}
	reading.Temperature = nullFloat(temperature)
	reading.Humidity = nullFloat(humidity)
	return &reading, nil
}

func scanReadings(rows *sql.Rows) ([]sensor_models.Reading, error) {
	readings := make([]sensor_models.Reading, 0)
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, *reading)
	}
	return readings, rows.Err()
}

// classify maps driver errors onto the repository's sentinel errors
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", interfaces.ErrDuplicateReading, pqErr.Detail)
	}
	return fmt.Errorf("failed to insert reading: %w", err)
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
