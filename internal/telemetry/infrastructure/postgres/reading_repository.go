package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	telemetry "wellhead-monitor/internal/telemetry/domain"
)

const defaultReadingsTable = "readings"

// ReadingRepository is a Postgres implementation for readings.
type ReadingRepository struct {
	db    *sql.DB
	table string
}

// RepositoryOption configures the repository.
type RepositoryOption func(*ReadingRepository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *ReadingRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewReadingRepository constructs a repository with default table name.
func NewReadingRepository(db *sql.DB, opts ...RepositoryOption) *ReadingRepository {
	repo := &ReadingRepository{db: db, table: defaultReadingsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Insert stores reading unless (device, parameter, ts) already exists, in
// which case the stored row is returned.
func (r *ReadingRepository) Insert(ctx context.Context, reading telemetry.Reading) (telemetry.Reading, bool, error) {
	if r == nil || r.db == nil {
		return telemetry.Reading{}, false, errors.New("reading repo: nil db")
	}
	if reading.ID == "" || reading.DeviceID == "" || reading.ParameterCode == "" || reading.TS.IsZero() {
		return telemetry.Reading{}, false, errors.New("reading repo: invalid reading")
	}

	insert := fmt.Sprintf(`
INSERT INTO %s (id, device_id, parameter_code, ts, value, received_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (device_id, parameter_code, ts) DO NOTHING
RETURNING id`, r.table)
	var id string
	err := r.db.QueryRowContext(ctx, insert,
		reading.ID,
		reading.DeviceID,
		reading.ParameterCode,
		reading.TS.UTC(),
		reading.Value,
		nullableTime(reading.ReceivedAt),
	).Scan(&id)
	if err == nil {
		return reading, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return telemetry.Reading{}, false, err
	}

	existing := fmt.Sprintf(`
SELECT id, device_id, parameter_code, ts, value, received_at
FROM %s
WHERE device_id = $1 AND parameter_code = $2 AND ts = $3`, r.table)
	stored, err := scanReading(r.db.QueryRowContext(ctx, existing, reading.DeviceID, reading.ParameterCode, reading.TS.UTC()))
	if err != nil {
		return telemetry.Reading{}, false, err
	}
	return *stored, false, nil
}

// ListRange returns readings in [From, To) ordered by timestamp. Rows with a
// null value are skipped.
func (r *ReadingRepository) ListRange(ctx context.Context, query telemetry.ReadingQuery) ([]telemetry.Reading, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reading repo: nil db")
	}
	conditions := []string{"value IS NOT NULL"}
	var args []any
	add := func(cond string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}
	if query.DeviceID != "" {
		add("device_id = $%d", query.DeviceID)
	}
	if len(query.ParameterCodes) > 0 {
		add("parameter_code = ANY($%d)", query.ParameterCodes)
	}
	if !query.From.IsZero() {
		add("ts >= $%d", query.From.UTC())
	}
	if !query.To.IsZero() {
		add("ts < $%d", query.To.UTC())
	}

	stmt := fmt.Sprintf(`
SELECT id, device_id, parameter_code, ts, value, received_at
FROM %s
WHERE %s
ORDER BY ts ASC`, r.table, strings.Join(conditions, " AND "))
	if query.Limit > 0 {
		args = append(args, query.Limit)
		stmt += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []telemetry.Reading
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *reading)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReading(row rowScanner) (*telemetry.Reading, error) {
	var reading telemetry.Reading
	var value sql.NullFloat64
	var receivedAt sql.NullTime
	if err := row.Scan(
		&reading.ID,
		&reading.DeviceID,
		&reading.ParameterCode,
		&reading.TS,
		&value,
		&receivedAt,
	); err != nil {
		return nil, err
	}
	reading.TS = reading.TS.UTC()
	reading.Value = value.Float64
	if receivedAt.Valid {
		reading.ReceivedAt = receivedAt.Time.UTC()
	}
	return &reading, nil
}

func nullableTime(value time.Time) sql.NullTime {
	if value.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value, Valid: true}
}
