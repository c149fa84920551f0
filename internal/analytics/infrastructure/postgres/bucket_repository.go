package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"wellhead-monitor/internal/analytics/domain/rollup"
)

const defaultBucketTable = "rollup_buckets"

// BucketRepository stores rollup buckets keyed by
// (definition, bucket_start, group_key).
type BucketRepository struct {
	db    *sql.DB
	table string
}

// RepositoryOption configures the repository.
type RepositoryOption func(*BucketRepository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *BucketRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewBucketRepository constructs a repository.
func NewBucketRepository(db *sql.DB, opts ...RepositoryOption) (*BucketRepository, error) {
	if db == nil {
		return nil, errors.New("bucket repo: nil db")
	}
	repo := &BucketRepository{db: db, table: defaultBucketTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo, nil
}

// UpsertBuckets writes all buckets in one transaction, replacing existing rows.
func (r *BucketRepository) UpsertBuckets(ctx context.Context, buckets []rollup.Bucket) error {
	if len(buckets) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	query := fmt.Sprintf(`
INSERT INTO %s (
	definition,
	bucket_start,
	bucket_end,
	group_key,
	device_id,
	parameter_code,
	location_id,
	field_id,
	sample_count,
	value_sum,
	value_sum_squares,
	value_min,
	value_max,
	refreshed_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
)
ON CONFLICT (definition, bucket_start, group_key)
DO UPDATE SET
	bucket_end = EXCLUDED.bucket_end,
	sample_count = EXCLUDED.sample_count,
	value_sum = EXCLUDED.value_sum,
	value_sum_squares = EXCLUDED.value_sum_squares,
	value_min = EXCLUDED.value_min,
	value_max = EXCLUDED.value_max,
	refreshed_at = EXCLUDED.refreshed_at`, r.table)

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, bucket := range buckets {
		if _, err := stmt.ExecContext(ctx,
			bucket.Definition,
			bucket.BucketStart.UTC(),
			bucket.BucketEnd.UTC(),
			bucket.GroupKey.String(),
			bucket.DeviceID,
			bucket.ParameterCode,
			bucket.LocationID,
			bucket.FieldID,
			bucket.Count,
			bucket.Sum,
			bucket.SumSquares,
			bucket.Min,
			bucket.Max,
			bucket.RefreshedAt.UTC(),
		); err != nil {
			return fmt.Errorf("bucket repo: upsert %s %s: %w", bucket.Definition, bucket.Key(), err)
		}
	}
	return tx.Commit()
}

// DeleteStale removes rows a refresh of the window did not rewrite, such as
// groups of a device that moved to another location.
func (r *BucketRepository) DeleteStale(ctx context.Context, definition string, window rollup.Window, refreshedBefore time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`
DELETE FROM %s
WHERE definition = $1
	AND bucket_start >= $2
	AND bucket_start < $3
	AND refreshed_at < $4`, r.table),
		definition, window.From.UTC(), window.To.UTC(), refreshedBefore.UTC())
	if err != nil {
		return 0, fmt.Errorf("bucket repo: delete stale %s: %w", definition, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// ListBuckets returns buckets ordered by start then group key.
func (r *BucketRepository) ListBuckets(ctx context.Context, query rollup.BucketQuery) ([]rollup.Bucket, error) {
	if query.Definition == "" {
		return nil, errors.New("bucket repo: definition required")
	}
	conditions := []string{"definition = $1"}
	args := []any{query.Definition}
	add := func(clause string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}
	if query.DeviceID != "" {
		add("device_id = $%d", query.DeviceID)
	}
	if query.ParameterCode != "" {
		add("parameter_code = $%d", query.ParameterCode)
	}
	if query.LocationID != "" {
		add("location_id = $%d", query.LocationID)
	}
	if query.FieldID != "" {
		add("field_id = $%d", query.FieldID)
	}
	if !query.From.IsZero() {
		add("bucket_start >= $%d", query.From.UTC())
	}
	if !query.To.IsZero() {
		add("bucket_start < $%d", query.To.UTC())
	}

	statement := fmt.Sprintf(`
SELECT
	definition,
	bucket_start,
	bucket_end,
	device_id,
	parameter_code,
	location_id,
	field_id,
	sample_count,
	value_sum,
	value_sum_squares,
	value_min,
	value_max,
	refreshed_at
FROM %s
WHERE %s
ORDER BY bucket_start ASC, group_key ASC`, r.table, strings.Join(conditions, " AND "))
	if query.Limit > 0 {
		args = append(args, query.Limit)
		statement += fmt.Sprintf("\nLIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []rollup.Bucket
	for rows.Next() {
		bucket, err := scanBucket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, bucket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanBucket(scanner interface{ Scan(dest ...any) error }) (rollup.Bucket, error) {
	var (
		bucket      rollup.Bucket
		start, end  time.Time
		refreshedAt time.Time
	)
	if err := scanner.Scan(
		&bucket.Definition,
		&start,
		&end,
		&bucket.DeviceID,
		&bucket.ParameterCode,
		&bucket.LocationID,
		&bucket.FieldID,
		&bucket.Count,
		&bucket.Sum,
		&bucket.SumSquares,
		&bucket.Min,
		&bucket.Max,
		&refreshedAt,
	); err != nil {
		return rollup.Bucket{}, err
	}
	bucket.BucketStart = start.UTC()
	bucket.BucketEnd = end.UTC()
	bucket.RefreshedAt = refreshedAt.UTC()
	return bucket, nil
}
