package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	alarms "wellhead-monitor/internal/alarms/domain"
)

const (
	defaultAlarmEventsTable = "alarm_events"
	uniqueViolationCode     = "23505"
)

const eventColumns = `id, rule_id, device_id, parameter_code, severity,
	triggered_at, triggered_value, trigger_reading_id,
	cleared_at, cleared_value, clear_reading_id, created_at, updated_at`

// AlarmEventRepository is a Postgres alarm event store. The partial unique
// index on (device_id, rule_id) WHERE cleared_at IS NULL keeps one open
// event per pair.
type AlarmEventRepository struct {
	db    *sql.DB
	table string
}

// EventOption configures the repository.
type EventOption func(*AlarmEventRepository)

// WithEventTable overrides the default table name.
func WithEventTable(table string) EventOption {
	return func(repo *AlarmEventRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewAlarmEventRepository constructs a repository.
func NewAlarmEventRepository(db *sql.DB, opts ...EventOption) *AlarmEventRepository {
	repo := &AlarmEventRepository{db: db, table: defaultAlarmEventsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// FindOpen implements alarms.EventStore.
func (r *AlarmEventRepository) FindOpen(ctx context.Context, key alarms.PairKey) (*alarms.AlarmEvent, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm event repo: nil db")
	}
	if key.DeviceID == "" || key.RuleID == "" {
		return nil, errors.New("alarm event repo: invalid query")
	}
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
SELECT %s
FROM %s
WHERE device_id = $1 AND rule_id = $2 AND cleared_at IS NULL
ORDER BY triggered_at ASC
LIMIT 2`, eventColumns, r.table), key.DeviceID, key.RuleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var open []alarms.AlarmEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		open = append(open, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	switch len(open) {
	case 0:
		return nil, nil
	case 1:
		return &open[0], nil
	default:
		return nil, &alarms.ConsistencyViolationError{Key: key, OpenIDs: []string{open[0].ID, open[1].ID}}
	}
}

// Open implements alarms.EventStore.
func (r *AlarmEventRepository) Open(ctx context.Context, event alarms.AlarmEvent) (*alarms.AlarmEvent, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm event repo: nil db")
	}
	if event.ID == "" || event.DeviceID == "" || event.RuleID == "" {
		return nil, errors.New("alarm event repo: missing fields")
	}
	now := time.Now().UTC()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = event.CreatedAt
	row := r.db.QueryRowContext(ctx, fmt.Sprintf(`
INSERT INTO %s (
	id, rule_id, device_id, parameter_code, severity,
	triggered_at, triggered_value, trigger_reading_id, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5,
	$6, $7, $8, $9, $10
)
RETURNING %s`, r.table, eventColumns),
		event.ID,
		event.RuleID,
		event.DeviceID,
		event.ParameterCode,
		event.Severity,
		event.TriggeredAt.UTC(),
		event.TriggeredValue,
		nullableString(event.TriggerReadingID),
		event.CreatedAt,
		event.UpdatedAt,
	)
	created, err := scanEvent(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, alarms.ErrAlreadyOpen
		}
		return nil, err
	}
	return created, nil
}

// Close implements alarms.EventStore.
func (r *AlarmEventRepository) Close(ctx context.Context, eventID string, clearance alarms.Clearance) (*alarms.AlarmEvent, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm event repo: nil db")
	}
	if eventID == "" {
		return nil, errors.New("alarm event repo: empty id")
	}
	row := r.db.QueryRowContext(ctx, fmt.Sprintf(`
UPDATE %s
SET cleared_at = $1, cleared_value = $2, clear_reading_id = $3, updated_at = $4
WHERE id = $5 AND cleared_at IS NULL
RETURNING %s`, r.table, eventColumns),
		clearance.At.UTC(),
		clearance.Value,
		nullableString(clearance.ReadingID),
		time.Now().UTC(),
		eventID,
	)
	closed, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return closed, err
}

// Get implements alarms.EventStore.
func (r *AlarmEventRepository) Get(ctx context.Context, id string) (*alarms.AlarmEvent, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm event repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, fmt.Sprintf(`
SELECT %s
FROM %s
WHERE id = $1`, eventColumns, r.table), id)
	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return event, err
}

// List implements alarms.EventStore. Newest triggered first.
func (r *AlarmEventRepository) List(ctx context.Context, filter alarms.EventFilter) ([]alarms.AlarmEvent, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm event repo: nil db")
	}
	var conditions []string
	var args []any
	add := func(cond string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}
	if filter.DeviceID != "" {
		add("device_id = $%d", filter.DeviceID)
	}
	if filter.RuleID != "" {
		add("rule_id = $%d", filter.RuleID)
	}
	if filter.ParameterCode != "" {
		add("parameter_code = $%d", filter.ParameterCode)
	}
	if filter.Severity != "" {
		add("severity = $%d", filter.Severity)
	}
	if !filter.From.IsZero() {
		add("triggered_at >= $%d", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		add("triggered_at < $%d", filter.To.UTC())
	}
	if filter.OpenOnly {
		conditions = append(conditions, "cleared_at IS NULL")
	}

	query := fmt.Sprintf("SELECT %s FROM %s", eventColumns, r.table)
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY triggered_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alarms.AlarmEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*alarms.AlarmEvent, error) {
	var event alarms.AlarmEvent
	var triggerReadingID sql.NullString
	var clearedAt sql.NullTime
	var clearedValue sql.NullFloat64
	var clearReadingID sql.NullString
	if err := row.Scan(
		&event.ID,
		&event.RuleID,
		&event.DeviceID,
		&event.ParameterCode,
		&event.Severity,
		&event.TriggeredAt,
		&event.TriggeredValue,
		&triggerReadingID,
		&clearedAt,
		&clearedValue,
		&clearReadingID,
		&event.CreatedAt,
		&event.UpdatedAt,
	); err != nil {
		return nil, err
	}
	event.TriggeredAt = event.TriggeredAt.UTC()
	event.CreatedAt = event.CreatedAt.UTC()
	event.UpdatedAt = event.UpdatedAt.UTC()
	event.TriggerReadingID = triggerReadingID.String
	event.ClearReadingID = clearReadingID.String
	if clearedAt.Valid {
		at := clearedAt.Time.UTC()
		event.ClearedAt = &at
	}
	if clearedValue.Valid {
		value := clearedValue.Float64
		event.ClearedValue = &value
	}
	return &event, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

func nullableString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
