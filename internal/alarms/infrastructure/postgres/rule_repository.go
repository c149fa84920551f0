package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	alarms "wellhead-monitor/internal/alarms/domain"
)

const defaultAlarmRulesTable = "alarm_rules"

// AlarmRuleRepository is a Postgres repository for alarm rules.
type AlarmRuleRepository struct {
	db    *sql.DB
	table string
}

// NewAlarmRuleRepository constructs a repository.
func NewAlarmRuleRepository(db *sql.DB) *AlarmRuleRepository {
	return &AlarmRuleRepository{db: db, table: defaultAlarmRulesTable}
}

// SaveRule upserts an alarm rule. Unsupported operators are stored as given
// so the evaluator can report them.
func (r *AlarmRuleRepository) SaveRule(ctx context.Context, rule alarms.AlarmRule) error {
	if r == nil || r.db == nil {
		return errors.New("alarm rule repo: nil db")
	}
	if rule.ID == "" || rule.ParameterCode == "" {
		return errors.New("alarm rule repo: missing fields")
	}
	if rule.Severity == "" {
		rule.Severity = alarms.SeverityMedium
	}
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	query := fmt.Sprintf(`
INSERT INTO %s (
	id, name, parameter_code, severity, operator, threshold, active, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9
)
ON CONFLICT (id)
DO UPDATE SET
	name = EXCLUDED.name,
	parameter_code = EXCLUDED.parameter_code,
	severity = EXCLUDED.severity,
	operator = EXCLUDED.operator,
	threshold = EXCLUDED.threshold,
	active = EXCLUDED.active,
	updated_at = EXCLUDED.updated_at`, r.table)
	_, err := r.db.ExecContext(ctx, query,
		rule.ID, rule.Name, rule.ParameterCode, rule.Severity, string(rule.Operator),
		rule.Threshold, rule.Active, rule.CreatedAt, rule.UpdatedAt)
	return err
}

// GetByID loads a rule by id.
func (r *AlarmRuleRepository) GetByID(ctx context.Context, ruleID string) (*alarms.AlarmRule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm rule repo: nil db")
	}
	if ruleID == "" {
		return nil, errors.New("alarm rule repo: invalid query")
	}
	row := r.db.QueryRowContext(ctx, fmt.Sprintf(`
SELECT id, name, parameter_code, severity, operator, threshold, active, created_at, updated_at
FROM %s
WHERE id = $1
LIMIT 1`, r.table), ruleID)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rule, err
}

// ListRules returns every rule, active or not.
func (r *AlarmRuleRepository) ListRules(ctx context.Context) ([]alarms.AlarmRule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm rule repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
SELECT id, name, parameter_code, severity, operator, threshold, active, created_at, updated_at
FROM %s
ORDER BY parameter_code ASC, id ASC`, r.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alarms.AlarmRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanRule(row rowScanner) (*alarms.AlarmRule, error) {
	var rule alarms.AlarmRule
	var op string
	if err := row.Scan(
		&rule.ID,
		&rule.Name,
		&rule.ParameterCode,
		&rule.Severity,
		&op,
		&rule.Threshold,
		&rule.Active,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rule.Operator = alarms.Operator(op)
	rule.CreatedAt = rule.CreatedAt.UTC()
	rule.UpdatedAt = rule.UpdatedAt.UTC()
	return &rule, nil
}
