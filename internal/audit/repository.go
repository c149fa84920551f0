package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultTable     = "audit_logs"
	defaultListLimit = 200
	maxListLimit     = 1000
)

// Repository stores audit entries in Postgres.
type Repository struct {
	db    *sql.DB
	table string
}

// RepositoryOption configures the repository.
type RepositoryOption func(*Repository)

// WithTable overrides the table name.
func WithTable(table string) RepositoryOption {
	return func(r *Repository) {
		if table != "" {
			r.table = table
		}
	}
}

// NewRepository constructs an audit repository.
func NewRepository(db *sql.DB, opts ...RepositoryOption) (*Repository, error) {
	if db == nil {
		return nil, errors.New("audit repo: nil db")
	}
	repo := &Repository{db: db, table: defaultTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo, nil
}

// Log writes an audit entry.
func (r *Repository) Log(ctx context.Context, entry Entry) error {
	if r == nil || r.db == nil {
		return errors.New("audit repo: nil db")
	}
	entry = normalize(entry, time.Now())
	var metadata any
	if len(entry.Metadata) > 0 {
		metadata = []byte(entry.Metadata)
	}
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (
	id, actor, role, action, resource_type, resource_id, result,
	metadata, payload_digest, ip, user_agent, created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)`, r.table), entry.ID, entry.Actor, entry.Role, entry.Action, entry.ResourceType, entry.ResourceID, entry.Result,
		metadata, entry.PayloadDigest, entry.IP, entry.UserAgent, entry.CreatedAt)
	return err
}

// List returns entries newest first.
func (r *Repository) List(ctx context.Context, query Query) ([]Entry, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("audit repo: nil db")
	}
	clauses := make([]string, 0, 4)
	args := make([]any, 0, 5)
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if query.Action != "" {
		add("action = $%d", query.Action)
	}
	if query.Actor != "" {
		add("actor = $%d", query.Actor)
	}
	if !query.From.IsZero() {
		add("created_at >= $%d", query.From.UTC())
	}
	if !query.To.IsZero() {
		add("created_at < $%d", query.To.UTC())
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	args = append(args, listLimit(query.Limit))
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
SELECT id, actor, role, action, resource_type, resource_id, result,
	metadata, payload_digest, ip, user_agent, created_at
FROM %s
%s
ORDER BY created_at DESC, id
LIMIT $%d`, r.table, where, len(args)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Entry
	for rows.Next() {
		var (
			entry    Entry
			resource sql.NullString
			metadata []byte
			digest   sql.NullString
			ip       sql.NullString
			agent    sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.Actor, &entry.Role, &entry.Action, &entry.ResourceType, &resource,
			&entry.Result, &metadata, &digest, &ip, &agent, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.ResourceID = resource.String
		entry.Metadata = metadata
		entry.PayloadDigest = digest.String
		entry.IP = ip.String
		entry.UserAgent = agent.String
		entry.CreatedAt = entry.CreatedAt.UTC()
		result = append(result, entry)
	}
	return result, rows.Err()
}

func listLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	default:
		return limit
	}
}
