// Package audit keeps the command log: every command relayed to the
// feeder, how the device answered, and how long the round trip took.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Command outcomes. A record starts as OutcomeSent and is resolved to
// acked/nakked when the device replies. Commands the bridge refused to
// relay (link down, malformed request) are recorded as OutcomeDropped
// and never resolve.
const (
	OutcomeSent    = "sent"
	OutcomeAcked   = "acked"
	OutcomeNakked  = "nakked"
	OutcomeDropped = "dropped"
)

// CommandRecord is one relayed command and its fate.
type CommandRecord struct {
	ID         string     `json:"id"`
	Target     string     `json:"target"` // led, fan, auger, blower, actuator, system
	Action     string     `json:"action"` // canonical token sent on the wire, e.g. "R:1"
	Source     string     `json:"source"` // mqtt, api, schedule, cli
	Outcome    string     `json:"outcome"`
	Detail     string     `json:"detail,omitempty"` // ACK name or NAK reason
	LatencyMS  *int64     `json:"latency_ms,omitempty"`
	IssuedAt   time.Time  `json:"issued_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Resolution closes out a pending command record once the device replies.
type Resolution struct {
	Outcome   string    // OutcomeAcked or OutcomeNakked
	Detail    string    // ACK name or NAK reason, may be empty
	LatencyMS int64     // issue-to-reply round trip
	At        time.Time // defaults to now if zero
}

// Filter controls which command records to return.
type Filter struct {
	Target  string // optional: filter by target (led, fan, auger, ...)
	Outcome string // optional: filter by outcome (sent, acked, nakked, dropped)
	Source  string // optional: filter by source (mqtt, api, schedule, cli)
	Limit   int    // default 50, max 200
	Offset  int    // pagination offset
}

// ListResult contains the paginated command log results.
type ListResult struct {
	Commands []CommandRecord `json:"commands"`
	Total    int             `json:"total"`
	Limit    int             `json:"limit"`
	Offset   int             `json:"offset"`
}

// Repository defines the interface for command audit operations.
type Repository interface {
	Record(ctx context.Context, rec *CommandRecord) error
	Resolve(ctx context.Context, id string, res Resolution) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores command records in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new command audit repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts a new command record. The ID, Outcome and IssuedAt are
// defaulted if empty.
func (r *SQLiteRepository) Record(ctx context.Context, rec *CommandRecord) error {
	if rec.ID == "" {
		rec.ID = "cmd-" + uuid.NewString()[:8]
	}
	if rec.Outcome == "" {
		rec.Outcome = OutcomeSent
	}
	if rec.IssuedAt.IsZero() {
		rec.IssuedAt = time.Now().UTC()
	}

	var resolvedAt any
	if rec.ResolvedAt != nil {
		resolvedAt = rec.ResolvedAt.UTC().Format(time.RFC3339)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO command_log (id, target, action, source, outcome, detail, latency_ms, issued_at, resolved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Target, rec.Action, rec.Source, rec.Outcome,
		nullableString(rec.Detail), rec.LatencyMS,
		rec.IssuedAt.UTC().Format(time.RFC3339), resolvedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting command record: %w", err)
	}

	return nil
}

// Resolve marks a pending command with its final outcome. Only the first
// resolution wins: a record that is already resolved, or an ID that was
// never recorded, returns ErrNotFound so duplicate or unsolicited device
// replies can be ignored by the caller.
func (r *SQLiteRepository) Resolve(ctx context.Context, id string, res Resolution) error {
	if res.At.IsZero() {
		res.At = time.Now().UTC()
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE command_log
		 SET outcome = ?, detail = ?, latency_ms = ?, resolved_at = ?
		 WHERE id = ? AND resolved_at IS NULL`,
		res.Outcome, nullableString(res.Detail), res.LatencyMS,
		res.At.UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("resolving command record: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolving command record: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("resolving command %s: %w", id, ErrNotFound)
	}

	return nil
}

// nullableString returns nil for empty strings, or the string otherwise.
// Used for nullable TEXT columns in SQLite.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns command records matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) { //nolint:gocognit // dynamic query builder: WHERE clause assembly from filter fields
	// Clamp limit.
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 { //nolint:mnd // max page size for command log queries
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	// Build WHERE clause dynamically.
	var conditions []string
	var args []any

	if filter.Target != "" {
		conditions = append(conditions, "target = ?")
		args = append(args, filter.Target)
	}
	if filter.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, filter.Outcome)
	}
	if filter.Source != "" {
		conditions = append(conditions, "source = ?")
		args = append(args, filter.Source)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	// Get total count.
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM command_log %s", where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting command records: %w", err)
	}

	// Get paginated results. issued_at is second precision, so the ID
	// breaks ties for commands issued within the same second.
	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		"SELECT id, target, action, source, outcome, detail, latency_ms, issued_at, resolved_at FROM command_log %s ORDER BY issued_at DESC, id LIMIT ? OFFSET ?",
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying command records: %w", err)
	}
	defer rows.Close()

	var records []CommandRecord
	for rows.Next() {
		var rec CommandRecord
		var detail, resolvedAt sql.NullString
		var latency sql.NullInt64
		var issuedAt string

		if err := rows.Scan(&rec.ID, &rec.Target, &rec.Action, &rec.Source,
			&rec.Outcome, &detail, &latency, &issuedAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("scanning command record: %w", err)
		}

		if detail.Valid {
			rec.Detail = detail.String
		}
		if latency.Valid {
			v := latency.Int64
			rec.LatencyMS = &v
		}

		t, err := time.Parse(time.RFC3339, issuedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing command timestamp %q: %w", issuedAt, err)
		}
		rec.IssuedAt = t

		if resolvedAt.Valid {
			t, err := time.Parse(time.RFC3339, resolvedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parsing command timestamp %q: %w", resolvedAt.String, err)
			}
			rec.ResolvedAt = &t
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command records: %w", err)
	}

	if records == nil {
		records = []CommandRecord{}
	}

	return &ListResult{
		Commands: records,
		Total:    total,
		Limit:    filter.Limit,
		Offset:   filter.Offset,
	}, nil
}
