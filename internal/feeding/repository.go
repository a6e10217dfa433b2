// Package feeding records feed sessions: one row per feed cycle, from
// the triggering command to the device's completion report.
package feeding

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Session status values. A session is running from the moment the feed
// command is relayed and resolves when the device reports completion.
const (
	StatusRunning     = "running"
	StatusCompleted   = "completed"   // target reached
	StatusTimeout     = "timeout"     // device gave up before the target
	StatusInterrupted = "interrupted" // stopped by a manual command or restart
)

// Feed modes.
const (
	ModeWeight   = "weight"   // dispense until the hopper loses the target grams
	ModeSequence = "sequence" // timed lid/auger/blower phases
)

// Trigger types.
const (
	TriggerManual   = "manual"
	TriggerSchedule = "schedule"
	TriggerDevice   = "device" // completion seen without a session the bridge started
)

// Session is one feed cycle. All amounts are grams; the device reports
// hopper weight in kilograms and the bridge converts before recording.
type Session struct {
	ID             string     `json:"id"`
	TriggerType    string     `json:"trigger_type"`
	TriggerSource  string     `json:"trigger_source,omitempty"` // mqtt, api, cli, or a schedule ID
	Mode           string     `json:"mode"`
	Preset         string     `json:"preset,omitempty"` // small/medium/large when preset-triggered
	RequestedGrams *float64   `json:"requested_grams,omitempty"`
	DispensedGrams *float64   `json:"dispensed_grams,omitempty"`
	Status         string     `json:"status"`
	Detail         string     `json:"detail,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	DurationMS     *int64     `json:"duration_ms,omitempty"`
}

// Completion resolves a running session from the device's report.
type Completion struct {
	Status         string    // StatusCompleted, StatusTimeout or StatusInterrupted
	DispensedGrams float64   // final measured amount
	DurationMS     int64     // device-reported cycle duration
	Detail         string    // optional annotation, may be empty
	At             time.Time // defaults to now if zero
}

// Filter controls which sessions to return.
type Filter struct {
	Status      string // optional: filter by status (running, completed, ...)
	TriggerType string // optional: filter by trigger (manual, schedule, device)
	Limit       int    // default 50, max 200
	Offset      int    // pagination offset
}

// ListResult contains the paginated session results.
type ListResult struct {
	Sessions []Session `json:"sessions"`
	Total    int       `json:"total"`
	Limit    int       `json:"limit"`
	Offset   int       `json:"offset"`
}

// Repository defines the interface for feed session operations.
type Repository interface {
	Start(ctx context.Context, s *Session) error
	Progress(ctx context.Context, id string, dispensedGrams float64) error
	Complete(ctx context.Context, id string, done Completion) error
	Active(ctx context.Context) (*Session, error)
	CloseStale(ctx context.Context, detail string, at time.Time) (int64, error)
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores feed sessions in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new feed session repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Start inserts a new session. The ID, TriggerType, Status and StartedAt
// are defaulted if empty.
func (r *SQLiteRepository) Start(ctx context.Context, s *Session) error {
	if s.ID == "" {
		s.ID = "feed-" + uuid.NewString()[:8]
	}
	if s.TriggerType == "" {
		s.TriggerType = TriggerManual
	}
	if s.Status == "" {
		s.Status = StatusRunning
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now().UTC()
	}

	var completedAt any
	if s.CompletedAt != nil {
		completedAt = s.CompletedAt.UTC().Format(time.RFC3339)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO feed_sessions (id, trigger_type, trigger_source, mode, preset,
		                            requested_grams, dispensed_grams, status, detail,
		                            started_at, completed_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.TriggerType, nullableString(s.TriggerSource), s.Mode, nullableString(s.Preset),
		s.RequestedGrams, s.DispensedGrams, s.Status, nullableString(s.Detail),
		s.StartedAt.UTC().Format(time.RFC3339), completedAt, s.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("inserting feed session: %w", err)
	}

	return nil
}

// Progress updates the dispensed amount of a running session. Sessions
// that already resolved are left untouched.
func (r *SQLiteRepository) Progress(ctx context.Context, id string, dispensedGrams float64) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE feed_sessions SET dispensed_grams = ? WHERE id = ? AND status = ?`,
		dispensedGrams, id, StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("updating feed progress: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating feed progress: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("progress for session %s: %w", id, ErrSessionNotFound)
	}

	return nil
}

// Complete resolves a running session. Only the first completion wins;
// a session that already resolved returns ErrSessionNotFound.
func (r *SQLiteRepository) Complete(ctx context.Context, id string, done Completion) error {
	if done.At.IsZero() {
		done.At = time.Now().UTC()
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE feed_sessions
		 SET status = ?, dispensed_grams = ?, detail = ?, completed_at = ?, duration_ms = ?
		 WHERE id = ? AND status = ?`,
		done.Status, done.DispensedGrams, nullableString(done.Detail),
		done.At.UTC().Format(time.RFC3339), done.DurationMS,
		id, StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("completing feed session: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("completing feed session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("completing session %s: %w", id, ErrSessionNotFound)
	}

	return nil
}

// Active returns the most recently started running session, or
// ErrNoActiveSession when no feed is in flight.
func (r *SQLiteRepository) Active(ctx context.Context) (*Session, error) {
	row := r.db.QueryRowContext(ctx,
		selectColumns+` FROM feed_sessions WHERE status = ? ORDER BY started_at DESC, id LIMIT 1`,
		StatusRunning,
	)

	s, err := scanSession(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoActiveSession
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// CloseStale marks every running session as interrupted. Called at
// bridge startup so sessions orphaned by a crash or restart do not stay
// running forever. Returns the number of sessions closed.
func (r *SQLiteRepository) CloseStale(ctx context.Context, detail string, at time.Time) (int64, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE feed_sessions SET status = ?, detail = ?, completed_at = ? WHERE status = ?`,
		StatusInterrupted, nullableString(detail), at.UTC().Format(time.RFC3339), StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("closing stale sessions: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("closing stale sessions: %w", err)
	}
	return n, nil
}

// nullableString returns nil for empty strings, or the string otherwise.
// Used for nullable TEXT columns in SQLite.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

const selectColumns = `SELECT id, trigger_type, trigger_source, mode, preset,
	requested_grams, dispensed_grams, status, detail,
	started_at, completed_at, duration_ms`

// scanSession reads one session row. The scan argument is row.Scan or
// rows.Scan, so the same column handling serves Get and List paths.
func scanSession(scan func(dest ...any) error) (*Session, error) {
	var s Session
	var triggerSource, preset, detail, completedAt sql.NullString
	var requested, dispensed sql.NullFloat64
	var durationMS sql.NullInt64
	var startedAt string

	err := scan(&s.ID, &s.TriggerType, &triggerSource, &s.Mode, &preset,
		&requested, &dispensed, &s.Status, &detail,
		&startedAt, &completedAt, &durationMS)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning feed session: %w", err)
	}

	if triggerSource.Valid {
		s.TriggerSource = triggerSource.String
	}
	if preset.Valid {
		s.Preset = preset.String
	}
	if detail.Valid {
		s.Detail = detail.String
	}
	if requested.Valid {
		v := requested.Float64
		s.RequestedGrams = &v
	}
	if dispensed.Valid {
		v := dispensed.Float64
		s.DispensedGrams = &v
	}
	if durationMS.Valid {
		v := durationMS.Int64
		s.DurationMS = &v
	}

	t, err := time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing session timestamp %q: %w", startedAt, err)
	}
	s.StartedAt = t

	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339, completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing session timestamp %q: %w", completedAt.String, err)
		}
		s.CompletedAt = &t
	}

	return &s, nil
}

// List returns sessions matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	// Clamp limit.
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 { //nolint:mnd // max page size for session queries
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	// Build WHERE clause dynamically.
	var conditions []string
	var args []any

	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.TriggerType != "" {
		conditions = append(conditions, "trigger_type = ?")
		args = append(args, filter.TriggerType)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	// Get total count.
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM feed_sessions %s", where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting feed sessions: %w", err)
	}

	// Get paginated results.
	query := fmt.Sprintf("%s FROM feed_sessions %s ORDER BY started_at DESC, id LIMIT ? OFFSET ?", //nolint:gosec // WHERE built from parameterised conditions, not user input
		selectColumns, where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying feed sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		s, err := scanSession(rows.Scan)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating feed sessions: %w", err)
	}

	if sessions == nil {
		sessions = []Session{}
	}

	return &ListResult{
		Sessions: sessions,
		Total:    total,
		Limit:    filter.Limit,
		Offset:   filter.Offset,
	}, nil
}
