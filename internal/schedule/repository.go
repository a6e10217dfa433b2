package schedule

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for schedule persistence.
type Repository interface {
	Create(ctx context.Context, s *Schedule) error
	Get(ctx context.Context, id string) (*Schedule, error)
	List(ctx context.Context) ([]Schedule, error)
	ListEnabled(ctx context.Context) ([]Schedule, error)
	Update(ctx context.Context, s *Schedule) error
	Delete(ctx context.Context, id string) error
	MarkRun(ctx context.Context, id string, at time.Time) error
}

// scheduleColumns is the SELECT column list for schedule queries.
const scheduleColumns = `id, name, time_of_day, days_of_week, mode, preset, grams,
	enabled, last_run_at, created_at, updated_at`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed schedule repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create validates and inserts a new schedule. The ID and timestamps are
// defaulted if empty; an empty day set becomes every day.
func (r *SQLiteRepository) Create(ctx context.Context, s *Schedule) error {
	if err := ValidateSchedule(s); err != nil {
		return err
	}

	if s.ID == "" {
		s.ID = "sched-" + uuid.NewString()[:8]
	}
	if len(s.DaysOfWeek) == 0 {
		s.DaysOfWeek = AllDays()
	}
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO feeding_schedules (id, name, time_of_day, days_of_week, mode, preset,
		                                grams, enabled, last_run_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Name, s.TimeOfDay, strings.Join(s.DaysOfWeek, ","), s.Mode,
		nullableString(s.Preset), s.Grams, boolToInt(s.Enabled), nullableTime(s.LastRunAt),
		s.CreatedAt.Format(time.RFC3339), s.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrScheduleExists
		}
		return fmt.Errorf("inserting schedule: %w", err)
	}
	return nil
}

// Get retrieves a schedule by ID.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Schedule, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM feeding_schedules WHERE id = ?`, id)

	s, err := scanSchedule(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScheduleNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// List retrieves all schedules ordered by time of day then name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Schedule, error) {
	return r.querySchedules(ctx,
		`SELECT `+scheduleColumns+` FROM feeding_schedules ORDER BY time_of_day, name`)
}

// ListEnabled retrieves the schedules the scheduler should evaluate.
func (r *SQLiteRepository) ListEnabled(ctx context.Context) ([]Schedule, error) {
	return r.querySchedules(ctx,
		`SELECT `+scheduleColumns+` FROM feeding_schedules WHERE enabled = 1 ORDER BY time_of_day, name`)
}

// Update validates and modifies an existing schedule. The last-run
// marker and creation time are never touched here.
func (r *SQLiteRepository) Update(ctx context.Context, s *Schedule) error {
	if err := ValidateSchedule(s); err != nil {
		return err
	}

	if len(s.DaysOfWeek) == 0 {
		s.DaysOfWeek = AllDays()
	}
	s.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx,
		`UPDATE feeding_schedules
		 SET name = ?, time_of_day = ?, days_of_week = ?, mode = ?, preset = ?,
		     grams = ?, enabled = ?, updated_at = ?
		 WHERE id = ?`,
		s.Name, s.TimeOfDay, strings.Join(s.DaysOfWeek, ","), s.Mode,
		nullableString(s.Preset), s.Grams, boolToInt(s.Enabled),
		s.UpdatedAt.Format(time.RFC3339), s.ID,
	)
	if err != nil {
		return fmt.Errorf("updating schedule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

// Delete removes a schedule by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM feeding_schedules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting schedule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

// MarkRun records a successful trigger without touching updated_at, so
// edits and firings stay distinguishable.
func (r *SQLiteRepository) MarkRun(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE feeding_schedules SET last_run_at = ? WHERE id = ?",
		at.UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("recording schedule run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

// querySchedules runs a SELECT returning full schedule rows.
func (r *SQLiteRepository) querySchedules(ctx context.Context, query string, args ...any) ([]Schedule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying schedules: %w", err)
	}
	defer rows.Close()

	var schedules []Schedule
	for rows.Next() {
		s, err := scanSchedule(rows.Scan)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating schedules: %w", err)
	}

	if schedules == nil {
		schedules = []Schedule{}
	}
	return schedules, nil
}

// scanSchedule reads one schedule row. The scan argument is row.Scan or
// rows.Scan, so the same column handling serves Get and List paths.
func scanSchedule(scan func(dest ...any) error) (*Schedule, error) {
	var s Schedule
	var days string
	var preset, lastRunAt sql.NullString
	var grams sql.NullFloat64
	var enabled int
	var createdAt, updatedAt string

	err := scan(&s.ID, &s.Name, &s.TimeOfDay, &days, &s.Mode, &preset, &grams,
		&enabled, &lastRunAt, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning schedule: %w", err)
	}

	if days != "" {
		s.DaysOfWeek = strings.Split(days, ",")
	}
	if preset.Valid {
		s.Preset = preset.String
	}
	if grams.Valid {
		v := grams.Float64
		s.Grams = &v
	}
	s.Enabled = enabled != 0

	if lastRunAt.Valid {
		t, err := time.Parse(time.RFC3339, lastRunAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing schedule timestamp %q: %w", lastRunAt.String, err)
		}
		s.LastRunAt = &t
	}

	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing schedule timestamp %q: %w", createdAt, err)
	}
	s.CreatedAt = t

	t, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing schedule timestamp %q: %w", updatedAt, err)
	}
	s.UpdatedAt = t

	return &s, nil
}

// nullableString returns nil for empty strings, or the string otherwise.
// Used for nullable TEXT columns in SQLite.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
