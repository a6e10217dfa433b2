package schedule

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pondlogic/feeder-core/internal/infrastructure/database"
	_ "github.com/pondlogic/feeder-core/migrations" // register embedded migrations
)

// setupTestRepo opens a migrated scratch database and returns a repository on it.
func setupTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "schedule.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}

	return NewSQLiteRepository(db.DB)
}

func mustCreate(t *testing.T, repo *SQLiteRepository, s *Schedule) *Schedule {
	t.Helper()
	if err := repo.Create(context.Background(), s); err != nil {
		t.Fatalf("creating schedule %q: %v", s.Name, err)
	}
	return s
}

func TestCreateDefaults(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	s := &Schedule{
		Name:      "Dawn feed",
		TimeOfDay: "06:45",
		Mode:      ModePreset,
		Preset:    "small",
		Enabled:   true,
	}
	if err := repo.Create(ctx, s); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if !strings.HasPrefix(s.ID, "sched-") {
		t.Errorf("ID = %q, want sched- prefix", s.ID)
	}
	if len(s.DaysOfWeek) != 7 {
		t.Errorf("DaysOfWeek = %v, want all seven days", s.DaysOfWeek)
	}
	if s.CreatedAt.IsZero() || s.UpdatedAt.IsZero() {
		t.Error("timestamps were not defaulted")
	}

	got, err := repo.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "Dawn feed" || got.TimeOfDay != "06:45" {
		t.Errorf("round trip = %q/%q, want Dawn feed/06:45", got.Name, got.TimeOfDay)
	}
	if got.Mode != ModePreset || got.Preset != "small" {
		t.Errorf("mode round trip = %s/%s, want preset/small", got.Mode, got.Preset)
	}
	if got.Grams != nil {
		t.Errorf("Grams = %v, want nil for preset mode", got.Grams)
	}
	if len(got.DaysOfWeek) != 7 || got.DaysOfWeek[0] != "mon" || got.DaysOfWeek[6] != "sun" {
		t.Errorf("DaysOfWeek = %v", got.DaysOfWeek)
	}
	if !got.Enabled {
		t.Error("Enabled did not round trip")
	}
	if got.LastRunAt != nil {
		t.Errorf("LastRunAt = %v, want nil for a fresh schedule", got.LastRunAt)
	}
}

func TestCreateRejectsInvalid(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	s := &Schedule{Name: "Bad", TimeOfDay: "7:30", Mode: ModePreset, Preset: "small"}
	if err := repo.Create(ctx, s); !errors.Is(err, ErrInvalidSchedule) {
		t.Fatalf("Create error = %v, want ErrInvalidSchedule", err)
	}

	list, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("stored %d schedules after rejected create, want 0", len(list))
	}
}

func TestCreateDuplicateID(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	grams := 50.0
	s := &Schedule{ID: "sched-dup", Name: "First", TimeOfDay: "08:00", Mode: ModeGrams, Grams: &grams}
	if err := repo.Create(ctx, s); err != nil {
		t.Fatalf("Create: %v", err)
	}

	dup := &Schedule{ID: "sched-dup", Name: "Second", TimeOfDay: "09:00", Mode: ModeGrams, Grams: &grams}
	if err := repo.Create(ctx, dup); !errors.Is(err, ErrScheduleExists) {
		t.Fatalf("duplicate Create error = %v, want ErrScheduleExists", err)
	}
}

func TestGetNotFound(t *testing.T) {
	repo := setupTestRepo(t)

	_, err := repo.Get(context.Background(), "sched-missing")
	if !errors.Is(err, ErrScheduleNotFound) {
		t.Fatalf("Get error = %v, want ErrScheduleNotFound", err)
	}
}

func TestUpdate(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	grams := 50.0
	s := mustCreate(t, repo, &Schedule{
		Name: "Evening feed", TimeOfDay: "18:00", Mode: ModeGrams, Grams: &grams, Enabled: true,
	})
	stored, err := repo.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	created := stored.CreatedAt

	s.Name = "Late feed"
	s.TimeOfDay = "19:30"
	s.DaysOfWeek = []string{"sat", "sun"}
	s.Enabled = false
	if err := repo.Update(ctx, s); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := repo.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "Late feed" || got.TimeOfDay != "19:30" {
		t.Errorf("update round trip = %q/%q", got.Name, got.TimeOfDay)
	}
	if len(got.DaysOfWeek) != 2 || got.DaysOfWeek[0] != "sat" {
		t.Errorf("DaysOfWeek = %v, want [sat sun]", got.DaysOfWeek)
	}
	if got.Enabled {
		t.Error("Enabled should be false after update")
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt changed on update: %v -> %v", created, got.CreatedAt)
	}
	if got.UpdatedAt.Before(created) {
		t.Errorf("UpdatedAt = %v, before CreatedAt %v", got.UpdatedAt, created)
	}
}

func TestUpdateNotFound(t *testing.T) {
	repo := setupTestRepo(t)

	grams := 50.0
	s := &Schedule{ID: "sched-ghost", Name: "Ghost", TimeOfDay: "12:00", Mode: ModeGrams, Grams: &grams}
	if err := repo.Update(context.Background(), s); !errors.Is(err, ErrScheduleNotFound) {
		t.Fatalf("Update error = %v, want ErrScheduleNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	s := mustCreate(t, repo, &Schedule{
		Name: "Doomed", TimeOfDay: "12:00", Mode: ModePreset, Preset: "large",
	})

	if err := repo.Delete(ctx, s.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.Get(ctx, s.ID); !errors.Is(err, ErrScheduleNotFound) {
		t.Fatalf("Get after Delete error = %v, want ErrScheduleNotFound", err)
	}
	if err := repo.Delete(ctx, s.ID); !errors.Is(err, ErrScheduleNotFound) {
		t.Fatalf("second Delete error = %v, want ErrScheduleNotFound", err)
	}
}

func TestListOrdering(t *testing.T) {
	repo := setupTestRepo(t)

	mustCreate(t, repo, &Schedule{Name: "Evening", TimeOfDay: "18:00", Mode: ModePreset, Preset: "large", Enabled: true})
	mustCreate(t, repo, &Schedule{Name: "Dawn", TimeOfDay: "06:30", Mode: ModePreset, Preset: "small", Enabled: true})
	mustCreate(t, repo, &Schedule{Name: "Midday", TimeOfDay: "12:15", Mode: ModePreset, Preset: "medium", Enabled: false})

	list, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 schedules, got %d", len(list))
	}

	want := []string{"Dawn", "Midday", "Evening"}
	for i, name := range want {
		if list[i].Name != name {
			t.Errorf("schedule %d = %q, want %q", i, list[i].Name, name)
		}
	}
}

func TestListEnabled(t *testing.T) {
	repo := setupTestRepo(t)

	mustCreate(t, repo, &Schedule{Name: "On", TimeOfDay: "08:00", Mode: ModePreset, Preset: "small", Enabled: true})
	mustCreate(t, repo, &Schedule{Name: "Off", TimeOfDay: "09:00", Mode: ModePreset, Preset: "small", Enabled: false})

	list, err := repo.ListEnabled(context.Background())
	if err != nil {
		t.Fatalf("ListEnabled: %v", err)
	}
	if len(list) != 1 || list[0].Name != "On" {
		t.Errorf("ListEnabled = %v, want just the enabled schedule", list)
	}
}

func TestMarkRun(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	s := mustCreate(t, repo, &Schedule{
		Name: "Tracked", TimeOfDay: "07:00", Mode: ModePreset, Preset: "small", Enabled: true,
	})
	stored, err := repo.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	updated := stored.UpdatedAt

	ranAt := time.Date(2026, 8, 20, 7, 0, 12, 0, time.UTC)
	if err := repo.MarkRun(ctx, s.ID, ranAt); err != nil {
		t.Fatalf("MarkRun: %v", err)
	}

	got, err := repo.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.LastRunAt == nil || !got.LastRunAt.Equal(ranAt) {
		t.Errorf("LastRunAt = %v, want %v", got.LastRunAt, ranAt)
	}
	if !got.UpdatedAt.Equal(updated) {
		t.Errorf("UpdatedAt changed on MarkRun: %v -> %v", updated, got.UpdatedAt)
	}

	if err := repo.MarkRun(ctx, "sched-missing", ranAt); !errors.Is(err, ErrScheduleNotFound) {
		t.Fatalf("MarkRun error = %v, want ErrScheduleNotFound", err)
	}
}
