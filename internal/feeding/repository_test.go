package feeding

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
		Path:        filepath.Join(t.TempDir(), "feeding.db"),
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

func fptr(v float64) *float64 { return &v }

func TestStartDefaults(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	s := &Session{Mode: ModeWeight, RequestedGrams: fptr(50)}
	if err := repo.Start(ctx, s); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if !strings.HasPrefix(s.ID, "feed-") {
		t.Errorf("ID = %q, want feed- prefix", s.ID)
	}
	if s.TriggerType != TriggerManual {
		t.Errorf("TriggerType = %q, want %q", s.TriggerType, TriggerManual)
	}
	if s.Status != StatusRunning {
		t.Errorf("Status = %q, want %q", s.Status, StatusRunning)
	}
	if s.StartedAt.IsZero() {
		t.Error("StartedAt was not defaulted")
	}

	result, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(result.Sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(result.Sessions))
	}

	got := result.Sessions[0]
	if got.ID != s.ID || got.Mode != ModeWeight {
		t.Errorf("round trip = %s/%s, want %s/weight", got.ID, got.Mode, s.ID)
	}
	if got.RequestedGrams == nil || *got.RequestedGrams != 50 {
		t.Errorf("RequestedGrams = %v, want 50", got.RequestedGrams)
	}
	if got.DispensedGrams != nil || got.CompletedAt != nil || got.DurationMS != nil {
		t.Error("fresh session should have no dispensed amount, completion time or duration")
	}
	if got.TriggerSource != "" || got.Preset != "" || got.Detail != "" {
		t.Errorf("optional fields = %q/%q/%q, want empty", got.TriggerSource, got.Preset, got.Detail)
	}
}

func TestProgressThenComplete(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	started := time.Date(2026, 8, 21, 6, 30, 0, 0, time.UTC)
	s := &Session{Mode: ModeWeight, RequestedGrams: fptr(100), StartedAt: started}
	if err := repo.Start(ctx, s); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := repo.Progress(ctx, s.ID, 25.5); err != nil {
		t.Fatalf("Progress: %v", err)
	}

	result, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	got := result.Sessions[0]
	if got.Status != StatusRunning {
		t.Errorf("Status = %q, want running", got.Status)
	}
	if got.DispensedGrams == nil || *got.DispensedGrams != 25.5 {
		t.Errorf("DispensedGrams = %v, want 25.5", got.DispensedGrams)
	}

	err = repo.Complete(ctx, s.ID, Completion{
		Status:         StatusCompleted,
		DispensedGrams: 101.2,
		DurationMS:     16000,
		At:             started.Add(16 * time.Second),
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	result, err = repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	got = result.Sessions[0]
	if got.Status != StatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if got.DispensedGrams == nil || *got.DispensedGrams != 101.2 {
		t.Errorf("DispensedGrams = %v, want 101.2", got.DispensedGrams)
	}
	if got.DurationMS == nil || *got.DurationMS != 16000 {
		t.Errorf("DurationMS = %v, want 16000", got.DurationMS)
	}
	if got.CompletedAt == nil {
		t.Fatal("CompletedAt is nil after Complete")
	}
	if got.CompletedAt.Before(got.StartedAt) {
		t.Errorf("CompletedAt = %v, before StartedAt %v", got.CompletedAt, got.StartedAt)
	}
}

func TestCompleteOnlyOnce(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	s := &Session{Mode: ModeWeight, RequestedGrams: fptr(50)}
	if err := repo.Start(ctx, s); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := repo.Complete(ctx, s.ID, Completion{Status: StatusCompleted, DispensedGrams: 50.4, DurationMS: 8000}); err != nil {
		t.Fatalf("first Complete: %v", err)
	}

	err := repo.Complete(ctx, s.ID, Completion{Status: StatusInterrupted})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("second Complete error = %v, want ErrSessionNotFound", err)
	}

	err = repo.Progress(ctx, s.ID, 10)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Progress after Complete error = %v, want ErrSessionNotFound", err)
	}

	result, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	got := result.Sessions[0]
	if got.Status != StatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if got.DispensedGrams == nil || *got.DispensedGrams != 50.4 {
		t.Errorf("DispensedGrams = %v, want 50.4", got.DispensedGrams)
	}
}

func TestActive(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	if _, err := repo.Active(ctx); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("Active on empty table error = %v, want ErrNoActiveSession", err)
	}

	base := time.Date(2026, 8, 21, 7, 0, 0, 0, time.UTC)
	older := &Session{Mode: ModeWeight, RequestedGrams: fptr(50), StartedAt: base}
	newer := &Session{Mode: ModeSequence, RequestedGrams: fptr(80), StartedAt: base.Add(time.Minute)}
	if err := repo.Start(ctx, older); err != nil {
		t.Fatalf("Start older: %v", err)
	}
	if err := repo.Start(ctx, newer); err != nil {
		t.Fatalf("Start newer: %v", err)
	}

	active, err := repo.Active(ctx)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if active.ID != newer.ID {
		t.Errorf("Active = %s, want newest running %s", active.ID, newer.ID)
	}

	if err := repo.Complete(ctx, newer.ID, Completion{Status: StatusInterrupted}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	active, err = repo.Active(ctx)
	if err != nil {
		t.Fatalf("Active after Complete: %v", err)
	}
	if active.ID != older.ID {
		t.Errorf("Active = %s, want %s", active.ID, older.ID)
	}
}

func TestCloseStale(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 21, 8, 0, 0, 0, time.UTC)
	sessions := []Session{
		{ID: "feed-r1", Mode: ModeWeight, Status: StatusRunning, StartedAt: base},
		{ID: "feed-r2", Mode: ModeWeight, Status: StatusRunning, StartedAt: base.Add(time.Minute)},
		{ID: "feed-c1", Mode: ModeWeight, Status: StatusCompleted, StartedAt: base.Add(2 * time.Minute)},
	}
	for i := range sessions {
		if err := repo.Start(ctx, &sessions[i]); err != nil {
			t.Fatalf("seeding %s: %v", sessions[i].ID, err)
		}
	}

	n, err := repo.CloseStale(ctx, "unresolved at restart", base.Add(time.Hour))
	if err != nil {
		t.Fatalf("CloseStale: %v", err)
	}
	if n != 2 {
		t.Errorf("closed %d sessions, want 2", n)
	}

	result, err := repo.List(ctx, Filter{Status: StatusRunning})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if result.Total != 0 {
		t.Errorf("running sessions = %d after CloseStale, want 0", result.Total)
	}

	result, err = repo.List(ctx, Filter{Status: StatusInterrupted})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if result.Total != 2 {
		t.Fatalf("interrupted sessions = %d, want 2", result.Total)
	}
	for _, s := range result.Sessions {
		if s.Detail != "unresolved at restart" {
			t.Errorf("session %s detail = %q", s.ID, s.Detail)
		}
		if s.CompletedAt == nil {
			t.Errorf("session %s has no completion time", s.ID)
		}
	}
}

func TestRecordDeviceCompletion(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	// A completion seen without a bridge-started session is inserted
	// whole, already resolved.
	completed := time.Date(2026, 8, 21, 9, 0, 16, 0, time.UTC)
	s := &Session{
		TriggerType:    TriggerDevice,
		Mode:           ModeWeight,
		RequestedGrams: fptr(50),
		DispensedGrams: fptr(50.8),
		Status:         StatusCompleted,
		StartedAt:      completed.Add(-16 * time.Second),
		CompletedAt:    &completed,
		DurationMS:     int64Ptr(16000),
	}
	if err := repo.Start(ctx, s); err != nil {
		t.Fatalf("Start: %v", err)
	}

	result, err := repo.List(ctx, Filter{TriggerType: TriggerDevice})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(result.Sessions) != 1 {
		t.Fatalf("expected 1 device session, got %d", len(result.Sessions))
	}

	got := result.Sessions[0]
	if got.Status != StatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if got.DispensedGrams == nil || *got.DispensedGrams != 50.8 {
		t.Errorf("DispensedGrams = %v, want 50.8", got.DispensedGrams)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(completed) {
		t.Errorf("CompletedAt = %v, want %v", got.CompletedAt, completed)
	}

	if _, err := repo.Active(ctx); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("Active error = %v, want ErrNoActiveSession", err)
	}
}

func int64Ptr(v int64) *int64 { return &v }

func TestListFilters(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 21, 6, 0, 0, 0, time.UTC)
	seed := []Session{
		{ID: "feed-s1", TriggerType: TriggerManual, TriggerSource: "api", Mode: ModeWeight, RequestedGrams: fptr(50), Status: StatusCompleted, StartedAt: base},
		{ID: "feed-s2", TriggerType: TriggerSchedule, TriggerSource: "sched-dawn", Mode: ModeWeight, Preset: "small", RequestedGrams: fptr(50), Status: StatusCompleted, StartedAt: base.Add(time.Hour)},
		{ID: "feed-s3", TriggerType: TriggerManual, TriggerSource: "mqtt", Mode: ModeSequence, RequestedGrams: fptr(80), Status: StatusTimeout, StartedAt: base.Add(2 * time.Hour)},
		{ID: "feed-s4", TriggerType: TriggerManual, TriggerSource: "cli", Mode: ModeWeight, RequestedGrams: fptr(100), Status: StatusRunning, StartedAt: base.Add(3 * time.Hour)},
	}
	for i := range seed {
		if err := repo.Start(ctx, &seed[i]); err != nil {
			t.Fatalf("seeding %s: %v", seed[i].ID, err)
		}
	}

	tests := []struct {
		name    string
		filter  Filter
		wantIDs []string
	}{
		{
			name:    "all newest first",
			filter:  Filter{},
			wantIDs: []string{"feed-s4", "feed-s3", "feed-s2", "feed-s1"},
		},
		{
			name:    "by status",
			filter:  Filter{Status: StatusCompleted},
			wantIDs: []string{"feed-s2", "feed-s1"},
		},
		{
			name:    "by trigger",
			filter:  Filter{TriggerType: TriggerSchedule},
			wantIDs: []string{"feed-s2"},
		},
		{
			name:    "status and trigger",
			filter:  Filter{Status: StatusCompleted, TriggerType: TriggerManual},
			wantIDs: []string{"feed-s1"},
		},
		{
			name:    "paginated",
			filter:  Filter{Limit: 2, Offset: 1},
			wantIDs: []string{"feed-s3", "feed-s2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(result.Sessions) != len(tt.wantIDs) {
				t.Fatalf("got %d sessions, want %d", len(result.Sessions), len(tt.wantIDs))
			}
			for i, want := range tt.wantIDs {
				if result.Sessions[i].ID != want {
					t.Errorf("session %d = %s, want %s", i, result.Sessions[i].ID, want)
				}
			}
		})
	}

	// Preset survives the round trip on the schedule-triggered row.
	result, err := repo.List(ctx, Filter{TriggerType: TriggerSchedule})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if result.Sessions[0].Preset != "small" {
		t.Errorf("Preset = %q, want small", result.Sessions[0].Preset)
	}
}

func TestListEmpty(t *testing.T) {
	repo := setupTestRepo(t)

	result, err := repo.List(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if result.Sessions == nil {
		t.Error("Sessions is nil, want empty slice")
	}
	if result.Total != 0 {
		t.Errorf("Total = %d, want 0", result.Total)
	}
	if result.Limit != 50 {
		t.Errorf("Limit = %d, want default 50", result.Limit)
	}
}
