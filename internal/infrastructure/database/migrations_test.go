package database

import "testing"

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		wantVersion string
		wantIsUp    bool
		wantOK      bool
	}{
		{
			name:        "up migration",
			filename:    "001_command_log.up.sql",
			wantVersion: "001",
			wantIsUp:    true,
			wantOK:      true,
		},
		{
			name:        "down migration",
			filename:    "002_feed_sessions.down.sql",
			wantVersion: "002",
			wantIsUp:    false,
			wantOK:      true,
		},
		{
			name:        "multi word description",
			filename:    "003_feeding_schedules_v2.up.sql",
			wantVersion: "003",
			wantIsUp:    true,
			wantOK:      true,
		},
		{
			name:     "not sql",
			filename: "001_command_log.up.txt",
			wantOK:   false,
		},
		{
			name:     "no direction suffix",
			filename: "001_command_log.sql",
			wantOK:   false,
		},
		{
			name:     "no description",
			filename: "001.up.sql",
			wantOK:   false,
		},
		{
			name:     "non numeric version",
			filename: "abc_command_log.up.sql",
			wantOK:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, isUp, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !tt.wantOK {
				return
			}
			if version != tt.wantVersion {
				t.Errorf("version = %q, want %q", version, tt.wantVersion)
			}
			if isUp != tt.wantIsUp {
				t.Errorf("isUp = %v, want %v", isUp, tt.wantIsUp)
			}
		})
	}
}

func TestExtractMigrationName(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"001_command_log.up.sql", "command_log"},
		{"002_feed_sessions.down.sql", "feed_sessions"},
		{"003_feeding_schedules_v2.up.sql", "feeding_schedules_v2"},
		{"nounderscores.up.sql", "nounderscores"},
	}

	for _, tt := range tests {
		got := extractMigrationName(tt.filename)
		if got != tt.want {
			t.Errorf("extractMigrationName(%q) = %q, want %q", tt.filename, got, tt.want)
		}
	}
}
