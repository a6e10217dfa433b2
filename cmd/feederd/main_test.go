package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestRun_InvalidConfig verifies run fails with an invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	originalEnv := os.Getenv("FEEDER_CONFIG")
	defer os.Setenv("FEEDER_CONFIG", originalEnv)

	os.Setenv("FEEDER_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_InvalidDatabasePath verifies run fails when the database path
// is empty.
func TestRun_InvalidDatabasePath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")

	configContent := `
service:
  id: test-feeder

database:
  path: ""

device:
  link:
    url: tcp://127.0.0.1:7060
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	originalEnv := os.Getenv("FEEDER_CONFIG")
	defer os.Setenv("FEEDER_CONFIG", originalEnv)
	os.Setenv("FEEDER_CONFIG", configPath)

	// The config default would repair the empty path, so clear the env
	// override channel too.
	originalDB := os.Getenv("FEEDER_DATABASE_PATH")
	defer os.Setenv("FEEDER_DATABASE_PATH", originalDB)
	os.Unsetenv("FEEDER_DATABASE_PATH")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with empty database path")
	}
}

// TestGetConfigPath_Default verifies the default config path.
func TestGetConfigPath_Default(t *testing.T) {
	originalEnv := os.Getenv("FEEDER_CONFIG")
	defer os.Setenv("FEEDER_CONFIG", originalEnv)

	os.Unsetenv("FEEDER_CONFIG")

	path := getConfigPath()
	if path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies the environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	originalEnv := os.Getenv("FEEDER_CONFIG")
	defer os.Setenv("FEEDER_CONFIG", originalEnv)

	expected := "/custom/path/config.yaml"
	os.Setenv("FEEDER_CONFIG", expected)

	path := getConfigPath()
	if path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

// TestLinkAddr verifies host:port extraction from link URLs.
func TestLinkAddr(t *testing.T) {
	tests := []struct {
		url     string
		want    string
		wantErr bool
	}{
		{"tcp://localhost:7060", "localhost:7060", false},
		{"tcp://10.0.0.5:4000", "10.0.0.5:4000", false},
		{"://bad", "", true},
	}

	for _, tt := range tests {
		got, err := linkAddr(tt.url)
		if (err != nil) != tt.wantErr {
			t.Errorf("linkAddr(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("linkAddr(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}
