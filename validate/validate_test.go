package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wricardo/pokerboy/game/config"
	"github.com/wricardo/pokerboy/transport/phoenix/phoenixtest"
)

func writeProfile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write profile: %v", err)
	}
	return path
}

func TestValidateProfile_Valid(t *testing.T) {
	path := writeProfile(t, t.TempDir(), "team.toml", `
server_url = "wss://poker.example.com/socket"
username = "lucas"
join_poll_interval = "20ms"
join_max_attempts = 50
`)

	result, cfg := validateProfile(path)
	if !result.Valid {
		t.Fatalf("Expected valid profile, got errors: %v", result.Notes)
	}
	if cfg == nil || cfg.Username != "lucas" {
		t.Errorf("Expected loaded config, got %+v", cfg)
	}
	if len(result.Notes) != 0 {
		t.Errorf("Expected no warnings, got %v", result.Notes)
	}
	if result.File != "team.toml" {
		t.Errorf("Expected file name team.toml, got %s", result.File)
	}
}

func TestValidateProfile_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"syntax", `server_url = `, "failed to parse config"},
		{"unknown key", "server_url = \"ws://localhost:4000/socket\"\ncolour = \"red\"\n", "unknown key"},
		{"bad scheme", `server_url = "ftp://example.com"`, "scheme"},
		{"bad duration", `join_poll_interval = "soon"`, "join_poll_interval"},
		{"bad port", `api_port = 70000`, "api_port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeProfile(t, t.TempDir(), "bad.toml", tt.content)

			result, cfg := validateProfile(path)
			if result.Valid || cfg != nil {
				t.Fatal("Expected invalid profile")
			}
			if len(result.Notes) != 1 || !strings.Contains(result.Notes[0], tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, result.Notes)
			}
		})
	}
}

func TestValidateProfile_MissingFile(t *testing.T) {
	result, _ := validateProfile("/non/existent/profile.toml")
	if result.Valid {
		t.Error("Expected missing file to be invalid")
	}
}

func TestWarnings(t *testing.T) {
	cfg := config.Default()
	cfg.Username = "lucas"
	if notes := warnings(cfg); len(notes) != 0 {
		t.Errorf("Expected no warnings for defaults with a username, got %v", notes)
	}

	cfg = config.Default()
	cfg.ServerURL = "ws://poker.example.com/socket"
	cfg.JoinPollInterval = time.Millisecond
	cfg.JoinMaxAttempts = 10
	cfg.HeartbeatInterval = 5 * time.Minute

	notes := strings.Join(warnings(cfg), "\n")
	for _, want := range []string{"no username", "unencrypted connection to poker.example.com", "join window of 10ms", "heartbeat every 5m0s"} {
		if !strings.Contains(notes, want) {
			t.Errorf("Expected warning %q in:\n%s", want, notes)
		}
	}
}

func TestValidateDir(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "a.toml", "username = \"lucas\"\n")
	writeProfile(t, dir, "b.toml", "api_port = 0\n")
	writeProfile(t, dir, "notes.txt", "ignored")

	var out bytes.Buffer
	ok, err := validateDir(context.Background(), dir, false, time.Second, &out)
	if err != nil {
		t.Fatalf("validateDir failed: %v", err)
	}
	if ok {
		t.Error("Expected validation to fail with an invalid profile")
	}

	report := out.String()
	if !strings.Contains(report, "a.toml\n✅ VALID") || !strings.Contains(report, "b.toml\n❌ INVALID") {
		t.Errorf("Unexpected report:\n%s", report)
	}
	if strings.Contains(report, "notes.txt") {
		t.Error("Non-profile files should be skipped")
	}
}

func TestValidateDir_Empty(t *testing.T) {
	if _, err := validateDir(context.Background(), t.TempDir(), false, time.Second, &bytes.Buffer{}); err == nil {
		t.Error("Expected error for a directory without profiles")
	}
}

func TestValidateDir_Probe(t *testing.T) {
	srv := phoenixtest.NewServer(nil)
	defer srv.Close()

	dir := t.TempDir()
	writeProfile(t, dir, "up.toml", "server_url = \""+srv.SocketURL()+"\"\nusername = \"lucas\"\n")
	writeProfile(t, dir, "down.toml", "server_url = \"ws://127.0.0.1:1/socket\"\nusername = \"lucas\"\n")

	var out bytes.Buffer
	ok, err := validateDir(context.Background(), dir, true, 2*time.Second, &out)
	if err != nil {
		t.Fatalf("validateDir failed: %v", err)
	}
	if ok {
		t.Error("Expected probe failure for the unreachable server")
	}

	report := out.String()
	if !strings.Contains(report, "reachable") || !strings.Contains(report, "down.toml\n❌ INVALID") {
		t.Errorf("Unexpected report:\n%s", report)
	}
	if !strings.Contains(report, "up.toml\n✅ VALID") {
		t.Errorf("Expected reachable profile to pass:\n%s", report)
	}
}
