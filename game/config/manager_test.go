package config

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestManager(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "default.toml", `server_url = "ws://localhost:4000/socket"`)
	writeFile(t, dir, "work.toml", `
server_url = "wss://poker.example.com/socket"
username = "lucas"
`)
	writeFile(t, dir, "broken.toml", `join_max_attempts = -1`)
	writeFile(t, dir, "notes.txt", `not a profile`)

	manager, err := NewManager(dir)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	t.Run("Default Profile", func(t *testing.T) {
		def := manager.GetDefault()
		if def == nil || def.Name != "default" {
			t.Fatalf("Expected default profile, got %+v", def)
		}
	})

	t.Run("Load Profile", func(t *testing.T) {
		cfg, err := manager.LoadConfig("work")
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Name != "work" || cfg.Username != "lucas" {
			t.Errorf("Unexpected profile %+v", cfg)
		}

		again, _ := manager.LoadConfig("work.toml")
		if again != cfg {
			t.Error("Profiles should be cached")
		}
	})

	t.Run("Missing Profile", func(t *testing.T) {
		if _, err := manager.LoadConfig("nope"); !errors.Is(err, ErrConfigNotFound) {
			t.Errorf("Expected ErrConfigNotFound, got %v", err)
		}
		if _, err := manager.LoadConfig("../work"); !errors.Is(err, ErrConfigNotFound) {
			t.Errorf("Expected ErrConfigNotFound for a path, got %v", err)
		}
	})

	t.Run("Invalid Profile", func(t *testing.T) {
		if _, err := manager.LoadConfig("broken"); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("Expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("List Profiles", func(t *testing.T) {
		profiles, err := manager.ListConfigs()
		if err != nil {
			t.Fatalf("ListConfigs failed: %v", err)
		}
		if len(profiles) != 2 {
			t.Fatalf("Expected 2 valid profiles, got %d", len(profiles))
		}
		if profiles[0].ProfileID != "default" || profiles[1].ProfileID != "work" {
			t.Errorf("Unexpected order: %s, %s", profiles[0].ProfileID, profiles[1].ProfileID)
		}
		if profiles[1].ServerURL != "wss://poker.example.com/socket" {
			t.Errorf("Unexpected server url %s", profiles[1].ServerURL)
		}
	})

	t.Run("Set Default", func(t *testing.T) {
		if err := manager.SetDefault("work"); err != nil {
			t.Fatalf("SetDefault failed: %v", err)
		}
		if manager.GetDefault().Name != "work" {
			t.Errorf("Expected work as default, got %s", manager.GetDefault().Name)
		}
	})

	t.Run("Save Profile", func(t *testing.T) {
		cfg := Default()
		cfg.Name = "home"
		cfg.Username = "ana"
		if err := manager.SaveConfig("home", cfg); err != nil {
			t.Fatalf("SaveConfig failed: %v", err)
		}

		if err := manager.RefreshCache(); err != nil {
			t.Fatalf("RefreshCache failed: %v", err)
		}
		loaded, err := manager.LoadConfig("home")
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if loaded.Username != "ana" {
			t.Errorf("Expected ana, got %s", loaded.Username)
		}

		bad := Default()
		bad.JoinMaxAttempts = 0
		if err := manager.SaveConfig("bad", bad); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("Expected ErrInvalidConfig, got %v", err)
		}
	})
}

func TestManager_FallbacksToBuiltinDefault(t *testing.T) {
	manager, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	if manager.GetDefault().ServerURL != Default().ServerURL {
		t.Error("Expected built-in defaults without profiles")
	}
}

func TestManager_MissingDirectory(t *testing.T) {
	if _, err := NewManager(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("Expected an error for a missing directory")
	}
}
