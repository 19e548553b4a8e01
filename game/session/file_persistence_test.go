package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileSecretStore(t *testing.T) {
	tempDir := t.TempDir()

	store, err := NewFileSecretStore(filepath.Join(tempDir, "secrets"))
	if err != nil {
		t.Fatalf("Failed to create secret store: %v", err)
	}

	t.Run("Save and Load Secret", func(t *testing.T) {
		if err := store.Save("abc", "pw"); err != nil {
			t.Fatalf("Failed to save secret: %v", err)
		}

		if !store.Exists("abc") {
			t.Error("Secret file should exist after save")
		}

		secret, err := store.Load("abc")
		if err != nil {
			t.Fatalf("Failed to load secret: %v", err)
		}
		if secret != "pw" {
			t.Errorf("Expected secret 'pw', got %q", secret)
		}
	})

	t.Run("Save Overwrites", func(t *testing.T) {
		if err := store.Save("abc", "pw2"); err != nil {
			t.Fatalf("Failed to save secret: %v", err)
		}

		secret, err := store.Load("abc")
		if err != nil {
			t.Fatalf("Failed to load secret: %v", err)
		}
		if secret != "pw2" {
			t.Errorf("Expected secret 'pw2', got %q", secret)
		}
	})

	t.Run("File Format and Mode", func(t *testing.T) {
		path := filepath.Join(store.Dir(), "abc.json")
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("Failed to stat secret file: %v", err)
		}
		if info.Mode().Perm() != 0600 {
			t.Errorf("Expected mode 0600, got %v", info.Mode().Perm())
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("Failed to read secret file: %v", err)
		}

		var data PersistedSecret
		if err := json.Unmarshal(raw, &data); err != nil {
			t.Fatalf("Secret file is not valid JSON: %v", err)
		}
		if data.SessionID != "abc" || data.Password != "pw2" {
			t.Errorf("Unexpected file contents: %+v", data)
		}
		if data.SavedAt.IsZero() {
			t.Error("SavedAt should be set")
		}
	})

	t.Run("Load Missing Secret", func(t *testing.T) {
		_, err := store.Load("missing")
		if !errors.Is(err, ErrNoSecret) {
			t.Errorf("Expected ErrNoSecret, got %v", err)
		}
	})

	t.Run("List All", func(t *testing.T) {
		if err := store.Save("def", "other"); err != nil {
			t.Fatalf("Failed to save secret: %v", err)
		}

		ids, err := store.ListAll()
		if err != nil {
			t.Fatalf("Failed to list secrets: %v", err)
		}
		if len(ids) != 2 || ids[0] != "abc" || ids[1] != "def" {
			t.Errorf("Expected [abc def], got %v", ids)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := store.Delete("def"); err != nil {
			t.Fatalf("Failed to delete secret: %v", err)
		}
		if store.Exists("def") {
			t.Error("Secret should not exist after delete")
		}
		if err := store.Delete("def"); !errors.Is(err, ErrNoSecret) {
			t.Errorf("Expected ErrNoSecret deleting twice, got %v", err)
		}
	})

	t.Run("Survives Reopen", func(t *testing.T) {
		reopened, err := NewFileSecretStore(store.Dir())
		if err != nil {
			t.Fatalf("Failed to reopen store: %v", err)
		}

		secret, err := reopened.Load("abc")
		if err != nil || secret != "pw2" {
			t.Errorf("Expected pw2 after reopen, got %q (%v)", secret, err)
		}
	})
}

func TestFileSecretStore_InvalidIDs(t *testing.T) {
	store, err := NewFileSecretStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create secret store: %v", err)
	}

	for _, id := range []string{"", ".", "..", "../escape", "a/b", `a\b`} {
		if err := store.Save(id, "pw"); !errors.Is(err, ErrInvalidSessionID) {
			t.Errorf("Save(%q): expected ErrInvalidSessionID, got %v", id, err)
		}
		if _, err := store.Load(id); !errors.Is(err, ErrInvalidSessionID) {
			t.Errorf("Load(%q): expected ErrInvalidSessionID, got %v", id, err)
		}
		if store.Exists(id) {
			t.Errorf("Exists(%q) should be false", id)
		}
	}
}

func TestFileSecretStore_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileSecretStore(dir)
	if err != nil {
		t.Fatalf("Failed to create secret store: %v", err)
	}

	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0600)
	os.Mkdir(filepath.Join(dir, "nested.json"), 0700)
	store.Save("abc", "pw")

	ids, err := store.ListAll()
	if err != nil {
		t.Fatalf("Failed to list secrets: %v", err)
	}
	if len(ids) != 1 || ids[0] != "abc" {
		t.Errorf("Expected [abc], got %v", ids)
	}
}

func TestMemorySecretStore(t *testing.T) {
	store := NewMemorySecretStore()

	if _, err := store.Load("abc"); !errors.Is(err, ErrNoSecret) {
		t.Errorf("Expected ErrNoSecret, got %v", err)
	}

	store.Save("def", "two")
	store.Save("abc", "one")

	if secret, _ := store.Load("abc"); secret != "one" {
		t.Errorf("Expected 'one', got %q", secret)
	}
	if !store.Exists("def") {
		t.Error("def should exist")
	}

	ids, _ := store.ListAll()
	if len(ids) != 2 || ids[0] != "abc" {
		t.Errorf("Expected sorted ids, got %v", ids)
	}

	if err := store.Delete("abc"); err != nil {
		t.Errorf("Delete failed: %v", err)
	}
	if store.Exists("abc") {
		t.Error("abc should be gone")
	}
	if err := store.Save("../x", "pw"); !errors.Is(err, ErrInvalidSessionID) {
		t.Errorf("Expected ErrInvalidSessionID, got %v", err)
	}
}
