package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileSecretStore implements SecretStore with one JSON file per session
type FileSecretStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileSecretStore creates the directory if needed
func NewFileSecretStore(dir string) (*FileSecretStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create secrets directory: %w", err)
	}

	return &FileSecretStore{dir: dir}, nil
}

// Dir returns the directory secrets are written to
func (st *FileSecretStore) Dir() string { return st.dir }

// Save writes the secret for a session
func (st *FileSecretStore) Save(sessionID, secret string) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}
	if secret == "" {
		return fmt.Errorf("secret cannot be empty")
	}

	data := PersistedSecret{
		SessionID: sessionID,
		Password:  secret,
		SavedAt:   time.Now().UTC(),
	}

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal secret: %w", err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	// Write then rename so a crash never leaves a truncated file
	tmp := st.path(sessionID) + ".tmp"
	if err := os.WriteFile(tmp, jsonData, 0600); err != nil {
		return fmt.Errorf("failed to write secret file: %w", err)
	}
	if err := os.Rename(tmp, st.path(sessionID)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write secret file: %w", err)
	}

	return nil
}

// Load reads the secret for a session
func (st *FileSecretStore) Load(sessionID string) (string, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return "", err
	}

	st.mu.Lock()
	jsonData, err := os.ReadFile(st.path(sessionID))
	st.mu.Unlock()

	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoSecret
	}
	if err != nil {
		return "", fmt.Errorf("failed to read secret file: %w", err)
	}

	var data PersistedSecret
	if err := json.Unmarshal(jsonData, &data); err != nil {
		return "", fmt.Errorf("failed to unmarshal secret file: %w", err)
	}
	if data.Password == "" {
		return "", ErrNoSecret
	}

	return data.Password, nil
}

// Delete removes the secret file
func (st *FileSecretStore) Delete(sessionID string) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	err := os.Remove(st.path(sessionID))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNoSecret
	}
	if err != nil {
		return fmt.Errorf("failed to remove secret file: %w", err)
	}

	return nil
}

// ListAll returns all session ids with a stored secret, sorted
func (st *FileSecretStore) ListAll() ([]string, error) {
	entries, err := os.ReadDir(st.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if strings.HasSuffix(name, ".json") {
			ids = append(ids, strings.TrimSuffix(name, ".json"))
		}
	}
	sort.Strings(ids)

	return ids, nil
}

// Exists checks if a secret file exists
func (st *FileSecretStore) Exists(sessionID string) bool {
	if ValidateSessionID(sessionID) != nil {
		return false
	}
	_, err := os.Stat(st.path(sessionID))
	return err == nil
}

func (st *FileSecretStore) path(sessionID string) string {
	return filepath.Join(st.dir, sessionID+".json")
}

// ValidateSessionID rejects ids that are empty or could escape a directory
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSessionID)
	}
	if id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}
	return nil
}
