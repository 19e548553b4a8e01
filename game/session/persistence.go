package session

import (
	"errors"
	"time"
)

// ErrNoSecret is returned when no admin secret is stored for a session
var ErrNoSecret = errors.New("no admin secret stored")

// SecretStore persists the admin secret issued when a session is created, so
// the creator can reclaim admin rights after rejoining
type SecretStore interface {
	// Save stores the secret for a session, replacing any previous one
	Save(sessionID, secret string) error

	// Load returns the stored secret or ErrNoSecret
	Load(sessionID string) (string, error)

	// Delete removes the stored secret
	Delete(sessionID string) error

	// ListAll returns every session id with a stored secret
	ListAll() ([]string, error)

	// Exists checks if a secret is stored for the session
	Exists(sessionID string) bool
}

// PersistedSecret is the JSON structure written per session
type PersistedSecret struct {
	SessionID string    `json:"session_id"`
	Password  string    `json:"password"`
	SavedAt   time.Time `json:"saved_at"`
}
