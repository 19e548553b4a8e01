package session

import (
	"sort"
	"sync"
)

// MemorySecretStore keeps secrets for the life of the process
type MemorySecretStore struct {
	mu      sync.RWMutex
	secrets map[string]string
}

func NewMemorySecretStore() *MemorySecretStore {
	return &MemorySecretStore{secrets: make(map[string]string)}
}

func (m *MemorySecretStore) Save(sessionID, secret string) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[sessionID] = secret
	return nil
}

func (m *MemorySecretStore) Load(sessionID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	secret, ok := m.secrets[sessionID]
	if !ok || secret == "" {
		return "", ErrNoSecret
	}
	return secret, nil
}

func (m *MemorySecretStore) Delete(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.secrets[sessionID]; !ok {
		return ErrNoSecret
	}
	delete(m.secrets, sessionID)
	return nil
}

func (m *MemorySecretStore) ListAll() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.secrets))
	for id := range m.secrets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemorySecretStore) Exists(sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.secrets[sessionID]
	return ok
}
