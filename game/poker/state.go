package poker

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// State is the merged, authoritative view of a session as pushed by the server.
// A State is never replaced after creation; snapshots are merged into it.
type State struct {
	mu     sync.RWMutex
	fields map[string]json.RawMessage
}

// NewState creates an empty state
func NewState() *State {
	return &State{
		fields: make(map[string]json.RawMessage),
	}
}

// Merge applies a snapshot key by key. Keys in the snapshot overwrite stored
// values, keys absent from it are kept.
func (s *State) Merge(snapshot map[string]json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, value := range snapshot {
		// Copy so the caller may reuse its buffer
		s.fields[key] = append(json.RawMessage(nil), value...)
	}
}

// MergeJSON decodes a JSON object and merges it. A null payload is a no-op.
func (s *State) MergeJSON(data []byte) error {
	var snapshot map[string]json.RawMessage
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("failed to decode state snapshot: %w", err)
	}
	s.Merge(snapshot)
	return nil
}

// Get returns the raw value stored for a top-level key
func (s *State) Get(key string) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.fields[key]
	return value, ok
}

// Keys returns the sorted top-level keys
func (s *State) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.fields))
	for key := range s.fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns a copy of the stored fields
func (s *State) Snapshot() map[string]json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]json.RawMessage, len(s.fields))
	for key, value := range s.fields {
		out[key] = value
	}
	return out
}

// MarshalJSON encodes the merged state as a single object
func (s *State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Snapshot())
}

// Decode unmarshals the value of a top-level key into v. It returns false when
// the key is absent.
func (s *State) Decode(key string, v any) (bool, error) {
	raw, ok := s.Get(key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("failed to decode %q: %w", key, err)
	}
	return true, nil
}

// Users returns the participants keyed by username. Records without a name
// take the map key as name.
func (s *State) Users() map[string]User {
	users := make(map[string]User)
	if _, err := s.Decode(KeyUsers, &users); err != nil {
		return map[string]User{}
	}
	for key, u := range users {
		if u.Name == "" {
			u.Name = key
			users[key] = u
		}
	}
	return users
}

// User returns a single participant
func (s *State) User(name string) (User, bool) {
	u, ok := s.Users()[name]
	return u, ok
}

// Players returns the participants currently voting, sorted by name
func (s *State) Players() []User {
	return s.filterUsers(func(u User) bool { return u.IsPlayer })
}

// Spectators returns the participants not voting, sorted by name
func (s *State) Spectators() []User {
	return s.filterUsers(func(u User) bool { return !u.IsPlayer })
}

// Revealed reports whether votes are revealed
func (s *State) Revealed() bool {
	var revealed bool
	s.Decode(KeyRevealed, &revealed)
	return revealed
}

// ValidVotes returns the vote options carried in the state, if any
func (s *State) ValidVotes() []string {
	raw, ok := s.Get(KeyValidVotes)
	if !ok {
		return nil
	}
	options, err := ParseVoteOptions(raw)
	if err != nil {
		return nil
	}
	return options
}

func (s *State) filterUsers(keep func(User) bool) []User {
	var result []User
	for _, u := range s.Users() {
		if keep(u) {
			result = append(result, u)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}
