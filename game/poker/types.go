package poker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Well-known top-level keys of a session snapshot.
const (
	KeyUsers      = "users"
	KeyRevealed   = "revealed"
	KeyValidVotes = "valid_votes"
)

// User is one participant of a session.
type User struct {
	Name     string          `json:"name"`
	IsPlayer bool            `json:"is_player"`
	HasVoted bool            `json:"has_voted"`
	Vote     json.RawMessage `json:"vote,omitempty"`
	IsAdmin  bool            `json:"is_admin"`
}

// VoteHidden reports whether the user's vote is not visible to this client,
// either because nothing was cast or because votes are not revealed yet.
func (u User) VoteHidden() bool {
	v := bytes.TrimSpace(u.Vote)
	return len(v) == 0 || bytes.Equal(v, []byte("null"))
}

// VoteString returns the revealed vote formatted as text.
func (u User) VoteString() string {
	if u.VoteHidden() {
		return ""
	}
	return formatOption(u.Vote)
}

// ParseVoteOptions decodes a JSON array of vote options. Options may be
// numbers or strings; both are returned as text ("1", "0.5", "?").
func ParseVoteOptions(raw json.RawMessage) ([]string, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("failed to parse vote options: %w", err)
	}

	options := make([]string, 0, len(items))
	for _, item := range items {
		options = append(options, formatOption(item))
	}
	return options, nil
}

func formatOption(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err == nil {
		if f, err := strconv.ParseFloat(n.String(), 64); err == nil {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return n.String()
	}

	return string(bytes.TrimSpace(raw))
}
