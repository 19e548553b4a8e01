package service

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wricardo/pokerboy/game/poker"
	"github.com/wricardo/pokerboy/game/session"
)

// SessionInfo provides information about a joined session
type SessionInfo struct {
	ID         string     `json:"id"`
	Username   string     `json:"username"`
	Status     string     `json:"status"`
	Stale      bool       `json:"stale"`
	IsAdmin    bool       `json:"is_admin"`
	HasSecret  bool       `json:"has_secret"`
	JoinedAt   time.Time  `json:"joined_at"`
	ValidVotes []string   `json:"valid_votes"`
	State      *StateView `json:"state"`
}

// StateView is a read-only rendering of the merged session state
type StateView struct {
	Revealed   bool            `json:"revealed"`
	Players    []UserView      `json:"players"`
	Spectators []UserView      `json:"spectators"`
	Summary    *VoteSummary    `json:"summary,omitempty"`
	Raw        json.RawMessage `json:"raw"`
}

// UserView is one participant. Vote is empty while hidden.
type UserView struct {
	Name     string `json:"name"`
	IsPlayer bool   `json:"is_player"`
	HasVoted bool   `json:"has_voted"`
	IsAdmin  bool   `json:"is_admin"`
	Vote     string `json:"vote,omitempty"`
}

// VoteSummary tallies revealed votes
type VoteSummary struct {
	Votes   int            `json:"votes"`
	Counts  map[string]int `json:"counts"`
	Average *float64       `json:"average,omitempty"`
	// Consensus is set when every player voted the same value
	Consensus string `json:"consensus,omitempty"`
}

// ActionResult reports that an action was handed to the transport. The
// outcome arrives later as a state update.
type ActionResult struct {
	SessionID string `json:"session_id"`
	Action    string `json:"action"`
	Sent      bool   `json:"sent"`
	Message   string `json:"message"`
}

func newSessionInfo(s *session.Session) *SessionInfo {
	info := &SessionInfo{
		ID:         s.ID(),
		Username:   s.Username(),
		Status:     string(s.Status()),
		Stale:      s.Stale(),
		HasSecret:  s.AdminSecret() != "",
		JoinedAt:   s.JoinedAt(),
		ValidVotes: s.ValidVotes(),
		State:      NewStateView(s.State()),
	}
	if info.ValidVotes == nil {
		info.ValidVotes = []string{}
	}
	if user, ok := s.CurrentUser(); ok {
		info.IsAdmin = user.IsAdmin
	}
	return info
}

// NewStateView renders a state snapshot
func NewStateView(state *poker.State) *StateView {
	raw, err := state.MarshalJSON()
	if err != nil {
		raw = json.RawMessage(`{}`)
	}

	view := &StateView{
		Revealed:   state.Revealed(),
		Players:    toUserViews(state.Players()),
		Spectators: toUserViews(state.Spectators()),
		Raw:        raw,
	}
	if view.Revealed {
		view.Summary = summarize(state.Players())
	}
	return view
}

func toUserViews(users []poker.User) []UserView {
	views := make([]UserView, 0, len(users))
	for _, u := range users {
		views = append(views, UserView{
			Name:     u.Name,
			IsPlayer: u.IsPlayer,
			HasVoted: u.HasVoted,
			IsAdmin:  u.IsAdmin,
			Vote:     u.VoteString(),
		})
	}
	return views
}

func summarize(players []poker.User) *VoteSummary {
	summary := &VoteSummary{Counts: make(map[string]int)}

	var total float64
	numeric := 0
	for _, p := range players {
		if p.VoteHidden() {
			continue
		}
		vote := p.VoteString()
		summary.Votes++
		summary.Counts[vote]++

		if n, err := strconv.ParseFloat(vote, 64); err == nil {
			total += n
			numeric++
		}
	}

	if numeric > 0 {
		avg := total / float64(numeric)
		summary.Average = &avg
	}
	if len(summary.Counts) == 1 && summary.Votes == len(players) {
		for vote := range summary.Counts {
			summary.Consensus = vote
		}
	}
	return summary
}

// NormalizeVote turns numeric strings into JSON numbers so "3" and 3 are sent
// the same way; anything else is sent unchanged
func NormalizeVote(vote any) any {
	text, ok := vote.(string)
	if !ok {
		return vote
	}
	trimmed := strings.TrimSpace(text)
	if _, err := strconv.ParseFloat(trimmed, 64); err == nil && json.Valid([]byte(trimmed)) {
		return json.Number(trimmed)
	}
	return text
}

func sortedInfos(infos []*SessionInfo) {
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
}
