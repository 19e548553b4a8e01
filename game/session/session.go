package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/wricardo/pokerboy/game/poker"
	"github.com/wricardo/pokerboy/observability"
	"github.com/wricardo/pokerboy/transport/phoenix"
)

// Wire names
const (
	TopicPrefix = "game:"
	LobbyTopic  = TopicPrefix + "lobby"

	EventCreate      = "create"
	EventCreated     = "created"
	EventError       = "error"
	EventGameUpdate  = "game_update"
	EventValidVotes  = "valid_votes"
	EventCurrentUser = "current_user"

	EventUserVote      = "user_vote"
	EventReveal        = "reveal"
	EventReset         = "reset"
	EventTogglePlaying = "toggle_playing"
	EventUserPromote   = "user_promote"
	EventBecomeAdmin   = "become_admin"
)

// Status is the connection lifecycle of a Session
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusJoined     Status = "joined"
	StatusFailed     Status = "failed"
)

// JoinOptions bounds the join-completion poll
type JoinOptions struct {
	PollInterval time.Duration
	MaxAttempts  int
}

// Session is one joined planning poker session
type Session struct {
	id     string
	state  *poker.State
	logger zerolog.Logger

	mu          sync.RWMutex
	channel     Channel
	username    string
	adminSecret string
	status      Status
	stale       bool
	validVotes  []string
	joinedAt    time.Time

	subsMu      sync.Mutex
	subscribers []subscriber
	nextSubID   int
}

func newSession(id, username, adminSecret string, logger zerolog.Logger) *Session {
	return &Session{
		id:          id,
		state:       poker.NewState(),
		logger:      logger.With().Str("session", id).Logger(),
		username:    username,
		adminSecret: adminSecret,
		status:      StatusConnecting,
	}
}

// ID returns the session identifier
func (s *Session) ID() string { return s.id }

// State returns the merged session state. The pointer never changes.
func (s *Session) State() *poker.State { return s.state }

// Username returns the name this client presents in the session
func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

// AdminSecret returns the remembered admin secret, if any
func (s *Session) AdminSecret() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.adminSecret
}

// Status returns the connection lifecycle status
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Stale reports whether the connection dropped after the session was joined
func (s *Session) Stale() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stale
}

// JoinedAt returns when the join completed
func (s *Session) JoinedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.joinedAt
}

// ValidVotes returns the last vote options pushed by the server, falling back
// to options carried in the state
func (s *Session) ValidVotes() []string {
	s.mu.RLock()
	votes := s.validVotes
	s.mu.RUnlock()

	if votes != nil {
		return append([]string(nil), votes...)
	}
	return s.state.ValidVotes()
}

// CurrentUser returns this client's record from the state
func (s *Session) CurrentUser() (poker.User, bool) {
	return s.state.User(s.Username())
}

// join opens the session channel and waits until it reports joined
func (s *Session) join(ctx context.Context, transport Transport, opts JoinOptions) error {
	ch := transport.Channel(TopicPrefix+s.id, map[string]string{"name": s.Username()})

	s.mu.Lock()
	s.channel = ch
	s.mu.Unlock()

	// Handlers are bound before joining so the first push is never missed
	ch.On(EventGameUpdate, s.handleGameUpdate)
	ch.On(EventValidVotes, s.handleValidVotes)
	ch.On(EventCurrentUser, s.handleCurrentUser)
	ch.On(phoenix.EventError, func(json.RawMessage) { s.markStale(ErrChannelErrored) })
	ch.On(phoenix.EventClose, func(json.RawMessage) { s.markStale(ErrChannelClosed) })

	rejected := make(chan json.RawMessage, 1)
	err := ch.Join(func(reason json.RawMessage) {
		select {
		case rejected <- reason:
		default:
		}
	})
	if err != nil {
		s.fail(ch)
		return fmt.Errorf("failed to join session %s: %w", s.id, err)
	}

	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			s.fail(ch)
			return fmt.Errorf("join session %s: %w", s.id, ctx.Err())

		case reason := <-rejected:
			s.fail(ch)
			return fmt.Errorf("%w: %s", ErrJoinRejected, describeReason(reason))

		case <-ticker.C:
			if ch.Joined() {
				s.mu.Lock()
				s.status = StatusJoined
				s.joinedAt = time.Now()
				s.mu.Unlock()

				s.logger.Info().Str("user", s.Username()).Int("attempts", attempts+1).Msg("session joined")
				return nil
			}

			attempts++
			if attempts >= opts.MaxAttempts {
				s.fail(ch)
				return fmt.Errorf("%w: session %s not joined after %d checks", ErrJoinTimeout, s.id, attempts)
			}
		}
	}
}

// fail marks the join failed and releases the channel
func (s *Session) fail(ch Channel) {
	s.mu.Lock()
	s.status = StatusFailed
	s.mu.Unlock()

	if err := ch.Leave(); err != nil {
		s.logger.Debug().Err(err).Msg("failed to release channel")
	}
}

// markStale flags a joined session whose connection or channel went away and
// releases its channel so the socket stops routing frames to it
func (s *Session) markStale(err error) {
	s.mu.Lock()
	if s.status != StatusJoined || s.stale {
		s.mu.Unlock()
		return
	}
	s.stale = true
	s.mu.Unlock()

	s.logger.Warn().Err(err).Msg("session is stale")
	s.release()
	s.publish(Disconnected{SessionID: s.id, Err: err})
}

// release leaves the channel once. Later actions fail with ErrNotJoined.
func (s *Session) release() {
	s.mu.Lock()
	ch := s.channel
	s.channel = nil
	s.mu.Unlock()

	if ch == nil {
		return
	}
	if err := ch.Leave(); err != nil {
		s.logger.Debug().Err(err).Msg("failed to release channel")
	}
}

func (s *Session) handleGameUpdate(payload json.RawMessage) {
	observability.RecordSessionEvent(EventGameUpdate)

	var body struct {
		State json.RawMessage `json:"state"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || len(body.State) == 0 {
		s.logger.Warn().Err(err).Msg("ignoring malformed game_update")
		return
	}

	if err := s.state.MergeJSON(body.State); err != nil {
		s.logger.Warn().Err(err).Msg("ignoring game_update")
		return
	}

	s.publish(StateChanged{SessionID: s.id, State: s.state})
}

func (s *Session) handleValidVotes(payload json.RawMessage) {
	observability.RecordSessionEvent(EventValidVotes)

	var body struct {
		ValidVotes json.RawMessage `json:"valid_votes"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		s.logger.Warn().Err(err).Msg("ignoring malformed valid_votes")
		return
	}

	votes, err := poker.ParseVoteOptions(body.ValidVotes)
	if err != nil {
		s.logger.Warn().Err(err).Msg("ignoring valid_votes")
		return
	}
	if votes == nil {
		votes = []string{}
	}

	s.mu.Lock()
	s.validVotes = votes
	s.mu.Unlock()

	s.publish(ValidVotesChanged{SessionID: s.id, Votes: append([]string(nil), votes...)})
}

func (s *Session) handleCurrentUser(payload json.RawMessage) {
	observability.RecordSessionEvent(EventCurrentUser)

	var body struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || body.Name == "" {
		s.logger.Warn().Err(err).Msg("ignoring malformed current_user")
		return
	}

	s.mu.Lock()
	previous := s.username
	s.username = body.Name
	s.mu.Unlock()

	if previous != body.Name {
		s.logger.Info().Str("from", previous).Str("to", body.Name).Msg("username assigned by server")
	}
	s.publish(CurrentUserChanged{SessionID: s.id, Name: body.Name})
}

// Session actions. Each pushes one message and returns without waiting for
// an acknowledgment; the outcome arrives as a later game_update. Errors are
// local send failures only.

// Vote casts or replaces this user's hidden vote
func (s *Session) Vote(vote any) error {
	return s.push(EventUserVote, map[string]any{"vote": vote})
}

// Reveal shows every vote (admin only)
func (s *Session) Reveal() error {
	return s.push(EventReveal, struct{}{})
}

// Reset clears every vote (admin only)
func (s *Session) Reset() error {
	return s.push(EventReset, struct{}{})
}

// TogglePlaying moves a user between player and spectator (admin only)
func (s *Session) TogglePlaying(user string) error {
	return s.push(EventTogglePlaying, map[string]string{"user": user})
}

// Promote grants admin rights to another user (admin only)
func (s *Session) Promote(user string) error {
	return s.push(EventUserPromote, map[string]string{"user": user})
}

// BecomeAdmin claims admin rights. An empty secret uses the remembered one.
func (s *Session) BecomeAdmin(secret string) error {
	if secret == "" {
		secret = s.AdminSecret()
	}
	if secret == "" {
		return ErrNoAdminSecret
	}
	return s.push(EventBecomeAdmin, map[string]string{"password": secret})
}

// RequestValidVotes asks the server to push the vote options
func (s *Session) RequestValidVotes() error {
	return s.push(EventValidVotes, struct{}{})
}

func (s *Session) push(event string, payload any) error {
	s.mu.RLock()
	ch := s.channel
	status := s.status
	s.mu.RUnlock()

	if ch == nil || status != StatusJoined {
		return fmt.Errorf("%w: cannot send %s", ErrNotJoined, event)
	}

	err := ch.Push(event, payload)
	observability.RecordSessionAction(event, err == nil)
	if err != nil {
		return fmt.Errorf("failed to send %s: %w", event, err)
	}

	s.logger.Debug().Str("event", event).Msg("action sent")
	return nil
}

// describeReason renders a server rejection payload for error messages
func describeReason(reason json.RawMessage) string {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(reason, &body); err == nil && body.Reason != "" {
		return body.Reason
	}

	var text string
	if err := json.Unmarshal(reason, &text); err == nil && text != "" {
		return text
	}

	if raw := strings.TrimSpace(string(reason)); raw != "" {
		return raw
	}
	return "no reason given"
}
