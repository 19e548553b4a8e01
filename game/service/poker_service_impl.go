package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/wricardo/pokerboy/game/session"
)

// ErrInvalidInput marks requests rejected before anything is sent
var ErrInvalidInput = errors.New("invalid input")

// pokerServiceImpl implements the PokerService interface
type pokerServiceImpl struct {
	sessions SessionDirectory
	logger   zerolog.Logger
}

// NewPokerService creates a new poker service instance
func NewPokerService(sessions SessionDirectory, logger zerolog.Logger) PokerService {
	return &pokerServiceImpl{
		sessions: sessions,
		logger:   logger.With().Str("component", "service").Logger(),
	}
}

// CreateSession creates a session on the server and joins it
func (s *pokerServiceImpl) CreateSession(ctx context.Context, name, username string) (*SessionInfo, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: session name is required", ErrInvalidInput)
	}
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}

	sess, err := s.sessions.CreateSession(ctx, name, username)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.requestValidVotes(sess)
	return newSessionInfo(sess), nil
}

// JoinSession joins an existing session
func (s *pokerServiceImpl) JoinSession(ctx context.Context, sessionID, username string) (*SessionInfo, error) {
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}

	sess, err := s.sessions.JoinSession(ctx, sessionID, username)
	if err != nil {
		return nil, fmt.Errorf("failed to join session: %w", err)
	}

	s.requestValidVotes(sess)
	return newSessionInfo(sess), nil
}

// requestValidVotes asks for the vote options right after joining so clients
// can render a ballot
func (s *pokerServiceImpl) requestValidVotes(sess *session.Session) {
	if err := sess.RequestValidVotes(); err != nil {
		s.logger.Warn().Err(err).Str("session", sess.ID()).Msg("failed to request valid votes")
	}
}

// GetSession retrieves session information
func (s *pokerServiceImpl) GetSession(ctx context.Context, sessionID string) (*SessionInfo, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	return newSessionInfo(sess), nil
}

// ListSessions returns every session joined by this client
func (s *pokerServiceImpl) ListSessions(ctx context.Context) ([]*SessionInfo, error) {
	sessions := s.sessions.List()
	result := make([]*SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		result = append(result, newSessionInfo(sess))
	}
	sortedInfos(result)
	return result, nil
}

// GetState returns the merged state of a session
func (s *pokerServiceImpl) GetState(ctx context.Context, sessionID string) (*StateView, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	return NewStateView(sess.State()), nil
}

// Subscribe forwards a session's events to listener, following the session
// across rejoins
func (s *pokerServiceImpl) Subscribe(sessionID string, listener func(session.Event)) (func(), error) {
	return s.sessions.Watch(sessionID, listener)
}

func (s *pokerServiceImpl) Vote(ctx context.Context, sessionID string, vote any) (*ActionResult, error) {
	if vote == nil {
		return nil, fmt.Errorf("%w: vote is required", ErrInvalidInput)
	}
	vote = NormalizeVote(vote)
	if text, ok := vote.(string); ok && strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: vote is required", ErrInvalidInput)
	}
	return s.act(sessionID, session.EventUserVote, fmt.Sprintf("vote %v sent", vote), func(sess *session.Session) error {
		return sess.Vote(vote)
	})
}

func (s *pokerServiceImpl) Reveal(ctx context.Context, sessionID string) (*ActionResult, error) {
	return s.act(sessionID, session.EventReveal, "reveal requested", (*session.Session).Reveal)
}

func (s *pokerServiceImpl) Reset(ctx context.Context, sessionID string) (*ActionResult, error) {
	return s.act(sessionID, session.EventReset, "reset requested", (*session.Session).Reset)
}

func (s *pokerServiceImpl) TogglePlaying(ctx context.Context, sessionID, user string) (*ActionResult, error) {
	if user == "" {
		return nil, fmt.Errorf("%w: user is required", ErrInvalidInput)
	}
	return s.act(sessionID, session.EventTogglePlaying, fmt.Sprintf("toggle playing requested for %s", user), func(sess *session.Session) error {
		return sess.TogglePlaying(user)
	})
}

func (s *pokerServiceImpl) Promote(ctx context.Context, sessionID, user string) (*ActionResult, error) {
	if user == "" {
		return nil, fmt.Errorf("%w: user is required", ErrInvalidInput)
	}
	return s.act(sessionID, session.EventUserPromote, fmt.Sprintf("promotion requested for %s", user), func(sess *session.Session) error {
		return sess.Promote(user)
	})
}

// BecomeAdmin claims admin rights; an empty secret uses the stored one
func (s *pokerServiceImpl) BecomeAdmin(ctx context.Context, sessionID, secret string) (*ActionResult, error) {
	return s.act(sessionID, session.EventBecomeAdmin, "admin claim sent", func(sess *session.Session) error {
		return sess.BecomeAdmin(secret)
	})
}

func (s *pokerServiceImpl) RequestValidVotes(ctx context.Context, sessionID string) (*ActionResult, error) {
	return s.act(sessionID, session.EventValidVotes, "valid votes requested", (*session.Session).RequestValidVotes)
}

func (s *pokerServiceImpl) act(sessionID, action, message string, send func(*session.Session) error) (*ActionResult, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	if err := send(sess); err != nil {
		return nil, fmt.Errorf("%s failed: %w", action, err)
	}

	return &ActionResult{
		SessionID: sessionID,
		Action:    action,
		Sent:      true,
		Message:   message,
	}, nil
}
