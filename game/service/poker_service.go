package service

import (
	"context"

	"github.com/wricardo/pokerboy/game/session"
)

// PokerService defines the operations exposed to the API, relay and MCP layers
type PokerService interface {
	// Session Management
	CreateSession(ctx context.Context, name, username string) (*SessionInfo, error)
	JoinSession(ctx context.Context, sessionID, username string) (*SessionInfo, error)
	GetSession(ctx context.Context, sessionID string) (*SessionInfo, error)
	ListSessions(ctx context.Context) ([]*SessionInfo, error)

	// Session State
	GetState(ctx context.Context, sessionID string) (*StateView, error)
	Subscribe(sessionID string, listener func(session.Event)) (unsubscribe func(), err error)

	// Actions
	Vote(ctx context.Context, sessionID string, vote any) (*ActionResult, error)
	Reveal(ctx context.Context, sessionID string) (*ActionResult, error)
	Reset(ctx context.Context, sessionID string) (*ActionResult, error)
	TogglePlaying(ctx context.Context, sessionID, user string) (*ActionResult, error)
	Promote(ctx context.Context, sessionID, user string) (*ActionResult, error)
	BecomeAdmin(ctx context.Context, sessionID, secret string) (*ActionResult, error)
	RequestValidVotes(ctx context.Context, sessionID string) (*ActionResult, error)
}

// SessionDirectory is the part of session.Directory the service relies on
type SessionDirectory interface {
	CreateSession(ctx context.Context, sessionName, userName string) (*session.Session, error)
	JoinSession(ctx context.Context, sessionID, userName string) (*session.Session, error)
	Get(sessionID string) (*session.Session, error)
	List() []*session.Session
	Watch(sessionID string, listener func(session.Event)) (unsubscribe func(), err error)
}
