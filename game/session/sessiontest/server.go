// Package sessiontest runs an in-process planning poker server for tests.
package sessiontest

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wricardo/pokerboy/game/session"
	"github.com/wricardo/pokerboy/transport/phoenix"
	"github.com/wricardo/pokerboy/transport/phoenix/phoenixtest"
)

// DefaultValidVotes are advertised by every game
var DefaultValidVotes = []any{0, 1, 2, 3, 5, 8, 13, "?"}

type user struct {
	Name     string          `json:"name"`
	IsPlayer bool            `json:"is_player"`
	HasVoted bool            `json:"has_voted"`
	Vote     json.RawMessage `json:"vote"`
	IsAdmin  bool            `json:"is_admin"`
}

type game struct {
	name     string
	password string
	revealed bool
	users    map[string]*user
	members  map[*phoenixtest.Conn]string
}

// Server emulates the lobby and game channels of a poker server
type Server struct {
	*phoenixtest.Server

	mu    sync.Mutex
	games map[string]*game
}

// NewServer starts a server with no games
func NewServer() *Server {
	s := &Server{games: make(map[string]*game)}
	s.Server = phoenixtest.NewServer(s.handle)
	return s
}

// AddGame registers a game as if it had been created earlier
func (s *Server) AddGame(id, name, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.games[id] = newGame(name, password)
}

// Password returns the admin password of a game
func (s *Server) Password(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.games[id]; ok {
		return g.password
	}
	return ""
}

// IsAdmin reports whether name holds admin rights in a game
func (s *Server) IsAdmin(id, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.games[id]; ok {
		if u, ok := g.users[name]; ok {
			return u.IsAdmin
		}
	}
	return false
}

// NewDirectory connects a fresh directory to the server. The socket is
// closed when the test ends.
func (s *Server) NewDirectory(t testing.TB, secrets session.SecretStore) *session.Directory {
	t.Helper()

	socket := phoenix.NewSocket(s.SocketURL(), phoenix.Options{Logger: zerolog.Nop()})
	t.Cleanup(func() { socket.Close() })

	opts := session.DefaultOptions()
	opts.CreateTimeout = 2 * time.Second
	return session.NewDirectory(session.NewPhoenixTransport(socket), secrets, zerolog.Nop(), opts)
}

func newGame(name, password string) *game {
	return &game{
		name:     name,
		password: password,
		users:    make(map[string]*user),
		members:  make(map[*phoenixtest.Conn]string),
	}
}

func (s *Server) handle(c *phoenixtest.Conn, msg phoenix.Message) {
	if msg.Topic == session.LobbyTopic {
		s.handleLobby(c, msg)
		return
	}

	id := strings.TrimPrefix(msg.Topic, session.TopicPrefix)

	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[id]
	if !ok {
		c.Reply(msg, phoenix.StatusError, map[string]string{"reason": "game not found"})
		return
	}

	if msg.Event == phoenix.EventJoin {
		s.join(c, msg, g)
		return
	}

	name, member := g.members[c]
	if !member {
		c.Reply(msg, phoenix.StatusError, map[string]string{"reason": "not joined"})
		return
	}

	var body struct {
		Vote     json.RawMessage `json:"vote"`
		User     string          `json:"user"`
		Password string          `json:"password"`
	}
	json.Unmarshal(msg.Payload, &body)

	self := g.users[name]
	switch msg.Event {
	case phoenix.EventLeave:
		delete(g.members, c)
		c.Reply(msg, phoenix.StatusOK, map[string]any{})
		return

	case session.EventValidVotes:
		c.Reply(msg, phoenix.StatusOK, map[string]any{})
		c.Send(msg.Topic, session.EventValidVotes, map[string]any{"valid_votes": DefaultValidVotes})
		return

	case session.EventUserVote:
		self.Vote = body.Vote
		self.HasVoted = true

	case session.EventBecomeAdmin:
		if body.Password != g.password {
			c.Reply(msg, phoenix.StatusError, map[string]string{"reason": "wrong password"})
			return
		}
		self.IsAdmin = true

	case session.EventReveal, session.EventReset, session.EventTogglePlaying, session.EventUserPromote:
		if !self.IsAdmin {
			c.Reply(msg, phoenix.StatusError, map[string]string{"reason": "unauthorized"})
			return
		}
		if !s.adminAction(g, msg.Event, body.User) {
			c.Reply(msg, phoenix.StatusError, map[string]string{"reason": "unknown user"})
			return
		}

	default:
		c.Reply(msg, phoenix.StatusError, map[string]string{"reason": "unknown event"})
		return
	}

	c.Reply(msg, phoenix.StatusOK, map[string]any{})
	s.broadcast(msg.Topic, g)
}

func (s *Server) handleLobby(c *phoenixtest.Conn, msg phoenix.Message) {
	switch msg.Event {
	case phoenix.EventJoin, phoenix.EventLeave:
		c.Reply(msg, phoenix.StatusOK, map[string]any{})

	case session.EventCreate:
		var body struct {
			Name string `json:"name"`
		}
		json.Unmarshal(msg.Payload, &body)
		if strings.TrimSpace(body.Name) == "" {
			c.Send(session.LobbyTopic, session.EventError, map[string]string{"reason": "name required"})
			return
		}

		id := uuid.NewString()
		password := uuid.NewString()[:8]

		s.mu.Lock()
		s.games[id] = newGame(body.Name, password)
		s.mu.Unlock()

		c.Send(session.LobbyTopic, session.EventCreated, map[string]string{"uuid": id, "password": password})
	}
}

// join adds the user, renaming on collision the way the server reports it
// through current_user. Caller holds s.mu.
func (s *Server) join(c *phoenixtest.Conn, msg phoenix.Message, g *game) {
	var params struct {
		Name string `json:"name"`
	}
	json.Unmarshal(msg.Payload, &params)
	if params.Name == "" {
		c.Reply(msg, phoenix.StatusError, map[string]string{"reason": "name required"})
		return
	}

	name := params.Name
	for i := 2; g.users[name] != nil; i++ {
		name = fmt.Sprintf("%s%d", params.Name, i)
	}

	g.users[name] = &user{Name: name, IsPlayer: true}
	g.members[c] = name

	c.Reply(msg, phoenix.StatusOK, map[string]any{})
	if name != params.Name {
		c.Send(msg.Topic, session.EventCurrentUser, map[string]string{"name": name})
	}
	s.broadcast(msg.Topic, g)
}

// adminAction applies an admin-only event. Caller holds s.mu.
func (s *Server) adminAction(g *game, event, target string) bool {
	switch event {
	case session.EventReveal:
		g.revealed = true
	case session.EventReset:
		g.revealed = false
		for _, u := range g.users {
			u.Vote = nil
			u.HasVoted = false
		}
	case session.EventTogglePlaying:
		u, ok := g.users[target]
		if !ok {
			return false
		}
		u.IsPlayer = !u.IsPlayer
	case session.EventUserPromote:
		u, ok := g.users[target]
		if !ok {
			return false
		}
		u.IsAdmin = true
	}
	return true
}

// broadcast sends the game state to every member. Votes stay hidden until
// revealed. Caller holds s.mu.
func (s *Server) broadcast(topic string, g *game) {
	users := make(map[string]user, len(g.users))
	for name, u := range g.users {
		view := *u
		if !g.revealed {
			view.Vote = nil
		}
		users[name] = view
	}

	state := map[string]any{
		"name":     g.name,
		"users":    users,
		"revealed": g.revealed,
	}

	conns := make([]*phoenixtest.Conn, 0, len(g.members))
	for c := range g.members {
		conns = append(conns, c)
	}
	sort.Slice(conns, func(i, j int) bool { return g.members[conns[i]] < g.members[conns[j]] })

	for _, c := range conns {
		c.Send(topic, session.EventGameUpdate, map[string]any{"state": state})
	}
}
