// Package phoenixtest provides an in-process Phoenix channels server for tests.
package phoenixtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wricardo/pokerboy/transport/phoenix"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HandlerFunc handles one inbound frame. Heartbeats never reach it.
type HandlerFunc func(c *Conn, msg phoenix.Message)

// Server records inbound frames and hands them to a handler
type Server struct {
	*httptest.Server

	handler HandlerFunc

	mu     sync.Mutex
	conns  []*Conn
	frames []phoenix.Message
	notify chan struct{}
}

// NewServer starts a server. A nil handler accepts every join.
func NewServer(handler HandlerFunc) *Server {
	if handler == nil {
		handler = AcceptJoins
	}

	s := &Server{
		handler: handler,
		notify:  make(chan struct{}, 1),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serveWS))
	return s
}

// AcceptJoins replies ok to every phx_join and ignores everything else
func AcceptJoins(c *Conn, msg phoenix.Message) {
	if msg.Event == phoenix.EventJoin {
		c.Reply(msg, phoenix.StatusOK, map[string]any{})
	}
}

// SocketURL returns the endpoint a phoenix.Socket should dial
func (s *Server) SocketURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/socket"
}

// Frames returns every non-heartbeat frame received so far
func (s *Server) Frames() []phoenix.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]phoenix.Message(nil), s.frames...)
}

// FramesFor returns received frames with the given event
func (s *Server) FramesFor(event string) []phoenix.Message {
	var result []phoenix.Message
	for _, f := range s.Frames() {
		if f.Event == event {
			result = append(result, f)
		}
	}
	return result
}

// WaitFor blocks until a frame matching event arrives and returns it
func (s *Server) WaitFor(t *testing.T, event string, within time.Duration) phoenix.Message {
	t.Helper()

	deadline := time.After(within)
	for {
		if frames := s.FramesFor(event); len(frames) > 0 {
			return frames[0]
		}
		select {
		case <-s.notify:
		case <-time.After(5 * time.Millisecond):
		case <-deadline:
			t.Fatalf("timed out waiting for %q frame", event)
			return phoenix.Message{}
		}
	}
}

// Conns returns the connected clients
func (s *Server) Conns() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Conn(nil), s.conns...)
}

// Broadcast sends an event to every connected client
func (s *Server) Broadcast(topic, event string, payload any) {
	for _, c := range s.Conns() {
		c.Send(topic, event, payload)
	}
}

// DropClients closes every client connection without a close frame
func (s *Server) DropClients() {
	for _, c := range s.Conns() {
		c.ws.Close()
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &Conn{ws: ws, Query: r.URL.Query().Encode()}
	s.mu.Lock()
	s.conns = append(s.conns, c)
	s.mu.Unlock()

	defer ws.Close()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var msg phoenix.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		if msg.Topic == "phoenix" && msg.Event == phoenix.EventHeartbeat {
			c.Reply(msg, phoenix.StatusOK, map[string]any{})
			continue
		}

		s.mu.Lock()
		s.frames = append(s.frames, msg)
		s.mu.Unlock()
		select {
		case s.notify <- struct{}{}:
		default:
		}

		s.handler(c, msg)
	}
}

// Conn is one client connection as seen by the server
type Conn struct {
	ws    *websocket.Conn
	mu    sync.Mutex
	Query string
}

// Send pushes a server event to the client
func (c *Conn) Send(topic, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.write(phoenix.Message{Topic: topic, Event: event, Payload: data})
}

// Reply answers msg with a phx_reply
func (c *Conn) Reply(msg phoenix.Message, status string, response any) error {
	data, err := json.Marshal(map[string]any{"status": status, "response": response})
	if err != nil {
		return err
	}
	return c.write(phoenix.Message{
		Topic:   msg.Topic,
		Event:   phoenix.EventReply,
		Payload: data,
		Ref:     msg.Ref,
		JoinRef: msg.JoinRef,
	})
}

func (c *Conn) write(msg phoenix.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}
