package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/wricardo/pokerboy/game/service"
	"github.com/wricardo/pokerboy/game/session"
	"github.com/wricardo/pokerboy/observability"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	// Messages buffered per client before it is dropped.
	sendBufferSize = 256
)

// Relay events
const (
	EventSnapshot     = "snapshot"
	EventStateUpdate  = "state_update"
	EventValidVotes   = "valid_votes"
	EventCurrentUser  = "current_user"
	EventDisconnected = "disconnected"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The relay listens on localhost for local UIs
		return true
	},
}

// Source supplies session state and events. service.PokerService satisfies it.
type Source interface {
	GetState(ctx context.Context, sessionID string) (*service.StateView, error)
	Subscribe(sessionID string, listener func(session.Event)) (unsubscribe func(), err error)
}

// Message is one relay frame sent to local clients
type Message struct {
	SessionID string             `json:"session_id"`
	Event     string             `json:"event"`
	State     *service.StateView `json:"state,omitempty"`
	Data      interface{}        `json:"data,omitempty"`
}

// Client represents a local WebSocket client
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	sessionID string
}

// Hub relays session events to the local clients watching each session
type Hub struct {
	source Source
	logger zerolog.Logger

	// Registered clients by session ID. Owned by Run.
	sessions map[string]map[*Client]bool

	// Unsubscribe functions for sessions with clients. Owned by Run.
	watches map[string]func()

	broadcast  chan *Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

// NewHub creates a new relay hub
func NewHub(source Source, logger zerolog.Logger) *Hub {
	return &Hub{
		source:     source,
		logger:     logger.With().Str("component", "relay").Logger(),
		sessions:   make(map[string]map[*Client]bool),
		watches:    make(map[string]func()),
		broadcast:  make(chan *Message),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's event loop and blocks until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastMessage(message)

		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) shutdown() {
	close(h.done)
	for _, clients := range h.sessions {
		for client := range clients {
			h.unregisterClient(client)
		}
	}
}

// ServeWS upgrades the request and streams sessionID's events to the client
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, sessionID string) {
	state, err := h.source.GetState(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "Invalid session", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		sessionID: sessionID,
	}

	// The snapshot goes first so later updates apply on top of it
	if data, err := json.Marshal(&Message{SessionID: sessionID, Event: EventSnapshot, State: state}); err == nil {
		client.send <- data
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// Publish sends a message to every client of its session
func (h *Hub) Publish(message *Message) {
	select {
	case h.broadcast <- message:
	case <-h.done:
	}
}

// relay converts session events into relay messages
func (h *Hub) relay(sessionID string) func(session.Event) {
	return func(event session.Event) {
		message := &Message{SessionID: sessionID}

		switch e := event.(type) {
		case session.StateChanged:
			message.Event = EventStateUpdate
			message.State = service.NewStateView(e.State)
		case session.ValidVotesChanged:
			message.Event = EventValidVotes
			message.Data = e.Votes
		case session.CurrentUserChanged:
			message.Event = EventCurrentUser
			message.Data = map[string]string{"name": e.Name}
		case session.Disconnected:
			message.Event = EventDisconnected
			reason := "connection lost"
			if e.Err != nil {
				reason = e.Err.Error()
			}
			message.Data = map[string]string{"error": reason}
		default:
			return
		}

		h.Publish(message)
	}
}

// registerClient adds a client and starts watching its session on first use
func (h *Hub) registerClient(client *Client) {
	if h.sessions[client.sessionID] == nil {
		unsubscribe, err := h.source.Subscribe(client.sessionID, h.relay(client.sessionID))
		if err != nil {
			h.logger.Warn().Err(err).Str("session", client.sessionID).Msg("cannot watch session")
			close(client.send)
			return
		}
		h.watches[client.sessionID] = unsubscribe
		h.sessions[client.sessionID] = make(map[*Client]bool)
	}
	h.sessions[client.sessionID][client] = true
	observability.SetRelayClients(h.clientCount())

	h.logger.Info().
		Str("session", client.sessionID).
		Int("clients", len(h.sessions[client.sessionID])).
		Msg("client registered")
}

// unregisterClient removes a client and stops watching an empty session
func (h *Hub) unregisterClient(client *Client) {
	clients, ok := h.sessions[client.sessionID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}

	delete(clients, client)
	close(client.send)

	if len(clients) == 0 {
		delete(h.sessions, client.sessionID)
		if unsubscribe, ok := h.watches[client.sessionID]; ok {
			unsubscribe()
			delete(h.watches, client.sessionID)
		}
	}
	observability.SetRelayClients(h.clientCount())

	h.logger.Info().
		Str("session", client.sessionID).
		Int("clients", len(clients)).
		Msg("client unregistered")
}

// broadcastMessage sends a message to all clients in a session
func (h *Hub) broadcastMessage(message *Message) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to marshal relay message")
		return
	}

	for client := range h.sessions[message.SessionID] {
		select {
		case client.send <- data:
		default:
			// Client's send channel is full, drop it
			h.unregisterClient(client)
		}
	}
}

func (h *Hub) clientCount() int {
	n := 0
	for _, clients := range h.sessions {
		n += len(clients)
	}
	return n
}

// readPump keeps the connection alive; clients send actions over REST
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug().Err(err).Msg("websocket read error")
			}
			break
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One frame per message so clients can decode each as JSON
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
