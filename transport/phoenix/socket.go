package phoenix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Interval between heartbeats. A heartbeat still unanswered when the
	// next one is due closes the connection.
	defaultHeartbeatInterval = 30 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 1 << 20

	// Outbound frames buffered before pushes start failing.
	sendBufferSize = 256

	// Serializer version negotiated with the server.
	protocolVersion = "1.0.0"
)

var (
	ErrNotConnected   = errors.New("socket not connected")
	ErrSendBufferFull = errors.New("socket send buffer full")
	ErrSocketClosed   = errors.New("socket closed")
)

// Options configures a Socket
type Options struct {
	// Params are sent as query parameters on connect
	Params url.Values

	// HeartbeatInterval defaults to 30s
	HeartbeatInterval time.Duration

	// Dialer defaults to websocket.DefaultDialer
	Dialer *websocket.Dialer

	Logger zerolog.Logger
}

// Socket is one WebSocket connection shared by any number of channels
type Socket struct {
	endpoint          string
	params            url.Values
	dialer            *websocket.Dialer
	heartbeatInterval time.Duration
	logger            zerolog.Logger

	ref uint64

	mu               sync.Mutex
	conn             *websocket.Conn
	send             chan []byte
	done             chan struct{}
	channels         []*Channel
	pendingHeartbeat string
	onClose          []func(error)
}

// NewSocket creates a socket for the given endpoint. The endpoint may use the
// ws, wss, http or https scheme; "/websocket" is appended when missing.
func NewSocket(endpoint string, opts Options) *Socket {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeatInterval
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}

	return &Socket{
		endpoint:          endpoint,
		params:            opts.Params,
		dialer:            opts.Dialer,
		heartbeatInterval: opts.HeartbeatInterval,
		logger:            opts.Logger.With().Str("component", "phoenix").Logger(),
	}
}

// EndpointURL returns the URL dialed by Connect
func (s *Socket) EndpointURL() (string, error) {
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", s.endpoint, err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid endpoint %q: unsupported scheme %q", s.endpoint, u.Scheme)
	}

	if !strings.HasSuffix(u.Path, "/websocket") {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/websocket"
	}

	query := u.Query()
	for key, values := range s.params {
		for _, v := range values {
			query.Add(key, v)
		}
	}
	query.Set("vsn", protocolVersion)
	u.RawQuery = query.Encode()

	return u.String(), nil
}

// Connect dials the server. It is a no-op when already connected.
func (s *Socket) Connect(ctx context.Context) error {
	if s.IsConnected() {
		return nil
	}

	endpoint, err := s.EndpointURL()
	if err != nil {
		return err
	}

	conn, _, err := s.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}

	s.mu.Lock()
	if s.conn != nil {
		// Another caller connected first
		s.mu.Unlock()
		conn.Close()
		return nil
	}
	s.conn = conn
	s.send = make(chan []byte, sendBufferSize)
	s.done = make(chan struct{})
	s.pendingHeartbeat = ""
	send, done := s.send, s.done
	s.mu.Unlock()

	s.logger.Info().Str("endpoint", endpoint).Msg("socket connected")

	go s.writePump(conn, send, done)
	go s.readPump(conn)

	return nil
}

// IsConnected reports whether the socket has a live connection
func (s *Socket) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Close shuts the connection down
func (s *Socket) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	s.handleClose(conn, ErrSocketClosed)
	return nil
}

// OnClose registers a callback invoked whenever the connection goes away.
// The error is ErrSocketClosed after Close, otherwise the read error.
func (s *Socket) OnClose(callback func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClose = append(s.onClose, callback)
}

// Channel creates a channel for topic. params is sent as the join payload.
func (s *Socket) Channel(topic string, params any) *Channel {
	ch := newChannel(s, topic, params)

	s.mu.Lock()
	s.channels = append(s.channels, ch)
	s.mu.Unlock()

	return ch
}

func (s *Socket) removeChannel(ch *Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, c := range s.channels {
		if c == ch {
			s.channels = append(s.channels[:i], s.channels[i+1:]...)
			return
		}
	}
}

func (s *Socket) makeRef() string {
	return strconv.FormatUint(atomic.AddUint64(&s.ref, 1), 10)
}

// push queues a frame for the write pump
func (s *Socket) push(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s frame: %w", msg.Event, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return ErrNotConnected
	}

	select {
	case s.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// handleClose tears down conn once and notifies channels and listeners
func (s *Socket) handleClose(conn *websocket.Conn, reason error) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	close(s.done)
	channels := append([]*Channel(nil), s.channels...)
	callbacks := slices.Clone(s.onClose)
	s.mu.Unlock()

	if errors.Is(reason, ErrSocketClosed) {
		s.logger.Info().Msg("socket closed")
	} else {
		s.logger.Warn().Err(reason).Msg("socket disconnected")
	}

	for _, ch := range channels {
		ch.socketClosed()
	}
	for _, callback := range callbacks {
		callback(reason)
	}
}

// readPump reads frames from the connection and dispatches them in order
func (s *Socket) readPump(conn *websocket.Conn) {
	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = fmt.Errorf("%w: %v", ErrSocketClosed, err)
			}
			s.handleClose(conn, err)
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}

		s.dispatch(msg)
	}
}

func (s *Socket) dispatch(msg Message) {
	s.logger.Debug().
		Str("topic", msg.Topic).
		Str("event", msg.Event).
		Str("ref", msg.Ref).
		Msg("frame received")

	if msg.Topic == heartbeatTopic {
		s.mu.Lock()
		if msg.Ref == s.pendingHeartbeat {
			s.pendingHeartbeat = ""
		}
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	channels := append([]*Channel(nil), s.channels...)
	s.mu.Unlock()

	for _, ch := range channels {
		if ch.isMember(msg) {
			ch.trigger(msg)
		}
	}
}

// writePump owns all writes to the connection
func (s *Socket) writePump(conn *websocket.Conn, send <-chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(s.heartbeatInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case data := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Warn().Err(err).Msg("write failed")
				return
			}

		case <-ticker.C:
			data, ok := s.nextHeartbeat()
			if !ok {
				s.logger.Warn().Msg("heartbeat timeout")
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-done:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// nextHeartbeat builds a heartbeat frame, or reports false when the previous
// one was never answered
func (s *Socket) nextHeartbeat() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pendingHeartbeat != "" {
		return nil, false
	}

	ref := s.makeRef()
	s.pendingHeartbeat = ref

	data, _ := json.Marshal(Message{
		Topic:   heartbeatTopic,
		Event:   EventHeartbeat,
		Payload: json.RawMessage(`{}`),
		Ref:     ref,
	})
	return data, true
}
