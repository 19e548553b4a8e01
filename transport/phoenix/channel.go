package phoenix

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ChannelState is the lifecycle state of a channel
type ChannelState string

const (
	StateClosed  ChannelState = "closed"
	StateJoining ChannelState = "joining"
	StateJoined  ChannelState = "joined"
	StateErrored ChannelState = "errored"
	StateLeaving ChannelState = "leaving"
)

// Replies older than this are no longer tracked
const replyTimeout = 10 * time.Second

var ErrChannelNotJoined = errors.New("channel not joined")

type binding struct {
	event   string
	handler func(json.RawMessage)
}

// Channel is a topic-scoped stream multiplexed over a Socket
type Channel struct {
	socket *Socket
	topic  string
	params any
	logger zerolog.Logger

	mu       sync.Mutex
	state    ChannelState
	joinRef  string
	joinPush *Push
	bindings []binding
	pending  map[string]*Push
}

func newChannel(socket *Socket, topic string, params any) *Channel {
	return &Channel{
		socket:  socket,
		topic:   topic,
		params:  params,
		logger:  socket.logger.With().Str("topic", topic).Logger(),
		state:   StateClosed,
		pending: make(map[string]*Push),
	}
}

// Topic returns the channel topic
func (c *Channel) Topic() string { return c.topic }

// State returns the current lifecycle state
func (c *Channel) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// On binds a handler to an inbound event
func (c *Channel) On(event string, handler func(payload json.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bindings = append(c.bindings, binding{event: event, handler: handler})
}

// Join sends phx_join. The returned push resolves with the server's reply;
// Err reports a local send failure. Joining twice returns the first push.
func (c *Channel) Join() *Push {
	c.mu.Lock()
	if c.joinPush != nil {
		p := c.joinPush
		c.mu.Unlock()
		return p
	}

	ref := c.socket.makeRef()
	p := newPush(ref, EventJoin)
	c.joinPush = p
	c.joinRef = ref
	c.state = StateJoining
	c.pending[ref] = p
	c.mu.Unlock()

	payload, err := encodePayload(c.params)
	if err == nil {
		err = c.socket.push(Message{
			Topic:   c.topic,
			Event:   EventJoin,
			Payload: payload,
			Ref:     ref,
			JoinRef: ref,
		})
	}
	if err != nil {
		c.logger.Warn().Err(err).Msg("join failed to send")
		c.mu.Lock()
		c.state = StateErrored
		delete(c.pending, ref)
		c.mu.Unlock()
		p.fail(err)
	}

	return p
}

// Push sends an event on the channel. Pushing is allowed while joining; the
// server handles frames in order.
func (c *Channel) Push(event string, payload any) (*Push, error) {
	c.mu.Lock()
	if c.state != StateJoined && c.state != StateJoining {
		state := c.state
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot push %q in state %s", ErrChannelNotJoined, event, state)
	}

	ref := c.socket.makeRef()
	p := newPush(ref, event)
	c.prunePending(p.sentAt)
	c.pending[ref] = p
	joinRef := c.joinRef
	c.mu.Unlock()

	data, err := encodePayload(payload)
	if err == nil {
		err = c.socket.push(Message{
			Topic:   c.topic,
			Event:   event,
			Payload: data,
			Ref:     ref,
			JoinRef: joinRef,
		})
	}
	if err != nil {
		c.mu.Lock()
		delete(c.pending, ref)
		c.mu.Unlock()
		p.fail(err)
		return p, err
	}

	return p, nil
}

// Leave sends phx_leave and releases the channel without waiting for the reply
func (c *Channel) Leave() error {
	c.mu.Lock()
	if c.state == StateClosed && c.joinPush == nil {
		c.mu.Unlock()
		c.socket.removeChannel(c)
		return nil
	}
	c.state = StateLeaving
	ref := c.socket.makeRef()
	joinRef := c.joinRef
	c.mu.Unlock()

	err := c.socket.push(Message{
		Topic:   c.topic,
		Event:   EventLeave,
		Payload: json.RawMessage(`{}`),
		Ref:     ref,
		JoinRef: joinRef,
	})

	c.mu.Lock()
	c.state = StateClosed
	c.pending = make(map[string]*Push)
	c.mu.Unlock()
	c.socket.removeChannel(c)

	if err != nil && !errors.Is(err, ErrNotConnected) {
		return fmt.Errorf("failed to leave %s: %w", c.topic, err)
	}
	return nil
}

// isMember filters frames from a previous join of the same topic
func (c *Channel) isMember(msg Message) bool {
	if msg.Topic != c.topic {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if msg.JoinRef != "" && c.joinRef != "" && msg.JoinRef != c.joinRef {
		c.logger.Debug().Str("event", msg.Event).Msg("dropping outdated frame")
		return false
	}
	return true
}

func (c *Channel) trigger(msg Message) {
	switch msg.Event {
	case EventReply:
		c.handleReply(msg)
	case EventError:
		c.setState(StateErrored)
	case EventClose:
		c.setState(StateClosed)
	}

	c.mu.Lock()
	var handlers []func(json.RawMessage)
	for _, b := range c.bindings {
		if b.event == msg.Event {
			handlers = append(handlers, b.handler)
		}
	}
	c.mu.Unlock()

	for _, handler := range handlers {
		handler(msg.Payload)
	}
}

func (c *Channel) handleReply(msg Message) {
	var reply Reply
	if err := json.Unmarshal(msg.Payload, &reply); err != nil {
		c.logger.Warn().Err(err).Msg("dropping malformed reply")
		return
	}

	c.mu.Lock()
	p, ok := c.pending[msg.Ref]
	if ok {
		delete(c.pending, msg.Ref)
	}
	isJoin := ok && p == c.joinPush
	if isJoin {
		if reply.Status == StatusOK {
			c.state = StateJoined
		} else {
			c.state = StateErrored
		}
	}
	c.mu.Unlock()

	if !ok {
		return
	}

	if reply.Status == StatusError {
		c.logger.Warn().
			Str("event", p.Event()).
			RawJSON("response", nonEmptyJSON(reply.Response)).
			Msg("push rejected")
	}

	p.resolve(reply)
}

func (c *Channel) socketClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateJoined || c.state == StateJoining {
		c.state = StateErrored
	}
	c.pending = make(map[string]*Push)
}

func (c *Channel) setState(state ChannelState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}

// prunePending drops pushes that never got a reply. Caller holds c.mu.
func (c *Channel) prunePending(now time.Time) {
	for ref, p := range c.pending {
		if p != c.joinPush && now.Sub(p.sentAt) > replyTimeout {
			delete(c.pending, ref)
		}
	}
}

func nonEmptyJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`null`)
	}
	return raw
}
