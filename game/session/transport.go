package session

import (
	"context"
	"encoding/json"

	"github.com/wricardo/pokerboy/transport/phoenix"
)

// Transport is the process-wide connection shared by every channel
type Transport interface {
	Connect(ctx context.Context) error
	Channel(topic string, params any) Channel
	OnClose(callback func(error))
}

// Channel is one topic on a Transport
type Channel interface {
	// Join starts joining. onError receives the server's rejection reason;
	// the returned error reports a local send failure.
	Join(onError func(reason json.RawMessage)) error
	Push(event string, payload any) error
	On(event string, handler func(payload json.RawMessage))
	Leave() error
	Joined() bool
}

// NewPhoenixTransport adapts a phoenix socket
func NewPhoenixTransport(socket *phoenix.Socket) Transport {
	return &phoenixTransport{socket: socket}
}

type phoenixTransport struct {
	socket *phoenix.Socket
}

func (t *phoenixTransport) Connect(ctx context.Context) error {
	return t.socket.Connect(ctx)
}

func (t *phoenixTransport) Channel(topic string, params any) Channel {
	return &phoenixChannel{ch: t.socket.Channel(topic, params)}
}

func (t *phoenixTransport) OnClose(callback func(error)) {
	t.socket.OnClose(callback)
}

type phoenixChannel struct {
	ch *phoenix.Channel
}

func (c *phoenixChannel) Join(onError func(reason json.RawMessage)) error {
	return c.ch.Join().Receive(phoenix.StatusError, onError).Err()
}

func (c *phoenixChannel) Push(event string, payload any) error {
	_, err := c.ch.Push(event, payload)
	return err
}

func (c *phoenixChannel) On(event string, handler func(payload json.RawMessage)) {
	c.ch.On(event, handler)
}

func (c *phoenixChannel) Leave() error {
	return c.ch.Leave()
}

func (c *phoenixChannel) Joined() bool {
	return c.ch.State() == phoenix.StateJoined
}
