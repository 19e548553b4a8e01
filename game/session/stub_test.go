package session

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"
)

type pushed struct {
	Event   string
	Payload json.RawMessage
}

// stubTransport records channels and lets tests script their behaviour
type stubTransport struct {
	mu         sync.Mutex
	connectErr error
	connects   int
	channels   []*stubChannel
	onClose    []func(error)

	// configure runs for every new channel before it is returned
	configure func(c *stubChannel)
}

func (t *stubTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects++
	return t.connectErr
}

func (t *stubTransport) Channel(topic string, params any) Channel {
	raw, _ := json.Marshal(params)
	c := &stubChannel{topic: topic, params: raw, handlers: make(map[string][]func(json.RawMessage))}

	t.mu.Lock()
	t.channels = append(t.channels, c)
	configure := t.configure
	t.mu.Unlock()

	if configure != nil {
		configure(c)
	}
	return c
}

func (t *stubTransport) OnClose(callback func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onClose = append(t.onClose, callback)
}

func (t *stubTransport) drop(err error) {
	t.mu.Lock()
	callbacks := slices.Clone(t.onClose)
	t.mu.Unlock()
	for _, cb := range callbacks {
		cb(err)
	}
}

func (t *stubTransport) channel(topic string) *stubChannel {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.channels) - 1; i >= 0; i-- {
		if t.channels[i].topic == topic {
			return t.channels[i]
		}
	}
	return nil
}

type stubChannel struct {
	topic  string
	params json.RawMessage

	mu       sync.Mutex
	handlers map[string][]func(json.RawMessage)
	pushes   []pushed
	joined   bool
	joins    int
	checks   int
	left     bool
	onError  func(json.RawMessage)

	joinErr error
	pushErr error

	// joinAfter makes Joined report true from this check on; zero means
	// joined on the first check when autoJoin is set
	autoJoin  bool
	joinAfter int

	// onJoin and onPush script server behaviour
	onJoin func(c *stubChannel)
	onPush func(c *stubChannel, event string, payload json.RawMessage)
}

func (c *stubChannel) Join(onError func(json.RawMessage)) error {
	c.mu.Lock()
	c.joins++
	c.onError = onError
	err := c.joinErr
	onJoin := c.onJoin
	c.mu.Unlock()

	if err != nil {
		return err
	}
	if onJoin != nil {
		onJoin(c)
	}
	return nil
}

func (c *stubChannel) Push(event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.pushErr != nil {
		err := c.pushErr
		c.mu.Unlock()
		return err
	}
	c.pushes = append(c.pushes, pushed{Event: event, Payload: raw})
	onPush := c.onPush
	c.mu.Unlock()

	if onPush != nil {
		onPush(c, event, raw)
	}
	return nil
}

func (c *stubChannel) On(event string, handler func(json.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], handler)
}

func (c *stubChannel) Leave() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.left = true
	c.joined = false
	return nil
}

func (c *stubChannel) Joined() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks++
	if c.autoJoin && c.checks > c.joinAfter {
		c.joined = true
	}
	return c.joined
}

// emit delivers a server event to the bound handlers
func (c *stubChannel) emit(event string, payload string) {
	c.mu.Lock()
	handlers := slices.Clone(c.handlers[event])
	c.mu.Unlock()

	for _, h := range handlers {
		h(json.RawMessage(payload))
	}
}

func (c *stubChannel) reject(reason string) {
	c.mu.Lock()
	onError := c.onError
	c.mu.Unlock()
	onError(json.RawMessage(reason))
}

func (c *stubChannel) sent() []pushed {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]pushed(nil), c.pushes...)
}

func (c *stubChannel) checkCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checks
}

func (c *stubChannel) wasLeft() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.left
}

func acceptAll(c *stubChannel) { c.autoJoin = true }

// fastOptions keeps polling tests quick
func fastOptions() Options {
	opts := DefaultOptions()
	opts.JoinPollInterval = time.Millisecond
	opts.JoinMaxAttempts = 20
	return opts
}
