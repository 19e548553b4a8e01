package phoenix

import (
	"encoding/json"
	"sync"
	"time"
)

// Push is an outbound frame awaiting an optional reply
type Push struct {
	ref    string
	event  string
	sentAt time.Time

	mu       sync.Mutex
	err      error
	replied  bool
	status   string
	response json.RawMessage
	hooks    []replyHook
}

type replyHook struct {
	status   string
	callback func(json.RawMessage)
}

func newPush(ref, event string) *Push {
	return &Push{
		ref:    ref,
		event:  event,
		sentAt: time.Now(),
	}
}

// Ref returns the frame reference
func (p *Push) Ref() string { return p.ref }

// Event returns the pushed event name
func (p *Push) Event() string { return p.event }

// Err returns the local error that prevented the frame from being sent
func (p *Push) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Receive registers a callback for a reply status ("ok" or "error"). If the
// reply already arrived the callback runs immediately.
func (p *Push) Receive(status string, callback func(response json.RawMessage)) *Push {
	p.mu.Lock()
	if p.replied {
		matched := p.status == status
		response := p.response
		p.mu.Unlock()
		if matched {
			callback(response)
		}
		return p
	}
	p.hooks = append(p.hooks, replyHook{status: status, callback: callback})
	p.mu.Unlock()
	return p
}

func (p *Push) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *Push) resolve(reply Reply) {
	p.mu.Lock()
	if p.replied {
		p.mu.Unlock()
		return
	}
	p.replied = true
	p.status = reply.Status
	p.response = reply.Response
	hooks := p.hooks
	p.hooks = nil
	p.mu.Unlock()

	for _, hook := range hooks {
		if hook.status == reply.Status {
			hook.callback(reply.Response)
		}
	}
}
