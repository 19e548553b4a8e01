package session

import "github.com/wricardo/pokerboy/game/poker"

// Event is a change notification published by a Session
type Event interface{ isSessionEvent() }

// StateChanged carries the session's merged state (the same pointer every
// time, not a copy)
type StateChanged struct {
	SessionID string
	State     *poker.State
}

// ValidVotesChanged carries the vote options advertised by the server
type ValidVotesChanged struct {
	SessionID string
	Votes     []string
}

// CurrentUserChanged reports the name the server assigned to this client
type CurrentUserChanged struct {
	SessionID string
	Name      string
}

// Disconnected reports that the connection dropped; the session is stale
type Disconnected struct {
	SessionID string
	Err       error
}

func (StateChanged) isSessionEvent()       {}
func (ValidVotesChanged) isSessionEvent()  {}
func (CurrentUserChanged) isSessionEvent() {}
func (Disconnected) isSessionEvent()       {}

type subscriber struct {
	id       int
	listener func(Event)
}

// Subscribe registers a listener for every event of the session. Listeners run
// on the transport's read goroutine, in subscription order, and must not block.
func (s *Session) Subscribe(listener func(Event)) (unsubscribe func()) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	s.nextSubID++
	id := s.nextSubID
	s.subscribers = append(s.subscribers, subscriber{id: id, listener: listener})

	return func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		for i, sub := range s.subscribers {
			if sub.id == id {
				s.subscribers = append(s.subscribers[:i:i], s.subscribers[i+1:]...)
				return
			}
		}
	}
}

func (s *Session) publish(event Event) {
	s.subsMu.Lock()
	subscribers := s.subscribers
	s.subsMu.Unlock()

	for _, sub := range subscribers {
		sub.listener(event)
	}
}
