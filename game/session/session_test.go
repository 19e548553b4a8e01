package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/wricardo/pokerboy/transport/phoenix"
)

func joinedSession(t *testing.T, secret string) (*Session, *stubChannel) {
	t.Helper()

	transport := &stubTransport{configure: acceptAll}
	s := newSession("abc", "lucas", secret, zerolog.Nop())

	err := s.join(context.Background(), transport, JoinOptions{PollInterval: time.Millisecond, MaxAttempts: 10})
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	return s, transport.channel("game:abc")
}

func TestSession_Join(t *testing.T) {
	s, ch := joinedSession(t, "")

	if s.Status() != StatusJoined {
		t.Errorf("Expected status joined, got %s", s.Status())
	}
	if s.Username() != "lucas" {
		t.Errorf("Expected username lucas, got %s", s.Username())
	}
	if s.JoinedAt().IsZero() {
		t.Error("JoinedAt should be set")
	}
	if string(ch.params) != `{"name":"lucas"}` {
		t.Errorf("Expected join params {\"name\":\"lucas\"}, got %s", ch.params)
	}

	for _, event := range []string{EventGameUpdate, EventValidVotes, EventCurrentUser} {
		if len(ch.handlers[event]) != 1 {
			t.Errorf("Expected one handler for %s, got %d", event, len(ch.handlers[event]))
		}
	}
}

func TestSession_JoinCompletesAfterSeveralChecks(t *testing.T) {
	transport := &stubTransport{configure: func(c *stubChannel) {
		c.autoJoin = true
		c.joinAfter = 3
	}}
	s := newSession("abc", "lucas", "", zerolog.Nop())

	if err := s.join(context.Background(), transport, JoinOptions{PollInterval: time.Millisecond, MaxAttempts: 10}); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if got := transport.channel("game:abc").checkCount(); got != 4 {
		t.Errorf("Expected 4 checks, got %d", got)
	}
}

func TestSession_JoinTimeout(t *testing.T) {
	transport := &stubTransport{}
	s := newSession("abc", "lucas", "", zerolog.Nop())

	err := s.join(context.Background(), transport, JoinOptions{PollInterval: time.Millisecond, MaxAttempts: 5})
	if !errors.Is(err, ErrJoinTimeout) {
		t.Fatalf("Expected ErrJoinTimeout, got %v", err)
	}

	ch := transport.channel("game:abc")
	if got := ch.checkCount(); got != 5 {
		t.Errorf("Expected exactly 5 checks, got %d", got)
	}
	if !ch.wasLeft() {
		t.Error("Channel should be left after a timeout")
	}
	if s.Status() != StatusFailed {
		t.Errorf("Expected status failed, got %s", s.Status())
	}
}

func TestSession_JoinRejected(t *testing.T) {
	transport := &stubTransport{configure: func(c *stubChannel) {
		c.onJoin = func(c *stubChannel) { c.reject(`{"reason":"unauthorized"}`) }
	}}
	s := newSession("abc", "lucas", "", zerolog.Nop())

	err := s.join(context.Background(), transport, JoinOptions{PollInterval: time.Millisecond, MaxAttempts: 50})
	if !errors.Is(err, ErrJoinRejected) {
		t.Fatalf("Expected ErrJoinRejected, got %v", err)
	}
	if !strings.Contains(err.Error(), "unauthorized") {
		t.Errorf("Expected server reason in error, got %v", err)
	}
	if !transport.channel("game:abc").wasLeft() {
		t.Error("Channel should be left after a rejection")
	}
	if s.Status() != StatusFailed {
		t.Errorf("Expected status failed, got %s", s.Status())
	}
}

func TestSession_JoinSendFailure(t *testing.T) {
	sendErr := errors.New("socket not connected")
	transport := &stubTransport{configure: func(c *stubChannel) { c.joinErr = sendErr }}
	s := newSession("abc", "lucas", "", zerolog.Nop())

	err := s.join(context.Background(), transport, JoinOptions{PollInterval: time.Millisecond, MaxAttempts: 5})
	if !errors.Is(err, sendErr) {
		t.Fatalf("Expected send error, got %v", err)
	}
	if !transport.channel("game:abc").wasLeft() {
		t.Error("Channel should be left after a send failure")
	}
}

func TestSession_JoinContextCancelled(t *testing.T) {
	transport := &stubTransport{}
	s := newSession("abc", "lucas", "", zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.join(ctx, transport, JoinOptions{PollInterval: time.Hour, MaxAttempts: 5})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if !transport.channel("game:abc").wasLeft() {
		t.Error("Channel should be left after cancellation")
	}
}

func TestSession_GameUpdateMergesState(t *testing.T) {
	s, ch := joinedSession(t, "")

	var events []Event
	s.Subscribe(func(e Event) { events = append(events, e) })

	ch.emit(EventGameUpdate, `{"state":{"users":{"lucas":{"name":"lucas","is_player":true,"has_voted":false}},"revealed":false}}`)
	ch.emit(EventGameUpdate, `{"state":{"revealed":true}}`)

	if !s.State().Revealed() {
		t.Error("Expected revealed after second update")
	}
	if _, ok := s.State().User("lucas"); !ok {
		t.Error("Users should survive a partial update")
	}

	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	for _, e := range events {
		changed, ok := e.(StateChanged)
		if !ok {
			t.Fatalf("Expected StateChanged, got %T", e)
		}
		if changed.State != s.State() {
			t.Error("StateChanged should carry the session's own state")
		}
		if changed.SessionID != "abc" {
			t.Errorf("Expected session id abc, got %s", changed.SessionID)
		}
	}
}

func TestSession_MalformedUpdatesIgnored(t *testing.T) {
	s, ch := joinedSession(t, "")

	published := 0
	s.Subscribe(func(Event) { published++ })

	ch.emit(EventGameUpdate, `not json`)
	ch.emit(EventGameUpdate, `{"other":1}`)
	ch.emit(EventGameUpdate, `{"state":[1,2]}`)
	ch.emit(EventCurrentUser, `{}`)
	ch.emit(EventValidVotes, `{"valid_votes":{"a":1}}`)

	if published != 0 {
		t.Errorf("Expected no events, got %d", published)
	}
	if len(s.State().Keys()) != 0 {
		t.Errorf("State should be untouched, got keys %v", s.State().Keys())
	}
}

func TestSession_ValidVotes(t *testing.T) {
	s, ch := joinedSession(t, "")

	var got []string
	s.Subscribe(func(e Event) {
		if changed, ok := e.(ValidVotesChanged); ok {
			got = changed.Votes
		}
	})

	ch.emit(EventValidVotes, `{"valid_votes":[1,2,3,5,8,"?"]}`)

	want := []string{"1", "2", "3", "5", "8", "?"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Expected event votes %v, got %v", want, got)
	}
	if strings.Join(s.ValidVotes(), ",") != strings.Join(want, ",") {
		t.Errorf("Expected session votes %v, got %v", want, s.ValidVotes())
	}
}

func TestSession_ValidVotesFallsBackToState(t *testing.T) {
	s, ch := joinedSession(t, "")

	ch.emit(EventGameUpdate, `{"state":{"valid_votes":[0.5,1,2]}}`)

	if got := strings.Join(s.ValidVotes(), ","); got != "0.5,1,2" {
		t.Errorf("Expected votes from state, got %s", got)
	}
}

func TestSession_CurrentUser(t *testing.T) {
	s, ch := joinedSession(t, "")

	var renamed string
	s.Subscribe(func(e Event) {
		if changed, ok := e.(CurrentUserChanged); ok {
			renamed = changed.Name
		}
	})

	ch.emit(EventCurrentUser, `{"name":"lucas2"}`)

	if renamed != "lucas2" {
		t.Errorf("Expected CurrentUserChanged lucas2, got %q", renamed)
	}
	if s.Username() != "lucas2" {
		t.Errorf("Expected username lucas2, got %s", s.Username())
	}

	ch.emit(EventGameUpdate, `{"state":{"users":{"lucas2":{"is_player":true,"has_voted":true}}}}`)
	user, ok := s.CurrentUser()
	if !ok || user.Name != "lucas2" || !user.HasVoted {
		t.Errorf("Unexpected current user %+v (found %v)", user, ok)
	}
}

func TestSession_Actions(t *testing.T) {
	tests := []struct {
		name    string
		action  func(s *Session) error
		event   string
		payload string
	}{
		{"vote number", func(s *Session) error { return s.Vote(3) }, EventUserVote, `{"vote":3}`},
		{"vote string", func(s *Session) error { return s.Vote("?") }, EventUserVote, `{"vote":"?"}`},
		{"reveal", func(s *Session) error { return s.Reveal() }, EventReveal, `{}`},
		{"reset", func(s *Session) error { return s.Reset() }, EventReset, `{}`},
		{"toggle playing", func(s *Session) error { return s.TogglePlaying("ana") }, EventTogglePlaying, `{"user":"ana"}`},
		{"promote", func(s *Session) error { return s.Promote("ana") }, EventUserPromote, `{"user":"ana"}`},
		{"become admin", func(s *Session) error { return s.BecomeAdmin("secret") }, EventBecomeAdmin, `{"password":"secret"}`},
		{"request votes", func(s *Session) error { return s.RequestValidVotes() }, EventValidVotes, `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, ch := joinedSession(t, "")

			if err := tt.action(s); err != nil {
				t.Fatalf("action failed: %v", err)
			}

			sent := ch.sent()
			if len(sent) != 1 {
				t.Fatalf("Expected exactly one push, got %d", len(sent))
			}
			if sent[0].Event != tt.event {
				t.Errorf("Expected event %s, got %s", tt.event, sent[0].Event)
			}
			if string(sent[0].Payload) != tt.payload {
				t.Errorf("Expected payload %s, got %s", tt.payload, sent[0].Payload)
			}
		})
	}
}

func TestSession_BecomeAdminUsesRememberedSecret(t *testing.T) {
	s, ch := joinedSession(t, "pw")

	if err := s.BecomeAdmin(""); err != nil {
		t.Fatalf("BecomeAdmin failed: %v", err)
	}

	sent := ch.sent()
	if len(sent) != 1 || string(sent[0].Payload) != `{"password":"pw"}` {
		t.Errorf("Expected become_admin with remembered secret, got %+v", sent)
	}
}

func TestSession_BecomeAdminWithoutSecret(t *testing.T) {
	s, ch := joinedSession(t, "")

	if err := s.BecomeAdmin(""); !errors.Is(err, ErrNoAdminSecret) {
		t.Errorf("Expected ErrNoAdminSecret, got %v", err)
	}
	if len(ch.sent()) != 0 {
		t.Error("Nothing should be sent without a secret")
	}
}

func TestSession_ActionsRequireJoin(t *testing.T) {
	s := newSession("abc", "lucas", "", zerolog.Nop())

	if err := s.Vote(3); !errors.Is(err, ErrNotJoined) {
		t.Errorf("Expected ErrNotJoined, got %v", err)
	}
}

func TestSession_ActionSendFailure(t *testing.T) {
	s, ch := joinedSession(t, "")
	ch.pushErr = errors.New("socket not connected")

	err := s.Reveal()
	if err == nil || !strings.Contains(err.Error(), "socket not connected") {
		t.Errorf("Expected local send error, got %v", err)
	}
}

func TestSession_SubscribeOrderAndUnsubscribe(t *testing.T) {
	s, ch := joinedSession(t, "")

	var order []string
	s.Subscribe(func(Event) { order = append(order, "first") })
	unsubscribe := s.Subscribe(func(Event) { order = append(order, "second") })
	s.Subscribe(func(Event) { order = append(order, "third") })

	ch.emit(EventGameUpdate, `{"state":{"revealed":false}}`)
	unsubscribe()
	unsubscribe()
	ch.emit(EventGameUpdate, `{"state":{"revealed":true}}`)

	want := "first,second,third,first,third"
	if got := strings.Join(order, ","); got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}

func TestSession_MarkStale(t *testing.T) {
	s, _ := joinedSession(t, "")

	var disconnects []Disconnected
	s.Subscribe(func(e Event) {
		if d, ok := e.(Disconnected); ok {
			disconnects = append(disconnects, d)
		}
	})

	dropErr := errors.New("connection reset")
	s.markStale(dropErr)
	s.markStale(dropErr)

	if !s.Stale() {
		t.Error("Session should be stale")
	}
	if len(disconnects) != 1 {
		t.Fatalf("Expected one Disconnected event, got %d", len(disconnects))
	}
	if !errors.Is(disconnects[0].Err, dropErr) {
		t.Errorf("Expected drop error, got %v", disconnects[0].Err)
	}
}

func TestSession_ChannelLossMarksStale(t *testing.T) {
	tests := []struct {
		event string
		want  error
	}{
		{phoenix.EventError, ErrChannelErrored},
		{phoenix.EventClose, ErrChannelClosed},
	}

	for _, tt := range tests {
		t.Run(tt.event, func(t *testing.T) {
			s, ch := joinedSession(t, "")

			var disconnects []Disconnected
			s.Subscribe(func(e Event) {
				if d, ok := e.(Disconnected); ok {
					disconnects = append(disconnects, d)
				}
			})

			ch.emit(tt.event, `{}`)

			if !s.Stale() {
				t.Error("Session should be stale")
			}
			if len(disconnects) != 1 || !errors.Is(disconnects[0].Err, tt.want) {
				t.Errorf("Expected one Disconnected with %v, got %+v", tt.want, disconnects)
			}
			if !ch.wasLeft() {
				t.Error("Channel should be released")
			}
			if err := s.Vote(3); !errors.Is(err, ErrNotJoined) {
				t.Errorf("Expected ErrNotJoined, got %v", err)
			}
		})
	}
}

func TestSession_ChannelErrorWhileJoiningIgnored(t *testing.T) {
	transport := &stubTransport{configure: func(c *stubChannel) {
		c.onJoin = func(c *stubChannel) { c.emit(phoenix.EventError, `{}`) }
		c.autoJoin = true
	}}
	s := newSession("abc", "lucas", "", zerolog.Nop())

	if err := s.join(context.Background(), transport, JoinOptions{PollInterval: time.Millisecond, MaxAttempts: 10}); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if s.Stale() {
		t.Error("Errors before the join completes should not mark the session stale")
	}
}

func TestDescribeReason(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`{"reason":"unauthorized"}`, "unauthorized"},
		{`"gone"`, "gone"},
		{`{"code":4}`, `{"code":4}`},
		{``, "no reason given"},
	}

	for _, tt := range tests {
		if got := describeReason(json.RawMessage(tt.raw)); got != tt.want {
			t.Errorf("describeReason(%s) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}
