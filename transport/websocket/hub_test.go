package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/wricardo/pokerboy/game/poker"
	"github.com/wricardo/pokerboy/game/service"
	"github.com/wricardo/pokerboy/game/session"
	"github.com/wricardo/pokerboy/game/session/sessiontest"
)

var errUnknownSession = errors.New("unknown session")

// fakeSource serves canned state and lets tests emit session events
type fakeSource struct {
	mu           sync.Mutex
	states       map[string]*poker.State
	listeners    map[string][]func(session.Event)
	subscribes   int
	unsubscribes int
}

func newFakeSource(ids ...string) *fakeSource {
	src := &fakeSource{
		states:    make(map[string]*poker.State),
		listeners: make(map[string][]func(session.Event)),
	}
	for _, id := range ids {
		src.states[id] = poker.NewState()
	}
	return src
}

func (f *fakeSource) GetState(ctx context.Context, sessionID string) (*service.StateView, error) {
	f.mu.Lock()
	state, ok := f.states[sessionID]
	f.mu.Unlock()
	if !ok {
		return nil, errUnknownSession
	}
	return service.NewStateView(state), nil
}

func (f *fakeSource) Subscribe(sessionID string, listener func(session.Event)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.states[sessionID]; !ok {
		return nil, errUnknownSession
	}
	f.subscribes++
	f.listeners[sessionID] = append(f.listeners[sessionID], listener)

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.unsubscribes++
		delete(f.listeners, sessionID)
	}, nil
}

func (f *fakeSource) emit(sessionID string, event session.Event) {
	f.mu.Lock()
	listeners := slices.Clone(f.listeners[sessionID])
	f.mu.Unlock()
	for _, l := range listeners {
		l(event)
	}
}

func (f *fakeSource) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes, f.unsubscribes
}

func (f *fakeSource) watching(sessionID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners[sessionID]) > 0
}

func newTestHub(t *testing.T, src *fakeSource) *Hub {
	t.Helper()
	hub := NewHub(src, zerolog.New(io.Discard))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func newTestServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, r.URL.Query().Get("session"))
	}))
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "?session=" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNewHub(t *testing.T) {
	hub := NewHub(newFakeSource(), zerolog.New(io.Discard))

	if hub == nil {
		t.Fatal("NewHub() returned nil")
	}
	if hub.sessions == nil {
		t.Error("Hub sessions map is nil")
	}
	if hub.watches == nil {
		t.Error("Hub watches map is nil")
	}
	if hub.broadcast == nil || hub.register == nil || hub.unregister == nil {
		t.Error("Hub channels not initialised")
	}
}

func TestHubRegisterClient(t *testing.T) {
	src := newFakeSource("s1")
	hub := NewHub(src, zerolog.New(io.Discard))

	first := &Client{hub: hub, sessionID: "s1", send: make(chan []byte, sendBufferSize)}
	second := &Client{hub: hub, sessionID: "s1", send: make(chan []byte, sendBufferSize)}

	hub.registerClient(first)
	hub.registerClient(second)

	if len(hub.sessions["s1"]) != 2 {
		t.Errorf("Expected 2 clients in session, got %d", len(hub.sessions["s1"]))
	}
	if subs, _ := src.counts(); subs != 1 {
		t.Errorf("Expected one subscription per session, got %d", subs)
	}
}

func TestHubRegisterUnknownSession(t *testing.T) {
	hub := NewHub(newFakeSource(), zerolog.New(io.Discard))
	client := &Client{hub: hub, sessionID: "missing", send: make(chan []byte, 1)}

	hub.registerClient(client)

	if _, exists := hub.sessions["missing"]; exists {
		t.Error("Session should not be tracked when it cannot be watched")
	}
	if _, ok := <-client.send; ok {
		t.Error("Client send channel should be closed")
	}
}

func TestHubUnregisterClient(t *testing.T) {
	src := newFakeSource("s1")
	hub := NewHub(src, zerolog.New(io.Discard))

	first := &Client{hub: hub, sessionID: "s1", send: make(chan []byte, sendBufferSize)}
	second := &Client{hub: hub, sessionID: "s1", send: make(chan []byte, sendBufferSize)}
	hub.registerClient(first)
	hub.registerClient(second)

	hub.unregisterClient(first)
	if _, unsubs := src.counts(); unsubs != 0 {
		t.Errorf("Session should stay watched while clients remain, got %d unsubscribes", unsubs)
	}

	hub.unregisterClient(second)
	if _, exists := hub.sessions["s1"]; exists {
		t.Error("Session should be removed when last client leaves")
	}
	if _, unsubs := src.counts(); unsubs != 1 {
		t.Errorf("Expected 1 unsubscribe, got %d", unsubs)
	}

	// Unregistering twice is a no-op
	hub.unregisterClient(second)
}

func TestHubBroadcastDropsSlowClient(t *testing.T) {
	hub := NewHub(newFakeSource("s1"), zerolog.New(io.Discard))

	slow := &Client{hub: hub, sessionID: "s1", send: make(chan []byte)}
	hub.registerClient(slow)

	hub.broadcastMessage(&Message{SessionID: "s1", Event: EventStateUpdate})

	if _, exists := hub.sessions["s1"]; exists {
		t.Error("Slow client should have been dropped")
	}
}

func TestServeWSUnknownSession(t *testing.T) {
	hub := newTestHub(t, newFakeSource())
	server := newTestServer(t, hub)

	resp, err := http.Get(server.URL + "?session=nope")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestWebSocketSnapshotAndUpdates(t *testing.T) {
	src := newFakeSource("s1")
	hub := newTestHub(t, src)
	server := newTestServer(t, hub)

	conn := dial(t, server, "s1")

	snapshot := readMessage(t, conn)
	if snapshot.Event != EventSnapshot || snapshot.SessionID != "s1" || snapshot.State == nil {
		t.Fatalf("Expected snapshot for s1, got %+v", snapshot)
	}

	waitFor(t, "subscription", func() bool { return src.watching("s1") })

	state := poker.NewState()
	if err := state.MergeJSON([]byte(`{"revealed":true,"users":{"lucas":{"is_player":true,"has_voted":true,"vote":3}}}`)); err != nil {
		t.Fatalf("MergeJSON: %v", err)
	}
	src.emit("s1", session.StateChanged{SessionID: "s1", State: state})

	update := readMessage(t, conn)
	if update.Event != EventStateUpdate {
		t.Fatalf("Expected state_update, got %q", update.Event)
	}
	if !update.State.Revealed || len(update.State.Players) != 1 {
		t.Fatalf("Unexpected state view: %+v", update.State)
	}
	if got := update.State.Players[0]; got.Name != "lucas" || got.Vote != "3" {
		t.Errorf("Unexpected player: %+v", got)
	}

	src.emit("s1", session.ValidVotesChanged{SessionID: "s1", Votes: []string{"1", "2", "?"}})
	if msg := readMessage(t, conn); msg.Event != EventValidVotes {
		t.Errorf("Expected valid_votes, got %q", msg.Event)
	}

	src.emit("s1", session.CurrentUserChanged{SessionID: "s1", Name: "lucas2"})
	msg := readMessage(t, conn)
	if data, _ := msg.Data.(map[string]interface{}); msg.Event != EventCurrentUser || data["name"] != "lucas2" {
		t.Errorf("Expected current_user lucas2, got %+v", msg)
	}

	src.emit("s1", session.Disconnected{SessionID: "s1", Err: errors.New("closed")})
	msg = readMessage(t, conn)
	if data, _ := msg.Data.(map[string]interface{}); msg.Event != EventDisconnected || data["error"] != "closed" {
		t.Errorf("Expected disconnected, got %+v", msg)
	}
}

func TestWebSocketSessionIsolation(t *testing.T) {
	src := newFakeSource("s1", "s2")
	hub := newTestHub(t, src)
	server := newTestServer(t, hub)

	one := dial(t, server, "s1")
	two := dial(t, server, "s2")
	readMessage(t, one)
	readMessage(t, two)

	waitFor(t, "subscriptions", func() bool { return src.watching("s1") && src.watching("s2") })

	src.emit("s2", session.CurrentUserChanged{SessionID: "s2", Name: "ana"})

	if msg := readMessage(t, two); msg.SessionID != "s2" {
		t.Errorf("Expected message for s2, got %q", msg.SessionID)
	}

	one.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	if _, _, err := one.ReadMessage(); err == nil {
		t.Error("Client of s1 should not receive s2 events")
	}
}

func TestWebSocketCloseUnsubscribes(t *testing.T) {
	src := newFakeSource("s1")
	hub := newTestHub(t, src)
	server := newTestServer(t, hub)

	conn := dial(t, server, "s1")
	readMessage(t, conn)
	waitFor(t, "subscription", func() bool { return src.watching("s1") })

	conn.Close()

	waitFor(t, "unsubscribe", func() bool {
		_, unsubs := src.counts()
		return unsubs == 1
	})
}

// readUntil reads frames until match accepts one
func readUntil(t *testing.T, conn *websocket.Conn, what string, match func(Message) bool) Message {
	t.Helper()
	for i := 0; i < 50; i++ {
		if msg := readMessage(t, conn); match(msg) {
			return msg
		}
	}
	t.Fatalf("No %s frame received", what)
	return Message{}
}

func TestWebSocketFollowsRejoinedSession(t *testing.T) {
	srv := sessiontest.NewServer()
	t.Cleanup(srv.Close)

	svc := service.NewPokerService(srv.NewDirectory(t, nil), zerolog.Nop())
	ctx := context.Background()

	info, err := svc.CreateSession(ctx, "sprint1", "lucas")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	hub := NewHub(svc, zerolog.Nop())
	hubCtx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(hubCtx)

	conn := dial(t, newTestServer(t, hub), info.ID)
	if msg := readMessage(t, conn); msg.Event != EventSnapshot {
		t.Fatalf("Expected snapshot, got %q", msg.Event)
	}

	// Vote until the relay, subscribed asynchronously, shows it
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			svc.Vote(ctx, info.ID, 5)
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
		}
	}()
	readUntil(t, conn, "vote", func(msg Message) bool {
		if msg.Event != EventStateUpdate {
			return false
		}
		for _, p := range msg.State.Players {
			if p.Name == "lucas" && p.HasVoted {
				return true
			}
		}
		return false
	})
	close(stop)
	wg.Wait()

	srv.DropClients()
	readUntil(t, conn, "disconnected", func(msg Message) bool { return msg.Event == EventDisconnected })

	if _, err := svc.JoinSession(ctx, info.ID, "lucas"); err != nil {
		t.Fatalf("rejoin failed: %v", err)
	}

	// The server renames the second "lucas" it sees
	readUntil(t, conn, "state_update from the rejoined session", func(msg Message) bool {
		if msg.Event != EventStateUpdate {
			return false
		}
		for _, p := range msg.State.Players {
			if p.Name == "lucas2" {
				return true
			}
		}
		return false
	})
}
