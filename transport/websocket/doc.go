// Package websocket relays planning poker session events to local clients.
//
// The websocket package implements:
//   - Session-scoped WebSocket connections for local UIs
//   - A state snapshot on connect followed by live updates
//   - Connection lifecycle management with ping/pong keepalive
//
// Architecture:
//
// The package uses a hub-and-spoke model where a central Hub owns all client
// connections. The hub watches a session through its Source while at least one
// client is connected and stops watching when the last one leaves. Each client
// has a read goroutine and a write goroutine.
//
// Message Protocol:
//
// Every frame is a JSON Message:
//
//	{"session_id": "...", "event": "state_update", "state": {...}}
//
// Events are snapshot, state_update, valid_votes, current_user and
// disconnected. Clients send actions through the REST API; frames they write
// are ignored.
//
// Usage:
//
//	hub := websocket.NewHub(pokerService, logger)
//	go hub.Run(ctx)
//
//	router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
//		hub.ServeWS(w, r, r.URL.Query().Get("session"))
//	})
//
// Concurrency:
//
// Registration, removal and broadcast all run on the hub's Run goroutine.
// Session listeners never block once the hub has stopped.
package websocket
