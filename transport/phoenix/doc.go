// Package phoenix provides a client for Phoenix channels over WebSocket.
//
// The phoenix package implements:
//   - A single multiplexed WebSocket connection (Socket)
//   - Topic-scoped channels with join/leave lifecycle (Channel)
//   - Outbound pushes with reply hooks (Push)
//   - Application-level heartbeats
//
// Wire Protocol:
//
// Frames use the Phoenix v1 JSON serializer (vsn=1.0.0):
//
//	{"topic": "game:abc", "event": "user_vote", "payload": {"vote": 3}, "ref": "4", "join_ref": "2"}
//
// Replies arrive as "phx_reply" with a payload of {"status": "ok"|"error",
// "response": {...}} and the ref of the push they answer.
//
// Usage:
//
//	socket := phoenix.NewSocket("ws://localhost:4000/socket", phoenix.Options{})
//	if err := socket.Connect(ctx); err != nil {
//		log.Fatal(err)
//	}
//
//	ch := socket.Channel("game:lobby", nil)
//	ch.On("created", func(payload json.RawMessage) { ... })
//	ch.Join().Receive("error", func(reason json.RawMessage) { ... })
//
// Dispatch:
//
// Every inbound frame is read and dispatched by one goroutine per connection.
// Event handlers and reply hooks run on that goroutine in the order frames
// arrive, so handlers must not block.
//
// Reconnection is not attempted. When the connection drops every channel moves
// to the errored state and OnClose callbacks fire; callers that want to resume
// must build new channels on a reconnected socket.
package phoenix
