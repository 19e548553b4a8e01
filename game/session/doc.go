// Package session provides the planning poker session channel client.
//
// The session package implements:
//   - Negotiation of new sessions over the shared lobby channel
//   - The join protocol for a session's dedicated channel
//   - Merging of server state pushes into one authoritative State
//   - Fire-and-forget session actions (vote, reveal, reset, ...)
//   - Typed change notifications for UI layers
//   - Storage of admin secrets for sessions this client created
//
// Core Types:
//
// Directory is the client context: it owns the transport, the registry of
// sessions created or joined by this client, and the admin secret store.
// Session represents one joined session with its own channel and merged state.
//
// Join Protocol:
//
// A Session binds its event handlers before joining, then waits for the
// channel to report joined by checking it at a fixed interval. The join fails
// with ErrJoinTimeout after a fixed number of checks and with ErrJoinRejected
// when the server refuses the join. The channel is released on every failure.
//
// Usage:
//
//	socket := phoenix.NewSocket("ws://localhost:4000/socket", phoenix.Options{})
//	dir := session.NewDirectory(session.NewPhoenixTransport(socket), store, logger, session.DefaultOptions())
//
//	sess, err := dir.CreateSession(ctx, "sprint1", "lucas")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	unsubscribe := sess.Subscribe(func(e session.Event) {
//		if changed, ok := e.(session.StateChanged); ok {
//			render(changed.State)
//		}
//	})
//	defer unsubscribe()
//
//	sess.Vote(3)
//
// Concurrency:
//
// Inbound events are applied and published on the transport's read goroutine
// in delivery order. Session and Directory are safe for concurrent use.
//
// Disconnects:
//
// Sessions are not rejoined when the connection drops. They are marked stale
// and a Disconnected event is published; joining the same id again builds a
// fresh Session.
package session
