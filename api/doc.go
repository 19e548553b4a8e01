// Package api provides the HTTP REST API for the pokerboy client.
//
// The api package implements:
//   - Session endpoints backed by service.PokerService
//   - Action endpoints that hand messages to the session channel
//   - The websocket relay upgrade
//   - Health and Prometheus metrics endpoints
//
// Endpoints:
//
// Session Management:
//   - POST /api/sessions - Create a session {name, username}
//   - GET /api/sessions - List joined sessions (?stale=false hides dropped ones)
//   - GET /api/sessions/{id} - Get one session
//   - POST /api/sessions/{id}/join - Join an existing session {username}
//   - GET /api/sessions/{id}/state - Merged state with players and vote summary
//
// Actions (all answer 202 Accepted):
//   - POST /api/sessions/{id}/vote {vote}
//   - POST /api/sessions/{id}/reveal
//   - POST /api/sessions/{id}/reset
//   - POST /api/sessions/{id}/toggle-playing {user}
//   - POST /api/sessions/{id}/promote {user}
//   - POST /api/sessions/{id}/become-admin {password}
//   - POST /api/sessions/{id}/valid-votes
//
// Other:
//   - GET /ws?session={id} - Relay of session events
//   - GET /metrics, GET /health
//
// Actions are fire-and-forget: 202 means the message was sent. Whether the
// server accepted it shows up in the next state update.
//
// Error Handling:
//
// Errors are returned as {"error": "..."} with 400 for invalid input, 404 for
// unknown sessions, 409 for rejected joins and actions on sessions that are not
// joined, and 504 for join timeouts.
package api
