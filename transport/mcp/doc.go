// Package mcp exposes the pokerboy REST API as Model Context Protocol tools.
//
// The Client is a thin proxy: every tool calls the REST API, which owns the
// live connection to the poker server. This lets an agent running over stdio
// share sessions with the HTTP server and its websocket relay.
//
// MCP Tools:
//   - create_session, join_session: enter a session
//   - list_sessions, get_session, session_state: inspect sessions
//   - vote, reveal, reset_votes: play a round
//   - toggle_playing, promote, become_admin: manage participants
//   - valid_votes: refresh the vote options
//   - poker_instructions: usage notes for agents
//
// Usage:
//
//	client := mcp.NewClient("http://localhost:8080")
//	server.ServeStdio(client.GetMCPServer())
package mcp
