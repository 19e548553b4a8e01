// Package service provides the business logic layer for the pokerboy client.
//
// The service package implements:
//   - Creating and joining sessions through a session.Directory
//   - Read-only views of merged session state with vote summaries
//   - Session actions with input checks and vote normalisation
//   - Event subscriptions for streaming layers
//
// Core Interfaces:
//
// PokerService is the main service interface used by the REST API, the
// websocket relay and, through the API, the MCP server. SessionDirectory is the
// subset of session.Directory it depends on.
//
// Usage:
//
//	dir := session.NewDirectory(transport, secrets, logger, cfg.DirectoryOptions())
//	pokerService := service.NewPokerService(dir, logger)
//
//	info, err := pokerService.CreateSession(ctx, "sprint1", "lucas")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	pokerService.Vote(ctx, info.ID, "5")
//
// Actions are fire-and-forget. An ActionResult only says the message was sent;
// the server's decision shows up in a later state update.
package service
