package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/wricardo/pokerboy/game/service"
)

// Client is a thin MCP client that proxies to the REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
}

// NewClient creates a new MCP client that calls the REST API
func NewClient(baseURL string) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			// Joins poll for up to a second or two; creates can take longer
			Timeout: 30 * time.Second,
		},
	}

	c.initMCPServer()
	return c
}

const instructions = `Pokerboy - planning poker over MCP

This is a thin client that proxies all requests to the pokerboy REST API,
which holds the live connection to the poker server.

HOW A ROUND WORKS:
1. An admin creates a session (create_session) or everyone joins one (join_session).
2. Players vote (vote). Votes stay hidden until revealed.
3. An admin reveals (reveal), everyone discusses, then an admin resets (reset_votes).

AVAILABLE TOOLS:
- create_session: Create a session; this client becomes its admin
- join_session: Join an existing session by id
- list_sessions / get_session: Sessions this client has joined
- session_state: Players, spectators, votes and a summary once revealed
- vote: Cast a vote (use a value from valid_votes)
- reveal / reset_votes: Admin actions for a round
- toggle_playing / promote: Admin actions on a participant
- become_admin: Claim admin rights with the session password
- valid_votes: Ask the server for the vote options
- poker_instructions: These instructions

NOTE: Actions are fire-and-forget. Call session_state afterwards to see
whether the server applied them; admin-only actions from non-admins are
ignored by the server.`

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		"Pokerboy",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(instructions),
	)

	c.registerTools()
}

var sessionIDProperty = map[string]interface{}{
	"type":        "string",
	"description": "Session ID",
}

// sessionTool builds a tool whose first argument is the session id
func sessionTool(name, description string, props map[string]interface{}, required ...string) mcp.Tool {
	properties := map[string]interface{}{"session_id": sessionIDProperty}
	for k, v := range props {
		properties[k] = v
	}
	return mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: properties,
			Required:   append([]string{"session_id"}, required...),
		},
	}
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	// Session management
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "create_session",
		Description: "Create a new planning poker session and join it as admin",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Name of the session",
				},
				"username": map[string]interface{}{
					"type":        "string",
					"description": "Your name in the session",
				},
			},
			Required: []string{"name", "username"},
		},
	}, c.handleCreateSession)

	c.mcpServer.AddTool(sessionTool("join_session", "Join an existing session", map[string]interface{}{
		"username": map[string]interface{}{
			"type":        "string",
			"description": "Your name in the session; the server may add a suffix if taken",
		},
	}, "username"), c.handleJoinSession)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_sessions",
		Description: "List the sessions this client has joined",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleListSessions)

	c.mcpServer.AddTool(sessionTool("get_session", "Get details of a joined session", nil), c.handleGetSession)

	c.mcpServer.AddTool(sessionTool("session_state", "Get players, spectators and votes of a session", nil), c.handleSessionState)

	// Actions
	c.mcpServer.AddTool(sessionTool("vote", "Cast your vote", map[string]interface{}{
		"vote": map[string]interface{}{
			"type":        []string{"string", "number"},
			"description": "Vote value, one of the session's valid votes",
		},
	}, "vote"), c.handleVote)

	c.mcpServer.AddTool(sessionTool("reveal", "Reveal all votes (admin only)", nil), c.actionHandler("reveal", ""))

	c.mcpServer.AddTool(sessionTool("reset_votes", "Clear votes and start a new round (admin only)", nil), c.actionHandler("reset", ""))

	userProperty := map[string]interface{}{
		"user": map[string]interface{}{
			"type":        "string",
			"description": "Name of the participant",
		},
	}
	c.mcpServer.AddTool(sessionTool("toggle_playing", "Switch a participant between player and spectator (admin only)", userProperty, "user"),
		c.actionHandler("toggle-playing", "user"))

	c.mcpServer.AddTool(sessionTool("promote", "Make a participant admin (admin only)", userProperty, "user"),
		c.actionHandler("promote", "user"))

	c.mcpServer.AddTool(sessionTool("become_admin", "Claim admin rights with the session password", map[string]interface{}{
		"password": map[string]interface{}{
			"type":        "string",
			"description": "Session password; omit to use the one stored when the session was created",
		},
	}), c.actionHandler("become-admin", "password"))

	c.mcpServer.AddTool(sessionTool("valid_votes", "Ask the server for the session's vote options", nil), c.actionHandler("valid-votes", ""))

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "poker_instructions",
		Description: "Explain how planning poker works with these tools",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleInstructions)
}

// GetMCPServer returns the underlying MCP server for serving
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// Helper methods for API calls

func (c *Client) apiCall(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp map[string]string
		json.NewDecoder(resp.Body).Decode(&errResp)
		if msg, ok := errResp["error"]; ok {
			return fmt.Errorf("%s", msg)
		}
		return fmt.Errorf("API error: %d", resp.StatusCode)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

func arguments(request mcp.CallToolRequest) map[string]interface{} {
	args, _ := request.Params.Arguments.(map[string]interface{})
	if args == nil {
		return map[string]interface{}{}
	}
	return args
}

func sessionPath(sessionID, suffix string) string {
	return "/api/sessions/" + url.PathEscape(sessionID) + suffix
}

// Tool handlers

func (c *Client) handleCreateSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	name, _ := args["name"].(string)
	username, _ := args["username"].(string)

	var info service.SessionInfo
	err := c.apiCall(ctx, "POST", "/api/sessions", map[string]string{"name": name, "username": username}, &info)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Created session: %s\n%s", info.ID, formatSessionInfo(&info))
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleJoinSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	sessionID, _ := args["session_id"].(string)
	username, _ := args["username"].(string)

	var info service.SessionInfo
	err := c.apiCall(ctx, "POST", sessionPath(sessionID, "/join"), map[string]string{"username": username}, &info)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatSessionInfo(&info)), nil
}

func (c *Client) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var resp struct {
		Count    int                    `json:"count"`
		Sessions []*service.SessionInfo `json:"sessions"`
	}
	if err := c.apiCall(ctx, "GET", "/api/sessions", nil, &resp); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if resp.Count == 0 {
		return mcp.NewToolResultText("No sessions joined yet. Use create_session or join_session."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Sessions (%d):\n", resp.Count)
	for _, info := range resp.Sessions {
		flags := ""
		if info.IsAdmin {
			flags += " admin"
		}
		if info.Stale {
			flags += " stale"
		}
		fmt.Fprintf(&b, "- %s as %s [%s%s]\n", info.ID, info.Username, info.Status, flags)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (c *Client) handleGetSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, _ := arguments(request)["session_id"].(string)

	var info service.SessionInfo
	if err := c.apiCall(ctx, "GET", sessionPath(sessionID, ""), nil, &info); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatSessionInfo(&info)), nil
}

func (c *Client) handleSessionState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, _ := arguments(request)["session_id"].(string)

	var state service.StateView
	if err := c.apiCall(ctx, "GET", sessionPath(sessionID, "/state"), nil, &state); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatState(&state)), nil
}

func (c *Client) handleVote(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	sessionID, _ := args["session_id"].(string)

	var result service.ActionResult
	err := c.apiCall(ctx, "POST", sessionPath(sessionID, "/vote"), map[string]interface{}{"vote": args["vote"]}, &result)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatActionResult(&result)), nil
}

// actionHandler proxies a session action; argName, when set, is forwarded
// as the request body
func (c *Client) actionHandler(route, argName string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := arguments(request)
		sessionID, _ := args["session_id"].(string)

		var body interface{}
		if argName != "" {
			value, _ := args[argName].(string)
			body = map[string]string{argName: value}
		}

		var result service.ActionResult
		if err := c.apiCall(ctx, "POST", sessionPath(sessionID, "/"+route), body, &result); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText(formatActionResult(&result)), nil
	}
}

func (c *Client) handleInstructions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(instructions), nil
}

// Formatting helpers

func formatSessionInfo(info *service.SessionInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session: %s\n", info.ID)
	fmt.Fprintf(&b, "You are: %s\n", info.Username)
	fmt.Fprintf(&b, "Status: %s", info.Status)
	if info.Stale {
		b.WriteString(" (connection lost, join again)")
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Admin: %t\n", info.IsAdmin)
	if len(info.ValidVotes) > 0 {
		fmt.Fprintf(&b, "Valid votes: %s\n", strings.Join(info.ValidVotes, ", "))
	}
	if info.State != nil {
		b.WriteString("\n")
		b.WriteString(formatState(info.State))
	}
	return b.String()
}

func formatState(state *service.StateView) string {
	var b strings.Builder

	if state.Revealed {
		b.WriteString("Votes: revealed\n")
	} else {
		b.WriteString("Votes: hidden\n")
	}

	fmt.Fprintf(&b, "Players (%d):\n", len(state.Players))
	for _, p := range state.Players {
		fmt.Fprintf(&b, "- %s%s: %s\n", p.Name, adminMark(p), voteText(p, state.Revealed))
	}

	if len(state.Spectators) > 0 {
		fmt.Fprintf(&b, "Spectators (%d):\n", len(state.Spectators))
		for _, s := range state.Spectators {
			fmt.Fprintf(&b, "- %s%s\n", s.Name, adminMark(s))
		}
	}

	if state.Summary != nil {
		b.WriteString(formatSummary(state.Summary))
	}
	return b.String()
}

func adminMark(u service.UserView) string {
	if u.IsAdmin {
		return " (admin)"
	}
	return ""
}

func voteText(u service.UserView, revealed bool) string {
	switch {
	case revealed && u.Vote != "":
		return u.Vote
	case u.HasVoted:
		return "voted"
	default:
		return "waiting"
	}
}

func formatSummary(summary *service.VoteSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Summary: %d votes", summary.Votes)
	if summary.Average != nil {
		fmt.Fprintf(&b, ", average %.2f", *summary.Average)
	}
	if summary.Consensus != "" {
		fmt.Fprintf(&b, ", consensus on %s", summary.Consensus)
	}
	b.WriteString("\n")

	values := make([]string, 0, len(summary.Counts))
	for v := range summary.Counts {
		values = append(values, v)
	}
	sort.Strings(values)
	for _, v := range values {
		fmt.Fprintf(&b, "  %s: %d\n", v, summary.Counts[v])
	}
	return b.String()
}

func formatActionResult(result *service.ActionResult) string {
	if result.Message != "" {
		return fmt.Sprintf("%s (session %s). Check session_state for the outcome.", result.Message, result.SessionID)
	}
	return fmt.Sprintf("%s sent (session %s). Check session_state for the outcome.", result.Action, result.SessionID)
}
