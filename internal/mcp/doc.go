// ABOUTME: Package documentation for the MCP server
// ABOUTME: Describes transports, sessions and the tool catalogue

// Package mcp exposes the engine to Model Context Protocol clients.
//
// # Transports
//
// Streamable HTTP: Server implements http.Handler for a single endpoint (mounted at
// /mcp by the API). An initialize POST creates a session whose ID is returned in the
// Mcp-Session-Id header; every later request must carry it. DELETE with the header
// ends the session. Notifications are acknowledged with 202 and no body.
//
// Stdio: ServeStdio reads one JSON-RPC message per line and writes one response per
// line, for clients that launch the server as a subprocess (agentstate mcp).
//
// # Tools
//
//	create_plan     goal, phases
//	start_phase     phase_name
//	complete_phase  phase_name
//	fail_phase      phase_name, reason
//	get_status
//	add_note        content, section
//	get_notes       section
//	add_decision    decision, rationale
//	get_decisions
//	log_error       error, resolution
//	get_errors
//	get_history     limit
//	rollback        version
//
// A tool that fails, for example start_phase without a plan, returns a normal result
// with isError set and the error text as content. Unknown tools and malformed
// arguments are JSON-RPC invalid-params errors.
//
// # Resources
//
// agentstate://status returns the same JSON as the get_status tool.
package mcp
