// Package mcp provides a Model Context Protocol server for inspecting the
// location sync relay.
//
// The mcp package implements:
//   - MCP server for AI agent integration
//   - Read-only tools backed by the relay's REST status API
//   - Stdio and HTTP transport modes
//
// MCP Tools:
//   - relay_status: Server address and connected peer count
//   - list_peers: Every connected peer with its connection ID and age
//   - get_peer: One peer by identity
//   - protocol_reference: The WebSocket message formats
//
// No tool can change relay state or send location updates.
//
// Usage:
//
//	client := mcp.NewClient("http://localhost:3000")
//
//	// Stdio mode
//	server.ServeStdio(client.GetMCPServer())
//
//	// HTTP mode
//	response := client.GetMCPServer().HandleMessage(ctx, body)
package mcp
