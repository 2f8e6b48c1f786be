package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/wricardo/mcp-training/locationsync/api"
)

// Client is a thin MCP client that proxies to the relay's status API
type Client struct {
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
}

// NewClient creates a new MCP client that calls the status API
func NewClient(baseURL string) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	c.initMCPServer()
	return c
}

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		"Location Sync Relay",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(`Location Sync Relay - MCP Interface

Read-only view of a LAN relay that fans location updates out to every
connected peer except the sender. This client proxies the REST status API.

AVAILABLE TOOLS:
- relay_status: Server address and number of connected peers
- list_peers: Every connected peer with connection ID and age
- get_peer: Details of one peer by identity (its IP address)
- protocol_reference: Wire format of the messages peers exchange`),
	)

	c.registerTools()
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "relay_status",
		Description: "Get the relay's address and connected peer count",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleRelayStatus)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_peers",
		Description: "List every connected peer",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleListPeers)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "get_peer",
		Description: "Get details of one connected peer",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"identity": map[string]interface{}{
					"type":        "string",
					"description": "Peer identity (IP address)",
				},
			},
			Required: []string{"identity"},
		},
	}, c.handleGetPeer)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "protocol_reference",
		Description: "Describe the WebSocket message formats",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleProtocolReference)
}

// GetMCPServer returns the underlying MCP server for serving
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// Helper methods for API calls

func (c *Client) apiCall(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	url := c.baseURL + path

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
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

func (c *Client) fetchStatus(ctx context.Context) (*api.Status, error) {
	var status api.Status
	if err := c.apiCall(ctx, "GET", "/api/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Tool handlers

func (c *Client) handleRelayStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := c.fetchStatus(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatStatus(status)), nil
}

func (c *Client) handleListPeers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := c.fetchStatus(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Connected Peers (%d):\n\n", status.PeerCount)
	if len(status.Peers) == 0 {
		result += "(none)\n"
	}
	now := time.Now()
	for _, p := range status.Peers {
		result += formatPeerLine(p, now) + "\n"
	}
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleGetPeer(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	identity, _ := args["identity"].(string)
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return mcp.NewToolResultError("identity is required"), nil
	}

	status, err := c.fetchStatus(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	for _, p := range status.Peers {
		if p.Identity == identity {
			result := fmt.Sprintf("Peer: %s\nConnection: %s\nConnected at: %s\nConnected for: %s\n",
				p.Identity, p.ConnectionID,
				p.ConnectedAt.Format(time.RFC3339),
				time.Since(p.ConnectedAt).Round(time.Second))
			return mcp.NewToolResultText(result), nil
		}
	}
	return mcp.NewToolResultError(fmt.Sprintf("peer %s is not connected", identity)), nil
}

func (c *Client) handleProtocolReference(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(protocolReference), nil
}

const protocolReference = `LOCATION SYNC PROTOCOL

Peers connect with a WebSocket to ws://<server>:<port>/ws (any path works).
Every frame is one JSON object.

SERVER -> PEER, once after connecting:
  {"type":"ConnectionEstablished","message":"Connected to location sync server (<server ip>)"}

PEER -> SERVER:
  {"type":"LocationUpdate","clientIP":"<sender ip>","transforms":[
    {"id":"<clientIP>:<object>","data":[x, y, yaw, scale]}
  ]}

  data always has exactly 4 finite numbers. Anything else is dropped
  silently; the connection stays open.

SERVER -> every other peer:
  {"type":"LocationBroadcast","sourceIP":"<clientIP>","transforms":[...]}

  transforms is relayed unchanged. The sender never receives its own update.

HEARTBEAT:
  The server pings every 30s by default. A peer that misses two rounds in a
  row is disconnected.`

func formatStatus(s *api.Status) string {
	return fmt.Sprintf("Relay: ws://%s:%d\nConnected peers: %d\n", s.ServerIP, s.Port, s.PeerCount)
}

func formatPeerLine(p api.PeerInfo, now time.Time) string {
	return fmt.Sprintf("- %s (connection %s, connected %s ago)",
		p.Identity, shortID(p.ConnectionID), now.Sub(p.ConnectedAt).Round(time.Second))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
