// Package api provides the HTTP surface of the location sync relay.
//
// The api package implements:
//   - WebSocket upgrade routing to the broadcast hub
//   - A read-only JSON status endpoint
//   - A human-readable status page
//   - Prometheus metrics exposition
//
// Endpoints:
//
// Peers:
//   - GET /ws - WebSocket upgrade
//   - Any request carrying "Upgrade: websocket" is upgraded regardless of path
//
// Status:
//   - GET / - HTML status page, refreshed every 5 seconds
//   - GET /api/status - Server IP, port and connected peers
//   - GET /api/health - Liveness check
//
// Metrics:
//   - GET /metrics - Prometheus text format (when enabled)
//
// Response Format:
//
//	{
//	  "server_ip": "192.168.1.10",
//	  "port": 3000,
//	  "peer_count": 2,
//	  "peers": [
//	    {"identity": "192.168.1.20", "connection_id": "...", "connected_at": "..."}
//	  ]
//	}
//
// Error responses use {"error": "message"}.
//
// Nothing here mutates relay state; peers only change through their own
// WebSocket connections.
package api
