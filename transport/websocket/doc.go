// Package websocket provides the WebSocket transport and broadcast hub for
// the location sync relay.
//
// The websocket package implements:
//   - Connection upgrade and peer identity extraction
//   - Per-connection read and write pumps
//   - Validation of inbound LocationUpdate frames
//   - Fan-out of LocationBroadcast frames to every peer except the sender
//   - Idempotent connection teardown
//
// Architecture:
//
// The Hub owns a registry.Registry. Each accepted connection becomes a
// client with two goroutines: readPump validates and dispatches inbound
// frames, writePump drains the client's bounded send queue. Fan-out only
// enqueues, so a slow peer never stalls the sender or other peers; a full
// queue counts as a failed send for that peer alone.
//
// Message Protocol:
//
//   - Incoming: {"type":"LocationUpdate","clientIP":"...","transforms":[...]}
//   - Outgoing: {"type":"ConnectionEstablished","message":"..."} once per connection
//   - Outgoing: {"type":"LocationBroadcast","sourceIP":"...","transforms":[...]}
//
// Invalid frames are logged and dropped. The connection stays open and no
// reply is sent.
//
// Usage:
//
//	reg := registry.New()
//	mon := liveness.NewMonitor(reg, m)
//	hub := websocket.NewHub(reg, m, websocket.WithHeartbeat(mon))
//	http.HandleFunc("/ws", hub.ServeWS)
//
// Connection Lifecycle:
//
// 1. Upgrade (connecting)
// 2. Registered under its peer identity (open)
// 3. ConnectionEstablished sent, best effort
// 4. Inbound updates validated and fanned out
// 5. Close frame, transport error, heartbeat eviction or shutdown (closed)
// 6. Registry entry released exactly once
//
// Heartbeats:
//
// Pings are sent by the liveness monitor through the registry; pong replies
// are routed back to it through the Heartbeat passed with WithHeartbeat.
package websocket
