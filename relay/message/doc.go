// Package message defines the JSON wire format exchanged between the relay
// and its peers, and the validator applied to every inbound frame.
//
// Inbound:
//
//	{"type":"LocationUpdate","clientIP":"10.0.0.1","transforms":[{"id":"10.0.0.1:P1","data":[1,2,3,1]}]}
//
// Outbound:
//
//	{"type":"ConnectionEstablished","message":"..."}
//	{"type":"LocationBroadcast","sourceIP":"10.0.0.1","transforms":[...]}
//
// Validation is all-or-nothing: one bad transform rejects the whole update.
// The transforms array of an accepted update is forwarded exactly as it was
// received, so peers see the sender's values without re-encoding drift.
package message
