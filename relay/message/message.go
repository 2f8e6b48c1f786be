package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"
)

// Message types carried in the "type" field.
const (
	TypeLocationUpdate        = "LocationUpdate"
	TypeLocationBroadcast     = "LocationBroadcast"
	TypeConnectionEstablished = "ConnectionEstablished"
)

// TransformSize is the number of values in a transform's data array.
const TransformSize = 4

var (
	ErrMalformedEncoding  = errors.New("malformed encoding")
	ErrUnknownType        = errors.New("unknown type")
	ErrMissingSender      = errors.New("missing sender identity")
	ErrMalformedTransform = errors.New("malformed transform entry")
)

// Transform is one tracked entity's state. The hub does not interpret Data.
type Transform struct {
	ID   string                 `json:"id"`
	Data [TransformSize]float64 `json:"data"`
}

// LocationUpdate is a validated inbound update.
type LocationUpdate struct {
	Type       string
	ClientIP   string
	Transforms []Transform

	// raw holds the transforms array exactly as it arrived.
	raw json.RawMessage
}

// RawTransforms returns the transforms array as received on the wire.
func (u *LocationUpdate) RawTransforms() json.RawMessage {
	return u.raw
}

// LocationBroadcast is the outbound re-wrap of a LocationUpdate.
type LocationBroadcast struct {
	Type       string          `json:"type"`
	SourceIP   string          `json:"sourceIP"`
	Transforms json.RawMessage `json:"transforms"`
}

// ConnectionEstablished greets a newly registered peer.
type ConnectionEstablished struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewBroadcast wraps a validated update for fan-out. The transforms are
// passed through untouched.
func NewBroadcast(u *LocationUpdate) LocationBroadcast {
	return LocationBroadcast{
		Type:       TypeLocationBroadcast,
		SourceIP:   u.ClientIP,
		Transforms: u.raw,
	}
}

// EncodeBroadcast builds the wire form of a broadcast for the given update.
func EncodeBroadcast(u *LocationUpdate) ([]byte, error) {
	return json.Marshal(NewBroadcast(u))
}

// EncodeEstablished builds the one-shot greeting frame.
func EncodeEstablished(text string) ([]byte, error) {
	return json.Marshal(ConnectionEstablished{
		Type:    TypeConnectionEstablished,
		Message: text,
	})
}

// EncodeUpdate builds an outbound LocationUpdate frame as a peer sends it.
func EncodeUpdate(clientIP string, transforms []Transform) ([]byte, error) {
	if transforms == nil {
		transforms = []Transform{}
	}
	return json.Marshal(struct {
		Type       string      `json:"type"`
		ClientIP   string      `json:"clientIP"`
		Transforms []Transform `json:"transforms"`
	}{TypeLocationUpdate, clientIP, transforms})
}

// Validate decodes an inbound frame and checks it against the LocationUpdate
// schema. Checks run in a fixed order and stop at the first failure; the
// returned error wraps one of the Err* sentinels.
func Validate(payload []byte) (*LocationUpdate, error) {
	if !utf8.Valid(payload) {
		return nil, fmt.Errorf("%w: invalid utf-8", ErrMalformedEncoding)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		return nil, ErrMalformedEncoding
	}

	typ, ok := decodeString(fields["type"])
	if !ok || typ != TypeLocationUpdate {
		return nil, ErrUnknownType
	}

	clientIP, ok := decodeString(fields["clientIP"])
	if !ok || clientIP == "" {
		return nil, ErrMissingSender
	}

	raw := fields["transforms"]
	var entries []json.RawMessage
	if !isArray(raw) || json.Unmarshal(raw, &entries) != nil {
		return nil, fmt.Errorf("%w: transforms is not an array", ErrMalformedTransform)
	}

	transforms := make([]Transform, 0, len(entries))
	for i, entry := range entries {
		t, err := decodeTransform(entry)
		if err != nil {
			return nil, fmt.Errorf("%w: index %d: %v", ErrMalformedTransform, i, err)
		}
		transforms = append(transforms, t)
	}

	return &LocationUpdate{
		Type:       typ,
		ClientIP:   clientIP,
		Transforms: transforms,
		raw:        raw,
	}, nil
}

func decodeTransform(entry json.RawMessage) (Transform, error) {
	var t Transform

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(entry, &fields); err != nil || fields == nil {
		return t, errors.New("not an object")
	}

	id, ok := decodeString(fields["id"])
	if !ok {
		return t, errors.New("id is not a string")
	}
	t.ID = id

	data := fields["data"]
	var values []json.RawMessage
	if !isArray(data) || json.Unmarshal(data, &values) != nil {
		return t, errors.New("data is not an array")
	}
	if len(values) != TransformSize {
		return t, fmt.Errorf("data has %d values, want %d", len(values), TransformSize)
	}

	for i, v := range values {
		f, err := decodeFinite(v)
		if err != nil {
			return t, fmt.Errorf("data[%d]: %v", i, err)
		}
		t.Data[i] = f
	}

	return t, nil
}

// decodeString accepts only a JSON string literal; null and other kinds fail.
func decodeString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func decodeFinite(raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || !(raw[0] == '-' || (raw[0] >= '0' && raw[0] <= '9')) {
		return 0, errors.New("not a number")
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		// Out-of-range literals such as 1e999 land here.
		return 0, errors.New("not a finite number")
	}
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, errors.New("not a finite number")
	}
	return f, nil
}

func isArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}
