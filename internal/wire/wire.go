// Package wire defines the JSON frames exchanged on the activity channel.
//
// Client-initiated frames carry an id; the server answers each with an ack
// frame echoing that id. Server-initiated events (activity_update) carry
// no id and expect no response.
package wire

import (
	"encoding/json"
	"fmt"
)

// Event names.
const (
	EventJoinAdmin      = "join_admin"
	EventTrackActivity  = "track_activity"
	EventActivityUpdate = "activity_update"
	EventAck            = "ack"
)

// Frame is the envelope for every message on the channel.
type Frame struct {
	Type    string          `json:"type"`
	ID      int64           `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Ack is the structured result of a client-initiated request.
type Ack struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// JoinRequest is the payload of a join_admin frame.
type JoinRequest struct {
	Token string `json:"token"`
}

// NewFrame builds a frame with a marshaled payload.
func NewFrame(eventType string, id int64, payload any) (Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Frame{Type: eventType, ID: id, Payload: data}, nil
}

// NewAck builds an ack frame for the given request id.
func NewAck(id int64, ack Ack) Frame {
	data, _ := json.Marshal(ack)
	return Frame{Type: EventAck, ID: id, Payload: data}
}

// ParseAck validates an ack payload against its fixed shape. A payload
// without a boolean success field is rejected rather than trusted.
func ParseAck(payload json.RawMessage) (Ack, error) {
	var shape struct {
		Success *bool  `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(payload, &shape); err != nil {
		return Ack{}, fmt.Errorf("malformed ack payload: %w", err)
	}
	if shape.Success == nil {
		return Ack{}, fmt.Errorf("ack payload missing success field")
	}
	return Ack{Success: *shape.Success, Error: shape.Error}, nil
}
