// Package room multiplexes client connections into per-room sessions,
// serializes every mutation through a single goroutine per room, and fans
// applied changes back out to the other participants.
package room

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/mapsync/mapsync/pkg/document"
)

// SyncPathPrefix is the fixed WebSocket path; the room id is the suffix.
const SyncPathPrefix = "/ws/registry/study-design-maps/"

// Client message types.
const (
	TypeIdentify = "identify"
	TypeUpdate   = "update"
	TypeCursor   = "cursor"
)

// Server message types.
const (
	TypeSnapshot      = "snapshot"
	TypePresence      = "presence"
	TypePresenceLeave = "presence_leave"
	// TypeUpdate is shared with the client direction
)

// ClientMessage is anything a client may send on the room channel.
type ClientMessage struct {
	Type string `json:"type" validate:"required,oneof=identify update cursor"`

	// identify: optional signed identity token
	Token string `json:"token,omitempty"`

	// update: replicated-map operations
	Ops []document.Mutation `json:"ops,omitempty" validate:"omitempty,dive"`

	// cursor: pointer position in canvas coordinates
	X float64 `json:"x,omitempty"`
	Y float64 `json:"y,omitempty"`
}

// ServerMessage is anything the server sends to a client.
type ServerMessage struct {
	Type string `json:"type"`

	// snapshot
	Nodes    map[string]document.Node `json:"nodes,omitempty"`
	Edges    map[string]document.Edge `json:"edges,omitempty"`
	Presence []document.PresenceEntry `json:"presence,omitempty"`

	// update
	Ops []document.Mutation `json:"ops,omitempty"`

	// presence / presence_leave
	Entry     *document.PresenceEntry `json:"entry,omitempty"`
	SessionID string                  `json:"sessionId,omitempty"`
}

var validate = validator.New()

// ParseClientMessage decodes and validates one inbound message. Anything
// that fails here is rejected at the session boundary and never reaches
// the document store.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("malformed message: %w", err)
	}
	if err := validate.Struct(msg); err != nil {
		return ClientMessage{}, fmt.Errorf("invalid message: %w", err)
	}
	if msg.Type == TypeUpdate && len(msg.Ops) == 0 {
		return ClientMessage{}, fmt.Errorf("update message without ops")
	}
	return msg, nil
}

func snapshotMessage(snap document.Snapshot, presence []document.PresenceEntry) ServerMessage {
	return ServerMessage{
		Type:     TypeSnapshot,
		Nodes:    snap.Nodes,
		Edges:    snap.Edges,
		Presence: presence,
	}
}

func updateMessage(ops []document.Mutation) ServerMessage {
	return ServerMessage{Type: TypeUpdate, Ops: ops}
}

func presenceMessage(entry document.PresenceEntry) ServerMessage {
	return ServerMessage{Type: TypePresence, Entry: &entry}
}

func presenceLeaveMessage(sessionID string) ServerMessage {
	return ServerMessage{Type: TypePresenceLeave, SessionID: sessionID}
}
