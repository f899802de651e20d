package document

import "encoding/json"

// Position is a node's location on the canvas.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NodeData holds the editable attributes of a node.
type NodeData struct {
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	OrganisationID string   `json:"organisationId,omitempty"`
	ResourceIDs    []string `json:"resourceIds,omitempty"`
}

// Node is a typed vertex in the shared diagram. Ids are generated client
// side with the compact alphabet in pkg/ids.
type Node struct {
	ID       string   `json:"id"`
	TypeID   string   `json:"typeId"`
	Position Position `json:"position"`
	Data     NodeData `json:"data"`
}

// Edge connects two nodes. Both endpoints must reference live nodes; the
// store enforces this via cascade deletion and by dropping edge writes
// whose endpoints are missing.
type Edge struct {
	ID           string `json:"id"`
	SourceNodeID string `json:"sourceNodeId"`
	TargetNodeID string `json:"targetNodeId"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
	Style        string `json:"style,omitempty"`
}

// Map names addressable by mutations.
const (
	MapNodes = "nodes"
	MapEdges = "edges"
)

// Mutation actions.
const (
	ActionSet    = "set"
	ActionDelete = "delete"
)

// Mutation is one replicated-map operation as it travels on the wire. The
// value stays raw until the store knows which entity type to decode.
type Mutation struct {
	Map    string          `json:"map" validate:"required,oneof=nodes edges"`
	Action string          `json:"action" validate:"required,oneof=set delete"`
	Key    string          `json:"key" validate:"required"`
	Value  json.RawMessage `json:"value,omitempty"`
	Writer string          `json:"writer" validate:"required"`
	Clock  uint64          `json:"clock"`
}

// Snapshot is the full durable state of one room.
type Snapshot struct {
	Nodes map[string]Node `json:"nodes"`
	Edges map[string]Edge `json:"edges"`
}
