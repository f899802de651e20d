// Package document holds the per-room shared state: the replicated node
// and edge maps, the referential rules between them, and the ephemeral
// presence table. All durable mutations flow through Apply, which is the
// single merge path for local and remote operations alike.
package document

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mapsync/mapsync/pkg/crdt"
)

// Store is one room's document. It owns the cascade-deletion invariant:
// deleting a node deterministically deletes every edge referencing it, on
// every replica, without coordination.
type Store struct {
	roomID string

	nodes *crdt.Map[Node]
	edges *crdt.Map[Edge]

	presence *PresenceTable

	mu        sync.Mutex
	observers []func()
}

// NewStore creates an empty document for a room.
func NewStore(roomID string, presence *PresenceTable) *Store {
	return &Store{
		roomID:   roomID,
		nodes:    crdt.NewMap[Node](),
		edges:    crdt.NewMap[Edge](),
		presence: presence,
	}
}

// RoomID returns the owning room id.
func (s *Store) RoomID() string {
	return s.roomID
}

// Presence returns the room's ephemeral presence table.
func (s *Store) Presence() *PresenceTable {
	return s.presence
}

// OnChange registers a callback fired once per Apply call that changed
// durable state. Presence never triggers it. Not safe to call concurrently
// with Apply.
func (s *Store) OnChange(fn func()) {
	s.observers = append(s.observers, fn)
}

// Apply merges a batch of mutations and returns the ones that took effect,
// including any cascade deletes the batch provoked. Returned mutations are
// in apply order and safe to relay to every replica verbatim.
//
// Edge sets whose endpoints are not live nodes at application time are
// dropped without error: out-of-order delivery can make an edge reference
// a node that does not exist yet, and never materializing the edge is the
// convergent outcome. A malformed value aborts the whole batch before any
// state changes.
func (s *Store) Apply(muts []Mutation) ([]Mutation, error) {
	decoded, err := decodeBatch(muts)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var applied []Mutation
	for i, mut := range muts {
		switch mut.Map {
		case MapNodes:
			applied = append(applied, s.applyNode(mut, decoded[i])...)
		case MapEdges:
			applied = append(applied, s.applyEdge(mut, decoded[i])...)
		}
	}

	if len(applied) > 0 {
		for _, fn := range s.observers {
			fn()
		}
	}
	return applied, nil
}

func (s *Store) applyNode(mut Mutation, value any) []Mutation {
	if mut.Action == ActionSet {
		if !s.nodes.Set(mut.Key, value.(Node), mut.Writer, mut.Clock) {
			return nil
		}
		return []Mutation{mut}
	}

	if !s.nodes.Delete(mut.Key, mut.Writer, mut.Clock) {
		return nil
	}
	applied := []Mutation{mut}

	// Cascade: every replica that applies this node deletion derives edge
	// deletions for the incident edges it holds, with no coordinator. The
	// cascade clock must supersede the edge's own last write, not just the
	// node deletion: clients assign clocks independently, so an incident
	// edge can carry a higher clock than the delete that kills it.
	for id, edge := range s.edges.Snapshot() {
		if edge.SourceNodeID != mut.Key && edge.TargetNodeID != mut.Key {
			continue
		}
		cascade := mut.Clock
		if clock, _, ok := s.edges.Version(id); ok && clock > cascade {
			cascade = clock
		}
		cascade++
		if s.edges.Delete(id, mut.Writer, cascade) {
			applied = append(applied, Mutation{
				Map:    MapEdges,
				Action: ActionDelete,
				Key:    id,
				Writer: mut.Writer,
				Clock:  cascade,
			})
		}
	}
	return applied
}

func (s *Store) applyEdge(mut Mutation, value any) []Mutation {
	if mut.Action == ActionSet {
		edge := value.(Edge)
		if !s.nodes.Contains(edge.SourceNodeID) || !s.nodes.Contains(edge.TargetNodeID) {
			// dangling endpoint, drop silently
			return nil
		}
		if !s.edges.Set(mut.Key, edge, mut.Writer, mut.Clock) {
			return nil
		}
		return []Mutation{mut}
	}

	if !s.edges.Delete(mut.Key, mut.Writer, mut.Clock) {
		return nil
	}
	return []Mutation{mut}
}

// decodeBatch decodes every set value up front so a malformed mutation
// rejects the batch before anything is applied.
func decodeBatch(muts []Mutation) ([]any, error) {
	decoded := make([]any, len(muts))
	for i, mut := range muts {
		if mut.Action != ActionSet {
			continue
		}
		switch mut.Map {
		case MapNodes:
			var node Node
			if err := json.Unmarshal(mut.Value, &node); err != nil {
				return nil, fmt.Errorf("decode node %s: %w", mut.Key, err)
			}
			if node.ID == "" {
				node.ID = mut.Key
			}
			if node.ID != mut.Key {
				return nil, fmt.Errorf("node value id %q does not match key %q", node.ID, mut.Key)
			}
			decoded[i] = node
		case MapEdges:
			var edge Edge
			if err := json.Unmarshal(mut.Value, &edge); err != nil {
				return nil, fmt.Errorf("decode edge %s: %w", mut.Key, err)
			}
			if edge.ID == "" {
				edge.ID = mut.Key
			}
			if edge.ID != mut.Key {
				return nil, fmt.Errorf("edge value id %q does not match key %q", edge.ID, mut.Key)
			}
			if edge.SourceNodeID == "" || edge.TargetNodeID == "" {
				return nil, fmt.Errorf("edge %s is missing an endpoint", mut.Key)
			}
			decoded[i] = edge
		}
	}
	return decoded, nil
}

// NodeSnapshot returns the live nodes.
func (s *Store) NodeSnapshot() map[string]Node {
	return s.nodes.Snapshot()
}

// EdgeSnapshot returns the live edges.
func (s *Store) EdgeSnapshot() map[string]Edge {
	return s.edges.Snapshot()
}

// Snapshot returns the full durable state, suitable for the join message
// and for persistence.
func (s *Store) Snapshot() Snapshot {
	return Snapshot{
		Nodes: s.nodes.Snapshot(),
		Edges: s.edges.Snapshot(),
	}
}

// Counts returns the number of live nodes and edges.
func (s *Store) Counts() (nodes, edges int) {
	return s.nodes.Len(), s.edges.Len()
}
