package document

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// mutationFromSeed derives one mutation from a random seed, over a small
// pool of node and edge ids so deletions and dangling edges happen often.
func mutationFromSeed(seed uint64, clock uint64) Mutation {
	nodeIDs := []string{"n1", "n2", "n3", "n4"}
	edgeIDs := []string{"e1", "e2", "e3", "e4", "e5"}
	writers := []string{"alice", "bob"}
	writer := writers[seed%2]

	switch seed % 4 {
	case 0: // add node
		id := nodeIDs[(seed/4)%uint64(len(nodeIDs))]
		value, _ := json.Marshal(Node{ID: id, Data: NodeData{Name: fmt.Sprintf("node %s", id)}})
		return Mutation{Map: MapNodes, Action: ActionSet, Key: id, Value: value, Writer: writer, Clock: clock}
	case 1: // delete node
		id := nodeIDs[(seed/4)%uint64(len(nodeIDs))]
		return Mutation{Map: MapNodes, Action: ActionDelete, Key: id, Writer: writer, Clock: clock}
	case 2: // add edge between two pool nodes (may dangle, must be dropped)
		id := edgeIDs[(seed/4)%uint64(len(edgeIDs))]
		source := nodeIDs[(seed/16)%uint64(len(nodeIDs))]
		target := nodeIDs[(seed/64)%uint64(len(nodeIDs))]
		value, _ := json.Marshal(Edge{ID: id, SourceNodeID: source, TargetNodeID: target})
		return Mutation{Map: MapEdges, Action: ActionSet, Key: id, Value: value, Writer: writer, Clock: clock}
	default: // delete edge
		id := edgeIDs[(seed/4)%uint64(len(edgeIDs))]
		return Mutation{Map: MapEdges, Action: ActionDelete, Key: id, Writer: writer, Clock: clock}
	}
}

// TestDocumentInvariants verifies the referential invariant over random
// operation sequences: no reachable state may contain an edge whose
// endpoints are not live nodes.
func TestDocumentInvariants(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("edges always reference live nodes", prop.ForAll(
		func(seeds []uint64) bool {
			s := NewStore("prop", NewPresenceTable(10*time.Second, 30*time.Second))
			for i, seed := range seeds {
				// strictly increasing clocks so every op supersedes
				// earlier state
				if _, err := s.Apply([]Mutation{mutationFromSeed(seed, uint64(2*i+2))}); err != nil {
					return false
				}

				snap := s.Snapshot()
				for _, edge := range snap.Edges {
					if _, ok := snap.Nodes[edge.SourceNodeID]; !ok {
						return false
					}
					if _, ok := snap.Nodes[edge.TargetNodeID]; !ok {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOf(gen.UInt64()),
	))

	properties.Property("deleting a node removes exactly its edges", prop.ForAll(
		func(seeds []uint64, victimIdx uint64) bool {
			s := NewStore("prop", NewPresenceTable(10*time.Second, 30*time.Second))
			for i, seed := range seeds {
				if _, err := s.Apply([]Mutation{mutationFromSeed(seed, uint64(2*i+2))}); err != nil {
					return false
				}
			}

			before := s.Snapshot()
			nodeIDs := []string{"n1", "n2", "n3", "n4"}
			victim := nodeIDs[victimIdx%uint64(len(nodeIDs))]

			clock := uint64(2*len(seeds) + 10)
			if _, err := s.Apply([]Mutation{{Map: MapNodes, Action: ActionDelete, Key: victim, Writer: "judge", Clock: clock}}); err != nil {
				return false
			}
			after := s.Snapshot()

			for id, edge := range before.Edges {
				touches := edge.SourceNodeID == victim || edge.TargetNodeID == victim
				_, survived := after.Edges[id]
				if touches && survived {
					return false
				}
				if !touches && !survived {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.UInt64()),
		gen.UInt64(),
	))

	properties.TestingRun(t)
}

// concurrentOpFromSeed derives one concurrent-phase operation: node
// deletes, edge sets, and edge deletes over a small pool, with clocks
// drawn from the seed itself. Writers assign clocks independently, so an
// edge write and a node delete regularly straddle each other's clocks.
// Endpoints are fixed per edge id so rewrites of a key never change what
// it connects.
func concurrentOpFromSeed(seed uint64) Mutation {
	nodeIDs := []string{"n1", "n2", "n3", "n4"}
	writers := []string{"alice", "bob"}
	writer := writers[seed%2]
	clock := 5 + seed%40

	switch seed % 3 {
	case 0: // delete node
		id := nodeIDs[(seed/3)%uint64(len(nodeIDs))]
		return Mutation{Map: MapNodes, Action: ActionDelete, Key: id, Writer: writer, Clock: clock}
	case 1: // set edge
		k := (seed / 3) % 5
		source := nodeIDs[k%4]
		target := nodeIDs[(k+1)%4]
		id := fmt.Sprintf("e%d", k+1)
		value, _ := json.Marshal(Edge{ID: id, SourceNodeID: source, TargetNodeID: target})
		return Mutation{Map: MapEdges, Action: ActionSet, Key: id, Value: value, Writer: writer, Clock: clock}
	default: // delete edge
		id := fmt.Sprintf("e%d", (seed/3)%5+1)
		return Mutation{Map: MapEdges, Action: ActionDelete, Key: id, Writer: writer, Clock: clock}
	}
}

// TestCrossOrderConvergence verifies that two stores receiving the same
// concurrent operations in different arrival orders end in identical
// state, cascades included, and that neither ever retains an edge with a
// deleted endpoint. The base nodes are applied first on both sides; only
// the concurrent phase (deletes and edge writes with independent clocks)
// is reordered.
func TestCrossOrderConvergence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	referentialOK := func(snap Snapshot) bool {
		for _, edge := range snap.Edges {
			if _, ok := snap.Nodes[edge.SourceNodeID]; !ok {
				return false
			}
			if _, ok := snap.Nodes[edge.TargetNodeID]; !ok {
				return false
			}
		}
		return true
	}

	properties.Property("replicas converge across arrival orders", prop.ForAll(
		func(seeds []uint64, orderSeed int64) bool {
			base := make([]Mutation, 0, 4)
			for i, id := range []string{"n1", "n2", "n3", "n4"} {
				value, _ := json.Marshal(Node{ID: id, Data: NodeData{Name: id}})
				base = append(base, Mutation{Map: MapNodes, Action: ActionSet, Key: id, Value: value, Writer: "init", Clock: uint64(i + 1)})
			}
			ops := make([]Mutation, len(seeds))
			for i, seed := range seeds {
				ops[i] = concurrentOpFromSeed(seed)
			}

			a := NewStore("prop-a", NewPresenceTable(10*time.Second, 30*time.Second))
			b := NewStore("prop-b", NewPresenceTable(10*time.Second, 30*time.Second))
			if _, err := a.Apply(base); err != nil {
				return false
			}
			if _, err := b.Apply(base); err != nil {
				return false
			}

			for _, op := range ops {
				if _, err := a.Apply([]Mutation{op}); err != nil {
					return false
				}
			}

			shuffled := make([]Mutation, len(ops))
			copy(shuffled, ops)
			rand.New(rand.NewSource(orderSeed)).Shuffle(len(shuffled), func(i, j int) {
				shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
			})
			for _, op := range shuffled {
				if _, err := b.Apply([]Mutation{op}); err != nil {
					return false
				}
			}

			snapA, snapB := a.Snapshot(), b.Snapshot()
			return reflect.DeepEqual(snapA, snapB) && referentialOK(snapA)
		},
		gen.SliceOf(gen.UInt64()),
		gen.Int64(),
	))

	properties.TestingRun(t)
}
