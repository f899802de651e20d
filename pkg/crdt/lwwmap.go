// Package crdt implements the replicated keyed collection used for shared
// document state. It is a last-writer-wins map: every entry carries the
// logical clock and writer id of the update that produced it, and remote
// updates merge deterministically without coordination.
package crdt

import "sync"

// Action identifies the kind of a map operation.
type Action string

const (
	// ActionSet writes a value for a key
	ActionSet Action = "set"
	// ActionDelete removes a key, leaving a tombstone
	ActionDelete Action = "delete"
)

// Op is a single operation against a Map, local or remote.
type Op[V any] struct {
	Action Action
	Key    string
	Value  V
	Writer string
	Clock  uint64
}

// Event describes an operation that was actually applied. Operations that
// lose conflict resolution produce no event.
type Event[V any] struct {
	Action Action
	Key    string
	Value  V
	Writer string
	Clock  uint64
}

// Observer receives the batch of events produced by one apply cycle.
type Observer[V any] func(events []Event[V])

type entry[V any] struct {
	value     V
	writer    string
	clock     uint64
	tombstone bool
}

// Map is a last-writer-wins replicated map. Conflicts resolve by comparing
// (clock, writer) with the higher pair winning; on an exact clock tie a
// delete beats a set, which keeps deletion robust against resurrection
// races. Applying the same operation twice, or two concurrent operations in
// either order, always converges to the same state.
type Map[V any] struct {
	mu        sync.RWMutex
	entries   map[string]entry[V]
	observers []Observer[V]
}

// NewMap creates an empty replicated map.
func NewMap[V any]() *Map[V] {
	return &Map[V]{
		entries: make(map[string]entry[V]),
	}
}

// Observe registers an observer. Observers are invoked once per apply
// batch, after the batch has been applied, with only the operations that
// won conflict resolution. Not safe to call concurrently with Update.
func (m *Map[V]) Observe(fn Observer[V]) {
	m.observers = append(m.observers, fn)
}

// Set applies a local or remote set and reports whether it took effect.
func (m *Map[V]) Set(key string, value V, writer string, clock uint64) bool {
	events := m.Update([]Op[V]{{Action: ActionSet, Key: key, Value: value, Writer: writer, Clock: clock}})
	return len(events) == 1
}

// Delete applies a local or remote delete and reports whether it took
// effect. Deleting an unknown key still records a tombstone so that a
// late-arriving set with an equal or earlier clock cannot resurrect it.
func (m *Map[V]) Delete(key string, writer string, clock uint64) bool {
	events := m.Update([]Op[V]{{Action: ActionDelete, Key: key, Writer: writer, Clock: clock}})
	return len(events) == 1
}

// Update applies a batch of operations and returns the events for those
// that won. Observers fire exactly once per call, only when at least one
// operation was applied.
func (m *Map[V]) Update(ops []Op[V]) []Event[V] {
	m.mu.Lock()
	var events []Event[V]
	for _, op := range ops {
		if !m.apply(op) {
			continue
		}
		events = append(events, Event[V](op))
	}
	m.mu.Unlock()

	if len(events) > 0 {
		for _, fn := range m.observers {
			fn(events)
		}
	}
	return events
}

// apply merges one operation into local state. Caller holds the lock.
func (m *Map[V]) apply(op Op[V]) bool {
	existing, ok := m.entries[op.Key]
	if ok && !supersedes(op, existing) {
		return false
	}
	e := entry[V]{
		writer:    op.Writer,
		clock:     op.Clock,
		tombstone: op.Action == ActionDelete,
	}
	if op.Action == ActionSet {
		e.value = op.Value
	}
	m.entries[op.Key] = e
	return true
}

// supersedes reports whether op wins against the existing entry for its
// key. The order is total: clock first, then delete-over-set, then writer.
func supersedes[V any](op Op[V], e entry[V]) bool {
	if op.Clock != e.clock {
		return op.Clock > e.clock
	}
	opDelete := op.Action == ActionDelete
	if opDelete != e.tombstone {
		return opDelete
	}
	if opDelete {
		// identical tombstone, re-applying changes nothing
		return false
	}
	return op.Writer > e.writer
}

// Version returns the conflict-resolution metadata recorded for a key,
// tombstones included, so callers can construct an operation that is
// guaranteed to supersede the current entry. Reports false for keys the
// map has never seen.
func (m *Map[V]) Version(key string) (clock uint64, writer string, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok {
		return 0, "", false
	}
	return e.clock, e.writer, true
}

// Get returns the live value for a key. Tombstoned keys are absent.
func (m *Map[V]) Get(key string) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok || e.tombstone {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Contains reports whether a key holds a live value.
func (m *Map[V]) Contains(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Len returns the number of live entries.
func (m *Map[V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, e := range m.entries {
		if !e.tombstone {
			n++
		}
	}
	return n
}

// Snapshot returns a copy of the live entries, tombstones excluded.
func (m *Map[V]) Snapshot() map[string]V {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]V, len(m.entries))
	for key, e := range m.entries {
		if !e.tombstone {
			out[key] = e.value
		}
	}
	return out
}
