package crdt

import (
	"fmt"
	"math/rand"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// opFromSeed derives a deterministic operation from a random seed. Small
// key and writer spaces force plenty of conflicts.
func opFromSeed(seed uint64) Op[string] {
	keys := []string{"k1", "k2", "k3", "k4"}
	writers := []string{"alpha", "beta", "gamma"}

	op := Op[string]{
		Key:    keys[seed%uint64(len(keys))],
		Writer: writers[(seed/7)%uint64(len(writers))],
		Clock:  (seed / 3) % 16,
	}
	if seed%5 == 0 {
		op.Action = ActionDelete
	} else {
		op.Action = ActionSet
		op.Value = fmt.Sprintf("v%d", seed%100)
	}
	return op
}

func applyAll(ops []Op[string]) *Map[string] {
	m := NewMap[string]()
	for _, op := range ops {
		m.Update([]Op[string]{op})
	}
	return m
}

// TestReplicatedMapProperties verifies the merge invariants that every
// replica relies on: order independence, idempotence under re-delivery,
// and tombstones suppressing equal-or-earlier sets.
func TestReplicatedMapProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	// Property 1: two replicas that see the same ops in different orders
	// converge to identical snapshots
	properties.Property("merge is order independent", prop.ForAll(
		func(seeds []uint64, shuffleSeed int64) bool {
			ops := make([]Op[string], len(seeds))
			for i, s := range seeds {
				ops[i] = opFromSeed(s)
			}

			shuffled := make([]Op[string], len(ops))
			copy(shuffled, ops)
			rng := rand.New(rand.NewSource(shuffleSeed))
			rng.Shuffle(len(shuffled), func(i, j int) {
				shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
			})

			a := applyAll(ops)
			b := applyAll(shuffled)
			return reflect.DeepEqual(a.Snapshot(), b.Snapshot())
		},
		gen.SliceOf(gen.UInt64()),
		gen.Int64(),
	))

	// Property 2: delivering every op twice changes nothing
	properties.Property("duplicate delivery is idempotent", prop.ForAll(
		func(seeds []uint64) bool {
			ops := make([]Op[string], len(seeds))
			for i, s := range seeds {
				ops[i] = opFromSeed(s)
			}

			once := applyAll(ops)

			twice := NewMap[string]()
			for _, op := range ops {
				twice.Update([]Op[string]{op})
				twice.Update([]Op[string]{op})
			}
			return reflect.DeepEqual(once.Snapshot(), twice.Snapshot())
		},
		gen.SliceOf(gen.UInt64()),
	))

	// Property 3: after a delete at clock c, no set at clock <= c is visible
	properties.Property("tombstone beats equal or earlier set", prop.ForAll(
		func(setClock, delClock uint64, setWriter string) bool {
			if setClock > delClock {
				return true // set legitimately wins, out of scope
			}
			m := NewMap[string]()
			m.Delete("k", "deleter", delClock)
			m.Set("k", "value", setWriter, setClock)
			return !m.Contains("k")
		},
		gen.UInt64Range(0, 1000),
		gen.UInt64Range(0, 1000),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
