// Package lww implements a last-write-wins map, a state-based CRDT in which
// each key holds a register stamped with the time it was written.
//
// Replicas converge by exchanging snapshots and calling Merge. Merge is
// idempotent and associative; it is commutative whenever the tie-breaker
// imposes a total order on equal timestamps (PreferReplica does, the default
// KeepLocal does not).
//
// A Map is not safe for concurrent mutation. Callers serialise access.
package lww

import (
	"github.com/google/uuid"

	"github.com/c360/resilkit/pkg/clock"
)

// Register is a single value and the logical time it was written.
type Register[V any] struct {
	Value     V      `json:"value"`
	Timestamp int64  `json:"ts"`
	Replica   string `json:"replica,omitempty"`
}

// Map is a last-write-wins map of registers.
type Map[K comparable, V any] struct {
	registers map[K]Register[V]
	replica   string
	clock     clock.Clock
	tie       TieBreaker[V]
}

// Option configures a Map.
type Option[V any] func(*settings[V])

type settings[V any] struct {
	replica string
	clock   clock.Clock
	tie     TieBreaker[V]
}

// WithReplica sets the identifier stamped on registers written locally.
// Defaults to a random UUID.
func WithReplica[V any](id string) Option[V] {
	return func(s *settings[V]) {
		if id != "" {
			s.replica = id
		}
	}
}

// WithClock sets the clock used by SetNow.
func WithClock[V any](c clock.Clock) Option[V] {
	return func(s *settings[V]) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithTieBreaker replaces the equal-timestamp policy. Defaults to KeepLocal.
func WithTieBreaker[V any](tb TieBreaker[V]) Option[V] {
	return func(s *settings[V]) {
		if tb != nil {
			s.tie = tb
		}
	}
}

// New returns an empty Map.
func New[K comparable, V any](opts ...Option[V]) *Map[K, V] {
	s := &settings[V]{
		clock: clock.Real(),
		tie:   KeepLocal[V],
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.replica == "" {
		s.replica = uuid.NewString()
	}

	return &Map[K, V]{
		registers: make(map[K]Register[V]),
		replica:   s.replica,
		clock:     s.clock,
		tie:       s.tie,
	}
}

// Replica returns the identifier stamped on local writes.
func (m *Map[K, V]) Replica() string { return m.replica }

// Set writes value at ts. It applies when the key is absent, when the stored
// timestamp is older, or when the timestamps are equal and the tie-breaker
// takes the incoming register. Reports whether the write applied.
func (m *Map[K, V]) Set(key K, value V, ts int64) bool {
	return m.apply(key, Register[V]{Value: value, Timestamp: ts, Replica: m.replica})
}

// SetNow writes value at the current clock time in Unix milliseconds.
func (m *Map[K, V]) SetNow(key K, value V) bool {
	return m.Set(key, value, clock.UnixMilli(m.clock))
}

// Get returns the current value for key.
func (m *Map[K, V]) Get(key K) (V, bool) {
	r, ok := m.registers[key]
	return r.Value, ok
}

// Lookup returns the full register for key.
func (m *Map[K, V]) Lookup(key K) (Register[V], bool) {
	r, ok := m.registers[key]
	return r, ok
}

// Merge folds every register of other into m and returns how many keys
// changed. other is not modified.
func (m *Map[K, V]) Merge(other *Map[K, V]) int {
	if other == nil || other == m {
		return 0
	}
	return m.MergeSnapshot(other.registers)
}

// MergeSnapshot folds a snapshot, typically decoded from a remote replica,
// into m and returns how many keys changed.
func (m *Map[K, V]) MergeSnapshot(snapshot map[K]Register[V]) int {
	changed := 0
	for key, r := range snapshot {
		if m.apply(key, r) {
			changed++
		}
	}
	return changed
}

func (m *Map[K, V]) apply(key K, incoming Register[V]) bool {
	existing, ok := m.registers[key]
	switch {
	case !ok, existing.Timestamp < incoming.Timestamp:
	case existing.Timestamp == incoming.Timestamp && m.tie(existing, incoming):
	default:
		return false
	}
	m.registers[key] = incoming
	return true
}

// Len returns the number of keys.
func (m *Map[K, V]) Len() int { return len(m.registers) }

// Keys returns every key in unspecified order.
func (m *Map[K, V]) Keys() []K {
	keys := make([]K, 0, len(m.registers))
	for k := range m.registers {
		keys = append(keys, k)
	}
	return keys
}

// Snapshot returns a copy of all registers. Values are copied shallowly.
func (m *Map[K, V]) Snapshot() map[K]Register[V] {
	out := make(map[K]Register[V], len(m.registers))
	for k, r := range m.registers {
		out[k] = r
	}
	return out
}

// Clone returns an independent Map with the same registers and settings.
func (m *Map[K, V]) Clone() *Map[K, V] {
	return &Map[K, V]{
		registers: m.Snapshot(),
		replica:   m.replica,
		clock:     m.clock,
		tie:       m.tie,
	}
}
