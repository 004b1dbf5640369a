package lww

// TieBreaker decides between two registers with identical timestamps.
// Returning true replaces local with remote.
type TieBreaker[V any] func(local, remote Register[V]) bool

// KeepLocal never replaces the stored register on a tie. Applying the same
// snapshot twice is a no-op, but two replicas that wrote different values at
// the same millisecond each keep their own until one of them writes again.
func KeepLocal[V any](_, _ Register[V]) bool {
	return false
}

// PreferReplica breaks ties by the lexically greater replica identifier,
// which makes Merge commutative.
func PreferReplica[V any](local, remote Register[V]) bool {
	return remote.Replica > local.Replica
}
