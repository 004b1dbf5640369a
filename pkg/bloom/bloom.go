// Package bloom implements a fixed-size Bloom filter for approximate set
// membership: Test never returns false for an item that was added, and
// returns true for an item that was not added with a probability bounded by
// the false-positive rate chosen at construction.
//
// The filter is not safe for concurrent mutation; callers that share one
// across goroutines serialise Add themselves.
package bloom

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/c360/resilkit/errors"
)

// Filter is a Bloom filter sized for an expected item count.
type Filter struct {
	bits  []byte
	m     uint64 // number of bits
	k     uint64 // hash rounds
	count uint64 // items added
}

// New sizes a filter for expectedItems at the target falsePositiveRate:
//
//	m = ceil(-n * ln(p) / ln(2)^2)
//	k = ceil((m / n) * ln(2))
func New(expectedItems int, falsePositiveRate float64) (*Filter, error) {
	if expectedItems <= 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("expected items must be positive, got %d", expectedItems),
			"bloom", "New", "validate expected items")
	}
	if !(falsePositiveRate > 0 && falsePositiveRate < 1) {
		return nil, errors.WrapInvalid(
			fmt.Errorf("false positive rate must be in (0,1), got %v", falsePositiveRate),
			"bloom", "New", "validate false positive rate")
	}

	m := OptimalBits(expectedItems, falsePositiveRate)
	k := OptimalHashCount(m, expectedItems)
	return newFilter(m, k), nil
}

func newFilter(m, k uint64) *Filter {
	return &Filter{
		bits: make([]byte, byteLen(m)),
		m:    m,
		k:    k,
	}
}

// byteLen is ceil(m/8) without overflowing for m near 2^64.
func byteLen(m uint64) uint64 {
	n := m / 8
	if m%8 != 0 {
		n++
	}
	return n
}

// OptimalBits returns the bit count for n items at false-positive rate p.
func OptimalBits(n int, p float64) uint64 {
	m := math.Ceil(-float64(n) * math.Log(p) / (math.Ln2 * math.Ln2))
	if m < 1 {
		m = 1
	}
	return uint64(m)
}

// MaxHashCount caps k. Past it the extra rounds cost more than the
// false-positive rate they buy.
const MaxHashCount = 64

// OptimalHashCount returns the hash round count for m bits and n items,
// clamped to [1, MaxHashCount].
func OptimalHashCount(m uint64, n int) uint64 {
	k := math.Ceil(float64(m) / float64(n) * math.Ln2)
	return uint64(min(max(k, 1), MaxHashCount))
}

// Add inserts item.
func (f *Filter) Add(item string) {
	h1, h2 := baseHashes(item)
	for i := uint64(0); i < f.k; i++ {
		idx := (h1 + i*h2) % f.m
		f.bits[idx>>3] |= 1 << (idx & 7)
	}
	f.count++
}

// AddAll inserts every item.
func (f *Filter) AddAll(items ...string) {
	for _, item := range items {
		f.Add(item)
	}
}

// Test reports whether item may have been added. false is definitive.
func (f *Filter) Test(item string) bool {
	h1, h2 := baseHashes(item)
	for i := uint64(0); i < f.k; i++ {
		idx := (h1 + i*h2) % f.m
		if f.bits[idx>>3]&(1<<(idx&7)) == 0 {
			return false
		}
	}
	return true
}

// Bits returns m, the size of the bit array.
func (f *Filter) Bits() uint64 { return f.m }

// HashCount returns k, the number of hash rounds per item.
func (f *Filter) HashCount() uint64 { return f.k }

// Count returns how many Add calls the filter has seen, duplicates included.
func (f *Filter) Count() uint64 { return f.count }

// EstimatedFalsePositiveRate returns (1 - e^(-k*count/m))^k for the current
// fill.
func (f *Filter) EstimatedFalsePositiveRate() float64 {
	if f.count == 0 {
		return 0
	}
	k := float64(f.k)
	return math.Pow(1-math.Exp(-k*float64(f.count)/float64(f.m)), k)
}

// baseHashes derives the two base hashes for double hashing
// (Kirsch–Mitzenmacher): index_i = h1 + i*h2 mod m.
//
// h1 is 32-bit FNV-1a. h2 is a polynomial rolling hash with base 31 modulo
// 2^32, forced odd so successive indices never collapse onto h1. Both are
// widened to uint64 so h1 + i*h2 does not wrap before the modulo.
func baseHashes(item string) (uint64, uint64) {
	const (
		fnvOffset32 = 2166136261
		fnvPrime32  = 16777619
	)

	h1 := uint32(fnvOffset32)
	var h2 uint32
	for i := 0; i < len(item); i++ {
		c := item[i]
		h1 ^= uint32(c)
		h1 *= fnvPrime32
		h2 = h2*31 + uint32(c)
	}
	return uint64(h1), uint64(h2 | 1)
}

const headerSize = 24

// MarshalBinary encodes the filter as m, k, count (big endian uint64) followed
// by the bit array.
func (f *Filter) MarshalBinary() ([]byte, error) {
	buf := make([]byte, headerSize+len(f.bits))
	binary.BigEndian.PutUint64(buf[0:8], f.m)
	binary.BigEndian.PutUint64(buf[8:16], f.k)
	binary.BigEndian.PutUint64(buf[16:24], f.count)
	copy(buf[headerSize:], f.bits)
	return buf, nil
}

// UnmarshalBinary restores a filter produced by MarshalBinary.
func (f *Filter) UnmarshalBinary(data []byte) error {
	if len(data) < headerSize {
		return errors.WrapInvalid(errors.ErrInvalidData, "bloom", "UnmarshalBinary", "read header")
	}
	m := binary.BigEndian.Uint64(data[0:8])
	k := binary.BigEndian.Uint64(data[8:16])
	if m == 0 || k == 0 || k > MaxHashCount {
		return errors.WrapInvalid(
			fmt.Errorf("%w: m=%d k=%d", errors.ErrInvalidData, m, k),
			"bloom", "UnmarshalBinary", "validate header")
	}
	if uint64(len(data)-headerSize) != byteLen(m) {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %d bit bytes for m=%d", errors.ErrInvalidData, len(data)-headerSize, m),
			"bloom", "UnmarshalBinary", "validate length")
	}

	f.m = m
	f.k = k
	f.count = binary.BigEndian.Uint64(data[16:24])
	f.bits = append([]byte(nil), data[headerSize:]...)
	return nil
}
