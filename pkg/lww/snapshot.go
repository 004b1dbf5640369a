package lww

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/golang/snappy"

	"github.com/c360/resilkit/errors"
)

// Snapshot wire format: one magic byte followed by a JSON array of entries.
// Magic 1 means the array is snappy-compressed.
const (
	magicPlain  byte = 0
	magicSnappy byte = 1
)

type entry[K comparable, V any] struct {
	Key      K `json:"key"`
	Register[V]
}

// EncodeSnapshot serialises a snapshot for shipping to another replica.
func EncodeSnapshot[K comparable, V any](snapshot map[K]Register[V], compress bool) ([]byte, error) {
	entries := make([]entry[K, V], 0, len(snapshot))
	for k, r := range snapshot {
		entries = append(entries, entry[K, V]{Key: k, Register: r})
	}

	raw, err := json.Marshal(entries)
	if err != nil {
		return nil, errors.WrapInvalid(err, "lww", "EncodeSnapshot", "marshal entries")
	}

	if !compress {
		out := make([]byte, len(raw)+1)
		out[0] = magicPlain
		copy(out[1:], raw)
		return out, nil
	}

	enc := snappy.Encode(nil, raw)
	out := make([]byte, len(enc)+1)
	out[0] = magicSnappy
	copy(out[1:], enc)
	return out, nil
}

// DecodeSnapshot parses data produced by EncodeSnapshot. Later entries for a
// duplicated key are folded with the last-write-wins rule.
func DecodeSnapshot[K comparable, V any](data []byte) (map[K]Register[V], error) {
	if len(data) == 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "lww", "DecodeSnapshot", "read magic byte")
	}

	payload := data[1:]
	switch data[0] {
	case magicPlain:
	case magicSnappy:
		decoded, err := snappy.Decode(nil, payload)
		if err != nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: %v", errors.ErrInvalidData, err), "lww", "DecodeSnapshot", "snappy decode")
		}
		payload = decoded
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: unknown magic byte %d", errors.ErrInvalidData, data[0]), "lww", "DecodeSnapshot", "read magic byte")
	}

	var entries []entry[K, V]
	if err := json.Unmarshal(payload, &entries); err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrParsingFailed, err), "lww", "DecodeSnapshot", "unmarshal entries")
	}

	out := make(map[K]Register[V], len(entries))
	for _, e := range entries {
		if existing, ok := out[e.Key]; ok && existing.Timestamp >= e.Timestamp {
			continue
		}
		out[e.Key] = e.Register
	}
	return out, nil
}

// EncodeSnapshot is a shorthand for EncodeSnapshot(m.Snapshot(), compress).
func (m *Map[K, V]) EncodeSnapshot(compress bool) ([]byte, error) {
	return EncodeSnapshot(m.registers, compress)
}

// MergeEncoded decodes a remote snapshot and merges it into m.
func (m *Map[K, V]) MergeEncoded(data []byte) (int, error) {
	snapshot, err := DecodeSnapshot[K, V](data)
	if err != nil {
		return 0, err
	}
	return m.MergeSnapshot(snapshot), nil
}
