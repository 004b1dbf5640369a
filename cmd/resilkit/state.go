package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/goccy/go-json"

	"github.com/c360/resilkit/channel"
	"github.com/c360/resilkit/errors"
	"github.com/c360/resilkit/pkg/bloom"
	"github.com/c360/resilkit/pkg/lookup"
	"github.com/c360/resilkit/pkg/lww"
)

// Feed message types understood by the state store
const (
	msgSet      = "set"
	msgSnapshot = "snapshot"
)

// setPayload writes one register. A zero Timestamp is stamped with the local
// clock.
type setPayload struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	Timestamp int64           `json:"ts,omitempty"`
}

// snapshotPayload carries an encoded lww snapshot from another replica.
type snapshotPayload struct {
	Data []byte `json:"data"` // base64 in JSON
}

// stateEntry is the /state/{key} response body.
type stateEntry struct {
	Key string `json:"key"`
	lww.Register[json.RawMessage]
}

// stateStore applies feed messages to a replicated map and answers key
// lookups through a filter-guarded loader.
type stateStore struct {
	mu   sync.RWMutex
	regs *lww.Map[string, json.RawMessage]

	guard    *lookup.Guard[lww.Register[json.RawMessage]]
	compress bool
	logger   *slog.Logger
}

func newStateStore(
	regs *lww.Map[string, json.RawMessage],
	filter *bloom.Filter,
	compress bool,
	logger *slog.Logger,
	opts ...lookup.Option,
) (*stateStore, error) {
	s := &stateStore{regs: regs, compress: compress, logger: logger}

	guard, err := lookup.New(filter, s.load, opts...)
	if err != nil {
		return nil, err
	}
	s.guard = guard

	for _, key := range regs.Keys() {
		guard.Add(key)
	}
	return s, nil
}

func (s *stateStore) load(_ context.Context, key string) (lww.Register[json.RawMessage], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reg, ok := s.regs.Lookup(key)
	if !ok {
		return reg, fmt.Errorf("%w: %s", errors.ErrKeyNotFound, key)
	}
	return reg, nil
}

// Get returns the register stored under key.
func (s *stateStore) Get(ctx context.Context, key string) (lww.Register[json.RawMessage], error) {
	return s.guard.Get(ctx, key)
}

// Len returns the number of keys held.
func (s *stateStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.regs.Len()
}

// Snapshot encodes the current map for shipping to another replica.
func (s *stateStore) Snapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.regs.EncodeSnapshot(s.compress)
}

// Stats reports lookup outcomes.
func (s *stateStore) Stats() lookup.Stats {
	return s.guard.Stats()
}

// HandleMessage is the channel handler. Unknown message types are ignored.
func (s *stateStore) HandleMessage(msg channel.Message) {
	var err error
	switch msg.Type {
	case msgSet:
		err = s.applySet(msg)
	case msgSnapshot:
		err = s.applySnapshot(msg)
	default:
		s.logger.Debug("Ignoring feed message", "type", msg.Type, "id", msg.ID)
		return
	}
	if err != nil {
		s.logger.Warn("Dropping feed message", "type", msg.Type, "id", msg.ID, "error", err)
	}
}

func (s *stateStore) applySet(msg channel.Message) error {
	var p setPayload
	if err := msg.Decode(&p); err != nil {
		return err
	}
	if p.Key == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: set without key", errors.ErrInvalidData), "state", "applySet", "check key")
	}

	s.mu.Lock()
	var written bool
	if p.Timestamp == 0 {
		written = s.regs.SetNow(p.Key, p.Value)
	} else {
		written = s.regs.Set(p.Key, p.Value, p.Timestamp)
	}
	s.mu.Unlock()

	if written {
		s.guard.Add(p.Key)
	}
	return nil
}

func (s *stateStore) applySnapshot(msg channel.Message) error {
	var p snapshotPayload
	if err := msg.Decode(&p); err != nil {
		return err
	}

	s.mu.Lock()
	changed, err := s.regs.MergeEncoded(p.Data)
	keys := s.regs.Keys()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	for _, key := range keys {
		s.guard.Add(key)
	}
	s.logger.Debug("Merged snapshot", "id", msg.ID, "changed", changed, "keys", len(keys))
	return nil
}
