package state

import (
	"encoding/json"
	"fmt"
	"time"
)

// KindProperty is the kind under which property values are stored.
const KindProperty = "property"

// Entry is a decoded record.
type Entry[T any] struct {
	Value     T
	Version   int64
	UpdatedAt time.Time
}

// TypedStore stores values of one Go type under a single kind as JSON.
type TypedStore[T any] struct {
	store *Store
	kind  string
}

// NewTypedStore creates a typed view of store for kind.
func NewTypedStore[T any](store *Store, kind string) *TypedStore[T] {
	return &TypedStore[T]{store: store, kind: kind}
}

// Get decodes the value stored for id. ok is false if nothing was stored.
func (s *TypedStore[T]) Get(id string) (entry Entry[T], ok bool, err error) {
	rec, ok, err := s.store.Get(s.kind, id)
	if err != nil || !ok {
		return entry, false, err
	}

	if err := json.Unmarshal(rec.Payload, &entry.Value); err != nil {
		return entry, false, fmt.Errorf("decode %s %q: %w", s.kind, id, err)
	}
	entry.Version = rec.Version
	entry.UpdatedAt = rec.UpdatedAt
	return entry, true, nil
}

// Set encodes and stores value for id and returns the new version.
func (s *TypedStore[T]) Set(id string, value T) (int64, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return 0, fmt.Errorf("encode %s %q: %w", s.kind, id, err)
	}
	return s.store.Put(s.kind, id, payload)
}

// IDs lists the stored ids.
func (s *TypedStore[T]) IDs() ([]string, error) {
	return s.store.IDs(s.kind)
}

// Delete removes ids and reports how many existed.
func (s *TypedStore[T]) Delete(ids ...string) (int64, error) {
	return s.store.Delete(s.kind, ids...)
}

// Clear removes every value of this kind.
func (s *TypedStore[T]) Clear() (int64, error) {
	return s.store.Clear(s.kind)
}
