package store

import (
	"sort"
	"strings"
	"sync"

	cm "github.com/mosaicnetworks/hub/src/common"
)

// InmemStore is a Store backed by a map. Keys are sorted on every iteration,
// which is fine for tests and small deployments.
type InmemStore struct {
	l      sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewInmemStore ...
func NewInmemStore() *InmemStore {
	return &InmemStore{
		data: make(map[string][]byte),
	}
}

// Get implements Store.
func (s *InmemStore) Get(key []byte) ([]byte, error) {
	s.l.RLock()
	defer s.l.RUnlock()

	if s.closed {
		return nil, cm.NewStoreErr("InmemStore", cm.Closed, "")
	}

	v, ok := s.data[string(key)]
	if !ok {
		return nil, cm.NewStoreErr("InmemStore", cm.KeyNotFound, cm.EncodeToString(key))
	}

	return cm.CopyBytes(v), nil
}

// Has implements Store.
func (s *InmemStore) Has(key []byte) (bool, error) {
	s.l.RLock()
	defer s.l.RUnlock()

	if s.closed {
		return false, cm.NewStoreErr("InmemStore", cm.Closed, "")
	}

	_, ok := s.data[string(key)]
	return ok, nil
}

// Iterate implements Store. The callback runs on a snapshot of the matching
// entries, so it may write to the store.
func (s *InmemStore) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	s.l.RLock()
	if s.closed {
		s.l.RUnlock()
		return cm.NewStoreErr("InmemStore", cm.Closed, "")
	}

	p := string(prefix)
	keys := []string{}
	for k := range s.data {
		if strings.HasPrefix(k, p) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = cm.CopyBytes(s.data[k])
	}
	s.l.RUnlock()

	for i, k := range keys {
		if err := fn([]byte(k), values[i]); err != nil {
			if err == ErrStopIteration {
				return nil
			}
			return err
		}
	}

	return nil
}

// Count implements Store.
func (s *InmemStore) Count(prefix []byte) (int, error) {
	s.l.RLock()
	defer s.l.RUnlock()

	if s.closed {
		return 0, cm.NewStoreErr("InmemStore", cm.Closed, "")
	}

	p := string(prefix)
	count := 0
	for k := range s.data {
		if strings.HasPrefix(k, p) {
			count++
		}
	}
	return count, nil
}

// Write implements Store.
func (s *InmemStore) Write(batch *Batch) error {
	s.l.Lock()
	defer s.l.Unlock()

	if s.closed {
		return cm.NewStoreErr("InmemStore", cm.Closed, "")
	}

	for _, op := range batch.Ops() {
		switch op.Type {
		case OpPut:
			s.data[string(op.Key)] = cm.CopyBytes(op.Value)
		case OpDelete:
			delete(s.data, string(op.Key))
		}
	}

	return nil
}

// Close implements Store.
func (s *InmemStore) Close() error {
	s.l.Lock()
	defer s.l.Unlock()

	s.closed = true
	return nil
}
