// Package store defines the ordered key-value store that persists messages and
// their indexes, with an in-memory and a Badger implementation.
package store

import "errors"

// ErrStopIteration can be returned by an Iterate callback to stop early
// without error.
var ErrStopIteration = errors.New("stop iteration")

// Store is an ordered key-value store. Iterate visits keys in ascending byte
// order. Writes are applied atomically, one Batch at a time.
type Store interface {
	// Get returns the value of key, or a KeyNotFound StoreErr.
	Get(key []byte) ([]byte, error)
	// Has reports whether key is present.
	Has(key []byte) (bool, error)
	// Iterate calls fn for every key starting with prefix. The slices passed to
	// fn may be retained.
	Iterate(prefix []byte, fn func(key, value []byte) error) error
	// Count returns the number of keys starting with prefix.
	Count(prefix []byte) (int, error)
	// Write applies every operation of the batch or none of them.
	Write(batch *Batch) error
	// Close releases the underlying resources.
	Close() error
}

// OpType ...
type OpType uint8

const (
	// OpPut sets a key.
	OpPut OpType = iota
	// OpDelete removes a key.
	OpDelete
)

// Op is a single write of a Batch.
type Op struct {
	Type  OpType
	Key   []byte
	Value []byte
}

// Batch accumulates writes to be applied atomically.
type Batch struct {
	ops []Op
}

// NewBatch ...
func NewBatch() *Batch {
	return &Batch{}
}

// Put schedules key to be set to value.
func (b *Batch) Put(key, value []byte) {
	b.ops = append(b.ops, Op{Type: OpPut, Key: key, Value: value})
}

// Delete schedules key to be removed.
func (b *Batch) Delete(key []byte) {
	b.ops = append(b.ops, Op{Type: OpDelete, Key: key})
}

// Len returns the number of scheduled writes.
func (b *Batch) Len() int {
	return len(b.ops)
}

// Ops returns the scheduled writes in insertion order.
func (b *Batch) Ops() []Op {
	return b.ops
}
