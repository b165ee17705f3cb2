package trie

import (
	"bytes"
	"sync"

	"github.com/mosaicnetworks/hub/src/common"
)

// TrieSnapshot summarises the trie along a prefix path. ExcludedHashes[i] is
// the combined hash of every branch at depth i except the one the prefix
// continues into, and NumMessages sums the items of those branches.
type TrieSnapshot struct {
	Prefix         []byte
	ExcludedHashes [][]byte
	NumMessages    int
}

// NodeMetadata describes a trie node and, one level deep, its children. The
// children are sorted by edge.
type NodeMetadata struct {
	Prefix      []byte
	NumMessages int
	Hash        []byte
	Children    []NodeMetadata
}

// MerkleTrie is the thread-safe face of the arena. Mutations are serialized
// behind the write lock while lookups and snapshots share the read lock.
type MerkleTrie struct {
	l               sync.RWMutex
	arena           *arena
	timestampLength int
	keyLength       int
}

// NewMerkleTrie creates an empty trie. Keys are never compacted inside the
// first timestampLength bytes. If keyLength is positive, keys of any other
// length are rejected.
func NewMerkleTrie(timestampLength, keyLength int) *MerkleTrie {
	return &MerkleTrie{
		arena:           newArena(timestampLength),
		timestampLength: timestampLength,
		keyLength:       keyLength,
	}
}

func (t *MerkleTrie) validateKey(key []byte) error {
	if t.keyLength > 0 && len(key) != t.keyLength {
		return common.NewHubErr(common.Structural,
			"trie key length should be %d, not %d", t.keyLength, len(key))
	}
	if len(key) <= t.timestampLength {
		return common.NewHubErr(common.Structural,
			"trie key of length %d does not extend the timestamp prefix", len(key))
	}
	return nil
}

// Insert adds key to the trie. It returns false if the key was already there.
func (t *MerkleTrie) Insert(key []byte) (bool, error) {
	if err := t.validateKey(key); err != nil {
		return false, err
	}

	t.l.Lock()
	defer t.l.Unlock()

	return t.arena.insert(rootIndex, common.CopyBytes(key), 0), nil
}

// Delete removes key from the trie. It returns false if the key was absent.
func (t *MerkleTrie) Delete(key []byte) (bool, error) {
	if err := t.validateKey(key); err != nil {
		return false, err
	}

	t.l.Lock()
	defer t.l.Unlock()

	return t.arena.delete(rootIndex, key, 0), nil
}

// Exists reports whether key is in the trie. Malformed keys are never there.
func (t *MerkleTrie) Exists(key []byte) bool {
	if t.validateKey(key) != nil {
		return false
	}

	t.l.RLock()
	defer t.l.RUnlock()

	return t.arena.exists(key)
}

// Clear drops every key.
func (t *MerkleTrie) Clear() {
	t.l.Lock()
	defer t.l.Unlock()

	t.arena = newArena(t.timestampLength)
}

// Items returns the number of keys in the trie.
func (t *MerkleTrie) Items() int {
	t.l.RLock()
	defer t.l.RUnlock()

	return t.arena.nodes[rootIndex].items
}

// RootHash returns the hash of the whole trie.
func (t *MerkleTrie) RootHash() []byte {
	t.l.RLock()
	defer t.l.RUnlock()

	return common.CopyBytes(t.arena.nodes[rootIndex].hash)
}

// GetSnapshot computes the excluded hashes along prefix. Past the point where
// the trie has no node for the prefix, every level excludes nothing and gets
// EmptyHash, so snapshots of the same prefix always have the same length.
func (t *MerkleTrie) GetSnapshot(prefix []byte) TrieSnapshot {
	t.l.RLock()
	defer t.l.RUnlock()

	snapshot := TrieSnapshot{
		Prefix:         common.CopyBytes(prefix),
		ExcludedHashes: make([][]byte, 0, len(prefix)),
	}
	if snapshot.Prefix == nil {
		snapshot.Prefix = []byte{}
	}

	idx := rootIndex
	present := true
	for _, c := range prefix {
		if !present {
			snapshot.ExcludedHashes = append(snapshot.ExcludedHashes, EmptyHash)
			continue
		}

		hash, items := t.arena.excludedHash(idx, c)
		snapshot.ExcludedHashes = append(snapshot.ExcludedHashes, hash)
		snapshot.NumMessages += items

		idx, present = t.arena.child(idx, c)
	}

	return snapshot
}

// GetTrieNodeMetadata returns the metadata of the node at prefix, or false if
// there is no such node.
func (t *MerkleTrie) GetTrieNodeMetadata(prefix []byte) (NodeMetadata, bool) {
	t.l.RLock()
	defer t.l.RUnlock()

	idx, ok := t.arena.getNode(prefix)
	if !ok {
		return NodeMetadata{}, false
	}

	n := &t.arena.nodes[idx]
	md := NodeMetadata{
		Prefix:      common.CopyBytes(prefix),
		NumMessages: n.items,
		Hash:        common.CopyBytes(n.hash),
		Children:    make([]NodeMetadata, 0, len(n.edges)),
	}

	for _, e := range n.edges {
		c := &t.arena.nodes[e.child]
		childPrefix := make([]byte, len(prefix)+1)
		copy(childPrefix, prefix)
		childPrefix[len(prefix)] = e.char
		md.Children = append(md.Children, NodeMetadata{
			Prefix:      childPrefix,
			NumMessages: c.items,
			Hash:        common.CopyBytes(c.hash),
		})
	}

	return md, true
}

// GetAllValues returns, in ascending order, every key under prefix.
func (t *MerkleTrie) GetAllValues(prefix []byte) [][]byte {
	t.l.RLock()
	defer t.l.RUnlock()

	idx := rootIndex
	for _, c := range prefix {
		n := &t.arena.nodes[idx]
		if n.isLeaf() {
			// the prefix ends inside a compacted leaf
			if n.key != nil && bytes.HasPrefix(n.key, prefix) {
				return [][]byte{common.CopyBytes(n.key)}
			}
			return [][]byte{}
		}
		child, ok := t.arena.child(idx, c)
		if !ok {
			return [][]byte{}
		}
		idx = child
	}

	values := t.arena.collect(idx, [][]byte{})
	for i, v := range values {
		values[i] = common.CopyBytes(v)
	}
	return values
}

// Nodes returns the number of live nodes in the arena.
func (t *MerkleTrie) Nodes() int {
	t.l.RLock()
	defer t.l.RUnlock()

	return t.arena.liveNodes()
}
