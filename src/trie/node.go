package trie

import (
	"bytes"
	"sort"

	"github.com/mosaicnetworks/hub/src/crypto"
)

// EmptyHash is the hash of an empty trie, and of a leaf without a key.
var EmptyHash = crypto.Blake3_160()

const rootIndex int32 = 0

type edge struct {
	char  byte
	child int32
}

type node struct {
	edges []edge // sorted by char
	key   []byte // only set on compacted leaves
	hash  []byte
	items int
}

func (n *node) isLeaf() bool {
	return len(n.edges) == 0
}

func (n *node) find(char byte) (int, bool) {
	i := sort.Search(len(n.edges), func(i int) bool { return n.edges[i].char >= char })
	return i, i < len(n.edges) && n.edges[i].char == char
}

// arena owns every node of a trie. The root is always at index 0. It is not
// safe for concurrent use.
type arena struct {
	nodes           []node
	free            []int32
	timestampLength int
}

func newArena(timestampLength int) *arena {
	a := &arena{timestampLength: timestampLength}
	a.alloc()
	return a
}

func (a *arena) alloc() int32 {
	if l := len(a.free); l > 0 {
		idx := a.free[l-1]
		a.free = a.free[:l-1]
		a.nodes[idx] = node{hash: EmptyHash}
		return idx
	}
	a.nodes = append(a.nodes, node{hash: EmptyHash})
	return int32(len(a.nodes) - 1)
}

func (a *arena) release(idx int32) {
	for _, e := range a.nodes[idx].edges {
		a.release(e.child)
	}
	a.nodes[idx] = node{}
	a.free = append(a.free, idx)
}

func (a *arena) child(idx int32, char byte) (int32, bool) {
	n := &a.nodes[idx]
	pos, ok := n.find(char)
	if !ok {
		return -1, false
	}
	return n.edges[pos].child, true
}

func (a *arena) addChild(idx int32, char byte) int32 {
	child := a.alloc()
	n := &a.nodes[idx]
	pos, _ := n.find(char)
	n.edges = append(n.edges, edge{})
	copy(n.edges[pos+1:], n.edges[pos:])
	n.edges[pos] = edge{char: char, child: child}
	return child
}

func (a *arena) removeEdge(idx int32, pos int) {
	n := &a.nodes[idx]
	n.edges = append(n.edges[:pos], n.edges[pos+1:]...)
	if len(n.edges) == 0 {
		n.edges = nil
	}
}

func (a *arena) updateHash(idx int32) {
	n := &a.nodes[idx]
	if n.isLeaf() {
		n.hash = crypto.Blake3_160(n.key)
		return
	}
	chunks := make([][]byte, len(n.edges))
	for i, e := range n.edges {
		chunks[i] = a.nodes[e.child].hash
	}
	n.hash = crypto.Blake3_160(chunks...)
}

// split pushes the key of a compacted leaf one level down, at position cur.
func (a *arena) split(idx int32, cur int) {
	old := a.nodes[idx].key
	if old == nil {
		panic("trie: splitting a leaf that holds no key")
	}
	if cur >= len(old) {
		panic("trie: splitting a leaf past the end of its key")
	}
	child := a.addChild(idx, old[cur])
	a.insert(child, old, cur+1)
	a.nodes[idx].key = nil
}

func (a *arena) insert(idx int32, key []byte, cur int) bool {
	if cur >= a.timestampLength && a.nodes[idx].isLeaf() {
		n := &a.nodes[idx]
		if n.key == nil {
			n.key = key
			n.items++
			a.updateHash(idx)
			return true
		}
		if bytes.Equal(n.key, key) {
			return false
		}
		a.split(idx, cur)
	}

	if cur >= len(key) {
		panic("trie: key exhausted before reaching a leaf")
	}

	child, ok := a.child(idx, key[cur])
	if !ok {
		child = a.addChild(idx, key[cur])
	}

	if !a.insert(child, key, cur+1) {
		return false
	}

	a.nodes[idx].items++
	a.updateHash(idx)
	return true
}

func (a *arena) delete(idx int32, key []byte, cur int) bool {
	n := &a.nodes[idx]

	if n.isLeaf() {
		if n.key == nil || !bytes.Equal(n.key, key) {
			return false
		}
		n.key = nil
		n.items--
		a.updateHash(idx)
		return true
	}

	if cur >= len(key) {
		return false
	}

	pos, ok := n.find(key[cur])
	if !ok {
		return false
	}
	child := n.edges[pos].child

	if !a.delete(child, key, cur+1) {
		return false
	}

	n = &a.nodes[idx]
	n.items--

	// An empty child must go, or this node would not hash like a node that
	// never had it.
	if a.nodes[child].items == 0 {
		a.removeEdge(idx, pos)
		a.release(child)
	}

	if n.items == 1 && len(n.edges) == 1 && cur >= a.timestampLength {
		only := n.edges[0].child
		if a.nodes[only].key != nil {
			n.key = a.nodes[only].key
			a.removeEdge(idx, 0)
			a.release(only)
		}
	}

	a.updateHash(idx)
	return true
}

func (a *arena) exists(key []byte) bool {
	idx := rootIndex
	for cur := 0; ; cur++ {
		n := &a.nodes[idx]
		if n.isLeaf() {
			return n.key != nil && bytes.Equal(n.key, key)
		}
		if cur >= len(key) {
			return false
		}
		child, ok := a.child(idx, key[cur])
		if !ok {
			return false
		}
		idx = child
	}
}

// getNode walks the edges spelled by prefix. A prefix that ends inside a
// compacted leaf has no node.
func (a *arena) getNode(prefix []byte) (int32, bool) {
	idx := rootIndex
	for _, c := range prefix {
		child, ok := a.child(idx, c)
		if !ok {
			return -1, false
		}
		idx = child
	}
	return idx, true
}

// excludedHash combines the hashes and item counts of every child of idx
// except the one on edge char.
func (a *arena) excludedHash(idx int32, char byte) ([]byte, int) {
	n := &a.nodes[idx]
	chunks := make([][]byte, 0, len(n.edges))
	items := 0
	for _, e := range n.edges {
		if e.char == char {
			continue
		}
		c := &a.nodes[e.child]
		chunks = append(chunks, c.hash)
		items += c.items
	}
	return crypto.Blake3_160(chunks...), items
}

func (a *arena) collect(idx int32, out [][]byte) [][]byte {
	n := &a.nodes[idx]
	if n.isLeaf() {
		if n.key != nil {
			out = append(out, n.key)
		}
		return out
	}
	for _, e := range n.edges {
		out = a.collect(e.child, out)
	}
	return out
}

func (a *arena) liveNodes() int {
	return len(a.nodes) - len(a.free)
}
