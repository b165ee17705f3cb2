package trie

import (
	"bytes"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/mosaicnetworks/hub/src/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testTimestampLength = 10
	testKeyLength       = 30
)

func newTestTrie() *MerkleTrie {
	return NewMerkleTrie(testTimestampLength, testKeyLength)
}

func testKey(ts uint32, hash []byte) []byte {
	key := []byte(fmt.Sprintf("%010d", ts))
	h := make([]byte, testKeyLength-testTimestampLength)
	copy(h, hash)
	return append(key, h...)
}

func randomKeys(r *rand.Rand, n int) [][]byte {
	keys := make([][]byte, n)
	for i := range keys {
		h := make([]byte, 20)
		r.Read(h)
		// few distinct timestamps so that keys share long prefixes
		keys[i] = testKey(uint32(1000+r.Intn(20)), h)
	}
	return keys
}

func TestEmptyTrie(t *testing.T) {
	trie := newTestTrie()

	assert.Equal(t, EmptyHash, trie.RootHash())
	assert.Equal(t, 0, trie.Items())
	assert.Empty(t, trie.GetAllValues(nil))
	assert.False(t, trie.Exists(testKey(1, []byte{1})))
}

func TestInsertIdempotent(t *testing.T) {
	trie := newTestTrie()
	key := testKey(1665182332, []byte{0xaa})

	ok, err := trie.Insert(key)
	require.NoError(t, err)
	assert.True(t, ok)
	hash := trie.RootHash()

	ok, err = trie.Insert(key)
	require.NoError(t, err)
	assert.False(t, ok, "second insert should be a no-op")
	assert.Equal(t, hash, trie.RootHash())
	assert.Equal(t, 1, trie.Items())
	assert.True(t, trie.Exists(key))
}

func TestDeleteAbsent(t *testing.T) {
	trie := newTestTrie()
	a := testKey(100, []byte{1})
	b := testKey(100, []byte{2})

	ok, err := trie.Delete(a)
	require.NoError(t, err)
	assert.False(t, ok)

	trie.Insert(a)
	hash := trie.RootHash()

	ok, _ = trie.Delete(b)
	assert.False(t, ok)
	assert.Equal(t, hash, trie.RootHash())
	assert.Equal(t, 1, trie.Items())
}

func TestDeleteToEmpty(t *testing.T) {
	trie := newTestTrie()
	keys := randomKeys(rand.New(rand.NewSource(1)), 50)
	for _, k := range keys {
		trie.Insert(k)
	}
	for _, k := range keys {
		ok, err := trie.Delete(k)
		require.NoError(t, err)
		require.True(t, ok)
	}

	assert.Equal(t, EmptyHash, trie.RootHash())
	assert.Equal(t, 0, trie.Items())
	assert.Equal(t, 1, trie.Nodes(), "only the root should survive")
}

func TestMalformedKeys(t *testing.T) {
	trie := newTestTrie()

	_, err := trie.Insert([]byte("123"))
	assert.True(t, common.IsHubErr(err, common.Structural))

	_, err = trie.Delete(make([]byte, testKeyLength+1))
	assert.True(t, common.IsHubErr(err, common.Structural))

	assert.False(t, trie.Exists([]byte("0000000001")))
	assert.Equal(t, EmptyHash, trie.RootHash())
}

func TestConvergence(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	keys := randomKeys(r, 300)

	reference := newTestTrie()
	for _, k := range keys {
		reference.Insert(k)
	}

	for round := 0; round < 5; round++ {
		shuffled := make([][]byte, len(keys))
		copy(shuffled, keys)
		r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		other := newTestTrie()
		for i, k := range shuffled {
			other.Insert(k)
			// interleave deletes that net out
			if i%7 == 0 {
				other.Delete(k)
				other.Insert(k)
			}
		}
		// extra keys inserted then removed
		for _, k := range randomKeys(r, 30) {
			other.Insert(k)
			other.Delete(k)
		}

		assert.Equal(t, reference.RootHash(), other.RootHash(), "round %d", round)
		assert.Equal(t, reference.Items(), other.Items())
		assert.Equal(t, reference.Nodes(), other.Nodes())
	}
}

func TestCompactionEquivalence(t *testing.T) {
	a := testKey(1665182332, []byte{0x01, 0x02, 0x03})
	b := testKey(1665182332, []byte{0x01, 0x02, 0x04})

	both := newTestTrie()
	both.Insert(a)
	both.Insert(b)
	ok, err := both.Delete(b)
	require.NoError(t, err)
	require.True(t, ok)

	onlyA := newTestTrie()
	onlyA.Insert(a)

	assert.Equal(t, onlyA.RootHash(), both.RootHash())
	assert.Equal(t, onlyA.Nodes(), both.Nodes())
	assert.True(t, both.Exists(a))
	assert.False(t, both.Exists(b))
}

func TestCompactionAcrossLevels(t *testing.T) {
	// three keys sharing a long hash prefix: deleting two of them must
	// collapse every level down to the single remaining leaf.
	base := bytes.Repeat([]byte{0x7f}, 15)
	k1 := testKey(5, append(append([]byte{}, base...), 1))
	k2 := testKey(5, append(append([]byte{}, base...), 2))
	k3 := testKey(5, append(append([]byte{}, base[:3]...), 9))

	trie := newTestTrie()
	for _, k := range [][]byte{k1, k2, k3} {
		trie.Insert(k)
	}
	trie.Delete(k2)
	trie.Delete(k3)

	fresh := newTestTrie()
	fresh.Insert(k1)

	assert.Equal(t, fresh.RootHash(), trie.RootHash())
	assert.Equal(t, fresh.Nodes(), trie.Nodes())
}

func TestTimestampPrefixNotCompacted(t *testing.T) {
	trie := newTestTrie()
	trie.Insert(testKey(1234567890, []byte{1}))

	// one node per timestamp digit, plus the root and the compacted leaf
	// at depth 10 holding the whole key.
	assert.Equal(t, testTimestampLength+1, trie.Nodes())

	md, ok := trie.GetTrieNodeMetadata([]byte("123456789"))
	require.True(t, ok)
	require.Len(t, md.Children, 1)
	assert.Equal(t, []byte("1234567890"), md.Children[0].Prefix)
	assert.Equal(t, 1, md.Children[0].NumMessages)
}

func TestGetAllValues(t *testing.T) {
	trie := newTestTrie()
	keys := randomKeys(rand.New(rand.NewSource(7)), 40)
	for _, k := range keys {
		trie.Insert(k)
	}

	values := trie.GetAllValues(nil)
	require.Len(t, values, len(keys))
	for i := 1; i < len(values); i++ {
		assert.Equal(t, -1, bytes.Compare(values[i-1], values[i]))
	}

	prefix := []byte("0000001005")
	expected := 0
	for _, k := range keys {
		if bytes.HasPrefix(k, prefix) {
			expected++
		}
	}
	assert.Len(t, trie.GetAllValues(prefix), expected)

	// a prefix ending inside a compacted leaf
	single := newTestTrie()
	k := testKey(77, []byte{0xab, 0xcd})
	single.Insert(k)
	assert.Equal(t, [][]byte{k}, single.GetAllValues(k[:12]))
	assert.Empty(t, single.GetAllValues(append(k[:11:11], 0x00)))
}

func TestEmptySnapshot(t *testing.T) {
	trie := newTestTrie()

	prefix := []byte("0000012340")
	snapshot := trie.GetSnapshot(prefix)
	assert.Equal(t, 0, snapshot.NumMessages)
	require.Len(t, snapshot.ExcludedHashes, len(prefix))
	for _, h := range snapshot.ExcludedHashes {
		assert.Equal(t, EmptyHash, h)
	}
	assert.Equal(t, prefix, snapshot.Prefix)
}

func TestSnapshot(t *testing.T) {
	trie := newTestTrie()
	trie.Insert(testKey(100, []byte{1}))
	trie.Insert(testKey(200, []byte{2}))
	trie.Insert(testKey(205, []byte{3}))
	trie.Insert(testKey(300, []byte{4}))

	prefix := []byte("0000000200")
	snapshot := trie.GetSnapshot(prefix)

	assert.Equal(t, prefix, snapshot.Prefix)
	assert.Len(t, snapshot.ExcludedHashes, len(prefix))
	// everything but the key at exactly 200
	assert.Equal(t, 3, snapshot.NumMessages)

	// the first 7 digits are shared by every key
	for i := 0; i < 7; i++ {
		assert.Equal(t, EmptyHash, snapshot.ExcludedHashes[i], "depth %d", i)
	}
	assert.NotEqual(t, EmptyHash, snapshot.ExcludedHashes[7])

	// an empty trie differs as soon as the path of a populated one leaves the
	// prefix
	empty := newTestTrie().GetSnapshot(prefix)
	assert.Equal(t, snapshot.ExcludedHashes[:7], empty.ExcludedHashes[:7])
	assert.NotEqual(t, snapshot.ExcludedHashes[7], empty.ExcludedHashes[7])

	// a trie missing the key at 100 differs at depth 7
	other := newTestTrie()
	other.Insert(testKey(200, []byte{2}))
	other.Insert(testKey(205, []byte{3}))
	other.Insert(testKey(300, []byte{4}))
	otherSnapshot := other.GetSnapshot(prefix)
	assert.NotEqual(t, snapshot.ExcludedHashes[7], otherSnapshot.ExcludedHashes[7])
	assert.Equal(t, snapshot.ExcludedHashes[8], otherSnapshot.ExcludedHashes[8])
}

func TestNodeMetadata(t *testing.T) {
	trie := newTestTrie()
	for _, ts := range []uint32{300, 100, 200} {
		trie.Insert(testKey(ts, []byte{byte(ts)}))
	}

	md, ok := trie.GetTrieNodeMetadata([]byte("0000000"))
	require.True(t, ok)
	assert.Equal(t, 3, md.NumMessages)
	assert.Equal(t, trie.RootHash(), func() []byte {
		root, _ := trie.GetTrieNodeMetadata(nil)
		return root.Hash
	}())

	require.Len(t, md.Children, 3)
	for i, c := range md.Children {
		assert.Equal(t, []byte(fmt.Sprintf("0000000%d", i+1)), c.Prefix)
		assert.Equal(t, 1, c.NumMessages)
	}

	_, ok = trie.GetTrieNodeMetadata([]byte("9"))
	assert.False(t, ok)
}

func TestConcurrentInserts(t *testing.T) {
	keys := randomKeys(rand.New(rand.NewSource(3)), 400)

	sequential := newTestTrie()
	for _, k := range keys {
		sequential.Insert(k)
	}

	concurrent := newTestTrie()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w; i < len(keys); i += 8 {
				concurrent.Insert(keys[i])
				concurrent.Exists(keys[i])
				concurrent.GetSnapshot([]byte("0000001010"))
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, sequential.RootHash(), concurrent.RootHash())
	assert.Equal(t, len(keys), concurrent.Items())
}

func TestClear(t *testing.T) {
	trie := newTestTrie()
	for _, k := range randomKeys(rand.New(rand.NewSource(9)), 10) {
		trie.Insert(k)
	}
	trie.Clear()
	assert.Equal(t, EmptyHash, trie.RootHash())
	assert.Equal(t, 0, trie.Items())
}
