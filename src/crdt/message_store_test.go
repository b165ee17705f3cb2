package crdt

import (
	"bytes"
	"crypto/ecdsa"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/mosaicnetworks/hub/src/common"
	"github.com/mosaicnetworks/hub/src/crypto/keys"
	"github.com/mosaicnetworks/hub/src/message"
	"github.com/mosaicnetworks/hub/src/store"
	"github.com/mosaicnetworks/hub/src/trie"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trieListener keeps a trie in step with the registers.
type trieListener struct {
	l       sync.Mutex
	trie    *trie.MerkleTrie
	added   int
	removed int
}

func newTrieListener() *trieListener {
	return &trieListener{trie: trie.NewMerkleTrie(message.TimestampLength, message.SyncKeyLength)}
}

func (tl *trieListener) OnMerge(added *message.Message, removed []*message.Message) {
	tl.l.Lock()
	defer tl.l.Unlock()

	for _, r := range removed {
		k, _ := r.SyncKey()
		tl.trie.Delete(k)
		tl.removed++
	}
	if added != nil {
		k, _ := added.SyncKey()
		tl.trie.Insert(k)
		tl.added++
	}
}

func newTestMessageStore(t *testing.T) (*MessageStore, *trieListener) {
	s := NewMessageStore(store.NewInmemStore(), common.NewTestEntry(t, common.TestLogLevel))
	l := newTrieListener()
	s.AddListener(l)
	return s, l
}

func sign(t *testing.T, key *ecdsa.PrivateKey, data message.MessageData) *message.Message {
	m, err := message.NewSignedMessage(data, key)
	require.NoError(t, err)
	return m
}

func testKey(t *testing.T) *ecdsa.PrivateKey {
	key, err := keys.GenerateECDSAKey()
	require.NoError(t, err)
	return key
}

func castID(fid uint64, b byte) *message.CastId {
	return &message.CastId{Fid: fid, Hash: bytes.Repeat([]byte{b}, message.HashLength)}
}

func reaction(t message.MessageType, fid uint64, ts uint32, n message.Network) message.MessageData {
	return message.MessageData{
		Type:      t,
		Fid:       fid,
		Timestamp: ts,
		Network:   n,
		ReactionBody: &message.ReactionBody{
			Type:         message.ReactionTypeLike,
			TargetCastId: castID(99, 0xcc),
		},
	}
}

func castAdd(fid uint64, ts uint32, text string) message.MessageData {
	return message.MessageData{
		Type:        message.MessageTypeCastAdd,
		Fid:         fid,
		Timestamp:   ts,
		CastAddBody: &message.CastAddBody{Text: text},
	}
}

func castRemove(fid uint64, ts uint32, target []byte) message.MessageData {
	return message.MessageData{
		Type:           message.MessageTypeCastRemove,
		Fid:            fid,
		Timestamp:      ts,
		CastRemoveBody: &message.CastRemoveBody{TargetHash: target},
	}
}

func TestMergeDuplicate(t *testing.T) {
	s, l := newTestMessageStore(t)
	m := sign(t, testKey(t), castAdd(1, 100, "hello"))

	res, err := s.Merge(m)
	require.NoError(t, err)
	assert.Equal(t, Accepted, res)

	res, err = s.Merge(m)
	require.NoError(t, err)
	assert.Equal(t, Duplicate, res)

	assert.Equal(t, 1, l.added)
	assert.Equal(t, 1, l.trie.Items())

	count, err := s.CountSyncKeys()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMergeLaterWins(t *testing.T) {
	s, l := newTestMessageStore(t)
	key := testKey(t)

	add := sign(t, key, reaction(message.MessageTypeReactionAdd, 1, 100, message.NetworkDevnet))
	remove := sign(t, key, reaction(message.MessageTypeReactionRemove, 1, 101, message.NetworkDevnet))

	res, err := s.Merge(add)
	require.NoError(t, err)
	assert.Equal(t, Accepted, res)

	res, err = s.Merge(remove)
	require.NoError(t, err)
	assert.Equal(t, Accepted, res)
	assert.Equal(t, 1, l.removed)

	res, err = s.Merge(add)
	require.NoError(t, err)
	assert.Equal(t, Superseded, res)

	assert.Equal(t, 1, l.trie.Items())
	removeKey, _ := remove.SyncKey()
	assert.True(t, l.trie.Exists(removeKey))

	tsHash, _ := add.TsHash()
	_, err = s.GetMessage(1, message.MessageTypeReactionAdd, tsHash)
	assert.True(t, common.IsStore(err, common.KeyNotFound), "evicted message should be gone, got %v", err)
}

func urlReaction(t message.MessageType, ts uint32, url string) message.MessageData {
	return message.MessageData{
		Type:      t,
		Fid:       1,
		Timestamp: ts,
		Network:   message.NetworkDevnet,
		ReactionBody: &message.ReactionBody{
			Type:      message.ReactionTypeLike,
			TargetUrl: url,
		},
	}
}

// reactionPair looks for an Add and a Remove of the same target, at the same
// timestamp, whose hashes compare as want.
func reactionPair(t *testing.T, key *ecdsa.PrivateKey, want int) (*message.Message, *message.Message) {
	for i := 0; i < 256; i++ {
		url := fmt.Sprintf("https://example.com/post/%d", i)
		a := sign(t, key, urlReaction(message.MessageTypeReactionAdd, 500, url))
		r := sign(t, key, urlReaction(message.MessageTypeReactionRemove, 500, url))
		if bytes.Compare(r.Hash, a.Hash) == want {
			return a, r
		}
	}
	t.Fatalf("no reaction pair with hash order %d", want)
	return nil, nil
}

// A Remove at the same timestamp as an Add, with a greater hash, evicts it.
func TestMergeEqualTimestampHigherHash(t *testing.T) {
	key := testKey(t)
	add, remove := reactionPair(t, key, 1)

	s, l := newTestMessageStore(t)

	res, err := s.Merge(add)
	require.NoError(t, err)
	require.Equal(t, Accepted, res)

	res, err = s.Merge(remove)
	require.NoError(t, err)
	assert.Equal(t, Accepted, res)

	assert.Equal(t, 1, l.trie.Items())
	count, _ := s.CountSyncKeys()
	assert.Equal(t, 1, count)

	k, _ := remove.SyncKey()
	assert.True(t, l.trie.Exists(k))
	k, _ = add.SyncKey()
	assert.False(t, l.trie.Exists(k))
}

// With a lower hash, the same Remove loses in both orders.
func TestMergeEqualTimestampLowerHash(t *testing.T) {
	key := testKey(t)
	add, remove := reactionPair(t, key, -1)

	for _, order := range [][]*message.Message{{add, remove}, {remove, add}} {
		s, l := newTestMessageStore(t)
		for _, m := range order {
			_, err := s.Merge(m)
			require.NoError(t, err)
		}

		assert.Equal(t, 1, l.trie.Items())
		k, _ := add.SyncKey()
		assert.True(t, l.trie.Exists(k))
	}
}

func TestCastRemoveWinsRegardlessOfTime(t *testing.T) {
	s, l := newTestMessageStore(t)
	key := testKey(t)

	add := sign(t, key, castAdd(1, 100, "soon gone"))
	remove := sign(t, key, castRemove(1, 50, add.Hash))

	res, err := s.Merge(add)
	require.NoError(t, err)
	require.Equal(t, Accepted, res)

	res, err = s.Merge(remove)
	require.NoError(t, err)
	assert.Equal(t, Accepted, res)

	res, err = s.Merge(add)
	require.NoError(t, err)
	assert.Equal(t, Superseded, res)

	// a later remove of the same cast replaces the earlier remove
	later := sign(t, key, castRemove(1, 200, add.Hash))
	res, err = s.Merge(later)
	require.NoError(t, err)
	assert.Equal(t, Accepted, res)

	assert.Equal(t, 1, l.trie.Items())
}

func TestUserDataLaterWins(t *testing.T) {
	s, _ := newTestMessageStore(t)
	key := testKey(t)

	data := func(ts uint32, v string) message.MessageData {
		return message.MessageData{
			Type:         message.MessageTypeUserDataAdd,
			Fid:          3,
			Timestamp:    ts,
			UserDataBody: &message.UserDataBody{Type: message.UserDataTypeBio, Value: v},
		}
	}

	old := sign(t, key, data(10, "old"))
	recent := sign(t, key, data(20, "new"))

	for _, m := range []*message.Message{recent, old} {
		_, err := s.Merge(m)
		require.NoError(t, err)
	}

	msgs, err := s.GetMessagesByFid(3)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "new", msgs[0].Data.UserDataBody.Value)
}

// messageGen builds random messages of every family for two fids. Messages of
// fid 1 are signed by a delegate whose signer register keeps changing;
// messages of fid 2 are signed by the custody key.
type messageGen struct {
	t        *testing.T
	r        *rand.Rand
	custody  *ecdsa.PrivateKey
	delegate *ecdsa.PrivateKey
	casts    map[uint64][]*message.Message
}

func newMessageGen(t *testing.T, seed int64) *messageGen {
	return &messageGen{
		t:        t,
		r:        rand.New(rand.NewSource(seed)),
		custody:  testKey(t),
		delegate: testKey(t),
		casts:    make(map[uint64][]*message.Message),
	}
}

func (g *messageGen) signer(fid uint64) *ecdsa.PrivateKey {
	if fid == 1 {
		return g.delegate
	}
	return g.custody
}

func (g *messageGen) next() *message.Message {
	r := g.r
	ts := uint32(1000 + r.Intn(5))
	fid := uint64(1 + r.Intn(2))
	pick := func(a, b message.MessageType) message.MessageType {
		if r.Intn(2) == 0 {
			return a
		}
		return b
	}

	data := message.MessageData{Fid: fid, Timestamp: ts}
	switch r.Intn(7) {
	case 0:
		if casts := g.casts[fid]; len(casts) > 0 && r.Intn(2) == 0 {
			data = castRemove(fid, ts, casts[r.Intn(len(casts))].Hash)
			break
		}
		m := sign(g.t, g.signer(fid), castAdd(fid, ts, fmt.Sprintf("cast %d", r.Intn(1000))))
		g.casts[fid] = append(g.casts[fid], m)
		return m
	case 1:
		data = reaction(pick(message.MessageTypeReactionAdd, message.MessageTypeReactionRemove), fid, ts, message.Network(1+r.Intn(3)))
	case 2:
		data.Type = pick(message.MessageTypeLinkAdd, message.MessageTypeLinkRemove)
		data.LinkBody = &message.LinkBody{Type: "follow", TargetFid: uint64(r.Intn(3) + 10)}
	case 3:
		address := bytes.Repeat([]byte{byte(1 + r.Intn(3))}, 20)
		data.Type = pick(message.MessageTypeVerificationAdd, message.MessageTypeVerificationRemove)
		if data.Type == message.MessageTypeVerificationAdd {
			data.VerificationAddBody = &message.VerificationAddBody{
				Address:        address,
				ClaimSignature: []byte{byte(r.Intn(256))},
				BlockHash:      bytes.Repeat([]byte{0xbb}, 32),
			}
		} else {
			data.VerificationRemoveBody = &message.VerificationRemoveBody{Address: address}
		}
	case 4:
		data.Type = message.MessageTypeUserDataAdd
		data.UserDataBody = &message.UserDataBody{
			Type:  message.UserDataType(1 + r.Intn(3)),
			Value: fmt.Sprintf("value %d", r.Intn(1000)),
		}
	default:
		return g.signerChange(pick(message.MessageTypeSignerAdd, message.MessageTypeSignerRemove), ts)
	}

	return sign(g.t, g.signer(fid), data)
}

// signerChange adds or removes the delegate of fid 1.
func (g *messageGen) signerChange(typ message.MessageType, ts uint32) *message.Message {
	return sign(g.t, g.custody, message.MessageData{
		Type:       typ,
		Fid:        1,
		Timestamp:  ts,
		SignerBody: &message.SignerBody{Signer: keys.FromPublicKey(&g.delegate.PublicKey)},
	})
}

func mergeAll(t *testing.T, msgs []*message.Message, order []int) (*MessageStore, *trieListener) {
	s, l := newTestMessageStore(t)
	for _, i := range order {
		_, err := s.Merge(msgs[i])
		require.NoError(t, err)
	}

	stored, err := s.CountSyncKeys()
	require.NoError(t, err)
	require.Equal(t, l.trie.Items(), stored)

	return s, l
}

// Merging the same messages in any order leaves the same registers.
func TestMergeOrderDeterminism(t *testing.T) {
	g := newMessageGen(t, 11)

	msgs := []*message.Message{}
	for i := 0; i < 80; i++ {
		msgs = append(msgs, g.next())
	}

	var reference []byte
	for round := 0; round < 6; round++ {
		_, l := mergeAll(t, msgs, g.r.Perm(len(msgs)))

		if round == 0 {
			reference = l.trie.RootHash()
		}
		assert.Equal(t, reference, l.trie.RootHash(), "round %d", round)
	}
}

func permutations(n int) [][]int {
	if n == 1 {
		return [][]int{{0}}
	}
	res := [][]int{}
	for _, p := range permutations(n - 1) {
		for i := 0; i <= len(p); i++ {
			q := append(append(append([]int{}, p[:i]...), n-1), p[i:]...)
			res = append(res, q)
		}
	}
	return res
}

// The messages of a delegate depend on which signer message wins, whatever
// the order they arrive in.
func TestSignerChangesCommute(t *testing.T) {
	g := newMessageGen(t, 3)

	cases := []struct {
		name    string
		add     uint32
		remove  uint32
		visible int
	}{
		{"add wins", 20, 10, 2},
		{"remove wins", 10, 20, 1},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			msgs := []*message.Message{
				g.signerChange(message.MessageTypeSignerAdd, c.add),
				g.signerChange(message.MessageTypeSignerRemove, c.remove),
				sign(t, g.delegate, castAdd(1, 15, "by delegate")),
				sign(t, g.delegate, reaction(message.MessageTypeReactionAdd, 1, 16, message.NetworkDevnet)),
			}
			castKey, _ := msgs[2].SyncKey()

			var reference []byte
			for _, order := range permutations(len(msgs)) {
				s, l := mergeAll(t, msgs, order)

				assert.Equal(t, c.visible == 2, l.trie.Exists(castKey), "order %v", order)
				if reference == nil {
					reference = l.trie.RootHash()
				}
				assert.Equal(t, reference, l.trie.RootHash(), "order %v", order)

				byFid, err := s.GetMessagesByFid(1)
				require.NoError(t, err)
				assert.Len(t, byFid, 1+2*(c.visible-1), "order %v", order)
			}
		})
	}
}

func TestSignerRemoveRevokes(t *testing.T) {
	s, l := newTestMessageStore(t)
	custody := testKey(t)
	delegate := testKey(t)
	delegatePub := keys.FromPublicKey(&delegate.PublicKey)

	signerAdd := sign(t, custody, message.MessageData{
		Type: message.MessageTypeSignerAdd, Fid: 5, Timestamp: 10,
		SignerBody: &message.SignerBody{Signer: delegatePub},
	})
	cast := sign(t, delegate, castAdd(5, 20, "by delegate"))
	own := sign(t, custody, castAdd(5, 21, "by custody"))

	for _, m := range []*message.Message{signerAdd, cast, own} {
		res, err := s.Merge(m)
		require.NoError(t, err)
		require.Equal(t, Accepted, res)
	}
	require.Equal(t, 3, l.trie.Items())

	signerRemove := sign(t, custody, message.MessageData{
		Type: message.MessageTypeSignerRemove, Fid: 5, Timestamp: 30,
		SignerBody: &message.SignerBody{Signer: delegatePub},
	})
	res, err := s.Merge(signerRemove)
	require.NoError(t, err)
	require.Equal(t, Accepted, res)

	// signerAdd replaced by signerRemove, cast revoked
	assert.Equal(t, 2, l.trie.Items())
	castKey, _ := cast.SyncKey()
	assert.False(t, l.trie.Exists(castKey))

	late := sign(t, delegate, castAdd(5, 40, "too late"))
	res, err = s.Merge(late)
	require.NoError(t, err)
	assert.Equal(t, Revoked, res)

	res, err = s.Merge(late)
	require.NoError(t, err)
	assert.Equal(t, Duplicate, res)

	count, _ := s.CountSyncKeys()
	assert.Equal(t, l.trie.Items(), count)

	// adding the signer again brings both casts back
	readd := sign(t, custody, message.MessageData{
		Type: message.MessageTypeSignerAdd, Fid: 5, Timestamp: 50,
		SignerBody: &message.SignerBody{Signer: delegatePub},
	})
	res, err = s.Merge(readd)
	require.NoError(t, err)
	require.Equal(t, Accepted, res)

	assert.Equal(t, 4, l.trie.Items())
	assert.True(t, l.trie.Exists(castKey))
	lateKey, _ := late.SyncKey()
	assert.True(t, l.trie.Exists(lateKey))

	res, err = s.Merge(cast)
	require.NoError(t, err)
	assert.Equal(t, Duplicate, res)
}

// Messages of a delegate merged while its signer is being removed never
// outlive the removal.
func TestConcurrentSignerRemove(t *testing.T) {
	g := newMessageGen(t, 5)
	s, l := newTestMessageStore(t)

	_, err := s.Merge(g.signerChange(message.MessageTypeSignerAdd, 10))
	require.NoError(t, err)

	casts := []*message.Message{}
	for i := 0; i < 40; i++ {
		casts = append(casts, sign(t, g.delegate, castAdd(1, uint32(100+i), fmt.Sprintf("cast %d", i))))
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w; i < len(casts); i += 4 {
				s.Merge(casts[i])
			}
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Merge(g.signerChange(message.MessageTypeSignerRemove, 20))
	}()
	wg.Wait()

	// only the signer register is left
	assert.Equal(t, 1, l.trie.Items())
	count, err := s.CountSyncKeys()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMergeStructuralErrors(t *testing.T) {
	s, l := newTestMessageStore(t)

	bad := &message.Message{
		Data: castAdd(1, 1, "x"),
		Hash: []byte{1, 2, 3},
	}
	_, err := s.Merge(bad)
	assert.True(t, common.IsHubErr(err, common.Structural), "got %v", err)

	unknown := &message.Message{Data: message.MessageData{Type: 77, Fid: 1}}
	_, err = s.Merge(unknown)
	assert.True(t, common.IsHubErr(err, common.Structural), "got %v", err)

	assert.Equal(t, 0, l.trie.Items())
}

func TestGetMessagesBySyncKeys(t *testing.T) {
	s, _ := newTestMessageStore(t)
	key := testKey(t)

	expected := []message.SyncKey{}
	for i := 0; i < 5; i++ {
		m := sign(t, key, castAdd(2, uint32(100+i), fmt.Sprintf("cast %d", i)))
		_, err := s.Merge(m)
		require.NoError(t, err)
		k, _ := m.SyncKey()
		expected = append(expected, k)
	}

	seen := []message.SyncKey{}
	require.NoError(t, s.ForEachSyncKey(func(k message.SyncKey) error {
		seen = append(seen, k)
		return nil
	}))
	assert.Equal(t, expected, seen)

	unknown, _ := message.MakeSyncKey(1, bytes.Repeat([]byte{1}, message.HashLength))
	msgs, err := s.GetMessagesBySyncKeys([]message.SyncKey{expected[1], unknown, expected[3]})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "cast 1", msgs[0].Data.CastAddBody.Text)
	assert.Equal(t, "cast 3", msgs[1].Data.CastAddBody.Text)
}

func TestConcurrentMerges(t *testing.T) {
	s, l := newTestMessageStore(t)
	key := testKey(t)

	msgs := []*message.Message{}
	for fid := uint64(1); fid <= 8; fid++ {
		for i := 0; i < 10; i++ {
			msgs = append(msgs, sign(t, key, castAdd(fid, uint32(i), fmt.Sprintf("%d-%d", fid, i))))
		}
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			// every worker merges everything, so most merges are duplicates
			for i := range msgs {
				s.Merge(msgs[(i+w*13)%len(msgs)])
			}
		}(w)
	}
	wg.Wait()

	count, err := s.CountSyncKeys()
	require.NoError(t, err)
	assert.Equal(t, len(msgs), count)
	assert.Equal(t, len(msgs), l.trie.Items())
	assert.Equal(t, len(msgs), l.added)
}
