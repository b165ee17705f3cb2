package sync

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"fmt"
	gosync "sync"
	"testing"
	"time"

	"github.com/mosaicnetworks/hub/src/common"
	"github.com/mosaicnetworks/hub/src/crdt"
	"github.com/mosaicnetworks/hub/src/crypto/keys"
	"github.com/mosaicnetworks/hub/src/message"
	"github.com/mosaicnetworks/hub/src/store"
	"github.com/mosaicnetworks/hub/src/trie"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testNow is far after every test message, so that they all fall in the
// excluded hashes of the snapshot.
var testNow = message.FromFarcasterTime(100005)

type testHub struct {
	engine *SyncEngine
	store  *crdt.MessageStore
}

func newTestHub(t *testing.T, conf Config) *testHub {
	logger := common.NewTestEntry(t, common.TestLogLevel)
	ms := crdt.NewMessageStore(store.NewInmemStore(), logger)
	engine := NewSyncEngine(ms, ms, conf, logger)
	engine.SetClock(func() time.Time { return testNow })
	ms.AddListener(engine)
	return &testHub{engine: engine, store: ms}
}

func (h *testHub) merge(t *testing.T, msgs ...*message.Message) {
	for _, m := range msgs {
		res, err := h.store.Merge(m)
		require.NoError(t, err)
		require.Equal(t, crdt.Accepted, res)
	}
}

func (h *testHub) peer() *localPeer {
	return &localPeer{hub: h}
}

// localPeer serves a testHub directly, with optional failure injection.
type localPeer struct {
	hub *testHub

	l            gosync.Mutex
	failMetadata func(prefix []byte) error
	corruptKeys  bool
	requested    []message.SyncKey
}

func (p *localPeer) GetSnapshot(ctx context.Context, prefix []byte) (trie.TrieSnapshot, error) {
	return p.hub.engine.SnapshotByPrefix(prefix), nil
}

func (p *localPeer) GetMetadataByPrefix(ctx context.Context, prefix []byte) (trie.NodeMetadata, error) {
	if err := ctx.Err(); err != nil {
		return trie.NodeMetadata{}, err
	}
	if p.failMetadata != nil {
		if err := p.failMetadata(prefix); err != nil {
			return trie.NodeMetadata{}, err
		}
	}
	return p.hub.engine.GetMetadataByPrefix(prefix), nil
}

func (p *localPeer) GetAllKeysByPrefix(ctx context.Context, prefix []byte) ([]message.SyncKey, error) {
	keys := p.hub.engine.GetAllKeysByPrefix(prefix)
	if p.corruptKeys && len(keys) > 0 {
		keys[0] = keys[0][:5]
	}
	return keys, nil
}

func (p *localPeer) GetMessagesByKeys(ctx context.Context, keys []message.SyncKey) ([]*message.Message, error) {
	p.l.Lock()
	p.requested = append(p.requested, keys...)
	p.l.Unlock()
	return p.hub.store.GetMessagesBySyncKeys(keys)
}

func signer(t *testing.T) *ecdsa.PrivateKey {
	key, err := keys.GenerateECDSAKey()
	require.NoError(t, err)
	return key
}

func casts(t *testing.T, key *ecdsa.PrivateKey, fid uint64, from, n int) []*message.Message {
	res := make([]*message.Message, n)
	for i := 0; i < n; i++ {
		ts := uint32(1000 + (from+i)*7)
		m, err := message.NewSignedMessage(message.MessageData{
			Type:        message.MessageTypeCastAdd,
			Fid:         fid,
			Timestamp:   ts,
			CastAddBody: &message.CastAddBody{Text: fmt.Sprintf("cast %d", from+i)},
		}, key)
		require.NoError(t, err)
		res[i] = m
	}
	return res
}

func TestEmptyEnginesConverge(t *testing.T) {
	a := newTestHub(t, Config{})
	b := newTestHub(t, Config{})

	snapshot, err := a.engine.Snapshot(testNow)
	require.NoError(t, err)
	assert.Equal(t, 0, snapshot.NumMessages)
	for _, h := range snapshot.ExcludedHashes {
		assert.Equal(t, trie.EmptyHash, h)
	}

	should, err := a.engine.ShouldSync(b.engine.SnapshotByPrefix(snapshot.Prefix).ExcludedHashes)
	require.NoError(t, err)
	assert.False(t, should)

	res, err := a.engine.DiffSync(context.Background(), b.peer())
	require.NoError(t, err)
	assert.Equal(t, Converged, res.State)
	assert.Equal(t, 0, res.Merged)
	assert.Equal(t, Converged, a.engine.State())
}

func TestSyncConverges(t *testing.T) {
	key := signer(t)
	conf := Config{HashesPerFetch: 5, WalkConcurrency: 3}

	a := newTestHub(t, conf)
	b := newTestHub(t, conf)

	shared := casts(t, key, 1, 0, 100)
	onlyB := casts(t, key, 3, 200, 30)
	a.merge(t, shared...)
	b.merge(t, shared...)
	a.merge(t, casts(t, key, 2, 100, 60)...)
	b.merge(t, onlyB...)

	require.NotEqual(t, a.engine.Trie().RootHash(), b.engine.Trie().RootHash())

	peerB := b.peer()
	res, err := a.engine.DiffSync(context.Background(), peerB)
	require.NoError(t, err)
	assert.Equal(t, Converged, res.State)
	assert.Equal(t, 30, res.Merged)
	assert.Empty(t, res.FailedPrefixes)

	// keys already present locally are never requested
	for _, k := range peerB.requested {
		found := false
		for _, m := range onlyB {
			mk, _ := m.SyncKey()
			if bytes.Equal(mk, k) {
				found = true
			}
		}
		assert.True(t, found, "requested a key a already had: %s", k)
	}

	res, err = b.engine.DiffSync(context.Background(), a.peer())
	require.NoError(t, err)
	assert.Equal(t, 60, res.Merged)

	assert.Equal(t, a.engine.Trie().RootHash(), b.engine.Trie().RootHash())
	assert.Equal(t, 190, a.engine.Trie().Items())

	should, err := a.engine.ShouldSync(b.engine.SnapshotByPrefix(mustSnapshot(t, a).Prefix).ExcludedHashes)
	require.NoError(t, err)
	assert.False(t, should)

	res, err = a.engine.DiffSync(context.Background(), b.peer())
	require.NoError(t, err)
	assert.Equal(t, Converged, res.State)
	assert.Nil(t, res.DivergencePrefix)
}

func mustSnapshot(t *testing.T, h *testHub) trie.TrieSnapshot {
	s, err := h.engine.Snapshot(testNow)
	require.NoError(t, err)
	return s
}

func TestSnapshotStability(t *testing.T) {
	h := newTestHub(t, Config{})
	h.merge(t, casts(t, signer(t), 1, 0, 20)...)

	base := message.FromFarcasterTime(100000)
	s1, err := h.engine.Snapshot(base)
	require.NoError(t, err)
	s2, err := h.engine.Snapshot(base.Add(9 * time.Second))
	require.NoError(t, err)

	assert.Equal(t, s1.Prefix, s2.Prefix)
	assert.Equal(t, s1.ExcludedHashes, s2.ExcludedHashes)
	assert.Equal(t, "0000100000", string(s1.Prefix))

	s3, err := h.engine.Snapshot(base.Add(10 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, "0000100010", string(s3.Prefix))

	_, err = h.engine.Snapshot(time.Unix(0, 0))
	assert.True(t, common.IsHubErr(err, common.Structural))
}

func TestShouldSync(t *testing.T) {
	key := signer(t)
	a := newTestHub(t, Config{})
	b := newTestHub(t, Config{})

	msgs := casts(t, key, 1, 0, 10)
	a.merge(t, msgs...)
	b.merge(t, msgs[:9]...)

	theirs := b.engine.SnapshotByPrefix(mustSnapshot(t, a).Prefix)
	should, err := a.engine.ShouldSync(theirs.ExcludedHashes)
	require.NoError(t, err)
	assert.True(t, should)

	prefix := a.engine.GetDivergencePrefix(mustSnapshot(t, a), theirs.ExcludedHashes)
	last, _ := msgs[9].SyncKey()
	assert.True(t, bytes.HasPrefix(last, prefix), "missing key %s should be under divergence prefix %q", last, prefix)

	require.True(t, a.engine.begin())
	should, err = a.engine.ShouldSync(theirs.ExcludedHashes)
	require.NoError(t, err)
	assert.False(t, should, "no sync while syncing")

	_, err = a.engine.PerformSync(context.Background(), b.peer(), nil)
	assert.Equal(t, ErrSyncInProgress, err)
	a.engine.end()
}

func TestGetDivergencePrefix(t *testing.T) {
	h := newTestHub(t, Config{})
	ours := trie.TrieSnapshot{
		Prefix:         []byte("0123"),
		ExcludedHashes: [][]byte{{1}, {2}, {3}, {4}},
	}

	assert.Equal(t, []byte("01"), h.engine.GetDivergencePrefix(ours, [][]byte{{1}, {2}, {9}, {4}}))
	assert.Equal(t, []byte{}, h.engine.GetDivergencePrefix(ours, [][]byte{{0}}))
	assert.Equal(t, []byte("0123"), h.engine.GetDivergencePrefix(ours, ours.ExcludedHashes))
	assert.Equal(t, []byte("012"), h.engine.GetDivergencePrefix(ours, [][]byte{{1}, {2}, {3}}))
}

func TestRebuildSyncTrie(t *testing.T) {
	h := newTestHub(t, Config{})
	h.merge(t, casts(t, signer(t), 1, 0, 30)...)

	root := h.engine.Trie().RootHash()

	ok, err := h.engine.CheckConsistency()
	require.NoError(t, err)
	assert.True(t, ok)

	k, _ := casts(t, signer(t), 9, 500, 1)[0].SyncKey()
	h.engine.Trie().Insert(k)

	ok, err = h.engine.CheckConsistency()
	require.NoError(t, err)
	assert.False(t, ok, "an extra key should be detected")
	assert.Equal(t, root, h.engine.Trie().RootHash())

	h.engine.Trie().Clear()
	require.NoError(t, h.engine.RebuildSyncTrie())
	assert.Equal(t, root, h.engine.Trie().RootHash())
	assert.Equal(t, 30, h.engine.Trie().Items())
}

func TestPeerFailureSkipsPrefix(t *testing.T) {
	key := signer(t)
	conf := Config{HashesPerFetch: 2, WalkConcurrency: 2}

	a := newTestHub(t, conf)
	b := newTestHub(t, conf)
	b.merge(t, casts(t, key, 1, 0, 40)...)

	// every timestamp of the form 00000010xx fails
	bad := []byte("00000010")
	peer := b.peer()
	peer.failMetadata = func(prefix []byte) error {
		if bytes.HasPrefix(prefix, bad) {
			return errors.New("timeout")
		}
		return nil
	}

	res, err := a.engine.DiffSync(context.Background(), peer)
	require.NoError(t, err)
	assert.Equal(t, Error, res.State)
	require.NotEmpty(t, res.FailedPrefixes)
	for _, p := range res.FailedPrefixes {
		assert.True(t, bytes.HasPrefix(p, bad), "unexpected failed prefix %q", p)
	}
	assert.True(t, res.Merged > 0, "siblings of the failed prefix should still sync")
	assert.True(t, res.Merged < 40)

	// next cycle with a healthy peer fills the gap
	peer.failMetadata = nil
	res, err = a.engine.DiffSync(context.Background(), peer)
	require.NoError(t, err)
	assert.Equal(t, Converged, res.State)
	assert.Equal(t, b.engine.Trie().RootHash(), a.engine.Trie().RootHash())
}

func TestMalformedKeysFromPeer(t *testing.T) {
	a := newTestHub(t, Config{})
	b := newTestHub(t, Config{})
	b.merge(t, casts(t, signer(t), 1, 0, 3)...)

	peer := b.peer()
	peer.corruptKeys = true

	res, err := a.engine.DiffSync(context.Background(), peer)
	require.NoError(t, err)
	assert.Equal(t, Error, res.State)
	assert.Len(t, res.FailedPrefixes, 1)
	assert.Equal(t, 0, a.engine.Trie().Items())
}

func TestCancelledSync(t *testing.T) {
	a := newTestHub(t, Config{HashesPerFetch: 1})
	b := newTestHub(t, Config{})
	b.merge(t, casts(t, signer(t), 1, 0, 10)...)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := a.engine.PerformSync(ctx, b.peer(), []byte{})
	assert.Equal(t, context.Canceled, errors.Cause(err))
	assert.Equal(t, Error, res.State)
	assert.False(t, a.engine.IsSyncing())

	// local state is still valid
	ok, err := a.engine.CheckConsistency()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSyncRejectsInvalidMessages(t *testing.T) {
	a := newTestHub(t, Config{})
	a.engine.merger = &validatingMerger{store: a.store}

	msgs := casts(t, signer(t), 1, 0, 2)

	// the text changes after signing, so the hash no longer matches
	tampered := *msgs[1]
	body := *tampered.Data.CastAddBody
	body.Text = "tampered"
	tampered.Data.CastAddBody = &body

	peer := &tamperingPeer{
		localPeer: localPeer{hub: &testHub{engine: newEngineWith(t, msgs)}},
		msgs:      msgs,
		replace:   &tampered,
	}

	res, err := a.engine.PerformSync(context.Background(), peer, []byte{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Merged)
	assert.Len(t, res.FailedPrefixes, 1)
	assert.Equal(t, Error, res.State)
	assert.Equal(t, 1, a.engine.Trie().Items())
}

type validatingMerger struct {
	store *crdt.MessageStore
}

func (v *validatingMerger) Merge(m *message.Message) (crdt.MergeResult, error) {
	if err := m.Validate(); err != nil {
		return 0, err
	}
	return v.store.Merge(m)
}

// tamperingPeer serves the keys of an engine, but returns replace in place of
// the message with the same SyncKey.
type tamperingPeer struct {
	localPeer
	msgs    []*message.Message
	replace *message.Message
}

func (p *tamperingPeer) GetMessagesByKeys(ctx context.Context, keys []message.SyncKey) ([]*message.Message, error) {
	res := []*message.Message{}
	for _, k := range keys {
		for _, m := range p.msgs {
			mk, _ := m.SyncKey()
			if !bytes.Equal(mk, k) {
				continue
			}
			if bytes.Equal(m.Hash, p.replace.Hash) {
				res = append(res, p.replace)
			} else {
				res = append(res, m)
			}
		}
	}
	return res, nil
}

func newEngineWith(t *testing.T, msgs []*message.Message) *SyncEngine {
	e := NewSyncEngine(nil, nil, Config{}, common.NewTestEntry(t, common.TestLogLevel))
	for _, m := range msgs {
		require.NoError(t, e.AddMessage(m))
	}
	return e
}
