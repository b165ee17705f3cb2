package sync

import (
	"bytes"
	"context"
	gosync "sync"
	"time"

	"github.com/mosaicnetworks/hub/src/common"
	"github.com/mosaicnetworks/hub/src/message"
	"github.com/mosaicnetworks/hub/src/trie"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultSnapshotInterval is the granularity, in seconds, of snapshot
	// timestamps.
	DefaultSnapshotInterval uint32 = 10
	// DefaultHashesPerFetch is the size under which a peer subtree is listed
	// key by key instead of being walked.
	DefaultHashesPerFetch = 50
	// DefaultWalkConcurrency bounds the number of subtrees walked in parallel.
	DefaultWalkConcurrency = 4
)

// ErrSyncInProgress is returned when a reconciliation is requested while
// another one is running.
var ErrSyncInProgress = errors.New("sync already in progress")

// Config tunes a SyncEngine. Zero values are replaced by the defaults.
type Config struct {
	SnapshotInterval uint32
	HashesPerFetch   int
	WalkConcurrency  int
}

// SyncResult reports a reconciliation.
type SyncResult struct {
	// DivergencePrefix is the prefix the walk started from. It is nil when
	// the snapshots matched.
	DivergencePrefix []byte
	// MissingKeys counts the keys fetched from the peer.
	MissingKeys int
	// Merged counts the fetched messages accepted by the message store.
	Merged int
	// FailedPrefixes are the prefixes skipped because of a peer failure.
	// They are retried on the next reconciliation.
	FailedPrefixes [][]byte
	State          SyncState
}

// SyncEngine owns the sync trie of a hub and reconciles it with peers.
type SyncEngine struct {
	state

	trie   *trie.MerkleTrie
	merger Merger
	keys   KeySource
	conf   Config
	now    func() time.Time

	// fetched messages are merged one at a time
	mergeLock gosync.Mutex

	cancelLock gosync.Mutex
	cancel     context.CancelFunc

	logger *logrus.Entry
}

// NewSyncEngine creates an engine with an empty trie. Call RebuildSyncTrie to
// load the keys already in the store.
func NewSyncEngine(merger Merger, keys KeySource, conf Config, logger *logrus.Entry) *SyncEngine {
	if conf.SnapshotInterval == 0 {
		conf.SnapshotInterval = DefaultSnapshotInterval
	}
	if conf.HashesPerFetch <= 0 {
		conf.HashesPerFetch = DefaultHashesPerFetch
	}
	if conf.WalkConcurrency <= 0 {
		conf.WalkConcurrency = DefaultWalkConcurrency
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}

	return &SyncEngine{
		trie:   trie.NewMerkleTrie(message.TimestampLength, message.SyncKeyLength),
		merger: merger,
		keys:   keys,
		conf:   conf,
		now:    time.Now,
		logger: logger.WithField("ns", "sync"),
	}
}

// SetClock replaces the clock used by Snapshot and ShouldSync.
func (e *SyncEngine) SetClock(now func() time.Time) {
	e.now = now
}

// Trie exposes the sync trie for read access.
func (e *SyncEngine) Trie() *trie.MerkleTrie {
	return e.trie
}

// State returns the phase of the current, or last, reconciliation.
func (e *SyncEngine) State() SyncState {
	return e.getState()
}

// IsSyncing reports whether a reconciliation is running.
func (e *SyncEngine) IsSyncing() bool {
	return e.isSyncing()
}

/*******************************************************************************
Trie maintenance
*******************************************************************************/

// AddMessage inserts the key of m into the trie.
func (e *SyncEngine) AddMessage(m *message.Message) error {
	key, err := m.SyncKey()
	if err != nil {
		return err
	}
	if _, err := e.trie.Insert(key); err != nil {
		return err
	}
	trieItems.Set(float64(e.trie.Items()))
	return nil
}

// RemoveMessage deletes the key of m from the trie.
func (e *SyncEngine) RemoveMessage(m *message.Message) error {
	key, err := m.SyncKey()
	if err != nil {
		return err
	}
	if _, err := e.trie.Delete(key); err != nil {
		return err
	}
	trieItems.Set(float64(e.trie.Items()))
	return nil
}

// OnMerge implements crdt.MergeListener.
func (e *SyncEngine) OnMerge(added *message.Message, removed []*message.Message) {
	for _, m := range removed {
		if err := e.RemoveMessage(m); err != nil {
			e.logger.WithError(err).Error("Removing message from sync trie")
		}
	}
	if added != nil {
		if err := e.AddMessage(added); err != nil {
			e.logger.WithError(err).Error("Adding message to sync trie")
		}
	}
}

// RebuildSyncTrie discards the trie and reloads every key of the store.
func (e *SyncEngine) RebuildSyncTrie() error {
	start := time.Now()

	e.trie.Clear()

	err := e.keys.ForEachSyncKey(func(key message.SyncKey) error {
		_, err := e.trie.Insert(key)
		return err
	})
	if err != nil {
		return errors.Wrap(err, "rebuilding sync trie")
	}

	trieItems.Set(float64(e.trie.Items()))

	e.logger.WithFields(logrus.Fields{
		"items":    e.trie.Items(),
		"duration": time.Since(start),
	}).Info("Rebuilt sync trie")

	return nil
}

// CheckConsistency compares the number of keys in the trie with the number of
// messages in the store, and rebuilds the trie when they differ. It returns
// true if the trie was consistent.
func (e *SyncEngine) CheckConsistency() (bool, error) {
	count, err := e.keys.CountSyncKeys()
	if err != nil {
		return false, err
	}

	items := e.trie.Items()
	if items == count {
		return true, nil
	}

	e.logger.WithError(common.NewHubErr(common.Corruption,
		"sync trie holds %d keys, store holds %d", items, count)).Warn("Sync trie inconsistent")

	return false, e.RebuildSyncTrie()
}

/*******************************************************************************
Snapshots and local metadata
*******************************************************************************/

// SnapshotPrefix returns the timestamp prefix of the snapshot taken at now.
func (e *SyncEngine) SnapshotPrefix(now time.Time) ([]byte, error) {
	ts, err := message.ToFarcasterTime(now)
	if err != nil {
		return nil, err
	}
	ts -= ts % e.conf.SnapshotInterval
	return message.TimestampPrefix(ts), nil
}

// Snapshot returns the snapshot of the trie at now, coarsened to the snapshot
// interval.
func (e *SyncEngine) Snapshot(now time.Time) (trie.TrieSnapshot, error) {
	prefix, err := e.SnapshotPrefix(now)
	if err != nil {
		return trie.TrieSnapshot{}, err
	}
	return e.trie.GetSnapshot(prefix), nil
}

// SnapshotByPrefix returns the snapshot of the trie along prefix.
func (e *SyncEngine) SnapshotByPrefix(prefix []byte) trie.TrieSnapshot {
	return e.trie.GetSnapshot(prefix)
}

// GetMetadataByPrefix returns the metadata of the local node at prefix. A
// missing node has no messages and no children.
func (e *SyncEngine) GetMetadataByPrefix(prefix []byte) trie.NodeMetadata {
	md, ok := e.trie.GetTrieNodeMetadata(prefix)
	if !ok {
		return trie.NodeMetadata{
			Prefix:   common.CopyBytes(prefix),
			Hash:     common.CopyBytes(trie.EmptyHash),
			Children: []trie.NodeMetadata{},
		}
	}
	return md
}

// GetAllKeysByPrefix lists the local keys under prefix.
func (e *SyncEngine) GetAllKeysByPrefix(prefix []byte) []message.SyncKey {
	values := e.trie.GetAllValues(prefix)
	keys := make([]message.SyncKey, len(values))
	for i, v := range values {
		keys[i] = message.SyncKey(v)
	}
	return keys
}

// Exists reports whether key is in the trie.
func (e *SyncEngine) Exists(key message.SyncKey) bool {
	return e.trie.Exists(key)
}

// ShouldSync reports whether the excluded hashes of a peer differ from the
// local ones. It is false while a reconciliation is running.
func (e *SyncEngine) ShouldSync(theirExcludedHashes [][]byte) (bool, error) {
	if e.isSyncing() {
		e.logger.Debug("ShouldSync: already syncing")
		return false, nil
	}

	ours, err := e.Snapshot(e.now())
	if err != nil {
		return false, err
	}

	return !sameHashes(ours.ExcludedHashes, theirExcludedHashes), nil
}

// GetDivergencePrefix returns the prefix of ours up to, excluded, the first
// depth where the excluded hashes differ.
func (e *SyncEngine) GetDivergencePrefix(ours trie.TrieSnapshot, theirExcludedHashes [][]byte) []byte {
	for i := 0; i < len(ours.Prefix); i++ {
		if i >= len(ours.ExcludedHashes) ||
			i >= len(theirExcludedHashes) ||
			!bytes.Equal(ours.ExcludedHashes[i], theirExcludedHashes[i]) {
			return common.CopyBytes(ours.Prefix[:i])
		}
	}
	return common.CopyBytes(ours.Prefix)
}

func sameHashes(a, b [][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !bytes.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

/*******************************************************************************
Reconciliation
*******************************************************************************/

// DiffSync compares the local snapshot with the peer's and, if they differ,
// walks the peer's trie from the divergence prefix.
func (e *SyncEngine) DiffSync(ctx context.Context, peer PeerProvider) (SyncResult, error) {
	if e.isSyncing() {
		return SyncResult{State: e.getState()}, ErrSyncInProgress
	}

	e.setState(ComparingSnapshot)

	ours, err := e.Snapshot(e.now())
	if err != nil {
		e.setState(Error)
		return SyncResult{State: Error}, err
	}

	theirs, err := peer.GetSnapshot(ctx, ours.Prefix)
	if err != nil {
		e.setState(Error)
		syncPrefixFailures.Inc()
		return SyncResult{
			State:          Error,
			FailedPrefixes: [][]byte{ours.Prefix},
		}, common.WrapHubErr(common.Peer, err, "fetching peer snapshot")
	}

	if sameHashes(ours.ExcludedHashes, theirs.ExcludedHashes) {
		e.setState(Converged)
		return SyncResult{State: Converged}, nil
	}

	prefix := e.GetDivergencePrefix(ours, theirs.ExcludedHashes)

	e.logger.WithFields(logrus.Fields{
		"prefix":         string(prefix),
		"our_messages":   ours.NumMessages,
		"their_messages": theirs.NumMessages,
	}).Debug("Divergence found")

	return e.PerformSync(ctx, peer, prefix)
}

// PerformSync walks the peer's trie under each prefix and merges the messages
// missing locally. Peer failures are recorded per prefix without stopping the
// walk of sibling prefixes. Cancelling ctx, or calling CancelSync, stops the
// walk; messages merged so far stay merged.
func (e *SyncEngine) PerformSync(ctx context.Context, peer PeerProvider, prefixes ...[]byte) (SyncResult, error) {
	if !e.begin() {
		return SyncResult{State: e.getState()}, ErrSyncInProgress
	}
	defer e.end()

	syncAttempts.Inc()

	ctx, cancel := context.WithCancel(ctx)
	e.cancelLock.Lock()
	e.cancel = cancel
	e.cancelLock.Unlock()
	defer func() {
		e.cancelLock.Lock()
		e.cancel = nil
		e.cancelLock.Unlock()
		cancel()
	}()

	w := &walk{
		engine: e,
		peer:   peer,
		cancel: cancel,
	}
	if len(prefixes) > 0 {
		w.result.DivergencePrefix = common.CopyBytes(prefixes[0])
	}

	e.setState(Walking)

	g := new(errgroup.Group)
	g.SetLimit(e.conf.WalkConcurrency)

	for _, p := range prefixes {
		w.spawn(ctx, g, p)
	}

	g.Wait()
	err := w.firstErr()

	result := w.snapshot()
	syncMessagesMerged.Add(float64(result.Merged))

	if err != nil {
		result.State = Error
		e.setState(Error)
		return result, err
	}

	if len(result.FailedPrefixes) > 0 {
		result.State = Error
	} else {
		result.State = Converged
	}
	e.setState(result.State)

	e.logger.WithFields(logrus.Fields{
		"prefix":  string(result.DivergencePrefix),
		"missing": result.MissingKeys,
		"merged":  result.Merged,
		"failed":  len(result.FailedPrefixes),
	}).Debug("Sync done")

	return result, nil
}

// CancelSync stops the running reconciliation, if any.
func (e *SyncEngine) CancelSync() {
	e.cancelLock.Lock()
	defer e.cancelLock.Unlock()

	if e.cancel != nil {
		e.cancel()
	}
}
