package sync

import (
	"bytes"
	"context"
	gosync "sync"

	"github.com/mosaicnetworks/hub/src/common"
	"github.com/mosaicnetworks/hub/src/crdt"
	"github.com/mosaicnetworks/hub/src/message"
	"github.com/mosaicnetworks/hub/src/trie"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// walk is the state of one PerformSync.
type walk struct {
	engine *SyncEngine
	peer   PeerProvider

	// cancel stops every walker after the first fatal error
	cancel context.CancelFunc

	l      gosync.Mutex
	result SyncResult
	err    error
}

func (w *walk) abort(err error) {
	w.l.Lock()
	if w.err == nil {
		w.err = err
	}
	w.l.Unlock()

	w.cancel()
}

func (w *walk) firstErr() error {
	w.l.Lock()
	defer w.l.Unlock()

	return w.err
}

func (w *walk) snapshot() SyncResult {
	w.l.Lock()
	defer w.l.Unlock()

	res := w.result
	res.FailedPrefixes = append([][]byte{}, w.result.FailedPrefixes...)
	return res
}

func (w *walk) fail(prefix []byte, err error) {
	w.l.Lock()
	w.result.FailedPrefixes = append(w.result.FailedPrefixes, common.CopyBytes(prefix))
	w.l.Unlock()

	syncPrefixFailures.Inc()

	w.engine.logger.WithFields(logrus.Fields{
		"prefix": string(prefix),
	}).WithError(err).Warn("Skipping prefix")
}

// spawn walks prefix in the group, or inline when the group is full so that
// recursive walks cannot starve each other of slots.
func (w *walk) spawn(ctx context.Context, g *errgroup.Group, prefix []byte) {
	fn := func() error {
		if err := w.fetchMissingByPrefix(ctx, g, prefix); err != nil {
			w.abort(err)
		}
		return nil
	}
	if !g.TryGo(fn) {
		fn()
	}
}

func (w *walk) fetchMissingByPrefix(ctx context.Context, g *errgroup.Group, prefix []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ours := w.engine.GetMetadataByPrefix(prefix)

	theirs, err := w.peer.GetMetadataByPrefix(ctx, prefix)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.fail(prefix, common.WrapHubErr(common.Peer, err, "fetching metadata"))
		return nil
	}

	if !bytes.Equal(theirs.Prefix, prefix) {
		w.fail(prefix, common.NewHubErr(common.Peer,
			"metadata for %q returned for prefix %q", theirs.Prefix, prefix))
		return nil
	}

	return w.fetchMissingByNode(ctx, g, theirs, ours)
}

func (w *walk) fetchMissingByNode(ctx context.Context, g *errgroup.Group, theirs, ours trie.NodeMetadata) error {
	if theirs.NumMessages == 0 || bytes.Equal(theirs.Hash, ours.Hash) {
		return nil
	}

	if theirs.NumMessages <= w.engine.conf.HashesPerFetch {
		return w.fetchAllKeys(ctx, theirs.Prefix)
	}

	ourChildren := make(map[string][]byte, len(ours.Children))
	for _, c := range ours.Children {
		ourChildren[string(c.Prefix)] = c.Hash
	}

	for _, c := range theirs.Children {
		if len(c.Prefix) != len(theirs.Prefix)+1 || !bytes.HasPrefix(c.Prefix, theirs.Prefix) {
			w.fail(theirs.Prefix, common.NewHubErr(common.Peer, "child prefix %q is not below %q", c.Prefix, theirs.Prefix))
			return nil
		}
		if bytes.Equal(ourChildren[string(c.Prefix)], c.Hash) {
			continue
		}
		w.spawn(ctx, g, c.Prefix)
	}

	return nil
}

func (w *walk) fetchAllKeys(ctx context.Context, prefix []byte) error {
	w.engine.setState(Fetching)

	keys, err := w.peer.GetAllKeysByPrefix(ctx, prefix)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.fail(prefix, common.WrapHubErr(common.Peer, err, "fetching keys"))
		return nil
	}

	missing := []message.SyncKey{}
	for _, k := range keys {
		if err := k.Validate(); err != nil {
			w.fail(prefix, common.WrapHubErr(common.Peer, err, "peer returned a malformed key"))
			return nil
		}
		if !bytes.HasPrefix(k, prefix) {
			w.fail(prefix, common.NewHubErr(common.Peer, "peer returned key %s outside of prefix", k))
			return nil
		}
		if !w.engine.Exists(k) {
			missing = append(missing, k)
		}
	}

	if len(missing) == 0 {
		return nil
	}

	return w.fetchAndMerge(ctx, prefix, missing)
}

func (w *walk) fetchAndMerge(ctx context.Context, prefix []byte, keys []message.SyncKey) error {
	msgs, err := w.peer.GetMessagesByKeys(ctx, keys)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.fail(prefix, common.WrapHubErr(common.Peer, err, "fetching messages"))
		return nil
	}

	w.engine.setState(Merging)

	merged := 0
	failed := false
	for _, m := range msgs {
		if err := ctx.Err(); err != nil {
			w.record(len(keys), merged)
			return err
		}

		res, err := w.merge(m)
		if err != nil {
			if common.IsHubErr(err, common.Structural) {
				// a bad message from the peer, not a local failure
				failed = true
				w.engine.logger.WithError(err).Debug("Rejected message from peer")
				continue
			}
			w.record(len(keys), merged)
			return err
		}
		if res == crdt.Accepted {
			merged++
		}
	}

	w.record(len(keys), merged)
	if failed {
		w.fail(prefix, common.NewHubErr(common.Peer, "peer sent invalid messages"))
	}

	w.engine.setState(Walking)
	return nil
}

func (w *walk) merge(m *message.Message) (crdt.MergeResult, error) {
	w.engine.mergeLock.Lock()
	defer w.engine.mergeLock.Unlock()

	return w.engine.merger.Merge(m)
}

func (w *walk) record(missing, merged int) {
	w.l.Lock()
	defer w.l.Unlock()

	w.result.MissingKeys += missing
	w.result.Merged += merged
}
