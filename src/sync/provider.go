package sync

import (
	"context"

	"github.com/mosaicnetworks/hub/src/crdt"
	"github.com/mosaicnetworks/hub/src/message"
	"github.com/mosaicnetworks/hub/src/trie"
)

// PeerProvider is the view of a remote hub needed to reconcile with it. Every
// call may block on I/O and must honour ctx.
type PeerProvider interface {
	// GetSnapshot returns the peer's snapshot along prefix.
	GetSnapshot(ctx context.Context, prefix []byte) (trie.TrieSnapshot, error)
	// GetMetadataByPrefix returns the peer's trie node at prefix. A missing
	// node is reported with zero messages and no children.
	GetMetadataByPrefix(ctx context.Context, prefix []byte) (trie.NodeMetadata, error)
	// GetAllKeysByPrefix lists the peer's keys under prefix.
	GetAllKeysByPrefix(ctx context.Context, prefix []byte) ([]message.SyncKey, error)
	// GetMessagesByKeys fetches messages. Unknown keys are skipped.
	GetMessagesByKeys(ctx context.Context, keys []message.SyncKey) ([]*message.Message, error)
}

// Merger is the entry point of fetched messages into the local replica.
type Merger interface {
	Merge(m *message.Message) (crdt.MergeResult, error)
}

// KeySource enumerates the SyncKeys of the backing store. It is used to
// rebuild the trie and to check its consistency.
type KeySource interface {
	ForEachSyncKey(fn func(key message.SyncKey) error) error
	CountSyncKeys() (int, error)
}
