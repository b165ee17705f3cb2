package net

import (
	"github.com/mosaicnetworks/hub/src/message"
	"github.com/mosaicnetworks/hub/src/trie"
)

// SnapshotRequest asks a peer for the snapshot of its sync trie along Prefix.
// The requester sends the prefix of its own snapshot so that both sides
// compare the same timestamp.
type SnapshotRequest struct {
	FromID uint32
	Prefix []byte
}

// SnapshotResponse carries the excluded hashes of the responder along the
// requested prefix.
type SnapshotResponse struct {
	FromID   uint32
	Snapshot trie.TrieSnapshot
}

// MetadataRequest asks for the metadata of the trie node at Prefix.
type MetadataRequest struct {
	FromID uint32
	Prefix []byte
}

// MetadataResponse returns the node at the requested prefix and its direct
// children. A node the responder does not have comes back with no messages.
type MetadataResponse struct {
	FromID   uint32
	Metadata trie.NodeMetadata
}

// KeysRequest asks for every SyncKey under Prefix.
type KeysRequest struct {
	FromID uint32
	Prefix []byte
}

// KeysResponse lists the SyncKeys of the responder under the requested
// prefix.
type KeysResponse struct {
	FromID uint32
	Keys   []message.SyncKey
}

// MessagesRequest asks for the messages identified by Keys.
type MessagesRequest struct {
	FromID uint32
	Keys   []message.SyncKey
}

// MessagesResponse returns the messages the responder still holds for the
// requested keys. Keys evicted in the meantime are silently skipped.
type MessagesResponse struct {
	FromID   uint32
	Messages []*message.Message
}
