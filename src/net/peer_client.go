package net

import (
	"context"

	"github.com/mosaicnetworks/hub/src/message"
	"github.com/mosaicnetworks/hub/src/trie"
	"github.com/pkg/errors"
)

// PeerClient queries the sync trie and messages of one remote hub. It
// implements sync.PeerProvider on top of a Transport.
type PeerClient struct {
	trans  Transport
	target string
	fromID uint32
}

// NewPeerClient returns a client for the hub listening at target. fromID
// identifies the local hub in the requests.
func NewPeerClient(trans Transport, target string, fromID uint32) *PeerClient {
	return &PeerClient{
		trans:  trans,
		target: target,
		fromID: fromID,
	}
}

// Target returns the address of the remote hub.
func (c *PeerClient) Target() string {
	return c.target
}

// GetSnapshot implements sync.PeerProvider.
func (c *PeerClient) GetSnapshot(ctx context.Context, prefix []byte) (trie.TrieSnapshot, error) {
	var out SnapshotResponse
	err := c.call(ctx, func() error {
		return c.trans.Snapshot(c.target, &SnapshotRequest{FromID: c.fromID, Prefix: prefix}, &out)
	})
	if err != nil {
		return trie.TrieSnapshot{}, errors.Wrapf(err, "snapshot from %s", c.target)
	}
	return out.Snapshot, nil
}

// GetMetadataByPrefix implements sync.PeerProvider.
func (c *PeerClient) GetMetadataByPrefix(ctx context.Context, prefix []byte) (trie.NodeMetadata, error) {
	var out MetadataResponse
	err := c.call(ctx, func() error {
		return c.trans.Metadata(c.target, &MetadataRequest{FromID: c.fromID, Prefix: prefix}, &out)
	})
	if err != nil {
		return trie.NodeMetadata{}, errors.Wrapf(err, "metadata from %s", c.target)
	}
	return out.Metadata, nil
}

// GetAllKeysByPrefix implements sync.PeerProvider.
func (c *PeerClient) GetAllKeysByPrefix(ctx context.Context, prefix []byte) ([]message.SyncKey, error) {
	var out KeysResponse
	err := c.call(ctx, func() error {
		return c.trans.Keys(c.target, &KeysRequest{FromID: c.fromID, Prefix: prefix}, &out)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "keys from %s", c.target)
	}
	return out.Keys, nil
}

// GetMessagesByKeys implements sync.PeerProvider.
func (c *PeerClient) GetMessagesByKeys(ctx context.Context, keys []message.SyncKey) ([]*message.Message, error) {
	var out MessagesResponse
	err := c.call(ctx, func() error {
		return c.trans.Messages(c.target, &MessagesRequest{FromID: c.fromID, Keys: keys}, &out)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "messages from %s", c.target)
	}
	return out.Messages, nil
}

// call runs fn, which is bounded by the transport timeout, and returns early
// when ctx is done. The response of an abandoned call is discarded.
func (c *PeerClient) call(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- fn()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
