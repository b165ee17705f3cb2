package node

import (
	"context"
	"sync"

	"github.com/mosaicnetworks/hub/src/crdt"
	"github.com/mosaicnetworks/hub/src/message"
	"github.com/mosaicnetworks/hub/src/peers"
	"github.com/mosaicnetworks/hub/src/store"
	hsync "github.com/mosaicnetworks/hub/src/sync"
	"github.com/sirupsen/logrus"
)

// Core is the core Node object. It ties the message store to the sync trie
// and decides which peer to reconcile with next.
type Core struct {

	// identity is the key pair of this hub.
	identity *Identity

	// validator filters every message before it reaches the store.
	validator *MessageValidator

	// db is the backing key-value store. It is closed with the Core.
	db store.Store

	// store holds the CRDT registers of every message family.
	store *crdt.MessageStore

	// engine owns the sync trie, which mirrors the keys of store, and
	// reconciles it with peers.
	engine *hsync.SyncEngine

	// repairLock is held for reading by every merge, and for writing while
	// the trie is checked or rebuilt from the store, so that no merge slips
	// between the scan of the store and the reload of the trie.
	repairLock sync.RWMutex

	// peers is the list of hubs this one reconciles with.
	peers *peers.PeerSet

	// peerSelector is the object that decides which peer to talk to next.
	peerSelector PeerSelector
	selectorLock sync.Mutex

	logger *logrus.Entry
}

// NewCore is a factory method that returns a new Core object. selfAddr is
// excluded from the peers selected for reconciliation.
func NewCore(
	identity *Identity,
	peers *peers.PeerSet,
	selfAddr string,
	db store.Store,
	network message.Network,
	syncConf hsync.Config,
	logger *logrus.Entry) *Core {

	core := &Core{
		identity:     identity,
		validator:    NewMessageValidator(network),
		db:           db,
		store:        crdt.NewMessageStore(db, logger),
		peers:        peers,
		peerSelector: NewRandomPeerSelector(peers, selfAddr),
		logger:       logger,
	}

	core.engine = hsync.NewSyncEngine(core, core.store, syncConf, logger)
	core.store.AddListener(core.engine)

	return core
}

// Init loads the keys of the store into the sync trie.
func (c *Core) Init() error {
	return c.Rebuild()
}

/*******************************************************************************
Messages
*******************************************************************************/

// Merge validates m and merges it into the message store. It implements
// sync.Merger, so messages fetched from peers go through the same checks as
// submitted ones.
func (c *Core) Merge(m *message.Message) (crdt.MergeResult, error) {
	if err := c.validator.Validate(m); err != nil {
		return 0, err
	}

	c.repairLock.RLock()
	defer c.repairLock.RUnlock()

	return c.store.Merge(m)
}

// SubmitMessage merges a message submitted by a client.
func (c *Core) SubmitMessage(m *message.Message) (crdt.MergeResult, error) {
	res, err := c.Merge(m)
	if err != nil {
		c.logger.WithError(err).Debug("Rejected message")
		return res, err
	}

	c.logger.WithFields(logrus.Fields{
		"hash":   m.HashHex(),
		"type":   m.Data.Type.String(),
		"fid":    m.Data.Fid,
		"result": res.String(),
	}).Debug("SubmitMessage")

	return res, nil
}

// GetMessagesBySyncKeys returns the messages stored under keys. Unknown keys
// are skipped.
func (c *Core) GetMessagesBySyncKeys(keys []message.SyncKey) ([]*message.Message, error) {
	return c.store.GetMessagesBySyncKeys(keys)
}

// GetMessagesByFid returns the current messages of a user.
func (c *Core) GetMessagesByFid(fid uint64) ([]*message.Message, error) {
	return c.store.GetMessagesByFid(fid)
}

// CountMessages returns the number of current messages in the store.
func (c *Core) CountMessages() (int, error) {
	return c.store.CountSyncKeys()
}

/*******************************************************************************
Sync trie
*******************************************************************************/

// Reconcile compares the sync trie with the peer's, and fetches the messages
// this hub is missing.
func (c *Core) Reconcile(ctx context.Context, peer hsync.PeerProvider) (hsync.SyncResult, error) {
	return c.engine.DiffSync(ctx, peer)
}

// CheckConsistency compares the sync trie with the store, and rebuilds the
// trie if they disagree. It returns true if the trie was consistent.
func (c *Core) CheckConsistency() (bool, error) {
	c.repairLock.Lock()
	defer c.repairLock.Unlock()

	return c.engine.CheckConsistency()
}

// Rebuild reloads the sync trie from the store.
func (c *Core) Rebuild() error {
	c.repairLock.Lock()
	defer c.repairLock.Unlock()

	return c.engine.RebuildSyncTrie()
}

// CancelSync stops the running reconciliation, if any.
func (c *Core) CancelSync() {
	c.engine.CancelSync()
}

// Engine returns the sync engine.
func (c *Core) Engine() *hsync.SyncEngine {
	return c.engine
}

/*******************************************************************************
Peers
*******************************************************************************/

// NextPeer returns the next peer to reconcile with, or nil if there is none.
func (c *Core) NextPeer() *peers.Peer {
	c.selectorLock.Lock()
	defer c.selectorLock.Unlock()

	return c.peerSelector.Next()
}

// UpdateLast records the last peer reconciled with.
func (c *Core) UpdateLast(peerAddr string) {
	c.selectorLock.Lock()
	defer c.selectorLock.Unlock()

	c.peerSelector.UpdateLast(peerAddr)
}

// SetPeers replaces the peer-set and the peer selector.
func (c *Core) SetPeers(ps *peers.PeerSet, selfAddr string) {
	c.selectorLock.Lock()
	defer c.selectorLock.Unlock()

	c.peers = ps
	c.peerSelector = NewRandomPeerSelector(ps, selfAddr)
}

// Peers returns the current peer-set.
func (c *Core) Peers() *peers.PeerSet {
	c.selectorLock.Lock()
	defer c.selectorLock.Unlock()

	return c.peers
}

// Close closes the backing store.
func (c *Core) Close() error {
	return c.db.Close()
}
