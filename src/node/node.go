package node

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/mosaicnetworks/hub/src/common"
	"github.com/mosaicnetworks/hub/src/config"
	"github.com/mosaicnetworks/hub/src/crdt"
	"github.com/mosaicnetworks/hub/src/message"
	"github.com/mosaicnetworks/hub/src/net"
	"github.com/mosaicnetworks/hub/src/peers"
	"github.com/mosaicnetworks/hub/src/store"
	hsync "github.com/mosaicnetworks/hub/src/sync"
	"github.com/mosaicnetworks/hub/src/trie"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Node defines a hub
type Node struct {
	state

	conf   *config.Config
	logger *logrus.Entry

	identity *Identity

	core *Core

	trans net.Transport
	netCh <-chan net.RPC

	sigintCh   chan os.Signal
	shutdownCh chan struct{}
	rebuildCh  chan struct{}

	// ctx is cancelled on Shutdown to abort running reconciliations.
	ctx    context.Context
	cancel context.CancelFunc

	controlTimer *ControlTimer
	shutdownOnce sync.Once

	start          time.Time
	ticks          int
	syncRequests   uint64
	syncErrors     uint64
	messagesMerged uint64
	lastSyncState  uint32
}

// NewNode is a factory method that returns a Node instance
func NewNode(conf *config.Config,
	identity *Identity,
	peers *peers.PeerSet,
	db store.Store,
	trans net.Transport,
) (*Node, error) {

	network, err := conf.ParsedNetwork()
	if err != nil {
		return nil, err
	}

	// Prepare sigintCh to relay SIGINT system calls
	sigintCh := make(chan os.Signal, 1)
	signal.Notify(sigintCh, os.Interrupt, syscall.SIGINT)

	logger := conf.Logger().WithField("this_id", identity.ID())

	ctx, cancel := context.WithCancel(context.Background())

	node := Node{
		conf:     conf,
		logger:   logger,
		identity: identity,
		core: NewCore(identity,
			peers,
			trans.AdvertiseAddr(),
			db,
			network,
			conf.SyncConfig(),
			logger),
		trans:         trans,
		netCh:         trans.Consumer(),
		sigintCh:      sigintCh,
		shutdownCh:    make(chan struct{}),
		rebuildCh:     make(chan struct{}, 1),
		ctx:           ctx,
		cancel:        cancel,
		controlTimer:  NewRandomControlTimer(),
		start:         time.Now(),
		lastSyncState: uint32(hsync.Idle),
	}

	return &node, nil
}

// Init loads the sync trie from the store and puts the node in the Gossiping
// state.
func (n *Node) Init() error {
	if err := n.core.Init(); err != nil {
		n.logger.WithError(err).Error("Loading sync trie")
		return err
	}

	n.logger.WithField("peers", n.core.Peers().Len()).Debug("Init")

	n.setState(Gossiping)

	return nil
}

// RunAsync calls Run as a separate thread
func (n *Node) RunAsync(gossip bool) {
	n.logger.WithField("gossip", gossip).Debug("runasync")

	go n.Run(gossip)
}

// Run invokes the main loop of the node. If gossip is false, the node answers
// the queries of other hubs but never starts a reconciliation itself.
func (n *Node) Run(gossip bool) {
	go n.trans.Listen()

	go n.controlTimer.Run(n.conf.HeartbeatTimeout)

	// Serve RPCs regardless of the state of the node.
	go n.doBackgroundWork()

	// Execute Node State Machine
	for {
		state := n.getState()

		n.logger.WithField("state", state.String()).Debug("Run loop")

		switch state {
		case Gossiping:
			n.gossip(gossip)
		case Rebuilding:
			n.rebuild()
		case Shutdown:
			return
		}
	}
}

// resetTimer arms the control timer for the next heartbeat, unless it is
// already armed.
func (n *Node) resetTimer() {
	if n.controlTimer.set.Load() {
		return
	}

	select {
	case n.controlTimer.resetCh <- n.conf.HeartbeatTimeout:
	case <-n.shutdownCh:
	}
}

func (n *Node) doBackgroundWork() {
	for {
		select {
		case rpc := <-n.netCh:
			if !n.goFunc(func() { n.processRPC(rpc) }) {
				n.processRPC(rpc)
			}
		case <-n.shutdownCh:
			return
		case <-n.sigintCh:
			n.logger.Debug("Reacting to SIGINT - SHUTDOWN")
			n.Shutdown()
			os.Exit(0)
		}
	}
}

// gossip starts a reconciliation with a random peer on every heartbeat, and
// checks the sync trie against the store every RepairInterval heartbeats.
func (n *Node) gossip(gossip bool) {
	n.logger.Debug("GOSSIPING")

	for {
		select {
		case <-n.controlTimer.tickCh:
			if gossip {
				peer := n.core.NextPeer()
				if peer != nil {
					if !n.goFunc(func() { n.reconcile(peer) }) {
						n.logger.Debug("Too many routines, skipping heartbeat")
					}
				}
			}

			n.ticks++
			if n.conf.RepairInterval > 0 && n.ticks%n.conf.RepairInterval == 0 {
				n.checkConsistency()
			}

			n.resetTimer()
		case <-n.rebuildCh:
			n.setState(Rebuilding)
			return
		case <-n.shutdownCh:
			return
		}
	}
}

// rebuild enacts "Rebuilding"
func (n *Node) rebuild() {
	n.logger.Debug("REBUILDING")

	n.core.CancelSync()

	start := time.Now()
	err := n.core.Rebuild()
	elapsed := time.Since(start)
	n.logger.WithField("duration", elapsed.Nanoseconds()).Debug("Rebuild()")
	if err != nil {
		n.logger.WithError(err).Error("Rebuilding sync trie")
	}

	// Shutdown may have been called in the meantime
	if n.getState() == Rebuilding {
		n.setState(Gossiping)
	}
}

// Rebuild asks the node to reload its sync trie from the store. The request
// is served asynchronously by the main loop.
func (n *Node) Rebuild() {
	select {
	case n.rebuildCh <- struct{}{}:
	default:
	}
}

// checkConsistency returns true if the sync trie agreed with the store. When
// it did not, the trie has been rebuilt.
func (n *Node) checkConsistency() bool {
	ok, err := n.core.CheckConsistency()
	if err != nil {
		n.logger.WithError(err).Error("Checking sync trie consistency")
		return false
	}

	if !ok {
		n.logger.Warn("Sync trie was rebuilt")
	}

	return ok
}

// reconcile performs a reconciliation with the selected peer.
func (n *Node) reconcile(peer *peers.Peer) error {
	if n.core.Engine().IsSyncing() {
		n.logger.Debug("Reconciliation in progress, skipping")
		return nil
	}

	ctx, cancel := context.WithTimeout(n.ctx, n.conf.SyncTimeout)
	defer cancel()

	client := net.NewPeerClient(n.trans, peer.NetAddr, n.identity.ID())

	atomic.AddUint64(&n.syncRequests, 1)

	start := time.Now()
	result, err := n.core.Reconcile(ctx, client)
	elapsed := time.Since(start)
	n.logger.WithField("duration", elapsed.Nanoseconds()).Debug("Reconcile()")

	atomic.StoreUint32(&n.lastSyncState, uint32(result.State))
	atomic.AddUint64(&n.messagesMerged, uint64(result.Merged))

	if err != nil {
		if errors.Cause(err) == hsync.ErrSyncInProgress {
			return nil
		}

		atomic.AddUint64(&n.syncErrors, 1)

		entry := n.logger.WithField("peer", peer.NetAddr).WithError(err)
		if common.IsHubErr(err, common.Peer) || errors.Cause(err) == context.Canceled {
			entry.Debug("Reconcile")
		} else {
			entry.Error("Reconcile")
		}
		return err
	}

	if len(result.FailedPrefixes) > 0 {
		atomic.AddUint64(&n.syncErrors, 1)
	}

	n.logger.WithFields(logrus.Fields{
		"peer":    peer.NetAddr,
		"state":   result.State.String(),
		"prefix":  string(result.DivergencePrefix),
		"missing": result.MissingKeys,
		"merged":  result.Merged,
		"failed":  len(result.FailedPrefixes),
	}).Debug("SyncResult")

	n.core.UpdateLast(peer.NetAddr)

	n.logStats()

	return nil
}

// SubmitMessage validates a message from a client and merges it into the
// store.
func (n *Node) SubmitMessage(m *message.Message) (crdt.MergeResult, error) {
	if n.getState() == Shutdown {
		return 0, errors.New("hub is shut down")
	}
	return n.core.SubmitMessage(m)
}

// Shutdown shuts down the node
func (n *Node) Shutdown() {
	n.shutdownOnce.Do(func() {
		n.logger.Debug("Shutdown")

		// Exit any non-shutdown state immediately
		n.setState(Shutdown)

		// Abort reconciliations, then stop and wait for concurrent operations
		n.cancel()
		close(n.shutdownCh)

		n.waitRoutines()

		n.controlTimer.Shutdown()

		signal.Stop(n.sigintCh)

		// transport and store should only be closed once all concurrent
		// operations are finished
		n.trans.Close()

		if err := n.core.Close(); err != nil {
			n.logger.WithError(err).Error("Closing store")
		}
	})
}

// GetStats returns stats
func (n *Node) GetStats() map[string]string {
	timeElapsed := time.Since(n.start)

	messages, err := n.core.CountMessages()
	if err != nil {
		n.logger.WithError(err).Error("Counting messages")
	}

	t := n.core.Engine().Trie()

	s := map[string]string{
		"id":              fmt.Sprint(n.identity.ID()),
		"moniker":         n.identity.Moniker,
		"state":           n.getState().String(),
		"sync_state":      hsync.SyncState(atomic.LoadUint32(&n.lastSyncState)).String(),
		"trie_items":      strconv.Itoa(t.Items()),
		"root_hash":       common.EncodeToString(t.RootHash()),
		"messages":        strconv.Itoa(messages),
		"num_peers":       strconv.Itoa(n.core.Peers().Len()),
		"sync_requests":   strconv.FormatUint(atomic.LoadUint64(&n.syncRequests), 10),
		"sync_errors":     strconv.FormatUint(atomic.LoadUint64(&n.syncErrors), 10),
		"sync_rate":       strconv.FormatFloat(n.SyncRate(), 'f', 2, 64),
		"messages_merged": strconv.FormatUint(atomic.LoadUint64(&n.messagesMerged), 10),
		"time_elapsed":    strconv.FormatFloat(timeElapsed.Seconds(), 'f', 2, 64),
	}
	return s
}

func (n *Node) logStats() {
	stats := n.GetStats()

	n.logger.WithFields(logrus.Fields{
		"state":           stats["state"],
		"sync_state":      stats["sync_state"],
		"trie_items":      stats["trie_items"],
		"root_hash":       stats["root_hash"],
		"num_peers":       stats["num_peers"],
		"sync_rate":       stats["sync_rate"],
		"messages_merged": stats["messages_merged"],
		"id":              stats["id"],
		"moniker":         stats["moniker"],
	}).Debug("Stats")
}

// SyncRate returns the share of reconciliations that completed without error
func (n *Node) SyncRate() float64 {
	var syncErrorRate float64

	requests := atomic.LoadUint64(&n.syncRequests)
	if requests != 0 {
		syncErrorRate = float64(atomic.LoadUint64(&n.syncErrors)) / float64(requests)
	}

	return 1 - syncErrorRate
}

// GetState returns the state of the node
func (n *Node) GetState() State {
	return n.getState()
}

// ID returns the short identifier of the hub's public key
func (n *Node) ID() uint32 {
	return n.identity.ID()
}

// GetPeers returns the peers
func (n *Node) GetPeers() []*peers.Peer {
	return n.core.Peers().Peers
}

// GetSnapshot returns the snapshot of the sync trie along prefix.
func (n *Node) GetSnapshot(prefix []byte) trie.TrieSnapshot {
	return n.core.Engine().SnapshotByPrefix(prefix)
}

// GetCurrentSnapshot returns the snapshot exchanged with peers at the start of
// a reconciliation.
func (n *Node) GetCurrentSnapshot() (trie.TrieSnapshot, error) {
	return n.core.Engine().Snapshot(time.Now())
}

// GetMetadata returns the sync trie node at prefix.
func (n *Node) GetMetadata(prefix []byte) trie.NodeMetadata {
	return n.core.Engine().GetMetadataByPrefix(prefix)
}

// GetKeys lists the keys of the sync trie under prefix.
func (n *Node) GetKeys(prefix []byte) []message.SyncKey {
	return n.core.Engine().GetAllKeysByPrefix(prefix)
}

// Exists reports whether key is in the sync trie.
func (n *Node) Exists(key message.SyncKey) bool {
	return n.core.Engine().Exists(key)
}

// GetMessagesByFid returns the current messages of a user.
func (n *Node) GetMessagesByFid(fid uint64) ([]*message.Message, error) {
	return n.core.GetMessagesByFid(fid)
}

// GetMessagesBySyncKeys returns the messages stored under keys.
func (n *Node) GetMessagesBySyncKeys(keys []message.SyncKey) ([]*message.Message, error) {
	return n.core.GetMessagesBySyncKeys(keys)
}
