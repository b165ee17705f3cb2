package node

import (
	"math/rand"
	"sync"

	"github.com/mosaicnetworks/hub/src/peers"
)

// PeerSelector defines an interface for Peer Selectors
type PeerSelector interface {
	Peers() *peers.PeerSet
	UpdateLast(peer string)
	Next() *peers.Peer
}

//+++++++++++++++++++++++++++++++++++++++
//RANDOM

// RandomPeerSelector picks a random peer, other than itself, avoiding the
// peer picked last when there is a choice.
type RandomPeerSelector struct {
	sync.Mutex

	peers           *peers.PeerSet
	selfAddr        string
	selectablePeers []*peers.Peer
	last            string
}

// NewRandomPeerSelector is a factory method that returns a new instance of
// RandomPeerSelector
func NewRandomPeerSelector(peerSet *peers.PeerSet, selfAddr string) *RandomPeerSelector {
	_, selectablePeers := peers.ExcludePeer(peerSet.Peers, selfAddr)
	return &RandomPeerSelector{
		peers:           peerSet,
		selfAddr:        selfAddr,
		selectablePeers: selectablePeers,
	}
}

// Peers returns a set of peers
func (ps *RandomPeerSelector) Peers() *peers.PeerSet {
	return ps.peers
}

// UpdateLast sets the last peer
func (ps *RandomPeerSelector) UpdateLast(peer string) {
	ps.Lock()
	defer ps.Unlock()

	ps.last = peer
}

// Next returns the next peer, or nil if there is no one else.
func (ps *RandomPeerSelector) Next() *peers.Peer {
	ps.Lock()
	defer ps.Unlock()

	selectablePeers := ps.selectablePeers

	if len(selectablePeers) == 0 {
		return nil
	}

	if len(selectablePeers) > 1 {
		_, selectablePeers = peers.ExcludePeer(selectablePeers, ps.last)
	}

	i := rand.Intn(len(selectablePeers))

	peer := selectablePeers[i]

	return peer
}
