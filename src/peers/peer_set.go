package peers

import (
	"bytes"
	"encoding/json"

	"github.com/mosaicnetworks/hub/src/common"
	"github.com/mosaicnetworks/hub/src/crypto"
)

// PeerSet is an immutable set of peers. Methods that change membership return
// a new PeerSet.
type PeerSet struct {
	Peers    []*Peer          `json:"peers"`
	ByPubKey map[string]*Peer `json:"-"`
	ByID     map[uint32]*Peer `json:"-"`
	ByAddr   map[string]*Peer `json:"-"`

	// cached
	hash []byte
}

/* Constructors */

// NewPeerSet creates a new PeerSet from a list of Peers. Later duplicates of a
// public key are dropped.
func NewPeerSet(peers []*Peer) *PeerSet {
	peerSet := &PeerSet{
		Peers:    make([]*Peer, 0, len(peers)),
		ByPubKey: make(map[string]*Peer),
		ByID:     make(map[uint32]*Peer),
		ByAddr:   make(map[string]*Peer),
	}

	for _, peer := range peers {
		peer.computeID()

		key := peer.PubKeyString()
		if _, ok := peerSet.ByPubKey[key]; ok {
			continue
		}

		peerSet.ByPubKey[key] = peer
		peerSet.ByID[peer.ID()] = peer
		peerSet.ByAddr[peer.NetAddr] = peer
		peerSet.Peers = append(peerSet.Peers, peer)
	}

	return peerSet
}

// NewPeerSetFromPeerSliceBytes creates a new PeerSet from a JSON encoded slice
// of peers.
func NewPeerSetFromPeerSliceBytes(peerSliceBytes []byte) (*PeerSet, error) {
	peers := []*Peer{}

	dec := json.NewDecoder(bytes.NewReader(peerSliceBytes))
	if err := dec.Decode(&peers); err != nil {
		return nil, err
	}

	return NewPeerSet(peers), nil
}

// WithNewPeer returns a new PeerSet with a list of peers including the new one.
func (peerSet *PeerSet) WithNewPeer(peer *Peer) *PeerSet {
	peers := append([]*Peer{}, peerSet.Peers...)
	peers = append(peers, peer)
	return NewPeerSet(peers)
}

// WithRemovedPeer returns a new PeerSet with a list of peers excluding the
// provided one.
func (peerSet *PeerSet) WithRemovedPeer(peer *Peer) *PeerSet {
	peers := []*Peer{}
	for _, p := range peerSet.Peers {
		if p.PubKeyString() != peer.PubKeyString() {
			peers = append(peers, p)
		}
	}
	return NewPeerSet(peers)
}

/* ToSlice Methods */

// PubKeys returns the PeerSet's slice of public keys
func (peerSet *PeerSet) PubKeys() []string {
	res := []string{}

	for _, peer := range peerSet.Peers {
		res = append(res, peer.PubKeyString())
	}

	return res
}

// IDs returns the PeerSet's slice of IDs
func (peerSet *PeerSet) IDs() []uint32 {
	res := []uint32{}

	for _, peer := range peerSet.Peers {
		res = append(res, peer.ID())
	}

	return res
}

/* Utilities */

// Len returns the number of Peers in the PeerSet
func (peerSet *PeerSet) Len() int {
	return len(peerSet.Peers)
}

// Hash identifies a PeerSet. It is the BLAKE3-160 hash of the public keys of
// its peers, in order.
func (peerSet *PeerSet) Hash() []byte {
	if len(peerSet.hash) == 0 {
		chunks := make([][]byte, 0, len(peerSet.Peers))
		for _, p := range peerSet.Peers {
			chunks = append(chunks, p.PubKeyBytes())
		}
		peerSet.hash = crypto.Blake3_160(chunks...)
	}
	return peerSet.hash
}

// Hex is the hexadecimal representation of Hash
func (peerSet *PeerSet) Hex() string {
	return common.EncodeToString(peerSet.Hash())
}

// Marshal encodes the peers of the set as a JSON list.
func (peerSet *PeerSet) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(peerSet.Peers); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
