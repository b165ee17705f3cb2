package peers

import (
	"github.com/mosaicnetworks/hub/src/common"
	"github.com/mosaicnetworks/hub/src/crypto/keys"
)

// Peer is a hub this hub reconciles with. A peer is identified by the public
// key of its node identity, and reached at NetAddr.
type Peer struct {
	NetAddr   string
	PubKeyHex string
	Moniker   string

	id uint32
}

// NewPeer creates a new peer.
func NewPeer(pubKeyHex, netAddr, moniker string) *Peer {
	peer := &Peer{
		PubKeyHex: pubKeyHex,
		NetAddr:   netAddr,
		Moniker:   moniker,
	}
	peer.computeID()
	return peer
}

// ID returns the 32-bit identifier derived from the peer's public key. It is
// zero if the key does not decode.
func (p *Peer) ID() uint32 {
	return p.id
}

func (p *Peer) computeID() {
	if pubKey := p.PubKeyBytes(); len(pubKey) > 0 {
		p.id = keys.PublicKeyID(pubKey)
	}
}

// PubKeyString returns the upper-case hex representation of the public key,
// with the 0X prefix.
func (p *Peer) PubKeyString() string {
	return common.EncodeToString(p.PubKeyBytes())
}

// PubKeyBytes decodes the hex public key. It returns nil on malformed input.
func (p *Peer) PubKeyBytes() []byte {
	b, err := common.DecodeFromString(p.PubKeyHex)
	if err != nil {
		return nil
	}
	return b
}

// ExcludePeer is used to exclude a single peer from a list of peers.
func ExcludePeer(peers []*Peer, peer string) (int, []*Peer) {
	index := -1
	otherPeers := make([]*Peer, 0, len(peers))
	for i, p := range peers {
		if p.NetAddr != peer {
			otherPeers = append(otherPeers, p)
		} else {
			index = i
		}
	}
	return index, otherPeers
}
