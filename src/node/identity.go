package node

import (
	"crypto/ecdsa"

	"github.com/mosaicnetworks/hub/src/crypto/keys"
)

// Identity holds the key pair a hub is known by in peers.json.
type Identity struct {
	Key     *ecdsa.PrivateKey
	Moniker string

	id       uint32
	pubBytes []byte
	pubHex   string
}

// NewIdentity is a factory method for an Identity
func NewIdentity(key *ecdsa.PrivateKey, moniker string) *Identity {
	pubBytes := keys.FromPublicKey(&key.PublicKey)
	return &Identity{
		Key:      key,
		Moniker:  moniker,
		id:       keys.PublicKeyID(pubBytes),
		pubBytes: pubBytes,
		pubHex:   keys.PublicKeyHex(&key.PublicKey),
	}
}

// ID returns the short identifier of the public key.
func (v *Identity) ID() uint32 {
	return v.id
}

// PublicKeyBytes returns the public key in uncompressed form.
func (v *Identity) PublicKeyBytes() []byte {
	return v.pubBytes
}

// PublicKeyHex returns the public key as a hex string
func (v *Identity) PublicKeyHex() string {
	return v.pubHex
}
