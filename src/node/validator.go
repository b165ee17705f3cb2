package node

import (
	"github.com/mosaicnetworks/hub/src/common"
	"github.com/mosaicnetworks/hub/src/message"
)

// MessageValidator checks the messages entering the hub, whether they are
// submitted by a client or fetched from a peer.
type MessageValidator struct {
	network message.Network
}

// NewMessageValidator creates a MessageValidator that only accepts messages of
// network.
func NewMessageValidator(network message.Network) *MessageValidator {
	return &MessageValidator{
		network: network,
	}
}

// Network returns the network accepted by the validator.
func (v *MessageValidator) Network() message.Network {
	return v.network
}

// Validate returns a Structural HubErr if m belongs to another network, is
// malformed, or does not carry a valid hash and signature.
func (v *MessageValidator) Validate(m *message.Message) error {
	if m == nil {
		return common.NewHubErr(common.Structural, "nil message")
	}

	if m.Data.Network != v.network {
		return common.NewHubErr(common.Structural, "message belongs to network %s, not %s",
			m.Data.Network, v.network)
	}

	return m.Validate()
}
