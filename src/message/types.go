package message

import "fmt"

// MessageType enumerates the operations a user can sign.
type MessageType uint8

const (
	MessageTypeNone MessageType = iota
	MessageTypeCastAdd
	MessageTypeCastRemove
	MessageTypeReactionAdd
	MessageTypeReactionRemove
	MessageTypeLinkAdd
	MessageTypeLinkRemove
	MessageTypeVerificationAdd
	MessageTypeVerificationRemove
	MessageTypeSignerAdd
	MessageTypeSignerRemove
	MessageTypeUserDataAdd
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeCastAdd:
		return "CastAdd"
	case MessageTypeCastRemove:
		return "CastRemove"
	case MessageTypeReactionAdd:
		return "ReactionAdd"
	case MessageTypeReactionRemove:
		return "ReactionRemove"
	case MessageTypeLinkAdd:
		return "LinkAdd"
	case MessageTypeLinkRemove:
		return "LinkRemove"
	case MessageTypeVerificationAdd:
		return "VerificationAdd"
	case MessageTypeVerificationRemove:
		return "VerificationRemove"
	case MessageTypeSignerAdd:
		return "SignerAdd"
	case MessageTypeSignerRemove:
		return "SignerRemove"
	case MessageTypeUserDataAdd:
		return "UserDataAdd"
	default:
		return fmt.Sprintf("MessageType(%d)", uint8(t))
	}
}

// IsRemove reports whether the type retracts an earlier Add.
func (t MessageType) IsRemove() bool {
	switch t {
	case MessageTypeCastRemove,
		MessageTypeReactionRemove,
		MessageTypeLinkRemove,
		MessageTypeVerificationRemove,
		MessageTypeSignerRemove:
		return true
	}
	return false
}

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	return t >= MessageTypeCastAdd && t <= MessageTypeUserDataAdd
}

// ReactionType ...
type ReactionType uint8

const (
	ReactionTypeNone ReactionType = iota
	ReactionTypeLike
	ReactionTypeRecast
)

// UserDataType ...
type UserDataType uint8

const (
	UserDataTypeNone UserDataType = iota
	UserDataTypePfp
	UserDataTypeDisplay
	UserDataTypeBio
	_
	UserDataTypeUrl
	UserDataTypeUsername
)

// Network identifies the chain of hubs a message belongs to.
type Network uint8

const (
	NetworkNone Network = iota
	NetworkMainnet
	NetworkTestnet
	NetworkDevnet
)

// ParseNetwork converts a configuration string into a Network.
func ParseNetwork(s string) (Network, error) {
	switch s {
	case "mainnet":
		return NetworkMainnet, nil
	case "testnet":
		return NetworkTestnet, nil
	case "devnet":
		return NetworkDevnet, nil
	}
	return NetworkNone, fmt.Errorf("unknown network %q", s)
}

func (n Network) String() string {
	switch n {
	case NetworkMainnet:
		return "mainnet"
	case NetworkTestnet:
		return "testnet"
	case NetworkDevnet:
		return "devnet"
	default:
		return "none"
	}
}
