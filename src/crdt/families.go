package crdt

import (
	"encoding/binary"

	"github.com/mosaicnetworks/hub/src/common"
	"github.com/mosaicnetworks/hub/src/message"
)

const (
	castPrefix byte = iota + 1
	reactionPrefix
	linkPrefix
	verificationPrefix
	signerPrefix
	userDataPrefix
)

func wrongBody(f MessageFamily, m *message.Message) error {
	return common.NewHubErr(common.Structural, "%s message does not carry a %s body", m.Data.Type, f.Name())
}

func uint64Bytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

/*******************************************************************************
Casts
*******************************************************************************/

type castFamily struct {
	baseFamily
}

func newCastFamily() *castFamily {
	return &castFamily{baseFamily{
		name:       "casts",
		prefix:     castPrefix,
		addType:    message.MessageTypeCastAdd,
		removeType: message.MessageTypeCastRemove,
	}}
}

// TargetKeyOf is the hash of the CastAdd.
func (f *castFamily) TargetKeyOf(m *message.Message) ([]byte, error) {
	switch m.Data.Type {
	case message.MessageTypeCastAdd:
		if len(m.Hash) != message.HashLength {
			return nil, common.NewHubErr(common.Structural, "cast hash length is %d", len(m.Hash))
		}
		return common.CopyBytes(m.Hash), nil
	case message.MessageTypeCastRemove:
		if m.Data.CastRemoveBody == nil {
			return nil, wrongBody(f, m)
		}
		return common.CopyBytes(m.Data.CastRemoveBody.TargetHash), nil
	}
	return nil, wrongBody(f, m)
}

// Compare lets a CastRemove beat a CastAdd of the same cast whatever their
// timestamps. A removed cast can never come back.
func (f *castFamily) Compare(a, b *message.Message) int {
	ra := a.Data.Type == message.MessageTypeCastRemove
	rb := b.Data.Type == message.MessageTypeCastRemove
	if ra != rb {
		if ra {
			return 1
		}
		return -1
	}
	return messageCompare(f, a, b)
}

/*******************************************************************************
Reactions
*******************************************************************************/

type reactionFamily struct {
	baseFamily
}

func newReactionFamily() *reactionFamily {
	return &reactionFamily{baseFamily{
		name:       "reactions",
		prefix:     reactionPrefix,
		addType:    message.MessageTypeReactionAdd,
		removeType: message.MessageTypeReactionRemove,
	}}
}

// TargetKeyOf is reaction type | 1 | cast fid | cast hash, or
// reaction type | 2 | url.
func (f *reactionFamily) TargetKeyOf(m *message.Message) ([]byte, error) {
	body := m.Data.ReactionBody
	if body == nil {
		return nil, wrongBody(f, m)
	}

	key := []byte{byte(body.Type)}
	switch {
	case body.TargetCastId != nil:
		key = append(key, 1)
		key = append(key, uint64Bytes(body.TargetCastId.Fid)...)
		key = append(key, body.TargetCastId.Hash...)
	case body.TargetUrl != "":
		key = append(key, 2)
		key = append(key, body.TargetUrl...)
	default:
		return nil, common.NewHubErr(common.Structural, "reaction has no target")
	}
	return key, nil
}

/*******************************************************************************
Links
*******************************************************************************/

type linkFamily struct {
	baseFamily
}

func newLinkFamily() *linkFamily {
	return &linkFamily{baseFamily{
		name:       "links",
		prefix:     linkPrefix,
		addType:    message.MessageTypeLinkAdd,
		removeType: message.MessageTypeLinkRemove,
	}}
}

// TargetKeyOf is the link type, zero padded to 8 bytes, followed by the target
// fid.
func (f *linkFamily) TargetKeyOf(m *message.Message) ([]byte, error) {
	body := m.Data.LinkBody
	if body == nil {
		return nil, wrongBody(f, m)
	}
	if len(body.Type) > 8 {
		return nil, common.NewHubErr(common.Structural, "link type %q is too long", body.Type)
	}
	key := make([]byte, 8, 16)
	copy(key, body.Type)
	return append(key, uint64Bytes(body.TargetFid)...), nil
}

/*******************************************************************************
Verifications
*******************************************************************************/

type verificationFamily struct {
	baseFamily
}

func newVerificationFamily() *verificationFamily {
	return &verificationFamily{baseFamily{
		name:       "verifications",
		prefix:     verificationPrefix,
		addType:    message.MessageTypeVerificationAdd,
		removeType: message.MessageTypeVerificationRemove,
	}}
}

// TargetKeyOf is the verified address.
func (f *verificationFamily) TargetKeyOf(m *message.Message) ([]byte, error) {
	switch {
	case m.Data.Type == message.MessageTypeVerificationAdd && m.Data.VerificationAddBody != nil:
		return common.CopyBytes(m.Data.VerificationAddBody.Address), nil
	case m.Data.Type == message.MessageTypeVerificationRemove && m.Data.VerificationRemoveBody != nil:
		return common.CopyBytes(m.Data.VerificationRemoveBody.Address), nil
	}
	return nil, wrongBody(f, m)
}

/*******************************************************************************
Signers
*******************************************************************************/

type signerFamily struct {
	baseFamily
}

func newSignerFamily() *signerFamily {
	return &signerFamily{baseFamily{
		name:       "signers",
		prefix:     signerPrefix,
		addType:    message.MessageTypeSignerAdd,
		removeType: message.MessageTypeSignerRemove,
	}}
}

// TargetKeyOf is the signer public key.
func (f *signerFamily) TargetKeyOf(m *message.Message) ([]byte, error) {
	if m.Data.SignerBody == nil {
		return nil, wrongBody(f, m)
	}
	return common.CopyBytes(m.Data.SignerBody.Signer), nil
}

/*******************************************************************************
User data
*******************************************************************************/

type userDataFamily struct {
	baseFamily
}

func newUserDataFamily() *userDataFamily {
	return &userDataFamily{baseFamily{
		name:    "userdata",
		prefix:  userDataPrefix,
		addType: message.MessageTypeUserDataAdd,
	}}
}

// TargetKeyOf is the user data type.
func (f *userDataFamily) TargetKeyOf(m *message.Message) ([]byte, error) {
	if m.Data.UserDataBody == nil {
		return nil, wrongBody(f, m)
	}
	return []byte{byte(m.Data.UserDataBody.Type)}, nil
}
