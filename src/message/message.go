package message

import (
	"bytes"
	"crypto/ecdsa"

	"github.com/mosaicnetworks/hub/src/common"
	"github.com/mosaicnetworks/hub/src/crypto"
	"github.com/mosaicnetworks/hub/src/crypto/keys"
	"github.com/ugorji/go/codec"
)

const (
	maxCastTextBytes  = 320
	maxLinkTypeBytes  = 8
	maxUserDataBytes  = 256
	addressLength     = 20
	maxEmbeds         = 2
	maxMentions       = 10
	maxSignerNameSize = 32
)

// CastId identifies a cast by its author and hash.
type CastId struct {
	Fid  uint64 `codec:"fid"`
	Hash []byte `codec:"hash"`
}

// CastAddBody ...
type CastAddBody struct {
	Text         string   `codec:"text"`
	Mentions     []uint64 `codec:"mentions,omitempty"`
	Embeds       []string `codec:"embeds,omitempty"`
	ParentCastId *CastId  `codec:"parentCastId,omitempty"`
	ParentUrl    string   `codec:"parentUrl,omitempty"`
}

// CastRemoveBody ...
type CastRemoveBody struct {
	TargetHash []byte `codec:"targetHash"`
}

// ReactionBody is shared by ReactionAdd and ReactionRemove.
type ReactionBody struct {
	Type         ReactionType `codec:"type"`
	TargetCastId *CastId      `codec:"targetCastId,omitempty"`
	TargetUrl    string       `codec:"targetUrl,omitempty"`
}

// LinkBody is shared by LinkAdd and LinkRemove.
type LinkBody struct {
	Type      string `codec:"type"`
	TargetFid uint64 `codec:"targetFid"`
}

// VerificationAddBody ...
type VerificationAddBody struct {
	Address        []byte `codec:"address"`
	ClaimSignature []byte `codec:"claimSignature"`
	BlockHash      []byte `codec:"blockHash"`
}

// VerificationRemoveBody ...
type VerificationRemoveBody struct {
	Address []byte `codec:"address"`
}

// SignerBody is shared by SignerAdd and SignerRemove.
type SignerBody struct {
	Signer []byte `codec:"signer"`
	Name   string `codec:"name,omitempty"`
}

// UserDataBody ...
type UserDataBody struct {
	Type  UserDataType `codec:"type"`
	Value string       `codec:"value"`
}

// MessageData is the signed part of a message. Exactly one body is set and it
// must match Type.
type MessageData struct {
	Type      MessageType `codec:"type"`
	Fid       uint64      `codec:"fid"`
	Timestamp uint32      `codec:"timestamp"`
	Network   Network     `codec:"network"`

	CastAddBody            *CastAddBody            `codec:"castAddBody,omitempty"`
	CastRemoveBody         *CastRemoveBody         `codec:"castRemoveBody,omitempty"`
	ReactionBody           *ReactionBody           `codec:"reactionBody,omitempty"`
	LinkBody               *LinkBody               `codec:"linkBody,omitempty"`
	VerificationAddBody    *VerificationAddBody    `codec:"verificationAddBody,omitempty"`
	VerificationRemoveBody *VerificationRemoveBody `codec:"verificationRemoveBody,omitempty"`
	SignerBody             *SignerBody             `codec:"signerBody,omitempty"`
	UserDataBody           *UserDataBody           `codec:"userDataBody,omitempty"`
}

// Message is the unit replicated between hubs.
type Message struct {
	Data      MessageData `codec:"data"`
	Hash      []byte      `codec:"hash"`
	Signature string      `codec:"signature"`
	Signer    []byte      `codec:"signer"`
}

func jsonHandle() *codec.JsonHandle {
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	return jh
}

// Marshal returns the canonical json encoding of the data. It is the preimage
// of the message hash.
func (d *MessageData) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	enc := codec.NewEncoder(b, jsonHandle())
	if err := enc.Encode(d); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Hash returns the BLAKE3-160 hash of the canonical encoding.
func (d *MessageData) Hash() ([]byte, error) {
	raw, err := d.Marshal()
	if err != nil {
		return nil, err
	}
	return crypto.Blake3_160(raw), nil
}

// Marshal returns the canonical json encoding of the message.
func (m *Message) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	enc := codec.NewEncoder(b, jsonHandle())
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Unmarshal decodes a message produced by Marshal.
func (m *Message) Unmarshal(data []byte) error {
	dec := codec.NewDecoder(bytes.NewBuffer(data), jsonHandle())
	return dec.Decode(m)
}

// NewSignedMessage hashes and signs data with priv.
func NewSignedMessage(data MessageData, priv *ecdsa.PrivateKey) (*Message, error) {
	m := &Message{Data: data}
	if err := m.Sign(priv); err != nil {
		return nil, err
	}
	return m, nil
}

// Sign sets the hash, signer and signature of the message. The signature
// covers the SHA256 of the message hash.
func (m *Message) Sign(priv *ecdsa.PrivateKey) error {
	hash, err := m.Data.Hash()
	if err != nil {
		return err
	}

	r, s, err := keys.Sign(priv, crypto.SHA256(hash))
	if err != nil {
		return err
	}

	m.Hash = hash
	m.Signer = keys.FromPublicKey(&priv.PublicKey)
	m.Signature = keys.EncodeSignature(r, s)

	return nil
}

// SyncKey derives the trie key of the message.
func (m *Message) SyncKey() (SyncKey, error) {
	return MakeSyncKey(m.Data.Timestamp, m.Hash)
}

// TsHash derives the CRDT ordering key of the message.
func (m *Message) TsHash() ([]byte, error) {
	return MakeTsHash(m.Data.Timestamp, m.Hash)
}

// HashHex ...
func (m *Message) HashHex() string {
	return common.EncodeToString(m.Hash)
}

// Validate checks the structure of the message, recomputes its hash and
// verifies its signature. Every failure is a Structural HubErr.
func (m *Message) Validate() error {
	if err := m.Data.validate(); err != nil {
		return err
	}

	hash, err := m.Data.Hash()
	if err != nil {
		return common.WrapHubErr(common.Structural, err, "encoding message data")
	}
	if !bytes.Equal(hash, m.Hash) {
		return common.NewHubErr(common.Structural, "hash mismatch: expected %s, got %s",
			common.EncodeToString(hash), common.EncodeToString(m.Hash))
	}

	pub := keys.ToPublicKey(m.Signer)
	if pub == nil {
		return common.NewHubErr(common.Structural, "invalid signer")
	}

	r, s, err := keys.DecodeSignature(m.Signature)
	if err != nil {
		return common.WrapHubErr(common.Structural, err, "decoding signature")
	}

	if !keys.Verify(pub, crypto.SHA256(m.Hash), r, s) {
		return common.NewHubErr(common.Structural, "invalid signature")
	}

	return nil
}

func (d *MessageData) validate() error {
	if !d.Type.Valid() {
		return common.NewHubErr(common.Structural, "unknown message type %d", d.Type)
	}
	if d.Fid == 0 {
		return common.NewHubErr(common.Structural, "fid is missing")
	}
	if d.bodyCount() != 1 {
		return common.NewHubErr(common.Structural, "%s message must carry exactly one body", d.Type)
	}

	switch d.Type {
	case MessageTypeCastAdd:
		return validateCastAdd(d.CastAddBody)
	case MessageTypeCastRemove:
		if d.CastRemoveBody == nil {
			return missingBody(d.Type)
		}
		return validateHash(d.CastRemoveBody.TargetHash, "target hash")
	case MessageTypeReactionAdd, MessageTypeReactionRemove:
		return validateReaction(d.Type, d.ReactionBody)
	case MessageTypeLinkAdd, MessageTypeLinkRemove:
		return validateLink(d.Type, d.LinkBody)
	case MessageTypeVerificationAdd:
		if d.VerificationAddBody == nil {
			return missingBody(d.Type)
		}
		return validateAddress(d.VerificationAddBody.Address)
	case MessageTypeVerificationRemove:
		if d.VerificationRemoveBody == nil {
			return missingBody(d.Type)
		}
		return validateAddress(d.VerificationRemoveBody.Address)
	case MessageTypeSignerAdd, MessageTypeSignerRemove:
		return validateSigner(d.Type, d.SignerBody)
	case MessageTypeUserDataAdd:
		return validateUserData(d.UserDataBody)
	}

	return nil
}

func (d *MessageData) bodyCount() int {
	n := 0
	if d.CastAddBody != nil {
		n++
	}
	if d.CastRemoveBody != nil {
		n++
	}
	if d.ReactionBody != nil {
		n++
	}
	if d.LinkBody != nil {
		n++
	}
	if d.VerificationAddBody != nil {
		n++
	}
	if d.VerificationRemoveBody != nil {
		n++
	}
	if d.SignerBody != nil {
		n++
	}
	if d.UserDataBody != nil {
		n++
	}
	return n
}

func missingBody(t MessageType) error {
	return common.NewHubErr(common.Structural, "%s message has the wrong body", t)
}

func validateHash(h []byte, what string) error {
	if len(h) != HashLength {
		return common.NewHubErr(common.Structural, "%s length should be %d, not %d", what, HashLength, len(h))
	}
	return nil
}

func validateCastId(c *CastId) error {
	if c.Fid == 0 {
		return common.NewHubErr(common.Structural, "cast id fid is missing")
	}
	return validateHash(c.Hash, "cast id hash")
}

func validateCastAdd(body *CastAddBody) error {
	if body == nil {
		return missingBody(MessageTypeCastAdd)
	}
	if len(body.Text) > maxCastTextBytes {
		return common.NewHubErr(common.Structural, "cast text > %d bytes", maxCastTextBytes)
	}
	if len(body.Embeds) > maxEmbeds {
		return common.NewHubErr(common.Structural, "cast has more than %d embeds", maxEmbeds)
	}
	if len(body.Mentions) > maxMentions {
		return common.NewHubErr(common.Structural, "cast has more than %d mentions", maxMentions)
	}
	if body.ParentCastId != nil && body.ParentUrl != "" {
		return common.NewHubErr(common.Structural, "cast cannot have both a parent cast and a parent url")
	}
	if body.ParentCastId != nil {
		return validateCastId(body.ParentCastId)
	}
	return nil
}

func validateReaction(t MessageType, body *ReactionBody) error {
	if body == nil {
		return missingBody(t)
	}
	if body.Type != ReactionTypeLike && body.Type != ReactionTypeRecast {
		return common.NewHubErr(common.Structural, "unknown reaction type %d", body.Type)
	}
	if (body.TargetCastId == nil) == (body.TargetUrl == "") {
		return common.NewHubErr(common.Structural, "reaction needs exactly one of target cast or target url")
	}
	if body.TargetCastId != nil {
		return validateCastId(body.TargetCastId)
	}
	return nil
}

func validateLink(t MessageType, body *LinkBody) error {
	if body == nil {
		return missingBody(t)
	}
	if body.Type == "" || len(body.Type) > maxLinkTypeBytes {
		return common.NewHubErr(common.Structural, "link type must be 1 to %d bytes", maxLinkTypeBytes)
	}
	if body.TargetFid == 0 {
		return common.NewHubErr(common.Structural, "link target fid is missing")
	}
	return nil
}

func validateAddress(addr []byte) error {
	if len(addr) != addressLength {
		return common.NewHubErr(common.Structural, "address length should be %d, not %d", addressLength, len(addr))
	}
	return nil
}

func validateSigner(t MessageType, body *SignerBody) error {
	if body == nil {
		return missingBody(t)
	}
	if keys.ToPublicKey(body.Signer) == nil {
		return common.NewHubErr(common.Structural, "signer is not a valid public key")
	}
	if len(body.Name) > maxSignerNameSize {
		return common.NewHubErr(common.Structural, "signer name > %d bytes", maxSignerNameSize)
	}
	return nil
}

func validateUserData(body *UserDataBody) error {
	if body == nil {
		return missingBody(MessageTypeUserDataAdd)
	}
	switch body.Type {
	case UserDataTypePfp, UserDataTypeDisplay, UserDataTypeBio, UserDataTypeUrl, UserDataTypeUsername:
	default:
		return common.NewHubErr(common.Structural, "unknown user data type %d", body.Type)
	}
	if len(body.Value) > maxUserDataBytes {
		return common.NewHubErr(common.Structural, "user data value > %d bytes", maxUserDataBytes)
	}
	return nil
}
