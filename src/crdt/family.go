package crdt

import (
	"bytes"

	"github.com/mosaicnetworks/hub/src/message"
)

// MessageFamily groups the Add and Remove messages that compete for the same
// targets.
type MessageFamily interface {
	// Name is used in logs.
	Name() string
	// Prefix identifies the family in store keys.
	Prefix() byte
	AddType() message.MessageType
	// RemoveType is MessageTypeNone for add-only families.
	RemoveType() message.MessageType
	Handles(t message.MessageType) bool
	// TargetKeyOf returns the register a message competes for. The fid is not
	// part of the target.
	TargetKeyOf(m *message.Message) ([]byte, error)
	// Compare orders two messages of the same target. The greater one wins.
	Compare(a, b *message.Message) int
	// TypeTiebreak orders two messages with equal timestamp and hash.
	TypeTiebreak(a, b *message.Message) int
}

type baseFamily struct {
	name       string
	prefix     byte
	addType    message.MessageType
	removeType message.MessageType
}

func (f *baseFamily) Name() string {
	return f.name
}

func (f *baseFamily) Prefix() byte {
	return f.prefix
}

func (f *baseFamily) AddType() message.MessageType {
	return f.addType
}

func (f *baseFamily) RemoveType() message.MessageType {
	return f.removeType
}

func (f *baseFamily) Handles(t message.MessageType) bool {
	return t == f.addType || (f.removeType != message.MessageTypeNone && t == f.removeType)
}

// TypeTiebreak makes a Remove beat an Add.
func (f *baseFamily) TypeTiebreak(a, b *message.Message) int {
	ra := a.Data.Type == f.removeType
	rb := b.Data.Type == f.removeType
	switch {
	case ra == rb:
		return 0
	case ra:
		return 1
	default:
		return -1
	}
}

func (f *baseFamily) Compare(a, b *message.Message) int {
	return messageCompare(f, a, b)
}

type typeTiebreaker interface {
	TypeTiebreak(a, b *message.Message) int
}

// messageCompare is the default total order: timestamp, then hash, then the
// family's type tiebreak.
func messageCompare(f typeTiebreaker, a, b *message.Message) int {
	if a.Data.Timestamp != b.Data.Timestamp {
		if a.Data.Timestamp > b.Data.Timestamp {
			return 1
		}
		return -1
	}
	if c := bytes.Compare(a.Hash, b.Hash); c != 0 {
		return c
	}
	return f.TypeTiebreak(a, b)
}

var allFamilies = []MessageFamily{
	newCastFamily(),
	newReactionFamily(),
	newLinkFamily(),
	newVerificationFamily(),
	newSignerFamily(),
	newUserDataFamily(),
}

// Families returns every message family.
func Families() []MessageFamily {
	return allFamilies
}

// FamilyFor returns the family handling t.
func FamilyFor(t message.MessageType) (MessageFamily, bool) {
	for _, f := range allFamilies {
		if f.Handles(t) {
			return f, true
		}
	}
	return nil, false
}

// FamilyByPrefix returns the family stored under prefix p.
func FamilyByPrefix(p byte) (MessageFamily, bool) {
	for _, f := range allFamilies {
		if f.Prefix() == p {
			return f, true
		}
	}
	return nil, false
}
