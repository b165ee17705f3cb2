package crdt

import (
	"bytes"
	"sync"

	"github.com/mosaicnetworks/hub/src/common"
	"github.com/mosaicnetworks/hub/src/message"
	"github.com/mosaicnetworks/hub/src/store"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// MergeResult is the outcome of a Merge.
type MergeResult uint8

const (
	// Accepted means the message became the current winner of its register.
	Accepted MergeResult = iota
	// Superseded means the register already holds a greater message.
	Superseded
	// Duplicate means the message is already stored.
	Duplicate
	// Revoked means the signer of the message has been removed. The message is
	// set aside, out of the registers, until the signer is added again.
	Revoked
)

func (r MergeResult) String() string {
	switch r {
	case Accepted:
		return "Accepted"
	case Superseded:
		return "Superseded"
	case Duplicate:
		return "Duplicate"
	case Revoked:
		return "Revoked"
	default:
		return "Unknown"
	}
}

// MergeListener is notified after a merge or a revocation has been committed.
// Calls for the same register never overlap.
type MergeListener interface {
	OnMerge(added *message.Message, removed []*message.Message)
}

// MessageStore holds the CRDT registers of every family.
type MessageStore struct {
	db    store.Store
	locks targetLocks

	// signerLock is held for writing while a signer register changes and the
	// messages of that signer are revoked or restored, and for reading by
	// every other merge.
	signerLock sync.RWMutex

	listenersLock sync.RWMutex
	listeners     []MergeListener

	logger *logrus.Entry
}

// NewMessageStore creates a MessageStore persisted in db.
func NewMessageStore(db store.Store, logger *logrus.Entry) *MessageStore {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}

	return &MessageStore{
		db:     db,
		logger: logger.WithField("ns", "crdt"),
	}
}

// AddListener registers l for every future merge.
func (s *MessageStore) AddListener(l MergeListener) {
	s.listenersLock.Lock()
	defer s.listenersLock.Unlock()

	s.listeners = append(s.listeners, l)
}

func (s *MessageStore) notify(added *message.Message, removed []*message.Message) {
	s.listenersLock.RLock()
	defer s.listenersLock.RUnlock()

	for _, l := range s.listeners {
		l.OnMerge(added, removed)
	}
}

// Merge resolves m against the current winner of its register. On acceptance
// the loser is evicted and m installed in one atomic batch. Losing is not an
// error.
//
// A message whose signer has been removed does not enter its register; it is
// kept aside and merged again if a SignerAdd later wins the signer register.
// The registers therefore depend on which signer messages won, not on the
// order in which they arrived.
func (s *MessageStore) Merge(m *message.Message) (MergeResult, error) {
	family, ok := FamilyFor(m.Data.Type)
	if !ok {
		return 0, common.NewHubErr(common.Structural, "no family for message type %s", m.Data.Type)
	}

	target, err := family.TargetKeyOf(m)
	if err != nil {
		return 0, err
	}

	if family.Prefix() != signerPrefix {
		s.signerLock.RLock()
		defer s.signerLock.RUnlock()

		return s.merge(family, m, target, false)
	}

	s.signerLock.Lock()
	defer s.signerLock.Unlock()

	res, err := s.merge(family, m, target, false)
	if err != nil || res != Accepted {
		return res, err
	}

	if err := s.applySigner(m.Data.Fid, target); err != nil {
		return res, errors.Wrap(err, "applying signer change")
	}

	return res, nil
}

func (s *MessageStore) merge(family MessageFamily, m *message.Message, target []byte, restoring bool) (MergeResult, error) {
	tsHash, err := m.TsHash()
	if err != nil {
		return 0, err
	}

	syncKey, err := m.SyncKey()
	if err != nil {
		return 0, err
	}

	mu := s.locks.stripe(m.Data.Fid, family.Prefix(), target)
	mu.Lock()
	defer mu.Unlock()

	res, removed, err := s.mergeLocked(family, m, target, tsHash, syncKey, restoring)
	if err != nil {
		return 0, err
	}
	if res == Accepted {
		s.notify(m, removed)
	}

	return res, nil
}

func (s *MessageStore) mergeLocked(family MessageFamily,
	m *message.Message,
	target []byte,
	tsHash []byte,
	syncKey message.SyncKey,
	restoring bool) (MergeResult, []*message.Message, error) {

	fid := m.Data.Fid
	primary := messageKey(fid, family.Prefix(), tsHash)
	revoked := revokedKey(fid, family.Prefix(), tsHash)

	batch := store.NewBatch()
	if restoring {
		batch.Delete(revoked)
	}

	// discard commits the removal of a restored message that does not make it
	// back into its register.
	discard := func(res MergeResult) (MergeResult, []*message.Message, error) {
		if batch.Len() > 0 {
			if err := s.db.Write(batch); err != nil {
				return 0, nil, err
			}
		}
		return res, nil, nil
	}

	has, err := s.db.Has(primary)
	if err != nil {
		return 0, nil, err
	}
	if has {
		return discard(Duplicate)
	}

	if family.Prefix() != signerPrefix {
		if !restoring {
			aside, err := s.db.Has(revoked)
			if err != nil {
				return 0, nil, err
			}
			if aside {
				return Duplicate, nil, nil
			}
		}

		removed, err := s.isSignerRemoved(fid, m.Signer)
		if err != nil {
			return 0, nil, err
		}
		if removed {
			raw, err := m.Marshal()
			if err != nil {
				return 0, nil, err
			}
			batch.Put(revoked, raw)
			s.logger.WithFields(logrus.Fields{
				"fid":  fid,
				"type": m.Data.Type,
				"hash": m.HashHex(),
			}).Debug("Message signed by a removed signer")
			return discard(Revoked)
		}
	}

	idx := indexKey(fid, family.Prefix(), target)

	current, currentKey, err := s.current(idx)
	if err != nil {
		return 0, nil, err
	}

	var removed []*message.Message

	if current != nil {
		if family.Compare(m, current) <= 0 {
			s.logger.WithFields(logrus.Fields{
				"fid":     fid,
				"type":    m.Data.Type,
				"hash":    m.HashHex(),
				"current": current.HashHex(),
			}).Debug("Message superseded")
			return discard(Superseded)
		}

		currentSync, err := current.SyncKey()
		if err != nil {
			return 0, nil, err
		}
		batch.Delete(currentKey)
		batch.Delete(syncIndexKey(currentSync))
		removed = append(removed, current)
	}

	raw, err := m.Marshal()
	if err != nil {
		return 0, nil, err
	}

	batch.Put(primary, raw)
	batch.Put(idx, primary)
	batch.Put(syncIndexKey(syncKey), primary)

	if err := s.db.Write(batch); err != nil {
		return 0, nil, err
	}

	return Accepted, removed, nil
}

// current loads the winner of the register at idx, if any.
func (s *MessageStore) current(idx []byte) (*message.Message, []byte, error) {
	primary, err := s.db.Get(idx)
	if common.IsStore(err, common.KeyNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	m, err := s.load(primary)
	if common.IsStore(err, common.KeyNotFound) {
		return nil, nil, common.NewHubErr(common.Corruption,
			"register %s points to missing message %s",
			common.EncodeToString(idx), common.EncodeToString(primary))
	}
	if err != nil {
		return nil, nil, err
	}

	return m, primary, nil
}

func (s *MessageStore) load(primary []byte) (*message.Message, error) {
	raw, err := s.db.Get(primary)
	if err != nil {
		return nil, err
	}
	m := new(message.Message)
	if err := m.Unmarshal(raw); err != nil {
		return nil, common.WrapHubErr(common.Corruption, err, "decoding stored message")
	}
	return m, nil
}

func (s *MessageStore) isSignerRemoved(fid uint64, signer []byte) (bool, error) {
	if len(signer) == 0 {
		return false, nil
	}
	current, _, err := s.current(indexKey(fid, signerPrefix, signer))
	if err != nil {
		return false, err
	}
	return current != nil && current.Data.Type == message.MessageTypeSignerRemove, nil
}

// applySigner revokes or restores the messages of signer after its register
// changed. Callers hold signerLock for writing.
func (s *MessageStore) applySigner(fid uint64, signer []byte) error {
	removed, err := s.isSignerRemoved(fid, signer)
	if err != nil {
		return err
	}

	var (
		n    int
		verb string
	)
	if removed {
		n, err = s.revoke(fid, signer)
		verb = "Revoked"
	} else {
		n, err = s.restore(fid, signer)
		verb = "Restored"
	}
	if err != nil {
		return err
	}

	if n > 0 {
		s.logger.WithFields(logrus.Fields{
			"fid":      fid,
			"messages": n,
		}).Debugf("%s messages of signer", verb)
	}

	return nil
}

// Revoke takes every message of fid signed by signer, except signer messages,
// out of the registers and sets it aside. Merge does this when a SignerRemove
// wins, and merges the messages back when a SignerAdd wins again. It returns
// the number of revoked messages.
func (s *MessageStore) Revoke(fid uint64, signer []byte) (int, error) {
	s.signerLock.Lock()
	defer s.signerLock.Unlock()

	return s.revoke(fid, signer)
}

func (s *MessageStore) revoke(fid uint64, signer []byte) (int, error) {
	victims, err := s.signedBy(fidMessagesPrefix(fid, 0), signer)
	if err != nil {
		return 0, err
	}

	revoked := 0
	for _, m := range victims {
		ok, err := s.revokeOne(m)
		if err != nil {
			return revoked, err
		}
		if ok {
			revoked++
		}
	}

	return revoked, nil
}

// signedBy lists the non-signer messages under prefix signed by signer.
func (s *MessageStore) signedBy(prefix []byte, signer []byte) ([]*message.Message, error) {
	res := []*message.Message{}

	err := s.db.Iterate(prefix, func(key, value []byte) error {
		if key[9] == signerPrefix {
			return nil
		}
		m := new(message.Message)
		if err := m.Unmarshal(value); err != nil {
			return common.WrapHubErr(common.Corruption, err, "decoding stored message")
		}
		if bytes.Equal(m.Signer, signer) {
			res = append(res, m)
		}
		return nil
	})

	return res, err
}

func (s *MessageStore) revokeOne(m *message.Message) (bool, error) {
	family, ok := FamilyFor(m.Data.Type)
	if !ok {
		return false, nil
	}

	target, err := family.TargetKeyOf(m)
	if err != nil {
		return false, err
	}
	tsHash, err := m.TsHash()
	if err != nil {
		return false, err
	}
	syncKey, err := m.SyncKey()
	if err != nil {
		return false, err
	}

	mu := s.locks.stripe(m.Data.Fid, family.Prefix(), target)
	mu.Lock()
	defer mu.Unlock()

	primary := messageKey(m.Data.Fid, family.Prefix(), tsHash)
	raw, err := s.db.Get(primary)
	if common.IsStore(err, common.KeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	batch := store.NewBatch()
	batch.Delete(primary)
	batch.Delete(syncIndexKey(syncKey))
	batch.Put(revokedKey(m.Data.Fid, family.Prefix(), tsHash), raw)

	idx := indexKey(m.Data.Fid, family.Prefix(), target)
	pointer, err := s.db.Get(idx)
	if err != nil && !common.IsStore(err, common.KeyNotFound) {
		return false, err
	}
	if bytes.Equal(pointer, primary) {
		batch.Delete(idx)
	}

	if err := s.db.Write(batch); err != nil {
		return false, err
	}

	s.notify(nil, []*message.Message{m})
	return true, nil
}

// restore merges back the messages of fid set aside while signer was removed.
// It returns the number of messages that won their register again.
func (s *MessageStore) restore(fid uint64, signer []byte) (int, error) {
	aside, err := s.signedBy(revokedMessagesPrefix(fid), signer)
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, m := range aside {
		family, ok := FamilyFor(m.Data.Type)
		if !ok {
			continue
		}
		target, err := family.TargetKeyOf(m)
		if err != nil {
			return restored, err
		}
		res, err := s.merge(family, m, target, true)
		if err != nil {
			return restored, err
		}
		if res == Accepted {
			restored++
		}
	}

	return restored, nil
}

// GetMessage returns the stored message of fid with the given type and
// TsHash.
func (s *MessageStore) GetMessage(fid uint64, t message.MessageType, tsHash []byte) (*message.Message, error) {
	family, ok := FamilyFor(t)
	if !ok {
		return nil, common.NewHubErr(common.Structural, "no family for message type %s", t)
	}
	return s.load(messageKey(fid, family.Prefix(), tsHash))
}

// GetMessagesByFid returns every stored message of fid, grouped by family and
// ordered by TsHash inside a family.
func (s *MessageStore) GetMessagesByFid(fid uint64) ([]*message.Message, error) {
	res := []*message.Message{}
	err := s.db.Iterate(fidMessagesPrefix(fid, 0), func(key, value []byte) error {
		m := new(message.Message)
		if err := m.Unmarshal(value); err != nil {
			return common.WrapHubErr(common.Corruption, err, "decoding stored message")
		}
		res = append(res, m)
		return nil
	})
	return res, err
}

// GetMessagesBySyncKeys returns the messages addressed by keys. Unknown keys
// are skipped.
func (s *MessageStore) GetMessagesBySyncKeys(keys []message.SyncKey) ([]*message.Message, error) {
	res := make([]*message.Message, 0, len(keys))
	for _, k := range keys {
		primary, err := s.db.Get(syncIndexKey(k))
		if common.IsStore(err, common.KeyNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}

		m, err := s.load(primary)
		if common.IsStore(err, common.KeyNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, nil
}

// ForEachSyncKey calls fn, in ascending order, with the SyncKey of every stored
// message.
func (s *MessageStore) ForEachSyncKey(fn func(key message.SyncKey) error) error {
	return s.db.Iterate(syncIndexPrefix(), func(key, value []byte) error {
		return fn(message.SyncKey(key[1:]))
	})
}

// CountSyncKeys returns the number of stored messages.
func (s *MessageStore) CountSyncKeys() (int, error) {
	return s.db.Count(syncIndexPrefix())
}
