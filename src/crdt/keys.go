package crdt

import (
	"github.com/mosaicnetworks/hub/src/message"
)

const (
	messagePrefix byte = 0x01
	indexPrefix   byte = 0x02
	syncPrefix    byte = 0x03
	revokedPrefix byte = 0x04
)

// messageKey is messagePrefix | fid | family | tsHash.
func messageKey(fid uint64, family byte, tsHash []byte) []byte {
	key := make([]byte, 0, 10+len(tsHash))
	key = append(key, messagePrefix)
	key = append(key, uint64Bytes(fid)...)
	key = append(key, family)
	return append(key, tsHash...)
}

// fidMessagesPrefix covers every message of fid, optionally restricted to one
// family when family is non zero.
func fidMessagesPrefix(fid uint64, family byte) []byte {
	key := append([]byte{messagePrefix}, uint64Bytes(fid)...)
	if family != 0 {
		key = append(key, family)
	}
	return key
}

// indexKey is indexPrefix | fid | family | target. It points to the messageKey
// of the register's current winner.
func indexKey(fid uint64, family byte, target []byte) []byte {
	key := make([]byte, 0, 10+len(target))
	key = append(key, indexPrefix)
	key = append(key, uint64Bytes(fid)...)
	key = append(key, family)
	return append(key, target...)
}

// syncIndexKey is syncPrefix | SyncKey. It points to the messageKey of the
// message.
func syncIndexKey(syncKey message.SyncKey) []byte {
	return append([]byte{syncPrefix}, syncKey...)
}

func syncIndexPrefix() []byte {
	return []byte{syncPrefix}
}

// revokedKey is revokedPrefix | fid | family | tsHash. It holds a message whose
// signer has been removed.
func revokedKey(fid uint64, family byte, tsHash []byte) []byte {
	key := make([]byte, 0, 10+len(tsHash))
	key = append(key, revokedPrefix)
	key = append(key, uint64Bytes(fid)...)
	key = append(key, family)
	return append(key, tsHash...)
}

func revokedMessagesPrefix(fid uint64) []byte {
	return append([]byte{revokedPrefix}, uint64Bytes(fid)...)
}
