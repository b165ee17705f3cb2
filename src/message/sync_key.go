package message

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/mosaicnetworks/hub/src/common"
	"github.com/mosaicnetworks/hub/src/crypto"
)

const (
	// TimestampLength is the number of decimal digits in the timestamp prefix
	// of a SyncKey. Trie compaction never happens inside this prefix.
	TimestampLength = 10
	// HashLength is the size of message hashes.
	HashLength = crypto.HashLength
	// SyncKeyLength is the fixed size of every SyncKey.
	SyncKeyLength = TimestampLength + HashLength
	// TsHashLength is the fixed size of every TsHash.
	TsHashLength = 4 + HashLength
)

// SyncKey addresses a message in the sync trie.
type SyncKey []byte

// MakeSyncKey encodes timestamp as a zero-padded decimal followed by the raw
// hash bytes.
func MakeSyncKey(timestamp uint32, hash []byte) (SyncKey, error) {
	if len(hash) != HashLength {
		return nil, common.NewHubErr(common.Structural,
			"hash length should be %d, not %d", HashLength, len(hash))
	}
	key := make([]byte, 0, SyncKeyLength)
	key = append(key, TimestampPrefix(timestamp)...)
	key = append(key, hash...)
	return SyncKey(key), nil
}

// TimestampPrefix returns the 10-digit decimal prefix of timestamp.
func TimestampPrefix(timestamp uint32) []byte {
	return []byte(fmt.Sprintf("%0*d", TimestampLength, timestamp))
}

// Validate checks the length and the timestamp digits of the key.
func (k SyncKey) Validate() error {
	if len(k) != SyncKeyLength {
		return common.NewHubErr(common.Structural,
			"sync key length should be %d, not %d", SyncKeyLength, len(k))
	}
	for i := 0; i < TimestampLength; i++ {
		if k[i] < '0' || k[i] > '9' {
			return common.NewHubErr(common.Structural,
				"sync key timestamp has non digit %q at %d", k[i], i)
		}
	}
	if _, err := strconv.ParseUint(string(k[:TimestampLength]), 10, 32); err != nil {
		return common.WrapHubErr(common.Structural, err, "sync key timestamp")
	}
	return nil
}

// Timestamp decodes the timestamp prefix. The key must be valid.
func (k SyncKey) Timestamp() uint32 {
	ts, _ := strconv.ParseUint(string(k[:TimestampLength]), 10, 32)
	return uint32(ts)
}

// Hash returns the message hash part of the key. The key must be valid.
func (k SyncKey) Hash() []byte {
	return []byte(k[TimestampLength:])
}

// String renders the timestamp in decimal and the hash in hex.
func (k SyncKey) String() string {
	if len(k) < TimestampLength {
		return common.EncodeToString(k)
	}
	return string(k[:TimestampLength]) + ":" + common.EncodeToString(k[TimestampLength:])
}

// MakeTsHash encodes timestamp as 4 big-endian bytes followed by hash, so that
// byte comparison orders by timestamp first and hash second.
func MakeTsHash(timestamp uint32, hash []byte) ([]byte, error) {
	if len(hash) != HashLength {
		return nil, common.NewHubErr(common.Structural,
			"hash length should be %d, not %d", HashLength, len(hash))
	}
	buf := make([]byte, TsHashLength)
	binary.BigEndian.PutUint32(buf, timestamp)
	copy(buf[4:], hash)
	return buf, nil
}

// TsHashTimestamp decodes the timestamp of a TsHash.
func TsHashTimestamp(tsHash []byte) uint32 {
	return binary.BigEndian.Uint32(tsHash[:4])
}
