package message

import (
	"bytes"
	"testing"

	"github.com/mosaicnetworks/hub/src/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hashOf(b byte) []byte {
	return bytes.Repeat([]byte{b}, HashLength)
}

func TestMakeSyncKey(t *testing.T) {
	key, err := MakeSyncKey(1234, hashOf(0xab))
	require.NoError(t, err)

	assert.Len(t, key, SyncKeyLength)
	assert.Equal(t, "0000001234", string(key[:TimestampLength]))
	assert.Equal(t, uint32(1234), key.Timestamp())
	assert.Equal(t, hashOf(0xab), key.Hash())
	assert.NoError(t, key.Validate())
}

func TestMakeSyncKeyBadHash(t *testing.T) {
	_, err := MakeSyncKey(1, []byte{1, 2, 3})
	require.Error(t, err)
	assert.True(t, common.IsHubErr(err, common.Structural))
}

func TestSyncKeyMonotonic(t *testing.T) {
	h := hashOf(0xff)
	prev, _ := MakeSyncKey(9, h)
	for _, ts := range []uint32{10, 99, 100, 123456, 4294967295} {
		k, err := MakeSyncKey(ts, h)
		require.NoError(t, err)
		assert.Equal(t, -1, bytes.Compare(prev, k), "key(%d) should sort after the previous key", ts)
		prev = k
	}
}

func TestSyncKeyValidate(t *testing.T) {
	good, _ := MakeSyncKey(42, hashOf(1))

	short := SyncKey(good[:SyncKeyLength-1])
	assert.True(t, common.IsHubErr(short.Validate(), common.Structural))

	bad := SyncKey(append([]byte{}, good...))
	bad[3] = 'x'
	assert.True(t, common.IsHubErr(bad.Validate(), common.Structural))

	overflow := SyncKey(append([]byte("9999999999"), hashOf(1)...))
	assert.Error(t, overflow.Validate())
}

func TestTsHashOrder(t *testing.T) {
	h := hashOf(0x42)

	a, err := MakeTsHash(1000, h)
	require.NoError(t, err)
	b, err := MakeTsHash(1001, h)
	require.NoError(t, err)

	assert.Len(t, a, TsHashLength)
	assert.Equal(t, -1, bytes.Compare(a, b))
	assert.Equal(t, uint32(1001), TsHashTimestamp(b))

	// A later timestamp wins even against a higher hash.
	c, _ := MakeTsHash(1000, hashOf(0xff))
	assert.Equal(t, -1, bytes.Compare(c, b))

	_, err = MakeTsHash(1, h[:5])
	assert.True(t, common.IsHubErr(err, common.Structural))
}
