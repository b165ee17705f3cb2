package crypto

import (
	"crypto/sha256"

	"lukechampine.com/blake3"
)

// HashLength is the size in bytes of the digests used for message hashes and
// trie node hashes.
const HashLength = 20

// Blake3_160 returns the 160-bit BLAKE3 digest of the concatenated chunks.
func Blake3_160(chunks ...[]byte) []byte {
	hasher := blake3.New(HashLength, nil)
	for _, c := range chunks {
		hasher.Write(c)
	}
	return hasher.Sum(nil)
}

// SHA256 returns the SHA256 hash of the data. Signatures are computed over the
// SHA256 of the message hash so that the signed digest fills the curve order.
func SHA256(data []byte) []byte {
	hasher := sha256.New()
	hasher.Write(data)
	return hasher.Sum(nil)
}
