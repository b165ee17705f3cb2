package common

import "bytes"

// CompareBytes orders byte slices lexicographically. When one slice is a
// prefix of the other, the shorter one sorts first. Every ordering decision of
// the trie and of the CRDT registers goes through this function.
func CompareBytes(a, b []byte) int {
	return bytes.Compare(a, b)
}

// CopyBytes returns a copy of b, or nil when b is nil.
func CopyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	res := make([]byte, len(b))
	copy(res, b)
	return res
}
