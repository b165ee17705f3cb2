// Package message defines the user-signed messages replicated by hubs and the
// keys derived from them.
//
// A Message wraps a MessageData (type, fid, timestamp and exactly one body),
// its 160-bit BLAKE3 hash and a secp256k1 signature. Timestamps are seconds
// since the Farcaster epoch (2021-01-01T00:00:00Z).
//
// Two key grammars are derived from a message:
//
//	SyncKey: 10 ASCII digits of timestamp | 20 hash bytes
//	TsHash:  4 byte big-endian timestamp  | 20 hash bytes
//
// The SyncKey addresses the message in the sync trie. Its decimal prefix makes
// "every message before time X" a subtree of the trie. The TsHash orders
// messages inside the CRDT registers.
package message
