// Package trie implements the Merkle radix trie that indexes the SyncKeys of
// every message held by a hub.
//
// Each node caches a 160-bit BLAKE3 hash of its subtree and the number of keys
// below it. Two tries holding the same set of keys have the same structure and
// therefore the same root hash, whatever the order of the inserts and deletes
// that produced them. This is what lets two hubs compare their replicas by
// exchanging a handful of hashes.
//
// Nodes live in an arena and refer to each other by index. Below the
// timestamp prefix, a subtree holding a single key is compacted into one leaf
// which stores the whole key. Inserting a second key into such a leaf splits it
// one level at a time, and deleting down to a single key collapses it again,
// one level per return of the recursion.
package trie
