// Package sync reconciles the local replica with remote hubs.
//
// The SyncEngine keeps a trie of the SyncKeys of every stored message, in step
// with the CRDT registers through a merge listener. A reconciliation compares
// the snapshot of the local trie with the snapshot of a peer, locates the
// first depth where their excluded hashes differ, then walks the peer's trie
// from there: subtrees whose hashes match are skipped, small subtrees are
// listed key by key, and keys missing locally are fetched and merged one
// message at a time.
//
// Snapshots are taken at the current time floored to SnapshotInterval seconds,
// so that two hubs comparing within the same interval use the same prefix.
//
//	Idle -> ComparingSnapshot -> Converged
//	                          -> Walking -> Fetching -> Merging -> Walking ...
//	                                                            -> Converged
//	any state -> Error (peer failure or cancellation)
package sync
