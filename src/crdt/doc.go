// Package crdt decides which messages a hub keeps.
//
// Messages are grouped in families (casts, reactions, links, verifications,
// signers and user-data). Inside a family, every message designates a target,
// and each (fid, family, target) holds a single register: the current winning
// message. A candidate replaces the current message only if it is strictly
// greater under the family's total order, so every hub that merged the same
// messages ends up with the same registers, whatever the order of arrival.
//
// The winners are persisted in a store.Store together with an index of their
// SyncKeys. Merge listeners are told of every install and eviction, which is
// how the sync trie follows the registers.
//
// Signer messages decide which keys may sign for a fid. While a signer is
// removed, its messages are kept aside, out of the registers and the trie, and
// they are merged back if the signer is added again.
package crdt
