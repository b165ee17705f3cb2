// Package node implements the reactive component of a hub.
//
// This is the part of the hub that owns the message store and the sync trie,
// answers the queries of other hubs, and periodically reconciles with a random
// peer. Node implements a small state machine with three states: Gossiping,
// Rebuilding, and Shutdown.
//
// Gossip
//
// Hubs form a fully connected p2p network. On every heartbeat of the control
// timer, a hub picks a random peer and compares the snapshot of its sync trie
// with the peer's. When the snapshots differ, it walks the peer's trie from
// the prefix where they diverge, lists the keys it does not have, fetches the
// corresponding messages, and merges them into its store. Reconciliation is
// pull-only: every hub eventually pulls from every other hub, so all replicas
// converge.
//
// The communication mechanism is a custom RPC protocol over a network
// transport, as defined in the net package. It relies on four commands:
// Snapshot, Metadata, Keys and Messages.
//
// Messages
//
// Every message, whether submitted by a client or fetched from a peer, is
// checked by the MessageValidator before it is merged: it must belong to the
// configured network, have a well-formed body, and carry a valid hash and
// signature. Merging follows the CRDT rules of the crdt package, and every
// change to the store is reflected in the sync trie.
//
// Repair
//
// Every RepairInterval heartbeats, the node compares the number of keys in the
// sync trie with the number of messages in the store. When they disagree, the
// trie is rebuilt from the store. A rebuild can also be requested explicitly,
// in which case the node enters the Rebuilding state and stops initiating
// reconciliations until the trie is reloaded.
package node
