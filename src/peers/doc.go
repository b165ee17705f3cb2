// Package peers defines the concept of a hub peer and implements functions to
// manage collections of peers.
//
// A peer is another hub this hub reconciles its replica with. Peers are
// identified by their public keys, and optionally a moniker which is a
// non-unique user-friendly name. A peer also specifies the IP address and port
// where its RPC transport can be reached.
//
// Upon starting up, a hub expects to find a peers.json file in its data
// directory, listing the peers it should reconcile with. The list is static
// for the lifetime of the process.
package peers
