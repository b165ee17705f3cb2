// Package net implements the transports used by hubs to query each other's
// sync trie and messages.
//
// This package contains implementations of the Transport interface, which is
// used by hubs to send and receive RPC requests (SnapshotRequest,
// MetadataRequest, KeysRequest and MessagesRequest). There are two
// implementations:
//
// - Inmem: in-memory transport used only for testing
//
// - TCP: communicating over plain TCP
//
// TCP
//
// Each request is framed by a byte indicating the RPC type, followed by the
// msgpack encoded request. The response is an error string followed by the
// response object. Connections are pooled per target.
//
// To use a TCP transport, set the following configuration options in the hub
// Config object (cf config package):
//
// - BindAddr: the IP:PORT of the TCP socket that the hub binds to.
//
// - AdvertiseAddr: (optional) The address that is advertised to other hubs.
// If BindAddr is a local address not reachable by other peers, it is useful
// to set AdvertiseAddr to the reachable public address.
//
// PeerClient
//
// PeerClient adapts a Transport and a target address to the PeerProvider
// interface of the sync package, so that a SyncEngine can walk the trie of a
// remote hub. Calls return as soon as their context is done, regardless of the
// transport timeout.
package net
