package net

// Transport provides an interface for network transports to allow a hub to
// query the sync trie and messages of other hubs.
type Transport interface {

	// Starts the transport listening
	Listen()

	// Consumer returns a channel that can be used to
	// consume and respond to RPC requests.
	Consumer() <-chan RPC

	// LocalAddr is used to return our local address
	LocalAddr() string

	// AdvertiseAddr is used to return our advertise address where other peers
	// can reach us
	AdvertiseAddr() string

	// Snapshot, Metadata, Keys, and Messages send the appropriate RPC to the
	// target hub.

	Snapshot(target string, args *SnapshotRequest, resp *SnapshotResponse) error

	Metadata(target string, args *MetadataRequest, resp *MetadataResponse) error

	Keys(target string, args *KeysRequest, resp *KeysResponse) error

	Messages(target string, args *MessagesRequest, resp *MessagesResponse) error

	// Close permanently closes a transport, stopping
	// any associated goroutines and freeing other resources.
	Close() error
}

// RPCResponse captures both a response and a potential error.
type RPCResponse struct {
	Response interface{}
	Error    error
}

// RPC is a request received by a transport. The consumer answers it once
// through Respond.
type RPC struct {
	Command  interface{}
	RespChan chan<- RPCResponse
}

// Respond is used to respond with a response, error or both.
func (r *RPC) Respond(resp interface{}, err error) {
	r.RespChan <- RPCResponse{resp, err}
}
