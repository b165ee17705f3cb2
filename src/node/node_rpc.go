package node

import (
	"time"

	"github.com/mosaicnetworks/hub/src/common"
	"github.com/mosaicnetworks/hub/src/message"
	"github.com/mosaicnetworks/hub/src/net"
	"github.com/sirupsen/logrus"
)

// MaxMessagesPerRequest caps the number of keys a peer can ask for in a
// single MessagesRequest.
const MaxMessagesPerRequest = 1000

func (n *Node) processRPC(rpc net.RPC) {
	switch cmd := rpc.Command.(type) {
	case *net.SnapshotRequest:
		n.processSnapshotRequest(rpc, cmd)
	case *net.MetadataRequest:
		n.processMetadataRequest(rpc, cmd)
	case *net.KeysRequest:
		n.processKeysRequest(rpc, cmd)
	case *net.MessagesRequest:
		n.processMessagesRequest(rpc, cmd)
	default:
		n.logger.WithField("cmd", rpc.Command).Error("Unexpected RPC command")
		rpc.Respond(nil, common.NewHubErr(common.Structural, "unexpected command"))
	}
}

func checkPrefix(prefix []byte) error {
	if len(prefix) > message.SyncKeyLength {
		return common.NewHubErr(common.Structural, "prefix of %d bytes is longer than a sync key", len(prefix))
	}
	return nil
}

func (n *Node) processSnapshotRequest(rpc net.RPC, cmd *net.SnapshotRequest) {
	n.logger.WithFields(logrus.Fields{
		"from_id": cmd.FromID,
		"prefix":  string(cmd.Prefix),
	}).Debug("process SnapshotRequest")

	if err := checkPrefix(cmd.Prefix); err != nil {
		rpc.Respond(nil, err)
		return
	}

	resp := &net.SnapshotResponse{
		FromID:   n.identity.ID(),
		Snapshot: n.core.Engine().SnapshotByPrefix(cmd.Prefix),
	}

	rpc.Respond(resp, nil)
}

func (n *Node) processMetadataRequest(rpc net.RPC, cmd *net.MetadataRequest) {
	n.logger.WithFields(logrus.Fields{
		"from_id": cmd.FromID,
		"prefix":  string(cmd.Prefix),
	}).Debug("process MetadataRequest")

	if err := checkPrefix(cmd.Prefix); err != nil {
		rpc.Respond(nil, err)
		return
	}

	resp := &net.MetadataResponse{
		FromID:   n.identity.ID(),
		Metadata: n.core.Engine().GetMetadataByPrefix(cmd.Prefix),
	}

	rpc.Respond(resp, nil)
}

func (n *Node) processKeysRequest(rpc net.RPC, cmd *net.KeysRequest) {
	n.logger.WithFields(logrus.Fields{
		"from_id": cmd.FromID,
		"prefix":  string(cmd.Prefix),
	}).Debug("process KeysRequest")

	if err := checkPrefix(cmd.Prefix); err != nil {
		rpc.Respond(nil, err)
		return
	}

	resp := &net.KeysResponse{
		FromID: n.identity.ID(),
		Keys:   n.core.Engine().GetAllKeysByPrefix(cmd.Prefix),
	}

	rpc.Respond(resp, nil)
}

func (n *Node) processMessagesRequest(rpc net.RPC, cmd *net.MessagesRequest) {
	n.logger.WithFields(logrus.Fields{
		"from_id": cmd.FromID,
		"keys":    len(cmd.Keys),
	}).Debug("process MessagesRequest")

	if len(cmd.Keys) > MaxMessagesPerRequest {
		rpc.Respond(nil, common.NewHubErr(common.Structural,
			"%d keys requested, at most %d allowed", len(cmd.Keys), MaxMessagesPerRequest))
		return
	}

	start := time.Now()
	msgs, err := n.core.GetMessagesBySyncKeys(cmd.Keys)
	elapsed := time.Since(start)
	n.logger.WithField("duration", elapsed.Nanoseconds()).Debug("GetMessagesBySyncKeys()")

	if err != nil {
		n.logger.WithError(err).Error("Reading messages")
		rpc.Respond(nil, err)
		return
	}

	resp := &net.MessagesResponse{
		FromID:   n.identity.ID(),
		Messages: msgs,
	}

	rpc.Respond(resp, nil)
}
