// Package hub wires the components of a hub together from a Config: key,
// peers, store, transport, node and HTTP service.
package hub

import (
	"crypto/ecdsa"
	"os"

	"github.com/mosaicnetworks/hub/src/config"
	"github.com/mosaicnetworks/hub/src/crypto/keys"
	"github.com/mosaicnetworks/hub/src/net"
	"github.com/mosaicnetworks/hub/src/node"
	"github.com/mosaicnetworks/hub/src/peers"
	"github.com/mosaicnetworks/hub/src/service"
	"github.com/mosaicnetworks/hub/src/store"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Hub is a complete hub process.
type Hub struct {
	Config    *config.Config
	Node      *node.Node
	Transport net.Transport
	Store     store.Store
	Peers     *peers.PeerSet
	Service   *service.Service
	logger    *logrus.Entry
}

// NewHub is a factory method that returns a Hub. Call Init before Run.
func NewHub(c *config.Config) *Hub {
	return &Hub{
		Config: c,
		logger: c.Logger(),
	}
}

func (h *Hub) initKey() error {
	if h.Config.Key != nil {
		return nil
	}

	keyfile := keys.NewSimpleKeyfile(h.Config.Keyfile())

	privKey, err := keyfile.ReadKey()
	if err != nil {
		h.logger.WithError(err).Warn("Cannot read private key from file")

		privKey, err = Keygen(h.Config.Keyfile())
		if err != nil {
			h.logger.WithError(err).Error("Cannot generate a new private key")
			return err
		}

		h.logger.WithField("public_key", keys.PublicKeyHex(&privKey.PublicKey)).Info("Created a new key")
	}

	h.Config.Key = privKey

	return nil
}

func (h *Hub) initPeers() error {
	jsonPeerSet := peers.NewJSONPeerSet(h.Config.DataDir)

	peerSet, err := jsonPeerSet.PeerSet()
	if err != nil {
		if !os.IsNotExist(errors.Cause(err)) {
			return errors.Wrapf(err, "reading %s", jsonPeerSet.Path())
		}

		h.logger.WithField("path", jsonPeerSet.Path()).Warn("No peers.json, starting without peers")
		peerSet = peers.NewPeerSet(nil)
	}

	h.Peers = peerSet

	h.logger.WithField("peers", peerSet.Len()).Debug("Loaded peers")

	return nil
}

func (h *Hub) initStore() error {
	if !h.Config.Store {
		h.Store = store.NewInmemStore()

		h.logger.Debug("created new in-mem store")

		return nil
	}

	h.logger.WithField("path", h.Config.DatabaseDir).Debug("Attempting to load or create database")

	dbStore, err := store.NewBadgerStore(h.Config.DatabaseDir, h.logger)
	if err != nil {
		return err
	}

	h.Store = dbStore

	return nil
}

func (h *Hub) initTransport() error {
	transport, err := net.NewTCPTransport(
		h.Config.BindAddr,
		h.Config.AdvertiseAddr,
		h.Config.MaxPool,
		h.Config.TCPTimeout,
		h.logger,
	)
	if err != nil {
		return err
	}

	h.Transport = transport

	return nil
}

func (h *Hub) initNode() error {
	identity := node.NewIdentity(h.Config.Key, h.Config.Moniker)

	h.logger.WithFields(logrus.Fields{
		"id":         identity.ID(),
		"public_key": identity.PublicKeyHex(),
		"peers":      h.Peers.Len(),
	}).Debug("IDENTITY")

	n, err := node.NewNode(h.Config, identity, h.Peers, h.Store, h.Transport)
	if err != nil {
		return err
	}

	if err := n.Init(); err != nil {
		return errors.Wrap(err, "failed to initialize node")
	}

	h.Node = n

	return nil
}

func (h *Hub) initService() {
	if !h.Config.NoService {
		h.Service = service.NewService(h.Config.ServiceAddr, h.Node, h.logger)
	}
}

// Init reads the configuration and initialises every component.
func (h *Hub) Init() error {
	if err := h.initKey(); err != nil {
		return err
	}

	if err := h.initPeers(); err != nil {
		return err
	}

	if err := h.initStore(); err != nil {
		return err
	}

	if err := h.initTransport(); err != nil {
		h.Store.Close()
		return err
	}

	if err := h.initNode(); err != nil {
		h.Transport.Close()
		h.Store.Close()
		return err
	}

	h.initService()

	return nil
}

// Run starts the HTTP service, if any, and runs the node. It blocks until the
// node shuts down.
func (h *Hub) Run() {
	if h.Service != nil {
		go h.Service.Serve()
	}

	h.Node.Run(true)
}

// Shutdown stops the service and the node, which closes the transport and
// the store.
func (h *Hub) Shutdown() {
	if h.Service != nil {
		if err := h.Service.Close(); err != nil {
			h.logger.WithError(err).Error("Closing service")
		}
	}

	if h.Node != nil {
		h.Node.Shutdown()
	}
}

// Keygen creates a new key and writes it to keyfile. It refuses to overwrite
// an existing key.
func Keygen(keyfile string) (*ecdsa.PrivateKey, error) {
	simpleKeyfile := keys.NewSimpleKeyfile(keyfile)

	if _, err := os.Stat(keyfile); err == nil {
		return nil, errors.Errorf("another key already lives under %s", keyfile)
	}

	privKey, err := keys.GenerateECDSAKey()
	if err != nil {
		return nil, err
	}

	if err := simpleKeyfile.WriteKey(privKey); err != nil {
		return nil, err
	}

	return privKey, nil
}
