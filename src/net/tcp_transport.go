package net

import (
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	errNotAdvertisable = errors.New("local bind address is not advertisable")
	errNotTCP          = errors.New("local address is not a TCP address")
)

// NewTCPTransport listens on bindAddr and returns the NetworkTransport a hub
// uses to serve and request snapshots, trie metadata, keys and messages.
// Peers reach the hub at advertise, which defaults to the bound address and
// must not be unspecified (0.0.0.0 or ::). The transport does not accept
// connections until Listen is called.
func NewTCPTransport(
	bindAddr string,
	advertise string,
	maxPool int,
	timeout time.Duration,
	logger *logrus.Entry,
) (*NetworkTransport, error) {
	listener, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "binding %s", bindAddr)
	}

	if err := checkAdvertise(listener.Addr(), advertise); err != nil {
		listener.Close()
		return nil, err
	}

	stream := &TCPStreamLayer{
		advertise: advertise,
		listener:  listener.(*net.TCPListener),
	}

	return NewNetworkTransport(stream, maxPool, timeout, logger), nil
}

// checkAdvertise verifies that peers can dial the hub back.
func checkAdvertise(bound net.Addr, advertise string) error {
	addr := bound
	if advertise != "" {
		resolved, err := net.ResolveTCPAddr("tcp", advertise)
		if err != nil {
			return errors.Wrapf(err, "resolving advertise address %s", advertise)
		}
		addr = resolved
	}

	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return errNotTCP
	}
	if tcpAddr.IP.IsUnspecified() {
		return errNotAdvertisable
	}

	return nil
}
