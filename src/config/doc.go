// Package config defines the configuration for a hub.
//
// Regardless of how a hub is started, directly from Go code or as a standalone
// process from the command line, it uses the Config object defined in this
// package to store and forward configuration options. On top of these
// configuration options, a hub relies on a data directory, defined by
// Config.DataDir, where it expects to find a few additional configuration
// files:
//
//  priv_key // a plain text file containing the raw private key (cf. hub keygen).
//  peers.json // a JSON file containing the list of peers to reconcile with.
//  hub.toml // (optional) values for any of the options below.
package config
