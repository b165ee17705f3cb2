package commands

import (
	"github.com/mosaicnetworks/hub/src/hub"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewRunCmd returns the command that starts a hub
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run hub",
		PreRunE: loadConfig,
		RunE:    runHub,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runHub(cmd *cobra.Command, args []string) error {
	h := hub.NewHub(&_config.Hub)

	if err := h.Init(); err != nil {
		_config.Hub.Logger().WithError(err).Error("Cannot initialize hub")
		return err
	}

	h.Run()

	return nil
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

// AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.Hub.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.Hub.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-file", _config.Hub.LogFile, "Also write logs to this file")
	cmd.Flags().String("moniker", _config.Hub.Moniker, "Optional name")
	cmd.Flags().String("network", _config.Hub.Network, "Network of accepted messages: mainnet, testnet or devnet")

	// Network
	cmd.Flags().StringP("listen", "l", _config.Hub.BindAddr, "Listen IP:Port for the hub")
	cmd.Flags().StringP("advertise", "a", _config.Hub.AdvertiseAddr, "Advertise IP:Port for the hub")
	cmd.Flags().DurationP("timeout", "t", _config.Hub.TCPTimeout, "TCP Timeout")
	cmd.Flags().Int("max-pool", _config.Hub.MaxPool, "Connection pool size max")

	// Service
	cmd.Flags().Bool("no-service", _config.Hub.NoService, "Disable HTTP service")
	cmd.Flags().StringP("service-listen", "s", _config.Hub.ServiceAddr, "Listen IP:Port for HTTP service")

	// Store
	cmd.Flags().Bool("store", _config.Hub.Store, "Use badgerDB instead of in-mem DB")
	cmd.Flags().String("db", _config.Hub.DatabaseDir, "Dabatabase directory")

	// Reconciliation
	cmd.Flags().Duration("heartbeat", _config.Hub.HeartbeatTimeout, "Time between reconciliations")
	cmd.Flags().Duration("sync-timeout", _config.Hub.SyncTimeout, "Timeout of a whole reconciliation")
	cmd.Flags().Int("repair-interval", _config.Hub.RepairInterval, "Heartbeats between consistency checks of the sync trie (0 disables)")
	cmd.Flags().Uint32("snapshot-interval", _config.Hub.SnapshotInterval, "Granularity of snapshot timestamps, in seconds")
	cmd.Flags().Int("hashes-per-fetch", _config.Hub.HashesPerFetch, "Size under which a peer subtree is fetched key by key")
	cmd.Flags().Int("walk-concurrency", _config.Hub.WalkConcurrency, "Subtrees walked in parallel")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.Hub.SetDataDir(_config.Hub.DataDir)

	logFields := logrus.Fields{
		"hub.DataDir":          _config.Hub.DataDir,
		"hub.BindAddr":         _config.Hub.BindAddr,
		"hub.AdvertiseAddr":    _config.Hub.AdvertiseAddr,
		"hub.ServiceAddr":      _config.Hub.ServiceAddr,
		"hub.NoService":        _config.Hub.NoService,
		"hub.MaxPool":          _config.Hub.MaxPool,
		"hub.Store":            _config.Hub.Store,
		"hub.LogLevel":         _config.Hub.LogLevel,
		"hub.LogFile":          _config.Hub.LogFile,
		"hub.Moniker":          _config.Hub.Moniker,
		"hub.Network":          _config.Hub.Network,
		"hub.HeartbeatTimeout": _config.Hub.HeartbeatTimeout,
		"hub.TCPTimeout":       _config.Hub.TCPTimeout,
		"hub.SyncTimeout":      _config.Hub.SyncTimeout,
		"hub.RepairInterval":   _config.Hub.RepairInterval,
		"hub.SnapshotInterval": _config.Hub.SnapshotInterval,
		"hub.HashesPerFetch":   _config.Hub.HashesPerFetch,
		"hub.WalkConcurrency":  _config.Hub.WalkConcurrency,
	}

	if _config.Hub.Store {
		logFields["hub.DatabaseDir"] = _config.Hub.DatabaseDir
	}

	_config.Hub.Logger().WithFields(logFields).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/hub.toml (.json, .yaml also work)
	viper.SetConfigName("hub")               // name of config file (without extension)
	viper.AddConfigPath(_config.Hub.DataDir) // search root directory

	// If a config file is found, read it in.
	err := viper.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); err != nil && !ok {
		return err
	}

	// second unmarshal to read from config file
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// the logger is built from the final configuration
	if err == nil {
		_config.Hub.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else {
		_config.Hub.Logger().Debugf("No config file found in: %s", _config.Hub.DataDir)
	}

	return nil
}
