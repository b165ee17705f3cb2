package config

import (
	"crypto/ecdsa"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/mosaicnetworks/hub/src/common"
	"github.com/mosaicnetworks/hub/src/message"
	hsync "github.com/mosaicnetworks/hub/src/sync"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the hub's
	// private key
	DefaultKeyfile = "priv_key"

	// DefaultBadgerFile is the default name of the folder containing the Badger
	// database
	DefaultBadgerFile = "badger_db"
)

// Default configuration values.
const (
	DefaultLogLevel         = "debug"
	DefaultBindAddr         = "127.0.0.1:2282"
	DefaultServiceAddr      = "127.0.0.1:2281"
	DefaultHeartbeatTimeout = 10 * time.Second
	DefaultTCPTimeout       = 5 * time.Second
	DefaultSyncTimeout      = 60 * time.Second
	DefaultMaxPool          = 2
	DefaultStore            = false
	DefaultRepairInterval   = 30
	DefaultNetwork          = "devnet"
	DefaultSnapshotInterval = hsync.DefaultSnapshotInterval
	DefaultHashesPerFetch   = hsync.DefaultHashesPerFetch
	DefaultWalkConcurrency  = hsync.DefaultWalkConcurrency
)

// Config contains all the configuration properties of a hub.
type Config struct {
	// DataDir is the top-level directory containing hub configuration and
	// data
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFile, when set, also writes every log line to this file.
	LogFile string `mapstructure:"log-file"`

	// BindAddr is the local address:port where this hub answers the trie and
	// message queries of other hubs.
	BindAddr string `mapstructure:"listen"`

	// AdvertiseAddr is used to change the address that we advertise to other
	// hubs.
	AdvertiseAddr string `mapstructure:"advertise"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the HTTP service.
	ServiceAddr string `mapstructure:"service-listen"`

	// HeartbeatTimeout is the base period of the reconciliation timer. The
	// actual period is randomized between one and two times this value.
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat"`

	// MaxPool controls how many connections are pooled per target.
	MaxPool int `mapstructure:"max-pool"`

	// TCPTimeout is the timeout of a single RPC.
	TCPTimeout time.Duration `mapstructure:"timeout"`

	// SyncTimeout bounds a whole reconciliation with one peer.
	SyncTimeout time.Duration `mapstructure:"sync-timeout"`

	// Store activates persistant storage.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// RepairInterval is the number of heartbeats between two consistency
	// checks of the sync trie against the store. Zero disables the check.
	RepairInterval int `mapstructure:"repair-interval"`

	// Network is the network accepted messages must belong to: mainnet,
	// testnet or devnet.
	Network string `mapstructure:"network"`

	// SnapshotInterval is the granularity, in seconds, of the timestamps
	// snapshots are taken at.
	SnapshotInterval uint32 `mapstructure:"snapshot-interval"`

	// HashesPerFetch is the size under which a peer subtree is fetched key by
	// key instead of walked.
	HashesPerFetch int `mapstructure:"hashes-per-fetch"`

	// WalkConcurrency bounds the number of subtrees walked in parallel.
	WalkConcurrency int `mapstructure:"walk-concurrency"`

	// Moniker defines the friendly name of this hub
	Moniker string `mapstructure:"moniker"`

	// Key is the private key of the hub.
	Key *ecdsa.PrivateKey

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:          DefaultDataDir(),
		LogLevel:         DefaultLogLevel,
		BindAddr:         DefaultBindAddr,
		ServiceAddr:      DefaultServiceAddr,
		HeartbeatTimeout: DefaultHeartbeatTimeout,
		TCPTimeout:       DefaultTCPTimeout,
		SyncTimeout:      DefaultSyncTimeout,
		MaxPool:          DefaultMaxPool,
		Store:            DefaultStore,
		DatabaseDir:      DefaultDatabaseDir(),
		RepairInterval:   DefaultRepairInterval,
		Network:          DefaultNetwork,
		SnapshotInterval: DefaultSnapshotInterval,
		HashesPerFetch:   DefaultHashesPerFetch,
		WalkConcurrency:  DefaultWalkConcurrency,
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t, level)
	return config
}

// SetDataDir sets the top-level hub directory, and updates the database
// directory if it is currently set to the default value. If the database
// directory is not currently the default, it means the user has explicitely set
// it to something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// Keyfile returns the full path of the file containing the private key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// SyncConfig returns the tuning of the sync engine.
func (c *Config) SyncConfig() hsync.Config {
	return hsync.Config{
		SnapshotInterval: c.SnapshotInterval,
		HashesPerFetch:   c.HashesPerFetch,
		WalkConcurrency:  c.WalkConcurrency,
	}
}

// ParsedNetwork returns the network of the hub.
func (c *Config) ParsedNetwork() (message.Network, error) {
	return message.ParseNetwork(c.Network)
}

// Logger returns a formatted logrus Entry, with prefix set to "hub".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)

		if c.LogFile != "" {
			c.logger.Hooks.Add(fileHook(c.LogFile))
		}
	}
	return c.logger.WithField("prefix", "hub")
}

// fileHook writes every level to path, without colors.
func fileHook(path string) logrus.Hook {
	pathMap := lfshook.PathMap{}
	for _, l := range logrus.AllLevels {
		pathMap[l] = path
	}
	return lfshook.NewHook(pathMap, &logrus.TextFormatter{DisableColors: true})
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir return the default directory name for top-level hub config
// based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Hub")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Hub")
		} else {
			return filepath.Join(home, ".hub")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
