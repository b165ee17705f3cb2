package commands

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mosaicnetworks/hub/src/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()

	toml := `moniker = "tomlhub"
heartbeat = "250ms"
repair-interval = 7
network = "testnet"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hub.toml"), []byte(toml), 0600))

	cmd := NewRunCmd()
	require.NoError(t, cmd.Flags().Set("datadir", dir))
	require.NoError(t, cmd.Flags().Set("log", "error"))
	require.NoError(t, cmd.Flags().Set("max-pool", "5"))

	require.NoError(t, loadConfig(cmd, nil))

	assert.Equal(t, dir, _config.Hub.DataDir)
	assert.Equal(t, "tomlhub", _config.Hub.Moniker)
	assert.Equal(t, 250*time.Millisecond, _config.Hub.HeartbeatTimeout)
	assert.Equal(t, 7, _config.Hub.RepairInterval)
	assert.Equal(t, "testnet", _config.Hub.Network)
	assert.Equal(t, 5, _config.Hub.MaxPool)
	assert.Equal(t, filepath.Join(dir, config.DefaultBadgerFile), _config.Hub.DatabaseDir)
	assert.Equal(t, config.DefaultSnapshotInterval, _config.Hub.SnapshotInterval)
}
