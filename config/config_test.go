package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	ascending := cfg.Ascending()
	assert.Equal(t, 64, ascending.RequestsLimit)
	assert.Equal(t, 128, ascending.PullCount)
	assert.Equal(t, 5*time.Second, ascending.Timeout)
	assert.Equal(t, 100*time.Millisecond, ascending.ThrottleWait)
	assert.Equal(t, 4, ascending.AccountSets.ConsiderationCount)
}

func TestLoadOverrides(t *testing.T) {
	dir, err := ioutil.TempDir("", "gonano-config")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "config.toml")
	content := `
network = "beta"
listen = ":17075"

[bootstrap_ascending]
requests_limit = 16
pull_count = 32
timeout = 2500
throttle_wait = 250

[bootstrap_ascending.account_sets]
consideration_count = 8
priorities_max = 1024
blocking_max = 512
cooldown = 7000

[logging]
preset = "cli"
level = "debug"

[logging.levels]
blockprocessor = "trace"
`
	require.NoError(t, ioutil.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "beta", cfg.Network)
	assert.Equal(t, ":17075", cfg.ListenAddr)
	assert.Equal(t, "cli", cfg.Logging.Preset)
	assert.Equal(t, "trace", cfg.Logging.Levels["blockprocessor"])

	ascending := cfg.Ascending()
	assert.Equal(t, 16, ascending.RequestsLimit)
	assert.Equal(t, 32, ascending.PullCount)
	assert.Equal(t, 2500*time.Millisecond, ascending.Timeout)
	assert.Equal(t, 250*time.Millisecond, ascending.ThrottleWait)
	assert.Equal(t, 8, ascending.AccountSets.ConsiderationCount)
	assert.Equal(t, 1024, ascending.AccountSets.PrioritiesMax)
	assert.Equal(t, 512, ascending.AccountSets.BlockingMax)
	assert.Equal(t, 7*time.Second, ascending.AccountSets.Cooldown)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	assert.Error(t, err)
}
