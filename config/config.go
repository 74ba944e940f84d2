package config

import (
	"time"

	"github.com/BurntSushi/toml"

	"github.com/nanoledger/go-nano/bootstrap"
)

// Node is the TOML-backed daemon configuration. Durations are given in
// milliseconds, matching the wire-facing timeouts they configure.
type Node struct {
	Network    string `toml:"network"`
	ListenAddr string `toml:"listen"`
	DataDir    string `toml:"data_dir"`

	BootstrapAscending BootstrapAscending `toml:"bootstrap_ascending"`
	Logging            Logging            `toml:"logging"`
}

type BootstrapAscending struct {
	RequestsLimit         int   `toml:"requests_limit"`
	DatabaseRateLimit     int   `toml:"database_rate_limit"`
	DatabaseRequestsLimit int   `toml:"database_requests_limit"`
	PullCount             int   `toml:"pull_count"`
	TimeoutMs             int64 `toml:"timeout"`
	ThrottleCoefficient   int   `toml:"throttle_coefficient"`
	ThrottleWaitMs        int64 `toml:"throttle_wait"`

	AccountSets AccountSets `toml:"account_sets"`
}

type AccountSets struct {
	ConsiderationCount int   `toml:"consideration_count"`
	PrioritiesMax      int   `toml:"priorities_max"`
	BlockingMax        int   `toml:"blocking_max"`
	CooldownMs         int64 `toml:"cooldown"`
}

type Logging struct {
	// Preset selects cli, daemon or tests output.
	Preset string `toml:"preset"`
	Level  string `toml:"level"`
	File   string `toml:"file"`
	// Levels overrides the level per component tag.
	Levels map[string]string `toml:"levels"`
}

func Default() *Node {
	ascending := bootstrap.DefaultConfig()
	sets := ascending.AccountSets
	return &Node{
		Network:    "live",
		ListenAddr: ":7075",
		DataDir:    "data",
		BootstrapAscending: BootstrapAscending{
			RequestsLimit:         ascending.RequestsLimit,
			DatabaseRateLimit:     ascending.DatabaseRateLimit,
			DatabaseRequestsLimit: ascending.DatabaseRequestsLimit,
			PullCount:             ascending.PullCount,
			TimeoutMs:             int64(ascending.Timeout / time.Millisecond),
			ThrottleCoefficient:   ascending.ThrottleCoefficient,
			ThrottleWaitMs:        int64(ascending.ThrottleWait / time.Millisecond),
			AccountSets: AccountSets{
				ConsiderationCount: sets.ConsiderationCount,
				PrioritiesMax:      sets.PrioritiesMax,
				BlockingMax:        sets.BlockingMax,
				CooldownMs:         int64(sets.Cooldown / time.Millisecond),
			},
		},
		Logging: Logging{
			Preset: "daemon",
			Level:  "info",
			File:   "gonano.log",
		},
	}
}

// Load reads path over the defaults. An empty path yields the defaults; a
// path that cannot be read or decoded is an error.
func Load(path string) (*Node, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Ascending converts the TOML shape into the bootstrap config.
func (n *Node) Ascending() bootstrap.Config {
	cfg := bootstrap.DefaultConfig()
	b := n.BootstrapAscending
	if b.RequestsLimit != 0 {
		cfg.RequestsLimit = b.RequestsLimit
	}
	if b.DatabaseRateLimit != 0 {
		cfg.DatabaseRateLimit = b.DatabaseRateLimit
	}
	if b.DatabaseRequestsLimit != 0 {
		cfg.DatabaseRequestsLimit = b.DatabaseRequestsLimit
	}
	if b.PullCount != 0 {
		cfg.PullCount = b.PullCount
	}
	if b.TimeoutMs != 0 {
		cfg.Timeout = time.Duration(b.TimeoutMs) * time.Millisecond
	}
	if b.ThrottleCoefficient != 0 {
		cfg.ThrottleCoefficient = b.ThrottleCoefficient
	}
	if b.ThrottleWaitMs != 0 {
		cfg.ThrottleWait = time.Duration(b.ThrottleWaitMs) * time.Millisecond
	}
	sets := b.AccountSets
	if sets.ConsiderationCount != 0 {
		cfg.AccountSets.ConsiderationCount = sets.ConsiderationCount
	}
	if sets.PrioritiesMax != 0 {
		cfg.AccountSets.PrioritiesMax = sets.PrioritiesMax
	}
	if sets.BlockingMax != 0 {
		cfg.AccountSets.BlockingMax = sets.BlockingMax
	}
	if sets.CooldownMs != 0 {
		cfg.AccountSets.Cooldown = time.Duration(sets.CooldownMs) * time.Millisecond
	}
	return cfg
}
