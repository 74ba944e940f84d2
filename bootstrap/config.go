package bootstrap

import (
	"time"

	"github.com/nanoledger/go-nano/message"
)

type AccountSetsConfig struct {
	// ConsiderationCount limits the candidates examined when picking the next
	// priority account.
	ConsiderationCount int
	PrioritiesMax      int
	BlockingMax        int
	// Cooldown keeps an account out of rotation after a request.
	Cooldown time.Duration
}

func DefaultAccountSetsConfig() AccountSetsConfig {
	return AccountSetsConfig{
		ConsiderationCount: 4,
		PrioritiesMax:      256 * 1024,
		BlockingMax:        256 * 1024,
		Cooldown:           3 * time.Second,
	}
}

type Config struct {
	EnablePriority   bool
	EnableLedgerScan bool

	// RequestsLimit caps un-responded requests per channel; zero means
	// unlimited, which is not recommended.
	RequestsLimit int
	// DatabaseRateLimit paces random account sampling from the ledger.
	DatabaseRateLimit int
	// DatabaseRequestsLimit is the burst size of the database sampling
	// limiter; zero uses DatabaseRateLimit+1.
	DatabaseRequestsLimit int
	// PullCount is the number of blocks asked for per request.
	PullCount int
	// Timeout drops async tags that never saw a response.
	Timeout time.Duration
	// ThrottleCoefficient scales the adaptive throttle sample window.
	ThrottleCoefficient int
	// ThrottleWait is the pause between attempts while throttled or starved.
	ThrottleWait time.Duration
	// BlockProcessorThreshold is the queue size above which requesting pauses.
	BlockProcessorThreshold int

	AccountSets AccountSetsConfig
}

func DefaultConfig() Config {
	return Config{
		EnablePriority:          true,
		EnableLedgerScan:        false,
		RequestsLimit:           64,
		DatabaseRateLimit:       10,
		DatabaseRequestsLimit:   10,
		PullCount:               message.MaxPullBlocks,
		Timeout:                 5 * time.Second,
		ThrottleCoefficient:     16,
		ThrottleWait:            100 * time.Millisecond,
		BlockProcessorThreshold: 1024,
		AccountSets:             DefaultAccountSetsConfig(),
	}
}
