package bootstrap

import (
	"time"

	"github.com/nanoledger/go-nano/common/types"
)

const (
	priorityInitial  = 2.0
	priorityIncrease = 2.0
	priorityDivide   = 2.0
	priorityMax      = 128.0
	priorityCutoff   = 1.0
)

type priorityEntry struct {
	priority    float64
	lastRequest time.Time
	inserted    time.Time
}

type blockingEntry struct {
	// original priority, restored when the account unblocks
	priority float64
	// source is the missing hash the account waits for
	source   types.Hash
	inserted time.Time
}

// accountSets is the bootstrap working set: accounts being actively pulled,
// ordered by a priority score with a cooldown, and accounts blocked on a
// missing source. An account is never in both sets; both are bounded.
type accountSets struct {
	cfg AccountSetsConfig

	priorities map[types.Account]*priorityEntry
	blocking   map[types.Account]*blockingEntry
}

func newAccountSets(cfg AccountSetsConfig) *accountSets {
	return &accountSets{
		cfg:        cfg,
		priorities: make(map[types.Account]*priorityEntry),
		blocking:   make(map[types.Account]*blockingEntry),
	}
}

// PriorityUp raises an account's score; a blocked account stays blocked.
func (s *accountSets) PriorityUp(account types.Account) {
	if account.IsZero() {
		return
	}
	if _, blocked := s.blocking[account]; blocked {
		return
	}
	if entry, ok := s.priorities[account]; ok {
		entry.priority *= priorityIncrease
		if entry.priority > priorityMax {
			entry.priority = priorityMax
		}
		return
	}
	s.priorities[account] = &priorityEntry{priority: priorityInitial, inserted: time.Now()}
	s.trimPriorities()
}

// PriorityDown halves the score; accounts below the cutoff fall out.
func (s *accountSets) PriorityDown(account types.Account) {
	entry, ok := s.priorities[account]
	if !ok {
		return
	}
	entry.priority /= priorityDivide
	if entry.priority < priorityCutoff {
		delete(s.priorities, account)
	}
}

// Block moves the account out of the priority set until source arrives.
func (s *accountSets) Block(account types.Account, source types.Hash) {
	if account.IsZero() {
		return
	}
	priority := priorityInitial
	if entry, ok := s.priorities[account]; ok {
		priority = entry.priority
		delete(s.priorities, account)
	}
	s.blocking[account] = &blockingEntry{priority: priority, source: source, inserted: time.Now()}
	s.trimBlocking()
}

// Unblock reinstates the account with its pre-block priority. With a non-zero
// hint only a matching source entry unblocks.
func (s *accountSets) Unblock(account types.Account, hint types.Hash) {
	entry, ok := s.blocking[account]
	if !ok {
		return
	}
	if !hint.IsZero() && entry.source != hint {
		return
	}
	delete(s.blocking, account)
	s.priorities[account] = &priorityEntry{priority: entry.priority, inserted: time.Now()}
	s.trimPriorities()
}

// Timestamp stamps the account's last request; reset clears the cooldown.
func (s *accountSets) Timestamp(account types.Account, reset bool) {
	entry, ok := s.priorities[account]
	if !ok {
		return
	}
	if reset {
		entry.lastRequest = time.Time{}
	} else {
		entry.lastRequest = time.Now()
	}
}

// Next picks the highest-priority account outside its cooldown, examining at
// most ConsiderationCount eligible candidates, the first one included.
func (s *accountSets) Next() types.Account {
	var best types.Account
	bestPriority := 0.0
	considered := 0
	now := time.Now()

	for account, entry := range s.priorities {
		if now.Sub(entry.lastRequest) < s.cfg.Cooldown {
			continue
		}
		if entry.priority > bestPriority {
			best = account
			bestPriority = entry.priority
		}
		considered++
		if considered >= s.cfg.ConsiderationCount && !best.IsZero() {
			break
		}
	}
	return best
}

func (s *accountSets) Blocked(account types.Account) bool {
	_, ok := s.blocking[account]
	return ok
}

func (s *accountSets) Priority(account types.Account) float64 {
	if entry, ok := s.priorities[account]; ok {
		return entry.priority
	}
	return 0
}

func (s *accountSets) PrioritySize() int { return len(s.priorities) }
func (s *accountSets) BlockedSize() int  { return len(s.blocking) }

func (s *accountSets) trimPriorities() {
	for len(s.priorities) > s.cfg.PrioritiesMax {
		var victim types.Account
		lowest := priorityMax + 1
		for account, entry := range s.priorities {
			if entry.priority < lowest {
				victim = account
				lowest = entry.priority
			}
		}
		delete(s.priorities, victim)
	}
}

func (s *accountSets) trimBlocking() {
	for len(s.blocking) > s.cfg.BlockingMax {
		var victim types.Account
		var oldest time.Time
		first := true
		for account, entry := range s.blocking {
			if first || entry.inserted.Before(oldest) {
				victim = account
				oldest = entry.inserted
				first = false
			}
		}
		delete(s.blocking, victim)
	}
}
