package common

import (
	"sync"
	"time"
)

// Interval reports elapsed target periods, for cheap periodic work inside
// worker loops.
type Interval struct {
	target time.Duration
	last   time.Time
	mu     sync.Mutex
}

func NewInterval(target time.Duration) *Interval {
	return &Interval{
		target: target,
		last:   time.Now(),
	}
}

func (i *Interval) Elapsed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	now := time.Now()
	if now.Sub(i.last) >= i.target {
		i.last = now
		return true
	}
	return false
}
