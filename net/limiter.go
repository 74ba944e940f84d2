package net

import (
	"golang.org/x/time/rate"
)

// TrafficType is the logical lane a message travels in; each lane has its own
// bandwidth budget and per-channel queue.
type TrafficType byte

const (
	TrafficGeneric TrafficType = iota
	TrafficBootstrap
)

func (t TrafficType) String() string {
	if t == TrafficBootstrap {
		return "bootstrap"
	}
	return "generic"
}

// DropPolicy says what happens when the outbound limiter refuses a message:
// limiter drops it, no_drop queues it regardless.
type DropPolicy byte

const (
	DropPolicyNoDrop DropPolicy = iota
	DropPolicyLimiter
)

type LimiterConfig struct {
	// StandardLimit is the sustained byte rate for generic traffic; zero
	// disables limiting.
	StandardLimit int
	StandardBurst int
	// BootstrapLimit covers the bootstrap lane.
	BootstrapLimit int
	BootstrapBurst int
}

func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		StandardLimit:  10 * 1024 * 1024,
		StandardBurst:  30 * 1024 * 1024,
		BootstrapLimit: 5 * 1024 * 1024,
		BootstrapBurst: 10 * 1024 * 1024,
	}
}

// OutboundLimiter is a token bucket per traffic lane, consulted before a
// message is queued on any channel.
type OutboundLimiter struct {
	standard  *rate.Limiter
	bootstrap *rate.Limiter
}

func NewOutboundLimiter(cfg LimiterConfig) *OutboundLimiter {
	build := func(limit, burst int) *rate.Limiter {
		if limit <= 0 {
			return rate.NewLimiter(rate.Inf, 0)
		}
		if burst < limit {
			burst = limit
		}
		return rate.NewLimiter(rate.Limit(limit), burst)
	}
	return &OutboundLimiter{
		standard:  build(cfg.StandardLimit, cfg.StandardBurst),
		bootstrap: build(cfg.BootstrapLimit, cfg.BootstrapBurst),
	}
}

// ShouldPass consumes size tokens from the lane's bucket when available.
func (l *OutboundLimiter) ShouldPass(size int, traffic TrafficType) bool {
	switch traffic {
	case TrafficBootstrap:
		return l.bootstrap.AllowN(timeNow(), size)
	default:
		return l.standard.AllowN(timeNow(), size)
	}
}
