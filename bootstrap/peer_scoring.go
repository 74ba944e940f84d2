package bootstrap

import (
	"sort"

	"github.com/nanoledger/go-nano/message"
	"github.com/nanoledger/go-nano/net"
)

type peerScore struct {
	channel            net.Channel
	outstanding        int
	requestCountTotal  int
	responseCountTotal int
}

func (s *peerScore) decay() {
	if s.outstanding > 0 {
		s.outstanding--
	}
}

// peerScoring spreads bootstrap requests across channels, preferring the
// least loaded and capping outstanding requests per channel. Callers hold the
// service mutex.
type peerScoring struct {
	cfg    Config
	scores map[net.Channel]*peerScore
}

func newPeerScoring(cfg Config) *peerScoring {
	return &peerScoring{cfg: cfg, scores: make(map[net.Channel]*peerScore)}
}

// trySend reserves one request slot on the channel.
func (ps *peerScoring) trySend(channel net.Channel) bool {
	score, ok := ps.scores[channel]
	if !ok {
		ps.scores[channel] = &peerScore{channel: channel, outstanding: 1, requestCountTotal: 1}
		return true
	}
	if ps.cfg.RequestsLimit == 0 || score.outstanding < ps.cfg.RequestsLimit {
		score.outstanding++
		score.requestCountTotal++
		return true
	}
	return false
}

// receivedMessage releases one slot, never dropping below one so a misbehaving
// peer cannot inflate its quota with unsolicited replies.
func (ps *peerScoring) receivedMessage(channel net.Channel) {
	if score, ok := ps.scores[channel]; ok && score.outstanding > 1 {
		score.outstanding--
		score.responseCountTotal++
	}
}

// Channel returns the least-loaded channel with spare quota and bootstrap
// lane capacity, or nil.
func (ps *peerScoring) Channel() net.Channel {
	ordered := make([]*peerScore, 0, len(ps.scores))
	for _, score := range ps.scores {
		ordered = append(ordered, score)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].outstanding < ordered[j].outstanding
	})

	for _, score := range ordered {
		channel := score.channel
		if !channel.Alive() {
			continue
		}
		if channel.NetworkVersion() < message.BootstrapProtocolVersionMin {
			continue
		}
		if channel.Max(net.TrafficBootstrap) {
			continue
		}
		if ps.trySend(channel) {
			return channel
		}
	}
	return nil
}

func (ps *peerScoring) Size() int {
	return len(ps.scores)
}

// Timeout evicts dead channels and decays the counters.
func (ps *peerScoring) Timeout() {
	for channel, score := range ps.scores {
		if !channel.Alive() {
			delete(ps.scores, channel)
			continue
		}
		score.decay()
	}
}

// Sync folds newly discovered channels into the table; peers below the
// bootstrap protocol floor are excluded.
func (ps *peerScoring) Sync(channels []net.Channel) {
	for _, channel := range channels {
		if channel.NetworkVersion() < message.BootstrapProtocolVersionMin {
			continue
		}
		if _, ok := ps.scores[channel]; !ok {
			ps.scores[channel] = &peerScore{channel: channel}
		}
	}
}
