package net

import (
	"math"
	"math/rand"
	"sync"

	"github.com/nanoledger/go-nano/common/types"
)

// PeerSet tracks live channels by endpoint.
type PeerSet struct {
	mu    sync.RWMutex
	peers map[types.Endpoint]Channel
}

func NewPeerSet() *PeerSet {
	return &PeerSet{peers: make(map[types.Endpoint]Channel)}
}

func (ps *PeerSet) Add(c Channel) {
	ps.mu.Lock()
	ps.peers[c.Endpoint()] = c
	ps.mu.Unlock()
}

func (ps *PeerSet) Remove(endpoint types.Endpoint) {
	ps.mu.Lock()
	delete(ps.peers, endpoint)
	ps.mu.Unlock()
}

func (ps *PeerSet) Get(endpoint types.Endpoint) Channel {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.peers[endpoint]
}

func (ps *PeerSet) Len() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.peers)
}

// List snapshots the live channels, dropping dead ones on the way.
func (ps *PeerSet) List() []Channel {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	out := make([]Channel, 0, len(ps.peers))
	for endpoint, c := range ps.peers {
		if !c.Alive() {
			delete(ps.peers, endpoint)
			continue
		}
		out = append(out, c)
	}
	return out
}

// FanoutList picks roughly scale*sqrt(n) random peers, the flood fanout.
func (ps *PeerSet) FanoutList(scale float64) []Channel {
	all := ps.List()
	if len(all) == 0 {
		return nil
	}
	want := int(math.Ceil(scale * math.Sqrt(float64(len(all)))))
	if want >= len(all) {
		return all
	}
	rand.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
	return all[:want]
}
