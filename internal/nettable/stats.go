package nettable

import (
	"sync/atomic"
	"time"
)

// FeedStats counts messages flowing into a table from one feed.
type FeedStats struct {
	messages atomic.Uint64
	updates  atomic.Uint64
	dropped  atomic.Uint64
	bytes    atomic.Uint64
	lastNano atomic.Int64
}

// FeedSnapshot is a point-in-time copy of FeedStats.
type FeedSnapshot struct {
	Messages    uint64    `json:"messages"`
	Updates     uint64    `json:"updates"`
	Dropped     uint64    `json:"dropped"`
	Bytes       uint64    `json:"bytes"`
	LastMessage time.Time `json:"last_message"`
}

func (s *FeedStats) addMessage(n int, updates int, at time.Time) {
	s.messages.Add(1)
	s.updates.Add(uint64(updates))
	s.bytes.Add(uint64(n))
	s.lastNano.Store(at.UnixNano())
}

func (s *FeedStats) addDropped() {
	s.dropped.Add(1)
}

// Snapshot returns the current counters.
func (s *FeedStats) Snapshot() FeedSnapshot {
	snap := FeedSnapshot{
		Messages: s.messages.Load(),
		Updates:  s.updates.Load(),
		Dropped:  s.dropped.Load(),
		Bytes:    s.bytes.Load(),
	}
	if n := s.lastNano.Load(); n != 0 {
		snap.LastMessage = time.Unix(0, n)
	}
	return snap
}
