package invite

import (
	"sync"
	"time"
)

// Stats holds process-wide counters. Memory-only, reset on restart.
type Stats struct {
	mu         sync.Mutex
	start      time.Time
	issued     uint64
	broadcasts uint64
	served     map[int64]struct{}
}

type StatsSnapshot struct {
	LinksIssued    uint64
	BroadcastsSent uint64
	ChatsServed    int
	Uptime         time.Duration
}

func NewStats() *Stats {
	return &Stats{start: time.Now(), served: map[int64]struct{}{}}
}

func (s *Stats) MarkIssued(chatID int64) {
	s.mu.Lock()
	s.issued++
	s.served[chatID] = struct{}{}
	s.mu.Unlock()
}

func (s *Stats) MarkBroadcast() {
	s.mu.Lock()
	s.broadcasts++
	s.mu.Unlock()
}

func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatsSnapshot{
		LinksIssued:    s.issued,
		BroadcastsSent: s.broadcasts,
		ChatsServed:    len(s.served),
		Uptime:         time.Since(s.start),
	}
}
