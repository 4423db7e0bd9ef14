package lib

import (
	"sort"
	"sync"
	"time"
)

// Stats tracks observed ND traffic per peer within a sliding window,
// adapted from the teacher's NDPStats (ndp_stats.go) — the sharded-map,
// timestamp-pruning design is unchanged; it now also tracks ARO outcomes,
// which the teacher's wire-tap tool never saw (it had no registration
// table to react to).
type Stats struct {
	mu     sync.RWMutex
	peers  map[string]*peerStats
	window time.Duration
}

type peerStats struct {
	FirstSeen time.Time
	LastSeen  time.Time
	Messages  map[Kind][]time.Time
	AROStatus map[uint8][]time.Time
}

// PeerSummary is a snapshot of one peer's stats for display.
type PeerSummary struct {
	Address   string
	FirstSeen time.Time
	LastSeen  time.Time
	Counts    map[Kind]int
	AROCounts map[uint8]int
	Total     int
}

func NewStats(window time.Duration) *Stats {
	return &Stats{peers: make(map[string]*peerStats), window: window}
}

func (s *Stats) RecordMessage(addr string, k Kind) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.getOrCreate(addr, now)
	p.LastSeen = now
	p.Messages[k] = append(p.Messages[k], now)
}

func (s *Stats) RecordARO(addr string, status uint8) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.getOrCreate(addr, now)
	p.LastSeen = now
	p.AROStatus[status] = append(p.AROStatus[status], now)
}

func (s *Stats) getOrCreate(addr string, now time.Time) *peerStats {
	p, ok := s.peers[addr]
	if !ok {
		p = &peerStats{FirstSeen: now, Messages: make(map[Kind][]time.Time), AROStatus: make(map[uint8][]time.Time)}
		s.peers[addr] = p
	}
	return p
}

func (s *Stats) GetStats() []PeerSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-s.window)
	out := make([]PeerSummary, 0, len(s.peers))
	for addr, p := range s.peers {
		sum := PeerSummary{
			Address: addr, FirstSeen: p.FirstSeen, LastSeen: p.LastSeen,
			Counts: make(map[Kind]int), AROCounts: make(map[uint8]int),
		}
		for k, ts := range p.Messages {
			c := countAfter(ts, cutoff)
			sum.Counts[k] = c
			sum.Total += c
		}
		for st, ts := range p.AROStatus {
			sum.AROCounts[st] = countAfter(ts, cutoff)
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Total > out[j].Total })
	return out
}

func countAfter(ts []time.Time, cutoff time.Time) int {
	n := 0
	for _, t := range ts {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

// Prune removes timestamps (and empty peers) older than the window, matching
// the teacher's Prune semantics exactly.
func (s *Stats) Prune() {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-s.window)
	for addr, p := range s.peers {
		kept := 0
		for k, ts := range p.Messages {
			filtered := filterAfter(ts, cutoff)
			if len(filtered) > 0 {
				p.Messages[k] = filtered
				kept += len(filtered)
			} else {
				delete(p.Messages, k)
			}
		}
		for st, ts := range p.AROStatus {
			filtered := filterAfter(ts, cutoff)
			if len(filtered) > 0 {
				p.AROStatus[st] = filtered
				kept += len(filtered)
			} else {
				delete(p.AROStatus, st)
			}
		}
		if kept == 0 {
			delete(s.peers, addr)
		}
	}
}

func filterAfter(ts []time.Time, cutoff time.Time) []time.Time {
	out := make([]time.Time, 0, len(ts))
	for _, t := range ts {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

func (s *Stats) Window() time.Duration { return s.window }
