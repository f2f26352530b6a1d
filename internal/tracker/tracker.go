// Package tracker keeps the rolling per-source activity state the detector
// reads from. It holds no policy.
package tracker

import (
	"hash/fnv"
	"sync"
	"time"

	"bot-admission-gateway/internal/core"
)

const (
	// DefaultWindow is the fixed counting window. It is hard-reset, not slid.
	DefaultWindow = 60 * time.Second
	// MaxTimestamps bounds the recent-timestamp history kept per source.
	MaxTimestamps = 100

	shardCount = 64
)

// GeoFunc enriches a newly seen source. It is called once per source.
type GeoFunc func(sourceID string) *core.Location

// Snapshot is a consistent copy of one source's state.
type Snapshot struct {
	SourceID      string
	Count         int
	WindowStart   time.Time
	LastSeen      time.Time
	Timestamps    []time.Time
	DistinctPaths int
	Geo           *core.Location
}

type sourceState struct {
	count       int
	windowStart time.Time
	lastSeen    time.Time
	timestamps  []time.Time
	paths       map[string]struct{}
	geo         *core.Location
}

type shard struct {
	mu      sync.Mutex
	sources map[string]*sourceState
}

// Tracker maps source identifiers to their activity state. Updates for one
// key are serialized by the key's shard lock; different shards proceed in
// parallel.
type Tracker struct {
	window time.Duration
	geo    GeoFunc
	shards [shardCount]shard
}

func New(window time.Duration, geo GeoFunc) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	t := &Tracker{window: window, geo: geo}
	for i := range t.shards {
		t.shards[i].sources = make(map[string]*sourceState)
	}
	return t
}

func (t *Tracker) shard(sourceID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sourceID))
	return &t.shards[h.Sum32()%shardCount]
}

// Record registers one request and returns the post-increment window count
// together with a snapshot taken under the same lock.
func (t *Tracker) Record(sourceID, path string, now time.Time) (int, Snapshot) {
	sh := t.shard(sourceID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	st, ok := sh.sources[sourceID]
	if !ok {
		st = &sourceState{
			windowStart: now,
			lastSeen:    now,
			timestamps:  make([]time.Time, 0, 8),
			paths:       make(map[string]struct{}),
		}
		if t.geo != nil {
			st.geo = t.geo(sourceID)
		}
		sh.sources[sourceID] = st
	}

	if now.Sub(st.windowStart) > t.window {
		st.count = 0
		st.windowStart = now
	}

	// Concurrent callers may sample the clock out of order; keep history sorted.
	if n := len(st.timestamps); n > 0 && now.Before(st.timestamps[n-1]) {
		now = st.timestamps[n-1]
	}

	st.count++
	if len(st.timestamps) == MaxTimestamps {
		copy(st.timestamps, st.timestamps[1:])
		st.timestamps[MaxTimestamps-1] = now
	} else {
		st.timestamps = append(st.timestamps, now)
	}
	st.paths[path] = struct{}{}
	if now.After(st.lastSeen) {
		st.lastSeen = now
	}

	return st.count, st.snapshot(sourceID)
}

// Get returns the current snapshot for a source, if it has been seen.
func (t *Tracker) Get(sourceID string) (Snapshot, bool) {
	sh := t.shard(sourceID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	st, ok := sh.sources[sourceID]
	if !ok {
		return Snapshot{}, false
	}
	return st.snapshot(sourceID), true
}

// ActiveSince counts sources whose last request is at or after cutoff.
// Shards are visited one at a time, so the result is approximate under load.
func (t *Tracker) ActiveSince(cutoff time.Time) int {
	active := 0
	for i := range t.shards {
		sh := &t.shards[i]
		sh.mu.Lock()
		for _, st := range sh.sources {
			if !st.lastSeen.Before(cutoff) {
				active++
			}
		}
		sh.mu.Unlock()
	}
	return active
}

// Len returns the number of sources seen so far.
func (t *Tracker) Len() int {
	n := 0
	for i := range t.shards {
		sh := &t.shards[i]
		sh.mu.Lock()
		n += len(sh.sources)
		sh.mu.Unlock()
	}
	return n
}

func (s *sourceState) snapshot(sourceID string) Snapshot {
	ts := make([]time.Time, len(s.timestamps))
	copy(ts, s.timestamps)
	return Snapshot{
		SourceID:      sourceID,
		Count:         s.count,
		WindowStart:   s.windowStart,
		LastSeen:      s.lastSeen,
		Timestamps:    ts,
		DistinctPaths: len(s.paths),
		Geo:           s.geo,
	}
}
