// Package trafficlog keeps the most recent admission records in memory and
// fans them out to live subscribers.
package trafficlog

import (
	"sync"

	"bot-admission-gateway/internal/core"
)

const DefaultCapacity = 2000

// subscriberBuffer is how many records a slow subscriber may lag behind
// before records are dropped for it.
const subscriberBuffer = 100

// Buffer is a fixed-size ring. Once full, each Append overwrites the oldest
// record.
type Buffer struct {
	mu      sync.RWMutex
	records []core.LogRecord
	next    int
	full    bool

	subMu sync.Mutex
	subs  map[chan core.LogRecord]struct{}
}

func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		records: make([]core.LogRecord, capacity),
		subs:    make(map[chan core.LogRecord]struct{}),
	}
}

func (b *Buffer) Append(rec core.LogRecord) {
	b.mu.Lock()
	b.records[b.next] = rec
	b.next = (b.next + 1) % len(b.records)
	if b.next == 0 {
		b.full = true
	}
	b.mu.Unlock()

	b.publish(rec)
}

// Recent returns up to n records, newest first. n <= 0 means all.
func (b *Buffer) Recent(n int) []core.LogRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()

	size := b.next
	if b.full {
		size = len(b.records)
	}
	if n <= 0 || n > size {
		n = size
	}

	out := make([]core.LogRecord, 0, n)
	i := b.next
	for len(out) < n {
		i = (i - 1 + len(b.records)) % len(b.records)
		out = append(out, b.records[i])
	}
	return out
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.full {
		return len(b.records)
	}
	return b.next
}

func (b *Buffer) Cap() int {
	return len(b.records)
}

// Subscribe returns a channel receiving every record appended from now on.
func (b *Buffer) Subscribe() chan core.LogRecord {
	ch := make(chan core.LogRecord, subscriberBuffer)
	b.subMu.Lock()
	b.subs[ch] = struct{}{}
	b.subMu.Unlock()
	return ch
}

func (b *Buffer) Unsubscribe(ch chan core.LogRecord) {
	b.subMu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.subMu.Unlock()
}

func (b *Buffer) publish(rec core.LogRecord) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- rec:
		default:
			// subscriber is behind, drop
		}
	}
}
