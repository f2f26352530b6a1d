// Package ledger holds the blocklist and the audit trail of detections.
package ledger

import (
	"errors"
	"sort"
	"sync"
	"time"

	"bot-admission-gateway/internal/core"
)

var (
	ErrAlreadyBlocked = errors.New("already blocked")
	ErrNotFound       = errors.New("not found")
)

type detectionKey struct {
	source string
	reason string
}

// Ledger is safe for concurrent use. Every mutation bumps Version and is
// reported to the event hooks after the lock is released.
type Ledger struct {
	mu         sync.RWMutex
	blocked    map[string]core.BlockRecord
	seen       map[detectionKey]struct{}
	detections []core.Detection
	version    uint64

	hooks []func(core.LedgerEvent)
}

func New() *Ledger {
	return &Ledger{
		blocked: make(map[string]core.BlockRecord),
		seen:    make(map[detectionKey]struct{}),
	}
}

// OnEvent adds a mutation hook. Call before the ledger is shared.
func (l *Ledger) OnEvent(fn func(core.LedgerEvent)) {
	l.hooks = append(l.hooks, fn)
}

func (l *Ledger) emit(ev core.LedgerEvent) {
	for _, fn := range l.hooks {
		fn(ev)
	}
}

// Block adds sourceID to the blocklist and records the reason in the audit
// trail, deduplicated like AddDetection.
func (l *Ledger) Block(sourceID, reason string, now time.Time) error {
	l.mu.Lock()
	if _, ok := l.blocked[sourceID]; ok {
		l.mu.Unlock()
		return ErrAlreadyBlocked
	}
	l.blocked[sourceID] = core.BlockRecord{SourceID: sourceID, Reason: reason, BlockedAt: now}
	l.version++
	detected := l.addDetectionLocked(sourceID, reason, now)
	l.mu.Unlock()

	if detected {
		l.emit(core.LedgerEvent{Kind: core.EventDetected, SourceID: sourceID, Reason: reason, Timestamp: now})
	}
	l.emit(core.LedgerEvent{Kind: core.EventBlocked, SourceID: sourceID, Reason: reason, Timestamp: now})
	return nil
}

// Unblock removes sourceID from the blocklist. Detections are kept.
func (l *Ledger) Unblock(sourceID string, now time.Time) error {
	l.mu.Lock()
	if _, ok := l.blocked[sourceID]; !ok {
		l.mu.Unlock()
		return ErrNotFound
	}
	delete(l.blocked, sourceID)
	l.version++
	l.mu.Unlock()

	l.emit(core.LedgerEvent{Kind: core.EventUnblocked, SourceID: sourceID, Timestamp: now})
	return nil
}

func (l *Ledger) IsBlocked(sourceID string) bool {
	l.mu.RLock()
	_, ok := l.blocked[sourceID]
	l.mu.RUnlock()
	return ok
}

// AddDetection appends to the audit trail unless the same (source, reason)
// pair is already there. It reports whether a new entry was written.
func (l *Ledger) AddDetection(sourceID, reason string, now time.Time) bool {
	l.mu.Lock()
	added := l.addDetectionLocked(sourceID, reason, now)
	l.mu.Unlock()

	if added {
		l.emit(core.LedgerEvent{Kind: core.EventDetected, SourceID: sourceID, Reason: reason, Timestamp: now})
	}
	return added
}

func (l *Ledger) addDetectionLocked(sourceID, reason string, now time.Time) bool {
	key := detectionKey{source: sourceID, reason: reason}
	if _, dup := l.seen[key]; dup {
		return false
	}
	l.seen[key] = struct{}{}
	l.detections = append(l.detections, core.Detection{SourceID: sourceID, Reason: reason, Timestamp: now})
	return true
}

// Blocked returns the blocklist ordered by block time.
func (l *Ledger) Blocked() []core.BlockRecord {
	l.mu.RLock()
	out := make([]core.BlockRecord, 0, len(l.blocked))
	for _, rec := range l.blocked {
		out = append(out, rec)
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockedAt.Equal(out[j].BlockedAt) {
			return out[i].SourceID < out[j].SourceID
		}
		return out[i].BlockedAt.Before(out[j].BlockedAt)
	})
	return out
}

// BlockedIDs returns just the source ids, in the same order as Blocked.
func (l *Ledger) BlockedIDs() []string {
	recs := l.Blocked()
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.SourceID
	}
	return ids
}

// Detections returns the audit trail in insertion order.
func (l *Ledger) Detections() []core.Detection {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]core.Detection(nil), l.detections...)
}

func (l *Ledger) BlockedCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.blocked)
}

func (l *Ledger) DetectionCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.detections)
}

// Version changes whenever the blocklist does.
func (l *Ledger) Version() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.version
}

// Restore loads persisted state without emitting events. Entries already
// present win.
func (l *Ledger) Restore(blocks []core.BlockRecord, detections []core.Detection) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, b := range blocks {
		if _, ok := l.blocked[b.SourceID]; !ok {
			l.blocked[b.SourceID] = b
		}
	}
	for _, d := range detections {
		key := detectionKey{source: d.SourceID, reason: d.Reason}
		if _, dup := l.seen[key]; dup {
			continue
		}
		l.seen[key] = struct{}{}
		l.detections = append(l.detections, d)
	}
	l.version++
}
