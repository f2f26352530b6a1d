package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"bot-admission-gateway/internal/core"
	"bot-admission-gateway/internal/ledger"
	"bot-admission-gateway/internal/metrics"
)

// maxPending bounds each in-memory buffer between flushes. When a store is
// down for long, the oldest entries are dropped first.
const maxPending = 10000

// maxEventAttempts is how many flushes a ledger event gets before it is
// dropped so the events queued behind it can go through.
const maxEventAttempts = 5

type pendingEvent struct {
	core.LedgerEvent
	attempts int
}

// Persister buffers log records and ledger events in memory and writes them
// to the backing store on a ticker, so the request path never waits on I/O.
type Persister struct {
	ledgerRepo core.LedgerRepository
	logRepo    core.LogRepository
	interval   time.Duration
	logger     *slog.Logger

	mu     sync.Mutex
	logs   []core.LogRecord
	events []pendingEvent
}

// NewPersister accepts nil for either repository; that stream is then
// not persisted.
func NewPersister(ledgerRepo core.LedgerRepository, logRepo core.LogRepository, interval time.Duration, logger *slog.Logger) *Persister {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Persister{
		ledgerRepo: ledgerRepo,
		logRepo:    logRepo,
		interval:   interval,
		logger:     logger,
	}
}

// Attach wires the persister to the gate and its ledger.
func (p *Persister) Attach(g *AdmissionGate) {
	if p.logRepo != nil {
		g.OnLog(p.RecordLog)
	}
	if p.ledgerRepo != nil {
		g.Ledger().OnEvent(p.RecordEvent)
	}
}

func (p *Persister) RecordLog(rec core.LogRecord) {
	p.mu.Lock()
	if len(p.logs) >= maxPending {
		p.logs = p.logs[1:]
	}
	p.logs = append(p.logs, rec)
	p.mu.Unlock()
}

func (p *Persister) RecordEvent(ev core.LedgerEvent) {
	p.mu.Lock()
	p.events = capEvents(append(p.events, pendingEvent{LedgerEvent: ev}))
	p.mu.Unlock()
}

func capEvents(events []pendingEvent) []pendingEvent {
	if over := len(events) - maxPending; over > 0 {
		metrics.PersistFailuresTotal.WithLabelValues("ledger_dropped").Add(float64(over))
		events = events[over:]
	}
	return events
}

// Restore loads the persisted blocklist and audit trail into l.
func (p *Persister) Restore(ctx context.Context, l *ledger.Ledger) error {
	if p.ledgerRepo == nil {
		return nil
	}
	blocks, err := p.ledgerRepo.LoadBlocks(ctx)
	if err != nil {
		return err
	}
	detections, err := p.ledgerRepo.LoadDetections(ctx)
	if err != nil {
		return err
	}
	l.Restore(blocks, detections)
	p.logger.Info("ledger restored", "blocked", len(blocks), "detections", len(detections))
	return nil
}

// Run flushes every interval until ctx is cancelled, then flushes once more.
func (p *Persister) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.Flush(ctx)
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			p.Flush(final)
			cancel()
			return
		}
	}
}

// Flush writes everything buffered so far. Ledger events that could not be
// written are kept, in order, for the next flush, up to maxEventAttempts.
func (p *Persister) Flush(ctx context.Context) {
	// Snapshot and clear buffers to release lock quickly
	p.mu.Lock()
	logs, events := p.logs, p.events
	p.logs, p.events = nil, nil
	p.mu.Unlock()

	if len(logs) > 0 && p.logRepo != nil {
		if err := p.logRepo.SaveLogs(ctx, logs); err != nil {
			metrics.PersistFailuresTotal.WithLabelValues("logs").Inc()
			p.logger.Warn("dropping log records after failed flush", "count", len(logs), "error", err)
		}
	}

	if len(events) > 0 && p.ledgerRepo != nil {
		if rest := p.flushEvents(ctx, events); len(rest) > 0 {
			p.mu.Lock()
			p.events = capEvents(append(rest, p.events...))
			p.mu.Unlock()
		}
	}
}

func (p *Persister) flushEvents(ctx context.Context, events []pendingEvent) []pendingEvent {
	var detections []pendingEvent
	var rest []pendingEvent

	for i, ev := range events {
		var err error
		switch ev.Kind {
		case core.EventDetected:
			detections = append(detections, ev)
			continue
		case core.EventBlocked:
			err = p.ledgerRepo.SaveBlock(ctx, core.BlockRecord{SourceID: ev.SourceID, Reason: ev.Reason, BlockedAt: ev.Timestamp})
		case core.EventUnblocked:
			err = p.ledgerRepo.DeleteBlock(ctx, ev.SourceID)
		}
		if err == nil {
			continue
		}

		metrics.PersistFailuresTotal.WithLabelValues("ledger").Inc()
		ev.attempts++
		if ev.attempts >= maxEventAttempts {
			p.logger.Error("dropping ledger event after repeated failures",
				"kind", ev.Kind, "ip", ev.SourceID, "attempts", ev.attempts, "error", err)
			continue
		}
		p.logger.Warn("ledger flush failed, will retry", "ip", ev.SourceID, "error", err)
		rest = append([]pendingEvent{ev}, events[i+1:]...)
		break
	}

	if len(detections) == 0 {
		return rest
	}
	batch := make([]core.Detection, len(detections))
	for i, d := range detections {
		batch[i] = core.Detection{SourceID: d.SourceID, Reason: d.Reason, Timestamp: d.Timestamp}
	}
	if err := p.ledgerRepo.SaveDetections(ctx, batch); err != nil {
		metrics.PersistFailuresTotal.WithLabelValues("detections").Inc()
		kept := detections[:0]
		for _, d := range detections {
			d.attempts++
			if d.attempts < maxEventAttempts {
				kept = append(kept, d)
			}
		}
		p.logger.Warn("detection flush failed", "count", len(detections), "retrying", len(kept), "error", err)
		return append(kept, rest...)
	}
	return rest
}
