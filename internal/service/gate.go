package service

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"bot-admission-gateway/internal/core"
	"bot-admission-gateway/internal/detector"
	"bot-admission-gateway/internal/ledger"
	"bot-admission-gateway/internal/metrics"
	"bot-admission-gateway/internal/tracker"
	"bot-admission-gateway/internal/trafficlog"
)

// ManualBlockReason is recorded when an operator blocks without a reason.
const ManualBlockReason = "Manual block"

// SpikeDetectionReason goes into the audit trail for a burst that is only
// monitored. It carries no count so repeated bursts collapse into one entry.
const SpikeDetectionReason = "Traffic spike detected"

type GateConfig struct {
	MLThreshold float64
	// BlockOnSpike makes a burst escalate and block like the rate limit does.
	// Otherwise a burst is recorded as a detection and the verdict stands.
	BlockOnSpike bool
}

func DefaultGateConfig() GateConfig {
	return GateConfig{MLThreshold: detector.DefaultMLThreshold, BlockOnSpike: true}
}

// LogHook receives every log record after it is appended to the buffer.
type LogHook func(core.LogRecord)

// AdmissionGate runs the full per-request pipeline: track, score, decide,
// enforce and log.
type AdmissionGate struct {
	tracker   *tracker.Tracker
	engine    *detector.Engine
	estimator core.Estimator
	ledger    *ledger.Ledger
	logs      *trafficlog.Buffer
	cfg       GateConfig
	logger    *slog.Logger

	now   func() time.Time
	hooks []LogHook

	totalRequests atomic.Int64
	fallbackOnce  sync.Once
}

func NewAdmissionGate(
	tr *tracker.Tracker,
	engine *detector.Engine,
	estimator core.Estimator,
	led *ledger.Ledger,
	logs *trafficlog.Buffer,
	cfg GateConfig,
	logger *slog.Logger,
) *AdmissionGate {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MLThreshold <= 0 {
		cfg.MLThreshold = detector.DefaultMLThreshold
	}
	return &AdmissionGate{
		tracker:   tr,
		engine:    engine,
		estimator: estimator,
		ledger:    led,
		logs:      logs,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// OnLog registers a hook. Call before serving traffic.
func (g *AdmissionGate) OnLog(h LogHook) {
	g.hooks = append(g.hooks, h)
}

// Admit decides a single request. It never fails; the worst case is a
// decision made on rules alone.
func (g *AdmissionGate) Admit(req core.AdmissionRequest) core.AdmissionDecision {
	start := time.Now()
	req = g.normalize(req)
	g.totalRequests.Add(1)

	count, snap := g.tracker.Record(req.SourceID, req.Path, req.Now)

	if g.ledger.IsBlocked(req.SourceID) {
		outcome := g.engine.Evaluate(detector.RuleInput{Blocked: true})
		a := detector.Decide(outcome, detector.Prediction{}, g.cfg.MLThreshold)
		dec := core.AdmissionDecision{
			Admit:       false,
			Status:      http.StatusForbidden,
			Verdict:     a.Verdict,
			ThreatLevel: core.ThreatHigh,
			Reason:      a.Reason,
			Score:       a.Score,
		}
		g.finish(req, snap.Geo, dec, start)
		return dec
	}

	features := detector.Extract(snap, req.UserAgent)
	pred := g.predict(features)

	outcome := g.engine.Evaluate(detector.RuleInput{
		Count:      count,
		UserAgent:  req.UserAgent,
		Features:   features,
		Timestamps: snap.Timestamps,
		Now:        req.Now,
	})
	a := detector.Decide(outcome, pred, g.cfg.MLThreshold)

	switch {
	case outcome.RateLimited:
		a = detector.Escalate(a, outcome.RateReason)
		g.autoBlock(req.SourceID, outcome.RateReason, "rate_limit", req.Now)
	case outcome.Spike && g.cfg.BlockOnSpike:
		a = detector.Escalate(a, outcome.SpikeReason)
		g.autoBlock(req.SourceID, outcome.SpikeReason, "spike", req.Now)
	case outcome.Spike:
		metrics.SpikesObservedTotal.Inc()
		if g.ledger.AddDetection(req.SourceID, SpikeDetectionReason, req.Now) {
			g.logger.Info("traffic spike", "ip", req.SourceID, "reason", outcome.SpikeReason)
		}
	}

	if a.Verdict == core.Suspicious {
		g.ledger.AddDetection(req.SourceID, a.Reason, req.Now)
	}

	// a concurrent request or an operator may have blocked the source meanwhile
	blocked := g.ledger.IsBlocked(req.SourceID)

	dec := core.AdmissionDecision{
		Admit:       !blocked,
		Status:      http.StatusOK,
		Verdict:     a.Verdict,
		ThreatLevel: detector.Threat(a, blocked, pred, g.cfg.MLThreshold),
		Reason:      a.Reason,
		Score:       a.Score,
	}
	if blocked {
		dec.Status = http.StatusForbidden
	}

	g.finish(req, snap.Geo, dec, start)
	return dec
}

func (g *AdmissionGate) normalize(req core.AdmissionRequest) core.AdmissionRequest {
	req.SourceID = strings.TrimSpace(req.SourceID)
	if req.SourceID == "" {
		req.SourceID = core.AnonymousSource
	}
	if req.Path == "" {
		req.Path = "/"
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if req.Now.IsZero() {
		req.Now = g.now()
	}
	return req
}

func (g *AdmissionGate) predict(features core.FeatureVector) (p detector.Prediction) {
	if g.estimator == nil {
		g.fallback(nil)
		return detector.Prediction{}
	}
	if a, ok := g.estimator.(interface{ Available() bool }); ok && !a.Available() {
		g.fallback(nil)
		return detector.Prediction{}
	}

	defer func() {
		if r := recover(); r != nil {
			g.fallback(fmt.Errorf("estimator panic: %v", r))
			p = detector.Prediction{}
		}
	}()

	anomalous, confidence := g.estimator.Predict(features)
	if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
		g.fallback(fmt.Errorf("estimator returned confidence %v", confidence))
		return detector.Prediction{}
	}
	return detector.Prediction{Anomalous: anomalous, Confidence: confidence}
}

func (g *AdmissionGate) fallback(err error) {
	metrics.EstimatorFallbacksTotal.Inc()
	g.fallbackOnce.Do(func() {
		g.logger.Warn("estimator unavailable, deciding on rules only", "error", err)
	})
}

func (g *AdmissionGate) autoBlock(sourceID, reason, cause string, now time.Time) {
	if err := g.ledger.Block(sourceID, reason, now); err != nil {
		return
	}
	metrics.AutoBlocksTotal.WithLabelValues(cause).Inc()
	metrics.BlockedSources.Set(float64(g.ledger.BlockedCount()))
	g.logger.Warn("source blocked", "ip", sourceID, "reason", reason)
}

func (g *AdmissionGate) finish(req core.AdmissionRequest, geo *core.Location, dec core.AdmissionDecision, start time.Time) {
	ua := req.UserAgent
	if ua == "" {
		ua = "Unknown"
	}
	rec := core.LogRecord{
		Timestamp:   req.Now,
		SourceID:    req.SourceID,
		Path:        req.Path,
		Method:      req.Method,
		UserAgent:   ua,
		Status:      dec.Status,
		ThreatLevel: dec.ThreatLevel,
		Score:       dec.Score,
		Geo:         geo,
	}
	g.logs.Append(rec)
	for _, h := range g.hooks {
		h(rec)
	}

	metrics.AdmissionsTotal.WithLabelValues(string(dec.Verdict), string(dec.ThreatLevel)).Inc()
	metrics.AdmissionDuration.Observe(time.Since(start).Seconds())
}

// --- Commands ---

// Block puts sourceID on the blocklist on an operator's behalf.
func (g *AdmissionGate) Block(sourceID, reason string) error {
	if reason == "" {
		reason = ManualBlockReason
	}
	err := g.ledger.Block(sourceID, reason, g.now())
	recordCommand("block", err)
	if err == nil {
		metrics.BlockedSources.Set(float64(g.ledger.BlockedCount()))
		g.logger.Info("source blocked by operator", "ip", sourceID, "reason", reason)
	}
	return err
}

func (g *AdmissionGate) Unblock(sourceID string) error {
	err := g.ledger.Unblock(sourceID, g.now())
	recordCommand("unblock", err)
	if err == nil {
		metrics.BlockedSources.Set(float64(g.ledger.BlockedCount()))
		g.logger.Info("source unblocked by operator", "ip", sourceID)
	}
	return err
}

func recordCommand(cmd string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrAlreadyBlocked):
		result = "already_blocked"
	case errors.Is(err, ledger.ErrNotFound):
		result = "not_found"
	default:
		result = "error"
	}
	metrics.ManualCommandsTotal.WithLabelValues(cmd, result).Inc()
}

// --- Queries ---

func (g *AdmissionGate) Stats() core.Stats {
	tracked := g.tracker.Len()
	metrics.TrackedSources.Set(float64(tracked))
	return core.Stats{
		TotalRequests:  g.totalRequests.Load(),
		BlockedCount:   g.ledger.BlockedCount(),
		DetectionCount: g.ledger.DetectionCount(),
		TrackedSources: tracked,
	}
}

func (g *AdmissionGate) RecentLogs(n int) []core.LogRecord {
	return g.logs.Recent(n)
}

func (g *AdmissionGate) Detections() []core.Detection {
	return g.ledger.Detections()
}

func (g *AdmissionGate) Blocklist() []core.BlockRecord {
	return g.ledger.Blocked()
}

func (g *AdmissionGate) IsBlocked(sourceID string) bool {
	return g.ledger.IsBlocked(sourceID)
}

// Logs exposes the live buffer for streaming subscribers.
func (g *AdmissionGate) Logs() *trafficlog.Buffer {
	return g.logs
}

// Ledger exposes the blocklist for exports and persistence.
func (g *AdmissionGate) Ledger() *ledger.Ledger {
	return g.ledger
}
