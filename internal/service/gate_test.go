package service

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"bot-admission-gateway/internal/core"
	"bot-admission-gateway/internal/detector"
	"bot-admission-gateway/internal/ledger"
	"bot-admission-gateway/internal/tracker"
	"bot-admission-gateway/internal/trafficlog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0"

type stubEstimator struct {
	anomalous bool
	conf      float64
	calls     atomic.Int64
}

func (s *stubEstimator) Predict(core.FeatureVector) (bool, float64) {
	s.calls.Add(1)
	return s.anomalous, s.conf
}

type panicEstimator struct{}

func (panicEstimator) Predict(core.FeatureVector) (bool, float64) { panic("model corrupted") }

type nanEstimator struct{}

func (nanEstimator) Predict(core.FeatureVector) (bool, float64) { return true, math.NaN() }

func newTestGate(est core.Estimator, cfg GateConfig) *AdmissionGate {
	tr := tracker.New(tracker.DefaultWindow, nil)
	engine := detector.NewEngine(detector.DefaultThresholds(), tr)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	g := NewAdmissionGate(tr, engine, est, ledger.New(), trafficlog.New(500), cfg, logger)
	g.now = func() time.Time { return t0 }
	return g
}

func request(ip, path, ua string, at time.Time) core.AdmissionRequest {
	return core.AdmissionRequest{SourceID: ip, Path: path, Method: http.MethodGet, UserAgent: ua, Now: at}
}

func TestAdmit_RateLimitScenario(t *testing.T) {
	cfg := DefaultGateConfig()
	cfg.BlockOnSpike = false
	g := newTestGate(&stubEstimator{conf: 0.1}, cfg)

	step := 10 * time.Second / 60
	for i := 0; i < 60; i++ {
		dec := g.Admit(request("203.0.113.5", fmt.Sprintf("/page/%d", i), browserUA, t0.Add(time.Duration(i)*step)))

		switch {
		case i < 50:
			require.True(t, dec.Admit, "request %d", i+1)
			assert.Equal(t, core.Allow, dec.Verdict)
			assert.Equal(t, core.ThreatLow, dec.ThreatLevel)
			assert.Equal(t, http.StatusOK, dec.Status)
		case i == 50:
			require.False(t, dec.Admit)
			assert.Equal(t, http.StatusForbidden, dec.Status)
			assert.Equal(t, core.ThreatHigh, dec.ThreatLevel)
			assert.Equal(t, core.Suspicious, dec.Verdict)
			assert.Contains(t, dec.Reason, "Rate limit exceeded: 51")
			assert.Equal(t, 0.9, dec.Score)
		default:
			require.False(t, dec.Admit)
			assert.Equal(t, core.Block, dec.Verdict)
			assert.Equal(t, core.ThreatHigh, dec.ThreatLevel)
			assert.Equal(t, 1.0, dec.Score)
		}
	}

	assert.True(t, g.IsBlocked("203.0.113.5"))
	d := g.Detections()
	require.Len(t, d, 2)
	assert.Equal(t, SpikeDetectionReason, d[0].Reason)
	assert.Contains(t, d[1].Reason, "Rate limit exceeded")

	logs := g.RecentLogs(0)
	require.Len(t, logs, 60)
	assert.Equal(t, http.StatusForbidden, logs[0].Status)
	assert.Equal(t, core.ThreatHigh, logs[0].ThreatLevel)
	assert.Equal(t, http.StatusOK, logs[59].Status)
}

func TestAdmit_SpikeBlocksByDefault(t *testing.T) {
	g := newTestGate(&stubEstimator{conf: 0.1}, DefaultGateConfig())

	for i := 0; i < 4; i++ {
		dec := g.Admit(request("198.51.100.1", "/", browserUA, t0.Add(time.Duration(i)*100*time.Millisecond)))
		require.True(t, dec.Admit, "request %d", i+1)
	}

	dec := g.Admit(request("198.51.100.1", "/", browserUA, t0.Add(400*time.Millisecond)))
	assert.False(t, dec.Admit)
	assert.Contains(t, dec.Reason, "Traffic spike")
	assert.True(t, g.IsBlocked("198.51.100.1"))
}

func TestAdmit_SpikeMonitoredWhenNotBlocking(t *testing.T) {
	cfg := DefaultGateConfig()
	cfg.BlockOnSpike = false
	g := newTestGate(&stubEstimator{conf: 0.1}, cfg)

	for i := 0; i < 6; i++ {
		dec := g.Admit(request("198.51.100.2", "/", browserUA, t0.Add(time.Duration(i)*100*time.Millisecond)))
		require.True(t, dec.Admit, "request %d", i+1)
		assert.Equal(t, core.Allow, dec.Verdict)
	}

	assert.False(t, g.IsBlocked("198.51.100.2"))
	d := g.Detections()
	require.Len(t, d, 1)
	assert.Equal(t, "198.51.100.2", d[0].SourceID)
	assert.Equal(t, SpikeDetectionReason, d[0].Reason)
	assert.Equal(t, t0.Add(400*time.Millisecond), d[0].Timestamp)
}

func TestAdmit_WindowReset(t *testing.T) {
	g := newTestGate(&stubEstimator{conf: 0.1}, DefaultGateConfig())

	for i := 0; i < 50; i++ {
		dec := g.Admit(request("192.0.2.7", "/", browserUA, t0.Add(time.Duration(i)*time.Second)))
		require.True(t, dec.Admit, "request %d", i+1)
	}

	// 51st request would exceed the limit, but the window has expired.
	dec := g.Admit(request("192.0.2.7", "/", browserUA, t0.Add(61*time.Second)))
	assert.True(t, dec.Admit)
	assert.Equal(t, core.Allow, dec.Verdict)
}

func TestAdmit_SignatureBeatsEstimator(t *testing.T) {
	est := &stubEstimator{anomalous: true, conf: 0.99}
	g := newTestGate(est, DefaultGateConfig())

	dec := g.Admit(request("10.1.1.1", "/", "curl/8.4.0", t0))
	assert.True(t, dec.Admit)
	assert.Equal(t, core.Suspicious, dec.Verdict)
	assert.Equal(t, 0.95, dec.Score)
	assert.Equal(t, "Suspicious User-Agent: curl/8.4.0", dec.Reason)
	assert.Equal(t, core.ThreatHigh, dec.ThreatLevel)

	quiet := newTestGate(&stubEstimator{conf: 0.1}, DefaultGateConfig())
	dec = quiet.Admit(request("10.1.1.1", "/", "curl/8.4.0", t0))
	assert.Equal(t, 0.95, dec.Score)
	assert.Equal(t, core.ThreatMedium, dec.ThreatLevel)

	// identical reason is recorded once
	quiet.Admit(request("10.1.1.1", "/", "curl/8.4.0", t0.Add(10*time.Second)))
	assert.Len(t, quiet.Detections(), 1)
	assert.False(t, quiet.IsBlocked("10.1.1.1"))
}

func TestAdmit_EstimatorDetection(t *testing.T) {
	g := newTestGate(&stubEstimator{anomalous: true, conf: 0.91}, DefaultGateConfig())

	dec := g.Admit(request("10.2.2.2", "/", browserUA, t0))
	assert.True(t, dec.Admit)
	assert.Equal(t, core.Suspicious, dec.Verdict)
	assert.Equal(t, "ML Detection (Confidence: 0.91)", dec.Reason)
	assert.Equal(t, core.ThreatHigh, dec.ThreatLevel)
}

func TestAdmit_AlreadyBlockedShortCircuits(t *testing.T) {
	est := &stubEstimator{anomalous: true, conf: 0.99}
	g := newTestGate(est, DefaultGateConfig())
	require.NoError(t, g.Block("10.3.3.3", ""))

	dec := g.Admit(request("10.3.3.3", "/", "curl/8", t0))
	assert.False(t, dec.Admit)
	assert.Equal(t, http.StatusForbidden, dec.Status)
	assert.Equal(t, core.Block, dec.Verdict)
	assert.Equal(t, 1.0, dec.Score)
	assert.Equal(t, core.ThreatHigh, dec.ThreatLevel)
	assert.Equal(t, "IP is already blocked", dec.Reason)

	assert.Zero(t, est.calls.Load())
	require.Len(t, g.Detections(), 1, "only the block itself")
	assert.Equal(t, ManualBlockReason, g.Detections()[0].Reason)
}

func TestAdmit_CoordinatedAttack(t *testing.T) {
	g := newTestGate(&stubEstimator{conf: 0.1}, DefaultGateConfig())

	var dec core.AdmissionDecision
	for i := 1; i <= 11; i++ {
		dec = g.Admit(request(fmt.Sprintf("100.64.0.%d", i), "/", browserUA, t0.Add(time.Duration(i)*100*time.Millisecond)))
		if i <= 10 {
			require.Equal(t, core.Allow, dec.Verdict, "source %d", i)
		}
	}

	assert.Equal(t, core.Suspicious, dec.Verdict)
	assert.Equal(t, 0.99, dec.Score)
	assert.Contains(t, dec.Reason, "Coordinated attack: 11 sources")
	assert.True(t, dec.Admit)
	assert.Equal(t, core.ThreatMedium, dec.ThreatLevel)
}

func TestAdmit_EstimatorFailuresFallBackToRules(t *testing.T) {
	for name, est := range map[string]core.Estimator{
		"missing": nil,
		"panics":  panicEstimator{},
		"nan":     nanEstimator{},
	} {
		t.Run(name, func(t *testing.T) {
			g := newTestGate(est, DefaultGateConfig())

			dec := g.Admit(request("10.4.4.4", "/", browserUA, t0))
			assert.True(t, dec.Admit)
			assert.Equal(t, core.Allow, dec.Verdict)
			assert.Zero(t, dec.Score)

			dec = g.Admit(request("10.4.4.5", "/", "python-requests/2.31", t0))
			assert.Equal(t, core.Suspicious, dec.Verdict)
			assert.Equal(t, 0.95, dec.Score)
		})
	}
}

func TestAdmit_NormalizesMalformedInput(t *testing.T) {
	g := newTestGate(&stubEstimator{}, DefaultGateConfig())

	dec := g.Admit(core.AdmissionRequest{SourceID: "  ", Now: t0})
	assert.True(t, dec.Admit)

	rec := g.RecentLogs(1)[0]
	assert.Equal(t, core.AnonymousSource, rec.SourceID)
	assert.Equal(t, "/", rec.Path)
	assert.Equal(t, http.MethodGet, rec.Method)
	assert.Equal(t, "Unknown", rec.UserAgent)
}

func TestBlockUnblockCommands(t *testing.T) {
	g := newTestGate(&stubEstimator{}, DefaultGateConfig())

	require.NoError(t, g.Block("10.5.5.5", ""))
	assert.ErrorIs(t, g.Block("10.5.5.5", "again"), ledger.ErrAlreadyBlocked)
	assert.Equal(t, ManualBlockReason, g.Blocklist()[0].Reason)

	require.NoError(t, g.Unblock("10.5.5.5"))
	assert.ErrorIs(t, g.Unblock("10.5.5.5"), ledger.ErrNotFound)

	dec := g.Admit(request("10.5.5.5", "/", browserUA, t0))
	assert.True(t, dec.Admit)
}

func TestBlockCommand_RecordsDetection(t *testing.T) {
	g := newTestGate(&stubEstimator{}, DefaultGateConfig())

	require.NoError(t, g.Block("10.9.9.9", "operator says so"))
	require.NoError(t, g.Block("10.9.9.8", ""))

	d := g.Detections()
	require.Len(t, d, 2)
	assert.Equal(t, core.Detection{SourceID: "10.9.9.9", Reason: "operator says so", Timestamp: t0}, d[0])
	assert.Equal(t, ManualBlockReason, d[1].Reason)
	assert.Equal(t, 2, g.Stats().DetectionCount)
}

func TestStatsAndHooks(t *testing.T) {
	g := newTestGate(&stubEstimator{}, DefaultGateConfig())
	var hooked []core.LogRecord
	g.OnLog(func(r core.LogRecord) { hooked = append(hooked, r) })

	g.Admit(request("10.6.6.1", "/", browserUA, t0))
	g.Admit(request("10.6.6.2", "/", "Wget/1.21", t0))
	require.NoError(t, g.Block("10.6.6.3", "manual"))

	s := g.Stats()
	assert.Equal(t, int64(2), s.TotalRequests)
	assert.Equal(t, 1, s.BlockedCount)
	assert.Equal(t, 2, s.DetectionCount)
	assert.Equal(t, 2, s.TrackedSources)
	assert.Len(t, hooked, 2)
}
