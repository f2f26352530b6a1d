package detector

import (
	"fmt"
	"time"

	"bot-admission-gateway/internal/core"
)

// Thresholds configures the deterministic checks.
type Thresholds struct {
	// RateLimit is the highest request count allowed in one window.
	RateLimit int
	// SpikeCount requests inside SpikeSpan count as a burst.
	SpikeCount int
	SpikeSpan  time.Duration
	// More than CoordinatedSources sources active inside CoordinatedSpan
	// is treated as a coordinated attack.
	CoordinatedSources int
	CoordinatedSpan    time.Duration
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		RateLimit:          50,
		SpikeCount:         5,
		SpikeSpan:          2 * time.Second,
		CoordinatedSources: 10,
		CoordinatedSpan:    2 * time.Second,
	}
}

// ActivityCounter reports how many sources were active since cutoff.
type ActivityCounter interface {
	ActiveSince(cutoff time.Time) int
}

// RuleInput is everything the rule engine looks at for one request.
type RuleInput struct {
	Blocked    bool
	Count      int
	UserAgent  string
	Features   core.FeatureVector
	Timestamps []time.Time
	Now        time.Time
}

// RuleOutcome lists which checks fired, with a reason for each.
type RuleOutcome struct {
	AlreadyBlocked bool

	SignatureMatch  bool
	SignatureReason string

	RateLimited bool
	RateReason  string

	Spike       bool
	SpikeReason string

	Coordinated       bool
	CoordinatedReason string
}

// Engine runs the deterministic checks in a fixed order.
type Engine struct {
	th       Thresholds
	activity ActivityCounter
}

func NewEngine(th Thresholds, activity ActivityCounter) *Engine {
	return &Engine{th: th, activity: activity}
}

func (e *Engine) Thresholds() Thresholds {
	return e.th
}

// Evaluate runs every check. An already blocked source short-circuits and
// nothing else is looked at.
func (e *Engine) Evaluate(in RuleInput) RuleOutcome {
	if in.Blocked {
		return RuleOutcome{AlreadyBlocked: true}
	}

	var out RuleOutcome

	// 1. Signature
	if in.Features.UserAgentScore == 0.0 {
		out.SignatureMatch = true
		out.SignatureReason = "Suspicious User-Agent: " + in.UserAgent
	}

	// 2. Window rate
	out.RateLimited, out.RateReason = e.CheckRate(in.Count)

	// 3. Burst
	out.Spike, out.SpikeReason = e.CheckSpike(in.Timestamps, in.Now)

	// 4. Cross-source activity
	if e.activity != nil {
		active := e.activity.ActiveSince(in.Now.Add(-e.th.CoordinatedSpan))
		out.Coordinated, out.CoordinatedReason = e.CheckCoordinated(active)
	}

	return out
}

// CheckRate fires once the window count exceeds the limit.
func (e *Engine) CheckRate(count int) (bool, string) {
	if count > e.th.RateLimit {
		return true, fmt.Sprintf("Rate limit exceeded: %d requests/min", count)
	}
	return false, ""
}

// CheckSpike fires when SpikeCount or more timestamps fall inside the last
// SpikeSpan (inclusive).
func (e *Engine) CheckSpike(timestamps []time.Time, now time.Time) (bool, string) {
	cutoff := now.Add(-e.th.SpikeSpan)
	recent := 0
	for i := len(timestamps) - 1; i >= 0; i-- {
		if timestamps[i].Before(cutoff) {
			break
		}
		recent++
	}
	if recent >= e.th.SpikeCount {
		return true, fmt.Sprintf("Traffic spike: %d requests in %s", recent, e.th.SpikeSpan)
	}
	return false, ""
}

// CheckCoordinated fires when more than CoordinatedSources are active.
func (e *Engine) CheckCoordinated(active int) (bool, string) {
	if active > e.th.CoordinatedSources {
		return true, fmt.Sprintf("Coordinated attack: %d sources active in %s", active, e.th.CoordinatedSpan)
	}
	return false, ""
}
