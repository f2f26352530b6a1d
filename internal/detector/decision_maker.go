package detector

import (
	"fmt"

	"bot-admission-gateway/internal/core"
)

const (
	ScoreBlocked     = 1.0
	ScoreSignature   = 0.95
	ScoreCoordinated = 0.99
	// ScoreRateLimited is the floor applied when the limiter escalates.
	ScoreRateLimited = 0.9

	DefaultMLThreshold = 0.8
)

// Prediction is the estimator output for one request.
type Prediction struct {
	Anomalous  bool
	Confidence float64
}

// Decide centralizes the verdict fusion. First match wins:
// already blocked, signature, confident estimator, coordinated attack, allow.
// Rate and burst conditions are not part of fusion; see Escalate.
func Decide(o RuleOutcome, p Prediction, mlThreshold float64) core.Assessment {
	// ------------------------------------------
	// 1. Deterministic layer
	// ------------------------------------------
	if o.AlreadyBlocked {
		return core.Assessment{Verdict: core.Block, Reason: "IP is already blocked", Score: ScoreBlocked, Source: "Rule Engine"}
	}

	if o.SignatureMatch {
		return core.Assessment{Verdict: core.Suspicious, Reason: o.SignatureReason, Score: ScoreSignature, Source: "Rule Engine"}
	}

	// ------------------------------------------
	// 2. Estimator
	// ------------------------------------------
	if p.Anomalous && p.Confidence > mlThreshold {
		return core.Assessment{
			Verdict: core.Suspicious,
			Reason:  fmt.Sprintf("ML Detection (Confidence: %.2f)", p.Confidence),
			Score:   p.Confidence,
			Source:  "ML Engine",
		}
	}

	if o.Coordinated {
		return core.Assessment{Verdict: core.Suspicious, Reason: o.CoordinatedReason, Score: ScoreCoordinated, Source: "Rule Engine"}
	}

	return core.Assessment{Verdict: core.Allow, Reason: "Clean", Score: p.Confidence, Source: "None"}
}

// Escalate applies a rate or burst condition on top of a fused verdict.
func Escalate(a core.Assessment, reason string) core.Assessment {
	score := a.Score
	if score < ScoreRateLimited {
		score = ScoreRateLimited
	}
	return core.Assessment{Verdict: core.Suspicious, Reason: reason, Score: score, Source: "Rate Limiter"}
}

// Threat maps the final state of a request to the level shown in the log.
func Threat(a core.Assessment, blocked bool, p Prediction, mlThreshold float64) core.ThreatLevel {
	switch {
	case blocked || p.Confidence > mlThreshold:
		return core.ThreatHigh
	case a.Verdict == core.Suspicious:
		return core.ThreatMedium
	default:
		return core.ThreatLow
	}
}
