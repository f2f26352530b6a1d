package detector

import (
	"strings"
	"time"

	"bot-admission-gateway/internal/core"
	"bot-admission-gateway/internal/tracker"
)

// DefaultInterArrival is reported when there is not enough history to
// measure cadence; it reads as a slow, human-like client.
const DefaultInterArrival = 10.0

// BotSignatures are matched case-insensitively as User-Agent substrings.
var BotSignatures = []string{"bot", "crawler", "spider", "scraper", "python", "curl", "wget"}

// Extract derives the feature vector from a tracker snapshot. It is pure.
func Extract(snap tracker.Snapshot, userAgent string) core.FeatureVector {
	total := snap.Count
	if total < 1 {
		total = 1
	}
	return core.FeatureVector{
		RequestRate:     float64(snap.Count),
		PathDiversity:   float64(snap.DistinctPaths) / float64(total),
		UserAgentScore:  UserAgentScore(userAgent),
		AvgInterArrival: avgInterArrival(snap.Timestamps),
	}
}

// UserAgentScore is 0 for a known automation signature and 1 otherwise.
func UserAgentScore(userAgent string) float64 {
	if _, ok := MatchSignature(userAgent); ok {
		return 0.0
	}
	return 1.0
}

// MatchSignature reports the first signature contained in userAgent.
func MatchSignature(userAgent string) (string, bool) {
	lower := strings.ToLower(userAgent)
	for _, sig := range BotSignatures {
		if strings.Contains(lower, sig) {
			return sig, true
		}
	}
	return "", false
}

func avgInterArrival(ts []time.Time) float64 {
	if len(ts) < 2 {
		return DefaultInterArrival
	}
	var sum float64
	for i := 1; i < len(ts); i++ {
		sum += ts[i].Sub(ts[i-1]).Seconds()
	}
	return sum / float64(len(ts)-1)
}
