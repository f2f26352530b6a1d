package core

import "time"

// AnonymousSource is used when a request carries no usable source identifier.
const AnonymousSource = "anonymous"

// --- Verdict Models ---

type Verdict string

const (
	Allow      Verdict = "ALLOW"
	Suspicious Verdict = "SUSPICIOUS"
	Block      Verdict = "BLOCK"
)

type ThreatLevel string

const (
	ThreatLow    ThreatLevel = "LOW"
	ThreatMedium ThreatLevel = "MEDIUM"
	ThreatHigh   ThreatLevel = "HIGH"
)

// FeatureVector is the fixed-shape input of the anomaly estimator.
type FeatureVector struct {
	RequestRate     float64 `json:"request_rate"`
	PathDiversity   float64 `json:"path_diversity"`
	UserAgentScore  float64 `json:"user_agent_score"`
	AvgInterArrival float64 `json:"avg_inter_arrival"`
}

// Values returns the features in the order the estimator was trained on.
func (f FeatureVector) Values() []float64 {
	return []float64{f.RequestRate, f.PathDiversity, f.UserAgentScore, f.AvgInterArrival}
}

// Assessment is a fused verdict with the reason and score behind it.
type Assessment struct {
	Verdict Verdict `json:"verdict"`
	Reason  string  `json:"reason"`
	Score   float64 `json:"score"`
	Source  string  `json:"source"` // "Rule Engine", "ML Engine", "Rate Limiter" or "None"
}

// --- Geo Models ---

type Location struct {
	Continent string  `bson:"continent" json:"continent"`
	Name      string  `bson:"name" json:"name"`
	Lat       float64 `bson:"lat" json:"lat"`
	Lng       float64 `bson:"lng" json:"lng"`
}

// --- Ledger Models ---

type Detection struct {
	SourceID  string    `bson:"ip" json:"ip"`
	Reason    string    `bson:"reason" json:"reason"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

type BlockRecord struct {
	SourceID  string    `bson:"_id" json:"ip"`
	Reason    string    `bson:"reason" json:"reason"`
	BlockedAt time.Time `bson:"blocked_at" json:"blocked_at"`
}

// LedgerEvent describes a single ledger transition, used for persistence.
type LedgerEvent struct {
	Kind      LedgerEventKind
	SourceID  string
	Reason    string
	Timestamp time.Time
}

type LedgerEventKind int

const (
	EventBlocked LedgerEventKind = iota + 1
	EventUnblocked
	EventDetected
)

// --- Log Models ---

type LogRecord struct {
	Timestamp   time.Time   `bson:"timestamp" json:"timestamp"`
	SourceID    string      `bson:"ip" json:"ip"`
	Path        string      `bson:"path" json:"path"`
	Method      string      `bson:"method" json:"method"`
	UserAgent   string      `bson:"user_agent" json:"user_agent"`
	Status      int         `bson:"status" json:"status"`
	ThreatLevel ThreatLevel `bson:"threat_level" json:"threat_level"`
	Score       float64     `bson:"ml_score" json:"ml_score"`
	Geo         *Location   `bson:"geo,omitempty" json:"geo,omitempty"`
}

// --- Admission Models ---

// AdmissionRequest is what the front door hands to the gate for every request.
type AdmissionRequest struct {
	SourceID  string
	Path      string
	Method    string
	UserAgent string
	Now       time.Time
}

// AdmissionDecision is what the gate hands back.
type AdmissionDecision struct {
	Admit       bool        `json:"admit"`
	Status      int         `json:"status"`
	Verdict     Verdict     `json:"verdict"`
	ThreatLevel ThreatLevel `json:"threat_level"`
	Reason      string      `json:"reason"`
	Score       float64     `json:"score"`
}

// Stats is the aggregate view exposed to the dashboard.
type Stats struct {
	TotalRequests  int64 `json:"total_requests"`
	BlockedCount   int   `json:"blocked_ips"`
	DetectionCount int   `json:"detected_bots"`
	TrackedSources int   `json:"tracked_sources"`
}
