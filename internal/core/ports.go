package core

import (
	"context"
)

// Estimator is the anomaly classifier contract. Predict must be an in-memory
// lookup; it runs on every admitted request.
type Estimator interface {
	Predict(features FeatureVector) (isAnomalous bool, confidence float64)
}

// LedgerRepository persists blocklist membership and the detection audit trail
type LedgerRepository interface {
	SaveBlock(ctx context.Context, rec BlockRecord) error
	DeleteBlock(ctx context.Context, sourceID string) error
	SaveDetections(ctx context.Context, detections []Detection) error

	LoadBlocks(ctx context.Context) ([]BlockRecord, error)
	LoadDetections(ctx context.Context) ([]Detection, error)
}

// LogRepository archives traffic log records
type LogRepository interface {
	SaveLogs(ctx context.Context, records []LogRecord) error
	RecentLogs(ctx context.Context, limit int64) ([]LogRecord, error)
}
