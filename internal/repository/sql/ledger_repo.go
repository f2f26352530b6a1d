package sql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"bot-admission-gateway/internal/core"

	_ "github.com/go-sql-driver/mysql" // Ensure mysql driver is imported anonymously
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS blocked_sources (
		ip         VARCHAR(64)  NOT NULL PRIMARY KEY,
		reason     VARCHAR(512) NOT NULL,
		blocked_at DATETIME(6)  NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS detections (
		id          BIGINT AUTO_INCREMENT PRIMARY KEY,
		ip          VARCHAR(64)  NOT NULL,
		reason      VARCHAR(191) NOT NULL,
		detected_at DATETIME(6)  NOT NULL,
		UNIQUE KEY uniq_ip_reason (ip, reason)
	)`,
	`CREATE TABLE IF NOT EXISTS traffic_logs (
		id           BIGINT AUTO_INCREMENT PRIMARY KEY,
		ts           DATETIME(6)  NOT NULL,
		ip           VARCHAR(64)  NOT NULL,
		path         VARCHAR(2048) NOT NULL,
		method       VARCHAR(16)  NOT NULL,
		user_agent   VARCHAR(512) NOT NULL,
		status       INT          NOT NULL,
		threat_level VARCHAR(8)   NOT NULL,
		ml_score     DOUBLE       NOT NULL,
		continent    VARCHAR(8)   NULL,
		geo_name     VARCHAR(64)  NULL,
		lat          DOUBLE       NULL,
		lng          DOUBLE       NULL,
		KEY idx_ts (ts)
	)`,
}

// EnsureSchema creates the tables used by both repositories.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) SaveBlock(ctx context.Context, rec core.BlockRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO blocked_sources (ip, reason, blocked_at) VALUES (?, ?, ?)
		 ON DUPLICATE KEY UPDATE reason = VALUES(reason), blocked_at = VALUES(blocked_at)`,
		rec.SourceID, truncate(rec.Reason, 512), rec.BlockedAt.UTC())
	return err
}

func (r *LedgerRepository) DeleteBlock(ctx context.Context, sourceID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM blocked_sources WHERE ip = ?", sourceID)
	return err
}

// SaveDetections writes the batch in one statement; duplicates are ignored.
func (r *LedgerRepository) SaveDetections(ctx context.Context, detections []core.Detection) error {
	if len(detections) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString("INSERT IGNORE INTO detections (ip, reason, detected_at) VALUES ")
	args := make([]interface{}, 0, len(detections)*3)
	for i, d := range detections {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?)")
		args = append(args, d.SourceID, truncate(d.Reason, 191), d.Timestamp.UTC())
	}
	_, err := r.db.ExecContext(ctx, sb.String(), args...)
	return err
}

func (r *LedgerRepository) LoadBlocks(ctx context.Context) ([]core.BlockRecord, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT ip, reason, blocked_at FROM blocked_sources ORDER BY blocked_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.BlockRecord
	for rows.Next() {
		var rec core.BlockRecord
		if err := rows.Scan(&rec.SourceID, &rec.Reason, &rec.BlockedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *LedgerRepository) LoadDetections(ctx context.Context) ([]core.Detection, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT ip, reason, detected_at FROM detections ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Detection
	for rows.Next() {
		var d core.Detection
		if err := rows.Scan(&d.SourceID, &d.Reason, &d.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// truncate keeps at most n characters. VARCHAR lengths count characters,
// and a cut must not split a multi-byte rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return strings.ToValidUTF8(s[:i], "")
		}
		count++
	}
	return strings.ToValidUTF8(s, "")
}
