package sql

import (
	"context"
	"database/sql"
	"strings"

	"bot-admission-gateway/internal/core"
)

type LogRepository struct {
	db *sql.DB
}

func NewLogRepository(db *sql.DB) *LogRepository {
	return &LogRepository{db: db}
}

func (r *LogRepository) SaveLogs(ctx context.Context, records []core.LogRecord) error {
	if len(records) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO traffic_logs
		(ts, ip, path, method, user_agent, status, threat_level, ml_score, continent, geo_name, lat, lng) VALUES `)
	args := make([]interface{}, 0, len(records)*12)
	for i, rec := range records {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")

		var continent, name sql.NullString
		var lat, lng sql.NullFloat64
		if rec.Geo != nil {
			continent = sql.NullString{String: rec.Geo.Continent, Valid: true}
			name = sql.NullString{String: rec.Geo.Name, Valid: true}
			lat = sql.NullFloat64{Float64: rec.Geo.Lat, Valid: true}
			lng = sql.NullFloat64{Float64: rec.Geo.Lng, Valid: true}
		}
		args = append(args,
			rec.Timestamp.UTC(), rec.SourceID, truncate(rec.Path, 2048), rec.Method,
			truncate(rec.UserAgent, 512), rec.Status, string(rec.ThreatLevel), rec.Score,
			continent, name, lat, lng,
		)
	}

	_, err := r.db.ExecContext(ctx, sb.String(), args...)
	return err
}

func (r *LogRepository) RecentLogs(ctx context.Context, limit int64) ([]core.LogRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT ts, ip, path, method, user_agent, status, threat_level, ml_score, continent, geo_name, lat, lng
		FROM traffic_logs
		ORDER BY ts DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.LogRecord
	for rows.Next() {
		var rec core.LogRecord
		var threat string
		var continent, name sql.NullString
		var lat, lng sql.NullFloat64
		if err := rows.Scan(&rec.Timestamp, &rec.SourceID, &rec.Path, &rec.Method, &rec.UserAgent,
			&rec.Status, &threat, &rec.Score, &continent, &name, &lat, &lng); err != nil {
			return nil, err
		}
		rec.ThreatLevel = core.ThreatLevel(threat)
		if continent.Valid {
			rec.Geo = &core.Location{Continent: continent.String, Name: name.String, Lat: lat.Float64, Lng: lng.Float64}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
