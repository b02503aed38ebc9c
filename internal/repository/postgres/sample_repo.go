package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/csma94/guard-sub003/internal/domain"
)

type SampleRepo struct {
	db *sql.DB
}

func NewSampleRepo(db *sql.DB) *SampleRepo {
	return &SampleRepo{db: db}
}

// InsertSamples пишет пачку точек трека одним запросом.
// ON CONFLICT DO NOTHING: ретрай устройства, проскочивший оперативное
// окно дедупликации, не должен ронять всю пачку.
func (r *SampleRepo) InsertSamples(ctx context.Context, batch []domain.LocationSample) error {
	if len(batch) == 0 {
		return nil
	}

	// Количество колонок в таблице location_samples
	numFields := 11
	placeholderStr := ""
	vals := make([]interface{}, 0, len(batch)*numFields)

	for i, s := range batch {
		p := i * numFields
		placeholderStr += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10, p+11)

		vals = append(vals,
			s.SampleID, s.AgentID, s.SiteID, s.Latitude, s.Longitude,
			s.AccuracyM, s.SpeedKmh, s.Heading, s.Timestamp, s.ReceivedAt, s.TraceID,
		)
	}

	query := fmt.Sprintf(
		"INSERT INTO location_samples (sample_id, agent_id, site_id, lat, lon, accuracy_m, speed_kmh, heading, ts, received_at, trace_id) VALUES %s ON CONFLICT (sample_id) DO NOTHING",
		strings.TrimSuffix(placeholderStr, ","),
	)

	_, err := r.db.ExecContext(ctx, query, vals...)
	return err
}

// ListSamples — кусок трека агента для проигрывания маршрута в консоли.
// Порядок хронологический: так рисуется линия движения.
func (r *SampleRepo) ListSamples(ctx context.Context, agentID string, from, to time.Time, limit int) ([]*domain.LocationSample, error) {
	if limit <= 0 || limit > 10000 {
		limit = 1000
	}

	query := `
		SELECT sample_id, agent_id, site_id, lat, lon, accuracy_m, speed_kmh, heading, ts
		FROM location_samples
		WHERE agent_id = $1 AND ts >= $2 AND ts < $3
		ORDER BY ts ASC
		LIMIT $4`

	rows, err := r.db.QueryContext(ctx, query, agentID, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query samples: %w", err)
	}
	defer rows.Close()

	results := make([]*domain.LocationSample, 0)
	for rows.Next() {
		var s domain.LocationSample
		err := rows.Scan(&s.SampleID, &s.AgentID, &s.SiteID, &s.Latitude, &s.Longitude,
			&s.AccuracyM, &s.SpeedKmh, &s.Heading, &s.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan sample: %w", err)
		}
		results = append(results, &s)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}
