package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/csma94/guard-sub003/internal/domain"
)

type CheckinRepo struct {
	db *sql.DB
}

func NewCheckinRepo(db *sql.DB) *CheckinRepo {
	return &CheckinRepo{db: db}
}

func (r *CheckinRepo) InsertCheckin(ctx context.Context, c domain.PatrolCheckin) error {
	query := `
		INSERT INTO patrol_checkins (id, agent_id, zone_id, checkpoint_id, event_id, source, checked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		c.ID, c.AgentID, c.ZoneID, c.CheckpointID, c.EventID, c.Source, c.CheckedAt)
	if err != nil {
		return fmt.Errorf("postgres: failed to insert checkin: %w", err)
	}
	return nil
}

// ListCheckins — отметки обхода агента за период, в порядке прохождения.
// Из них строится отчет «какие контрольные точки пройдены за смену».
func (r *CheckinRepo) ListCheckins(ctx context.Context, agentID string, from, to time.Time) ([]*domain.PatrolCheckin, error) {
	query := `
		SELECT id, agent_id, zone_id, checkpoint_id, event_id, source, checked_at
		FROM patrol_checkins
		WHERE agent_id = $1 AND checked_at >= $2 AND checked_at < $3
		ORDER BY checked_at ASC`

	rows, err := r.db.QueryContext(ctx, query, agentID, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query checkins: %w", err)
	}
	defer rows.Close()

	results := make([]*domain.PatrolCheckin, 0)
	for rows.Next() {
		var c domain.PatrolCheckin
		var eventID sql.NullString
		err := rows.Scan(&c.ID, &c.AgentID, &c.ZoneID, &c.CheckpointID, &eventID, &c.Source, &c.CheckedAt)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan checkin: %w", err)
		}
		c.EventID = eventID.String
		results = append(results, &c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}
