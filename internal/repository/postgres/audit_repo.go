package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/csma94/guard-sub003/internal/domain"
)

type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

// InsertAudit пишет одну запись журнала. Вызывается из log-действий правил
// и из служебных операций консоли — объемы маленькие, батчинг не нужен.
func (r *AuditRepo) InsertAudit(ctx context.Context, rec domain.AuditRecord) error {
	query := `
		INSERT INTO audit_log (id, category, agent_id, zone_id, event_id, event_type, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.Category, rec.AgentID, rec.ZoneID,
		rec.EventID, rec.EventType, rec.Message, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: failed to insert audit record: %w", err)
	}
	return nil
}

// ListAudit — журнал для консоли, свежие записи первыми.
func (r *AuditRepo) ListAudit(ctx context.Context, category, agentID string, limit int) ([]*domain.AuditRecord, error) {
	query := `SELECT id, category, agent_id, zone_id, event_id, event_type, message, created_at FROM audit_log`

	var conds []string
	var args []interface{}
	if category != "" {
		args = append(args, category)
		conds = append(conds, fmt.Sprintf("category = $%d", len(args)))
	}
	if agentID != "" {
		args = append(args, agentID)
		conds = append(conds, fmt.Sprintf("agent_id = $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d", limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query audit log: %w", err)
	}
	defer rows.Close()

	results := make([]*domain.AuditRecord, 0)
	for rows.Next() {
		var rec domain.AuditRecord
		var zoneID, eventID, eventType sql.NullString
		err := rows.Scan(&rec.ID, &rec.Category, &rec.AgentID,
			&zoneID, &eventID, &eventType, &rec.Message, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan audit record: %w", err)
		}
		rec.ZoneID = zoneID.String
		rec.EventID = eventID.String
		rec.EventType = eventType.String
		results = append(results, &rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}
