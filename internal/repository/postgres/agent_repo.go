package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/csma94/guard-sub003/internal/domain"
)

type AgentRepo struct {
	db *sql.DB
}

func NewAgentRepo(db *sql.DB) *AgentRepo {
	return &AgentRepo{db: db}
}

const agentColumns = `id, name, role, site_id, active, created_at, updated_at`

// GetAgent возвращает nil без ошибки, если агента нет.
func (r *AgentRepo) GetAgent(ctx context.Context, id string) (*domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE id = $1`

	var a domain.Agent
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&a.ID, &a.Name, &a.Role, &a.SiteID, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: failed to get agent: %w", err)
	}
	return &a, nil
}

// ListAgents — реестр охранников объекта (или всех, если siteID пуст).
// Флаг Online сюда не попадает: его накладывает сервис из presence-набора.
func (r *AgentRepo) ListAgents(ctx context.Context, siteID string) ([]*domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents`
	var args []interface{}
	if siteID != "" {
		query += ` WHERE site_id = $1`
		args = append(args, siteID)
	}
	query += ` ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query agents: %w", err)
	}
	defer rows.Close()

	results := make([]*domain.Agent, 0)
	for rows.Next() {
		var a domain.Agent
		err := rows.Scan(&a.ID, &a.Name, &a.Role, &a.SiteID, &a.Active, &a.CreatedAt, &a.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan agent: %w", err)
		}
		results = append(results, &a)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

// SetActive включает/выключает агента в реестре (увольнение, отпуск).
func (r *AgentRepo) SetActive(ctx context.Context, id string, active bool) error {
	query := `UPDATE agents SET active = $1, updated_at = NOW() WHERE id = $2`

	result, err := r.db.ExecContext(ctx, query, active, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to update agent: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("postgres: %w (id: %s)", domain.ErrAgentNotFound, id)
	}
	return nil
}
