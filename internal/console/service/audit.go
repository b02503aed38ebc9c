package service

import (
	"context"
	"fmt"

	"github.com/csma94/guard-sub003/internal/domain"
)

// AuditLogProvider описывает контракт для чтения журнала аудита.
type AuditLogProvider interface {
	ListAudit(ctx context.Context, category, agentID string, limit int) ([]*domain.AuditRecord, error)
}

type AuditService struct {
	repo AuditLogProvider
}

func NewAuditService(repo AuditLogProvider) *AuditService {
	return &AuditService{
		repo: repo,
	}
}

// FetchLogs запрашивает журнал с фильтрацией.
// Логика фильтрации (пустые строки или конкретные значения) инкапсулирована в репозитории.
func (s *AuditService) FetchLogs(ctx context.Context, category, agentID string, limit int) ([]*domain.AuditRecord, error) {
	logs, err := s.repo.ListAudit(ctx, category, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit_service: failed to fetch logs: %w", err)
	}
	return logs, nil
}
