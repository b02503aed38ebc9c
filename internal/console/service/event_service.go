package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/csma94/guard-sub003/internal/domain"
)

type EventStore interface {
	QueryEvents(ctx context.Context, f domain.EventFilter) ([]*domain.ZoneEvent, error)
	AckEvent(ctx context.Context, id, userID string) (*domain.ZoneEvent, error)
	Stats(ctx context.Context, siteID string, since time.Time) (*domain.EventStats, error)
}

type EventService struct {
	repo   EventStore
	logger *zap.Logger
}

func NewEventService(repo EventStore, logger *zap.Logger) *EventService {
	return &EventService{
		repo:   repo,
		logger: logger.Named("event-service"),
	}
}

// Query отдает журнал событий, обрезанный по объектам из токена:
// диспетчер видит только свои объекты, даже если попросит чужой.
// Админ без явного фильтра видит все.
func (s *EventService) Query(ctx context.Context, claims *domain.CustomClaims, f domain.EventFilter) ([]*domain.ZoneEvent, error) {
	if f.SiteID != "" && claims.Role != domain.RoleAdmin && !claims.HasSite(f.SiteID) {
		return []*domain.ZoneEvent{}, nil
	}
	if f.SiteID == "" && claims.Role != domain.RoleAdmin {
		switch len(claims.Sites) {
		case 0:
			return []*domain.ZoneEvent{}, nil
		case 1:
			f.SiteID = claims.Sites[0]
		default:
			f.Sites = claims.Sites
		}
	}

	events, err := s.repo.QueryEvents(ctx, f)
	if err != nil {
		s.logger.Error("failed to query events", zap.Error(err))
		return nil, fmt.Errorf("service: could not fetch events: %w", err)
	}
	return events, nil
}

// Ack квитирует нарушение от имени пользователя. Повторное квитирование
// возвращает ошибку — решение первого диспетчера не перезаписывается.
func (s *EventService) Ack(ctx context.Context, eventID, userID string) (*domain.ZoneEvent, error) {
	ev, err := s.repo.AckEvent(ctx, eventID, userID)
	if err != nil {
		s.logger.Warn("ack rejected",
			zap.String("event_id", eventID),
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("violation acknowledged",
		zap.String("event_id", ev.ID),
		zap.String("ack_by", userID))
	return ev, nil
}

// Stats — сводка дашборда. Это per-site виджет: мульти-объектному токену
// без явного site_id сводку не построить — 400, а не смесь объектов.
func (s *EventService) Stats(ctx context.Context, claims *domain.CustomClaims, siteID string, since time.Time) (*domain.EventStats, error) {
	if siteID != "" && claims.Role != domain.RoleAdmin && !claims.HasSite(siteID) {
		return &domain.EventStats{SiteID: siteID, Since: since, ByType: map[string]int64{}}, nil
	}
	if siteID == "" && claims.Role != domain.RoleAdmin {
		if len(claims.Sites) != 1 {
			return nil, &domain.ValidationError{Field: "site_id", Reason: "is required for multi-site tokens"}
		}
		siteID = claims.Sites[0]
	}
	if since.IsZero() {
		since = time.Now().Add(-24 * time.Hour)
	}
	return s.repo.Stats(ctx, siteID, since)
}
