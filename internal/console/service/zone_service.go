package service

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/csma94/guard-sub003/internal/domain"
	"github.com/csma94/guard-sub003/internal/infra"
)

// ZoneStore описывает требования к хранилищу геозон.
type ZoneStore interface {
	CreateZone(ctx context.Context, z *domain.Zone) error
	GetZoneByID(ctx context.Context, id string) (*domain.Zone, error)
	ListZones(ctx context.Context, siteID string) ([]*domain.Zone, error)
	UpdateZone(ctx context.Context, z *domain.Zone) error
	DeleteZone(ctx context.Context, id string) error
}

type ZoneService struct {
	repo   ZoneStore
	rdb    *redis.Client
	logger *zap.Logger
}

func NewZoneService(repo ZoneStore, rdb *redis.Client, logger *zap.Logger) *ZoneService {
	return &ZoneService{
		repo:   repo,
		rdb:    rdb,
		logger: logger.Named("zone-service"),
	}
}

// notifyEngines сигналит всем инстансам трекера перечитать зоны.
// Сигнал best-effort: при недоступном Redis движок подберет изменения
// на периодическом refresh (Fail-Safe).
func (s *ZoneService) notifyEngines(ctx context.Context, zoneID, action string) {
	if err := s.rdb.Publish(ctx, infra.RedisChanZonesUpdate, zoneID).Err(); err != nil {
		s.logger.Warn("zone update signal failed",
			zap.String("zone_id", zoneID),
			zap.String("action", action),
			zap.Error(err))
		return
	}
	s.logger.Info("zone configuration changed",
		zap.String("zone_id", zoneID),
		zap.String("action", action))
}

func (s *ZoneService) Create(ctx context.Context, z *domain.Zone) error {
	// Битая геометрия не должна попасть в БД: движок ее не чинит, а пропускает
	if err := z.Validate(); err != nil {
		return err
	}

	if err := s.repo.CreateZone(ctx, z); err != nil {
		s.logger.Error("failed to create zone", zap.String("site_id", z.SiteID), zap.Error(err))
		return fmt.Errorf("zone create failed: %w", err)
	}

	s.notifyEngines(ctx, z.ID, "create")
	return nil
}

func (s *ZoneService) Get(ctx context.Context, id string) (*domain.Zone, error) {
	return s.repo.GetZoneByID(ctx, id)
}

func (s *ZoneService) List(ctx context.Context, siteID string) ([]*domain.Zone, error) {
	zones, err := s.repo.ListZones(ctx, siteID)
	if err != nil {
		s.logger.Error("failed to list zones", zap.Error(err))
		return nil, fmt.Errorf("service: could not fetch zones: %w", err)
	}
	return zones, nil
}

func (s *ZoneService) Update(ctx context.Context, z *domain.Zone) error {
	if err := z.Validate(); err != nil {
		return err
	}

	if err := s.repo.UpdateZone(ctx, z); err != nil {
		s.logger.Error("failed to update zone", zap.String("zone_id", z.ID), zap.Error(err))
		return err
	}

	s.notifyEngines(ctx, z.ID, "update")
	return nil
}

// Delete удаляет зону насовсем. Движок после сигнала молча забывает
// членство агентов в ней — события exit по удаленной зоне не генерируются.
func (s *ZoneService) Delete(ctx context.Context, id string) error {
	if err := s.repo.DeleteZone(ctx, id); err != nil {
		s.logger.Error("failed to delete zone", zap.String("zone_id", id), zap.Error(err))
		return err
	}

	s.notifyEngines(ctx, id, "delete")
	return nil
}
