package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/csma94/guard-sub003/internal/domain"
	"github.com/csma94/guard-sub003/internal/infra"
)

// AgentRegistry описывает требования к хранилищу данных об охранниках.
type AgentRegistry interface {
	GetAgent(ctx context.Context, id string) (*domain.Agent, error)
	ListAgents(ctx context.Context, siteID string) ([]*domain.Agent, error)
	SetActive(ctx context.Context, id string, active bool) error
}

// PresenceReader — кто сейчас держит живое подключение (Redis Set).
type PresenceReader interface {
	Online(ctx context.Context) ([]string, error)
}

// CheckinReader — отметки обхода для отчетов по маршрутам.
type CheckinReader interface {
	ListCheckins(ctx context.Context, agentID string, from, to time.Time) ([]*domain.PatrolCheckin, error)
}

// TrackReader — архив GPS-трека для проигрывания маршрута на карте.
type TrackReader interface {
	ListSamples(ctx context.Context, agentID string, from, to time.Time, limit int) ([]*domain.LocationSample, error)
}

type AgentService struct {
	repo     AgentRegistry
	presence PresenceReader
	checkins CheckinReader
	track    TrackReader
	rdb      *redis.Client
	logger   *zap.Logger
}

func NewAgentService(repo AgentRegistry, presence PresenceReader, checkins CheckinReader, track TrackReader, rdb *redis.Client, logger *zap.Logger) *AgentService {
	return &AgentService{
		repo:     repo,
		presence: presence,
		checkins: checkins,
		track:    track,
		rdb:      rdb,
		logger:   logger.Named("agent-service"),
	}
}

func (s *AgentService) GetAgent(ctx context.Context, id string) (*domain.Agent, error) {
	agent, err := s.repo.GetAgent(ctx, id)
	if err != nil {
		s.logger.Error("failed to fetch agent details", zap.String("id", id), zap.Error(err))
		return nil, err
	}
	return agent, nil
}

// ListAgents возвращает реестр охранников с наложенным флагом Online.
// Presence best-effort: при недоступном Redis отдаем реестр без флагов,
// а не ошибку — дежурная таблица важнее зеленых точек.
func (s *AgentService) ListAgents(ctx context.Context, siteID string) ([]*domain.Agent, error) {
	agents, err := s.repo.ListAgents(ctx, siteID)
	if err != nil {
		s.logger.Error("failed to list agents from repository", zap.Error(err))
		return nil, fmt.Errorf("service: could not fetch agents: %w", err)
	}

	online, err := s.presence.Online(ctx)
	if err != nil {
		s.logger.Warn("presence lookup failed", zap.Error(err))
		return agents, nil
	}

	onlineSet := make(map[string]struct{}, len(online))
	for _, id := range online {
		onlineSet[id] = struct{}{}
	}
	for _, a := range agents {
		_, a.Online = onlineSet[a.ID]
	}
	return agents, nil
}

// EndSession завершает смену агента: все инстансы трекера сбрасывают его
// членство в зонах и открытые эпизоды нарушений. Следующая точка после
// сигнала трактуется как начало новой смены (чистый снапшот).
func (s *AgentService) EndSession(ctx context.Context, agentID string) error {
	if err := s.rdb.Publish(ctx, infra.RedisChanSessionEnd, agentID).Err(); err != nil {
		s.logger.Error("session end signal failed",
			zap.String("agent_id", agentID),
			zap.Error(err))
		return fmt.Errorf("session end signal failed: %w", err)
	}

	s.logger.Info("agent session ended", zap.String("agent_id", agentID))
	return nil
}

// SetActive переключает агента в реестре. Деактивация дополнительно
// завершает его текущую смену.
func (s *AgentService) SetActive(ctx context.Context, agentID string, active bool) error {
	if err := s.repo.SetActive(ctx, agentID, active); err != nil {
		s.logger.Error("failed to update agent",
			zap.String("agent_id", agentID),
			zap.Error(err))
		return err
	}

	if !active {
		// Сигнал best-effort: запись в БД уже состоялась
		if err := s.rdb.Publish(ctx, infra.RedisChanSessionEnd, agentID).Err(); err != nil {
			s.logger.Warn("session end signal failed", zap.String("agent_id", agentID), zap.Error(err))
		}
	}

	s.logger.Info("agent state updated",
		zap.String("agent_id", agentID),
		zap.Bool("active", active))
	return nil
}

// ListCheckins — пройденные контрольные точки агента за период.
func (s *AgentService) ListCheckins(ctx context.Context, agentID string, from, to time.Time) ([]*domain.PatrolCheckin, error) {
	if to.IsZero() {
		to = time.Now()
	}
	if from.IsZero() {
		from = to.Add(-24 * time.Hour)
	}
	return s.checkins.ListCheckins(ctx, agentID, from, to)
}

// AgentTrack — кусок GPS-трека агента для проигрывания маршрута.
// Окно по умолчанию — последние сутки; лимит точек режет хранилище.
func (s *AgentService) AgentTrack(ctx context.Context, agentID string, from, to time.Time, limit int) ([]*domain.LocationSample, error) {
	if to.IsZero() {
		to = time.Now()
	}
	if from.IsZero() {
		from = to.Add(-24 * time.Hour)
	}
	return s.track.ListSamples(ctx, agentID, from, to, limit)
}
