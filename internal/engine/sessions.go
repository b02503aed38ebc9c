package engine

import (
	"context"

	"github.com/csma94/guard-sub003/internal/infra"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SessionWatcher слушает sessions:end и сбрасывает состояние движка
// по завершившему смену агенту. Сброс маршрутизируется через шард агента:
// он никогда не пересекается с обработкой сэмпла того же агента.
type SessionWatcher struct {
	pipeline *Pipeline
	rdb      *redis.Client
	logger   *zap.Logger
}

func NewSessionWatcher(pipeline *Pipeline, rdb *redis.Client, logger *zap.Logger) *SessionWatcher {
	return &SessionWatcher{
		pipeline: pipeline,
		rdb:      rdb,
		logger:   logger.Named("sessions"),
	}
}

// StartListener блокируется до отмены контекста — запускать в горутине.
func (w *SessionWatcher) StartListener(ctx context.Context) {
	ListenSignalResilient(ctx, w.rdb, w.logger, infra.RedisChanSessionEnd,
		nil, // Пропущенный сигнал не страшен: состояние само сбросится по давности смены
		func(agentID string) {
			if agentID == "" {
				return
			}
			w.logger.Info("session end signal received", zap.String("agent_id", agentID))
			if err := w.pipeline.Reset(ctx, agentID); err != nil {
				w.logger.Error("failed to enqueue state reset",
					zap.String("agent_id", agentID),
					zap.Error(err))
			}
		},
	)
}
