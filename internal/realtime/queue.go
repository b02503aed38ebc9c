/*
Пакет realtime — доставка событий живым подписчикам.

OfflineQueue — офлайн-очереди адресных кадров в Redis (List на пользователя).

	Push:  RPUSH + LTRIM(-cap) + EXPIRE одним pipeline. Очередь ограничена
	       по количеству (старые кадры вытесняются) и по времени жизни ключа.
	Drain: атомарно (MULTI/EXEC) забирает и очищает обе очереди пользователя,
	       отбрасывает просроченные кадры и отдает остаток в исходном FIFO-порядке.

Нарушения лежат в отдельном ключе: у них свой, больший лимит и свой срок
хранения. EXPIRE на ключе — грубый дворник для тех, кто не вернулся;
точный срок годности кадра проверяется по EnqueuedAt в момент Drain.
*/
package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/csma94/guard-sub003/internal/domain"
	"github.com/csma94/guard-sub003/internal/infra"
)

type OfflineQueue struct {
	rdb    *redis.Client
	cfg    infra.DispatchConfig
	logger *zap.Logger
}

func NewOfflineQueue(rdb *redis.Client, cfg infra.DispatchConfig, logger *zap.Logger) *OfflineQueue {
	if cfg.QueueCap <= 0 {
		cfg.QueueCap = 200
	}
	if cfg.CriticalQueueCap <= 0 {
		cfg.CriticalQueueCap = 10000
	}
	return &OfflineQueue{rdb: rdb, cfg: cfg, logger: logger}
}

// critical отделяет кадры, которые нельзя терять, от информационных.
func critical(frame domain.EventFrame) bool {
	return frame.Frame == domain.FrameAlert || frame.Event.Critical()
}

// Push кладет кадр в очередь пользователя. EnqueuedAt проставляется здесь:
// от этого момента отсчитывается срок годности кадра.
func (q *OfflineQueue) Push(ctx context.Context, userID string, frame domain.EventFrame) error {
	if frame.EnqueuedAt.IsZero() {
		frame.EnqueuedAt = time.Now().UTC()
	}

	key := infra.InboxKey(userID)
	cap64 := int64(q.cfg.QueueCap)
	ttl := q.cfg.QueueRetention
	if critical(frame) {
		key = infra.InboxCriticalKey(userID)
		cap64 = int64(q.cfg.CriticalQueueCap)
		ttl = q.cfg.CriticalRetention
	}

	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	_, err = q.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, payload)
		pipe.LTrim(ctx, key, -cap64, -1) // Вытесняем самые старые при переполнении
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	return err
}

// Drain забирает накопленное и очищает очереди. Возвращает кадры,
// пережившие срок хранения, в порядке постановки (нарушения и инфо —
// единой лентой, слитой по EnqueuedAt).
func (q *OfflineQueue) Drain(ctx context.Context, userID string) ([]domain.EventFrame, error) {
	infoKey := infra.InboxKey(userID)
	critKey := infra.InboxCriticalKey(userID)

	// 1. Читаем и удаляем атомарно: кадр, пришедший между LRANGE и DEL,
	// не должен пропасть.
	var infoCmd, critCmd *redis.StringSliceCmd
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		infoCmd = pipe.LRange(ctx, infoKey, 0, -1)
		pipe.Del(ctx, infoKey)
		critCmd = pipe.LRange(ctx, critKey, 0, -1)
		pipe.Del(ctx, critKey)
		return nil
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	info := q.decode(infoCmd.Val(), now, q.cfg.QueueRetention)
	crit := q.decode(critCmd.Val(), now, q.cfg.CriticalRetention)

	// 2. Сливаем две FIFO-ленты по времени постановки.
	return mergeByEnqueuedAt(info, crit), nil
}

func (q *OfflineQueue) decode(raw []string, now time.Time, retention time.Duration) []domain.EventFrame {
	frames := make([]domain.EventFrame, 0, len(raw))
	for _, item := range raw {
		var f domain.EventFrame
		if err := json.Unmarshal([]byte(item), &f); err != nil {
			q.logger.Warn("inbox: skipping corrupt frame", zap.Error(err))
			continue
		}
		// Просроченные кадры отбрасываем молча: доставлять устаревшее хуже,
		// чем не доставить ничего.
		if retention > 0 && now.Sub(f.EnqueuedAt) > retention {
			continue
		}
		frames = append(frames, f)
	}
	return frames
}

func mergeByEnqueuedAt(a, b []domain.EventFrame) []domain.EventFrame {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	out := make([]domain.EventFrame, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if !a[i].EnqueuedAt.After(b[j].EnqueuedAt) {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}
