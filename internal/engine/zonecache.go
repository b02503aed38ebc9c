package engine

import (
	"context"
	"sync"
	"time"

	"github.com/csma94/guard-sub003/internal/domain"
	"github.com/csma94/guard-sub003/internal/infra"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ZoneRepository — требования кэша к хранилищу зон.
type ZoneRepository interface {
	ListActiveZones(ctx context.Context) ([]*domain.Zone, error)
}

// ZoneCache — In-memory кэш активных зон, сгруппированных по объектам.
// На Hot Path конвейер читает только память; PostgreSQL участвует лишь
// в Refresh. Инвалидация — по сигналу zones:update из Console API
// плюс страховочный периодический Refresh.
type ZoneCache struct {
	mu     sync.RWMutex
	bySite map[string][]*domain.Zone
	total  int

	repo    ZoneRepository
	rdb     *redis.Client
	logger  *zap.Logger
	metrics *Metrics
}

func NewZoneCache(repo ZoneRepository, rdb *redis.Client, logger *zap.Logger, metrics *Metrics) *ZoneCache {
	return &ZoneCache{
		bySite:  make(map[string][]*domain.Zone),
		repo:    repo,
		rdb:     rdb,
		logger:  logger.Named("zonecache"),
		metrics: metrics,
	}
}

// Refresh выполняет «холодную загрузку» всех активных зон из PostgreSQL
// в память. Кэш подменяется целиком, частичных обновлений нет: это проще
// и исключает расхождения при конкурентных правках зон.
func (c *ZoneCache) Refresh(ctx context.Context) error {
	zones, err := c.repo.ListActiveZones(ctx)
	if err != nil {
		return err
	}

	fresh := make(map[string][]*domain.Zone, 8)
	for _, z := range zones {
		fresh[z.SiteID] = append(fresh[z.SiteID], z)
	}

	c.mu.Lock()
	c.bySite = fresh
	c.total = len(zones)
	c.mu.Unlock()

	c.metrics.ZonesLoaded.Set(float64(len(zones)))
	c.logger.Info("zone cache refreshed", zap.Int("count", len(zones)))
	return nil
}

// ZonesForSite — чтение для конвейера. Только RAM, Hot Path.
func (c *ZoneCache) ZonesForSite(siteID string) []*domain.Zone {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bySite[siteID]
}

// Count возвращает число закэшированных зон.
func (c *ZoneCache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.total
}

// StartListener держит подписку на zones:update и страховочный таймер.
// Блокируется до отмены контекста — запускать в отдельной горутине.
func (c *ZoneCache) StartListener(ctx context.Context, refreshEvery time.Duration) {
	// Страховка от потерянных сигналов: редкий полный Refresh по таймеру
	if refreshEvery > 0 {
		go func() {
			ticker := time.NewTicker(refreshEvery)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := c.Refresh(ctx); err != nil {
						c.logger.Error("periodic zone refresh failed", zap.Error(err))
					}
				}
			}
		}()
	}

	ListenSignalResilient(ctx, c.rdb, c.logger, infra.RedisChanZonesUpdate,
		func() error {
			// Синхронизация при (пере)подключении
			return c.Refresh(ctx)
		},
		func(payload string) {
			c.logger.Info("zones update signal received", zap.String("payload", payload))
			if err := c.Refresh(ctx); err != nil {
				c.logger.Error("zone refresh on signal failed", zap.Error(err))
			}
		},
	)
}
