package engine

import (
	"sync"
	"time"

	"github.com/csma94/guard-sub003/internal/domain"
	"go.uber.org/zap"
)

// Occupied — зона в снапшоте членства вместе со временем входа.
// EnteredAt нужен мониторингу dwell и аудиту длительности пребывания.
type Occupied struct {
	Zone      *domain.Zone
	EnteredAt time.Time
}

// EvalResult — исход полной переоценки одного сэмпла.
type EvalResult struct {
	Entered []Occupied // Зоны, куда агент вошел этим сэмплом (EnteredAt == время сэмпла)
	Exited  []Occupied // Зоны, которые покинул (EnteredAt — из прежнего снапшота)
	Inside  []Occupied // Полное членство после обновления
}

// GeofenceEngine хранит членство агентов в зонах и считает переходы.
// Снапшот на каждый сэмпл пересобирается целиком (Snapshot Replace):
// пропущенные сэмплы не копят ошибку, следующий сэмпл дает корректный дифф.
type GeofenceEngine struct {
	mu sync.RWMutex
	// agent_id -> zone_id -> время входа
	members map[string]map[string]time.Time

	logger  *zap.Logger
	metrics *Metrics
}

func NewGeofenceEngine(logger *zap.Logger, metrics *Metrics) *GeofenceEngine {
	return &GeofenceEngine{
		members: make(map[string]map[string]time.Time),
		logger:  logger.Named("geofence"),
		metrics: metrics,
	}
}

// Evaluate пересчитывает членство агента по свежему сэмплу.
// zones — активные зоны объекта из кэша. Конвейер сериализует вызовы
// по каждому агенту, поэтому дифф здесь атомарен относительно агента.
func (e *GeofenceEngine) Evaluate(agentID string, ts time.Time, p domain.LatLon, zones []*domain.Zone) EvalResult {
	// 1. Считаем фактическое «внутри» по геометрии. Без блокировки:
	// геометрия зон иммутабельна после загрузки кэшем.
	// known — вселенная зон, оцененных этим сэмплом: по ней различаем
	// «агент вышел» и «зона удалена/сломана» (второе — не движение).
	current := make(map[string]*domain.Zone, len(zones))
	known := make(map[string]struct{}, len(zones))
	for _, z := range zones {
		inside, err := Contains(z.ID, z.Geometry, p)
		if err != nil {
			// Битая зона не роняет оценку остальных (Fail-Safe)
			e.logger.Warn("zone skipped: bad geometry",
				zap.String("zone_id", z.ID),
				zap.Error(err))
			e.metrics.GeometryErrors.Inc()
			continue
		}
		known[z.ID] = struct{}{}
		if inside {
			current[z.ID] = z
		}
	}

	var res EvalResult

	// 2. Дифф со старым снапшотом под блокировкой
	e.mu.Lock()
	prev := e.members[agentID]
	next := make(map[string]time.Time, len(current))

	for id, z := range current {
		if enteredAt, ok := prev[id]; ok {
			// Агент оставался в зоне — сохраняем исходное время входа
			next[id] = enteredAt
			res.Inside = append(res.Inside, Occupied{Zone: z, EnteredAt: enteredAt})
		} else {
			next[id] = ts
			occ := Occupied{Zone: z, EnteredAt: ts}
			res.Entered = append(res.Entered, occ)
			res.Inside = append(res.Inside, occ)
		}
	}

	for id, enteredAt := range prev {
		if _, stillInside := current[id]; stillInside {
			continue
		}
		if _, exists := known[id]; !exists {
			// Зона деактивирована или удалена. Конфигурационное изменение —
			// не движение агента, exit-событие не фабрикуем.
			e.logger.Debug("membership dropped: zone no longer active",
				zap.String("agent_id", agentID),
				zap.String("zone_id", id))
			continue
		}
		res.Exited = append(res.Exited, Occupied{
			Zone:      zoneByID(zones, id),
			EnteredAt: enteredAt,
		})
	}

	if len(next) == 0 {
		delete(e.members, agentID)
	} else {
		e.members[agentID] = next
	}
	e.mu.Unlock()

	return res
}

// Reset очищает членство агента (конец смены). Следующий сэмпл
// начнет с чистого снапшота и пересоздаст enter-события.
func (e *GeofenceEngine) Reset(agentID string) {
	e.mu.Lock()
	delete(e.members, agentID)
	e.mu.Unlock()
}

// TrackedAgents возвращает число агентов с непустым снапшотом (для метрик).
func (e *GeofenceEngine) TrackedAgents() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.members)
}

func zoneByID(zones []*domain.Zone, id string) *domain.Zone {
	for _, z := range zones {
		if z.ID == id {
			return z
		}
	}
	return nil
}
