package engine

import (
	"sync"
	"time"

	"github.com/csma94/guard-sub003/internal/domain"
	"github.com/google/uuid"
)

// episodeState — память об одном непрерывном пребывании агента в зоне.
// dwellWarned: нарушение по времени уже создано, до выхода не повторяем.
// speedBreachOpen: скорость выше лимита, эпизод превышения открыт.
type episodeState struct {
	dwellWarned     bool
	speedBreachOpen bool
}

// Monitor следит за dwell- и speed-правилами поверх снапшота членства.
// Нарушение создается один раз на эпизод: повторные сэмплы внутри того же
// пребывания/превышения шума не генерируют. Выход из зоны закрывает эпизод,
// повторный вход открывает новый.
type Monitor struct {
	mu sync.Mutex
	// agent_id -> zone_id -> эпизод
	episodes map[string]map[string]*episodeState
}

func NewMonitor() *Monitor {
	return &Monitor{episodes: make(map[string]map[string]*episodeState)}
}

// Check прогоняет пороги по текущему членству агента и возвращает
// violation-события. Эпизоды зон, из которых агент вышел (или которые
// исчезли из конфигурации), отбрасываются автоматически: состояние
// пересобирается только по списку inside.
func (m *Monitor) Check(agentID string, sample *domain.LocationSample, inside []Occupied) []*domain.ZoneEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.episodes[agentID]
	next := make(map[string]*episodeState, len(inside))

	var events []*domain.ZoneEvent

	for _, occ := range inside {
		zone := occ.Zone
		ep := prev[zone.ID]
		if ep == nil {
			ep = &episodeState{}
		}
		next[zone.ID] = ep

		// Dwell: порог — строжайшее (минимальное) из активных dwell-правил зоны
		if limit, ok := dwellLimit(zone); ok && !ep.dwellWarned {
			held := sample.Timestamp.Sub(occ.EnteredAt)
			if held > limit {
				ep.dwellWarned = true
				events = append(events, newViolation(sample, zone, domain.ViolationDwell, map[string]any{
					"dwell_seconds":     int64(held.Seconds()),
					"max_dwell_seconds": int64(limit.Seconds()),
				}))
			}
		}

		// Speed: сэмплы без скорости эпизод не двигают ни в одну сторону
		if limit, ok := speedLimit(zone); ok && sample.SpeedKmh != nil {
			switch {
			case *sample.SpeedKmh > limit && !ep.speedBreachOpen:
				ep.speedBreachOpen = true
				events = append(events, newViolation(sample, zone, domain.ViolationSpeed, map[string]any{
					"speed_kmh":     *sample.SpeedKmh,
					"max_speed_kmh": limit,
				}))
			case *sample.SpeedKmh <= limit:
				ep.speedBreachOpen = false
			}
		}
	}

	if len(next) == 0 {
		delete(m.episodes, agentID)
	} else {
		m.episodes[agentID] = next
	}
	return events
}

// Reset закрывает все эпизоды агента (конец смены).
func (m *Monitor) Reset(agentID string) {
	m.mu.Lock()
	delete(m.episodes, agentID)
	m.mu.Unlock()
}

func dwellLimit(z *domain.Zone) (time.Duration, bool) {
	best := 0
	for _, r := range z.Rules {
		if !r.Active || r.Trigger != domain.TriggerDwell || r.Conditions.MaxDwellSeconds <= 0 {
			continue
		}
		if best == 0 || r.Conditions.MaxDwellSeconds < best {
			best = r.Conditions.MaxDwellSeconds
		}
	}
	return time.Duration(best) * time.Second, best > 0
}

func speedLimit(z *domain.Zone) (float64, bool) {
	best := 0.0
	for _, r := range z.Rules {
		if !r.Active || r.Trigger != domain.TriggerSpeed || r.Conditions.MaxSpeedKmh <= 0 {
			continue
		}
		if best == 0 || r.Conditions.MaxSpeedKmh < best {
			best = r.Conditions.MaxSpeedKmh
		}
	}
	return best, best > 0
}

func newViolation(sample *domain.LocationSample, zone *domain.Zone, kind domain.ViolationKind, meta map[string]any) *domain.ZoneEvent {
	return &domain.ZoneEvent{
		ID:        uuid.New().String(),
		Type:      domain.EventViolation,
		AgentID:   sample.AgentID,
		ZoneID:    zone.ID,
		SiteID:    zone.SiteID,
		Violation: kind,
		Location:  sample.Point(),
		Timestamp: sample.Timestamp,
		Metadata:  meta,
	}
}
