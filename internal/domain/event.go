package domain

import (
	"errors"
	"time"
)

// ErrAckConflict — нарушение не найдено или уже квитировано другим
// диспетчером. Хендлер отвечает на него 409, а не 500.
var ErrAckConflict = errors.New("event not found or already acknowledged")

// EventType — вид события зоны
type EventType string

const (
	EventEnter     EventType = "enter"
	EventExit      EventType = "exit"
	EventViolation EventType = "violation"
)

// ViolationKind — подтип нарушения (только для EventViolation)
type ViolationKind string

const (
	ViolationDwell ViolationKind = "dwell_exceeded"
	ViolationSpeed ViolationKind = "speed_exceeded"
)

// ZoneEvent — неизменяемый факт: агент пересек границу зоны или нарушил
// правило. Время события — время породившего его сэмпла, не время обработки.
type ZoneEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	AgentID   string         `json:"agent_id"`
	ZoneID    string         `json:"zone_id"`
	SiteID    string         `json:"site_id"`
	Violation ViolationKind  `json:"violation,omitempty"`
	Location  LatLon         `json:"location"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"` // Измеренное значение, порог и т.п.

	// Квитирование диспетчером (заполняется позже, только для нарушений)
	AckBy string     `json:"ack_by,omitempty"`
	AckAt *time.Time `json:"ack_at,omitempty"`
}

// Critical сообщает, относится ли событие к классу, который нельзя терять.
// Enter/Exit — информационные, их допустимо сбрасывать под нагрузкой.
func (e *ZoneEvent) Critical() bool {
	return e.Type == EventViolation
}

// EventFilter — параметры выборки событий в Console API.
// Sites заполняет сервис из токена, когда явный SiteID не задан:
// область видимости мульти-объектного диспетчера.
type EventFilter struct {
	SiteID  string
	Sites   []string
	ZoneID  string
	AgentID string
	Type    EventType
	From    time.Time
	To      time.Time
	Limit   int
	Offset  int
}

// FrameKind различает кадры WebSocket-протокола.
const (
	FrameZoneEvent = "zone_event" // Автоматическая доставка события подписчикам
	FrameAlert     = "alert"      // Тревога, порожденная alert-действием правила
)

// EventFrame — кадр, уходящий клиенту по WebSocket. Он же складывается
// в офлайн-очередь, поэтому несет EnqueuedAt для проверки срока годности
// при доставке после переподключения.
type EventFrame struct {
	Frame      string    `json:"frame"`
	Event      ZoneEvent `json:"event"`
	ZoneName   string    `json:"zone_name,omitempty"`
	Priority   string    `json:"priority,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at,omitempty"`
}

// AuditRecord — запись журнала, создаваемая log-действием правила
// или служебными операциями консоли.
type AuditRecord struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	AgentID   string    `json:"agent_id"`
	ZoneID    string    `json:"zone_id,omitempty"`
	EventID   string    `json:"event_id,omitempty"`
	EventType string    `json:"event_type,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// PatrolCheckin — отметка прохождения контрольной точки маршрута.
// Source: "auto" для auto_checkin действий, "manual" для ручных отметок.
type PatrolCheckin struct {
	ID           string    `json:"id"`
	AgentID      string    `json:"agent_id"`
	ZoneID       string    `json:"zone_id"`
	CheckpointID string    `json:"checkpoint_id"`
	EventID      string    `json:"event_id,omitempty"`
	Source       string    `json:"source"`
	CheckedAt    time.Time `json:"checked_at"`
}
