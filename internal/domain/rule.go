package domain

import "fmt"

// RuleTrigger — условие срабатывания правила зоны
type RuleTrigger string

const (
	TriggerEnter RuleTrigger = "enter" // Агент пересек границу внутрь
	TriggerExit  RuleTrigger = "exit"  // Агент пересек границу наружу
	TriggerDwell RuleTrigger = "dwell" // Агент находится в зоне дольше лимита
	TriggerSpeed RuleTrigger = "speed" // Агент движется в зоне быстрее лимита
)

// RuleConditions — пороги для dwell/speed правил.
// Для enter/exit условия не требуются.
type RuleConditions struct {
	MaxDwellSeconds int     `json:"max_dwell_seconds,omitempty"`
	MaxSpeedKmh     float64 `json:"max_speed_kmh,omitempty"`
}

// ZoneRule связывает триггер с упорядоченным списком действий.
// Правило хранится внутри зоны (JSONB) и исполняется только пока Active.
type ZoneRule struct {
	ID         string         `json:"id"`
	ZoneID     string         `json:"zone_id"`
	Trigger    RuleTrigger    `json:"trigger"`
	Conditions RuleConditions `json:"conditions,omitempty"`
	Actions    ActionList     `json:"actions"`
	Active     bool           `json:"active"`
}

// Validate проверяет согласованность триггера, порогов и действий.
func (r *ZoneRule) Validate() error {
	switch r.Trigger {
	case TriggerEnter, TriggerExit:
	case TriggerDwell:
		if r.Conditions.MaxDwellSeconds <= 0 {
			return &ValidationError{Field: "conditions.max_dwell_seconds", Reason: "must be positive for dwell rules"}
		}
	case TriggerSpeed:
		if r.Conditions.MaxSpeedKmh <= 0 {
			return &ValidationError{Field: "conditions.max_speed_kmh", Reason: "must be positive for speed rules"}
		}
	default:
		return &ValidationError{Field: "trigger", Reason: fmt.Sprintf("unknown trigger %q", r.Trigger)}
	}

	for _, a := range r.Actions {
		if err := a.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Matches сообщает, относится ли правило к данному событию.
// Нарушения сопоставляются по подтипу: dwell-правило ловит ViolationDwell,
// speed-правило — ViolationSpeed.
func (r *ZoneRule) Matches(ev *ZoneEvent) bool {
	switch r.Trigger {
	case TriggerEnter:
		return ev.Type == EventEnter
	case TriggerExit:
		return ev.Type == EventExit
	case TriggerDwell:
		return ev.Type == EventViolation && ev.Violation == ViolationDwell
	case TriggerSpeed:
		return ev.Type == EventViolation && ev.Violation == ViolationSpeed
	}
	return false
}
