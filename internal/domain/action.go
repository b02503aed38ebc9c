package domain

import (
	"encoding/json"
	"fmt"
	"net/url"
)

// ActionType перечисляет закрытое множество реакций на событие зоны.
// Новый тип действия добавляется здесь и в decodeAction — компилятор
// и валидация не пропустят ничего за пределами этого списка.
type ActionType string

const (
	ActionNotify      ActionType = "notify"       // Push-уведомление конкретному пользователю
	ActionAlert       ActionType = "alert"        // Трансляция в комнату роли (диспетчеры)
	ActionLog         ActionType = "log"          // Запись в журнал аудита
	ActionWebhook     ActionType = "webhook"      // HTTP POST во внешнюю систему
	ActionAutoCheckin ActionType = "auto_checkin" // Автоотметка на контрольной точке обхода
)

// Action — одно действие правила. Конкретные типы ниже; набор закрыт.
type Action interface {
	Type() ActionType
	Validate() error
}

// NotifyAction отправляет уведомление. Пустой Recipient означает
// «уведомить самого агента из события».
type NotifyAction struct {
	Recipient string `json:"recipient,omitempty"`
	Message   string `json:"message,omitempty"`
}

func (a NotifyAction) Type() ActionType { return ActionNotify }
func (a NotifyAction) Validate() error  { return nil }

// AlertAction транслирует тревогу в комнату роли. По умолчанию — supervisor.
type AlertAction struct {
	Role     string `json:"role,omitempty"`
	Priority string `json:"priority,omitempty"` // low | normal | high
}

func (a AlertAction) Type() ActionType { return ActionAlert }
func (a AlertAction) Validate() error {
	switch a.Priority {
	case "", "low", "normal", "high":
		return nil
	}
	return &ValidationError{Field: "actions.priority", Reason: fmt.Sprintf("unknown priority %q", a.Priority)}
}

// LogAction пишет структурированную запись в журнал аудита.
type LogAction struct {
	Category string `json:"category,omitempty"`
}

func (a LogAction) Type() ActionType { return ActionLog }
func (a LogAction) Validate() error  { return nil }

// WebhookAction дергает внешнюю систему (СКУД, тикетница и т.п.).
type WebhookAction struct {
	URL string `json:"url"`
}

func (a WebhookAction) Type() ActionType { return ActionWebhook }
func (a WebhookAction) Validate() error {
	if a.URL == "" {
		return &ValidationError{Field: "actions.url", Reason: "is required for webhook"}
	}
	u, err := url.Parse(a.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return &ValidationError{Field: "actions.url", Reason: "must be a valid http(s) URL"}
	}
	return nil
}

// AutoCheckinAction фиксирует прохождение контрольной точки.
// Применимо только к patrol-зонам на событии входа; в остальных случаях
// исполнитель тихо пропускает действие.
type AutoCheckinAction struct {
	CheckpointID string `json:"checkpoint_id,omitempty"` // Пусто — используем ID зоны
}

func (a AutoCheckinAction) Type() ActionType { return ActionAutoCheckin }
func (a AutoCheckinAction) Validate() error  { return nil }

// ActionList сериализуется как массив конвертов {"type": ..., "params": {...}}.
// Так список действий живет внутри JSONB зоны и при этом остается
// типизированным в коде.
type ActionList []Action

type actionEnvelope struct {
	Type   ActionType      `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
}

func (l ActionList) MarshalJSON() ([]byte, error) {
	out := make([]actionEnvelope, 0, len(l))
	for _, a := range l {
		params, err := json.Marshal(a)
		if err != nil {
			return nil, err
		}
		out = append(out, actionEnvelope{Type: a.Type(), Params: params})
	}
	return json.Marshal(out)
}

func (l *ActionList) UnmarshalJSON(data []byte) error {
	var raw []actionEnvelope
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	res := make(ActionList, 0, len(raw))
	for _, env := range raw {
		a, err := decodeAction(env)
		if err != nil {
			return err
		}
		res = append(res, a)
	}
	*l = res
	return nil
}

// decodeAction — единственное место, где строковый тег превращается
// в конкретный тип. Неизвестный тег — ошибка валидации, а не warning.
func decodeAction(env actionEnvelope) (Action, error) {
	params := env.Params
	if len(params) == 0 {
		params = []byte("{}")
	}

	switch env.Type {
	case ActionNotify:
		var a NotifyAction
		if err := json.Unmarshal(params, &a); err != nil {
			return nil, err
		}
		return a, nil
	case ActionAlert:
		var a AlertAction
		if err := json.Unmarshal(params, &a); err != nil {
			return nil, err
		}
		return a, nil
	case ActionLog:
		var a LogAction
		if err := json.Unmarshal(params, &a); err != nil {
			return nil, err
		}
		return a, nil
	case ActionWebhook:
		var a WebhookAction
		if err := json.Unmarshal(params, &a); err != nil {
			return nil, err
		}
		return a, nil
	case ActionAutoCheckin:
		var a AutoCheckinAction
		if err := json.Unmarshal(params, &a); err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, &ValidationError{Field: "actions.type", Reason: fmt.Sprintf("unknown action type %q", env.Type)}
	}
}
