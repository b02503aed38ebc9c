package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/csma94/guard-sub003/internal/domain"
	"github.com/csma94/guard-sub003/internal/engine"
	"github.com/csma94/guard-sub003/internal/notify"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ActionError — отказ одного действия с его контекстом.
type ActionError struct {
	Action  domain.ActionType
	EventID string
	Cause   error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action %s failed for event %s: %v", e.Action, e.EventID, e.Cause)
}

func (e *ActionError) Unwrap() error { return e.Cause }

// Broadcaster — live-рассылка по комнатам, без офлайн-очередей.
type Broadcaster interface {
	BroadcastRoom(room string, frame domain.EventFrame)
}

// AuditStore и CheckinStore — персистентность log- и auto_checkin-действий.
type AuditStore interface {
	InsertAudit(ctx context.Context, rec domain.AuditRecord) error
}

type CheckinStore interface {
	InsertCheckin(ctx context.Context, c domain.PatrolCheckin) error
}

// ActionExecutor превращает декларативное действие правила в вызов
// конкретной подсистемы. Единственное место, где множество типов действий
// разворачивается в исполнение, — switch обязан быть исчерпывающим.
type ActionExecutor struct {
	bridge   notify.Bridge
	rooms    Broadcaster
	audit    AuditStore
	checkins CheckinStore
	metrics  *engine.Metrics
	logger   *zap.Logger
}

func NewActionExecutor(bridge notify.Bridge, rooms Broadcaster, audit AuditStore, checkins CheckinStore, metrics *engine.Metrics, logger *zap.Logger) *ActionExecutor {
	return &ActionExecutor{
		bridge:   bridge,
		rooms:    rooms,
		audit:    audit,
		checkins: checkins,
		metrics:  metrics,
		logger:   logger.Named("actions"),
	}
}

func (x *ActionExecutor) Execute(ctx context.Context, action domain.Action, ev *domain.ZoneEvent, zone *domain.Zone) error {
	var err error
	status := "ok"

	switch a := action.(type) {
	case domain.NotifyAction:
		err = x.execNotify(ctx, a, ev, zone)
	case domain.AlertAction:
		err = x.execAlert(ctx, a, ev, zone)
	case domain.LogAction:
		err = x.execLog(ctx, a, ev, zone)
	case domain.WebhookAction:
		err = x.execWebhook(ctx, a, ev, zone)
	case domain.AutoCheckinAction:
		var skipped bool
		skipped, err = x.execAutoCheckin(ctx, a, ev, zone)
		if skipped {
			status = "skipped"
		}
	default:
		err = fmt.Errorf("unsupported action type %T", action)
	}

	if err != nil {
		status = "error"
		err = &ActionError{Action: action.Type(), EventID: ev.ID, Cause: err}
	}
	x.metrics.ActionsTotal.WithLabelValues(string(action.Type()), status).Inc()
	return err
}

func (x *ActionExecutor) execNotify(ctx context.Context, a domain.NotifyAction, ev *domain.ZoneEvent, zone *domain.Zone) error {
	// Пустой адресат — уведомляем самого агента из события
	recipient := a.Recipient
	if recipient == "" {
		recipient = ev.AgentID
	}

	body := a.Message
	if body == "" {
		body = eventSummary(ev, zone)
	}

	return x.bridge.SendUser(ctx, recipient, notify.Notification{
		EventID:   ev.ID,
		Title:     eventTitle(ev),
		Body:      body,
		Priority:  "normal",
		SiteID:    ev.SiteID,
		CreatedAt: time.Now().UTC(),
	})
}

// execAlert бьет в два канала сразу: push носителям роли и live-кадр
// в их комнату. Дежурный у пульта видит тревогу мгновенно, остальные
// получают push.
func (x *ActionExecutor) execAlert(ctx context.Context, a domain.AlertAction, ev *domain.ZoneEvent, zone *domain.Zone) error {
	role := a.Role
	if role == "" {
		role = domain.RoleSupervisor
	}
	priority := a.Priority
	if priority == "" {
		priority = "high"
	}

	x.rooms.BroadcastRoom("role:"+role, domain.EventFrame{
		Frame:    domain.FrameAlert,
		Event:    *ev,
		ZoneName: zone.Name,
		Priority: priority,
	})

	return x.bridge.SendRole(ctx, role, notify.Notification{
		EventID:   ev.ID,
		Title:     eventTitle(ev),
		Body:      eventSummary(ev, zone),
		Priority:  priority,
		SiteID:    ev.SiteID,
		CreatedAt: time.Now().UTC(),
	})
}

func (x *ActionExecutor) execLog(ctx context.Context, a domain.LogAction, ev *domain.ZoneEvent, zone *domain.Zone) error {
	category := a.Category
	if category == "" {
		category = "rule"
	}
	return x.audit.InsertAudit(ctx, domain.AuditRecord{
		ID:        uuid.New().String(),
		Category:  category,
		AgentID:   ev.AgentID,
		ZoneID:    ev.ZoneID,
		EventID:   ev.ID,
		EventType: string(ev.Type),
		Message:   eventSummary(ev, zone),
		CreatedAt: time.Now().UTC(),
	})
}

func (x *ActionExecutor) execWebhook(ctx context.Context, a domain.WebhookAction, ev *domain.ZoneEvent, zone *domain.Zone) error {
	payload, err := json.Marshal(map[string]any{
		"event":     ev,
		"zone_name": zone.Name,
	})
	if err != nil {
		return err
	}
	return x.bridge.SendWebhook(ctx, a.URL, payload)
}

// execAutoCheckin применим только ко входу в patrol-зону. Остальные
// комбинации пропускаются тихо: правило могло быть навешано на зону
// до смены ее категории.
func (x *ActionExecutor) execAutoCheckin(ctx context.Context, a domain.AutoCheckinAction, ev *domain.ZoneEvent, zone *domain.Zone) (bool, error) {
	if ev.Type != domain.EventEnter || zone.Category != domain.CategoryPatrol {
		x.logger.Debug("auto_checkin skipped: not a patrol enter",
			zap.String("event_id", ev.ID),
			zap.String("zone_id", zone.ID),
			zap.String("category", string(zone.Category)))
		return true, nil
	}

	checkpoint := a.CheckpointID
	if checkpoint == "" {
		checkpoint = zone.ID
	}

	return false, x.checkins.InsertCheckin(ctx, domain.PatrolCheckin{
		ID:           uuid.New().String(),
		AgentID:      ev.AgentID,
		ZoneID:       ev.ZoneID,
		CheckpointID: checkpoint,
		EventID:      ev.ID,
		Source:       "auto",
		CheckedAt:    ev.Timestamp,
	})
}

func eventTitle(ev *domain.ZoneEvent) string {
	switch ev.Type {
	case domain.EventEnter:
		return "Zone entered"
	case domain.EventExit:
		return "Zone left"
	case domain.EventViolation:
		if ev.Violation == domain.ViolationSpeed {
			return "Speed limit violation"
		}
		return "Dwell limit violation"
	}
	return "Zone event"
}

func eventSummary(ev *domain.ZoneEvent, zone *domain.Zone) string {
	switch ev.Type {
	case domain.EventEnter:
		return fmt.Sprintf("Agent %s entered zone %q", ev.AgentID, zone.Name)
	case domain.EventExit:
		return fmt.Sprintf("Agent %s left zone %q", ev.AgentID, zone.Name)
	case domain.EventViolation:
		if ev.Violation == domain.ViolationSpeed {
			return fmt.Sprintf("Agent %s exceeded the speed limit in zone %q", ev.AgentID, zone.Name)
		}
		return fmt.Sprintf("Agent %s stayed in zone %q longer than allowed", ev.AgentID, zone.Name)
	}
	return fmt.Sprintf("Zone event %s for agent %s", ev.Type, ev.AgentID)
}
