package notify

import (
	"context"
	"time"
)

// Notification — единица доставки: push на устройство или оповещение роли.
type Notification struct {
	EventID   string    `json:"event_id"` // Событие-источник (для дедупликации на устройстве)
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Priority  string    `json:"priority"` // "normal" | "high"
	SiteID    string    `json:"site_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Bridge — мост к внешним каналам доставки. Процессор правил зависит только
// от этого контракта; надежность (ретраи, предохранитель, лимиты) — забота
// обертки, а не вызывающего.
type Bridge interface {
	// SendUser доставляет персональный push конкретному пользователю.
	SendUser(ctx context.Context, userID string, n Notification) error
	// SendRole оповещает всех носителей роли (старшие смены, диспетчеры).
	SendRole(ctx context.Context, role string, n Notification) error
	// SendWebhook выполняет POST во внешнюю систему (СКУД, ERP, дежурка).
	SendWebhook(ctx context.Context, url string, payload []byte) error
}
