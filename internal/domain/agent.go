package domain

import (
	"errors"
	"time"
)

// ErrAgentNotFound — агент с таким ID отсутствует в реестре.
var ErrAgentNotFound = errors.New("agent not found")

// Agent — охранник в реестре платформы. Учетные данные его устройства
// живут отдельно (токены выпускает Console API), здесь — справочные данные
// для отображения и проверок.
type Agent struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Role   string `json:"role"` // "agent" или специализация ("k9", "mobile")
	SiteID string `json:"site_id"`
	Active bool   `json:"active"`

	// Online заполняется из presence-набора Redis, в БД не хранится
	Online bool `json:"online"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EventStats — сводка по событиям для дашборда диспетчера.
type EventStats struct {
	SiteID     string           `json:"site_id,omitempty"`
	Since      time.Time        `json:"since"`
	ByType     map[string]int64 `json:"by_type"`
	Violations int64            `json:"violations"`
	Unacked    int64            `json:"unacked"`
}
