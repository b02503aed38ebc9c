package domain

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Роли учетных записей.
const (
	RoleAgent      = "agent"      // Мобильное устройство охранника
	RoleSupervisor = "supervisor" // Старший смены
	RoleDispatcher = "dispatcher" // Оператор пульта
	RoleAdmin      = "admin"
)

// CustomClaims — полезная нагрузка RS256-токена.
// У агентского устройства UserID совпадает с agent_id, Sites содержит
// единственный объект текущей смены. У диспетчера Sites — все его объекты.
type CustomClaims struct {
	UserID string          `json:"user_id"`
	Role   string          `json:"role"`   // "agent", "supervisor", "admin"
	Sites  []string        `json:"sites"`  // Объекты, к которым есть доступ
	Scopes map[string]bool `json:"scopes"` // "location.submit": true, "zones.manage": true и т.д.
	jwt.RegisteredClaims
}

// HasSite проверяет доступ к объекту.
func (c *CustomClaims) HasSite(siteID string) bool {
	for _, s := range c.Sites {
		if s == siteID {
			return true
		}
	}
	return false
}

// Secure Token Issuing
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"` // Всегда "Bearer"
	ExpiresIn   int64  `json:"expires_in"`
}

// User — учетная запись Console API (диспетчер, администратор).
type User struct {
	ID           string          `json:"id"`
	Email        string          `json:"email"`
	Username     string          `json:"username"`
	PasswordHash string          `json:"-"` // Никогда не отправляем на фронт
	Role         string          `json:"role"`
	Sites        []string        `json:"sites"`
	Scopes       map[string]bool `json:"scopes"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
