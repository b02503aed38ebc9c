package realtime

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/csma94/guard-sub003/internal/infra/auth"
)

// ScopeStream — право подписки на живой поток событий.
const ScopeStream = "events.stream"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origin проверяет ingress, до приложения доходит доверенный трафик
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamAPI — HTTP-вход WebSocket-подписки.
type StreamAPI struct {
	hub    *Hub
	logger *zap.Logger
}

func NewStreamAPI(hub *Hub, logger *zap.Logger) *StreamAPI {
	return &StreamAPI{hub: hub, logger: logger}
}

// HandleStream апгрейдит соединение и привязывает его к комнатам из claims.
// Токен уже проверен auth.Middleware (браузерный клиент передает его
// query-параметром token, мобильный — обычным заголовком).
func (a *StreamAPI) HandleStream(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if !claims.Scopes[ScopeStream] {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade сам ответил клиенту, нам остается след в логе
		a.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	client := a.hub.Register(r.Context(), conn, claims)
	if client == nil {
		return // Hub остановлен, соединение уже закрыто
	}

	go client.writePump()
	client.readPump()
}
