/*
Hub — центральная точка WebSocket-доставки (Dispatch Fabric).

Два плана доставки:

 1. Комнаты (site:{id}, role:{role}) — эфемерный broadcast живым
    наблюдателям. Отключился — пропустил, без компенсации.
 2. Адресная лента (SendToUser) — durable: при отсутствии живых
    соединений кадр уходит в офлайн-очередь и доигрывается FIFO
    при переподключении.

Дисциплина блокировок: запись в send-канал клиента — только под h.mu
(read или write), close(send) — только под h.mu (write). Это исключает
гонку send-после-close без отдельного мьютекса на клиента. Все записи
неблокирующие, поэтому держать блокировку на время рассылки дешево.

Backpressure: переполненный буфер соединения — это медленный потребитель.
Информационные кадры сбрасываются (Load Shedding + метрика), критичные
уходят в офлайн-очередь и догонят клиента после reconnect. Мертвые
соединения добивает ping/pong, а не рассылка.
*/
package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/csma94/guard-sub003/internal/domain"
	"github.com/csma94/guard-sub003/internal/engine"
	"github.com/csma94/guard-sub003/internal/infra"
)

type Hub struct {
	cfg      infra.DispatchConfig
	queue    *OfflineQueue
	presence *Presence
	metrics  *engine.Metrics
	logger   *zap.Logger

	mu    sync.RWMutex
	users map[string]map[*Client]struct{} // Живые соединения: у пользователя их может быть несколько
	rooms map[string]map[*Client]struct{}

	isClosed int32
}

func NewHub(cfg infra.DispatchConfig, queue *OfflineQueue, presence *Presence, metrics *engine.Metrics, logger *zap.Logger) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Hub{
		cfg:      cfg,
		queue:    queue,
		presence: presence,
		metrics:  metrics,
		logger:   logger,
		users:    make(map[string]map[*Client]struct{}),
		rooms:    make(map[string]map[*Client]struct{}),
	}
}

// roomsFor — каналы подписки из claims: личный, ролевой и по каждому объекту.
func roomsFor(claims *domain.CustomClaims) []string {
	rooms := []string{"user:" + claims.UserID, "role:" + claims.Role}
	for _, site := range claims.Sites {
		rooms = append(rooms, "site:"+site)
	}
	return rooms
}

// Register подключает клиента: выгребает его офлайн-очередь, ставит
// соединение в реестр и флашит бэклог до первого живого кадра.
// Возвращает nil, если Hub уже остановлен.
func (h *Hub) Register(ctx context.Context, conn *websocket.Conn, claims *domain.CustomClaims) *Client {
	if atomic.LoadInt32(&h.isClosed) == 1 {
		conn.Close()
		return nil
	}

	// 1. Сначала Drain: кадры, приходящие во время выгрузки, еще попадают
	// в очередь и не теряются — заберем их при следующем подключении.
	backlog, err := h.queue.Drain(ctx, claims.UserID)
	if err != nil {
		h.logger.Warn("inbox drain failed", zap.String("user_id", claims.UserID), zap.Error(err))
	}

	c := &Client{
		hub:    h,
		conn:   conn,
		userID: claims.UserID,
		rooms:  roomsFor(claims),
		// Буфер расширен под бэклог: флаш не должен вытеснить сам себя
		send: make(chan domain.EventFrame, h.cfg.SendBuffer+len(backlog)),
	}

	// 2. Регистрация и флаш под одной блокировкой: живой кадр не может
	// вклиниться в середину бэклога.
	h.mu.Lock()
	if h.users[c.userID] == nil {
		h.users[c.userID] = make(map[*Client]struct{})
	}
	h.users[c.userID][c] = struct{}{}
	for _, room := range c.rooms {
		if h.rooms[room] == nil {
			h.rooms[room] = make(map[*Client]struct{})
		}
		h.rooms[room][c] = struct{}{}
	}
	for _, f := range backlog {
		c.send <- f
	}
	h.mu.Unlock()

	h.metrics.WSClients.Inc()
	if err := h.presence.MarkOnline(ctx, c.userID); err != nil {
		h.logger.Warn("presence update failed", zap.Error(err))
	}

	h.logger.Info("ws client connected",
		zap.String("user_id", c.userID),
		zap.String("role", claims.Role),
		zap.Int("backlog", len(backlog)))
	return c
}

// Unregister снимает соединение. Идемпотентен: повторный вызов и вызов
// после Stop — no-op.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	conns, ok := h.users[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, present := conns[c]; !present {
		h.mu.Unlock()
		return
	}
	delete(conns, c)
	lastConn := len(conns) == 0
	if lastConn {
		delete(h.users, c.userID)
	}
	for _, room := range c.rooms {
		delete(h.rooms[room], c)
		if len(h.rooms[room]) == 0 {
			delete(h.rooms, room)
		}
	}
	close(c.send)
	h.mu.Unlock()

	h.metrics.WSClients.Dec()
	if lastConn {
		if err := h.presence.MarkOffline(context.Background(), c.userID); err != nil {
			h.logger.Warn("presence update failed", zap.Error(err))
		}
	}
	h.logger.Info("ws client disconnected", zap.String("user_id", c.userID))
}

// Dispatch — вход конвейера: событие уходит в комнату объекта
// (наблюдателям) и адресно агенту, durable.
func (h *Hub) Dispatch(ev *domain.ZoneEvent, zone *domain.Zone) {
	frame := domain.EventFrame{
		Frame: domain.FrameZoneEvent,
		Event: *ev,
	}
	if zone != nil {
		frame.ZoneName = zone.Name
	}
	if ev.Critical() {
		frame.Priority = "high"
	}

	h.BroadcastRoom("site:"+ev.SiteID, frame)
	h.SendToUser(ev.AgentID, frame)
}

// SendToUser — адресная доставка во все живые соединения пользователя.
// Офлайн — в очередь. Критичный кадр, не влезший в буфер медленного
// потребителя, тоже уходит в очередь: after reconnect он доиграется
// (at-least-once, возможен дубль на втором устройстве).
func (h *Hub) SendToUser(userID string, frame domain.EventFrame) {
	if atomic.LoadInt32(&h.isClosed) == 1 {
		return
	}

	spill := false

	h.mu.RLock()
	conns := h.users[userID]
	live := len(conns) > 0
	for c := range conns {
		if !h.trySend(c, frame) && critical(frame) {
			spill = true
		}
	}
	h.mu.RUnlock()

	if !live || spill {
		if err := h.queue.Push(context.Background(), userID, frame); err != nil {
			h.logger.Error("inbox push failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
}

// BroadcastRoom — эфемерная рассылка живым участникам комнаты.
func (h *Hub) BroadcastRoom(room string, frame domain.EventFrame) {
	if atomic.LoadInt32(&h.isClosed) == 1 {
		return
	}
	h.mu.RLock()
	for c := range h.rooms[room] {
		h.trySend(c, frame)
	}
	h.mu.RUnlock()
}

// trySend — неблокирующая запись в буфер соединения. Переполнение —
// признак медленного потребителя: кадр сбрасываем, сокет не трогаем,
// мертвые соединения добивает ping/pong.
func (h *Hub) trySend(c *Client, frame domain.EventFrame) bool {
	select {
	case c.send <- frame:
		return true
	default:
		h.metrics.EventsDropped.WithLabelValues("ws_send").Inc()
		h.logger.Warn("ws send buffer overflow, frame dropped",
			zap.String("user_id", c.userID),
			zap.String("frame", frame.Frame))
		return false
	}
}

// Stop закрывает все соединения. Вызывается ПОСЛЕ остановки конвейера
// и обработчика правил: новых кадров в этот момент уже нет.
func (h *Hub) Stop() {
	atomic.StoreInt32(&h.isClosed, 1)
	// Даем хвосту рассылок увидеть флаг
	time.Sleep(10 * time.Millisecond)

	var userIDs []string
	h.mu.Lock()
	for id, conns := range h.users {
		userIDs = append(userIDs, id)
		for c := range conns {
			close(c.send)
		}
	}
	h.users = make(map[string]map[*Client]struct{})
	h.rooms = make(map[string]map[*Client]struct{})
	h.mu.Unlock()

	h.metrics.WSClients.Set(0)
	for _, id := range userIDs {
		if err := h.presence.MarkOffline(context.Background(), id); err != nil {
			h.logger.Warn("presence update failed", zap.Error(err))
		}
	}
	h.logger.Info("dispatch hub stopped", zap.Int("disconnected_users", len(userIDs)))
}
