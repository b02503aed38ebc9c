package realtime

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/csma94/guard-sub003/internal/domain"
)

// Протокол push-only: единственное, что может прислать клиент — pong и close.
const maxInboundBytes = 512

// Client — одно WebSocket-соединение пользователя.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan domain.EventFrame
	userID string
	rooms  []string
}

// writePump — единственный писатель в сокет (требование gorilla/websocket:
// конкурентные записи запрещены). Гонит кадры из буфера и heartbeat-пинги.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
			if !ok {
				// Hub закрыл канал — прощаемся штатно
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump держит соединение и следит за живостью через pong-дедлайны.
// Полезной нагрузки от клиента протокол не предусматривает — читаем
// и отбрасываем, любая ошибка чтения означает конец сессии.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	pongWait := c.hub.cfg.PingInterval + c.hub.cfg.WriteTimeout
	c.conn.SetReadLimit(maxInboundBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
