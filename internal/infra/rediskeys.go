package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "guard"
)

// Ключи для Sets (состояние)
const (
	// RedisKeyOnlineUsers — presence: кто сейчас держит WebSocket-подключение
	RedisKeyOnlineUsers = RedisNamespace + ":users:online_set"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanZonesUpdate — сигнал «конфигурация зон изменилась».
	// Все инстансы trackd, подписанные на канал, перечитывают зоны из БД.
	RedisChanZonesUpdate = RedisNamespace + ":zones:update"

	// RedisChanSessionEnd — завершение смены агента (payload — agent_id).
	// Движок сбрасывает членство в зонах и открытые эпизоды нарушений.
	RedisChanSessionEnd = RedisNamespace + ":sessions:end"
)

// InboxKey — офлайн-очередь информационных кадров пользователя (Redis List).
func InboxKey(userID string) string {
	return fmt.Sprintf("%s:inbox:%s", RedisNamespace, userID)
}

// InboxCriticalKey — офлайн-очередь нарушений. Отдельный ключ, потому что
// у нарушений свой срок хранения и свой лимит.
func InboxCriticalKey(userID string) string {
	return fmt.Sprintf("%s:inbox:%s:critical", RedisNamespace, userID)
}
