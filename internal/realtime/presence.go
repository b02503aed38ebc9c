package realtime

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/csma94/guard-sub003/internal/infra"
)

// Presence — общий для всех инстансов Redis Set с ID подключенных
// пользователей. Hub сам знает своих клиентов по карте соединений;
// Set нужен консоли и соседним инстансам, которым карта недоступна.
type Presence struct {
	rdb *redis.Client
}

func NewPresence(rdb *redis.Client) *Presence {
	return &Presence{rdb: rdb}
}

func (p *Presence) MarkOnline(ctx context.Context, userID string) error {
	return p.rdb.SAdd(ctx, infra.RedisKeyOnlineUsers, userID).Err()
}

// MarkOffline вызывается после закрытия последнего соединения пользователя.
func (p *Presence) MarkOffline(ctx context.Context, userID string) error {
	return p.rdb.SRem(ctx, infra.RedisKeyOnlineUsers, userID).Err()
}

// IsOnline — Fail-Safe: при недоступном Redis считаем пользователя офлайн.
func (p *Presence) IsOnline(ctx context.Context, userID string) bool {
	ok, err := p.rdb.SIsMember(ctx, infra.RedisKeyOnlineUsers, userID).Result()
	if err != nil {
		return false
	}
	return ok
}

func (p *Presence) Online(ctx context.Context) ([]string, error) {
	return p.rdb.SMembers(ctx, infra.RedisKeyOnlineUsers).Result()
}
