package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/csma94/guard-sub003/internal/domain"
	"github.com/csma94/guard-sub003/internal/infra"
)

func testDispatchConfig() infra.DispatchConfig {
	return infra.DispatchConfig{
		SendBuffer:        8,
		PingInterval:      time.Second,
		WriteTimeout:      2 * time.Second,
		QueueCap:          5,
		QueueRetention:    4 * time.Hour,
		CriticalQueueCap:  100,
		CriticalRetention: 72 * time.Hour,
	}
}

func newTestQueue(t *testing.T) *OfflineQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewOfflineQueue(rdb, testDispatchConfig(), zap.NewNop())
}

func infoFrame(eventID string, at time.Time) domain.EventFrame {
	return domain.EventFrame{
		Frame: domain.FrameZoneEvent,
		Event: domain.ZoneEvent{
			ID:      eventID,
			Type:    domain.EventEnter,
			AgentID: "agent-1",
			ZoneID:  "z1",
			SiteID:  "site-1",
		},
		EnqueuedAt: at,
	}
}

func violationFrame(eventID string, at time.Time) domain.EventFrame {
	f := infoFrame(eventID, at)
	f.Event.Type = domain.EventViolation
	f.Event.Violation = domain.ViolationDwell
	f.Priority = "high"
	return f
}

func TestOfflineQueueDrainFIFO(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	for _, id := range []string{"e1", "e2", "e3"} {
		require.NoError(t, q.Push(ctx, "disp-1", infoFrame(id, time.Time{})))
	}

	got, err := q.Drain(ctx, "disp-1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, "e1", got[0].Event.ID)
	require.Equal(t, "e2", got[1].Event.ID)
	require.Equal(t, "e3", got[2].Event.ID)

	// Очередь после Drain пуста
	got, err = q.Drain(ctx, "disp-1")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestOfflineQueueCapEvictsOldest(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	// QueueCap = 5: из семи кадров выживают пять последних
	for _, id := range []string{"e1", "e2", "e3", "e4", "e5", "e6", "e7"} {
		require.NoError(t, q.Push(ctx, "disp-1", infoFrame(id, time.Time{})))
	}

	got, err := q.Drain(ctx, "disp-1")
	require.NoError(t, err)
	require.Len(t, got, 5)
	require.Equal(t, "e3", got[0].Event.ID)
	require.Equal(t, "e7", got[4].Event.ID)
}

func TestOfflineQueueRetention(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	// Информационный кадр старше 4 часов — мимо, нарушение того же
	// возраста — в ленту: у критичных срок 72 часа.
	stale := time.Now().UTC().Add(-5 * time.Hour)
	require.NoError(t, q.Push(ctx, "disp-1", infoFrame("old-info", stale)))
	require.NoError(t, q.Push(ctx, "disp-1", violationFrame("old-crit", stale)))
	require.NoError(t, q.Push(ctx, "disp-1", infoFrame("fresh", time.Time{})))

	got, err := q.Drain(ctx, "disp-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "old-crit", got[0].Event.ID)
	require.Equal(t, "fresh", got[1].Event.ID)
}

func TestOfflineQueueMergesClassesByTime(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, q.Push(ctx, "disp-1", infoFrame("i1", base)))
	require.NoError(t, q.Push(ctx, "disp-1", violationFrame("v1", base.Add(time.Second))))
	require.NoError(t, q.Push(ctx, "disp-1", infoFrame("i2", base.Add(2*time.Second))))

	got, err := q.Drain(ctx, "disp-1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, "i1", got[0].Event.ID)
	require.Equal(t, "v1", got[1].Event.ID)
	require.Equal(t, "i2", got[2].Event.ID)
}

func TestOfflineQueueIsolatedPerUser(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, "disp-1", infoFrame("e1", time.Time{})))
	require.NoError(t, q.Push(ctx, "disp-2", infoFrame("e2", time.Time{})))

	got, err := q.Drain(ctx, "disp-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "e1", got[0].Event.ID)

	got, err = q.Drain(ctx, "disp-2")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "e2", got[0].Event.ID)
}
