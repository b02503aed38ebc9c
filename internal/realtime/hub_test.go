package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/csma94/guard-sub003/internal/domain"
	"github.com/csma94/guard-sub003/internal/engine"
	"github.com/csma94/guard-sub003/internal/infra/auth"
)

type hubFixture struct {
	hub      *Hub
	queue    *OfflineQueue
	presence *Presence
	srv      *httptest.Server
}

// newHubFixture поднимает Hub на miniredis и HTTP-сервер, в котором
// claims берутся из тестовых заголовков вместо JWT.
func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	cfg := testDispatchConfig()
	queue := NewOfflineQueue(rdb, cfg, zap.NewNop())
	presence := NewPresence(rdb)
	hub := NewHub(cfg, queue, presence, engine.NewMetrics(nil), zap.NewNop())
	api := NewStreamAPI(hub, zap.NewNop())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := &domain.CustomClaims{
			UserID: r.Header.Get("X-User"),
			Role:   r.Header.Get("X-Role"),
			Scopes: map[string]bool{ScopeStream: true},
		}
		if s := r.Header.Get("X-Sites"); s != "" {
			claims.Sites = strings.Split(s, ",")
		}
		api.HandleStream(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Stop)

	return &hubFixture{hub: hub, queue: queue, presence: presence, srv: srv}
}

func (fx *hubFixture) dial(t *testing.T, userID, role string, sites ...string) *websocket.Conn {
	t.Helper()
	h := http.Header{}
	h.Set("X-User", userID)
	h.Set("X-Role", role)
	h.Set("X-Sites", strings.Join(sites, ","))

	url := "ws" + strings.TrimPrefix(fx.srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, h)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// waitOnline дожидается завершения Register на стороне сервера:
// presence выставляется последним шагом регистрации.
func (fx *hubFixture) waitOnline(t *testing.T, userID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return fx.presence.IsOnline(context.Background(), userID)
	}, 2*time.Second, 5*time.Millisecond)
}

func readFrame(t *testing.T, conn *websocket.Conn) domain.EventFrame {
	t.Helper()
	var f domain.EventFrame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestHubDeliversLiveFrames(t *testing.T) {
	fx := newHubFixture(t)
	conn := fx.dial(t, "disp-1", domain.RoleDispatcher, "site-1")
	fx.waitOnline(t, "disp-1")

	fx.hub.SendToUser("disp-1", infoFrame("e1", time.Time{}))

	got := readFrame(t, conn)
	require.Equal(t, domain.FrameZoneEvent, got.Frame)
	require.Equal(t, "e1", got.Event.ID)
}

func TestHubDispatchFanout(t *testing.T) {
	fx := newHubFixture(t)

	// Диспетчер наблюдает комнату объекта; агент получает персональную
	// ленту (токен без sites, чтобы не дублировать через комнату)
	dispConn := fx.dial(t, "disp-1", domain.RoleDispatcher, "site-1")
	agentConn := fx.dial(t, "agent-1", domain.RoleAgent)
	fx.waitOnline(t, "disp-1")
	fx.waitOnline(t, "agent-1")

	ev := &domain.ZoneEvent{
		ID:      "ev-1",
		Type:    domain.EventViolation,
		AgentID: "agent-1",
		ZoneID:  "z1",
		SiteID:  "site-1",
	}
	fx.hub.Dispatch(ev, &domain.Zone{ID: "z1", SiteID: "site-1", Name: "Склад ГСМ"})

	forDisp := readFrame(t, dispConn)
	require.Equal(t, "ev-1", forDisp.Event.ID)
	require.Equal(t, "Склад ГСМ", forDisp.ZoneName)
	require.Equal(t, "high", forDisp.Priority)

	forAgent := readFrame(t, agentConn)
	require.Equal(t, "ev-1", forAgent.Event.ID)
}

func TestHubFlushesBacklogOnReconnect(t *testing.T) {
	fx := newHubFixture(t)
	ctx := context.Background()

	// Пользователь офлайн: кадры копятся в Redis
	fx.hub.SendToUser("disp-1", infoFrame("e1", time.Time{}))
	fx.hub.SendToUser("disp-1", violationFrame("e2", time.Time{}))

	conn := fx.dial(t, "disp-1", domain.RoleDispatcher, "site-1")
	fx.waitOnline(t, "disp-1")

	// Бэклог доигрывается в исходном порядке, живой кадр — после него
	fx.hub.SendToUser("disp-1", infoFrame("e3", time.Time{}))

	require.Equal(t, "e1", readFrame(t, conn).Event.ID)
	require.Equal(t, "e2", readFrame(t, conn).Event.ID)
	require.Equal(t, "e3", readFrame(t, conn).Event.ID)

	// Очередь вычищена
	left, err := fx.queue.Drain(ctx, "disp-1")
	require.NoError(t, err)
	require.Empty(t, left)
}

func TestHubRoomBroadcastIsEphemeral(t *testing.T) {
	fx := newHubFixture(t)
	ctx := context.Background()

	// Рассылка в пустую комнату не оставляет следов в очередях
	fx.hub.BroadcastRoom("site:site-1", infoFrame("lost", time.Time{}))
	left, err := fx.queue.Drain(ctx, "disp-1")
	require.NoError(t, err)
	require.Empty(t, left)

	conn := fx.dial(t, "disp-1", domain.RoleDispatcher, "site-1")
	fx.waitOnline(t, "disp-1")

	fx.hub.BroadcastRoom("site:site-1", infoFrame("live", time.Time{}))
	require.Equal(t, "live", readFrame(t, conn).Event.ID)
}

func TestHubMultiDeviceDelivery(t *testing.T) {
	fx := newHubFixture(t)

	first := fx.dial(t, "sup-1", domain.RoleSupervisor, "site-1")
	second := fx.dial(t, "sup-1", domain.RoleSupervisor, "site-1")
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(fx.hub.metrics.WSClients) == 2
	}, 2*time.Second, 5*time.Millisecond)

	fx.hub.SendToUser("sup-1", infoFrame("e1", time.Time{}))

	require.Equal(t, "e1", readFrame(t, first).Event.ID)
	require.Equal(t, "e1", readFrame(t, second).Event.ID)
}

func TestHubSlowConsumerShedsInfoSpillsCritical(t *testing.T) {
	fx := newHubFixture(t)
	ctx := context.Background()

	// Клиент без writePump и с буфером на один кадр: второй некуда девать
	c := &Client{hub: fx.hub, userID: "disp-1", send: make(chan domain.EventFrame, 1)}
	fx.hub.users["disp-1"] = map[*Client]struct{}{c: {}}

	fx.hub.SendToUser("disp-1", infoFrame("fits", time.Time{}))
	fx.hub.SendToUser("disp-1", infoFrame("shed", time.Time{}))
	require.Equal(t, float64(1), testutil.ToFloat64(fx.hub.metrics.EventsDropped.WithLabelValues("ws_send")))

	// Информационный кадр потерян насовсем
	left, err := fx.queue.Drain(ctx, "disp-1")
	require.NoError(t, err)
	require.Empty(t, left)

	// Критичный кадр при переполнении уходит в офлайн-очередь
	fx.hub.SendToUser("disp-1", violationFrame("kept", time.Time{}))
	left, err = fx.queue.Drain(ctx, "disp-1")
	require.NoError(t, err)
	require.Len(t, left, 1)
	require.Equal(t, "kept", left[0].Event.ID)

	delete(fx.hub.users, "disp-1") // Чтобы Stop не закрывал канал без пампа
}

func TestHubPresenceLifecycle(t *testing.T) {
	fx := newHubFixture(t)
	ctx := context.Background()

	conn := fx.dial(t, "disp-1", domain.RoleDispatcher, "site-1")
	fx.waitOnline(t, "disp-1")
	require.Equal(t, float64(1), testutil.ToFloat64(fx.hub.metrics.WSClients))

	conn.Close()
	require.Eventually(t, func() bool {
		return !fx.presence.IsOnline(ctx, "disp-1")
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(fx.hub.metrics.WSClients) == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHubStopDisconnectsClients(t *testing.T) {
	fx := newHubFixture(t)

	conn := fx.dial(t, "disp-1", domain.RoleDispatcher, "site-1")
	fx.waitOnline(t, "disp-1")

	fx.hub.Stop()

	// Сервер закрывает соединение штатным Close-кадром
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	require.False(t, fx.presence.IsOnline(context.Background(), "disp-1"))

	// Регистрация после остановки невозможна
	h := http.Header{}
	h.Set("X-User", "disp-2")
	h.Set("X-Role", domain.RoleDispatcher)
	url := "ws" + strings.TrimPrefix(fx.srv.URL, "http")
	late, resp, err := websocket.DefaultDialer.Dial(url, h)
	if err == nil {
		defer late.Close()
		require.NoError(t, late.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, readErr := late.ReadMessage()
		require.Error(t, readErr)
	}
	if resp != nil {
		resp.Body.Close()
	}
}
