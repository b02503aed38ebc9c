package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/csma94/guard-sub003/internal/domain"
	"github.com/csma94/guard-sub003/internal/infra"
)

type fakeAgentRegistry struct {
	agents    []*domain.Agent
	setActive map[string]bool
	err       error
}

func (f *fakeAgentRegistry) GetAgent(_ context.Context, id string) (*domain.Agent, error) {
	for _, a := range f.agents {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, nil
}

func (f *fakeAgentRegistry) ListAgents(_ context.Context, _ string) ([]*domain.Agent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.agents, nil
}

func (f *fakeAgentRegistry) SetActive(_ context.Context, id string, active bool) error {
	if f.err != nil {
		return f.err
	}
	if f.setActive == nil {
		f.setActive = map[string]bool{}
	}
	f.setActive[id] = active
	return nil
}

type fakePresence struct {
	online []string
	err    error
}

func (f *fakePresence) Online(_ context.Context) ([]string, error) {
	return f.online, f.err
}

type fakeCheckinReader struct {
	from, to time.Time
}

func (f *fakeCheckinReader) ListCheckins(_ context.Context, _ string, from, to time.Time) ([]*domain.PatrolCheckin, error) {
	f.from, f.to = from, to
	return []*domain.PatrolCheckin{}, nil
}

type fakeTrackReader struct {
	from, to time.Time
	limit    int
}

func (f *fakeTrackReader) ListSamples(_ context.Context, _ string, from, to time.Time, limit int) ([]*domain.LocationSample, error) {
	f.from, f.to, f.limit = from, to, limit
	return []*domain.LocationSample{}, nil
}

func newAgentFixture(t *testing.T, reg *fakeAgentRegistry, pres *fakePresence) (*AgentService, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewAgentService(reg, pres, &fakeCheckinReader{}, &fakeTrackReader{}, rdb, zap.NewNop()), rdb
}

func TestListAgentsOverlaysPresence(t *testing.T) {
	reg := &fakeAgentRegistry{agents: []*domain.Agent{
		{ID: "a1", Name: "Иванов"},
		{ID: "a2", Name: "Петров"},
	}}
	svc, _ := newAgentFixture(t, reg, &fakePresence{online: []string{"a2"}})

	agents, err := svc.ListAgents(context.Background(), "site-1")
	require.NoError(t, err)
	require.False(t, agents[0].Online)
	require.True(t, agents[1].Online)
}

func TestListAgentsToleratesPresenceOutage(t *testing.T) {
	reg := &fakeAgentRegistry{agents: []*domain.Agent{{ID: "a1"}}}
	svc, _ := newAgentFixture(t, reg, &fakePresence{err: fmt.Errorf("connection refused")})

	// Redis лег — таблица все равно отдается, просто без зеленых точек
	agents, err := svc.ListAgents(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, agents, 1)
	require.False(t, agents[0].Online)
}

func TestEndSessionPublishesSignal(t *testing.T) {
	svc, rdb := newAgentFixture(t, &fakeAgentRegistry{}, &fakePresence{})

	sub := rdb.Subscribe(context.Background(), infra.RedisChanSessionEnd)
	t.Cleanup(func() { sub.Close() })
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)

	require.NoError(t, svc.EndSession(context.Background(), "a1"))

	select {
	case msg := <-sub.Channel():
		require.Equal(t, "a1", msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("session end signal was not published")
	}
}

func TestSetActiveFalseEndsSession(t *testing.T) {
	reg := &fakeAgentRegistry{}
	svc, rdb := newAgentFixture(t, reg, &fakePresence{})

	sub := rdb.Subscribe(context.Background(), infra.RedisChanSessionEnd)
	t.Cleanup(func() { sub.Close() })
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)

	require.NoError(t, svc.SetActive(context.Background(), "a1", false))
	require.False(t, reg.setActive["a1"])

	select {
	case msg := <-sub.Channel():
		require.Equal(t, "a1", msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("deactivation must end the current session")
	}
}

func TestSetActiveTrueDoesNotTouchSession(t *testing.T) {
	reg := &fakeAgentRegistry{}
	svc, rdb := newAgentFixture(t, reg, &fakePresence{})

	sub := rdb.Subscribe(context.Background(), infra.RedisChanSessionEnd)
	t.Cleanup(func() { sub.Close() })
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)

	require.NoError(t, svc.SetActive(context.Background(), "a1", true))
	require.True(t, reg.setActive["a1"])

	select {
	case msg := <-sub.Channel():
		t.Fatalf("unexpected session end signal: %s", msg.Payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestListCheckinsDefaultsWindow(t *testing.T) {
	checkins := &fakeCheckinReader{}
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	svc := NewAgentService(&fakeAgentRegistry{}, &fakePresence{}, checkins, &fakeTrackReader{}, rdb, zap.NewNop())

	_, err := svc.ListCheckins(context.Background(), "a1", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.WithinDuration(t, time.Now(), checkins.to, time.Minute)
	require.WithinDuration(t, time.Now().Add(-24*time.Hour), checkins.from, time.Minute)
}

func TestAgentTrackDefaultsWindow(t *testing.T) {
	track := &fakeTrackReader{}
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	svc := NewAgentService(&fakeAgentRegistry{}, &fakePresence{}, &fakeCheckinReader{}, track, rdb, zap.NewNop())

	_, err := svc.AgentTrack(context.Background(), "a1", time.Time{}, time.Time{}, 500)
	require.NoError(t, err)
	require.Equal(t, 500, track.limit)
	require.WithinDuration(t, time.Now(), track.to, time.Minute)
	require.WithinDuration(t, time.Now().Add(-24*time.Hour), track.from, time.Minute)
}
