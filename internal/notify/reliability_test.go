package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/csma94/guard-sub003/internal/engine"
	"github.com/csma94/guard-sub003/internal/infra"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedBridge отвечает на вызовы по заранее заданному сценарию;
// после конца сценария всегда успех.
type scriptedBridge struct {
	mu     sync.Mutex
	calls  int
	script []error
}

func (s *scriptedBridge) step() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= len(s.script) {
		return s.script[s.calls-1]
	}
	return nil
}

func (s *scriptedBridge) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *scriptedBridge) SendUser(_ context.Context, _ string, _ Notification) error {
	return s.step()
}
func (s *scriptedBridge) SendRole(_ context.Context, _ string, _ Notification) error {
	return s.step()
}
func (s *scriptedBridge) SendWebhook(_ context.Context, _ string, _ []byte) error {
	return s.step()
}

func reliableConfig(attempts uint) infra.NotifyConfig {
	return infra.NotifyConfig{
		Timeout:       time.Second,
		RetryAttempts: attempts,
		RateLimit:     1000,
		RateBurst:     100,
		CBMaxRequests: 1,
		CBInterval:    time.Minute,
		CBTimeout:     time.Minute,
	}
}

func transientErr() error {
	return &DeliveryError{Provider: "push", Status: 503, Cause: context.DeadlineExceeded}
}

func TestReliableBridgeRetriesTransient(t *testing.T) {
	next := &scriptedBridge{script: []error{transientErr(), transientErr()}}
	w := NewReliableBridge(next, reliableConfig(3), engine.NewMetrics(nil), zap.NewNop())

	err := w.SendUser(context.Background(), "agent-1", Notification{EventID: "e1"})
	require.NoError(t, err)
	require.Equal(t, 3, next.callCount(), "two failures then success")
}

func TestReliableBridgePermanentNotRetried(t *testing.T) {
	bad := &DeliveryError{Provider: "webhook", Status: 400}
	next := &scriptedBridge{script: []error{bad}}
	w := NewReliableBridge(next, reliableConfig(3), engine.NewMetrics(nil), zap.NewNop())

	err := w.SendWebhook(context.Background(), "https://crm.local/hook", []byte(`{}`))

	var dErr *DeliveryError
	require.ErrorAs(t, err, &dErr)
	require.True(t, dErr.Permanent())
	require.Equal(t, 1, next.callCount(), "permanent errors must not be retried")
}

func TestReliableBridgeHonorsRetryAfter(t *testing.T) {
	next := &scriptedBridge{script: []error{&ThrottleError{RetryAfter: 50 * time.Millisecond}}}
	w := NewReliableBridge(next, reliableConfig(3), engine.NewMetrics(nil), zap.NewNop())

	start := time.Now()
	err := w.SendRole(context.Background(), "supervisor", Notification{EventID: "e1"})
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, 2, next.callCount())
}

func TestReliableBridgeBreakerOpens(t *testing.T) {
	// Бесконечно падающий провайдер; одна попытка на вызов, чтобы
	// каждый вызов давал предохранителю ровно один отказ
	script := make([]error, 20)
	for i := range script {
		script[i] = transientErr()
	}
	next := &scriptedBridge{script: script}
	w := NewReliableBridge(next, reliableConfig(1), engine.NewMetrics(nil), zap.NewNop())

	for i := 0; i < 6; i++ {
		require.Error(t, w.SendUser(context.Background(), "agent-1", Notification{}))
	}

	// Предохранитель открыт: провайдер больше не дергается
	err := w.SendUser(context.Background(), "agent-1", Notification{})
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	require.Equal(t, 6, next.callCount())
}

func TestReliableBridgeChannelsIndependent(t *testing.T) {
	script := make([]error, 6)
	for i := range script {
		script[i] = transientErr()
	}
	next := &scriptedBridge{script: script}
	w := NewReliableBridge(next, reliableConfig(1), engine.NewMetrics(nil), zap.NewNop())

	// Открываем предохранитель webhook-канала
	for i := 0; i < 6; i++ {
		require.Error(t, w.SendWebhook(context.Background(), "https://dead.local", []byte(`{}`)))
	}
	require.ErrorIs(t, w.SendWebhook(context.Background(), "https://dead.local", []byte(`{}`)), gobreaker.ErrOpenState)

	// Push-канал живет своей жизнью
	require.NoError(t, w.SendUser(context.Background(), "agent-1", Notification{}))
}
