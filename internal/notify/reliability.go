package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/csma94/guard-sub003/internal/engine"
	"github.com/csma94/guard-sub003/internal/infra"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ReliableBridge оборачивает доставку в полный стек надежности:
// Rate Limiter -> Circuit Breaker (свой на каждый канал) -> Retry с бэкоффом.
// Постоянные ошибки (4xx) не ретраятся и предохранитель не взводят:
// он следит за здоровьем провайдера, а не за кривыми запросами.
type ReliableBridge struct {
	next     Bridge
	breakers map[string]*gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	cfg      infra.NotifyConfig
	logger   *zap.Logger
}

func NewReliableBridge(next Bridge, cfg infra.NotifyConfig, metrics *engine.Metrics, logger *zap.Logger) *ReliableBridge {
	w := &ReliableBridge{
		next:     next,
		breakers: make(map[string]*gobreaker.CircuitBreaker, 3),
		// Общий лимит исходящего трафика к провайдерам
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		cfg:     cfg,
		logger:  logger.Named("notify.reliable"),
	}

	// Каналы деградируют независимо: упавший webhook-приемник
	// не должен глушить push охранникам
	for _, channel := range []string{"push_user", "push_role", "webhook"} {
		channel := channel
		w.breakers[channel] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        channel,
			MaxRequests: cfg.CBMaxRequests,
			Interval:    cfg.CBInterval,
			Timeout:     cfg.CBTimeout, // Время, через которое CB попробует "закрыться"
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				// Если более 5 ошибок подряд — открываемся (блокируем трафик)
				return counts.ConsecutiveFailures > 5
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				var v float64
				switch to {
				case gobreaker.StateOpen:
					v = 1
				case gobreaker.StateHalfOpen:
					v = 0.5
				}
				metrics.CircuitBreakerState.WithLabelValues(name).Set(v)
				w.logger.Warn("circuit breaker state changed",
					zap.String("channel", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		})
	}
	return w
}

func (w *ReliableBridge) SendUser(ctx context.Context, userID string, n Notification) error {
	return w.call(ctx, "push_user", func(tCtx context.Context) error {
		return w.next.SendUser(tCtx, userID, n)
	})
}

func (w *ReliableBridge) SendRole(ctx context.Context, role string, n Notification) error {
	return w.call(ctx, "push_role", func(tCtx context.Context) error {
		return w.next.SendRole(tCtx, role, n)
	})
}

func (w *ReliableBridge) SendWebhook(ctx context.Context, url string, payload []byte) error {
	return w.call(ctx, "webhook", func(tCtx context.Context) error {
		return w.next.SendWebhook(tCtx, url, payload)
	})
}

func (w *ReliableBridge) call(ctx context.Context, channel string, op func(ctx context.Context) error) error {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit exceeded: %w", err)
	}

	// Постоянная ошибка фиксируется отдельно: для предохранителя такой
	// вызов успешен (провайдер жив), но вызывающему она возвращается
	var permErr error

	// 2. Circuit Breaker
	_, err := w.breakers[channel].Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(w.cfg.RetryAttempts),
			// Умный расчет задержки
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Если провайдер просит подождать (Retry-After) — слушаемся
				var tErr *ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}

				// В остальных случаях (сетевой лаг, 500-ка) — стандартный экспоненциальный бэкофф
				return retry.BackOffDelay(n, err, config)
			}),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
			defer cancel()

			err := op(tCtx)
			if err == nil {
				return nil
			}
			var dErr *DeliveryError
			if errors.As(err, &dErr) && dErr.Permanent() {
				permErr = err
				return nil // Ретраи не помогут: запрос кривой, а не канал
			}
			return err
		})
		return nil, retryErr
	})

	if err != nil {
		return err
	}
	return permErr
}
