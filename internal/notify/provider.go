package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// ProviderBridge — конкретный отправитель. Push/роль идут через внешнего
// провайдера (здесь — имитация его поведения, включая задержки и сбои),
// webhook — настоящий POST с ограниченным таймаутом.
type ProviderBridge struct {
	http   *http.Client
	logger *zap.Logger
}

func NewProviderBridge(timeout time.Duration, logger *zap.Logger) *ProviderBridge {
	return &ProviderBridge{
		http:   &http.Client{Timeout: timeout},
		logger: logger.Named("notify"),
	}
}

func (b *ProviderBridge) SendUser(ctx context.Context, userID string, n Notification) error {
	if err := b.simulateProvider(ctx, userID); err != nil {
		return err
	}
	b.logger.Info("push delivered",
		zap.String("user_id", userID),
		zap.String("event_id", n.EventID),
		zap.String("priority", n.Priority))
	return nil
}

func (b *ProviderBridge) SendRole(ctx context.Context, role string, n Notification) error {
	if err := b.simulateProvider(ctx, role); err != nil {
		return err
	}
	b.logger.Info("role alert delivered",
		zap.String("role", role),
		zap.String("event_id", n.EventID),
		zap.String("priority", n.Priority))
	return nil
}

// simulateProvider повторяет повадки реального push-шлюза:
// сетевая задержка 50-300мс и падения на «нестабильном» адресате.
func (b *ProviderBridge) simulateProvider(ctx context.Context, recipient string) error {
	latency := time.Duration(50+rand.Intn(250)) * time.Millisecond

	select {
	case <-time.After(latency):
		// Имитация работы
	case <-ctx.Done():
		return &DeliveryError{Provider: "push", Cause: ctx.Err()}
	}

	if recipient == "unstable.recipient" {
		return &DeliveryError{Provider: "push", Cause: fmt.Errorf("provider internal error")}
	}
	return nil
}

// SendWebhook — POST во внешнюю систему. 429 конвертируется в ThrottleError
// с Retry-After из заголовка, остальные не-2xx — в DeliveryError.
func (b *ProviderBridge) SendWebhook(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return &DeliveryError{Provider: "webhook", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		return &DeliveryError{Provider: "webhook", Cause: err}
	}
	defer resp.Body.Close()
	// Дочитываем тело, чтобы соединение вернулось в пул
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil

	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := time.Second
		if v := resp.Header.Get("Retry-After"); v != "" {
			if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
				retryAfter = time.Duration(sec) * time.Second
			}
		}
		return &ThrottleError{
			RetryAfter: retryAfter,
			Cause:      &DeliveryError{Provider: "webhook", Status: resp.StatusCode},
		}

	default:
		return &DeliveryError{
			Provider: "webhook",
			Status:   resp.StatusCode,
			Cause:    fmt.Errorf("unexpected status %s", resp.Status),
		}
	}
}
