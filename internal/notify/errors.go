package notify

import (
	"fmt"
	"time"
)

// DeliveryError — неуспех доставки уведомления или webhook-вызова.
type DeliveryError struct {
	Provider string // "push", "webhook"
	Status   int    // HTTP-статус, если применимо
	Cause    error
}

func (e *DeliveryError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("delivery failed: provider %s returned %d (cause: %v)", e.Provider, e.Status, e.Cause)
	}
	return fmt.Sprintf("delivery failed: provider %s (cause: %v)", e.Provider, e.Cause)
}

func (e *DeliveryError) Unwrap() error { return e.Cause }

// Permanent — ошибка, которую ретраи не исправят (4xx, кроме 429).
func (e *DeliveryError) Permanent() bool {
	return e.Status >= 400 && e.Status < 500 && e.Status != 429
}

type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }
