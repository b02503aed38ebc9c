package domain

import (
	"fmt"
	"time"
)

// ValidationError — ошибка входных данных. Единственный тип ошибки,
// который возвращается вызывающей стороне как есть (HTTP 400).
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: field %q %s", e.Field, e.Reason)
}

// LocationSample — одно измерение GPS-трека агента (охранника).
type LocationSample struct {
	SampleID  string    `json:"sample_id"`  // UUID, выдается устройством; нужен для дедупликации при ретраях
	AgentID   string    `json:"agent_id"`   // Кто двигался
	SiteID    string    `json:"site_id"`    // Объект охраны, к которому привязана смена
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lon"`
	AccuracyM float64   `json:"accuracy_m"` // Погрешность GPS в метрах
	SpeedKmh  *float64  `json:"speed_kmh,omitempty"` // Скорость от устройства, км/ч (может отсутствовать)
	Heading   *float64  `json:"heading,omitempty"`   // Курс в градусах (может отсутствовать)
	Timestamp time.Time `json:"timestamp"`           // Время измерения на устройстве

	// Служебные поля, не приходят с устройства
	ReceivedAt time.Time `json:"-"`
	TraceID    string    `json:"-"` // Сквозной ID запроса для логов
}

// Point возвращает координату сэмпла.
func (s *LocationSample) Point() LatLon {
	return LatLon{Lat: s.Latitude, Lon: s.Longitude}
}

// Validate проверяет сэмпл перед постановкой в конвейер.
// maxAge и maxSkew задают окно допустимых таймстемпов относительно now:
// слишком старые сэмплы (пролежавшие в офлайн-буфере устройства дольше maxAge)
// и сэмплы «из будущего» отбрасываются на входе.
func (s *LocationSample) Validate(now time.Time, maxAge, maxSkew time.Duration) error {
	if s.AgentID == "" {
		return &ValidationError{Field: "agent_id", Reason: "is required"}
	}
	if s.SiteID == "" {
		return &ValidationError{Field: "site_id", Reason: "is required"}
	}
	if s.Latitude < -90 || s.Latitude > 90 {
		return &ValidationError{Field: "lat", Reason: "must be in [-90, 90]"}
	}
	if s.Longitude < -180 || s.Longitude > 180 {
		return &ValidationError{Field: "lon", Reason: "must be in [-180, 180]"}
	}
	if s.AccuracyM < 0 {
		return &ValidationError{Field: "accuracy_m", Reason: "must be non-negative"}
	}
	if s.SpeedKmh != nil && *s.SpeedKmh < 0 {
		return &ValidationError{Field: "speed_kmh", Reason: "must be non-negative"}
	}
	if s.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Reason: "is required"}
	}
	if s.Timestamp.Before(now.Add(-maxAge)) {
		return &ValidationError{Field: "timestamp", Reason: fmt.Sprintf("is older than %v", maxAge)}
	}
	if s.Timestamp.After(now.Add(maxSkew)) {
		return &ValidationError{Field: "timestamp", Reason: "is in the future"}
	}
	return nil
}
