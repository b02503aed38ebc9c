package history

/*
Файл writer.go реализует асинхронную персистентность истории трекинга:
GPS-трек (location_samples) и журнал событий (zone_events).

Ключевые особенности архитектуры:
- Non-blocking Recording: Использование неблокирующих каналов для передачи записей
  из Hot Path конвейера. Это гарантирует, что задержки записи в БД не влияют
  на время оценки сэмпла.
- Batching & Efficiency: Накопление записей в памяти и пакетная запись (Bulk Insert)
  в PostgreSQL по таймеру или при достижении лимита пачки.
- Drain Pattern & Graceful Shutdown: Реализован механизм полной вычитки буфера
  при остановке сервиса. С помощью sync.WaitGroup и закрытия каналов гарантируется
  Final Flush — отсутствие потерь данных при перезагрузке системы.
- Reliability: Устойчивость к кратковременным сбоям БД за счет изоляции воркера
  и использования контекста Background для завершающих операций.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/csma94/guard-sub003/internal/domain"
	"github.com/csma94/guard-sub003/internal/engine"
	"github.com/csma94/guard-sub003/internal/infra"
	"go.uber.org/zap"
)

// SampleStore определяет, куда физически сохраняется GPS-трек
type SampleStore interface {
	// InsertSamples сохраняет пачку сэмплов за один раз
	InsertSamples(ctx context.Context, batch []domain.LocationSample) error
}

// EventStore — то же для событий зон
type EventStore interface {
	InsertEvents(ctx context.Context, batch []domain.ZoneEvent) error
}

// SampleWriter буферизует сэмплы и пишет их в БД пачками.
type SampleWriter struct {
	ch      chan domain.LocationSample // Буфер для асинхронности
	store   SampleStore
	cfg     infra.HistoryConfig
	metrics *engine.Metrics
	logger  *zap.Logger
	wg      sync.WaitGroup
	// Защита от записи после остановки, если кто-то вызовет Record поздно
	isClosed int32 // Атомарный флаг (0 - открыт, 1 - закрыт)
}

func NewSampleWriter(store SampleStore, cfg infra.HistoryConfig, metrics *engine.Metrics, logger *zap.Logger) *SampleWriter {
	return &SampleWriter{
		ch:      make(chan domain.LocationSample, cfg.SampleBuffer),
		store:   store,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.With(zap.String("mod", "history.samples")),
	}
}

func (w *SampleWriter) Start() {
	w.wg.Add(1)
	go w.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (w *SampleWriter) Stop() {
	// 1. Сначала ставим флаг
	atomic.StoreInt32(&w.isClosed, 1)

	// 2. Даем крошечную паузу, чтобы текущие Record успели проскочить
	time.Sleep(10 * time.Millisecond)

	// 3. Закрываем (Drain Pattern). Завершение горутины происходит исключительно через закрытие входного канала.
	w.logger.Info("stopping sample writer: closing channel and flushing buffer...")
	close(w.ch) // Новые записи больше не принимаются
	w.wg.Wait() // Ждем, пока воркер вычитает остатки из канала и вызовет flush()
	w.logger.Info("sample writer stopped gracefully")
}

func (w *SampleWriter) Record(s domain.LocationSample) {
	// Убеждаемся, что таймстемп приема всегда проставлен
	if s.ReceivedAt.IsZero() {
		s.ReceivedAt = time.Now().UTC()
	}

	// Атомарно проверяем, не закрыт ли канал
	if atomic.LoadInt32(&w.isClosed) == 1 {
		w.logger.Warn("sample dropped: writer is stopping", zap.String("sample_id", s.SampleID))
		return
	}

	// используем стратегию Load Shedding (сброс нагрузки)
	select {
	case w.ch <- s:
		w.metrics.HistoryBufferFill.WithLabelValues("samples").Set(float64(len(w.ch)))
	default:
		// Если канал переполнен (Backpressure), фиксируем потерю точки трека.
		// Трек переживает дыры: следующий сэмпл восстановит картину.
		w.metrics.EventsDropped.WithLabelValues("sample_buffer").Inc()
		w.logger.Error("sample_buffer_overflow",
			zap.String("agent_id", s.AgentID),
			zap.String("trace_id", s.TraceID),
		)
	}
}

func (w *SampleWriter) worker() {
	defer w.wg.Done()

	batch := make([]domain.LocationSample, 0, w.cfg.BatchSize)
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			// Используем Background, так как основной контекст может быть уже закрыт
			if err := w.store.InsertSamples(context.Background(), batch); err != nil {
				w.logger.Error("sample flush failed", zap.Int("batch", len(batch)), zap.Error(err))
			}
			batch = batch[:0]
		}
		w.metrics.HistoryBufferFill.WithLabelValues("samples").Set(float64(len(w.ch)))
	}

	for {
		select {
		case s, ok := <-w.ch:
			if !ok {
				// Канал закрыт в Stop() — это самодостаточный сигнал для завершения.
				// Воркер сначала вычитал всё из очереди, теперь финальный сброс.
				flush()
				w.logger.Info("sample worker finished")
				return
			}
			batch = append(batch, s)
			if len(batch) >= w.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// EventWriter — отдельный буфер для событий зон. События ценнее точек трека,
// поэтому буфер и канал у них свои: шторм сэмплов не вытесняет события.
type EventWriter struct {
	ch       chan domain.ZoneEvent
	store    EventStore
	cfg      infra.HistoryConfig
	metrics  *engine.Metrics
	logger   *zap.Logger
	wg       sync.WaitGroup
	isClosed int32
}

func NewEventWriter(store EventStore, cfg infra.HistoryConfig, metrics *engine.Metrics, logger *zap.Logger) *EventWriter {
	return &EventWriter{
		ch:      make(chan domain.ZoneEvent, cfg.EventBuffer),
		store:   store,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.With(zap.String("mod", "history.events")),
	}
}

func (w *EventWriter) Start() {
	w.wg.Add(1)
	go w.worker()
}

func (w *EventWriter) Stop() {
	atomic.StoreInt32(&w.isClosed, 1)
	time.Sleep(10 * time.Millisecond)

	w.logger.Info("stopping event writer: closing channel and flushing buffer...")
	close(w.ch)
	w.wg.Wait()
	w.logger.Info("event writer stopped gracefully")
}

func (w *EventWriter) Record(ev domain.ZoneEvent) {
	if atomic.LoadInt32(&w.isClosed) == 1 {
		w.logger.Warn("event dropped: writer is stopping", zap.String("event_id", ev.ID))
		return
	}

	select {
	case w.ch <- ev:
		w.metrics.HistoryBufferFill.WithLabelValues("events").Set(float64(len(w.ch)))
	default:
		w.metrics.EventsDropped.WithLabelValues("event_buffer").Inc()
		w.logger.Error("event_buffer_overflow",
			zap.String("event_id", ev.ID),
			zap.String("type", string(ev.Type)),
			zap.String("agent_id", ev.AgentID),
		)
	}
}

func (w *EventWriter) worker() {
	defer w.wg.Done()

	batch := make([]domain.ZoneEvent, 0, w.cfg.BatchSize)
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			if err := w.store.InsertEvents(context.Background(), batch); err != nil {
				w.logger.Error("event flush failed", zap.Int("batch", len(batch)), zap.Error(err))
			}
			batch = batch[:0]
		}
		w.metrics.HistoryBufferFill.WithLabelValues("events").Set(float64(len(w.ch)))
	}

	for {
		select {
		case ev, ok := <-w.ch:
			if !ok {
				flush()
				w.logger.Info("event worker finished")
				return
			}
			batch = append(batch, ev)
			if len(batch) >= w.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
