package rules

/*
Файл processor.go реализует процессор правил — исполнение реакций на события
зон (уведомления, тревоги, журнал, webhook, автоотметки обхода).

Ключевые особенности архитектуры:
- Isolation: исполнение действий вынесено из конвейера оценки в отдельный
  пул воркеров. Медленный webhook не тормозит оценку сэмплов.
- Two-class Queueing: информационные события ставятся неблокирующе и могут
  быть сброшены под нагрузкой; нарушения ставятся блокирующе и не теряются.
- Drain Pattern & Graceful Shutdown: при остановке очередь дочитывается
  до конца, действия по принятым событиям выполняются.
*/

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/csma94/guard-sub003/internal/domain"
	"github.com/csma94/guard-sub003/internal/engine"
	"github.com/csma94/guard-sub003/internal/infra"
	"go.uber.org/zap"
)

type queuedEvent struct {
	ev   *domain.ZoneEvent
	zone *domain.Zone
}

type Processor struct {
	ch       chan queuedEvent
	executor *ActionExecutor
	cfg      infra.RulesConfig
	metrics  *engine.Metrics
	logger   *zap.Logger
	wg       sync.WaitGroup
	isClosed int32 // Атомарный флаг (0 - открыт, 1 - закрыт)
}

func NewProcessor(executor *ActionExecutor, cfg infra.RulesConfig, metrics *engine.Metrics, logger *zap.Logger) *Processor {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Processor{
		ch:       make(chan queuedEvent, cfg.QueueSize),
		executor: executor,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger.Named("rules"),
	}
}

func (p *Processor) Start() {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.logger.Info("rule processor started", zap.Int("workers", p.cfg.Workers))
}

// Stop «запирает» вход и дожидается исполнения всего принятого.
func (p *Processor) Stop() {
	atomic.StoreInt32(&p.isClosed, 1)
	time.Sleep(10 * time.Millisecond)

	p.logger.Info("stopping rule processor: draining queue...")
	close(p.ch)
	p.wg.Wait()
	p.logger.Info("rule processor stopped gracefully")
}

// TryEnqueue — неблокирующая постановка информационного события.
// false означает «очередь полна, событие сброшено» — решает вызывающий.
func (p *Processor) TryEnqueue(ev *domain.ZoneEvent, zone *domain.Zone) bool {
	if atomic.LoadInt32(&p.isClosed) == 1 {
		return false
	}
	select {
	case p.ch <- queuedEvent{ev: ev, zone: zone}:
		return true
	default:
		return false
	}
}

// Enqueue — блокирующая постановка для нарушений: ждем место в очереди,
// пока вызывающий не отменит контекст.
func (p *Processor) Enqueue(ctx context.Context, ev *domain.ZoneEvent, zone *domain.Zone) error {
	if atomic.LoadInt32(&p.isClosed) == 1 {
		return fmt.Errorf("rule processor is stopping")
	}
	select {
	case p.ch <- queuedEvent{ev: ev, zone: zone}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Processor) worker() {
	defer p.wg.Done()
	for task := range p.ch {
		p.handle(task)
	}
}

func (p *Processor) handle(task queuedEvent) {
	ev, zone := task.ev, task.zone
	if zone == nil {
		p.logger.Warn("event without zone context skipped", zap.String("event_id", ev.ID))
		return
	}

	for _, rule := range zone.ActiveRules() {
		if !rule.Matches(ev) {
			continue
		}

		// Действия исполняются в описанном порядке; упавшее действие
		// не прерывает остальных (изоляция отказов)
		for _, action := range rule.Actions {
			ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ActionTimeout)
			err := p.executor.Execute(ctx, action, ev, zone)
			cancel()

			if err != nil {
				p.logger.Error("rule action failed",
					zap.String("rule_id", rule.ID),
					zap.String("action", string(action.Type())),
					zap.String("event_id", ev.ID),
					zap.String("zone_id", zone.ID),
					zap.Error(err))
			}
		}
	}
}
