package engine

/*
Файл pipeline.go реализует конвейер обработки GPS-сэмплов — Hot Path трекера.

Ключевые особенности архитектуры:
- Sharded Ordering: сэмплы раскладываются по воркерам хэшом agent_id.
  Внутри агента — строгий FIFO без блокировок, между агентами — параллелизм.
- Backpressure Policy: информационные события (enter/exit) под нагрузкой
  сбрасываются (Load Shedding), нарушения ставятся в очередь блокирующе
  и не теряются никогда.
- Idempotency: кольцо последних sample_id на агента гасит ретраи устройств,
  сэмплы с отставшим таймстемпом архивируются, но не оцениваются.
- Drain Pattern & Graceful Shutdown: при остановке шарды дочитывают свои
  очереди до конца, только потом завершаются воркеры.
*/

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/csma94/guard-sub003/internal/domain"
	"github.com/csma94/guard-sub003/internal/infra"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventQueue — очередь процессора правил глазами конвейера.
type EventQueue interface {
	// TryEnqueue — неблокирующая постановка. false — очередь полна, событие сброшено.
	TryEnqueue(ev *domain.ZoneEvent, zone *domain.Zone) bool
	// Enqueue — блокирующая постановка для событий, которые нельзя терять.
	Enqueue(ctx context.Context, ev *domain.ZoneEvent, zone *domain.Zone) error
}

// Dispatcher доставляет события live-подписчикам (WebSocket + офлайн-очереди).
type Dispatcher interface {
	Dispatch(ev *domain.ZoneEvent, zone *domain.Zone)
}

// SampleRecorder и EventRecorder — асинхронные писатели истории.
type SampleRecorder interface {
	Record(s domain.LocationSample)
}

type EventRecorder interface {
	Record(ev domain.ZoneEvent)
}

type pipelineTask struct {
	sample *domain.LocationSample
	// resetAgent != "" — это сигнал сброса состояния, а не сэмпл.
	// Сброс идет через шард агента и потому не гонится с его сэмплами.
	resetAgent string
}

type Pipeline struct {
	engine  *GeofenceEngine
	monitor *Monitor
	cache   *ZoneCache
	queue   EventQueue
	disp    Dispatcher
	samples SampleRecorder
	events  EventRecorder

	cfg     infra.EngineConfig
	metrics *Metrics
	logger  *zap.Logger

	shards   []chan pipelineTask
	wg       sync.WaitGroup
	isClosed int32 // Атомарный флаг (0 - открыт, 1 - закрыт)
}

func NewPipeline(
	cfg infra.EngineConfig,
	eng *GeofenceEngine,
	mon *Monitor,
	cache *ZoneCache,
	queue EventQueue,
	disp Dispatcher,
	samples SampleRecorder,
	events EventRecorder,
	metrics *Metrics,
	logger *zap.Logger,
) *Pipeline {
	if cfg.Shards <= 0 {
		cfg.Shards = 1
	}
	if cfg.ShardBuffer <= 0 {
		cfg.ShardBuffer = 256
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 64
	}

	p := &Pipeline{
		engine:  eng,
		monitor: mon,
		cache:   cache,
		queue:   queue,
		disp:    disp,
		samples: samples,
		events:  events,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.Named("pipeline"),
	}

	p.shards = make([]chan pipelineTask, cfg.Shards)
	for i := range p.shards {
		p.shards[i] = make(chan pipelineTask, cfg.ShardBuffer)
	}
	return p
}

func (p *Pipeline) Start() {
	for i := range p.shards {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("pipeline started", zap.Int("shards", len(p.shards)))
}

// Stop «запирает» вход и ждет, пока шарды дочитают свои очереди.
func (p *Pipeline) Stop() {
	atomic.StoreInt32(&p.isClosed, 1)

	// Даем крошечную паузу, чтобы текущие Submit успели проскочить
	time.Sleep(10 * time.Millisecond)

	p.logger.Info("stopping pipeline: draining shard queues...")
	for _, ch := range p.shards {
		close(ch)
	}
	p.wg.Wait()
	p.logger.Info("pipeline stopped gracefully")
}

// Submit ставит валидный сэмпл в шард его агента. Блокируется, пока
// в шарде нет места; дедлайн передает вызывающая сторона через ctx.
func (p *Pipeline) Submit(ctx context.Context, s *domain.LocationSample) error {
	if atomic.LoadInt32(&p.isClosed) == 1 {
		return fmt.Errorf("pipeline is stopping")
	}

	shard := p.shardFor(s.AgentID)
	select {
	case p.shards[shard] <- pipelineTask{sample: s}:
		p.metrics.ShardQueueFill.WithLabelValues(strconv.Itoa(shard)).Set(float64(len(p.shards[shard])))
		return nil
	case <-ctx.Done():
		p.metrics.SamplesRejected.WithLabelValues("overload").Inc()
		return fmt.Errorf("pipeline overloaded: %w", ctx.Err())
	}
}

// Reset ставит сигнал сброса состояния агента в его шард (конец смены).
func (p *Pipeline) Reset(ctx context.Context, agentID string) error {
	if atomic.LoadInt32(&p.isClosed) == 1 {
		return fmt.Errorf("pipeline is stopping")
	}

	select {
	case p.shards[p.shardFor(agentID)] <- pipelineTask{resetAgent: agentID}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) shardFor(agentID string) int {
	h := fnv.New32a()
	h.Write([]byte(agentID))
	return int(h.Sum32() % uint32(len(p.shards)))
}

func (p *Pipeline) worker(shard int) {
	defer p.wg.Done()

	// Состояние дедупликации шард-локально: к нему прикасается только
	// этот воркер, блокировки не нужны
	tracks := make(map[string]*agentTrack)

	for task := range p.shards[shard] {
		if task.resetAgent != "" {
			delete(tracks, task.resetAgent)
			p.engine.Reset(task.resetAgent)
			p.monitor.Reset(task.resetAgent)
			p.logger.Info("agent state reset", zap.String("agent_id", task.resetAgent))
			continue
		}
		p.process(task.sample, tracks)
	}
}

func (p *Pipeline) process(s *domain.LocationSample, tracks map[string]*agentTrack) {
	track := tracks[s.AgentID]
	if track == nil {
		track = newAgentTrack(p.cfg.DedupWindow)
		tracks[s.AgentID] = track
	}

	// 1. Дедупликация ретраев устройства: тот же sample_id — полный скип
	if track.remember(s.SampleID) {
		p.metrics.SamplesRejected.WithLabelValues("duplicate").Inc()
		p.logger.Debug("duplicate sample skipped",
			zap.String("agent_id", s.AgentID),
			zap.String("sample_id", s.SampleID))
		return
	}

	// 2. Архив трека — всегда, включая отставшие сэмплы
	p.samples.Record(*s)

	// 3. Отставший таймстемп: история уже записана, но оценивать его
	// нельзя — членство пересчитано по более свежему сэмплу
	if !s.Timestamp.After(track.lastTS) {
		p.metrics.SamplesRejected.WithLabelValues("out_of_order").Inc()
		p.logger.Debug("out-of-order sample archived only",
			zap.String("agent_id", s.AgentID),
			zap.Time("sample_ts", s.Timestamp),
			zap.Time("last_ts", track.lastTS))
		return
	}
	track.lastTS = s.Timestamp

	// 4. Полная переоценка членства
	start := time.Now()
	zones := p.cache.ZonesForSite(s.SiteID)
	res := p.engine.Evaluate(s.AgentID, s.Timestamp, s.Point(), zones)
	violations := p.monitor.Check(s.AgentID, s, res.Inside)
	p.metrics.EvalDuration.Observe(time.Since(start).Seconds())
	p.metrics.TrackedAgents.Set(float64(p.engine.TrackedAgents()))

	// 5. Разветвление: история -> live-доставка -> процессор правил
	for _, occ := range res.Entered {
		p.fanOutInfo(p.newCrossing(domain.EventEnter, s, occ, nil), occ.Zone)
	}
	for _, occ := range res.Exited {
		meta := map[string]any{
			"occupied_seconds": int64(s.Timestamp.Sub(occ.EnteredAt).Seconds()),
		}
		p.fanOutInfo(p.newCrossing(domain.EventExit, s, occ, meta), occ.Zone)
	}
	for _, ev := range violations {
		p.fanOutViolation(ev, zoneByID(zones, ev.ZoneID))
	}
}

// fanOutInfo — enter/exit: допустимо сбросить под нагрузкой.
func (p *Pipeline) fanOutInfo(ev *domain.ZoneEvent, zone *domain.Zone) {
	p.metrics.EventsTotal.WithLabelValues(string(ev.Type)).Inc()
	p.events.Record(*ev)
	p.disp.Dispatch(ev, zone)

	if !p.queue.TryEnqueue(ev, zone) {
		// используем стратегию Load Shedding (сброс нагрузки)
		p.metrics.EventsDropped.WithLabelValues("rules_queue").Inc()
		p.logger.Warn("rules queue full: informational event shed",
			zap.String("event_id", ev.ID),
			zap.String("type", string(ev.Type)),
			zap.String("agent_id", ev.AgentID))
	}
}

// fanOutViolation — нарушения не теряются: постановка блокирующая,
// шард агента осознанно тормозит, пока процессор не примет событие.
func (p *Pipeline) fanOutViolation(ev *domain.ZoneEvent, zone *domain.Zone) {
	p.metrics.EventsTotal.WithLabelValues(string(ev.Type)).Inc()
	p.events.Record(*ev)
	p.disp.Dispatch(ev, zone)

	if err := p.queue.Enqueue(context.Background(), ev, zone); err != nil {
		p.logger.Error("CRITICAL: violation enqueue failed",
			zap.String("event_id", ev.ID),
			zap.Error(err))
	}
}

func (p *Pipeline) newCrossing(t domain.EventType, s *domain.LocationSample, occ Occupied, meta map[string]any) *domain.ZoneEvent {
	return &domain.ZoneEvent{
		ID:        uuid.New().String(),
		Type:      t,
		AgentID:   s.AgentID,
		ZoneID:    occ.Zone.ID,
		SiteID:    occ.Zone.SiteID,
		Location:  s.Point(),
		Timestamp: s.Timestamp,
		Metadata:  meta,
	}
}

// agentTrack — кольцо последних sample_id и верхняя граница таймстемпа.
type agentTrack struct {
	lastTS time.Time
	seen   map[string]struct{}
	ring   []string
	next   int
}

func newAgentTrack(window int) *agentTrack {
	return &agentTrack{
		seen: make(map[string]struct{}, window),
		ring: make([]string, window),
	}
}

// remember возвращает true, если id уже встречался в окне.
func (t *agentTrack) remember(id string) bool {
	if id == "" {
		return false
	}
	if _, ok := t.seen[id]; ok {
		return true
	}
	if old := t.ring[t.next]; old != "" {
		delete(t.seen, old)
	}
	t.ring[t.next] = id
	t.seen[id] = struct{}{}
	t.next = (t.next + 1) % len(t.ring)
	return false
}
