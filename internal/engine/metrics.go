package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Traffic: принятые сэмплы по источникам (http, mqtt)
	SamplesTotal *prometheus.CounterVec

	// Отбраковка на входе и в конвейере: validation, duplicate, out_of_order, overload
	SamplesRejected *prometheus.CounterVec

	// Latency: полная оценка одного сэмпла (геометрия + дифф + мониторинг)
	EvalDuration prometheus.Histogram

	// События по типам: enter, exit, violation
	EventsTotal *prometheus.CounterVec

	// Сброшенные события по месту сброса: rules_queue, ws_send
	EventsDropped *prometheus.CounterVec

	// Зоны с непригодной геометрией, встреченные на оценке
	GeometryErrors prometheus.Counter

	// Состояние кэша зон и снапшотов
	ZonesLoaded   prometheus.Gauge
	TrackedAgents prometheus.Gauge

	// Saturation: заполненность буферов (backpressure)
	ShardQueueFill    *prometheus.GaugeVec
	HistoryBufferFill *prometheus.GaugeVec

	// Подключенные WebSocket-клиенты
	WSClients prometheus.Gauge

	// Исполнение действий правил: тип действия x исход (ok, error, skipped)
	ActionsTotal *prometheus.CounterVec

	// Состояние Circuit Breaker провайдера уведомлений (0 - closed, 1 - open)
	CircuitBreakerState *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		SamplesTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "trackd_samples_total",
			Help: "Total number of accepted location samples.",
		}, []string{"source"}),

		SamplesRejected: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "trackd_samples_rejected_total",
			Help: "Samples rejected or skipped, by reason.",
		}, []string{"reason"}),

		EvalDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "trackd_eval_duration_seconds",
			Help:    "Histogram of full sample evaluation latencies.",
			Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
		}),

		EventsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "trackd_zone_events_total",
			Help: "Zone events produced, by type.",
		}, []string{"type"}),

		EventsDropped: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "trackd_events_dropped_total",
			Help: "Informational events shed under backpressure, by stage.",
		}, []string{"stage"}),

		GeometryErrors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "trackd_geometry_errors_total",
			Help: "Zones skipped during evaluation due to invalid geometry.",
		}),

		ZonesLoaded: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "trackd_zones_loaded",
			Help: "Active zones currently held in the in-memory cache.",
		}),

		TrackedAgents: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "trackd_tracked_agents",
			Help: "Agents with a non-empty zone membership snapshot.",
		}),

		ShardQueueFill: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "trackd_shard_queue_fill",
			Help: "Current number of samples waiting in a pipeline shard.",
		}, []string{"shard"}),

		HistoryBufferFill: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "trackd_history_buffer_fill",
			Help: "Current number of records in async history buffers.",
		}, []string{"buffer"}),

		WSClients: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "trackd_ws_clients",
			Help: "Currently connected WebSocket clients.",
		}),

		ActionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "trackd_rule_actions_total",
			Help: "Rule actions executed, by action type and outcome.",
		}, []string{"action", "status"}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "trackd_circuit_breaker_state",
			Help: "Current state of the notification circuit breaker (0=closed, 1=open).",
		}, []string{"name"}),
	}
}
