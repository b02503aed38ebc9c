package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/csma94/guard-sub003/internal/engine"
	"github.com/csma94/guard-sub003/internal/history"
	"github.com/csma94/guard-sub003/internal/infra"
	"github.com/csma94/guard-sub003/internal/infra/auth"
	"github.com/csma94/guard-sub003/internal/notify"
	"github.com/csma94/guard-sub003/internal/realtime"
	"github.com/csma94/guard-sub003/internal/repository/postgres"
	"github.com/csma94/guard-sub003/internal/rules"
)

func main() {
	// 1. Конфигурация и логгер
	_ = godotenv.Load() // .env опционален: в контейнере все приходит через ENV

	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	// Контекст для управления жизненным циклом фоновых горутин
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Инфраструктура: Redis и PostgreSQL
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	pingCtx, pingCancel := context.WithTimeout(appCtx, 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Fatal("redis unreachable", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}

	db, err := postgres.Open(cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		logger.Fatal("failed to open postgres", zap.Error(err))
	}
	defer db.Close()
	if err := db.PingContext(pingCtx); err != nil {
		logger.Fatal("postgres unreachable", zap.Error(err))
	}
	pingCancel()

	zoneRepo := postgres.NewZoneRepo(db)
	eventRepo := postgres.NewEventRepo(db)
	sampleRepo := postgres.NewSampleRepo(db)
	auditRepo := postgres.NewAuditRepo(db)
	checkinRepo := postgres.NewCheckinRepo(db)

	// 3. Метрики — отдельный listener, чтобы скрейп не мешал Hot Path
	reg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(reg)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
			logger.Error("metrics listener failed", zap.Error(err))
		}
	}()

	// 4. Кэш зон: холодная загрузка обязана пройти — без зон движок слеп
	cache := engine.NewZoneCache(zoneRepo, rdb, logger, metrics)
	if err := cache.Refresh(appCtx); err != nil {
		logger.Fatal("zone cache cold load failed", zap.Error(err))
	}
	go cache.StartListener(appCtx, cfg.Engine.ZoneRefreshInterval)

	// 5. Асинхронные писатели истории (трек и события)
	sampleWriter := history.NewSampleWriter(sampleRepo, cfg.History, metrics, logger)
	eventWriter := history.NewEventWriter(eventRepo, cfg.History, metrics, logger)
	sampleWriter.Start()
	eventWriter.Start()

	// 6. Доставка: push-провайдер за Retry/CB/RateLimit, WebSocket-хаб
	provider := notify.NewProviderBridge(cfg.Notify.Timeout, logger)
	bridge := notify.NewReliableBridge(provider, cfg.Notify, metrics, logger)

	presence := realtime.NewPresence(rdb)
	queue := realtime.NewOfflineQueue(rdb, cfg.Dispatch, logger)
	hub := realtime.NewHub(cfg.Dispatch, queue, presence, metrics, logger)

	// 7. Процессор правил поверх исполнителя действий
	executor := rules.NewActionExecutor(bridge, hub, auditRepo, checkinRepo, metrics, logger)
	processor := rules.NewProcessor(executor, cfg.Rules, metrics, logger)
	processor.Start()

	// 8. Ядро: геодвижок + монитор состояний + шардированный конвейер
	geo := engine.NewGeofenceEngine(logger, metrics)
	monitor := engine.NewMonitor()
	pipeline := engine.NewPipeline(cfg.Engine, geo, monitor, cache, processor, hub,
		sampleWriter, eventWriter, metrics, logger)
	pipeline.Start()

	watcher := engine.NewSessionWatcher(pipeline, rdb, logger)
	go watcher.StartListener(appCtx)

	// 9. Uplink с носимых трекеров (пустой broker отключает консьюмер)
	var consumer *engine.MQTTConsumer
	if cfg.MQTT.Broker != "" {
		consumer = engine.NewMQTTConsumer(cfg.MQTT, cfg.Engine, pipeline, metrics, logger)
		if err := consumer.Start(); err != nil {
			logger.Fatal("mqtt connect failed", zap.String("broker", cfg.MQTT.Broker), zap.Error(err))
		}
	}

	// 10. HTTP: прием координат и live-поток
	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("failed to parse auth public key", zap.Error(err))
	}
	validator := auth.NewBaseValidator(pubKey)

	ingest := engine.NewIngestAPI(pipeline, cfg.Engine, metrics, logger)
	stream := realtime.NewStreamAPI(hub, logger)

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(engine.TracingMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(validator, logger))

		r.With(auth.RequireScope(engine.ScopeSubmit)).Post("/api/v1/location", ingest.HandleSubmit)
		r.With(auth.RequireScope(engine.ScopeSubmit)).Post("/api/v1/location/batch", ingest.HandleSubmitBatch)

		// Scope проверяется внутри хендлера: стрим сам отвечает 403 до Upgrade
		r.Get("/v1/stream", stream.HandleStream)
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("tracker started",
			zap.String("addr", srv.Addr),
			zap.String("metrics", cfg.Metrics.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	// 11. Graceful Shutdown: вход запирается первым, потом дочитываются
	// очереди — от транспорта к ядру и только затем к доставке
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("tracker stopping...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}

	if consumer != nil {
		consumer.Stop()
	}
	pipeline.Stop()  // шарды дочитывают сэмплы и доталкивают события
	processor.Stop() // правила дорабатывают хвост очереди
	sampleWriter.Stop()
	eventWriter.Stop()
	hub.Stop()

	logger.Info("tracker exited properly")
}
