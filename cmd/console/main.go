package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/csma94/guard-sub003/internal/console/handler"
	"github.com/csma94/guard-sub003/internal/console/server"
	"github.com/csma94/guard-sub003/internal/console/service"
	"github.com/csma94/guard-sub003/internal/infra"
	"github.com/csma94/guard-sub003/internal/infra/auth"
	"github.com/csma94/guard-sub003/internal/realtime"
	"github.com/csma94/guard-sub003/internal/repository/postgres"
)

func main() {
	// 1. Конфигурация и логгер
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	// 2. Инфраструктура
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	db, err := postgres.Open(cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		logger.Fatal("failed to open postgres", zap.Error(err))
	}
	defer db.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		logger.Fatal("postgres unreachable", zap.Error(err))
	}
	pingCancel()

	// 3. Ключи RS256: консоль и подписывает токены, и проверяет их
	privKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		logger.Fatal("failed to parse auth private key", zap.Error(err))
	}
	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("failed to parse auth public key", zap.Error(err))
	}
	validator := auth.NewBaseValidator(pubKey)

	// 4. Сервисы (Dependency Injection)
	authSvc := service.NewAuthService(postgres.NewUserRepo(db), privKey, validator, cfg.Auth.TokenTTL)
	zoneSvc := service.NewZoneService(postgres.NewZoneRepo(db), rdb, logger)
	eventSvc := service.NewEventService(postgres.NewEventRepo(db), logger)
	agentSvc := service.NewAgentService(
		postgres.NewAgentRepo(db),
		realtime.NewPresence(rdb),
		postgres.NewCheckinRepo(db),
		postgres.NewSampleRepo(db),
		rdb,
		logger,
	)
	auditSvc := service.NewAuditService(postgres.NewAuditRepo(db))

	// 5. Сервер консоли
	console := server.NewConsoleServer(
		cfg,
		logger,
		authSvc,
		handler.NewAuthHandler(authSvc),
		handler.NewZoneHandler(zoneSvc),
		handler.NewEventHandler(eventSvc),
		handler.NewAgentHandler(agentSvc),
		handler.NewAuditHandler(auditSvc),
	)

	srv := &http.Server{
		Addr:         cfg.Console.Addr(),
		Handler:      console,
		ReadTimeout:  cfg.Console.ReadTimeout,
		WriteTimeout: cfg.Console.WriteTimeout,
	}

	go func() {
		logger.Info("console API started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	// 6. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("console API stopping...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
	logger.Info("console API exited properly")
}
