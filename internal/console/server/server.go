package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/csma94/guard-sub003/internal/console/handler"
	"github.com/csma94/guard-sub003/internal/infra"
	"github.com/csma94/guard-sub003/internal/infra/auth"
)

// Права доступа Console API. Чтение доступно любому валидному токену,
// мутации закрыты отдельными scope.
const (
	ScopeZonesManage  = "zones.manage"
	ScopeEventsAck    = "events.ack"
	ScopeAgentsManage = "agents.manage"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	// Интерфейс для проверки токенов (RS256)
	// Реализуется через embedding BaseValidator в AuthService
	validator auth.TokenValidator

	// Обработчики бизнес-доменов
	authHandler  *handler.AuthHandler  // /auth/token
	zoneHandler  *handler.ZoneHandler  // /v1/zones
	eventHandler *handler.EventHandler // /v1/events
	agentHandler *handler.AgentHandler // /v1/agents
	auditHandler *handler.AuditHandler // /v1/audit (Logs)
}

// NewConsoleServer инициализирует сервер админки со всеми зависимостями
func NewConsoleServer(
	cfg *infra.Config,
	logger *zap.Logger,
	validator auth.TokenValidator,
	authH *handler.AuthHandler,
	zoneH *handler.ZoneHandler,
	eventH *handler.EventHandler,
	agentH *handler.AgentHandler,
	auditH *handler.AuditHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:       chi.NewRouter(),
		logger:       logger.Named("console-api"),
		cfg:          cfg,
		validator:    validator,
		authHandler:  authH,
		zoneHandler:  zoneH,
		eventHandler: eventH,
		agentHandler: agentH,
		auditHandler: auditH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ (Открыты для всех) ---
	r.Group(func(r chi.Router) {
		// Логин должен быть доступен без токена
		r.Post("/auth/token", s.authHandler.Login)

		// Healthcheck для мониторинга
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требуют RS256 токен) ---
	r.Group(func(r chi.Router) {
		// Подключаем универсальный Middleware только для этой группы
		r.Use(auth.NewMiddleware(s.validator, s.logger))

		// Геозоны и правила (чтение — всем, мутации — zones.manage)
		r.Route("/v1/zones", func(r chi.Router) {
			r.Get("/", s.zoneHandler.List)
			r.With(auth.RequireScope(ScopeZonesManage)).Post("/", s.zoneHandler.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.zoneHandler.Get)
				r.With(auth.RequireScope(ScopeZonesManage)).Put("/", s.zoneHandler.Update)
				r.With(auth.RequireScope(ScopeZonesManage)).Delete("/", s.zoneHandler.Delete)
			})
		})

		// Журнал событий и квитирование нарушений
		r.Route("/v1/events", func(r chi.Router) {
			r.Get("/", s.eventHandler.List)
			r.Get("/stats", s.eventHandler.Stats)
			r.With(auth.RequireScope(ScopeEventsAck)).Post("/{id}/ack", s.eventHandler.Ack)
		})

		// Реестр охранников (Online, Kill-Switch смены)
		r.Route("/v1/agents", func(r chi.Router) {
			r.Get("/", s.agentHandler.List) // Дежурная таблица объекта
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.agentHandler.Get)
				r.Get("/checkins", s.agentHandler.Checkins) // Отметки обхода
				r.Get("/track", s.agentHandler.Track)       // Проигрывание маршрута
				r.Group(func(r chi.Router) {
					r.Use(auth.RequireScope(ScopeAgentsManage))
					r.Post("/session/end", s.agentHandler.EndSession) // Принудительный конец смены
					r.Post("/active", s.agentHandler.SetActive)
				})
			})
		})

		// Аудит и Логи (Observability)
		r.Get("/v1/audit", s.auditHandler.GetLogs)
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
