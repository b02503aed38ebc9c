package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/csma94/guard-sub003/internal/console/service"
	"github.com/csma94/guard-sub003/internal/domain"
)

type AgentHandler struct {
	service *service.AgentService
}

func NewAgentHandler(s *service.AgentService) *AgentHandler {
	return &AgentHandler{service: s}
}

// List — GET /v1/agents?site_id=... Дежурная таблица: реестр из БД
// плюс флаг Online из presence-набора.
func (h *AgentHandler) List(w http.ResponseWriter, r *http.Request) {
	siteID := r.URL.Query().Get("site_id")

	agents, err := h.service.ListAgents(r.Context(), siteID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list agents")
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

// Get — GET /v1/agents/{id}
func (h *AgentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	a, err := h.service.GetAgent(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get agent")
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// EndSession — POST /v1/agents/{id}/session/end. Принудительное завершение
// смены: движок сбросит членство и machine-state агента по сигналу.
func (h *AgentHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Ждем подтверждения публикации: смена должна закрыться гарантированно
	if err := h.service.EndSession(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to end session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

// SetActive — POST /v1/agents/{id}/active, тело {"active": false}.
// Деактивация заодно шлет сигнал конца смены (увольнение, отпуск).
func (h *AgentHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req setActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.service.SetActive(r.Context(), id, req.Active); err != nil {
		if errors.Is(err, domain.ErrAgentNotFound) {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to update agent")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Checkins — GET /v1/agents/{id}/checkins?from=&to= История отметок
// на контрольных точках маршрута. По умолчанию — последние сутки.
func (h *AgentHandler) Checkins(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q := r.URL.Query()

	var from, to time.Time
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'from' timestamp, want RFC3339")
			return
		}
		from = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'to' timestamp, want RFC3339")
			return
		}
		to = t
	}

	checkins, err := h.service.ListCheckins(r.Context(), id, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list checkins")
		return
	}
	writeJSON(w, http.StatusOK, checkins)
}

// Track — GET /v1/agents/{id}/track?from=&to=&limit= Архивный трек для
// проигрывания маршрута на карте. По умолчанию — последние сутки.
func (h *AgentHandler) Track(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q := r.URL.Query()

	var from, to time.Time
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'from' timestamp, want RFC3339")
			return
		}
		from = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'to' timestamp, want RFC3339")
			return
		}
		to = t
	}
	limit, _ := strconv.Atoi(q.Get("limit"))

	track, err := h.service.AgentTrack(r.Context(), id, from, to, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load track")
		return
	}
	writeJSON(w, http.StatusOK, track)
}
