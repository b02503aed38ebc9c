package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/csma94/guard-sub003/internal/console/service"
	"github.com/csma94/guard-sub003/internal/domain"
	"github.com/csma94/guard-sub003/internal/infra/auth"
)

type EventHandler struct {
	service *service.EventService
}

func NewEventHandler(s *service.EventService) *EventHandler {
	return &EventHandler{service: s}
}

// List — GET /v1/events. Журнал событий с фильтрами:
// ?site_id=&zone_id=&agent_id=&type=&from=&to=&limit=&offset=
// Временные границы — RFC3339. Видимость обрезается по сайтам из токена.
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing token claims")
		return
	}

	q := r.URL.Query()
	f := domain.EventFilter{
		SiteID:  q.Get("site_id"),
		ZoneID:  q.Get("zone_id"),
		AgentID: q.Get("agent_id"),
		Type:    domain.EventType(q.Get("type")),
	}

	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'from' timestamp, want RFC3339")
			return
		}
		f.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'to' timestamp, want RFC3339")
			return
		}
		f.To = t
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Offset = n
		}
	}

	events, err := h.service.Query(r.Context(), claims, f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query events")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// Ack — POST /v1/events/{id}/ack. Квитирование нарушения диспетчером.
// Повторное решение по уже закрытому событию — 409, а не тихая перезапись.
func (h *EventHandler) Ack(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing token claims")
		return
	}
	id := chi.URLParam(r, "id")

	ev, err := h.service.Ack(r.Context(), id, claims.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrAckConflict) {
			writeError(w, http.StatusConflict, "event not found or already acknowledged")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to acknowledge event")
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// Stats — GET /v1/events/stats?site_id=&since= Сводка для дашборда.
func (h *EventHandler) Stats(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing token claims")
		return
	}

	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'since' timestamp, want RFC3339")
			return
		}
		since = t
	}

	stats, err := h.service.Stats(r.Context(), claims, r.URL.Query().Get("site_id"), since)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to build stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
