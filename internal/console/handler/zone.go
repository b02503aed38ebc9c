package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/csma94/guard-sub003/internal/console/service"
	"github.com/csma94/guard-sub003/internal/domain"
)

type ZoneHandler struct {
	service *service.ZoneService
}

func NewZoneHandler(s *service.ZoneService) *ZoneHandler {
	return &ZoneHandler{service: s}
}

// List — GET /v1/zones?site_id=...
func (h *ZoneHandler) List(w http.ResponseWriter, r *http.Request) {
	siteID := r.URL.Query().Get("site_id")

	zones, err := h.service.List(r.Context(), siteID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list zones")
		return
	}
	writeJSON(w, http.StatusOK, zones)
}

// Create — POST /v1/zones. Геометрия и правила валидируются до записи:
// битая зона не должна дойти до движка.
func (h *ZoneHandler) Create(w http.ResponseWriter, r *http.Request) {
	var z domain.Zone
	if err := json.NewDecoder(r.Body).Decode(&z); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.service.Create(r.Context(), &z); err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create zone")
		return
	}

	writeJSON(w, http.StatusCreated, &z)
}

// Get — GET /v1/zones/{id}
func (h *ZoneHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	z, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get zone")
		return
	}
	if z == nil {
		writeError(w, http.StatusNotFound, "zone not found")
		return
	}
	writeJSON(w, http.StatusOK, z)
}

// Update — PUT /v1/zones/{id}. ID берется из URL, тело его не переопределяет.
func (h *ZoneHandler) Update(w http.ResponseWriter, r *http.Request) {
	var z domain.Zone
	if err := json.NewDecoder(r.Body).Decode(&z); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	z.ID = chi.URLParam(r, "id")

	if err := h.service.Update(r.Context(), &z); err != nil {
		var verr *domain.ValidationError
		switch {
		case errors.As(err, &verr):
			writeError(w, http.StatusBadRequest, verr.Error())
		case errors.Is(err, domain.ErrZoneNotFound):
			writeError(w, http.StatusNotFound, "zone not found")
		default:
			writeError(w, http.StatusInternalServerError, "failed to update zone")
		}
		return
	}
	writeJSON(w, http.StatusOK, &z)
}

// Delete — DELETE /v1/zones/{id}. Членство агентов в удаленной зоне движок
// сбрасывает молча, события exit по ней не рождаются.
func (h *ZoneHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.service.Delete(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrZoneNotFound) {
			writeError(w, http.StatusNotFound, "zone not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete zone")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
