package settings

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	settingsservice "github.com/atendolive/atendo/backend/internal/service/settings"
	"github.com/atendolive/atendo/backend/internal/storage"
	"github.com/atendolive/atendo/backend/pkg/utils"
)

type Handler struct {
	settings *settingsservice.Service
}

func New(settings *settingsservice.Service) *Handler {
	return &Handler{settings: settings}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/config", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Put("/", h.handleUpdate)
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.Get(r.Context())
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to load config")
		return
	}
	utils.RespondJSON(w, http.StatusOK, settings)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ChatTTLMinutes    *int `json:"chatTTL"`
		WarnBeforeMinutes *int `json:"warnBefore"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	settings, err := h.settings.Update(r.Context(), storage.SettingsUpdate{
		ChatTTLMinutes:    payload.ChatTTLMinutes,
		WarnBeforeMinutes: payload.WarnBeforeMinutes,
	})
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, settings)
}
