package users

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atendolive/atendo/backend/internal/model/user"
	usersservice "github.com/atendolive/atendo/backend/internal/service/users"
	"github.com/atendolive/atendo/backend/internal/storage"
	"github.com/atendolive/atendo/backend/pkg/utils"
)

type Handler struct {
	users *usersservice.Service
}

func New(users *usersservice.Service) *Handler {
	return &Handler{users: users}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/users", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleGet)
		r.Put("/{id}", h.handleUpdate)
		r.Delete("/{id}", h.handleDelete)
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.users.ListUsers(r.Context())
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	utils.RespondJSON(w, http.StatusOK, list)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.GetUser(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, usersservice.ErrUserNotFound) {
		utils.RespondError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to load user")
		return
	}
	utils.RespondJSON(w, http.StatusOK, u)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email    *string    `json:"email"`
		Name     *string    `json:"name"`
		Password *string    `json:"password"`
		Role     *user.Role `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	u, err := h.users.UpdateUser(r.Context(), chi.URLParam(r, "id"), storage.UserUpdate{
		Email:    payload.Email,
		Name:     payload.Name,
		Password: payload.Password,
		Role:     payload.Role,
	})
	if errors.Is(err, usersservice.ErrUserNotFound) {
		utils.RespondError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to update user")
		return
	}
	utils.RespondJSON(w, http.StatusOK, u)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	err := h.users.DeleteUser(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, usersservice.ErrUserNotFound) {
		utils.RespondError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to delete user")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}
