package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atendolive/atendo/backend/internal/model/user"
	authservice "github.com/atendolive/atendo/backend/internal/service/auth"
	"github.com/atendolive/atendo/backend/pkg/utils"
)

type Handler struct {
	auth *authservice.Service
}

func New(auth *authservice.Service) *Handler {
	return &Handler{auth: auth}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.handleLogin)
		r.Post("/register", h.handleRegister)
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	u, err := h.auth.Login(r.Context(), payload.Email, payload.Password)
	if errors.Is(err, authservice.ErrInvalidCredentials) {
		utils.RespondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "login failed")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"user":    u,
		"message": "Login successful",
	})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email    string    `json:"email"`
		Password string    `json:"password"`
		Name     string    `json:"name"`
		Role     user.Role `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Email == "" || payload.Password == "" || payload.Name == "" {
		utils.RespondError(w, http.StatusBadRequest, "email, password and name are required")
		return
	}

	u, err := h.auth.Register(r.Context(), payload.Email, payload.Password, payload.Name, payload.Role)
	if errors.Is(err, authservice.ErrEmailTaken) {
		utils.RespondError(w, http.StatusBadRequest, "user already exists")
		return
	}
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	utils.RespondJSON(w, http.StatusCreated, map[string]interface{}{
		"user":    u,
		"message": "Registration successful",
	})
}
