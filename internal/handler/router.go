package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	authhandler "github.com/atendolive/atendo/backend/internal/handler/auth"
	chathandler "github.com/atendolive/atendo/backend/internal/handler/chat"
	settingshandler "github.com/atendolive/atendo/backend/internal/handler/settings"
	usershandler "github.com/atendolive/atendo/backend/internal/handler/users"
	wshandler "github.com/atendolive/atendo/backend/internal/handler/ws"
	"github.com/atendolive/atendo/backend/internal/hub"
	"github.com/atendolive/atendo/backend/internal/metrics"
	middlewarePkg "github.com/atendolive/atendo/backend/internal/middleware"
	authservice "github.com/atendolive/atendo/backend/internal/service/auth"
	chatservice "github.com/atendolive/atendo/backend/internal/service/chat"
	settingsservice "github.com/atendolive/atendo/backend/internal/service/settings"
	usersservice "github.com/atendolive/atendo/backend/internal/service/users"
)

// Services bundles everything the router wires up.
type Services struct {
	Chats    *chatservice.Service
	Auth     *authservice.Service
	Users    *usersservice.Service
	Settings *settingsservice.Service
	Hub      *hub.Hub
}

// NewRouter wires HTTP routes to core services.
func NewRouter(svcs Services, log *logrus.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Route("/api", func(api chi.Router) {
		chathandler.New(svcs.Chats).RegisterRoutes(api)
		authhandler.New(svcs.Auth).RegisterRoutes(api)
		usershandler.New(svcs.Users).RegisterRoutes(api)
		settingshandler.New(svcs.Settings).RegisterRoutes(api)
		wshandler.New(svcs.Hub, log).RegisterRoutes(api)
	})

	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	return r
}
