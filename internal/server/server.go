// Package server exposes the reconciler over a small authenticated HTTP
// API, so an orchestrator or operator can submit configuration requests and
// inspect run history without shelling into the host.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"openvpn-configd/internal/auth"
	"openvpn-configd/internal/journal"
	"openvpn-configd/internal/reconcile"
	"openvpn-configd/internal/request"
	"openvpn-configd/internal/service"
)

// Applier runs one reconciliation. Implemented by reconcile.Reconciler.
type Applier interface {
	Apply(req *request.Request) (reconcile.Result, error)
}

// History records and queries reconciliation runs. Implemented by
// journal.Store.
type History interface {
	Record(entry journal.Entry) error
	Recent(limit int) ([]journal.Entry, error)
}

// Server handles HTTP requests for the control API.
type Server struct {
	applier Applier
	history History
	auth    *auth.Manager

	defaultUnit   string
	newController func(unit string) (reconcile.ServiceController, error)
}

// New creates an HTTP server around the given collaborators. A nil history
// disables run recording; a nil auth manager disables authentication (used
// only in tests).
func New(applier Applier, history History, authManager *auth.Manager, defaultUnit string) *Server {
	return &Server{
		applier:     applier,
		history:     history,
		auth:        authManager,
		defaultUnit: defaultUnit,
		newController: func(unit string) (reconcile.ServiceController, error) {
			return service.NewController(unit)
		},
	}
}

// SetControllerFactory overrides how status probes reach systemd. Tests use
// this to avoid touching the host.
func (s *Server) SetControllerFactory(factory func(unit string) (reconcile.ServiceController, error)) {
	s.newController = factory
}

// Router constructs the http.Handler with all routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if s.auth != nil {
		r.Use(s.auth.Middleware)
	}

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/v1", func(api chi.Router) {
		api.Post("/apply", s.handleApply)
		api.Get("/status", s.handleStatus)
		api.Get("/history", s.handleHistory)
		api.Get("/version", s.handleVersion)
		if s.auth != nil {
			api.Post("/auth/login", s.handleLogin)
			api.Post("/auth/token/rotate", s.handleRotateToken)
			api.Post("/auth/password", s.handleChangePassword)
		}
	})

	return r
}
