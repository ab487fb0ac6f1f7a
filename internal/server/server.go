// Package server exposes the orchestration core to the dashboard over HTTP.
// It renders nothing: every route returns the outcome/error envelope the UI
// collaborator consumes.
package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/verdantgrid/irecdesk/internal/config"
	"github.com/verdantgrid/irecdesk/internal/market"
	"github.com/verdantgrid/irecdesk/internal/observability/metrics"
	"github.com/verdantgrid/irecdesk/internal/perm"
	"github.com/verdantgrid/irecdesk/internal/projects"
	"github.com/verdantgrid/irecdesk/internal/roles"
	"github.com/verdantgrid/irecdesk/internal/state"
)

// Server is the HTTP boundary over the orchestration core.
type Server struct {
	cfg    config.Settings
	logger *slog.Logger
	router *chi.Mux

	perm      perm.Engine
	store     *state.Store
	refresher *state.Refresher
	roles     *roles.Orchestrator
	projects  *projects.Orchestrator
	market    *market.Orchestrator
}

// Deps carries the wired core components.
type Deps struct {
	Perm      perm.Engine
	Store     *state.Store
	Refresher *state.Refresher
	Roles     *roles.Orchestrator
	Projects  *projects.Orchestrator
	Market    *market.Orchestrator
}

// New creates the server and mounts its routes.
func New(cfg config.Settings, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    chi.NewRouter(),
		perm:      deps.Perm,
		store:     deps.Store,
		refresher: deps.Refresher,
		roles:     deps.Roles,
		projects:  deps.Projects,
		market:    deps.Market,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// MetricsHandler returns the /metrics handler for the metrics listener.
func (s *Server) MetricsHandler() http.Handler { return metrics.Handler() }

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/snapshot", s.handleSnapshot)
		r.Get("/admins", s.handleAdmins)
		r.Get("/permissions", s.handlePermissions)

		r.Post("/roles/grant", s.handleGrantRole)
		r.Post("/roles/revoke", s.handleRevokeRole)

		r.Post("/projects/approve", s.handleApproveProject)
		r.Post("/projects/revoke", s.handleRevokeProject)
		r.Post("/projects/remove", s.handleRemoveProject)
		r.Post("/tokens/mint", s.handleMint)

		r.Get("/market/quote", s.handleQuote)
		r.Post("/market/listings", s.handleCreateListing)
		r.Post("/market/purchase", s.handlePurchase)
		r.Post("/market/fractionalize", s.handleFractionalize)
		r.Post("/market/cancel", s.handleCancelListing)
	})
}
