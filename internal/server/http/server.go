// Package httpserver exposes the keygate REST API handlers.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/keygate/keygate/internal/service"
)

// Pinger checks store connectivity for the liveness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires services into HTTP handlers.
type Server struct {
	authorize  service.AuthorizeService
	admin      service.AdminService
	store      Pinger
	adminToken string
	version    string
	log        *zap.Logger
}

// New constructs an HTTP server with injected services.
func New(authorize service.AuthorizeService, admin service.AdminService, store Pinger, adminToken, version string, log *zap.Logger) *Server {
	return &Server{
		authorize:  authorize,
		admin:      admin,
		store:      store,
		adminToken: adminToken,
		version:    version,
		log:        log,
	}
}

// Routes builds the router with the full middleware chain.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(middleware.RealIP)
	r.Use(Recover(s.log))
	r.Use(Logging(s.log))
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/", s.handleHome)
	r.Get("/health", s.handleHealth)
	r.Post("/api/authorize", s.handleAuthorize)

	r.Route("/admin", func(ar chi.Router) {
		ar.Use(s.RequireAdmin)
		ar.Post("/create", s.handleCreateKey)
		ar.Post("/whitelist/add", s.handleWhitelistAdd)
		ar.Post("/whitelist/remove", s.handleWhitelistRemove)
		ar.Get("/stats", s.handleStats)
		ar.Post("/cleanup", s.handleCleanup)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "Endpoint not found")
	})
	return r
}
