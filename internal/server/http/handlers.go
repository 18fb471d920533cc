package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"github.com/keygate/keygate/internal/errs"
	"github.com/keygate/keygate/internal/service"
)

// authorizeRequest is the client-facing authorization payload.
type authorizeRequest struct {
	Email string `json:"email"`
	Key   string `json:"key,omitempty"`
}

// Bind implements render.Binder; deeper validation happens in the service.
func (a *authorizeRequest) Bind(*http.Request) error {
	if a.Email == "" {
		return errors.New("email is required")
	}
	return nil
}

// authorizeResponse mirrors the decision for clients.
type authorizeResponse struct {
	Authorized bool   `json:"authorized"`
	Reason     string `json:"reason,omitempty"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
	ExpiresAt  string `json:"expires_at,omitempty"`
}

// handleAuthorize handles POST /api/authorize.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	req := &authorizeRequest{}
	if err := render.Bind(r, req); err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	d, err := s.authorize.Authorize(r.Context(), req.Email, req.Key, clientIP(r))
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "Service temporarily unavailable")
		return
	}

	resp := authorizeResponse{Authorized: d.Granted, Reason: d.Reason}
	if d.ExpiresAt != nil {
		resp.ExpiresAt = d.ExpiresAt.Format(time.RFC3339)
	}
	if d.Granted {
		resp.Message = d.Message
		render.Status(r, http.StatusOK)
	} else {
		resp.Error = d.Message
		render.Status(r, decisionStatus(d.Reason))
	}
	render.JSON(w, r, resp)
}

// decisionStatus maps stable denial reasons onto HTTP status codes.
func decisionStatus(reason string) int {
	switch reason {
	case service.ReasonRateLimited:
		return http.StatusTooManyRequests
	case service.ReasonInvalidEmail:
		return http.StatusBadRequest
	case service.ReasonKeyRequired:
		return http.StatusUnauthorized
	case service.ReasonNotWhitelisted, service.ReasonKeyInvalid, service.ReasonKeyUsed:
		return http.StatusForbidden
	default:
		return http.StatusForbidden
	}
}

// createKeyRequest is the admin key-issuance payload. A pointer keeps an
// absent field distinct from an explicit zero, which must fail validation.
type createKeyRequest struct {
	DurationHours *int `json:"duration_hours"`
}

// Bind implements render.Binder and applies the default lifetime when the
// field is omitted entirely.
func (c *createKeyRequest) Bind(*http.Request) error {
	if c.DurationHours == nil {
		def := 24
		c.DurationHours = &def
	}
	return nil
}

// handleCreateKey handles POST /admin/create.
func (s *Server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	req := &createKeyRequest{}
	if err := render.Bind(r, req); err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	code, err := s.admin.CreateKey(r.Context(), *req.DurationHours, clientIP(r))
	if err != nil {
		s.writeAdminError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{"key": code, "duration_hours": *req.DurationHours})
}

// emailRequest is the whitelist add/remove payload.
type emailRequest struct {
	Email string `json:"email"`
}

// Bind implements render.Binder.
func (e *emailRequest) Bind(*http.Request) error {
	if e.Email == "" {
		return errors.New("email is required")
	}
	return nil
}

// handleWhitelistAdd handles POST /admin/whitelist/add.
func (s *Server) handleWhitelistAdd(w http.ResponseWriter, r *http.Request) {
	req := &emailRequest{}
	if err := render.Bind(r, req); err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	email, err := s.admin.WhitelistAdd(r.Context(), req.Email, clientIP(r))
	if err != nil {
		s.writeAdminError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]string{"message": fmt.Sprintf("Email %s added to whitelist", email)})
}

// handleWhitelistRemove handles POST /admin/whitelist/remove.
func (s *Server) handleWhitelistRemove(w http.ResponseWriter, r *http.Request) {
	req := &emailRequest{}
	if err := render.Bind(r, req); err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	email, err := s.admin.WhitelistRemove(r.Context(), req.Email, clientIP(r))
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "Email not found in whitelist")
			return
		}
		s.writeAdminError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]string{"message": fmt.Sprintf("Email %s removed from whitelist", email)})
}

// handleStats handles GET /admin/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.admin.Stats(r.Context())
	if err != nil {
		s.writeAdminError(w, r, err)
		return
	}
	render.JSON(w, r, st)
}

// handleCleanup handles POST /admin/cleanup.
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	n, err := s.admin.Cleanup(r.Context(), clientIP(r))
	if err != nil {
		s.writeAdminError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]string{"message": fmt.Sprintf("Cleaned up %d expired sessions", n)})
}

// handleHealth handles GET /health with a trivial, non-mutating round trip.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, map[string]string{
			"status":   "unhealthy",
			"database": "disconnected",
		})
		return
	}
	render.JSON(w, r, map[string]string{
		"status":    "healthy",
		"database":  "connected",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleHome handles GET /.
func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{
		"service": "keygate",
		"status":  "running",
		"version": s.version,
	})
}

// writeAdminError maps service errors onto admin-facing responses.
func (s *Server) writeAdminError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errs.ErrValidation):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, errs.ErrUnavailable):
		writeError(w, r, http.StatusInternalServerError, "Database error")
	default:
		writeError(w, r, http.StatusInternalServerError, "Internal server error")
	}
}

// writeError renders a uniform error body.
func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": msg})
}
