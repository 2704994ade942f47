package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	gws "github.com/gorilla/websocket"

	"github.com/robot-puzzle-api/internal/config"
	"github.com/robot-puzzle-api/internal/domain"
	"github.com/robot-puzzle-api/internal/service"
	"github.com/robot-puzzle-api/internal/websocket"
)

// errBodyTooLarge is returned by decodeBody when the body exceeds the configured limit
var errBodyTooLarge = errors.New("Request body too large")

// Pinger reports whether the storage backend is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services groups the application services the handler serves
type Services struct {
	Configurations *service.ConfigurationService
	Rounds         *service.RoundService
	Scores         *service.ScoreService
	Profiles       *service.ProfileService
}

// Handler provides HTTP handlers for the puzzle API
type Handler struct {
	configs  *service.ConfigurationService
	rounds   *service.RoundService
	scores   *service.ScoreService
	profiles *service.ProfileService
	hub      *websocket.Hub
	upgrader *gws.Upgrader
	store    Pinger
	cfg      *config.Config
	logger   *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(svc Services, hub *websocket.Hub, store Pinger, cfg *config.Config, logger *slog.Logger) *Handler {
	return &Handler{
		configs:  svc.Configurations,
		rounds:   svc.Rounds,
		scores:   svc.Scores,
		profiles: svc.Profiles,
		hub:      hub,
		upgrader: websocket.NewUpgrader(cfg.CORS.Scores.AllowOrigin),
		store:    store,
		cfg:      cfg,
		logger:   logger,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(middleware.Throttle(h.cfg.Server.MaxInFlight))

	// set before the resource groups so sub-routers inherit them
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)
	r.Get("/ws/stats", h.GetWebSocketStats)

	r.Route("/configurations", func(r chi.Router) {
		h.protect(r, h.cfg.CORS.Configurations)
		r.Get("/", h.ListConfigurations)
		r.Post("/", h.CreateConfiguration)
		r.Get("/{configID}", h.GetConfiguration)
		r.Put("/{configID}", h.UpdateConfiguration)
		r.Delete("/{configID}", h.DeleteConfiguration)
	})

	r.Route("/rounds", func(r chi.Router) {
		h.protect(r, h.cfg.CORS.Rounds)
		r.Get("/", h.ListRounds)
		r.Post("/", h.CreateRound)

		// one param name for both methods; GET treats it as a round id
		r.Post("/config/{id}", h.CreateRoundForConfig)
		r.Get("/config/{id}", h.GetRoundLegacy)

		// also serves the view listings (solved, baseline, ...)
		r.Get("/{roundID}", h.GetRound)
		r.Delete("/{roundID}", h.DeleteRound)
	})

	r.Route("/scores", func(r chi.Router) {
		h.protect(r, h.cfg.CORS.Scores)
		r.Get("/", h.ListUserScores)
		r.Post("/", h.SubmitScore)
		r.Get("/{roundID}", h.GetRoundLeaderboard)
		r.Post("/{roundID}", h.SubmitScore)
	})

	r.Route("/user", func(r chi.Router) {
		h.protect(r, h.cfg.CORS.Profiles)
		r.Get("/profile", h.GetProfile)
		r.Put("/profile", h.UpdateProfile)
		r.Get("/username/{userID}", h.GetPublicProfile)
	})

	return r
}

// protect installs the per-resource middleware chain. CORS runs first so
// preflight requests never need identity; identity is checked before the body.
func (h *Handler) protect(r chi.Router, policy config.CORSPolicy) {
	r.Use(corsMiddleware(policy))
	r.Use(h.identityMiddleware)
	r.Use(h.jsonContentType)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, errorResponse{Error: message})
}

func (h *Handler) writeMessage(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, messageResponse{Message: message})
}

// handleError maps service errors onto the response status set.
// Anything unrecognised is logged and answered with a generic 500.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		h.writeError(w, http.StatusBadRequest, verr.Message)
	case errors.Is(err, errBodyTooLarge):
		h.writeError(w, http.StatusRequestEntityTooLarge, errBodyTooLarge.Error())
	case errors.Is(err, domain.ErrUnauthenticated):
		h.writeError(w, http.StatusUnauthorized, unauthorizedMessage)
	case errors.Is(err, domain.ErrConfigurationNotFound):
		h.writeError(w, http.StatusNotFound, "Configuration not found")
	case errors.Is(err, domain.ErrRoundNotFound):
		h.writeError(w, http.StatusNotFound, "Round not found")
	case errors.Is(err, domain.ErrNotRoundAuthor):
		h.writeError(w, http.StatusForbidden, "You can only delete your own rounds")
	default:
		h.logger.Error("request failed",
			"op", op,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError.Error())
	}
}

// decodeBody reads the whole body and unmarshals it into dst
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.Server.MaxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errBodyTooLarge
		}
		return domain.Invalid("Invalid JSON in request body")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return domain.Invalid("Request body is required")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return domain.Invalid("Invalid JSON in request body")
	}
	if domain.ContainsNUL(data) {
		return domain.Invalid("Request body must not contain NUL characters")
	}
	return nil
}

// identity returns the caller set by identityMiddleware
func identity(r *http.Request) domain.Identity {
	id, _ := domain.IdentityFrom(r.Context())
	return id
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.upgrader, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.hub.Stats())
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ReadyCheck reports ready only when the storage backend answers
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Warn("readiness check failed", "error", err)
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
