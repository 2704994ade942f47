package handler

import (
	"mime"
	"net/http"
	"strings"

	"github.com/robot-puzzle-api/internal/config"
	"github.com/robot-puzzle-api/internal/domain"
)

const (
	unauthorizedMessage    = "Unauthorized: No user ID found"
	unsupportedTypeMessage = "Content-Type must be application/json"
)

// corsMiddleware adds the resource group's CORS headers and answers preflight
func corsMiddleware(policy config.CORSPolicy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", policy.AllowOrigin)
			w.Header().Set("Access-Control-Allow-Methods", policy.AllowMethods)
			w.Header().Set("Access-Control-Allow-Headers", policy.AllowHeaders)

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// identityMiddleware reads the claims forwarded by the gateway
func (h *Handler) identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := domain.Identity{
			UserID: strings.TrimSpace(r.Header.Get(h.cfg.Identity.UserIDHeader)),
			Email:  strings.TrimSpace(r.Header.Get(h.cfg.Identity.EmailHeader)),
		}
		if id.UserID == "" {
			h.writeError(w, http.StatusUnauthorized, unauthorizedMessage)
			return
		}
		next.ServeHTTP(w, r.WithContext(domain.WithIdentity(r.Context(), id)))
	})
}

// jsonContentType rejects bodies declared as anything but JSON. A missing
// Content-Type is read as JSON.
func (h *Handler) jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if r.ContentLength == 0 || ct == "" {
			next.ServeHTTP(w, r)
			return
		}
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil || mt != "application/json" {
			h.writeError(w, http.StatusUnsupportedMediaType, unsupportedTypeMessage)
			return
		}
		next.ServeHTTP(w, r)
	})
}
