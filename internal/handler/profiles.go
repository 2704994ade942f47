package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/robot-puzzle-api/internal/domain"
)

// GetProfile returns the caller's profile or a default view
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.profiles.Get(r.Context(), identity(r))
	if err != nil {
		h.handleError(w, r, "get profile", err)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

// UpdateProfile creates or merges the caller's profile
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := h.decodeBody(w, r, &raw); err != nil {
		h.handleError(w, r, "update profile", err)
		return
	}

	upd, err := domain.ParseProfileUpdate(raw)
	if err != nil {
		h.handleError(w, r, "update profile", err)
		return
	}

	p, err := h.profiles.Update(r.Context(), identity(r), upd)
	if err != nil {
		h.handleError(w, r, "update profile", err)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

// GetPublicProfile returns userId, username and email of any user
func (h *Handler) GetPublicProfile(w http.ResponseWriter, r *http.Request) {
	pub, err := h.profiles.PublicProfile(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.handleError(w, r, "get public profile", err)
		return
	}
	h.writeJSON(w, http.StatusOK, pub)
}
