package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/robot-puzzle-api/internal/domain"
)

// ListConfigurations returns the caller's configurations keyed by id
func (h *Handler) ListConfigurations(w http.ResponseWriter, r *http.Request) {
	configs, err := h.configs.List(r.Context(), identity(r).UserID)
	if err != nil {
		h.handleError(w, r, "list configurations", err)
		return
	}
	h.writeJSON(w, http.StatusOK, configs)
}

// CreateConfiguration stores a new configuration under the next free id
func (h *Handler) CreateConfiguration(w http.ResponseWriter, r *http.Request) {
	var in domain.ConfigurationInput
	if err := h.decodeBody(w, r, &in); err != nil {
		h.handleError(w, r, "create configuration", err)
		return
	}

	c, err := h.configs.Create(r.Context(), identity(r).UserID, in)
	if err != nil {
		h.handleError(w, r, "create configuration", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, domain.CreatedConfiguration{ConfigID: c.ConfigID})
}

// GetConfiguration returns one of the caller's configurations
func (h *Handler) GetConfiguration(w http.ResponseWriter, r *http.Request) {
	c, err := h.configs.Get(r.Context(), identity(r).UserID, chi.URLParam(r, "configID"))
	if err != nil {
		h.handleError(w, r, "get configuration", err)
		return
	}
	h.writeJSON(w, http.StatusOK, c)
}

// UpdateConfiguration replaces walls and targets of an existing configuration
func (h *Handler) UpdateConfiguration(w http.ResponseWriter, r *http.Request) {
	var in domain.ConfigurationInput
	if err := h.decodeBody(w, r, &in); err != nil {
		h.handleError(w, r, "update configuration", err)
		return
	}

	if err := h.configs.Update(r.Context(), identity(r).UserID, chi.URLParam(r, "configID"), in); err != nil {
		h.handleError(w, r, "update configuration", err)
		return
	}
	h.writeMessage(w, http.StatusOK, "Configuration updated successfully")
}

// DeleteConfiguration removes one of the caller's configurations
func (h *Handler) DeleteConfiguration(w http.ResponseWriter, r *http.Request) {
	if err := h.configs.Delete(r.Context(), identity(r).UserID, chi.URLParam(r, "configID")); err != nil {
		h.handleError(w, r, "delete configuration", err)
		return
	}
	h.writeMessage(w, http.StatusOK, "Configuration deleted successfully")
}
