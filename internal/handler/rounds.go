package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/robot-puzzle-api/internal/domain"
)

// ListRounds returns every round, newest first
func (h *Handler) ListRounds(w http.ResponseWriter, r *http.Request) {
	rounds, err := h.rounds.List(r.Context())
	if err != nil {
		h.handleError(w, r, "list rounds", err)
		return
	}
	h.writeJSON(w, http.StatusOK, rounds)
}

// CreateRound creates a round; configId may come from the body
func (h *Handler) CreateRound(w http.ResponseWriter, r *http.Request) {
	h.createRound(w, r, "")
}

// CreateRoundForConfig creates a round linked to the configuration in the path
func (h *Handler) CreateRoundForConfig(w http.ResponseWriter, r *http.Request) {
	h.createRound(w, r, chi.URLParam(r, "id"))
}

func (h *Handler) createRound(w http.ResponseWriter, r *http.Request, pathConfigID string) {
	var req domain.RoundRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		h.handleError(w, r, "create round", err)
		return
	}

	round, err := h.rounds.Create(r.Context(), identity(r), req, pathConfigID)
	if err != nil {
		h.handleError(w, r, "create round", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, round)
}

// GetRound returns a round, or a listing when the segment names a view
func (h *Handler) GetRound(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "roundID")
	if view, ok := domain.ParseRoundView(id); ok {
		rounds, err := h.rounds.ListView(r.Context(), view)
		if err != nil {
			h.handleError(w, r, "list rounds", err)
			return
		}
		h.writeJSON(w, http.StatusOK, rounds)
		return
	}
	h.getRound(w, r, id)
}

// GetRoundLegacy serves the old /rounds/config/{roundId} lookup
func (h *Handler) GetRoundLegacy(w http.ResponseWriter, r *http.Request) {
	h.getRound(w, r, chi.URLParam(r, "id"))
}

func (h *Handler) getRound(w http.ResponseWriter, r *http.Request, roundID string) {
	round, err := h.rounds.Get(r.Context(), roundID)
	if err != nil {
		h.handleError(w, r, "get round", err)
		return
	}
	h.writeJSON(w, http.StatusOK, round)
}

// DeleteRound removes a round authored by the caller
func (h *Handler) DeleteRound(w http.ResponseWriter, r *http.Request) {
	if err := h.rounds.Delete(r.Context(), identity(r), chi.URLParam(r, "roundID")); err != nil {
		h.handleError(w, r, "delete round", err)
		return
	}
	h.writeMessage(w, http.StatusOK, "Round deleted successfully")
}
