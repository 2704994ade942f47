package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/robot-puzzle-api/internal/domain"
)

type scoreAccepted struct {
	Message      string `json:"message"`
	Moves        int    `json:"moves"`
	PersonalBest bool   `json:"personalBest"`
	AttemptCount int    `json:"attemptCount"`
}

type scoreNotImproved struct {
	Message      string `json:"message"`
	CurrentBest  int    `json:"currentBest"`
	Submitted    int    `json:"submitted"`
	PersonalBest bool   `json:"personalBest"`
}

// ListUserScores returns the caller's personal bests
func (h *Handler) ListUserScores(w http.ResponseWriter, r *http.Request) {
	scores, err := h.scores.UserScores(r.Context(), identity(r).UserID)
	if err != nil {
		h.handleError(w, r, "list user scores", err)
		return
	}
	h.writeJSON(w, http.StatusOK, scores)
}

// GetRoundLeaderboard returns every score of a round, fewest moves first
func (h *Handler) GetRoundLeaderboard(w http.ResponseWriter, r *http.Request) {
	scores, err := h.scores.RoundLeaderboard(r.Context(), chi.URLParam(r, "roundID"))
	if err != nil {
		h.handleError(w, r, "get leaderboard", err)
		return
	}
	h.writeJSON(w, http.StatusOK, scores)
}

// SubmitScore records an attempt. The path round id wins over the body.
func (h *Handler) SubmitScore(w http.ResponseWriter, r *http.Request) {
	var req domain.ScoreRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		h.handleError(w, r, "submit score", err)
		return
	}

	sub, err := req.Submission(chi.URLParam(r, "roundID"), identity(r))
	if err != nil {
		h.handleError(w, r, "submit score", err)
		return
	}

	res, err := h.scores.SubmitScore(r.Context(), sub)
	if err != nil {
		h.handleError(w, r, "submit score", err)
		return
	}

	if !res.Improved {
		h.writeJSON(w, http.StatusOK, scoreNotImproved{
			Message:      "Score not improved",
			CurrentBest:  res.CurrentBest,
			Submitted:    sub.Moves,
			PersonalBest: false,
		})
		return
	}
	h.writeJSON(w, http.StatusCreated, scoreAccepted{
		Message:      "Score submitted successfully",
		Moves:        res.Score.Moves,
		PersonalBest: true,
		AttemptCount: res.Score.AttemptCount,
	})
}
