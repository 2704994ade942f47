package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// MaxMoves bounds accepted move counts.
const MaxMoves = 1_000_000

// Score is the personal best of one user on one round.
type Score struct {
	RoundID      string          `json:"roundId"`
	UserID       string          `json:"userId"`
	Moves        int             `json:"moves"`
	MoveSequence json.RawMessage `json:"moveSequence"`
	AttemptCount int             `json:"attemptCount"`
	CompletedAt  time.Time       `json:"completedAt"`
	UserEmail    string          `json:"userEmail,omitempty"`
}

// ScoreSubmission is a validated attempt ready to be compared against the stored best.
type ScoreSubmission struct {
	RoundID      string
	UserID       string
	UserEmail    string
	Moves        int
	MoveSequence json.RawMessage
}

// SubmitResult reports the outcome of a conditional best-score write.
type SubmitResult struct {
	Improved    bool
	Score       Score
	CurrentBest int
}

// ScoreRequest is the body accepted by score submission.
type ScoreRequest struct {
	RoundID      json.RawMessage `json:"roundId"`
	Moves        json.RawMessage `json:"moves"`
	MoveSequence json.RawMessage `json:"moveSequence"`
}

// Submission resolves the round id (path first, then body) and validates the attempt.
func (r ScoreRequest) Submission(pathRoundID string, id Identity) (ScoreSubmission, error) {
	roundID := strings.TrimSpace(pathRoundID)
	if roundID == "" && Present(r.RoundID) {
		var s string
		if err := json.Unmarshal(r.RoundID, &s); err == nil {
			roundID = strings.TrimSpace(s)
		}
	}
	if roundID == "" {
		return ScoreSubmission{}, Invalid("roundId is required for score submission (in path or body)")
	}
	return NewScoreSubmission(roundID, id, r.Moves, r.MoveSequence)
}

// NewScoreSubmission validates moves and moveSequence for a known round.
func NewScoreSubmission(roundID string, id Identity, moves, moveSequence json.RawMessage) (ScoreSubmission, error) {
	if !Present(moves) {
		return ScoreSubmission{}, Invalid("moves field is required")
	}
	var f float64
	if err := json.Unmarshal(moves, &f); err != nil || f < 0 || f != math.Trunc(f) {
		return ScoreSubmission{}, Invalid("moves must be a non-negative integer")
	}
	if f > MaxMoves {
		return ScoreSubmission{}, Invalid(fmt.Sprintf("moves must be at most %d", MaxMoves))
	}
	if !Present(moveSequence) {
		return ScoreSubmission{}, Invalid("moveSequence field is required")
	}
	return ScoreSubmission{
		RoundID:      roundID,
		UserID:       id.UserID,
		UserEmail:    id.Email,
		Moves:        int(f),
		MoveSequence: moveSequence,
	}, nil
}

// ScoreEvent is a score submission delivered over the message bus.
type ScoreEvent struct {
	RoundID      string          `json:"roundId"`
	UserID       string          `json:"userId"`
	UserEmail    string          `json:"userEmail,omitempty"`
	Moves        json.RawMessage `json:"moves"`
	MoveSequence json.RawMessage `json:"moveSequence"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Submission validates the event the same way an HTTP submission is validated.
func (e ScoreEvent) Submission() (ScoreSubmission, error) {
	if e.UserID == "" {
		return ScoreSubmission{}, Invalid("userId is required")
	}
	if e.RoundID == "" {
		return ScoreSubmission{}, Invalid("roundId is required for score submission (in path or body)")
	}
	return NewScoreSubmission(e.RoundID, Identity{UserID: e.UserID, Email: e.UserEmail}, e.Moves, e.MoveSequence)
}

// SortLeaderboard orders scores by ascending moves, earliest completion first on ties.
func SortLeaderboard(scores []Score) {
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Moves != scores[j].Moves {
			return scores[i].Moves < scores[j].Moves
		}
		if !scores[i].CompletedAt.Equal(scores[j].CompletedAt) {
			return scores[i].CompletedAt.Before(scores[j].CompletedAt)
		}
		return scores[i].UserID < scores[j].UserID
	})
}
